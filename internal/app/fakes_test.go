package app

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"transcript-rag/internal/ai"
	"transcript-rag/internal/model"
	"transcript-rag/internal/repository"
)

type fakeLLM struct {
	mu    sync.Mutex
	reply func(messages []ai.ChatMessage) (string, error)
	calls [][]ai.ChatMessage
}

func (f *fakeLLM) Complete(_ context.Context, _ ai.ChatConfig, messages []ai.ChatMessage) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.mu.Unlock()
	return f.reply(messages)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeChunks struct {
	mu     sync.Mutex
	chunks []model.TranscriptChunk
	err    error
}

func (f *fakeChunks) list(afterID uint, limit int, cleaned bool) []model.TranscriptChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.TranscriptChunk
	for _, c := range f.chunks {
		if c.ID <= afterID || (c.CleanedAt != nil) != cleaned {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (f *fakeChunks) ListUncleaned(_ context.Context, afterID uint, limit int) ([]model.TranscriptChunk, error) {
	return f.list(afterID, limit, false), f.err
}

func (f *fakeChunks) ListCleaned(_ context.Context, afterID uint, limit int) ([]model.TranscriptChunk, error) {
	return f.list(afterID, limit, true), f.err
}

func (f *fakeChunks) Neighbors(_ context.Context, videoID string, startTime float64) (prev, next *model.TranscriptChunk, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.chunks {
		c := f.chunks[i]
		if c.VideoID != videoID {
			continue
		}
		if c.StartTime < startTime && (prev == nil || c.StartTime > prev.StartTime) {
			prev = &c
		}
		if c.StartTime > startTime && (next == nil || c.StartTime < next.StartTime) {
			next = &c
		}
	}
	return prev, next, nil
}

func (f *fakeChunks) SaveCleaned(_ context.Context, id uint, text string, cleanedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.chunks {
		if f.chunks[i].ID != id {
			continue
		}
		if f.chunks[i].CleanedAt != nil {
			return repository.ErrChunkAlreadyCleaned
		}
		f.chunks[i].ChunkText = text
		f.chunks[i].CleanedAt = &cleanedAt
		return nil
	}
	return repository.ErrChunkAlreadyCleaned
}

func (f *fakeChunks) FindByText(_ context.Context, text string) ([]model.TranscriptChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.TranscriptChunk
	for _, c := range f.chunks {
		if c.ChunkText == text {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunks) byID(id uint) model.TranscriptChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chunks {
		if c.ID == id {
			return c
		}
	}
	return model.TranscriptChunk{}
}

func cleanedChunk(id uint, videoID string, start float64, text string) model.TranscriptChunk {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return model.TranscriptChunk{ID: id, VideoID: videoID, StartTime: start, ChunkText: text, CleanedAt: &at}
}

type fakeVideos map[string]model.Video

func (f fakeVideos) GetByIDs(_ context.Context, ids []string) (map[string]model.Video, error) {
	out := make(map[string]model.Video, len(ids))
	for _, id := range ids {
		if v, ok := f[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

type fakeSink struct {
	mu       sync.Mutex
	failures []model.CleaningFailure
}

func (f *fakeSink) Record(_ context.Context, failure model.CleaningFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure)
	return nil
}

type fakeClearer struct {
	mu      sync.Mutex
	cleared []model.ChunkKey
}

func (f *fakeClearer) DeleteByChunk(_ context.Context, key model.ChunkKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, key)
	return nil
}

// fakeEmbedder returns fixed vectors per text and a shared fallback.
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = f.fallback
		}
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string  { return "fake-minilm" }
func (f *fakeEmbedder) Dimension() int { return 3 }

// fakeStore keeps rows in memory and mirrors the SQL merge rules: on
// conflict and on metadata merge, keys already stored win.
type fakeStore struct {
	mu      sync.Mutex
	rows    []model.EmbeddingRecord
	merges  int
	filters []repository.SearchFilter
}

func (f *fakeStore) Upsert(_ context.Context, records []model.EmbeddingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		found := false
		for i := range f.rows {
			if f.rows[i].DocumentHash == rec.DocumentHash {
				merged, _ := model.MergeMissing(f.rows[i].CMetadata, rec.CMetadata)
				f.rows[i].CMetadata = merged
				f.rows[i].Embedding = rec.Embedding
				found = true
			}
		}
		if !found {
			f.rows = append(f.rows, rec)
		}
	}
	return nil
}

func (f *fakeStore) ListMissingMetadata(_ context.Context, after uuid.UUID, limit int) ([]model.EmbeddingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sorted := append([]model.EmbeddingRecord(nil), f.rows...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i].ID[:], sorted[j].ID[:]) < 0 })

	var out []model.EmbeddingRecord
	for _, r := range sorted {
		if bytes.Compare(r.ID[:], after[:]) <= 0 || model.HasAllKeys(r.CMetadata, model.BackfillKeys) {
			continue
		}
		r.CMetadata = copyMeta(r.CMetadata)
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) MergeMetadata(_ context.Context, id uuid.UUID, add map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].ID == id {
			merged, _ := model.MergeMissing(f.rows[i].CMetadata, add)
			f.rows[i].CMetadata = merged
			f.merges++
			return nil
		}
	}
	return errors.New("row not found")
}

func (f *fakeStore) LoadedKeys(_ context.Context) (map[model.ChunkKey]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := map[model.ChunkKey]struct{}{}
	for _, r := range f.rows {
		start, ok := model.MetaFloat(r.CMetadata, model.MetaStartTime)
		if id := model.MetaString(r.CMetadata, model.MetaVideoID); id != "" && ok {
			keys[model.ChunkKey{VideoID: id, StartTime: start}] = struct{}{}
		}
	}
	return keys, nil
}

func (f *fakeStore) Search(_ context.Context, vec []float32, k int, filter repository.SearchFilter) ([]model.ScoredRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)

	var hits []model.ScoredRecord
	for _, r := range f.rows {
		score := cosine(vec, r.Embedding.Slice())
		if score < filter.MinScore {
			continue
		}
		hits = append(hits, model.ScoredRecord{EmbeddingRecord: r, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeStore) row(document string) model.EmbeddingRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.Document == document {
			r.CMetadata = copyMeta(r.CMetadata)
			return r
		}
	}
	return model.EmbeddingRecord{}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func copyMeta(m datatypes.JSONMap) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
