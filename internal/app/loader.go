package app

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"transcript-rag/internal/embedding"
	"transcript-rag/internal/logging"
	"transcript-rag/internal/model"
)

const defaultLoadBatchSize = 256

type CleanedChunkSource interface {
	ListCleaned(ctx context.Context, afterID uint, limit int) ([]model.TranscriptChunk, error)
	FindByText(ctx context.Context, text string) ([]model.TranscriptChunk, error)
}

type EmbeddingWriter interface {
	Upsert(ctx context.Context, records []model.EmbeddingRecord) error
	ListMissingMetadata(ctx context.Context, after uuid.UUID, limit int) ([]model.EmbeddingRecord, error)
	MergeMetadata(ctx context.Context, id uuid.UUID, add map[string]interface{}) error
	LoadedKeys(ctx context.Context) (map[model.ChunkKey]struct{}, error)
}

type LoadOptions struct {
	BatchSize int
	Limit     int
}

type LoadReport struct {
	Scanned    int `json:"scanned"`
	Loaded     int `json:"loaded"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
}

type BackfillReport struct {
	Scanned   int `json:"scanned"`
	Updated   int `json:"updated"`
	Unmatched int `json:"unmatched"`
	Ambiguous int `json:"ambiguous"`
}

type LoaderService struct {
	chunks    CleanedChunkSource
	videos    VideoLookup
	store     EmbeddingWriter
	embedder  embedding.Embedder
	batchSize int
}

func NewLoaderService(
	chunks CleanedChunkSource,
	videos VideoLookup,
	store EmbeddingWriter,
	embedder embedding.Embedder,
	batchSize int,
) *LoaderService {
	if batchSize <= 0 {
		batchSize = defaultLoadBatchSize
	}
	return &LoaderService{
		chunks:    chunks,
		videos:    videos,
		store:     store,
		embedder:  embedder,
		batchSize: batchSize,
	}
}

// Load embeds every cleaned chunk not yet in the vector store. A rerun after
// an interruption picks up where the last committed batch ended.
func (s *LoaderService) Load(ctx context.Context, opts LoadOptions) (*LoadReport, error) {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = s.batchSize
	}
	logger := logging.From(ctx)

	loaded, err := s.store.LoadedKeys(ctx)
	if err != nil {
		return nil, upstream("load", "loaded keys", err)
	}
	logger.Info("loading started", "already_loaded", len(loaded), "model", s.embedder.Model())

	report := &LoadReport{}
	var afterID uint
	for opts.Limit <= 0 || report.Loaded < opts.Limit {
		page, err := s.chunks.ListCleaned(ctx, afterID, batch)
		if err != nil {
			return report, upstream("load", chunkAfter(afterID), err)
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		pending := make([]model.TranscriptChunk, 0, len(page))
		for _, c := range page {
			report.Scanned++
			if _, ok := loaded[c.Key()]; ok || strings.TrimSpace(c.ChunkText) == "" {
				report.Skipped++
				continue
			}
			if opts.Limit > 0 && report.Loaded+len(pending) >= opts.Limit {
				break
			}
			pending = append(pending, c)
		}
		if len(pending) == 0 {
			continue
		}

		videos, err := s.videos.GetByIDs(ctx, videoIDsOf(pending))
		if err != nil {
			return report, upstream("load", pending[0].VideoID, err)
		}
		written, dupes, err := s.loadBatch(ctx, pending, videos)
		if err != nil {
			return report, err
		}
		for _, c := range pending {
			loaded[c.Key()] = struct{}{}
		}
		report.Loaded += written
		report.Duplicates += dupes
		logger.Info("loading batch done", "last_id", afterID, "loaded", report.Loaded)
	}

	logger.Info("loading finished",
		"scanned", report.Scanned, "loaded", report.Loaded, "skipped", report.Skipped, "duplicates", report.Duplicates)
	return report, nil
}

// LoadChunk embeds and upserts a single cleaned chunk with its video's
// metadata attached.
func (s *LoaderService) LoadChunk(ctx context.Context, chunk model.TranscriptChunk, video model.Video) error {
	videos := map[string]model.Video{}
	if video.VideoID != "" {
		videos[video.VideoID] = video
	}
	_, _, err := s.loadBatch(ctx, []model.TranscriptChunk{chunk}, videos)
	return err
}

func (s *LoaderService) loadBatch(ctx context.Context, chunks []model.TranscriptChunk, videos map[string]model.Video) (written, dupes int, err error) {
	// A single INSERT cannot touch the same conflict key twice.
	seen := make(map[string]struct{}, len(chunks))
	unique := chunks[:0:0]
	for _, c := range chunks {
		hash := model.HashDocument(c.ChunkText)
		if _, ok := seen[hash]; ok {
			dupes++
			logging.From(ctx).Warn("duplicate chunk text in batch", "chunk", chunkRef(c))
			continue
		}
		seen[hash] = struct{}{}
		unique = append(unique, c)
	}

	texts := make([]string, len(unique))
	for i, c := range unique {
		texts[i] = c.ChunkText
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, dupes, upstream("embed", chunkRef(unique[0]), err)
	}
	if len(vecs) != len(unique) {
		return 0, dupes, upstream("embed", chunkRef(unique[0]), embedding.ErrDimensionMismatch)
	}

	records := make([]model.EmbeddingRecord, len(unique))
	for i, c := range unique {
		video, ok := videos[c.VideoID]
		meta := model.IdentityMetadata(c, video.Title)
		if ok {
			meta, _ = model.MergeMissing(meta, model.VideoMetadata(video))
		}
		records[i] = model.NewEmbeddingRecord(c.ChunkText, vecs[i], meta)
	}
	if err := s.store.Upsert(ctx, records); err != nil {
		return 0, dupes, upstream("load", chunkRef(unique[0]), err)
	}
	return len(records), dupes, nil
}

// Backfill adds show_name, hosts and published_at to rows missing any of
// them. Rows are matched to source chunks by exact document text. Keys a row
// already has are never changed, so repeated runs converge.
func (s *LoaderService) Backfill(ctx context.Context) (*BackfillReport, error) {
	logger := logging.From(ctx)
	report := &BackfillReport{}

	after := uuid.Nil
	for {
		rows, err := s.store.ListMissingMetadata(ctx, after, s.batchSize)
		if err != nil {
			return report, upstream("backfill", after.String(), err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			after = row.ID
			report.Scanned++
			if err := s.backfillRow(ctx, row, report); err != nil {
				return report, err
			}
		}
	}

	logger.Info("backfill finished",
		"scanned", report.Scanned, "updated", report.Updated,
		"unmatched", report.Unmatched, "ambiguous", report.Ambiguous)
	return report, nil
}

func (s *LoaderService) backfillRow(ctx context.Context, row model.EmbeddingRecord, report *BackfillReport) error {
	logger := logging.From(ctx)
	id := row.ID.String()

	candidates, err := s.chunks.FindByText(ctx, row.Document)
	if err != nil {
		return upstream("backfill", id, err)
	}
	ids := videoIDsOf(candidates)
	if len(ids) == 0 {
		report.Unmatched++
		logger.Warn("no source chunk for embedding row", "id", id)
		return nil
	}
	sort.Strings(ids)

	pick := ids[0]
	own := model.MetaString(row.CMetadata, model.MetaVideoID)
	if own != "" && slices.Contains(ids, own) {
		pick = own
	} else if len(ids) > 1 {
		report.Ambiguous++
		logger.Warn("document text appears in several videos",
			"id", id, "videos", ids, "chosen", pick)
	}

	videos, err := s.videos.GetByIDs(ctx, []string{pick})
	if err != nil {
		return upstream("backfill", id, err)
	}
	video, ok := videos[pick]
	if !ok {
		report.Unmatched++
		logger.Warn("video missing from catalog", "id", id, "video_id", pick)
		return nil
	}

	add := missingKeys(row.CMetadata, model.VideoMetadata(video))
	if len(add) == 0 {
		return nil
	}
	if err := s.store.MergeMetadata(ctx, row.ID, add); err != nil {
		return upstream("backfill", id, err)
	}
	report.Updated++
	return nil
}

func missingKeys(have, want map[string]interface{}) map[string]interface{} {
	merged, changed := model.MergeMissing(have, want)
	if !changed {
		return nil
	}
	add := make(map[string]interface{})
	for k, v := range merged {
		if _, ok := have[k]; !ok {
			add[k] = v
		}
	}
	return add
}

func chunkAfter(id uint) string {
	return "after chunk " + strconv.FormatUint(uint64(id), 10)
}
