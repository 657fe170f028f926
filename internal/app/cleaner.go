package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"transcript-rag/internal/ai"
	"transcript-rag/internal/logging"
	"transcript-rag/internal/model"
	"transcript-rag/internal/repository"
)

const (
	defaultCleanBatchSize = 100
	// Cleaned output shorter than this share of the raw text means the
	// model dropped content.
	minCleanedRatio = 0.5
	// Output may grow by at most maxCleanedGrowth times the raw length plus
	// maxCleanedSlack characters; anything longer was made up.
	maxCleanedGrowth = 2
	maxCleanedSlack  = 20
)

type ChatCompleter interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
}

type CleanChunkStore interface {
	ListUncleaned(ctx context.Context, afterID uint, limit int) ([]model.TranscriptChunk, error)
	Neighbors(ctx context.Context, videoID string, startTime float64) (prev, next *model.TranscriptChunk, err error)
	SaveCleaned(ctx context.Context, id uint, text string, cleanedAt time.Time) error
}

type VideoLookup interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]model.Video, error)
}

// FailureSink receives rejected chunks. It is either the failure queue
// publisher or the failure table itself.
type FailureSink interface {
	Record(ctx context.Context, failure model.CleaningFailure) error
}

type FailureClearer interface {
	DeleteByChunk(ctx context.Context, key model.ChunkKey) error
}

type CleanOptions struct {
	Limit     int // 0 = every uncleaned chunk
	Workers   int
	BatchSize int
}

type CleanReport struct {
	RunID     string `json:"run_id"`
	Processed int64  `json:"processed"`
	Cleaned   int64  `json:"cleaned"`
	Failed    int64  `json:"failed"`
	Skipped   int64  `json:"skipped"`
}

type CleanerService struct {
	chunks   CleanChunkStore
	videos   VideoLookup
	llm      ChatCompleter
	sink     FailureSink
	clearer  FailureClearer
	limiter  *rate.Limiter
	cleanLLM ai.ChatConfig
	workers  int
	now      func() time.Time
}

func NewCleanerService(
	chunks CleanChunkStore,
	videos VideoLookup,
	llm ChatCompleter,
	sink FailureSink,
	clearer FailureClearer,
	cleanLLM ai.ChatConfig,
	workers int,
	requestsPerSecond float64,
) *CleanerService {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if workers <= 0 {
		workers = 1
	}
	return &CleanerService{
		chunks:   chunks,
		videos:   videos,
		llm:      llm,
		sink:     sink,
		clearer:  clearer,
		limiter:  rate.NewLimiter(limit, workers),
		cleanLLM: cleanLLM,
		workers:  workers,
		now:      time.Now,
	}
}

var cleanUserTemplate = template.Must(template.New("clean").Parse(cleanUserPrompt))

// Run cleans uncleaned chunks page by page. Rejected chunks go to the
// failure sink and stay uncleaned; an unreachable model or database stops
// the run with an *UpstreamError and leaves committed chunks in place.
func (s *CleanerService) Run(ctx context.Context, opts CleanOptions) (*CleanReport, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = s.workers
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultCleanBatchSize
	}

	report := &CleanReport{RunID: uuid.NewString()}
	logger := logging.From(ctx).With("run_id", report.RunID)
	logger.Info("cleaning started", "workers", workers, "limit", opts.Limit)

	var (
		processed, cleaned, failed, skipped atomic.Int64
		afterID                             uint
	)
	defer func() {
		report.Processed = processed.Load()
		report.Cleaned = cleaned.Load()
		report.Failed = failed.Load()
		report.Skipped = skipped.Load()
	}()

	for {
		size := batch
		if opts.Limit > 0 {
			remaining := opts.Limit - int(processed.Load())
			if remaining <= 0 {
				break
			}
			if remaining < size {
				size = remaining
			}
		}

		page, err := s.chunks.ListUncleaned(ctx, afterID, size)
		if err != nil {
			return report, upstream("clean", chunkAfter(afterID), err)
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		videos, err := s.videos.GetByIDs(ctx, videoIDsOf(page))
		if err != nil {
			return report, upstream("clean", page[0].VideoID, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, chunk := range page {
			g.Go(func() error {
				err := s.CleanChunk(gctx, chunk, videos[chunk.VideoID], report.RunID)
				processed.Add(1)

				var verr *ValidationError
				switch {
				case err == nil:
					cleaned.Add(1)
					return nil
				case errors.As(err, &verr):
					failed.Add(1)
					logger.Warn("cleaned chunk rejected",
						"video_id", verr.VideoID, "start_time", verr.StartTime, "reason", verr.Reason)
					return nil
				case errors.Is(err, ErrNothingToClean), errors.Is(err, repository.ErrChunkAlreadyCleaned):
					skipped.Add(1)
					return nil
				default:
					return err
				}
			})
		}
		if err := g.Wait(); err != nil {
			logger.Error("cleaning aborted", "error", err)
			return report, err
		}
		logger.Info("cleaning page done", "last_id", afterID, "processed", processed.Load())
	}

	logger.Info("cleaning finished",
		"processed", processed.Load(), "cleaned", cleaned.Load(), "failed", failed.Load())
	return report, nil
}

// CleanChunk cleans one chunk. A response that does not fit the output
// schema yields a *ValidationError after the chunk is recorded as failed;
// nothing is written to the chunk in that case. A chunk with no speech left
// after normalization is stored empty without asking the model and
// ErrNothingToClean is returned.
func (s *CleanerService) CleanChunk(ctx context.Context, chunk model.TranscriptChunk, video model.Video, runID string) error {
	id := chunkRef(chunk)
	raw := NormalizeRaw(chunk.ChunkText)
	if raw == "" {
		if err := s.save(ctx, chunk, ""); err != nil {
			return err
		}
		return ErrNothingToClean
	}

	prev, next, err := s.chunks.Neighbors(ctx, chunk.VideoID, chunk.StartTime)
	if err != nil {
		return upstream("clean", id, err)
	}

	prompt, err := buildCleanPrompt(chunk, video, raw, prev, next)
	if err != nil {
		return goerr.Wrap(err, "render clean prompt failed", goerr.V("chunk", id))
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return upstream("clean", id, err)
	}
	resp, err := s.llm.Complete(ctx, s.cleanLLM, []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: cleanSystemPrompt},
		{Role: ai.RoleUser, Content: prompt},
	})
	if err != nil {
		return upstream("clean", id, err)
	}

	result, reason := ParseCleanedChunk(resp)
	if reason == "" {
		reason = checkCleanedLength(result.CleanedText, raw)
	}
	if reason != "" {
		verr := &ValidationError{VideoID: chunk.VideoID, StartTime: chunk.StartTime, Reason: reason, Raw: resp}
		if err := s.sink.Record(ctx, model.CleaningFailure{
			RunID:       runID,
			ChunkID:     chunk.ID,
			VideoID:     chunk.VideoID,
			StartTime:   chunk.StartTime,
			Reason:      reason,
			RawResponse: resp,
		}); err != nil {
			return upstream("failure", id, err)
		}
		return verr
	}

	if err := s.save(ctx, chunk, result.CleanedText); err != nil {
		return err
	}
	if result.ContainsCrosstalk {
		logging.From(ctx).Debug("chunk contains crosstalk", "chunk", id)
	}
	return nil
}

// save writes the cleaned text and drops any failure left by an earlier run.
func (s *CleanerService) save(ctx context.Context, chunk model.TranscriptChunk, text string) error {
	id := chunkRef(chunk)
	if err := s.chunks.SaveCleaned(ctx, chunk.ID, text, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrChunkAlreadyCleaned) {
			return err
		}
		return upstream("clean", id, err)
	}
	if s.clearer != nil {
		if err := s.clearer.DeleteByChunk(ctx, chunk.Key()); err != nil {
			logging.From(ctx).Warn("clear old failure failed", "chunk", id, "error", err)
		}
	}
	return nil
}

func checkCleanedLength(cleaned, raw string) string {
	got, want := utf8.RuneCountInString(cleaned), utf8.RuneCountInString(raw)
	switch {
	case got < int(minCleanedRatio*float64(want)):
		return fmt.Sprintf("cleaned text too short: %d of %d characters", got, want)
	case got > maxCleanedGrowth*want+maxCleanedSlack:
		return fmt.Sprintf("cleaned text too long: %d of %d characters", got, want)
	}
	return ""
}

func buildCleanPrompt(chunk model.TranscriptChunk, video model.Video, raw string, prev, next *model.TranscriptChunk) (string, error) {
	meta := []string{"Video Title: " + orNone(video.Title)}
	if video.ShowName != "" {
		meta = append(meta, "Show Name: "+video.ShowName)
	}
	if len(video.Hosts) > 0 {
		meta = append(meta, "Hosts: "+strings.Join(video.Hosts, ", "))
	}
	if video.Description != "" {
		meta = append(meta, "Video Description: "+video.Description)
	}

	var b strings.Builder
	err := cleanUserTemplate.Execute(&b, map[string]string{
		"Metadata": strings.Join(meta, "\n"),
		"Previous": neighbourText(prev),
		"Next":     neighbourText(next),
		"Raw":      raw,
	})
	return b.String(), err
}

func neighbourText(c *model.TranscriptChunk) string {
	if c == nil {
		return "(none)"
	}
	return NormalizeRaw(c.ChunkText)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(unknown)"
	}
	return s
}

func chunkRef(c model.TranscriptChunk) string {
	return c.VideoID + "@" + formatSeconds(c.StartTime)
}

func videoIDsOf(chunks []model.TranscriptChunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.VideoID]; ok {
			continue
		}
		seen[c.VideoID] = struct{}{}
		ids = append(ids, c.VideoID)
	}
	return ids
}
