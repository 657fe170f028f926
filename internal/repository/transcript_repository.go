package repository

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gorm.io/gorm"

	"transcript-rag/internal/model"
)

var ErrChunkAlreadyCleaned = errors.New("chunk already cleaned")

// TranscriptRepository reads the transcript store and applies the cleaning
// pass. It works against either the Postgres or the MySQL source.
type TranscriptRepository struct {
	db *gorm.DB
}

func NewTranscriptRepository(db *gorm.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

func (r *TranscriptRepository) ListUncleaned(ctx context.Context, afterID uint, limit int) ([]model.TranscriptChunk, error) {
	var chunks []model.TranscriptChunk
	err := r.db.WithContext(ctx).
		Where("cleaned_at IS NULL AND id > ?", afterID).
		Order("id").
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, goerr.Wrap(err, "list uncleaned chunks failed")
	}
	return chunks, nil
}

func (r *TranscriptRepository) ListCleaned(ctx context.Context, afterID uint, limit int) ([]model.TranscriptChunk, error) {
	var chunks []model.TranscriptChunk
	err := r.db.WithContext(ctx).
		Where("cleaned_at IS NOT NULL AND id > ?", afterID).
		Order("id").
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, goerr.Wrap(err, "list cleaned chunks failed")
	}
	return chunks, nil
}

// Neighbors returns the chunks immediately before and after startTime in the
// same video; either may be nil.
func (r *TranscriptRepository) Neighbors(ctx context.Context, videoID string, startTime float64) (prev, next *model.TranscriptChunk, err error) {
	var before []model.TranscriptChunk
	if err := r.db.WithContext(ctx).
		Where("video_id = ? AND start_time < ?", videoID, startTime).
		Order("start_time DESC").
		Limit(1).
		Find(&before).Error; err != nil {
		return nil, nil, goerr.Wrap(err, "find previous chunk failed", goerr.V("video_id", videoID))
	}
	var after []model.TranscriptChunk
	if err := r.db.WithContext(ctx).
		Where("video_id = ? AND start_time > ?", videoID, startTime).
		Order("start_time ASC").
		Limit(1).
		Find(&after).Error; err != nil {
		return nil, nil, goerr.Wrap(err, "find next chunk failed", goerr.V("video_id", videoID))
	}
	if len(before) > 0 {
		prev = &before[0]
	}
	if len(after) > 0 {
		next = &after[0]
	}
	return prev, next, nil
}

// FindByText returns every chunk whose text is byte-identical to text.
// The comparison is repeated in Go because MySQL collations fold case.
func (r *TranscriptRepository) FindByText(ctx context.Context, text string) ([]model.TranscriptChunk, error) {
	var candidates []model.TranscriptChunk
	if err := r.db.WithContext(ctx).
		Where("chunk_text = ?", text).
		Order("video_id, start_time").
		Find(&candidates).Error; err != nil {
		return nil, goerr.Wrap(err, "find chunks by text failed")
	}
	chunks := candidates[:0]
	for _, c := range candidates {
		if c.ChunkText == text {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// SaveCleaned replaces the chunk text in one statement. A chunk that was
// cleaned concurrently is left alone.
func (r *TranscriptRepository) SaveCleaned(ctx context.Context, id uint, text string, cleanedAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.TranscriptChunk{}).
			Where("id = ? AND cleaned_at IS NULL", id).
			Updates(map[string]interface{}{
				"chunk_text": text,
				"cleaned_at": cleanedAt,
			})
		if res.Error != nil {
			return goerr.Wrap(res.Error, "save cleaned chunk failed", goerr.V("chunk_id", id))
		}
		if res.RowsAffected != 1 {
			return goerr.Wrap(ErrChunkAlreadyCleaned, "save cleaned chunk skipped", goerr.V("chunk_id", id))
		}
		return nil
	})
}

func (r *TranscriptRepository) CountByVideo(ctx context.Context, videoID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.TranscriptChunk{}).
		Where("video_id = ?", videoID).
		Count(&count).Error; err != nil {
		return 0, goerr.Wrap(err, "count chunks failed", goerr.V("video_id", videoID))
	}
	return count, nil
}
