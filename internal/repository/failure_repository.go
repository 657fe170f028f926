package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"transcript-rag/internal/model"
)

type FailureRepository struct {
	db *gorm.DB
}

func NewFailureRepository(db *gorm.DB) *FailureRepository {
	return &FailureRepository{db: db}
}

// Record keeps at most one failure per chunk, the latest one.
func (r *FailureRepository) Record(ctx context.Context, failure model.CleaningFailure) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}, {Name: "start_time"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_id", "chunk_id", "reason", "raw_response", "updated_at"}),
	}).Create(&failure).Error
	if err != nil {
		return goerr.Wrap(err, "record cleaning failure failed",
			goerr.V("video_id", failure.VideoID),
			goerr.V("start_time", failure.StartTime))
	}
	return nil
}

func (r *FailureRepository) List(ctx context.Context, limit int) ([]model.CleaningFailure, error) {
	var failures []model.CleaningFailure
	q := r.db.WithContext(ctx).Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&failures).Error; err != nil {
		return nil, goerr.Wrap(err, "list cleaning failures failed")
	}
	return failures, nil
}

func (r *FailureRepository) DeleteByChunk(ctx context.Context, key model.ChunkKey) error {
	err := r.db.WithContext(ctx).
		Where("video_id = ? AND start_time = ?", key.VideoID, key.StartTime).
		Delete(&model.CleaningFailure{}).Error
	if err != nil {
		return goerr.Wrap(err, "delete cleaning failure failed", goerr.V("video_id", key.VideoID))
	}
	return nil
}
