package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"gorm.io/gorm"

	"transcript-rag/internal/model"
)

type VideoRepository struct {
	db *gorm.DB
}

func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// GetByIDs returns the videos keyed by id; unknown ids are simply absent.
func (r *VideoRepository) GetByIDs(ctx context.Context, ids []string) (map[string]model.Video, error) {
	result := make(map[string]model.Video, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var videos []model.Video
	if err := r.db.WithContext(ctx).Where("video_id IN ?", ids).Find(&videos).Error; err != nil {
		return nil, goerr.Wrap(err, "get videos by ids failed", goerr.V("count", len(ids)))
	}
	for _, v := range videos {
		result[v.VideoID] = v
	}
	return result, nil
}
