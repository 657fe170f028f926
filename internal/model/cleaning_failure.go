package model

import "time"

// CleaningFailure records a chunk whose cleaned output was rejected. A later
// run picks the chunk up again; a successful clean removes the record.
type CleaningFailure struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RunID       string    `gorm:"size:36;index" json:"run_id"`
	ChunkID     uint      `gorm:"not null" json:"chunk_id"`
	VideoID     string    `gorm:"size:32;not null;uniqueIndex:idx_failure_chunk" json:"video_id"`
	StartTime   float64   `gorm:"not null;uniqueIndex:idx_failure_chunk" json:"start_time"`
	Reason      string    `gorm:"type:text" json:"reason"`
	RawResponse string    `gorm:"type:text" json:"raw_response,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (CleaningFailure) TableName() string {
	return "cleaning_failures"
}
