package model

import "time"

// TranscriptChunk is one timed segment of a video transcript. ChunkText holds
// the raw text until the cleaning pass replaces it and stamps CleanedAt.
type TranscriptChunk struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	VideoID    string     `gorm:"size:32;not null;index" json:"video_id"`
	ChunkIndex int        `gorm:"not null;default:0" json:"chunk_index"`
	StartTime  float64    `gorm:"not null" json:"start_time"`
	ChunkText  string     `gorm:"type:text;not null" json:"chunk_text"`
	CleanedAt  *time.Time `gorm:"index" json:"cleaned_at,omitempty"`
}

func (TranscriptChunk) TableName() string {
	return "video_transcript_chunks"
}

// Key identifies a chunk across tables and runs.
func (c TranscriptChunk) Key() ChunkKey {
	return ChunkKey{VideoID: c.VideoID, StartTime: c.StartTime}
}

// ChunkKey is the (video_id, start_time) identity used for resumability.
type ChunkKey struct {
	VideoID   string
	StartTime float64
}
