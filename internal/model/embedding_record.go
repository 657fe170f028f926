package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// EmbeddingRecord is one row of the vector store. Rows are keyed by the
// document text; DocumentHash carries that key in a fixed width.
type EmbeddingRecord struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentHash string            `gorm:"size:64;not null;uniqueIndex" json:"-"`
	Document     string            `gorm:"type:text;not null" json:"document"`
	Embedding    pgvector.Vector   `gorm:"type:vector" json:"-"`
	CMetadata    datatypes.JSONMap `gorm:"column:cmetadata;type:jsonb;not null;default:'{}'" json:"cmetadata"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (EmbeddingRecord) TableName() string {
	return "transcript_embeddings"
}

func NewEmbeddingRecord(document string, vec []float32, meta map[string]interface{}) EmbeddingRecord {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return EmbeddingRecord{
		ID:           uuid.New(),
		DocumentHash: HashDocument(document),
		Document:     document,
		Embedding:    pgvector.NewVector(vec),
		CMetadata:    datatypes.JSONMap(meta),
	}
}

func HashDocument(document string) string {
	sum := sha256.Sum256([]byte(document))
	return hex.EncodeToString(sum[:])
}

// ScoredRecord is a search hit; Score is cosine similarity.
type ScoredRecord struct {
	EmbeddingRecord
	Score float64 `json:"score"`
}

func (r ScoredRecord) VideoID() string {
	return MetaString(r.CMetadata, MetaVideoID)
}

func (r ScoredRecord) StartTime() float64 {
	f, _ := MetaFloat(r.CMetadata, MetaStartTime)
	return f
}
