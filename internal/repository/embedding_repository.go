package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"transcript-rag/internal/model"
)

const upsertBatchSize = 100

// SearchFilter narrows a similarity search on cmetadata. Zero values mean
// no constraint.
type SearchFilter struct {
	ShowNames     []string
	Hosts         []string // every host must appear
	PublishedFrom string   // YYYY-MM-DD, inclusive
	PublishedTo   string   // YYYY-MM-DD, inclusive
	MinScore      float64
}

func (f SearchFilter) IsZero() bool {
	return len(f.ShowNames) == 0 && len(f.Hosts) == 0 && f.PublishedFrom == "" && f.PublishedTo == ""
}

type EmbeddingRepository struct {
	db *gorm.DB
}

func NewEmbeddingRepository(db *gorm.DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// Upsert writes rows keyed by document text. On conflict the vector is
// replaced and the stored metadata wins over incoming keys.
func (r *EmbeddingRepository) Upsert(ctx context.Context, records []model.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	table := model.EmbeddingRecord{}.TableName()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "document_hash"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"embedding":  gorm.Expr("excluded.embedding"),
			"cmetadata":  gorm.Expr("excluded.cmetadata || " + table + ".cmetadata"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).CreateInBatches(&records, upsertBatchSize).Error
	if err != nil {
		return goerr.Wrap(err, "upsert embeddings failed", goerr.V("count", len(records)))
	}
	return nil
}

// ListMissingMetadata pages through rows lacking any backfill key.
func (r *EmbeddingRepository) ListMissingMetadata(ctx context.Context, after uuid.UUID, limit int) ([]model.EmbeddingRecord, error) {
	missing := make([]string, 0, len(model.BackfillKeys))
	for _, k := range model.BackfillKeys {
		missing = append(missing, fmt.Sprintf("cmetadata -> '%s' IS NULL", k))
	}

	var records []model.EmbeddingRecord
	err := r.db.WithContext(ctx).
		Omit("embedding").
		Where("id > ?", after).
		Where("(" + strings.Join(missing, " OR ") + ")").
		Order("id").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, goerr.Wrap(err, "list embeddings missing metadata failed")
	}
	return records, nil
}

// MergeMetadata adds keys to a row; keys the row already has are kept.
func (r *EmbeddingRepository) MergeMetadata(ctx context.Context, id uuid.UUID, add map[string]interface{}) error {
	payload, err := json.Marshal(add)
	if err != nil {
		return goerr.Wrap(err, "marshal metadata failed")
	}
	err = r.db.WithContext(ctx).
		Model(&model.EmbeddingRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"cmetadata":  gorm.Expr("CAST(? AS jsonb) || cmetadata", string(payload)),
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return goerr.Wrap(err, "merge embedding metadata failed", goerr.V("id", id.String()))
	}
	return nil
}

// Search returns the k nearest rows by cosine distance. Score is
// 1 - distance.
func (r *EmbeddingRepository) Search(ctx context.Context, vec []float32, k int, filter SearchFilter) ([]model.ScoredRecord, error) {
	v := pgvector.NewVector(vec)
	q := r.db.WithContext(ctx).
		Table(model.EmbeddingRecord{}.TableName()).
		Select("*, 1 - (embedding <=> ?) AS score", v)

	if len(filter.ShowNames) > 0 {
		q = q.Where("cmetadata ->> 'show_name' IN ?", filter.ShowNames)
	}
	for _, host := range filter.Hosts {
		q = q.Where(`cmetadata ->> 'hosts' ILIKE ? ESCAPE '\'`, "%"+EscapeLike(host)+"%")
	}
	if filter.PublishedFrom != "" {
		q = q.Where("cmetadata ->> 'published_at' >= ?", filter.PublishedFrom)
	}
	if filter.PublishedTo != "" {
		q = q.Where("cmetadata ->> 'published_at' <= ?", filter.PublishedTo)
	}
	if filter.MinScore > 0 {
		q = q.Where("1 - (embedding <=> ?) >= ?", v, filter.MinScore)
	}

	var rows []model.ScoredRecord
	err := q.Clauses(clause.OrderBy{
		Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{v}},
	}).Limit(k).Scan(&rows).Error
	if err != nil {
		return nil, goerr.Wrap(err, "similarity search failed", goerr.V("k", k))
	}
	return rows, nil
}

// LoadedKeys returns the chunk identities already present in the store.
func (r *EmbeddingRepository) LoadedKeys(ctx context.Context) (map[model.ChunkKey]struct{}, error) {
	var rows []struct {
		VideoID   string
		StartTime float64
	}
	err := r.db.WithContext(ctx).
		Table(model.EmbeddingRecord{}.TableName()).
		Select("cmetadata ->> 'video_id' AS video_id, (cmetadata ->> 'start_time')::float8 AS start_time").
		Where("cmetadata ->> 'video_id' IS NOT NULL AND cmetadata ->> 'start_time' IS NOT NULL").
		Scan(&rows).Error
	if err != nil {
		return nil, goerr.Wrap(err, "list loaded chunk keys failed")
	}
	keys := make(map[model.ChunkKey]struct{}, len(rows))
	for _, row := range rows {
		keys[model.ChunkKey{VideoID: row.VideoID, StartTime: row.StartTime}] = struct{}{}
	}
	return keys, nil
}

func (r *EmbeddingRepository) DistinctShowNames(ctx context.Context) ([]string, error) {
	const query = `
SELECT DISTINCT cmetadata ->> 'show_name' AS show_name
FROM transcript_embeddings
WHERE COALESCE(cmetadata ->> 'show_name', '') <> ''
ORDER BY show_name`

	var names []string
	if err := r.db.WithContext(ctx).Raw(query).Scan(&names).Error; err != nil {
		return nil, goerr.Wrap(err, "list show names failed")
	}
	return names, nil
}

// FrequentHosts returns hosts that appear in at least minVideos distinct videos.
func (r *EmbeddingRepository) FrequentHosts(ctx context.Context, minVideos int) ([]string, error) {
	const query = `
SELECT host FROM (
    SELECT DISTINCT TRIM(h.host) AS host, e.cmetadata ->> 'video_id' AS video_id
    FROM transcript_embeddings e
    CROSS JOIN LATERAL jsonb_array_elements_text(
        CASE WHEN jsonb_typeof(e.cmetadata -> 'hosts') = 'array'
             THEN e.cmetadata -> 'hosts' ELSE '[]'::jsonb END
    ) AS h(host)
) t
WHERE host <> ''
GROUP BY host
HAVING COUNT(DISTINCT video_id) >= ?
ORDER BY host`

	var hosts []string
	if err := r.db.WithContext(ctx).Raw(query, minVideos).Scan(&hosts).Error; err != nil {
		return nil, goerr.Wrap(err, "list frequent hosts failed", goerr.V("min_videos", minVideos))
	}
	return hosts, nil
}

func (r *EmbeddingRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.EmbeddingRecord{}).Count(&count).Error; err != nil {
		return 0, goerr.Wrap(err, "count embeddings failed")
	}
	return count, nil
}

// EscapeLike escapes LIKE wildcards so host names match literally.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
