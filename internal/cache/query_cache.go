package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	redisv9 "github.com/redis/go-redis/v9"

	"transcript-rag/internal/app"
	"transcript-rag/internal/model"
)

const (
	catalogKey    = "transcript:metadata:catalog"
	answerPrefix  = "transcript:answer:"
	flushScanSize = 200
)

// QueryCache keeps the show/host catalog and finished answers in redis.
// Answers are keyed by the normalized question, K and the embedding model.
type QueryCache struct {
	client     *redisv9.Client
	model      string
	catalogTTL time.Duration
	answerTTL  time.Duration
}

func NewQueryCache(client *redisv9.Client, embeddingModel string, catalogTTL, answerTTL time.Duration) *QueryCache {
	if catalogTTL <= 0 {
		catalogTTL = time.Hour
	}
	if answerTTL <= 0 {
		answerTTL = 10 * time.Minute
	}
	return &QueryCache{
		client:     client,
		model:      embeddingModel,
		catalogTTL: catalogTTL,
		answerTTL:  answerTTL,
	}
}

func (c *QueryCache) GetCatalog(ctx context.Context) (*app.Catalog, bool, error) {
	var catalog app.Catalog
	ok, err := c.get(ctx, catalogKey, &catalog)
	if !ok {
		return nil, false, err
	}
	return &catalog, true, nil
}

func (c *QueryCache) SetCatalog(ctx context.Context, catalog app.Catalog) error {
	return c.set(ctx, catalogKey, catalog, c.catalogTTL)
}

func (c *QueryCache) GetAnswer(ctx context.Context, question string, topK int) (*model.QueryResult, bool, error) {
	var result model.QueryResult
	ok, err := c.get(ctx, c.answerKey(question, topK), &result)
	if !ok {
		return nil, false, err
	}
	return &result, true, nil
}

func (c *QueryCache) SetAnswer(ctx context.Context, question string, topK int, result model.QueryResult) error {
	return c.set(ctx, c.answerKey(question, topK), result, c.answerTTL)
}

// Flush drops the catalog and every cached answer. Called after the vector
// store changes.
func (c *QueryCache) Flush(ctx context.Context) error {
	if err := c.client.Del(ctx, catalogKey).Err(); err != nil {
		return goerr.Wrap(err, "redis delete catalog failed")
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, answerPrefix+"*", flushScanSize).Result()
		if err != nil {
			return goerr.Wrap(err, "redis scan answers failed")
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return goerr.Wrap(err, "redis delete answers failed", goerr.V("count", len(keys)))
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *QueryCache) get(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redisv9.Nil {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "redis get failed", goerr.V("key", key))
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, goerr.Wrap(err, "unmarshal cached value failed", goerr.V("key", key))
	}
	return true, nil
}

func (c *QueryCache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return goerr.Wrap(err, "marshal cache value failed", goerr.V("key", key))
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return goerr.Wrap(err, "redis set failed", goerr.V("key", key))
	}
	return nil
}

func (c *QueryCache) answerKey(question string, topK int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(c.model + "|" + strconv.Itoa(topK) + "|" + normalized))
	return answerPrefix + hex.EncodeToString(sum[:])
}
