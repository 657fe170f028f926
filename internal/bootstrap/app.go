package bootstrap

import (
	"context"
	"io"
	"time"

	"github.com/m-mizutani/goerr/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"transcript-rag/internal/ai"
	"transcript-rag/internal/app"
	"transcript-rag/internal/cache"
	"transcript-rag/internal/config"
	"transcript-rag/internal/embedding"
	"transcript-rag/internal/logging"
	"transcript-rag/internal/model"
	mysqlClient "transcript-rag/internal/platform/mysql"
	postgresClient "transcript-rag/internal/platform/postgres"
	rabbitmqClient "transcript-rag/internal/platform/rabbitmq"
	redisClient "transcript-rag/internal/platform/redis"
	"transcript-rag/internal/repository"
	"transcript-rag/internal/worker"
)

type App struct {
	Config        *config.Config
	Postgres      *gorm.DB
	Source        *gorm.DB // transcript store; same handle as Postgres unless source.driver is mysql
	Redis         *redis.Client
	MQConn        *amqp.Connection
	Cache         *cache.QueryCache
	Embedder      embedding.Embedder
	FailureWorker *worker.FailurePersistWorker

	Failures *repository.FailureRepository
	Cleaner  *app.CleanerService
	Loader   *app.LoaderService
	Agent    *app.QueryAgent
	Metadata *app.MetadataService

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, goerr.Wrap(err, "load config failed")
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig connects every configured dependency and wires the services.
// On error, whatever was opened is closed again.
func NewWithConfig(ctx context.Context, cfg *config.Config) (a *App, err error) {
	logging.SetDefault(logging.New(cfg.App.LogLevel, nil))
	logger := logging.Default()

	a = &App{Config: cfg, StartedAt: time.Now()}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if a.Postgres, err = postgresClient.New(ctx, cfg.PostgresDSN()); err != nil {
		return a, err
	}
	if err = postgresClient.Migrate(ctx, a.Postgres, cfg.Embedding.Dimension); err != nil {
		return a, err
	}

	a.Source = a.Postgres
	if cfg.Source.Driver == "mysql" {
		if a.Source, err = mysqlClient.New(ctx, cfg.MySQLDSN()); err != nil {
			return a, err
		}
	}
	if err = requireCleanedColumn(a.Source.WithContext(ctx).Migrator()); err != nil {
		return a, err
	}

	if cfg.Redis.Enabled {
		if a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			return a, err
		}
		a.Cache = cache.NewQueryCache(a.Redis, cfg.Embedding.Model,
			time.Duration(cfg.Redis.MetadataTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.AnswerTTLSeconds)*time.Second)
	}

	if a.Embedder, err = embedding.New(cfg.Embedding); err != nil {
		return a, err
	}

	llm := ai.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, time.Duration(cfg.LLM.TimeoutSeconds)*time.Second)
	chunkRepo := repository.NewTranscriptRepository(a.Source)
	videoRepo := repository.NewVideoRepository(a.Source)
	embeddingRepo := repository.NewEmbeddingRepository(a.Postgres)
	a.Failures = repository.NewFailureRepository(a.Postgres)

	var sink app.FailureSink = a.Failures
	if cfg.RabbitMQ.Enabled {
		if a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL); err != nil {
			return a, err
		}
		sink = rabbitmqClient.NewFailurePublisher(a.MQConn, cfg.RabbitMQ.FailureQueue)
		a.FailureWorker = worker.NewFailurePersistWorker(a.MQConn, a.Failures, cfg.RabbitMQ.FailureQueue)
		if err = a.FailureWorker.Start(logging.With(context.Background(), logger)); err != nil {
			return a, goerr.Wrap(err, "start failure worker failed")
		}
	}

	a.Cleaner = app.NewCleanerService(chunkRepo, videoRepo, llm, sink, a.Failures,
		ai.ChatConfig{Model: cfg.LLM.CleanModel, Temperature: float32(cfg.LLM.CleanTemperature)},
		cfg.Pipeline.Workers, cfg.LLM.RequestsPerSecond)
	a.Loader = app.NewLoaderService(chunkRepo, videoRepo, embeddingRepo, a.Embedder, cfg.Pipeline.LoadBatchSize)

	var catalogCache app.CatalogCache
	var answerCache app.AnswerCache
	if a.Cache != nil {
		catalogCache, answerCache = a.Cache, a.Cache
	}
	a.Metadata = app.NewMetadataService(embeddingRepo, catalogCache, cfg.Query.MinHostVideos)

	var parser *app.QueryParser
	if cfg.Query.SelfQuery {
		parser = app.NewQueryParser(llm,
			ai.ChatConfig{Model: cfg.LLM.ParseModel, Temperature: float32(cfg.LLM.ParseTemperature)},
			cfg.Query.HostAliases)
	}
	a.Agent = app.NewQueryAgent(embeddingRepo, a.Embedder, llm,
		ai.ChatConfig{Model: cfg.LLM.ChatModel, Temperature: float32(cfg.LLM.ChatTemperature)},
		parser, a.Metadata, answerCache,
		app.QueryOptions{
			TopK:            cfg.Query.TopK,
			MinScore:        cfg.Query.MinScore,
			TimestampBuffer: cfg.Query.TimestampBufferSeconds,
		})

	logger.Debug("app ready",
		"source", cfg.Source.Driver, "redis", cfg.Redis.Enabled, "rabbitmq", cfg.RabbitMQ.Enabled,
		"embedding", a.Embedder.Model(), "self_query", cfg.Query.SelfQuery)
	return a, nil
}

// InvalidateCache drops cached catalog and answers after the store changed.
func (a *App) InvalidateCache(ctx context.Context) {
	if a.Cache == nil {
		return
	}
	if err := a.Cache.Flush(ctx); err != nil {
		logging.From(ctx).Warn("flush query cache failed", "error", err)
	}
}

type columnChecker interface {
	HasColumn(dst interface{}, field string) bool
}

// requireCleanedColumn checks that the transcript table carries cleaned_at.
// The table belongs to the extractor, so it is never altered from here.
func requireCleanedColumn(m columnChecker) error {
	if m.HasColumn(&model.TranscriptChunk{}, "CleanedAt") {
		return nil
	}
	return goerr.New("transcript table has no cleaned_at column; add it with "+
		"\"ALTER TABLE video_transcript_chunks ADD COLUMN cleaned_at timestamp NULL\"",
		goerr.V("table", model.TranscriptChunk{}.TableName()))
}

func (a *App) Close() error {
	var closeErr error
	if a.FailureWorker != nil {
		a.FailureWorker.Close()
	}
	if closer, ok := a.Embedder.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	dbs := []*gorm.DB{a.Postgres}
	if a.Source != nil && a.Source != a.Postgres {
		dbs = append(dbs, a.Source)
	}
	for _, db := range dbs {
		if db == nil {
			continue
		}
		sqlDB, err := db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
