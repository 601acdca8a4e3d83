package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jinford/ticket-rag/internal/core/ask"
	"github.com/jinford/ticket-rag/internal/core/domain"
	"github.com/jinford/ticket-rag/internal/core/ingestion"
	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/infra/hashembed"
	"github.com/jinford/ticket-rag/internal/infra/memory"
	"github.com/jinford/ticket-rag/internal/infra/openai"
	"github.com/jinford/ticket-rag/internal/infra/postgres"
	"github.com/jinford/ticket-rag/internal/infra/redis"
	"github.com/jinford/ticket-rag/internal/infra/sqlite"
	"github.com/jinford/ticket-rag/internal/infra/tokenizer"
	"github.com/jinford/ticket-rag/internal/platform/config"
	"github.com/jinford/ticket-rag/internal/platform/database"
)

// ServiceContainer はアプリケーションの依存関係を保持する
type ServiceContainer struct {
	Config    *config.Config
	Index     domain.VectorIndex
	Embedder  domain.Embedder
	Generator domain.Generator
	Indexer   *ingestion.Indexer
	Retriever *search.Retriever
	Builder   *ask.ContextBuilder
	Pipeline  *ask.Pipeline

	lock     ingestion.IndexLock
	logger   *slog.Logger
	database *database.Database
	redis    *goredis.Client
}

type containerOptions struct {
	logger       *slog.Logger
	embedder     domain.Embedder
	generator    domain.Generator
	index        domain.VectorIndex
	tokenCounter ask.TokenCounter
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder domain.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerGenerator はカスタム Generator を注入する
func WithContainerGenerator(generator domain.Generator) ContainerOption {
	return func(opts *containerOptions) {
		opts.generator = generator
	}
}

// WithContainerIndex は構築済みの VectorIndex を注入する。設定のストア選択より優先される
func WithContainerIndex(index domain.VectorIndex) ContainerOption {
	return func(opts *containerOptions) {
		opts.index = index
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter ask.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// NewContainer は設定からコンテナを生成する。
// 途中で失敗した場合は確保済みのリソースを解放してからエラーを返す
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (_ *ServiceContainer, err error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	c := &ServiceContainer{Config: cfg, logger: options.logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	// Embedder
	c.Embedder = options.embedder
	if c.Embedder == nil {
		if c.Embedder, err = newEmbedder(cfg); err != nil {
			return nil, err
		}
	}
	c.logger.Info("Embedder を初期化しました", "model", c.Embedder.ModelName(), "dimension", c.Embedder.Dimension())

	// VectorIndex
	c.Index = options.index
	if c.Index == nil {
		if c.Index, err = c.openIndex(ctx, cfg); err != nil {
			return nil, err
		}
	}

	// インデックス作成ロック
	if c.lock, err = c.newLock(ctx, cfg); err != nil {
		return nil, err
	}

	// Generator
	c.Generator = options.generator
	if c.Generator == nil {
		c.Generator = c.newGenerator(cfg)
	}

	c.Indexer = c.NewIndexer(cfg.Pipeline.IndexBatchSize)
	c.Retriever = search.NewRetriever(c.Index, c.Embedder, cfg.Store.CollectionName)

	counter := options.tokenCounter
	if counter == nil {
		counter = tokenizer.New(c.logger)
	}
	c.Builder = ask.NewContextBuilder(counter, ask.ContextConfig{
		MaxTokens:        cfg.Pipeline.ContextMaxTokens,
		MaxTickets:       cfg.Pipeline.ContextMaxTickets,
		DescriptionLimit: cfg.Pipeline.DescriptionLimit,
	})
	c.Pipeline = ask.NewPipeline(
		c.Retriever,
		c.Builder,
		c.Generator,
		ask.WithPipelineLogger(c.logger),
		ask.WithGenerationTimeout(cfg.Pipeline.GenerationTimeout),
	)

	return c, nil
}

// NewIndexer は指定したバッチサイズで Indexer を作成する
func (c *ServiceContainer) NewIndexer(batchSize int) *ingestion.Indexer {
	return ingestion.NewIndexer(
		c.Index,
		c.Embedder,
		ingestion.WithIndexLogger(c.logger),
		ingestion.WithIndexLock(c.lock, c.Config.Store.CollectionName),
		ingestion.WithIndexPipelineConfig(&ingestion.PipelineConfig{BatchSize: batchSize}),
	)
}

func newEmbedder(cfg *config.Config) (domain.Embedder, error) {
	if !cfg.UseOpenAIEmbeddings() {
		embedder, err := hashembed.New(cfg.Embedding.LocalDimension)
		if err != nil {
			return nil, fmt.Errorf("ローカル Embedder の初期化に失敗しました: %w", err)
		}
		return embedder, nil
	}

	opts := []openai.EmbedderOption{
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
		openai.WithEmbeddingRateLimit(cfg.OpenAI.RateLimitRPM),
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithEmbeddingBaseURL(cfg.OpenAI.BaseURL))
	}
	embedder, err := openai.NewEmbedder(cfg.OpenAI.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("Embedder の初期化に失敗しました: %w", err)
	}
	return embedder, nil
}

func (c *ServiceContainer) openIndex(ctx context.Context, cfg *config.Config) (domain.VectorIndex, error) {
	dim := c.Embedder.Dimension()
	model := c.Embedder.ModelName()

	switch cfg.Store.Backend {
	case config.StoreMemory:
		index, err := memory.NewVectorIndex(dim)
		if err != nil {
			return nil, err
		}
		return index, nil
	case config.StoreSQLite:
		index, err := sqlite.Open(ctx, cfg.Store.SQLitePath, dim, model)
		if err != nil {
			return nil, fmt.Errorf("SQLite インデックスのオープンに失敗しました: %w", err)
		}
		c.logger.Info("SQLite インデックスを開きました", "path", index.Path())
		return index, nil
	case config.StorePostgres:
		db, err := database.Connect(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("%w: データベース初期化に失敗しました: %v", domain.ErrIndexUnavailable, err)
		}
		c.database = db
		index, err := postgres.NewVectorIndex(ctx, db.Pool, dim, model)
		if err != nil {
			return nil, err
		}
		c.logger.Info("pgvector インデックスを初期化しました", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)
		return index, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

func (c *ServiceContainer) newLock(ctx context.Context, cfg *config.Config) (ingestion.IndexLock, error) {
	switch cfg.Lock.Backend {
	case config.LockRedis:
		c.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lock := redis.NewLock(c.redis, cfg.Lock.TTL)
		if err := lock.Ping(ctx); err != nil {
			return nil, fmt.Errorf("Redis への接続に失敗しました: %w", err)
		}
		return lock, nil
	case config.LockPostgres:
		if c.database == nil {
			return nil, errors.New("INDEX_LOCK=postgres requires a postgres store connection")
		}
		return postgres.NewAdvisoryLock(c.database.Pool), nil
	default:
		return ingestion.NoopLock{}, nil
	}
}

func (c *ServiceContainer) newGenerator(cfg *config.Config) domain.Generator {
	opts := []openai.GeneratorOption{
		openai.WithModel(cfg.OpenAI.LLMModel),
		openai.WithTimeout(cfg.Pipeline.GenerationTimeout),
		openai.WithRetryBackoff(cfg.Pipeline.GenerationRetryBackoff),
		openai.WithTemperature(cfg.Pipeline.Temperature),
		openai.WithMaxTokens(cfg.Pipeline.MaxTokens),
		openai.WithGeneratorLogger(c.logger),
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}

	generator, err := openai.NewGenerator(cfg.OpenAI.APIKey, opts...)
	if err != nil {
		// index や stats は API キーなしで動作させるため、回答生成時にだけ失敗させる
		c.logger.Warn("回答生成は利用できません", "error", err)
		return unavailableGenerator{err: err}
	}
	return generator
}

// unavailableGenerator は Generator を構築できなかった場合に ErrGenerationFailed を返す
type unavailableGenerator struct {
	err error
}

func (g unavailableGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, g.err)
}

// Ping はインデックスへの疎通を確認する
func (c *ServiceContainer) Ping(ctx context.Context) error {
	if p, ok := c.Index.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	_, err := c.Index.Count(ctx)
	return err
}

// Close は内部リソースを解放する
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	if c.Index != nil {
		if err := c.Index.Close(); err != nil {
			c.Logger().Warn("インデックスのクローズに失敗しました", "error", err)
		}
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
