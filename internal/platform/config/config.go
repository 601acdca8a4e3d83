package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ストアのバックエンド
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Embedding のプロバイダー
const (
	EmbeddingAuto   = "auto"
	EmbeddingOpenAI = "openai"
	EmbeddingLocal  = "local"
)

// インデックス作成ロックのバックエンド
const (
	LockNone     = "none"
	LockRedis    = "redis"
	LockPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// OpenAI設定（Embeddings + 回答生成）
	OpenAI OpenAIConfig

	// Embedding設定
	Embedding EmbeddingConfig

	// ベクトルストア設定
	Store StoreConfig

	// インデックス作成ロック設定
	Lock LockConfig

	// Redis設定（Lock.Backend が redis の場合）
	Redis RedisConfig

	// パイプライン設定
	Pipeline PipelineConfig

	// HTTPサーバー設定
	Server ServerConfig

	// ログ設定
	Log LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	URL      string // 指定された場合は個別の設定より優先する
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	EmbeddingModel     string
	EmbeddingDimension int
	LLMModel           string
	RateLimitRPM       int // Embedding API の1分あたりリクエスト数上限（0は無制限）
}

// EmbeddingConfig は Embedder の選択
type EmbeddingConfig struct {
	Provider       string // "auto", "openai" or "local"
	LocalDimension int
}

// StoreConfig はベクトルストア設定
type StoreConfig struct {
	Backend        string // "postgres", "sqlite" or "memory"
	SQLitePath     string
	CollectionName string
}

// LockConfig はインデックス作成ジョブの排他制御設定
type LockConfig struct {
	Backend string // "none", "redis" or "postgres"
	TTL     time.Duration
}

// RedisConfig はRedis接続設定
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PipelineConfig は検索・コンテキスト構築・回答生成・インデックス作成の設定
type PipelineConfig struct {
	ContextMaxTokens       int
	ContextMaxTickets      int
	DescriptionLimit       int
	GenerationTimeout      time.Duration
	GenerationRetryBackoff time.Duration
	Temperature            float64
	MaxTokens              int
	IndexBatchSize         int
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "ticketrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "ticketrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			RateLimitRPM:       getEnvAsInt("OPENAI_RATE_LIMIT_RPM", 0),
		},
		Embedding: EmbeddingConfig{
			Provider:       getEnv("EMBEDDING_PROVIDER", EmbeddingAuto),
			LocalDimension: getEnvAsInt("LOCAL_EMBEDDING_DIMENSION", 384),
		},
		Store: StoreConfig{
			Backend:        getEnv("STORE_BACKEND", StoreSQLite),
			SQLitePath:     getEnv("SQLITE_PATH", "./data/tickets.db"),
			CollectionName: getEnv("COLLECTION_NAME", "support_tickets"),
		},
		Lock: LockConfig{
			Backend: getEnv("INDEX_LOCK", LockNone),
			TTL:     getEnvAsDuration("INDEX_LOCK_TTL", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Pipeline: PipelineConfig{
			ContextMaxTokens:       getEnvAsInt("CONTEXT_MAX_TOKENS", 3000),
			ContextMaxTickets:      getEnvAsInt("CONTEXT_MAX_TICKETS", 0),
			DescriptionLimit:       getEnvAsInt("CONTEXT_DESCRIPTION_LIMIT", 0),
			GenerationTimeout:      getEnvAsDuration("GENERATION_TIMEOUT", 30*time.Second),
			GenerationRetryBackoff: getEnvAsDuration("GENERATION_RETRY_BACKOFF", 2*time.Second),
			Temperature:            getEnvAsFloat("GENERATION_TEMPERATURE", 0.3),
			MaxTokens:              getEnvAsInt("GENERATION_MAX_TOKENS", 800),
			IndexBatchSize:         getEnvAsInt("INDEX_BATCH_SIZE", 32),
		},
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8000),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if path := getEnv("PIPELINE_CONFIG", ""); path != "" {
		if err := cfg.Pipeline.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は設定値の組み合わせを検証します
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StorePostgres, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: must be postgres, sqlite or memory", c.Store.Backend)
	}

	switch c.Embedding.Provider {
	case EmbeddingAuto, EmbeddingLocal:
	case EmbeddingOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("EMBEDDING_PROVIDER=openai requires OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("invalid EMBEDDING_PROVIDER %q: must be auto, openai or local", c.Embedding.Provider)
	}

	switch c.Lock.Backend {
	case LockNone, LockRedis:
	case LockPostgres:
		if c.Store.Backend != StorePostgres {
			return fmt.Errorf("INDEX_LOCK=postgres requires STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("invalid INDEX_LOCK %q: must be none, redis or postgres", c.Lock.Backend)
	}

	if c.Pipeline.IndexBatchSize < 1 {
		return fmt.Errorf("INDEX_BATCH_SIZE must be positive, got %d", c.Pipeline.IndexBatchSize)
	}
	return nil
}

// UseOpenAIEmbeddings は OpenAI の Embedding を使うかどうかを返します
func (c *Config) UseOpenAIEmbeddings() bool {
	switch c.Embedding.Provider {
	case EmbeddingOpenAI:
		return true
	case EmbeddingLocal:
		return false
	default:
		return c.OpenAI.APIKey != ""
	}
}

// DSN は接続文字列を返します
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: "30s"）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
