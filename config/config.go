package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the docqa services.
type Config struct {
	General GeneralConfig `mapstructure:"general"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Uploads UploadsConfig `mapstructure:"uploads"`
	Qdrant  QdrantConfig  `mapstructure:"qdrant"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Query   QueryConfig   `mapstructure:"query"`
}

// GeneralConfig contains settings shared by every process.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	// JWTSecret enables bearer auth on /api when set.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig groups the backing stores.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains queue connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host is required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port is required")
	}
	return nil
}

/// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// PostgresConfig contains document bookkeeping DB settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN assembles the Postgres connection string.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// UploadsConfig controls the upload directory and retention sweep.
type UploadsConfig struct {
	Dir           string        `mapstructure:"dir"`
	MaxSizeBytes  int64         `mapstructure:"max_size_bytes"`
	RetentionTTL  time.Duration `mapstructure:"retention_ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// QdrantConfig contains vector index settings. One logical collection per
// deployment.
type QdrantConfig struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	Dimension  int           `mapstructure:"dimension"`
	Distance   string        `mapstructure:"distance"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (q QdrantConfig) Validate() error {
	if strings.TrimSpace(q.URL) == "" {
		return fmt.Errorf("qdrant.url is required")
	}
	if q.Dimension <= 0 {
		return fmt.Errorf("qdrant.dimension must be positive")
	}
	return nil
}

// OpenAIConfig contains embedding/generation provider settings.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	CompletionModel string        `mapstructure:"completion_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (o OpenAIConfig) Validate() error {
	if strings.TrimSpace(o.APIKey) == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	return nil
}

// IngestConfig controls the worker pool.
type IngestConfig struct {
	Group        string `mapstructure:"group"`
	Concurrency  int    `mapstructure:"concurrency"`
	MaxAttempts  int    `mapstructure:"max_attempts"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
}

// QueryConfig controls the query engine.
type QueryConfig struct {
	TopK int `mapstructure:"top_k"`
}

// LoadConfig loads config from file (JSON) plus DOCQA_* environment
// overrides. A missing config file is fine; missing required values are not.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", "6379")
	viper.SetDefault("uploads.dir", "uploads")
	viper.SetDefault("uploads.max_size_bytes", int64(10<<20))
	viper.SetDefault("uploads.retention_ttl", "24h")
	viper.SetDefault("uploads.sweep_schedule", "0 * * * *")
	viper.SetDefault("qdrant.url", "http://localhost:6333")
	viper.SetDefault("qdrant.collection", "documents")
	viper.SetDefault("qdrant.dimension", 1536)
	viper.SetDefault("qdrant.distance", "Cosine")
	viper.SetDefault("qdrant.timeout", "15s")
	viper.SetDefault("openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("openai.temperature", 0.1)
	viper.SetDefault("openai.max_tokens", 1024)
	viper.SetDefault("openai.timeout", "60s")
	viper.SetDefault("ingest.group", "ingest-workers")
	viper.SetDefault("ingest.concurrency", 10)
	viper.SetDefault("ingest.max_attempts", 3)
	viper.SetDefault("ingest.chunk_size", 1000)
	viper.SetDefault("ingest.chunk_overlap", 100)
	viper.SetDefault("query.top_k", 5)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DOCQA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Qdrant.Validate(); err != nil {
		panic(err)
	}
	return &config
}
