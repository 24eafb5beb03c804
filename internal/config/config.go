package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Qdrant       QdrantConfig       `mapstructure:"qdrant"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Embedding    EmbeddingSettings  `mapstructure:"embedding"`
	Store        StoreConfig        `mapstructure:"store"`
	Search       SearchConfig       `mapstructure:"search"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Ingest       IngestConfig       `mapstructure:"ingest"`
	Sources      []SourceConfig     `mapstructure:"sources"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Port          int        `mapstructure:"port"`
	Mode          string     `mapstructure:"mode"`
	MaxUploadSize int64      `mapstructure:"max_upload_size"`
	CORS          CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the content store backend.
// Driver is one of sqlite, postgres, memory or qdrant. Users, conversations
// and chat rooms always live in the SQL database (sqlite when Driver is
// memory or qdrant).
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// StorageConfig configures where uploaded images and shared frames are kept.
// Type "s3" works with any S3-compatible endpoint (AWS, MinIO, R2);
// "local" writes under LocalDir.
type StorageConfig struct {
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	LocalDir  string `mapstructure:"local_dir"`
}

// EmbeddingSettings holds both model backends plus inference hardening knobs.
type EmbeddingSettings struct {
	Text               EmbeddingConfig `mapstructure:"text"`
	Joint              EmbeddingConfig `mapstructure:"joint"`
	Timeout            time.Duration   `mapstructure:"timeout"`
	SerializeInference bool            `mapstructure:"serialize_inference"`
	RateLimitRPS       float64         `mapstructure:"rate_limit_rps"`
	RateLimitBurst     int             `mapstructure:"rate_limit_burst"`
}

type StoreConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	DefaultTopK   int     `mapstructure:"default_top_k"`
	MaxTopK       int     `mapstructure:"max_top_k"`
	TextThreshold float64 `mapstructure:"text_threshold"`
}

type ConversationConfig struct {
	ScoreThreshold float64 `mapstructure:"score_threshold"`
	MaxTopK        int     `mapstructure:"max_top_k"`
}

type IngestConfig struct {
	Workers   int `mapstructure:"workers"`
	BatchSize int `mapstructure:"batch_size"`
}

// SourceConfig names a bulk-ingest source the admin API may run.
// Type is "manifest" (a JSONL file) or "directory".
type SourceConfig struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	FileOnly   bool   `mapstructure:"file_only"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets come from well-known environment variables
	v.BindEnv("database.dsn", "DATABASE_DSN")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")
	v.BindEnv("embedding.text.api_key", "JINA_API_KEY")
	v.BindEnv("embedding.joint.api_key", "JINA_API_KEY")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_upload_size", 20<<20)
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/mmrag.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "content")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.bucket", "mmrag")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.local_dir", "./data/uploads")

	v.SetDefault("embedding.text.name", "text")
	v.SetDefault("embedding.text.provider", ProviderJina)
	v.SetDefault("embedding.text.model", "jina-embeddings-v3")
	v.SetDefault("embedding.text.dimensions", 1024)
	v.SetDefault("embedding.joint.name", "joint")
	v.SetDefault("embedding.joint.provider", ProviderJina)
	v.SetDefault("embedding.joint.model", "jina-clip-v2")
	v.SetDefault("embedding.joint.dimensions", 1024)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.serialize_inference", false)
	v.SetDefault("embedding.rate_limit_rps", 0)
	v.SetDefault("embedding.rate_limit_burst", 1)

	v.SetDefault("store.timeout", 10*time.Second)

	v.SetDefault("search.default_top_k", 10)
	v.SetDefault("search.max_top_k", 1000)
	v.SetDefault("search.text_threshold", 0.4)

	v.SetDefault("conversation.score_threshold", 0.4)
	v.SetDefault("conversation.max_top_k", 100)

	v.SetDefault("ingest.workers", 5)
	v.SetDefault("ingest.batch_size", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
}

// Validate checks cross-field constraints after unmarshalling.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory", "qdrant":
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database: dsn is required for postgres")
	}
	switch c.Storage.Type {
	case "s3", "local":
	default:
		return fmt.Errorf("storage: unknown type %q", c.Storage.Type)
	}
	if err := c.Embedding.Text.Validate(); err != nil {
		return err
	}
	if err := c.Embedding.Joint.Validate(); err != nil {
		return err
	}
	if c.Embedding.Joint.Provider == ProviderFastEmbed {
		return fmt.Errorf("embedding %q: provider %q has no image model", c.Embedding.Joint.Name, ProviderFastEmbed)
	}
	if c.Search.DefaultTopK <= 0 || c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("search: invalid top_k bounds default=%d max=%d", c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest: workers must be positive")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, src := range c.Sources {
		if src.Name == "" || src.Path == "" {
			return fmt.Errorf("sources: name and path are required")
		}
		if src.Type != "manifest" && src.Type != "directory" {
			return fmt.Errorf("source %q: unknown type %q", src.Name, src.Type)
		}
		if seen[src.Name] {
			return fmt.Errorf("source %q: duplicate name", src.Name)
		}
		seen[src.Name] = true
	}
	return nil
}
