// Package config loads and validates deltasearch configuration from YAML files
// with environment-variable overrides. It provides typed structs for the index
// core and for the optional collaborators wired around it (Postgres corpus
// source, Kafka ingest feed, Redis query cache, metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Index    IndexConfig    `yaml:"index"`
	Search   SearchConfig   `yaml:"search"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Static posting sources.
const (
	StaticSourceMemory = "memory"
	StaticSourceBarrel = "barrel"
)

// Query scorers.
const (
	ScorerFrequency = "frequency"
	ScorerBM25      = "bm25"
)

// IndexConfig controls where the static snapshot and the delta files live,
// the segment batch sizes and the compaction policy.
type IndexConfig struct {
	DataDir          string        `yaml:"dataDir"`
	DeltaDir         string        `yaml:"deltaDir"`
	BarrelBatchSize  int           `yaml:"barrelBatchSize"`
	ForwardBatchSize int           `yaml:"forwardBatchSize"`
	HandleCacheSize  int           `yaml:"handleCacheSize"`
	StaticSource     string        `yaml:"staticSource"`
	CompactInterval  time.Duration `yaml:"compactInterval"`
	CompactThreshold int           `yaml:"compactThreshold"`
}

// SearchConfig controls result limits and the default scorer.
type SearchConfig struct {
	DefaultLimit int    `yaml:"defaultLimit"`
	MaxResults   int    `yaml:"maxResults"`
	Scorer       string `yaml:"scorer"`
}

// CorpusConfig selects the bulk corpus used when no snapshot exists. Path is
// a newline-delimited text file; Query, when set, reads the corpus from
// PostgreSQL instead.
type CorpusConfig struct {
	Path  string `yaml:"path"`
	Query string `yaml:"query"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings for the ingest feed.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumerGroup"`
	IngestTopic   string   `yaml:"ingestTopic"`
}

// RedisConfig holds Redis connection and query-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values fall back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config suitable for local development.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			DataDir:          "./data/index",
			DeltaDir:         "./data",
			BarrelBatchSize:  1000,
			ForwardBatchSize: 1000,
			HandleCacheSize:  5,
			StaticSource:     StaticSourceMemory,
			CompactInterval:  10 * time.Minute,
			CompactThreshold: 1000,
		},
		Search: SearchConfig{
			DefaultLimit: 5,
			MaxResults:   100,
			Scorer:       ScorerFrequency,
		},
		Corpus: CorpusConfig{
			Path: "./data/corpus.txt",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "deltasearch",
			User:            "deltasearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "deltasearch-indexd",
			IngestTopic:   "document-ingest",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the index cannot run with.
func (c *Config) Validate() error {
	if c.Index.DataDir == "" {
		return fmt.Errorf("index.dataDir must be set")
	}
	if c.Index.DeltaDir == "" {
		return fmt.Errorf("index.deltaDir must be set")
	}
	if c.Index.BarrelBatchSize <= 0 {
		return fmt.Errorf("index.barrelBatchSize must be positive, got %d", c.Index.BarrelBatchSize)
	}
	if c.Index.ForwardBatchSize <= 0 {
		return fmt.Errorf("index.forwardBatchSize must be positive, got %d", c.Index.ForwardBatchSize)
	}
	if c.Index.HandleCacheSize < 1 {
		return fmt.Errorf("index.handleCacheSize must be at least 1, got %d", c.Index.HandleCacheSize)
	}
	switch c.Index.StaticSource {
	case StaticSourceMemory, StaticSourceBarrel:
	default:
		return fmt.Errorf("index.staticSource must be %q or %q, got %q",
			StaticSourceMemory, StaticSourceBarrel, c.Index.StaticSource)
	}
	switch c.Search.Scorer {
	case ScorerFrequency, ScorerBM25:
	default:
		return fmt.Errorf("search.scorer must be %q or %q, got %q",
			ScorerFrequency, ScorerBM25, c.Search.Scorer)
	}
	return nil
}

// applyEnvOverrides reads DS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DS_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("DS_INDEX_DELTA_DIR"); v != "" {
		cfg.Index.DeltaDir = v
	}
	if v := os.Getenv("DS_INDEX_STATIC_SOURCE"); v != "" {
		cfg.Index.StaticSource = v
	}
	if v := os.Getenv("DS_INDEX_HANDLE_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.HandleCacheSize = n
		}
	}
	if v := os.Getenv("DS_SEARCH_SCORER"); v != "" {
		cfg.Search.Scorer = v
	}
	if v := os.Getenv("DS_CORPUS_PATH"); v != "" {
		cfg.Corpus.Path = v
	}
	if v := os.Getenv("DS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("DS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
