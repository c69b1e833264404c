// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.webquery/config.yaml or ./config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: analysis/response models, temperatures, token limits, embedder
//   - Retrieval: chunking, per-query and total document limits
//   - Storage: PostgreSQL connection (DATABASE_URL override supported)
//   - Crawler: depth, politeness delays, content length cap
//   - API: HTTP listen address
//
// Security: the PostgreSQL password is never logged; it is masked in MarshalJSON.
// Validation: comprehensive range checks in validation.go with clear error messages.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates a model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates a temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates a max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidChunking indicates the chunk size/overlap pair is invalid.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidRetrieval indicates a retrieval limit is out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval parameters")

	// ErrInvalidEmbedderDimension indicates the embedder produces incompatible vector dimensions.
	ErrInvalidEmbedderDimension = errors.New("incompatible embedder dimension")

	// ErrInvalidConcurrency indicates a concurrency bound is out of range.
	ErrInvalidConcurrency = errors.New("invalid concurrency parameters")

	// ErrInvalidPostgres indicates the PostgreSQL connection settings are invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidCrawler indicates the crawler settings are invalid.
	ErrInvalidCrawler = errors.New("invalid crawler configuration")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation via OutputDimensionality (Matryoshka Representation Learning).
	// Our pgvector schema uses 1536 dimensions; see knowledge.VectorDimension.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultModel is the default generation model for both analysis and response.
	DefaultModel = "gemini-2.5-flash"
)

// CrawlerConfig holds site crawler configuration.
type CrawlerConfig struct {
	// MaxDepth limits recursive link following from the start URL.
	MaxDepth int `mapstructure:"max_depth" json:"max_depth"`
	// MaxContentLength caps extracted page text in bytes; longer pages are truncated.
	MaxContentLength int `mapstructure:"max_content_length" json:"max_content_length"`
	// Parallelism is max concurrent requests per domain.
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`
	// DelayMs is delay between requests in milliseconds.
	DelayMs int `mapstructure:"delay_ms" json:"delay_ms"`
	// TimeoutMs is request timeout in milliseconds.
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
}

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Embedding configuration
	EmbedderModel       string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbeddingDimensions int    `mapstructure:"embedding_dimensions" json:"embedding_dimensions"`

	// Query analysis LLM configuration
	AnalysisModel       string  `mapstructure:"analysis_model" json:"analysis_model"`
	AnalysisTemperature float32 `mapstructure:"analysis_temperature" json:"analysis_temperature"`
	AnalysisMaxTokens   int     `mapstructure:"analysis_max_tokens" json:"analysis_max_tokens"`

	// Final response LLM configuration
	ResponseModel       string  `mapstructure:"response_model" json:"response_model"`
	ResponseTemperature float32 `mapstructure:"response_temperature" json:"response_temperature"`
	ResponseMaxTokens   int     `mapstructure:"response_max_tokens" json:"response_max_tokens"`

	// Chunking configuration
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval configuration
	DocumentsPerQuery int `mapstructure:"documents_per_query" json:"documents_per_query"`
	MaxTotalDocuments int `mapstructure:"max_total_documents" json:"max_total_documents"`
	MaxSubQueries     int `mapstructure:"max_sub_queries" json:"max_sub_queries"`

	// Conversation configuration
	HistoryTurns    int `mapstructure:"history_turns" json:"history_turns"`
	MaxTurnsPerChat int `mapstructure:"max_turns_per_chat" json:"max_turns_per_chat"`

	// Provider resilience configuration
	MaxRetries            int     `mapstructure:"max_retries" json:"max_retries"`
	RetryDelaySeconds     float64 `mapstructure:"retry_delay_seconds" json:"retry_delay_seconds"`
	MaxConcurrentRequests int     `mapstructure:"max_concurrent_requests" json:"max_concurrent_requests"`
	RequestsPerSecond     float64 `mapstructure:"requests_per_second" json:"requests_per_second"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Crawler configuration
	Crawler CrawlerConfig `mapstructure:"crawler" json:"crawler"`

	// HTTP API configuration
	APIAddr string `mapstructure:"api_addr" json:"api_addr"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".webquery")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL wins over individual postgres_* settings when set
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Embedding defaults
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedding_dimensions", 1536)

	// LLM defaults
	viper.SetDefault("analysis_model", DefaultModel)
	viper.SetDefault("analysis_temperature", 0.1)
	viper.SetDefault("analysis_max_tokens", 2048)
	viper.SetDefault("response_model", DefaultModel)
	viper.SetDefault("response_temperature", 0.2)
	viper.SetDefault("response_max_tokens", 4096)

	// Chunking defaults
	viper.SetDefault("chunk_size", 1000)
	viper.SetDefault("chunk_overlap", 150)

	// Retrieval defaults
	viper.SetDefault("documents_per_query", 5)
	viper.SetDefault("max_total_documents", 15)
	viper.SetDefault("max_sub_queries", 5)

	// Conversation defaults
	viper.SetDefault("history_turns", 5)
	viper.SetDefault("max_turns_per_chat", 10)

	// Resilience defaults
	viper.SetDefault("max_retries", 3)
	viper.SetDefault("retry_delay_seconds", 2.0)
	viper.SetDefault("max_concurrent_requests", 4)
	viper.SetDefault("requests_per_second", 1.0)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "webquery")
	viper.SetDefault("postgres_password", "webquery_dev_password")
	viper.SetDefault("postgres_db_name", "webquery")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Crawler defaults
	viper.SetDefault("crawler.max_depth", 3)
	viper.SetDefault("crawler.max_content_length", 100000)
	viper.SetDefault("crawler.parallelism", 2)
	viper.SetDefault("crawler.delay_ms", 1000)
	viper.SetDefault("crawler.timeout_ms", 30000)

	// API defaults
	viper.SetDefault("api_addr", "127.0.0.1:8000")
}

// bindEnvVariables binds environment variables explicitly.
//
// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
// Validation checks its presence in cfg.Validate().
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("api_addr", "WEBQUERY_API_ADDR")
	mustBind("analysis_model", "WEBQUERY_ANALYSIS_MODEL")
	mustBind("response_model", "WEBQUERY_RESPONSE_MODEL")
	mustBind("embedder_model", "WEBQUERY_EMBEDDER_MODEL")
	mustBind("max_concurrent_requests", "WEBQUERY_MAX_CONCURRENT_REQUESTS")
	mustBind("postgres_password", "WEBQUERY_POSTGRES_PASSWORD")
}

// parseDatabaseURL overrides the postgres_* fields from DATABASE_URL when set.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidPostgres, u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if port := u.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", port, err)
		}
		c.PostgresPort = p
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if name := filepath.Base(u.Path); name != "." && name != "/" {
		c.PostgresDBName = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// DatabaseURL returns the postgres:// connection URL assembled from configuration.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Short secrets are fully masked; longer ones keep two characters on each end.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
