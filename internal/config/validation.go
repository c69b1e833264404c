package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	minTemperature = 0.0
	maxTemperature = 2.0
	minMaxTokens   = 1
	maxMaxTokens   = 1_000_000
)

// Validate performs fail-fast validation of the entire configuration.
// Any violation is a startup error, never a silent fallback.
func (c *Config) Validate() error {
	if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY or GOOGLE_API_KEY", ErrMissingAPIKey)
	}

	if err := validateModelName(c.AnalysisModel, "analysis_model"); err != nil {
		return err
	}
	if err := validateModelName(c.ResponseModel, "response_model"); err != nil {
		return err
	}
	if err := validateModelName(c.EmbedderModel, "embedder_model"); err != nil {
		return err
	}

	if err := validateTemperature(c.AnalysisTemperature, "analysis_temperature"); err != nil {
		return err
	}
	if err := validateTemperature(c.ResponseTemperature, "response_temperature"); err != nil {
		return err
	}

	if err := validateMaxTokens(c.AnalysisMaxTokens, "analysis_max_tokens"); err != nil {
		return err
	}
	if err := validateMaxTokens(c.ResponseMaxTokens, "response_max_tokens"); err != nil {
		return err
	}

	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("%w: embedding_dimensions must be positive, got %d",
			ErrInvalidEmbedderDimension, c.EmbeddingDimensions)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap must be non-negative, got %d", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	if c.DocumentsPerQuery <= 0 {
		return fmt.Errorf("%w: documents_per_query must be positive, got %d",
			ErrInvalidRetrieval, c.DocumentsPerQuery)
	}
	if c.MaxTotalDocuments <= 0 {
		return fmt.Errorf("%w: max_total_documents must be positive, got %d",
			ErrInvalidRetrieval, c.MaxTotalDocuments)
	}
	if c.MaxSubQueries <= 0 {
		return fmt.Errorf("%w: max_sub_queries must be positive, got %d",
			ErrInvalidRetrieval, c.MaxSubQueries)
	}

	if c.HistoryTurns < 0 {
		return fmt.Errorf("%w: history_turns must be non-negative, got %d",
			ErrInvalidRetrieval, c.HistoryTurns)
	}
	if c.MaxTurnsPerChat <= 0 {
		return fmt.Errorf("%w: max_turns_per_chat must be positive, got %d",
			ErrInvalidRetrieval, c.MaxTurnsPerChat)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be non-negative, got %d",
			ErrInvalidConcurrency, c.MaxRetries)
	}
	if c.RetryDelaySeconds < 0 {
		return fmt.Errorf("%w: retry_delay_seconds must be non-negative, got %g",
			ErrInvalidConcurrency, c.RetryDelaySeconds)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("%w: max_concurrent_requests must be positive, got %d",
			ErrInvalidConcurrency, c.MaxConcurrentRequests)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: requests_per_second must be positive, got %g",
			ErrInvalidConcurrency, c.RequestsPerSecond)
	}

	if err := c.validatePostgres(); err != nil {
		return err
	}
	if err := c.validateCrawler(); err != nil {
		return err
	}

	if c.APIAddr == "" {
		return fmt.Errorf("%w: api_addr is required", ErrInvalidPostgres)
	}

	return nil
}

func validateModelName(name, field string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidModelName, field)
	}
	if strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("%w: %s must not contain whitespace, got %q", ErrInvalidModelName, field, name)
	}
	return nil
}

func validateTemperature(t float32, field string) error {
	if t < minTemperature || t > maxTemperature {
		return fmt.Errorf("%w: %s must be between %g and %g, got %g",
			ErrInvalidTemperature, field, minTemperature, maxTemperature, t)
	}
	return nil
}

func validateMaxTokens(n int, field string) error {
	if n < minMaxTokens || n > maxMaxTokens {
		return fmt.Errorf("%w: %s must be between %d and %d, got %d",
			ErrInvalidMaxTokens, field, minMaxTokens, maxMaxTokens, n)
	}
	return nil
}

func (c *Config) validatePostgres() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: postgres_host is required", ErrInvalidPostgres)
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: postgres_port must be between 1 and 65535, got %d",
			ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("%w: postgres_user is required", ErrInvalidPostgres)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: postgres_db_name is required", ErrInvalidPostgres)
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: unknown sslmode %q", ErrInvalidPostgres, c.PostgresSSLMode)
	}
	return nil
}

func (c *Config) validateCrawler() error {
	if c.Crawler.MaxDepth <= 0 {
		return fmt.Errorf("%w: crawler.max_depth must be positive, got %d",
			ErrInvalidCrawler, c.Crawler.MaxDepth)
	}
	if c.Crawler.MaxContentLength <= 0 {
		return fmt.Errorf("%w: crawler.max_content_length must be positive, got %d",
			ErrInvalidCrawler, c.Crawler.MaxContentLength)
	}
	if c.Crawler.Parallelism <= 0 {
		return fmt.Errorf("%w: crawler.parallelism must be positive, got %d",
			ErrInvalidCrawler, c.Crawler.Parallelism)
	}
	if c.Crawler.DelayMs < 0 {
		return fmt.Errorf("%w: crawler.delay_ms must be non-negative, got %d",
			ErrInvalidCrawler, c.Crawler.DelayMs)
	}
	if c.Crawler.TimeoutMs <= 0 {
		return fmt.Errorf("%w: crawler.timeout_ms must be positive, got %d",
			ErrInvalidCrawler, c.Crawler.TimeoutMs)
	}
	return nil
}
