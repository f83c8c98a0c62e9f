package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Embedder config
	if c.Embedder.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "embedder.base_url",
			Message: "Ollama base URL is required",
		})
	} else if u, err := url.Parse(c.Embedder.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "embedder.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Crawler config
	if _, err := time.LoadLocation(c.Crawler.Timezone); err != nil {
		errors = append(errors, ValidationError{
			Field:   "crawler.timezone",
			Message: fmt.Sprintf("unknown timezone: %s", c.Crawler.Timezone),
		})
	}

	if c.Crawler.FromDate != "" {
		if _, err := time.Parse("2006-01-02", c.Crawler.FromDate); err != nil {
			errors = append(errors, ValidationError{
				Field:   "crawler.from_date",
				Message: "from_date must be YYYY-MM-DD",
			})
		}
	}

	if c.Crawler.CutoffDays < 0 {
		errors = append(errors, ValidationError{
			Field:   "crawler.cutoff_days",
			Message: "cutoff_days must not be negative",
		})
	}

	if c.Crawler.MaxDepth < 1 {
		errors = append(errors, ValidationError{
			Field:   "crawler.max_depth",
			Message: "max_depth must be positive",
		})
	}

	if c.Crawler.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "crawler.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Crawler.PerHostConcurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "crawler.per_host_concurrency",
			Message: "per_host_concurrency must be positive",
		})
	}

	if c.Crawler.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "crawler.max_retries",
			Message: "max_retries must not be negative",
		})
	}

	for _, code := range c.Crawler.RetryCodes {
		if code < 100 || code > 599 {
			errors = append(errors, ValidationError{
				Field:   "crawler.retry_codes",
				Message: fmt.Sprintf("invalid HTTP status code: %d", code),
			})
		}
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	// Validate Search config
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		errors = append(errors, ValidationError{
			Field:   "search.min_score",
			Message: "min_score must be between 0 and 1",
		})
	}

	// Validate Logging config
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown log level: %s", c.Logging.Level),
		})
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be text or json",
		})
	}

	return errors
}
