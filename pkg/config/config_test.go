package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
embedder:
  base_url: "http://localhost:11434"
  model: "mxbai-embed-large"

database:
  url: "postgres://localhost:5432/test"
  table_name: "test_chunks"
  vector_dim: 1024
  batch_size: 50

crawler:
  cutoff_days: 2
  max_depth: 4
  rate_limit: 1.5
  timeout: 10s
  invalid_url_words:
    - "tag"
  month_first_sources: []

processor:
  chunk_size: 400
  chunk_overlap: 80

logging:
  level: debug
  format: json
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434", config.Embedder.BaseURL)
	assert.Equal(t, "mxbai-embed-large", config.Embedder.Model)
	assert.Equal(t, "postgres://localhost:5432/test", config.Database.URL)
	assert.Equal(t, 1024, config.Database.VectorDim)
	assert.Equal(t, 2, config.Crawler.CutoffDays)
	assert.Equal(t, 4, config.Crawler.MaxDepth)
	assert.Equal(t, 10*time.Second, config.Crawler.Timeout)
	assert.Equal(t, []string{"tag"}, config.Crawler.InvalidURLWords)
	assert.Empty(t, config.Crawler.MonthFirstSources)
	assert.Equal(t, 400, config.Processor.ChunkSize)
	assert.Equal(t, "json", config.Logging.Format)

	// untouched sections fall back to defaults
	assert.Equal(t, 3, config.Crawler.MaxRetries)
	assert.Equal(t, []int{403, 404, 500, 502, 503, 504}, config.Crawler.RetryCodes)
	assert.Equal(t, 0.25, config.Search.MinScore)
	assert.Empty(t, config.Validate())
}

func TestDefaultConfig(t *testing.T) {
	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "Europe/Madrid", config.Crawler.Timezone)
	assert.Equal(t, 30*time.Second, config.Crawler.Timeout)
	assert.Equal(t, []string{"www.feb.es"}, config.Crawler.MonthFirstSources)
	assert.Contains(t, config.Crawler.InvalidURLWords, "hemeroteca")
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 100, config.Processor.ChunkOverlap)
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		c := Config{}
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "invalid embedder and database",
			mutate: func(c *Config) {
				c.Embedder.BaseURL = "invalid-url"
				c.Database.URL = "invalid-url"
				c.Database.VectorDim = -1
			},
			errorMessages: []string{
				"embedder.base_url: invalid Ollama base URL",
				"database.url: invalid database URL",
				"database.vector_dim: vector_dim must be positive",
			},
		},
		{
			name: "invalid crawler",
			mutate: func(c *Config) {
				c.Crawler.Timezone = "Mars/Olympus"
				c.Crawler.FromDate = "03/03/2024"
				c.Crawler.RetryCodes = []int{42}
			},
			errorMessages: []string{
				"crawler.timezone: unknown timezone: Mars/Olympus",
				"crawler.from_date: from_date must be YYYY-MM-DD",
				"crawler.retry_codes: invalid HTTP status code: 42",
			},
		},
		{
			name: "invalid processor and logging",
			mutate: func(c *Config) {
				c.Processor.ChunkOverlap = 500
				c.Logging.Level = "loud"
				c.Logging.Format = "xml"
			},
			errorMessages: []string{
				"processor.chunk_overlap: chunk_overlap must be non-negative and less than chunk_size",
				"logging.level: unknown log level: loud",
				"logging.format: format must be text or json",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)

			errors := config.Validate()
			require.Len(t, errors, len(tt.errorMessages))
			for i, msg := range tt.errorMessages {
				assert.Equal(t, msg, errors[i].Error())
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("CLIPPING_LOG_LEVEL", "warn")
	t.Setenv("CLIPPING_CUTOFF_DAYS", "7")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.Embedder.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, 7, config.Crawler.CutoffDays)
}

func TestCutoff(t *testing.T) {
	config, err := getDefaultConfig()
	require.NoError(t, err)
	loc, err := config.Location()
	require.NoError(t, err)

	now := time.Date(2024, 3, 4, 15, 30, 0, 0, loc)
	cutoff, err := config.Cutoff(now)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Date(2024, 3, 3, 0, 0, 0, 0, loc), cutoff, 0)

	config.Crawler.FromDate = "2024-01-15"
	cutoff, err = config.Cutoff(now)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Date(2024, 1, 15, 0, 0, 0, 0, loc), cutoff, 0)
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := `
sources:
  - name: El Diario
    url: https://www.eldiario.es/
    sitemaps: ["sitemap_index.xml"]
categories:
  - name: Banca
    rules:
      - "banco + hipoteca"
      - "bce o euribor"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog.Sources, 1)
	assert.Equal(t, []string{"sitemap_index.xml"}, catalog.Sources[0].Sitemaps)
	require.Len(t, catalog.Categories, 1)
	assert.Equal(t, []string{"banco + hipoteca", "bce o euribor"}, catalog.Categories[0].Rules)

	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - name: broken\n"), 0644))
	_, err = LoadCatalog(path)
	assert.Error(t, err)
}
