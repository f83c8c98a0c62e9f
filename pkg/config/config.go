package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Database  DatabaseConfig  `yaml:"database"`
	Crawler   CrawlerConfig   `yaml:"crawler"`
	Processor ProcessorConfig `yaml:"processor"`
	Search    SearchConfig    `yaml:"search"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
}

type EmbedderConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type DatabaseConfig struct {
	URL                string `yaml:"url"`
	TableName          string `yaml:"table_name"`
	VectorDim          int    `yaml:"vector_dim"`
	BatchSize          int    `yaml:"batch_size"`
	BatchRetries       int    `yaml:"batch_retries"`
	FailedArticlesPath string `yaml:"failed_articles_path"`
}

type CrawlerConfig struct {
	Timezone           string        `yaml:"timezone"`
	CutoffDays         int           `yaml:"cutoff_days"`
	FromDate           string        `yaml:"from_date"`
	MaxDepth           int           `yaml:"max_depth"`
	FallbackDepth      int           `yaml:"fallback_depth"`
	RateLimit          float64       `yaml:"rate_limit"`
	PerHostConcurrency int           `yaml:"per_host_concurrency"`
	SourceConcurrency  int           `yaml:"source_concurrency"`
	Workers            int           `yaml:"workers"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryCodes         []int         `yaml:"retry_codes"`
	UserAgents         []string      `yaml:"user_agents"`
	InvalidURLWords    []string      `yaml:"invalid_url_words"`
	MonthFirstSources  []string      `yaml:"month_first_sources"`
	LedgerBatchSize    int           `yaml:"ledger_batch_size"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type SearchConfig struct {
	Limit    int     `yaml:"limit"`
	MinScore float64 `yaml:"min_score"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultInvalidURLWords are path fragments marking sitemaps that list
// section, tag, author or media pages instead of articles.
var DefaultInvalidURLWords = []string{
	"section", "tag", "template", "category", "author", "page-sitemap",
	"categories", "video", "image", "temas", "live", "microsite", "focus",
	"blog", "ocio", "cine", "board", "character", "galeria", "categoria",
	"ficha", "firmante", "secciones", "hemeroteca", "landing", "sorteo",
	"elecciones", "autor", "hilos", "cartelera", "archive",
}

var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/clipping/config.yaml"),
			"/etc/clipping/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

// Default returns the built-in configuration with environment overrides
// applied.
func Default() *Config {
	config, _ := getDefaultConfig()
	return config
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Embedder.Model == "" {
		config.Embedder.Model = "nomic-embed-text:latest"
	}
	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "article_chunks"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}
	if config.Database.BatchRetries == 0 {
		config.Database.BatchRetries = 3
	}
	if config.Database.FailedArticlesPath == "" {
		config.Database.FailedArticlesPath = "failed_articles.jsonl"
	}

	c := &config.Crawler
	if c.Timezone == "" {
		c.Timezone = "Europe/Madrid"
	}
	if c.CutoffDays == 0 {
		c.CutoffDays = 1
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = 5
	}
	if c.RateLimit == 0 {
		c.RateLimit = 2.0
	}
	if c.PerHostConcurrency == 0 {
		c.PerHostConcurrency = 2
	}
	if c.SourceConcurrency == 0 {
		c.SourceConcurrency = 8
	}
	if c.Workers == 0 {
		c.Workers = 16
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if len(c.RetryCodes) == 0 {
		c.RetryCodes = []int{403, 404, 500, 502, 503, 504}
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = DefaultUserAgents
	}
	if len(c.InvalidURLWords) == 0 {
		c.InvalidURLWords = DefaultInvalidURLWords
	}
	if c.MonthFirstSources == nil {
		c.MonthFirstSources = []string{"www.feb.es"}
	}
	if c.LedgerBatchSize == 0 {
		c.LedgerBatchSize = 5
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 500
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 100
	}

	if config.Search.Limit == 0 {
		config.Search.Limit = 10
	}
	if config.Search.MinScore == 0 {
		config.Search.MinScore = 0.25
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedder.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if level := os.Getenv("CLIPPING_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if days := os.Getenv("CLIPPING_CUTOFF_DAYS"); days != "" {
		if n, err := strconv.Atoi(days); err == nil {
			config.Crawler.CutoffDays = n
		}
	}
}

// Location loads the crawler's fixed timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Crawler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", c.Crawler.Timezone, err)
	}
	return loc, nil
}

// Cutoff is the crawl's lower date bound: midnight of FromDate when set,
// otherwise midnight CutoffDays before now, both in the crawler timezone.
func (c *Config) Cutoff(now time.Time) (time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	if c.Crawler.FromDate != "" {
		t, err := time.ParseInLocation("2006-01-02", c.Crawler.FromDate, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid from_date %q: %w", c.Crawler.FromDate, err)
		}
		return t, nil
	}
	now = now.In(loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return day.AddDate(0, 0, -c.Crawler.CutoffDays), nil
}
