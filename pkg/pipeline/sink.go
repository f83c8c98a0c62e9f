package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/internal/types"
)

type SinkConfig struct {
	BatchSize    int
	BatchRetries int
	RetryDelay   time.Duration
	// FailedLogPath receives one JSON line per article that could not be
	// stored. Empty disables the log.
	FailedLogPath string
	Logger        *logrus.Logger
}

// FailedArticle is a line of the failure log.
type FailedArticle struct {
	URL       string    `json:"url"`
	SourceID  string    `json:"source_id"`
	Title     string    `json:"title"`
	Published time.Time `json:"published"`
	Reasons   []string  `json:"reasons,omitempty"`
	Error     string    `json:"error,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}

// Sink buffers accepted articles and writes them in batches. A batch that
// keeps failing is written one article at a time so a single bad row does
// not lose the rest.
type Sink struct {
	config SinkConfig
	store  types.ArticleStore
	log    *logrus.Logger

	mu     sync.Mutex
	buffer []models.Article

	flushMu sync.Mutex
	stored  int64
	failed  int64
}

func NewSink(store types.ArticleStore, config SinkConfig) *Sink {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.BatchRetries <= 0 {
		config.BatchRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	return &Sink{config: config, store: store, log: config.Logger}
}

func (s *Sink) Add(ctx context.Context, article models.Article) {
	s.mu.Lock()
	s.buffer = append(s.buffer, article)
	var batch []models.Article
	if len(s.buffer) >= s.config.BatchSize {
		batch = s.buffer
		s.buffer = nil
	}
	s.mu.Unlock()

	if batch != nil {
		s.write(ctx, batch)
	}
}

// Flush writes whatever is buffered.
func (s *Sink) Flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(batch) > 0 {
		s.write(ctx, batch)
	}
}

// Counts reports articles stored and articles given up on.
func (s *Sink) Counts() (stored, failed int64) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.stored, s.failed
}

func (s *Sink) write(ctx context.Context, batch []models.Article) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	var err error
	for attempt := 1; attempt <= s.config.BatchRetries; attempt++ {
		if err = s.store.StoreArticles(ctx, batch); err == nil {
			break
		}
		s.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"size":    len(batch),
		}).Warnf("Article batch insert failed: %v", err)
		if attempt < s.config.BatchRetries {
			select {
			case <-time.After(s.config.RetryDelay):
			case <-ctx.Done():
			}
		}
	}

	if err == nil {
		s.stored += int64(len(batch))
		for _, a := range batch {
			s.storeKeywords(ctx, a)
		}
		return
	}

	s.log.WithField("size", len(batch)).Warn("Falling back to per-article inserts")
	for _, a := range batch {
		ok, err := s.store.StoreArticle(ctx, a)
		if err == nil && ok {
			s.stored++
			s.storeKeywords(ctx, a)
			continue
		}
		s.failed++
		s.recordFailure(ctx, a, err)
	}
}

func (s *Sink) storeKeywords(ctx context.Context, a models.Article) {
	if len(a.KeywordIDs) == 0 {
		return
	}
	if err := s.store.StoreArticleKeywords(ctx, a.URL, a.KeywordIDs); err != nil {
		s.log.WithField("url", a.URL).Errorf("Failed to store article keywords: %v", err)
	}
}

func (s *Sink) recordFailure(ctx context.Context, a models.Article, cause error) {
	reasons, err := s.store.Diagnose(ctx, a)
	if err != nil {
		s.log.WithField("url", a.URL).Warnf("Failed to diagnose article: %v", err)
	}
	entry := FailedArticle{
		URL:       a.URL,
		SourceID:  a.SourceID,
		Title:     a.Title,
		Published: a.Published,
		Reasons:   reasons,
		FailedAt:  time.Now(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	s.log.WithFields(logrus.Fields{
		"url":     a.URL,
		"reasons": reasons,
	}).Error("Article could not be stored")

	if s.config.FailedLogPath == "" {
		return
	}
	if err := appendJSONLine(s.config.FailedLogPath, entry); err != nil {
		s.log.Errorf("Failed to write failure log: %v", err)
	}
}

func appendJSONLine(path string, v any) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(v); err != nil {
		return fmt.Errorf("failed to encode failure: %w", err)
	}
	return nil
}
