// Package search answers semantic and keyword queries over the stored
// news catalog.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/store"
)

var (
	ErrEmptyQuery    = errors.New("query is empty")
	ErrNoVectorStore = errors.New("semantic search needs a vector store")
)

type VectorSearcher interface {
	Query(ctx context.Context, query string, opts store.SearchOptions) ([]models.Document, error)
}

type ArticleLister interface {
	FetchArticles(ctx context.Context, filter models.ArticleFilter) ([]models.Article, error)
}

type SearchConfig struct {
	Limit    int
	MinScore float64
	// Location interprets request dates. Defaults to UTC.
	Location *time.Location
}

// Request is a query as it arrives from the CLI or a websocket client.
// Dates are YYYY-MM-DD and both ends are inclusive.
type Request struct {
	Query      string   `json:"query,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	From       string   `json:"from,omitempty"`
	To         string   `json:"to,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// Hit is one article found by semantic search.
type Hit struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Source  string  `json:"source"`
	Date    string  `json:"date"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

type Service struct {
	config   SearchConfig
	vectors  VectorSearcher
	articles ArticleLister
}

// NewWithConfig builds a search service. vectors may be nil, in which case
// only keyword listing is available.
func NewWithConfig(vectors VectorSearcher, articles ArticleLister, config SearchConfig) *Service {
	if config.Limit == 0 {
		config.Limit = 10
	}
	if config.MinScore == 0 {
		config.MinScore = 0.25
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Service{config: config, vectors: vectors, articles: articles}
}

// Semantic returns the articles closest in meaning to req.Query.
func (s *Service) Semantic(ctx context.Context, req Request) ([]Hit, error) {
	if s.vectors == nil {
		return nil, ErrNoVectorStore
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	from, to, err := s.dateRange(req)
	if err != nil {
		return nil, err
	}

	docs, err := s.vectors.Query(ctx, req.Query, store.SearchOptions{
		Limit:    s.limit(req),
		MinScore: s.config.MinScore,
		From:     from,
		To:       to,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search articles: %w", err)
	}

	hits := make([]Hit, len(docs))
	for i, doc := range docs {
		title := doc.Metadata.Title
		if title == "" {
			title = doc.Title
		}
		hits[i] = Hit{
			Title:   title,
			URL:     doc.URL,
			Source:  doc.Metadata.Source,
			Date:    doc.Metadata.Date,
			Score:   doc.Score,
			Snippet: doc.Content,
		}
	}
	return hits, nil
}

// Articles lists stored articles by category, keyword, source and date,
// newest first.
func (s *Service) Articles(ctx context.Context, req Request) ([]models.Article, error) {
	from, to, err := s.dateRange(req)
	if err != nil {
		return nil, err
	}
	articles, err := s.articles.FetchArticles(ctx, models.ArticleFilter{
		Categories: req.Categories,
		Keywords:   req.Keywords,
		Sources:    req.Sources,
		From:       from,
		To:         to,
		Limit:      s.limit(req),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	return articles, nil
}

func (s *Service) limit(req Request) int {
	if req.Limit > 0 {
		return req.Limit
	}
	return s.config.Limit
}

// dateRange turns the request's day bounds into instants: the start of
// From and the last instant of To.
func (s *Service) dateRange(req Request) (from, to time.Time, err error) {
	if req.From != "" {
		if from, err = time.ParseInLocation(time.DateOnly, req.From, s.config.Location); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q: %w", req.From, err)
		}
	}
	if req.To != "" {
		if to, err = time.ParseInLocation(time.DateOnly, req.To, s.config.Location); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q: %w", req.To, err)
		}
		to = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("date range ends before it starts: %s > %s", req.From, req.To)
	}
	return from, to, nil
}
