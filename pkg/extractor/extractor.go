// Package extractor turns fetched article pages into structured articles.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/dates"
)

var (
	ErrNoBody  = errors.New("no article body")
	ErrNoTitle = errors.New("no title")
	ErrNoDate  = errors.New("no publication date")
	ErrStale   = errors.New("published before cutoff")
)

type ExtractorConfig struct {
	Cutoff time.Time
	Dates  *dates.Parser
	// MonthFirstSources lists source ids whose page dates are written
	// month before day.
	MonthFirstSources []string
}

type Extractor struct {
	config ExtractorConfig
}

func NewWithConfig(config ExtractorConfig) *Extractor {
	if config.Dates == nil {
		config.Dates = dates.NewParser(time.UTC)
	}
	return &Extractor{config: config}
}

// Extract builds an article from page. Metadata carried in req from a
// sitemap takes precedence over what the page itself declares. Pages that
// lack a body, a title or a usable date are rejected with an error.
func (e *Extractor) Extract(page *models.Page, req models.FetchRequest) (*models.Article, error) {
	doc, err := parse(page)
	if err != nil {
		return nil, err
	}

	body := firstMatch(doc, bodySelectors)
	if body == "" {
		return nil, ErrNoBody
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = firstMatch(doc, titleSelectors)
	}

	if title == "" {
		return nil, ErrNoTitle
	}

	published := req.Published
	if published.IsZero() {
		rawDate := firstMatch(doc, dateSelectors)
		if rawDate == "" {
			return nil, ErrNoDate
		}
		published, err = e.config.Dates.Parse(rawDate, e.monthFirst(req.SourceID))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDate, err)
		}
	}
	if published.Before(e.config.Cutoff) {
		return nil, ErrStale
	}

	return &models.Article{
		SourceID:  req.SourceID,
		URL:       strings.TrimSpace(req.URL),
		Title:     title,
		Published: published.In(e.config.Dates.Location()),
		Body:      body,
	}, nil
}

func (e *Extractor) monthFirst(sourceID string) bool {
	return slices.Contains(e.config.MonthFirstSources, sourceID)
}

func parse(page *models.Page) (*goquery.Document, error) {
	r, err := charset.NewReader(bytes.NewReader(page.Body), page.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to decode page %s: %w", page.URL, err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page %s: %w", page.URL, err)
	}
	return doc, nil
}
