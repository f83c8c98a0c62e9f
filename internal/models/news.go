package models

import (
	"net/url"
	"strings"
	"time"
)

// Source is a news outlet. ID is the lower-cased hostname of HomeURL.
type Source struct {
	ID       string
	Name     string
	HomeURL  string
	Sitemaps []string
}

// SourceID derives a source id from any URL on its site. Scheme-less input
// is read as a bare hostname.
func SourceID(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SitemapNode is a pending sitemap document in a traversal frontier.
type SitemapNode struct {
	Loc     string
	LastMod time.Time
	Depth   int
}

type LedgerEntry struct {
	URL       string
	FirstSeen time.Time
}

// Page is the result of fetching a URL.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// FetchRequest is an article URL dispatched for extraction, with whatever
// metadata the sitemap declared for it.
type FetchRequest struct {
	SourceID  string
	URL       string
	Title     string
	Published time.Time
	Origin    string
}

const (
	OriginSitemap  = "sitemap"
	OriginFallback = "fallback"
)

type Article struct {
	SourceID   string    `json:"source_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Published  time.Time `json:"published"`
	Body       string    `json:"body"`
	Keywords   []string  `json:"keywords,omitempty"`
	KeywordIDs []int64   `json:"keyword_ids,omitempty"`
}
