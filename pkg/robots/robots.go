// Package robots reads the sitemaps a site declares in robots.txt and
// decides which sitemap URLs are worth traversing.
package robots

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
)

const robotsTxtPath = "/robots.txt"

var yearRe = regexp.MustCompile(`\b(1[0-9]{3}|20[0-9]{2})\b`)

// Filter rejects sitemap URLs that list non-article pages or archives.
type Filter struct {
	words      []string
	cutoffYear int
}

// NewFilter builds a filter from denylisted path fragments. Any standalone
// year token earlier than the cutoff's year marks an archive sitemap.
func NewFilter(invalidWords []string, cutoff time.Time) *Filter {
	words := make([]string, 0, len(invalidWords))
	for _, w := range invalidWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			words = append(words, w)
		}
	}
	return &Filter{words: words, cutoffYear: cutoff.Year()}
}

// IsValidSitemapURL checks the path and query of rawURL. The host is not
// inspected so a denylisted word in a domain name does not disqualify it.
func (f *Filter) IsValidSitemapURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	target := strings.ToLower(u.EscapedPath())
	if u.RawQuery != "" {
		target += "?" + strings.ToLower(u.RawQuery)
	}

	for _, w := range f.words {
		if strings.Contains(target, w) {
			return false
		}
	}

	for _, m := range yearRe.FindAllString(target, -1) {
		if year, err := strconv.Atoi(m); err == nil && year < f.cutoffYear {
			return false
		}
	}
	return true
}

// SitemapURLs parses a robots.txt body and returns its valid declared
// sitemaps in declaration order, without duplicates.
func (f *Filter) SitemapURLs(status int, body []byte) ([]string, error) {
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse robots.txt: %w", err)
	}

	seen := make(map[string]bool)
	var out []string
	for _, s := range data.Sitemaps {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] || !f.IsValidSitemapURL(s) {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// URL returns the robots.txt location for a site home URL.
func URL(home string) (string, error) {
	u, err := url.Parse(home)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid home URL %q", home)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: robotsTxtPath}).String(), nil
}
