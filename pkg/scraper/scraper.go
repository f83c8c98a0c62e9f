// Package scraper discovers article links on a news site by following
// same-host anchors from its home page. It is the last resort for sources
// that publish no usable sitemap.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/xhad/clipping/internal/types"
)

type ScraperConfig struct {
	// MaxDepth is how many link hops from the home page are fetched looking
	// for article links. Depth 0 reads only the home page.
	MaxDepth int
	// MaxPages bounds the number of section pages fetched per source.
	MaxPages          int
	IgnorePatterns    []string
	AllowedExtensions []string
	Logger            *logrus.Logger
}

type Scraper struct {
	config  ScraperConfig
	fetcher types.Fetcher
	log     *logrus.Logger
}

// DefaultIgnorePatterns are path fragments of listing pages that never
// lead to fresh articles.
var DefaultIgnorePatterns = []string{
	"/tag/", "/tags/", "/etiqueta/", "/autor/", "/author/", "/firmas/",
	"/category/", "/categoria/", "/page/", "/hemeroteca/", "/video/",
	"/galeria/", "/login", "/registro", "/suscripcion",
}

var datePathRe = regexp.MustCompile(`/20\d{2}/\d{1,2}/`)

func NewWithConfig(fetcher types.Fetcher, config ScraperConfig) *Scraper {
	if config.MaxDepth < 0 {
		config.MaxDepth = 0
	}
	if config.MaxPages == 0 {
		config.MaxPages = 25
	}
	if config.IgnorePatterns == nil {
		config.IgnorePatterns = DefaultIgnorePatterns
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", ".shtml", ".php", ""}
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	return &Scraper{
		config:  config,
		fetcher: fetcher,
		log:     config.Logger,
	}
}

// Discover returns the candidate article URLs reachable from homeURL, in
// discovery order and without duplicates. Only a failure to load the home
// page is returned as an error.
func (s *Scraper) Discover(ctx context.Context, homeURL string) ([]string, error) {
	home, err := url.Parse(homeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse home URL %q: %w", homeURL, err)
	}
	baseHost := strings.TrimPrefix(strings.ToLower(home.Host), "www.")

	type pending struct {
		url   string
		depth int
	}
	queue := []pending{{url: home.String()}}
	visited := map[string]bool{home.String(): true}
	seen := make(map[string]bool)
	var articles []string
	fetched := 0

	for len(queue) > 0 && fetched < s.config.MaxPages {
		if err := ctx.Err(); err != nil {
			return articles, err
		}
		current := queue[0]
		queue = queue[1:]

		links, err := s.links(ctx, current.url)
		fetched++
		if err != nil {
			if current.depth == 0 {
				return nil, err
			}
			s.log.WithField("url", current.url).Debugf("Skipping section page: %v", err)
			continue
		}

		for _, link := range links {
			if !s.shouldProcessURL(link, baseHost) {
				continue
			}
			if isArticleURL(link) {
				if !seen[link] {
					seen[link] = true
					articles = append(articles, link)
				}
				continue
			}
			if current.depth < s.config.MaxDepth && !visited[link] {
				visited[link] = true
				queue = append(queue, pending{url: link, depth: current.depth + 1})
			}
		}
	}

	return articles, nil
}

func (s *Scraper) links(ctx context.Context, pageURL string) ([]string, error) {
	page, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", pageURL, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	var out []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		out = append(out, abs.String())
	})
	return out, nil
}

func (s *Scraper) shouldProcessURL(urlStr, baseHost string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false
	}

	// Check if URL is from the same site
	if strings.TrimPrefix(strings.ToLower(parsedURL.Host), "www.") != baseHost {
		return false
	}

	ext := strings.ToLower(path.Ext(parsedURL.Path))
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if ext == allowedExt {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	lower := strings.ToLower(parsedURL.Path)
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	return true
}

// isArticleURL guesses whether a link points at an article rather than a
// section: a dated path, or a final path segment that reads like a slug.
func isArticleURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	p := strings.TrimSuffix(u.Path, "/")
	if datePathRe.MatchString(p + "/") {
		return true
	}
	last := path.Base(p)
	last = strings.TrimSuffix(last, path.Ext(last))
	return strings.Count(last, "-")+strings.Count(last, "_") >= 3
}
