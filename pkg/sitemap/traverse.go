// Package sitemap expands sitemap indexes into article fetch requests.
//
// Traversal keeps an explicit frontier of pending sitemap documents and a
// visited set, so nesting depth is bounded and cycles terminate. Only the
// root document's failure is reported; a nested document that cannot be
// fetched or parsed simply contributes nothing.
package sitemap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/internal/types"
	"github.com/xhad/clipping/pkg/dates"
)

var ErrRootFetch = errors.New("failed to load root sitemap")

// URLFilter decides whether a nested sitemap is worth fetching.
type URLFilter interface {
	IsValidSitemapURL(rawURL string) bool
}

// Ledger is the dedup authority consulted before dispatch.
type Ledger interface {
	Seen(ctx context.Context, url string) (bool, error)
	Claim(ctx context.Context, url string) (bool, error)
	Flush(ctx context.Context) error
}

// DispatchFunc hands a claimed article URL to the extraction stage.
type DispatchFunc func(ctx context.Context, req models.FetchRequest)

type TraverserConfig struct {
	Cutoff   time.Time
	MaxDepth int
	Filter   URLFilter
	Dates    *dates.Parser
	Logger   *logrus.Logger
}

type Stats struct {
	Documents       int
	Failed          int
	SkippedStale    int
	SkippedInvalid  int
	ExhaustedLeaves int
	Dispatched      int
}

func (s *Stats) Add(o Stats) {
	s.Documents += o.Documents
	s.Failed += o.Failed
	s.SkippedStale += o.SkippedStale
	s.SkippedInvalid += o.SkippedInvalid
	s.ExhaustedLeaves += o.ExhaustedLeaves
	s.Dispatched += o.Dispatched
}

type Traverser struct {
	config  TraverserConfig
	fetcher types.Fetcher
	ledger  Ledger
	log     *logrus.Logger
}

func NewWithConfig(fetcher types.Fetcher, ledger Ledger, config TraverserConfig) *Traverser {
	if config.MaxDepth == 0 {
		config.MaxDepth = 5
	}
	if config.Dates == nil {
		config.Dates = dates.NewParser(time.UTC)
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	return &Traverser{
		config:  config,
		fetcher: fetcher,
		ledger:  ledger,
		log:     config.Logger,
	}
}

// Traverse walks the sitemap tree rooted at rootURL and dispatches every
// unexplored, recent article URL it finds for src.
func (t *Traverser) Traverse(ctx context.Context, src models.Source, rootURL string, dispatch DispatchFunc) (Stats, error) {
	var stats Stats
	log := t.log.WithFields(logrus.Fields{"source": src.ID, "sitemap": rootURL})

	base := src.HomeURL
	if base == "" {
		base = rootURL
	}

	frontier := []models.SitemapNode{{Loc: rootURL}}
	visited := map[string]bool{rootURL: true}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		node := frontier[0]
		frontier = frontier[1:]
		isRoot := node.Loc == rootURL && node.Depth == 0

		doc, err := t.load(ctx, node.Loc)
		if err != nil {
			if isRoot {
				return stats, fmt.Errorf("%w %s: %v", ErrRootFetch, rootURL, err)
			}
			stats.Failed++
			log.WithField("url", node.Loc).Debugf("Skipping nested sitemap: %v", err)
			continue
		}
		stats.Documents++

		for _, entry := range doc.Sitemaps {
			loc := resolve(base, entry.Loc)
			if loc == "" || visited[loc] {
				continue
			}
			if lastmod := t.parseDate(entry.LastMod); !lastmod.IsZero() && lastmod.Before(t.config.Cutoff) {
				stats.SkippedStale++
				continue
			}
			if t.config.Filter != nil && !t.config.Filter.IsValidSitemapURL(loc) {
				stats.SkippedInvalid++
				continue
			}
			if node.Depth+1 > t.config.MaxDepth {
				log.WithField("url", loc).Debug("Sitemap nesting too deep")
				continue
			}
			visited[loc] = true
			frontier = append(frontier, models.SitemapNode{
				Loc:     loc,
				LastMod: t.parseDate(entry.LastMod),
				Depth:   node.Depth + 1,
			})
		}

		if len(doc.URLs) > 0 {
			t.processLeaf(ctx, src, doc.URLs, dispatch, &stats, log)
		}
	}

	log.WithFields(logrus.Fields{
		"documents":  stats.Documents,
		"dispatched": stats.Dispatched,
		"exhausted":  stats.ExhaustedLeaves,
	}).Debug("Sitemap traversal finished")
	return stats, nil
}

func (t *Traverser) load(ctx context.Context, loc string) (*document, error) {
	page, err := t.fetcher.Fetch(ctx, loc)
	if err != nil {
		return nil, err
	}
	body, err := decompress(page.Body)
	if err != nil {
		return nil, err
	}
	return parseDocument(body)
}

func (t *Traverser) parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	d, err := t.config.Dates.Parse(raw, false)
	if err != nil {
		return time.Time{}
	}
	return d
}

type leafEntry struct {
	loc   string
	title string
	date  time.Time
}

func (t *Traverser) processLeaf(ctx context.Context, src models.Source, raw []urlEntry, dispatch DispatchFunc, stats *Stats, log *logrus.Entry) {
	entries := make([]leafEntry, 0, len(raw))
	for _, u := range raw {
		loc := resolve("", u.Loc)
		if !isAbsoluteHTTP(loc) {
			continue
		}
		entries = append(entries, leafEntry{
			loc:   loc,
			title: u.News.Title,
			date:  t.parseDate(u.date()),
		})
	}
	if len(entries) == 0 {
		return
	}

	// newest first; undated entries sort last
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].date.After(entries[j].date) })

	if t.exhausted(ctx, entries) {
		stats.ExhaustedLeaves++
		return
	}

	var claimed []leafEntry
	for _, e := range entries {
		if !e.date.IsZero() && e.date.Before(t.config.Cutoff) {
			continue
		}
		ok, err := t.ledger.Claim(ctx, e.loc)
		if err != nil {
			log.WithField("url", e.loc).Warnf("Ledger check failed: %v", err)
			continue
		}
		if ok {
			claimed = append(claimed, e)
		}
	}
	if len(claimed) == 0 {
		return
	}

	if err := t.ledger.Flush(ctx); err != nil {
		log.Warnf("Ledger flush failed, claims stay pending: %v", err)
	}

	for _, e := range claimed {
		dispatch(ctx, models.FetchRequest{
			SourceID:  src.ID,
			URL:       e.loc,
			Title:     e.title,
			Published: e.date,
			Origin:    models.OriginSitemap,
		})
		stats.Dispatched++
	}
}

// exhausted looks only at the newest and oldest entries of a leaf. If both
// predate the cutoff, or both are already in the ledger, the leaf is
// skipped without inspecting the rest, so unexplored entries between two
// explored ends are missed.
func (t *Traverser) exhausted(ctx context.Context, entries []leafEntry) bool {
	first, last := entries[0], entries[len(entries)-1]

	if !first.date.IsZero() && !last.date.IsZero() &&
		first.date.Before(t.config.Cutoff) && last.date.Before(t.config.Cutoff) {
		return true
	}

	seenFirst, err := t.ledger.Seen(ctx, first.loc)
	if err != nil {
		return false
	}
	seenLast, err := t.ledger.Seen(ctx, last.loc)
	if err != nil {
		return false
	}
	return seenFirst && seenLast
}
