// Package discovery finds article URLs for each source by walking a chain
// of strategies: sitemaps declared in robots.txt, sitemaps recorded in the
// catalog, and finally link extraction from the home page.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/internal/types"
	"github.com/xhad/clipping/pkg/robots"
	"github.com/xhad/clipping/pkg/sitemap"
)

type State string

const (
	StateInit              State = "INIT"
	StateRobotsOK          State = "ROBOTS_OK"
	StateRobotsFail        State = "ROBOTS_FAIL"
	StateSitemapDeclared   State = "SITEMAP_DECLARED"
	StateSitemapFromConfig State = "SITEMAP_FROM_CONFIG"
	StateFallback          State = "FALLBACK"
	StateDone              State = "DONE"
)

// Traverser expands one sitemap tree into fetch requests.
type Traverser interface {
	Traverse(ctx context.Context, src models.Source, rootURL string, dispatch sitemap.DispatchFunc) (sitemap.Stats, error)
}

// LinkDiscoverer lists candidate article URLs linked from a home page.
type LinkDiscoverer interface {
	Discover(ctx context.Context, homeURL string) ([]string, error)
}

// Report describes how discovery went for one source.
type Report struct {
	SourceID string
	States   []State
	Sitemaps sitemap.Stats
	// FallbackDispatched counts URLs dispatched by link extraction.
	FallbackDispatched int
	Err                error
}

func (r *Report) enter(s State) {
	r.States = append(r.States, s)
}

func (r Report) Dispatched() int {
	return r.Sitemaps.Dispatched + r.FallbackDispatched
}

type OrchestratorConfig struct {
	// Concurrency bounds how many sources are discovered in parallel.
	Concurrency int
	Filter      *robots.Filter
	// OnSourceDone, when set, is called once per source as it finishes.
	OnSourceDone func(Report)
	Logger       *logrus.Logger
}

type Orchestrator struct {
	config    OrchestratorConfig
	fetcher   types.Fetcher
	sources   types.SourceStore
	traverser Traverser
	links     LinkDiscoverer
	ledger    sitemap.Ledger
	log       *logrus.Logger
}

func NewWithConfig(fetcher types.Fetcher, sources types.SourceStore, traverser Traverser, links LinkDiscoverer, ledger sitemap.Ledger, config OrchestratorConfig) *Orchestrator {
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}
	if config.Filter == nil {
		config.Filter = robots.NewFilter(nil, time.Time{})
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		config:    config,
		fetcher:   fetcher,
		sources:   sources,
		traverser: traverser,
		links:     links,
		ledger:    ledger,
		log:       config.Logger,
	}
}

// Run discovers every catalog source in parallel. A failing source never
// affects the others; only a failure to list the sources is returned.
func (o *Orchestrator) Run(ctx context.Context, dispatch sitemap.DispatchFunc) ([]Report, error) {
	sources, err := o.sources.GetSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	return o.RunSources(ctx, sources, dispatch), nil
}

// RunSources discovers the given sources in parallel and returns one report
// per source, in input order.
func (o *Orchestrator) RunSources(ctx context.Context, sources []models.Source, dispatch sitemap.DispatchFunc) []Report {
	reports := make([]Report, len(sources))

	var g errgroup.Group
	g.SetLimit(o.config.Concurrency)
	var mu sync.Mutex
	for i, src := range sources {
		g.Go(func() error {
			report := o.Discover(ctx, src, dispatch)
			reports[i] = report
			if o.config.OnSourceDone != nil {
				mu.Lock()
				o.config.OnSourceDone(report)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := o.ledger.Flush(ctx); err != nil {
		o.log.Warnf("Final ledger flush failed: %v", err)
	}
	return reports
}

// Discover runs the strategy chain for a single source.
func (o *Orchestrator) Discover(ctx context.Context, src models.Source, dispatch sitemap.DispatchFunc) Report {
	if src.ID == "" {
		src.ID = models.SourceID(src.HomeURL)
	}
	report := Report{SourceID: src.ID}
	report.enter(StateInit)
	log := o.log.WithField("source", src.ID)

	fallback := false
	declared, err := o.robotsSitemaps(ctx, src)
	switch {
	case err != nil:
		report.enter(StateRobotsFail)
		log.Warnf("robots.txt unavailable: %v", err)
		fallback = true

	case len(declared) > 0:
		report.enter(StateRobotsOK)
		report.enter(StateSitemapDeclared)
		fallback = o.traverseChain(ctx, src, declared, dispatch, &report, log)

	default:
		report.enter(StateRobotsOK)
		configured, err := o.configuredSitemaps(ctx, src)
		if err != nil {
			log.Warnf("Failed to load configured sitemaps: %v", err)
		}
		if len(configured) > 0 {
			report.enter(StateSitemapFromConfig)
			fallback = o.traverseChain(ctx, src, configured, dispatch, &report, log)
		} else {
			fallback = true
		}
	}

	if fallback && ctx.Err() == nil {
		report.enter(StateFallback)
		o.fallback(ctx, src, dispatch, &report, log)
	}

	report.enter(StateDone)
	log.WithFields(logrus.Fields{
		"states":     report.States,
		"dispatched": report.Dispatched(),
	}).Info("Source discovery finished")
	return report
}

func (o *Orchestrator) robotsSitemaps(ctx context.Context, src models.Source) ([]string, error) {
	robotsURL, err := robots.URL(src.HomeURL)
	if err != nil {
		return nil, err
	}
	page, err := o.fetcher.Fetch(ctx, robotsURL)
	if err != nil {
		return nil, err
	}
	return o.config.Filter.SitemapURLs(page.StatusCode, page.Body)
}

// configuredSitemaps resolves the catalog's sitemap paths against the
// source home URL.
func (o *Orchestrator) configuredSitemaps(ctx context.Context, src models.Source) ([]string, error) {
	paths, err := o.sources.GetDeclaredSitemaps(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(src.HomeURL)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range paths {
		ref, err := url.Parse(p)
		if err != nil {
			continue
		}
		out = append(out, base.ResolveReference(ref).String())
	}
	return out, nil
}

// traverseChain walks each sitemap in turn and reports whether the first
// one failed to load, which sends the source to link extraction. Later
// failures are only logged.
func (o *Orchestrator) traverseChain(ctx context.Context, src models.Source, sitemaps []string, dispatch sitemap.DispatchFunc, report *Report, log *logrus.Entry) bool {
	firstFailed := false
	for i, sm := range sitemaps {
		stats, err := o.traverser.Traverse(ctx, src, sm, dispatch)
		report.Sitemaps.Add(stats)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			report.Err = ctx.Err()
			return false
		}
		if i == 0 && errors.Is(err, sitemap.ErrRootFetch) {
			log.WithField("sitemap", sm).Warnf("First sitemap failed: %v", err)
			firstFailed = true
			continue
		}
		log.WithField("sitemap", sm).Debugf("Sitemap failed: %v", err)
	}
	return firstFailed
}

func (o *Orchestrator) fallback(ctx context.Context, src models.Source, dispatch sitemap.DispatchFunc, report *Report, log *logrus.Entry) {
	urls, err := o.links.Discover(ctx, src.HomeURL)
	if err != nil {
		report.Err = err
		log.Warnf("Link extraction failed: %v", err)
		return
	}

	var claimed []string
	for _, u := range urls {
		ok, err := o.ledger.Claim(ctx, u)
		if err != nil {
			log.WithField("url", u).Warnf("Ledger check failed: %v", err)
			continue
		}
		if ok {
			claimed = append(claimed, u)
		}
	}
	if len(claimed) == 0 {
		return
	}
	if err := o.ledger.Flush(ctx); err != nil {
		log.Warnf("Ledger flush failed, claims stay pending: %v", err)
	}

	for _, u := range claimed {
		dispatch(ctx, models.FetchRequest{
			SourceID: src.ID,
			URL:      u,
			Origin:   models.OriginFallback,
		})
	}
	report.FallbackDispatched = len(claimed)
	log.WithField("urls", len(claimed)).Debug("Dispatched links from home page")
}
