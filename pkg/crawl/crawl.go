// Package crawl assembles a full crawl run from configuration and exposes
// it as a background job.
package crawl

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/internal/types"
	"github.com/xhad/clipping/pkg/config"
	"github.com/xhad/clipping/pkg/dates"
	"github.com/xhad/clipping/pkg/discovery"
	"github.com/xhad/clipping/pkg/extractor"
	"github.com/xhad/clipping/pkg/fetch"
	"github.com/xhad/clipping/pkg/ledger"
	"github.com/xhad/clipping/pkg/pipeline"
	"github.com/xhad/clipping/pkg/robots"
	"github.com/xhad/clipping/pkg/rules"
	"github.com/xhad/clipping/pkg/scraper"
	"github.com/xhad/clipping/pkg/sitemap"
)

type EventKind string

const (
	EventSource EventKind = "source"
	EventDone   EventKind = "done"
)

// Event reports crawl progress: one per finished source, then a final one.
type Event struct {
	Kind     EventKind         `json:"kind"`
	Source   *discovery.Report `json:"source,omitempty"`
	Finished int               `json:"finished"`
	Total    int               `json:"total"`
	Stats    *pipeline.Stats   `json:"stats,omitempty"`
}

type Result struct {
	JobID    string
	Cutoff   time.Time
	Reports  []discovery.Report
	Pipeline pipeline.Stats
	Started  time.Time
	Finished time.Time
}

func (r Result) Dispatched() int {
	n := 0
	for _, rep := range r.Reports {
		n += rep.Dispatched()
	}
	return n
}

// Job is a running crawl. Progress is closed when the crawl ends.
type Job struct {
	ID       string
	Total    int
	Progress <-chan Event

	done   chan struct{}
	result Result
	err    error
}

// Wait blocks until the crawl finishes.
func (j *Job) Wait() (Result, error) {
	<-j.done
	return j.result, j.err
}

func (j *Job) Done() <-chan struct{} {
	return j.done
}

type Options struct {
	// Sources restricts the run to these source ids. Empty means all.
	Sources []string
	// FromDate overrides the configured cutoff (YYYY-MM-DD).
	FromDate string
	// Fetcher replaces the HTTP fetcher built from configuration.
	Fetcher types.Fetcher
}

type Crawler struct {
	config   *config.Config
	store    types.Store
	ingester types.Ingester
	log      *logrus.Logger
}

// New returns a crawler writing to store. ingester may be nil.
func New(cfg *config.Config, store types.Store, ingester types.Ingester, log *logrus.Logger) *Crawler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Crawler{config: cfg, store: store, ingester: ingester, log: log}
}

// Start validates the run, wires every stage and launches it in the
// background.
func (c *Crawler) Start(ctx context.Context, opts Options) (*Job, error) {
	cfg := *c.config
	if opts.FromDate != "" {
		cfg.Crawler.FromDate = opts.FromDate
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	cutoff, err := cfg.Cutoff(time.Now())
	if err != nil {
		return nil, err
	}

	sources, err := c.store.GetSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	if len(opts.Sources) > 0 {
		sources = slices.DeleteFunc(sources, func(s models.Source) bool {
			return !slices.Contains(opts.Sources, s.ID)
		})
	}

	classifier, err := c.classifier(ctx)
	if err != nil {
		return nil, err
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewWithConfig(fetch.FetcherConfig{
			Timeout:            cfg.Crawler.Timeout,
			MaxRetries:         cfg.Crawler.MaxRetries,
			RetryCodes:         cfg.Crawler.RetryCodes,
			UserAgents:         cfg.Crawler.UserAgents,
			RateLimit:          cfg.Crawler.RateLimit,
			PerHostConcurrency: cfg.Crawler.PerHostConcurrency,
			Logger:             c.log,
		})
	}
	parser := dates.NewParser(loc)
	filter := robots.NewFilter(cfg.Crawler.InvalidURLWords, cutoff)
	crawlLedger := ledger.NewWithConfig(c.store, ledger.LedgerConfig{
		BatchSize: cfg.Crawler.LedgerBatchSize,
		Logger:    c.log,
	})
	traverser := sitemap.NewWithConfig(fetcher, crawlLedger, sitemap.TraverserConfig{
		Cutoff:   cutoff,
		MaxDepth: cfg.Crawler.MaxDepth,
		Filter:   filter,
		Dates:    parser,
		Logger:   c.log,
	})
	links := scraper.NewWithConfig(fetcher, scraper.ScraperConfig{
		MaxDepth: cfg.Crawler.FallbackDepth,
		Logger:   c.log,
	})
	ext := extractor.NewWithConfig(extractor.ExtractorConfig{
		Cutoff:            cutoff,
		Dates:             parser,
		MonthFirstSources: cfg.Crawler.MonthFirstSources,
	})
	pipe := pipeline.NewWithConfig(fetcher, ext, classifier, c.store, c.ingester, pipeline.PipelineConfig{
		Workers: cfg.Crawler.Workers,
		Sink: pipeline.SinkConfig{
			BatchSize:     cfg.Database.BatchSize,
			BatchRetries:  cfg.Database.BatchRetries,
			FailedLogPath: cfg.Database.FailedArticlesPath,
		},
		Logger: c.log,
	})

	progress := make(chan Event, len(sources)+1)
	job := &Job{
		ID:       uuid.NewString(),
		Total:    len(sources),
		Progress: progress,
		done:     make(chan struct{}),
	}

	finished := 0
	orchestrator := discovery.NewWithConfig(fetcher, c.store, traverser, links, crawlLedger, discovery.OrchestratorConfig{
		Concurrency: cfg.Crawler.SourceConcurrency,
		Filter:      filter,
		Logger:      c.log,
		OnSourceDone: func(r discovery.Report) {
			finished++
			progress <- Event{Kind: EventSource, Source: &r, Finished: finished, Total: len(sources)}
		},
	})

	log := c.log.WithFields(logrus.Fields{"job": job.ID, "cutoff": cutoff.Format(time.DateOnly), "sources": len(sources)})
	log.Info("Starting crawl")

	go func() {
		defer close(job.done)
		defer close(progress)

		started := time.Now()
		pipe.Start(ctx)
		reports := orchestrator.RunSources(ctx, sources, pipe.Dispatch)
		stats := pipe.Close(ctx)

		job.result = Result{
			JobID:    job.ID,
			Cutoff:   cutoff,
			Reports:  reports,
			Pipeline: stats,
			Started:  started,
			Finished: time.Now(),
		}
		job.err = ctx.Err()
		progress <- Event{Kind: EventDone, Finished: finished, Total: len(sources), Stats: &stats}

		log.WithFields(logrus.Fields{
			"dispatched": job.result.Dispatched(),
			"accepted":   stats.Accepted,
			"stored":     stats.Stored,
			"elapsed":    job.result.Finished.Sub(started).Round(time.Millisecond),
		}).Info("Crawl finished")
	}()

	return job, nil
}

func (c *Crawler) classifier(ctx context.Context) (*rules.Classifier, error) {
	rows, err := c.store.GetRuleTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule table: %w", err)
	}
	classifier := rules.Compile(rows)
	for id, err := range classifier.Invalid() {
		c.log.WithField("rule", id).Warnf("Skipping invalid rule: %v", err)
	}
	if len(classifier.Matchers()) == 0 {
		c.log.Warn("Rule table is empty, no article will be accepted")
	}
	return classifier, nil
}
