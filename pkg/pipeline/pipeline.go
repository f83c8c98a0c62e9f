// Package pipeline fetches dispatched article URLs, extracts and classifies
// them, and hands accepted articles to the persistence and vector sinks.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/internal/types"
	"github.com/xhad/clipping/pkg/rules"
)

// Extractor builds an article from a fetched page, or rejects it.
type Extractor interface {
	Extract(page *models.Page, req models.FetchRequest) (*models.Article, error)
}

// Classifier decides whether article text matches the rule table.
type Classifier interface {
	Classify(text string) rules.Result
}

// ArticleSink is the persistence side a pipeline writes to.
type ArticleSink interface {
	types.RuleStore
	types.ArticleStore
}

type PipelineConfig struct {
	Workers int
	// QueueSize is the capacity of the dispatch queue.
	QueueSize int
	Sink      SinkConfig
	Logger    *logrus.Logger
}

type Stats struct {
	Fetched      int64
	FetchFailed  int64
	Rejected     int64
	Unclassified int64
	Accepted     int64
	Stored       int64
	StoreFailed  int64
	Ingested     int64
	IngestFailed int64
}

type counters struct {
	fetched, fetchFailed, rejected, unclassified, accepted atomic.Int64
	ingested, ingestFailed                                 atomic.Int64
}

// Pipeline is a pool of workers fed by Dispatch. Start it once, dispatch
// requests, then Close to drain the queue and flush buffered articles.
type Pipeline struct {
	config     PipelineConfig
	fetcher    types.Fetcher
	extractor  Extractor
	classifier Classifier
	store      ArticleSink
	ingester   types.Ingester
	sink       *Sink
	log        *logrus.Logger

	queue chan models.FetchRequest
	wg    sync.WaitGroup
	stats counters
}

// NewWithConfig builds a pipeline. ingester may be nil to skip vector ingest.
func NewWithConfig(fetcher types.Fetcher, extractor Extractor, classifier Classifier, store ArticleSink, ingester types.Ingester, config PipelineConfig) *Pipeline {
	if config.Workers <= 0 {
		config.Workers = 16
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers * 4
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	config.Sink.Logger = config.Logger

	return &Pipeline{
		config:     config,
		fetcher:    fetcher,
		extractor:  extractor,
		classifier: classifier,
		store:      store,
		ingester:   ingester,
		sink:       NewSink(store, config.Sink),
		log:        config.Logger,
		queue:      make(chan models.FetchRequest, config.QueueSize),
	}
}

func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for req := range p.queue {
				p.process(ctx, req)
			}
		}()
	}
}

// Dispatch queues a request, blocking while the queue is full. It has the
// shape of a sitemap.DispatchFunc.
func (p *Pipeline) Dispatch(ctx context.Context, req models.FetchRequest) {
	select {
	case p.queue <- req:
	case <-ctx.Done():
	}
}

// Close stops accepting requests, waits for in-flight work and flushes the
// article buffer.
func (p *Pipeline) Close(ctx context.Context) Stats {
	close(p.queue)
	p.wg.Wait()
	p.sink.Flush(ctx)
	return p.Stats()
}

func (p *Pipeline) Stats() Stats {
	stored, failed := p.sink.Counts()
	return Stats{
		Fetched:      p.stats.fetched.Load(),
		FetchFailed:  p.stats.fetchFailed.Load(),
		Rejected:     p.stats.rejected.Load(),
		Unclassified: p.stats.unclassified.Load(),
		Accepted:     p.stats.accepted.Load(),
		Stored:       stored,
		StoreFailed:  failed,
		Ingested:     p.stats.ingested.Load(),
		IngestFailed: p.stats.ingestFailed.Load(),
	}
}

func (p *Pipeline) process(ctx context.Context, req models.FetchRequest) {
	if ctx.Err() != nil {
		return
	}
	log := p.log.WithFields(logrus.Fields{"source": req.SourceID, "url": req.URL})

	page, err := p.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		p.stats.fetchFailed.Add(1)
		log.Debugf("Fetch failed: %v", err)
		return
	}
	p.stats.fetched.Add(1)

	article, err := p.extractor.Extract(page, req)
	if err != nil {
		p.stats.rejected.Add(1)
		log.Debugf("Article dropped: %v", err)
		return
	}

	result := p.classifier.Classify(article.Body)
	if !result.Accepted {
		p.stats.unclassified.Add(1)
		log.Debug("Article matched no rule")
		return
	}

	article.Keywords = result.Keywords
	article.KeywordIDs = p.resolveKeywordIDs(ctx, result.Keywords, log)
	p.stats.accepted.Add(1)
	log.WithField("keywords", article.Keywords).Info("Article accepted")

	p.sink.Add(ctx, *article)
	p.ingest(ctx, article, log)
}

// resolveKeywordIDs maps matched keywords to catalog ids, dropping any the
// catalog no longer knows.
func (p *Pipeline) resolveKeywordIDs(ctx context.Context, keywords []string, log *logrus.Entry) []int64 {
	ids, err := p.store.ResolveKeywordIDs(ctx, keywords)
	if err != nil {
		log.Warnf("Failed to resolve keyword ids: %v", err)
		return nil
	}
	out := make([]int64, 0, len(ids))
	for i, id := range ids {
		if id == 0 {
			log.WithField("keyword", keywords[i]).Warn("Matched keyword missing from catalog")
			continue
		}
		out = append(out, id)
	}
	return out
}

func (p *Pipeline) ingest(ctx context.Context, article *models.Article, log *logrus.Entry) {
	if p.ingester == nil {
		return
	}
	meta := models.IngestMetadata{
		Title:  article.Title,
		URL:    article.URL,
		Source: article.SourceID,
		Date:   article.Published.Format("2006-01-02"),
	}
	if err := p.ingester.Ingest(ctx, article.Title+"\n\n"+article.Body, meta); err != nil {
		p.stats.ingestFailed.Add(1)
		log.Warnf("Vector ingest failed: %v", err)
		return
	}
	p.stats.ingested.Add(1)
}
