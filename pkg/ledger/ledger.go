// Package ledger buffers writes to the crawl ledger. A URL is claimed at
// most once: the membership check and the pending write for the same URL
// happen under one lock stripe, so concurrent traversals never both
// dispatch it.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/xhad/clipping/internal/types"
)

type LedgerConfig struct {
	BatchSize int
	Stripes   int
	Logger    *logrus.Logger
}

type Ledger struct {
	store     types.CrawlLedger
	batchSize int
	stripes   []sync.Mutex
	log       *logrus.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	flushMu sync.Mutex
}

func NewWithConfig(store types.CrawlLedger, config LedgerConfig) *Ledger {
	if config.BatchSize <= 0 {
		config.BatchSize = 5
	}
	if config.Stripes <= 0 {
		config.Stripes = 64
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	return &Ledger{
		store:     store,
		batchSize: config.BatchSize,
		stripes:   make([]sync.Mutex, config.Stripes),
		log:       config.Logger,
		pending:   make(map[string]struct{}),
	}
}

func (l *Ledger) stripe(url string) *sync.Mutex {
	return &l.stripes[xxhash.Sum64String(url)%uint64(len(l.stripes))]
}

func (l *Ledger) isPending(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[url]
	return ok
}

// Seen reports whether url is already recorded or awaiting a flush.
func (l *Ledger) Seen(ctx context.Context, url string) (bool, error) {
	s := l.stripe(url)
	s.Lock()
	defer s.Unlock()
	return l.seenLocked(ctx, url)
}

func (l *Ledger) seenLocked(ctx context.Context, url string) (bool, error) {
	if l.isPending(url) {
		return true, nil
	}
	crawled, err := l.store.IsCrawled(ctx, url)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return crawled, nil
}

// Claim records url as explored if it is not already, and reports whether
// the caller now owns it. Pending claims are written in batches.
func (l *Ledger) Claim(ctx context.Context, url string) (bool, error) {
	s := l.stripe(url)
	s.Lock()
	seen, err := l.seenLocked(ctx, url)
	if err != nil || seen {
		s.Unlock()
		return false, err
	}

	l.mu.Lock()
	l.pending[url] = struct{}{}
	full := len(l.pending) >= l.batchSize
	l.mu.Unlock()
	s.Unlock()

	if full {
		if err := l.Flush(ctx); err != nil {
			l.log.WithField("pending", l.Pending()).Warnf("Ledger batch write failed, will retry: %v", err)
		}
	}
	return true, nil
}

// Flush writes every pending claim. Claims stay pending, and therefore
// still count as seen, until the store accepts them.
func (l *Ledger) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	batch := make([]string, 0, len(l.pending))
	for url := range l.pending {
		batch = append(batch, url)
	}
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := l.store.MarkCrawled(ctx, batch); err != nil {
		return fmt.Errorf("failed to mark %d urls crawled: %w", len(batch), err)
	}

	l.mu.Lock()
	for _, url := range batch {
		delete(l.pending, url)
	}
	l.mu.Unlock()
	return nil
}

func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
