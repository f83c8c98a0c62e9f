package types

import (
	"context"

	"github.com/xhad/clipping/internal/models"
)

// Fetcher retrieves a document over HTTP, retrying transient failures.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*models.Page, error)
}

// CrawlLedger is the durable record of URLs already visited. MarkCrawled
// must be idempotent.
type CrawlLedger interface {
	IsCrawled(ctx context.Context, url string) (bool, error)
	MarkCrawled(ctx context.Context, urls []string) error
}

type SourceStore interface {
	GetSources(ctx context.Context) ([]models.Source, error)
	GetDeclaredSitemaps(ctx context.Context, sourceID string) ([]string, error)
}

type RuleStore interface {
	GetRuleTable(ctx context.Context) ([]models.RuleRow, error)
	// ResolveKeywordIDs returns one id per keyword, 0 where the keyword is unknown.
	ResolveKeywordIDs(ctx context.Context, keywords []string) ([]int64, error)
}

type ArticleStore interface {
	StoreArticles(ctx context.Context, articles []models.Article) error
	// StoreArticle returns false when the article conflicts with an existing key.
	StoreArticle(ctx context.Context, article models.Article) (bool, error)
	StoreArticleKeywords(ctx context.Context, url string, keywordIDs []int64) error
	Diagnose(ctx context.Context, article models.Article) ([]string, error)
}

// Store is everything a crawl run needs from persistence.
type Store interface {
	CrawlLedger
	SourceStore
	RuleStore
	ArticleStore
}

// Ingester is the vector-search sink for accepted articles.
type Ingester interface {
	Ingest(ctx context.Context, text string, meta models.IngestMetadata) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
