// Package store persists the news catalog (sources, crawl ledger, rules,
// keywords, categories and articles) and the article vector index.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/internal/types"
	"github.com/xhad/clipping/pkg/normalizer"
	"github.com/xhad/clipping/pkg/rules"
)

var ErrUnknownKeyword = errors.New("unknown keyword")

// Reasons reported by Diagnose for an article that could not be stored.
const (
	ReasonDuplicate      = "duplicate url"
	ReasonUnknownSource  = "unknown source"
	ReasonUnknownKeyword = "unknown keyword id"
	ReasonNotInLedger    = "url not in crawl ledger"
)

// Catalog is the full persistence surface: what a crawl run consumes plus
// the administrative and retrieval operations.
type Catalog interface {
	types.Store
	Seed(ctx context.Context, sources []models.Source, seed *rules.Seed) error
	DeleteKeyword(ctx context.Context, keyword string) (rules.Cascade, error)
	FetchArticles(ctx context.Context, filter models.ArticleFilter) ([]models.Article, error)
	Keywords(ctx context.Context) ([]models.Keyword, error)
	Categories(ctx context.Context) ([]models.Category, error)
}

var (
	_ Catalog = (*MemoryStore)(nil)
	_ Catalog = (*NewsStore)(nil)
)

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// ruleSignature identifies a rule by operator and keyword stems in
// position order, so re-seeding a catalog does not duplicate rules.
func ruleSignature(op models.Operator, keywords []string) string {
	stems := make([]string, len(keywords))
	for i, kw := range keywords {
		stems[i] = normalizer.Normalize(kw)
	}
	return string(op) + "|" + strings.Join(stems, "|")
}

func ruleSignatures(rows []models.RuleRow) map[string]bool {
	byRule := make(map[int64][]models.RuleRow)
	for _, row := range rows {
		byRule[row.RuleID] = append(byRule[row.RuleID], row)
	}
	out := make(map[string]bool, len(byRule))
	for _, members := range byRule {
		sort.Slice(members, func(i, j int) bool { return members[i].Position < members[j].Position })
		keywords := make([]string, len(members))
		for i, row := range members {
			keywords[i] = row.Keyword
		}
		out[ruleSignature(members[0].Operator, keywords)] = true
	}
	return out
}
