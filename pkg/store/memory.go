package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/normalizer"
	"github.com/xhad/clipping/pkg/rules"
)

var (
	ErrForeignKey = errors.New("foreign key violation")
	ErrConflict   = errors.New("duplicate key")
)

// MemoryStore keeps the whole catalog in process. It backs dry runs and
// tests and enforces the same keys as the Postgres schema.
type MemoryStore struct {
	mu sync.RWMutex

	sources     map[string]models.Source
	sourceOrder []string
	crawled     map[string]time.Time

	keywords     []models.Keyword
	byStem       map[string]int64
	nextKeyword  int64
	ruleRows     []models.RuleRow
	nextRule     int64
	categories   []models.Category
	nextCategory int64

	articles        map[string]models.Article
	articleOrder    []string
	articleKeywords map[string][]int64

	// BatchErr, when set, fails every StoreArticles call.
	BatchErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources:         make(map[string]models.Source),
		crawled:         make(map[string]time.Time),
		byStem:          make(map[string]int64),
		articles:        make(map[string]models.Article),
		articleKeywords: make(map[string][]int64),
	}
}

func (m *MemoryStore) IsCrawled(ctx context.Context, url string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.crawled[url]
	return ok, nil
}

func (m *MemoryStore) MarkCrawled(ctx context.Context, urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, u := range urls {
		if _, ok := m.crawled[u]; !ok {
			m.crawled[u] = now
		}
	}
	return nil
}

func (m *MemoryStore) CrawledCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.crawled)
}

func (m *MemoryStore) AddSource(src models.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[src.ID]; !ok {
		m.sourceOrder = append(m.sourceOrder, src.ID)
	}
	m.sources[src.ID] = src
}

func (m *MemoryStore) GetSources(ctx context.Context) ([]models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Source, 0, len(m.sourceOrder))
	for _, id := range m.sourceOrder {
		out = append(out, m.sources[id])
	}
	return out, nil
}

func (m *MemoryStore) GetDeclaredSitemaps(ctx context.Context, sourceID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.sources[sourceID].Sitemaps...), nil
}

func (m *MemoryStore) GetRuleTable(ctx context.Context) ([]models.RuleRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.RuleRow(nil), m.ruleRows...), nil
}

func (m *MemoryStore) ResolveKeywordIDs(ctx context.Context, keywords []string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, len(keywords))
	for i, kw := range keywords {
		ids[i] = m.byStem[normalizer.Normalize(kw)]
	}
	return ids, nil
}

func (m *MemoryStore) Keywords(ctx context.Context) ([]models.Keyword, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Keyword(nil), m.keywords...), nil
}

func (m *MemoryStore) Categories(ctx context.Context) ([]models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Category(nil), m.categories...), nil
}

// Seed loads sources and a rule catalog. Keywords already present by stem
// are reused.
func (m *MemoryStore) Seed(ctx context.Context, sources []models.Source, seed *rules.Seed) error {
	for _, src := range sources {
		m.AddSource(src)
	}
	if seed == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kw := range seed.Keywords {
		if _, ok := m.byStem[kw.Stem]; ok {
			continue
		}
		m.nextKeyword++
		kw.ID = m.nextKeyword
		m.keywords = append(m.keywords, kw)
		m.byStem[kw.Stem] = kw.ID
	}
	existing := ruleSignatures(m.ruleRows)
	for _, def := range seed.Rules {
		sig := ruleSignature(def.Operator, def.Keywords)
		if existing[sig] {
			continue
		}
		existing[sig] = true
		m.nextRule++
		m.ruleRows = append(m.ruleRows, m.canonicalRows(def.Rows(m.nextRule))...)
	}
	for _, cat := range seed.Categories {
		m.mergeCategory(cat)
	}
	return nil
}

// canonical returns the stored surface of keyword's stem.
func (m *MemoryStore) canonical(keyword string) string {
	if idx := m.keywordIndex(m.byStem[normalizer.Normalize(keyword)]); idx >= 0 {
		return m.keywords[idx].Text
	}
	return keyword
}

func (m *MemoryStore) canonicalRows(rows []models.RuleRow) []models.RuleRow {
	for i := range rows {
		rows[i].Keyword = m.canonical(rows[i].Keyword)
	}
	return rows
}

func (m *MemoryStore) mergeCategory(cat models.Category) {
	keywords := make([]string, len(cat.Keywords))
	for i, kw := range cat.Keywords {
		keywords[i] = m.canonical(kw)
	}
	cat.Keywords = keywords
	for i := range m.categories {
		if !strings.EqualFold(m.categories[i].Name, cat.Name) {
			continue
		}
		for _, kw := range cat.Keywords {
			if !slices.Contains(m.categories[i].Keywords, kw) {
				m.categories[i].Keywords = append(m.categories[i].Keywords, kw)
			}
		}
		return
	}
	m.nextCategory++
	cat.ID = m.nextCategory
	m.categories = append(m.categories, cat)
}

// DeleteKeyword removes a keyword and applies the rule cascade.
func (m *MemoryStore) DeleteKeyword(ctx context.Context, keyword string) (rules.Cascade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byStem[normalizer.Normalize(keyword)]
	if !ok {
		return rules.Cascade{}, fmt.Errorf("%w: %q", ErrUnknownKeyword, keyword)
	}
	keyword = m.keywords[m.keywordIndex(id)].Text

	cascade := rules.CascadeKeywordDelete(m.ruleRows, keyword)
	dropRule := make(map[int64]bool)
	for _, id := range cascade.DeletedRules {
		dropRule[id] = true
	}
	dropKeyword := map[string]bool{keyword: true}
	for _, kw := range cascade.OrphanKeywords {
		dropKeyword[kw] = true
	}

	rows := m.ruleRows[:0]
	for _, row := range m.ruleRows {
		if !dropRule[row.RuleID] && row.Keyword != keyword {
			rows = append(rows, row)
		}
	}
	m.ruleRows = rows

	kws := m.keywords[:0]
	for _, kw := range m.keywords {
		if dropKeyword[kw.Text] {
			delete(m.byStem, kw.Stem)
			continue
		}
		kws = append(kws, kw)
	}
	m.keywords = kws

	for i := range m.categories {
		kept := m.categories[i].Keywords[:0]
		for _, kw := range m.categories[i].Keywords {
			if !dropKeyword[kw] {
				kept = append(kept, kw)
			}
		}
		m.categories[i].Keywords = kept
	}
	return cascade, nil
}

func (m *MemoryStore) keywordIndex(id int64) int {
	for i, kw := range m.keywords {
		if kw.ID == id {
			return i
		}
	}
	return -1
}

func (m *MemoryStore) checkArticle(a models.Article) error {
	if _, ok := m.articles[a.URL]; ok {
		return ErrConflict
	}
	if _, ok := m.sources[a.SourceID]; !ok {
		return fmt.Errorf("%w: unknown source %q", ErrForeignKey, a.SourceID)
	}
	if _, ok := m.crawled[a.URL]; !ok {
		return fmt.Errorf("%w: url %q not in ledger", ErrForeignKey, a.URL)
	}
	return nil
}

func (m *MemoryStore) insertArticle(a models.Article) {
	m.articles[a.URL] = a
	m.articleOrder = append(m.articleOrder, a.URL)
}

// StoreArticles inserts the batch atomically.
func (m *MemoryStore) StoreArticles(ctx context.Context, articles []models.Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BatchErr != nil {
		return m.BatchErr
	}
	for _, a := range articles {
		if err := m.checkArticle(a); err != nil {
			return fmt.Errorf("failed to insert article batch: %w", err)
		}
	}
	for _, a := range articles {
		m.insertArticle(a)
	}
	return nil
}

func (m *MemoryStore) StoreArticle(ctx context.Context, a models.Article) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkArticle(a); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	m.insertArticle(a)
	return true, nil
}

func (m *MemoryStore) StoreArticleKeywords(ctx context.Context, url string, keywordIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[url]; !ok {
		return fmt.Errorf("%w: article %q not stored", ErrForeignKey, url)
	}
	known := make(map[int64]bool, len(m.keywords))
	for _, kw := range m.keywords {
		known[kw.ID] = true
	}
	for _, id := range keywordIDs {
		if !known[id] {
			return fmt.Errorf("%w: unknown keyword id %d", ErrForeignKey, id)
		}
	}
	m.articleKeywords[url] = mergeIDs(m.articleKeywords[url], keywordIDs)
	return nil
}

func (m *MemoryStore) Diagnose(ctx context.Context, a models.Article) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var reasons []string
	if _, ok := m.articles[a.URL]; ok {
		reasons = append(reasons, ReasonDuplicate)
	}
	if _, ok := m.sources[a.SourceID]; !ok {
		reasons = append(reasons, fmt.Sprintf("%s: %s", ReasonUnknownSource, a.SourceID))
	}
	if _, ok := m.crawled[a.URL]; !ok {
		reasons = append(reasons, ReasonNotInLedger)
	}
	known := make(map[int64]bool, len(m.keywords))
	for _, kw := range m.keywords {
		known[kw.ID] = true
	}
	for _, id := range a.KeywordIDs {
		if !known[id] {
			reasons = append(reasons, fmt.Sprintf("%s: %d", ReasonUnknownKeyword, id))
		}
	}
	return reasons, nil
}

// FetchArticles lists stored articles matching filter, newest first.
func (m *MemoryStore) FetchArticles(ctx context.Context, filter models.ArticleFilter) ([]models.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wantKeyword := make(map[string]bool)
	for _, kw := range filter.Keywords {
		wantKeyword[normalizer.Normalize(kw)] = true
	}
	for _, cat := range m.categories {
		if containsFold(filter.Categories, cat.Name) {
			for _, kw := range cat.Keywords {
				wantKeyword[normalizer.Normalize(kw)] = true
			}
		}
	}
	idStem := make(map[int64]string, len(m.keywords))
	for _, kw := range m.keywords {
		idStem[kw.ID] = kw.Stem
	}
	keywordFilter := len(filter.Keywords) > 0 || len(filter.Categories) > 0

	var out []models.Article
	for _, url := range m.articleOrder {
		a := m.articles[url]
		if !filter.From.IsZero() && a.Published.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && a.Published.After(filter.To) {
			continue
		}
		if len(filter.Sources) > 0 && !containsFold(filter.Sources, a.SourceID) {
			continue
		}
		if keywordFilter {
			match := false
			for _, id := range m.articleKeywords[url] {
				if wantKeyword[idStem[id]] {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		a.KeywordIDs = append([]int64(nil), m.articleKeywords[url]...)
		a.Keywords = nil
		for _, id := range a.KeywordIDs {
			if i := m.keywordIndex(id); i >= 0 {
				a.Keywords = append(a.Keywords, m.keywords[i].Text)
			}
		}
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Published.After(out[j].Published) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func mergeIDs(have, add []int64) []int64 {
	seen := make(map[int64]bool, len(have))
	for _, id := range have {
		seen[id] = true
	}
	for _, id := range add {
		if !seen[id] {
			seen[id] = true
			have = append(have, id)
		}
	}
	return have
}
