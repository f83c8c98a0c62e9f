package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/normalizer"
	"github.com/xhad/clipping/pkg/rules"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const pgUniqueViolation = "23505"

// Connect opens a connection pool and checks that the server answers.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// Migrate applies all pending catalog migrations and returns the schema
// version.
func Migrate(databaseURL string) (uint, bool, error) {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, false, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL))
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// migrateURL points a postgres URL at the pgx/v5 migrate driver.
func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}

type NewsStoreConfig struct {
	Logger *logrus.Logger
}

// NewsStore is the Postgres catalog: sources, crawl ledger, rules,
// keywords, categories and articles.
type NewsStore struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

func NewNewsStore(pool *pgxpool.Pool, config NewsStoreConfig) *NewsStore {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	return &NewsStore{pool: pool, log: config.Logger}
}

func (s *NewsStore) IsCrawled(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM crawled_urls WHERE url = $1)", url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check crawl ledger: %w", err)
	}
	return exists, nil
}

func (s *NewsStore) MarkCrawled(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawled_urls (url)
		SELECT unnest($1::text[])
		ON CONFLICT (url) DO NOTHING`, urls)
	if err != nil {
		return fmt.Errorf("failed to record crawled urls: %w", err)
	}
	return nil
}

func (s *NewsStore) GetSources(ctx context.Context) ([]models.Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.name, s.home_url,
		       COALESCE(array_agg(m.url ORDER BY m.id) FILTER (WHERE m.id IS NOT NULL), '{}')
		FROM sources s
		LEFT JOIN source_sitemaps m ON m.source_id = s.id
		GROUP BY s.id
		ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Source, error) {
		var src models.Source
		err := row.Scan(&src.ID, &src.Name, &src.HomeURL, &src.Sitemaps)
		return src, err
	})
}

func (s *NewsStore) GetDeclaredSitemaps(ctx context.Context, sourceID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT url FROM source_sitemaps WHERE source_id = $1 ORDER BY id", sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sitemaps for %s: %w", sourceID, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *NewsStore) GetRuleTable(ctx context.Context) ([]models.RuleRow, error) {
	return getRuleTable(ctx, s.pool)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getRuleTable(ctx context.Context, q querier) ([]models.RuleRow, error) {
	rows, err := q.Query(ctx, `
		SELECT rk.rule_id, k.text, rk.position, rk.operator
		FROM rule_keywords rk
		JOIN keywords k ON k.id = rk.keyword_id
		ORDER BY rk.rule_id, rk.position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule table: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RuleRow, error) {
		var r models.RuleRow
		var op string
		err := row.Scan(&r.RuleID, &r.Keyword, &r.Position, &op)
		r.Operator = models.Operator(op)
		return r, err
	})
}

func (s *NewsStore) ResolveKeywordIDs(ctx context.Context, keywords []string) ([]int64, error) {
	stems := make([]string, len(keywords))
	for i, kw := range keywords {
		stems[i] = normalizer.Normalize(kw)
	}

	rows, err := s.pool.Query(ctx, "SELECT stem, id FROM keywords WHERE stem = ANY($1)", stems)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve keywords: %w", err)
	}
	byStem := make(map[string]int64)
	for rows.Next() {
		var stem string
		var id int64
		if err := rows.Scan(&stem, &id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan keyword: %w", err)
		}
		byStem[stem] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve keywords: %w", err)
	}

	ids := make([]int64, len(stems))
	for i, stem := range stems {
		ids[i] = byStem[stem]
	}
	return ids, nil
}

const insertArticle = `
	INSERT INTO articles (url, source_id, title, published, body)
	VALUES ($1, $2, $3, $4, $5)`

// StoreArticles inserts the batch in one transaction.
func (s *NewsStore) StoreArticles(ctx context.Context, articles []models.Article) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, a := range articles {
			batch.Queue(insertArticle, a.URL, a.SourceID, sanitizeUTF8(a.Title), a.Published, sanitizeUTF8(a.Body))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert article batch: %w", err)
		}
		return nil
	})
}

func (s *NewsStore) StoreArticle(ctx context.Context, a models.Article) (bool, error) {
	_, err := s.pool.Exec(ctx, insertArticle, a.URL, a.SourceID, sanitizeUTF8(a.Title), a.Published, sanitizeUTF8(a.Body))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert article %s: %w", a.URL, err)
	}
	return true, nil
}

func (s *NewsStore) StoreArticleKeywords(ctx context.Context, url string, keywordIDs []int64) error {
	if len(keywordIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO article_keywords (article_url, keyword_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`, url, keywordIDs)
	if err != nil {
		return fmt.Errorf("failed to link keywords to %s: %w", url, err)
	}
	return nil
}

// Diagnose reports why an article could not be inserted.
func (s *NewsStore) Diagnose(ctx context.Context, a models.Article) ([]string, error) {
	var duplicate, knownSource, inLedger bool
	err := s.pool.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM articles WHERE url = $1),
			EXISTS (SELECT 1 FROM sources WHERE id = $2),
			EXISTS (SELECT 1 FROM crawled_urls WHERE url = $1)`,
		a.URL, a.SourceID).Scan(&duplicate, &knownSource, &inLedger)
	if err != nil {
		return nil, fmt.Errorf("failed to diagnose article %s: %w", a.URL, err)
	}

	var reasons []string
	if duplicate {
		reasons = append(reasons, ReasonDuplicate)
	}
	if !knownSource {
		reasons = append(reasons, fmt.Sprintf("%s: %s", ReasonUnknownSource, a.SourceID))
	}
	if !inLedger {
		reasons = append(reasons, ReasonNotInLedger)
	}

	if len(a.KeywordIDs) > 0 {
		rows, err := s.pool.Query(ctx, `
			SELECT u.id FROM unnest($1::bigint[]) AS u(id)
			WHERE NOT EXISTS (SELECT 1 FROM keywords k WHERE k.id = u.id)`, a.KeywordIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to diagnose keywords of %s: %w", a.URL, err)
		}
		unknown, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return nil, fmt.Errorf("failed to diagnose keywords of %s: %w", a.URL, err)
		}
		for _, id := range unknown {
			reasons = append(reasons, fmt.Sprintf("%s: %d", ReasonUnknownKeyword, id))
		}
	}
	return reasons, nil
}

// Seed loads sources and a rule catalog in one transaction. Keywords are
// matched by stem, rules already present with the same keywords and
// operator are skipped, and categories are merged by name.
func (s *NewsStore) Seed(ctx context.Context, sources []models.Source, seed *rules.Seed) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, src := range sources {
			if err := seedSource(ctx, tx, src); err != nil {
				return err
			}
		}
		if seed == nil {
			return nil
		}

		byStem := make(map[string]int64)
		for _, kw := range seed.Keywords {
			var id int64
			err := tx.QueryRow(ctx, `
				INSERT INTO keywords (text, stem) VALUES ($1, $2)
				ON CONFLICT (stem) DO UPDATE SET stem = EXCLUDED.stem
				RETURNING id`, kw.Text, kw.Stem).Scan(&id)
			if err != nil {
				return fmt.Errorf("failed to insert keyword %q: %w", kw.Text, err)
			}
			byStem[kw.Stem] = id
		}
		keywordID := func(text string) (int64, error) {
			id, ok := byStem[normalizer.Normalize(text)]
			if !ok {
				return 0, fmt.Errorf("%w: %q", ErrUnknownKeyword, text)
			}
			return id, nil
		}

		existing, err := getRuleTable(ctx, tx)
		if err != nil {
			return err
		}
		signatures := ruleSignatures(existing)
		for _, def := range seed.Rules {
			sig := ruleSignature(def.Operator, def.Keywords)
			if signatures[sig] {
				continue
			}
			signatures[sig] = true

			var ruleID int64
			if err := tx.QueryRow(ctx, "INSERT INTO rules DEFAULT VALUES RETURNING id").Scan(&ruleID); err != nil {
				return fmt.Errorf("failed to insert rule %q: %w", def.String(), err)
			}
			for _, row := range def.Rows(ruleID) {
				id, err := keywordID(row.Keyword)
				if err != nil {
					return err
				}
				_, err = tx.Exec(ctx, `
					INSERT INTO rule_keywords (rule_id, keyword_id, position, operator)
					VALUES ($1, $2, $3, $4)`, ruleID, id, row.Position, string(row.Operator))
				if err != nil {
					return fmt.Errorf("failed to insert rule %q: %w", def.String(), err)
				}
			}
		}

		for _, cat := range seed.Categories {
			var catID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO categories (name) VALUES ($1)
				ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
				RETURNING id`, cat.Name).Scan(&catID)
			if err != nil {
				return fmt.Errorf("failed to insert category %q: %w", cat.Name, err)
			}
			for _, kw := range cat.Keywords {
				id, err := keywordID(kw)
				if err != nil {
					return err
				}
				_, err = tx.Exec(ctx, `
					INSERT INTO category_keywords (category_id, keyword_id) VALUES ($1, $2)
					ON CONFLICT DO NOTHING`, catID, id)
				if err != nil {
					return fmt.Errorf("failed to file %q under %q: %w", kw, cat.Name, err)
				}
			}
		}

		s.log.WithFields(logrus.Fields{
			"sources":    len(sources),
			"keywords":   len(seed.Keywords),
			"rules":      len(seed.Rules),
			"categories": len(seed.Categories),
		}).Info("Catalog seeded")
		return nil
	})
}

func seedSource(ctx context.Context, tx pgx.Tx, src models.Source) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sources (id, name, home_url) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, home_url = EXCLUDED.home_url`,
		src.ID, src.Name, src.HomeURL)
	if err != nil {
		return fmt.Errorf("failed to insert source %s: %w", src.ID, err)
	}
	for _, sm := range src.Sitemaps {
		_, err := tx.Exec(ctx, `
			INSERT INTO source_sitemaps (source_id, url) VALUES ($1, $2)
			ON CONFLICT (source_id, url) DO NOTHING`, src.ID, sm)
		if err != nil {
			return fmt.Errorf("failed to insert sitemap %s: %w", sm, err)
		}
	}
	return nil
}

// DeleteKeyword removes a keyword and applies the rule cascade in one
// transaction.
func (s *NewsStore) DeleteKeyword(ctx context.Context, keyword string) (rules.Cascade, error) {
	var cascade rules.Cascade
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id int64
		var text string
		err := tx.QueryRow(ctx, "SELECT id, text FROM keywords WHERE stem = $1", normalizer.Normalize(keyword)).Scan(&id, &text)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrUnknownKeyword, keyword)
		}
		if err != nil {
			return fmt.Errorf("failed to look up keyword %q: %w", keyword, err)
		}

		table, err := getRuleTable(ctx, tx)
		if err != nil {
			return err
		}
		cascade = rules.CascadeKeywordDelete(table, text)

		if len(cascade.DeletedRules) > 0 {
			if _, err := tx.Exec(ctx, "DELETE FROM rules WHERE id = ANY($1)", cascade.DeletedRules); err != nil {
				return fmt.Errorf("failed to delete rules: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, "DELETE FROM rule_keywords WHERE keyword_id = $1", id); err != nil {
			return fmt.Errorf("failed to delete rule members: %w", err)
		}
		drop := append([]string{text}, cascade.OrphanKeywords...)
		if _, err := tx.Exec(ctx, "DELETE FROM keywords WHERE text = ANY($1)", drop); err != nil {
			return fmt.Errorf("failed to delete keywords: %w", err)
		}
		return nil
	})
	if err != nil {
		return rules.Cascade{}, err
	}

	s.log.WithFields(logrus.Fields{
		"keyword":       keyword,
		"deleted_rules": len(cascade.DeletedRules),
		"orphans":       len(cascade.OrphanKeywords),
	}).Info("Keyword deleted")
	return cascade, nil
}

// FetchArticles lists stored articles matching filter, newest first.
func (s *NewsStore) FetchArticles(ctx context.Context, filter models.ArticleFilter) ([]models.Article, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.From.IsZero() {
		where = append(where, "a.published >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "a.published <= "+arg(filter.To))
	}
	if len(filter.Sources) > 0 {
		sources := make([]string, len(filter.Sources))
		for i, src := range filter.Sources {
			sources[i] = strings.ToLower(src)
		}
		where = append(where, "lower(a.source_id) = ANY("+arg(sources)+")")
	}
	if len(filter.Keywords) > 0 || len(filter.Categories) > 0 {
		stems := make([]string, len(filter.Keywords))
		for i, kw := range filter.Keywords {
			stems[i] = normalizer.Normalize(kw)
		}
		categories := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			categories[i] = strings.ToLower(c)
		}
		where = append(where, fmt.Sprintf(`a.url IN (
			SELECT ak.article_url FROM article_keywords ak
			JOIN keywords k ON k.id = ak.keyword_id
			WHERE k.stem = ANY(%s)
			   OR ak.keyword_id IN (
				SELECT ck.keyword_id FROM category_keywords ck
				JOIN categories c ON c.id = ck.category_id
				WHERE lower(c.name) = ANY(%s)))`, arg(stems), arg(categories)))
	}

	sql := `
		SELECT a.url, a.source_id, a.title, a.published, a.body,
		       COALESCE(array_agg(k.id ORDER BY k.id) FILTER (WHERE k.id IS NOT NULL), '{}'),
		       COALESCE(array_agg(k.text ORDER BY k.id) FILTER (WHERE k.id IS NOT NULL), '{}')
		FROM articles a
		LEFT JOIN article_keywords ak ON ak.article_url = a.url
		LEFT JOIN keywords k ON k.id = ak.keyword_id`
	if len(where) > 0 {
		sql += "\n\t\tWHERE " + strings.Join(where, "\n\t\t  AND ")
	}
	sql += "\n\t\tGROUP BY a.url\n\t\tORDER BY a.published DESC"
	if filter.Limit > 0 {
		sql += "\n\t\tLIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Article, error) {
		var a models.Article
		err := row.Scan(&a.URL, &a.SourceID, &a.Title, &a.Published, &a.Body, &a.KeywordIDs, &a.Keywords)
		return a, err
	})
}

func (s *NewsStore) Keywords(ctx context.Context) ([]models.Keyword, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, text, stem FROM keywords ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query keywords: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Keyword, error) {
		var kw models.Keyword
		err := row.Scan(&kw.ID, &kw.Text, &kw.Stem)
		return kw, err
	})
}

func (s *NewsStore) Categories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name,
		       COALESCE(array_agg(k.text ORDER BY k.id) FILTER (WHERE k.id IS NOT NULL), '{}')
		FROM categories c
		LEFT JOIN category_keywords ck ON ck.category_id = c.id
		LEFT JOIN keywords k ON k.id = ck.keyword_id
		GROUP BY c.id
		ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Category, error) {
		var c models.Category
		err := row.Scan(&c.ID, &c.Name, &c.Keywords)
		return c, err
	})
}
