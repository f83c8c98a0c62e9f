package store

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/internal/types"
	"github.com/xhad/clipping/pkg/processor"
)

type VectorStoreConfig struct {
	TableName string
	VectorDim int
	// SearchLimit is the default number of articles a query returns.
	SearchLimit int
	// MinScore drops chunks whose cosine similarity is below it.
	MinScore float64
	// CandidateFactor sets how many chunks are pulled per wanted article
	// before deduplication.
	CandidateFactor int
	Logger          *logrus.Logger
}

// SearchOptions narrows a similarity query. Zero values fall back to the
// store defaults; zero dates leave the range open.
type SearchOptions struct {
	Limit    int
	MinScore float64
	From     time.Time
	To       time.Time
}

// batchEmbedder is implemented by embedders that can embed several texts
// in one round trip.
type batchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore keeps article chunks and their embeddings in a pgvector
// table. It is the vector ingest sink of a crawl and serves semantic search.
type VectorStore struct {
	config    VectorStoreConfig
	pool      *pgxpool.Pool
	embedder  types.Embedder
	processor processor.Processor
	log       *logrus.Logger
}

func NewVectorStore(ctx context.Context, pool *pgxpool.Pool, embedder types.Embedder, proc processor.Processor, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "article_chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 10
	}
	if config.MinScore == 0 {
		config.MinScore = 0.25
	}
	if config.CandidateFactor == 0 {
		config.CandidateFactor = 5
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	vs := &VectorStore{
		config:    config,
		pool:      pool,
		embedder:  embedder,
		processor: proc,
		log:       config.Logger,
	}
	if err := vs.initialize(ctx); err != nil {
		return nil, err
	}
	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	// The vector width depends on the embedding model, so this table is
	// created here rather than by the schema migrations.
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			title TEXT,
			source TEXT,
			published DATE,
			content TEXT,
			chunk_index INTEGER,
			embedding vector(%d),
			metadata JSONB
		)`, vs.config.TableName, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// Create vector index
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		vs.config.TableName, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	createDateIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_published_idx ON %s (published)`,
		vs.config.TableName, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, createDateIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Ingest cleans, chunks and embeds an article and upserts its chunks.
func (vs *VectorStore) Ingest(ctx context.Context, text string, meta models.IngestMetadata) error {
	doc, err := vs.processor.Process(text, meta)
	if err != nil {
		return err
	}
	if len(doc.Chunks) == 0 {
		return nil
	}

	vectors, err := vs.embed(ctx, doc.Chunks)
	if err != nil {
		return err
	}

	var published *time.Time
	if d, err := time.Parse(time.DateOnly, meta.Date); err == nil {
		published = &d
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, url, title, source, published, content, chunk_index, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.config.TableName)

	batch := &pgx.Batch{}
	title := sanitizeUTF8(meta.Title)
	for i, chunk := range doc.Chunks {
		batch.Queue(stmt,
			fmt.Sprintf("%s_%d", doc.ID, i),
			meta.URL,
			title,
			meta.Source,
			published,
			sanitizeUTF8(chunk),
			i,
			pgvector.NewVector(vectors[i]),
			meta,
		)
	}
	if err := vs.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks for %s: %w", meta.URL, err)
	}
	return nil
}

func (vs *VectorStore) embed(ctx context.Context, chunks []string) ([][]float32, error) {
	if b, ok := vs.embedder.(batchEmbedder); ok {
		return b.EmbedBatch(ctx, chunks)
	}
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		v, err := vs.embedder.Embed(ctx, c)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// Query returns the articles whose chunks are most similar to query, one
// entry per article URL, best first.
func (vs *VectorStore) Query(ctx context.Context, query string, opts SearchOptions) ([]models.Document, error) {
	if opts.Limit <= 0 {
		opts.Limit = vs.config.SearchLimit
	}
	if opts.MinScore <= 0 {
		opts.MinScore = vs.config.MinScore
	}

	vector, err := vs.embedder.Embed(ctx, processor.CleanText(query))
	if err != nil {
		return nil, err
	}

	var from, to *time.Time
	if !opts.From.IsZero() {
		from = &opts.From
	}
	if !opts.To.IsZero() {
		to = &opts.To
	}

	sql := fmt.Sprintf(`
		SELECT id, url, title, content, chunk_index, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE ($3::date IS NULL OR published >= $3::date)
		  AND ($4::date IS NULL OR published <= $4::date)
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, sql, pgvector.NewVector(vector), opts.Limit*vs.config.CandidateFactor, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var candidates []models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.URL, &doc.Title, &doc.Content, &doc.ChunkIndex, &doc.Metadata, &doc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		candidates = append(candidates, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}

	return selectArticles(candidates, opts.Limit, opts.MinScore), nil
}

// DeleteArticle removes every chunk of an article.
func (vs *VectorStore) DeleteArticle(ctx context.Context, url string) error {
	_, err := vs.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE url = $1", vs.config.TableName), url)
	if err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", url, err)
	}
	return nil
}

// selectArticles keeps the best chunk per article from candidates ordered
// by decreasing similarity.
func selectArticles(candidates []models.Document, limit int, minScore float64) []models.Document {
	seen := make(map[string]bool)
	var out []models.Document
	for _, doc := range candidates {
		if doc.URL == "" || seen[doc.URL] || doc.Score < minScore {
			continue
		}
		seen[doc.URL] = true
		out = append(out, doc)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
