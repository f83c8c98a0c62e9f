package store

import (
	"context"
	"hash/fnv"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/processor"
)

func TestSelectArticles(t *testing.T) {
	candidates := []models.Document{
		{URL: "https://a.es/1", Score: 0.9, ChunkIndex: 2},
		{URL: "https://a.es/1", Score: 0.8, ChunkIndex: 0},
		{URL: "https://a.es/2", Score: 0.7},
		{URL: "", Score: 0.6},
		{URL: "https://a.es/3", Score: 0.5},
		{URL: "https://a.es/4", Score: 0.2},
	}

	got := selectArticles(candidates, 10, 0.25)
	require.Len(t, got, 3)
	assert.Equal(t, "https://a.es/1", got[0].URL)
	assert.Equal(t, 2, got[0].ChunkIndex, "best chunk wins")
	assert.Equal(t, "https://a.es/2", got[1].URL)
	assert.Equal(t, "https://a.es/3", got[2].URL)

	got = selectArticles(candidates, 2, 0.25)
	assert.Len(t, got, 2)

	assert.Empty(t, selectArticles(candidates, 10, 0.95))
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "año", sanitizeUTF8("año"))
	assert.Equal(t, "ao", sanitizeUTF8("a\xffo"))
}

// hashEmbedder maps each word to a fixed dimension, so texts sharing words
// are close under cosine distance.
type hashEmbedder struct{ dim int }

func (e hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dim)
	for _, w := range splitWords(text) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[int(h.Sum32())%e.dim]++
	}
	v[0] += 0.01
	return v, nil
}

func splitWords(s string) []string {
	var words []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\n' {
			if start >= 0 {
				words = append(words, s[start:i])
			}
			start = -1
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
	}
	return words
}

func testPoolURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("CLIPPING_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CLIPPING_TEST_DATABASE_URL not set")
	}
	return url
}

func TestVectorStoreIngestAndQuery(t *testing.T) {
	ctx := context.Background()
	pool, err := Connect(ctx, testPoolURL(t))
	require.NoError(t, err)
	defer pool.Close()

	table := "test_chunks"
	_, err = pool.Exec(ctx, "DROP TABLE IF EXISTS "+table)
	require.NoError(t, err)

	vs, err := NewVectorStore(ctx, pool, hashEmbedder{dim: 64}, processor.NewWithConfig(processor.ProcessorConfig{}), VectorStoreConfig{
		TableName: table,
		VectorDim: 64,
		MinScore:  0.1,
	})
	require.NoError(t, err)

	articles := []models.IngestMetadata{
		{Title: "Subida del euríbor", URL: "https://www.diario.es/economia/euribor", Source: "www.diario.es", Date: "2025-03-03"},
		{Title: "Final de copa", URL: "https://www.diario.es/deportes/copa", Source: "www.diario.es", Date: "2025-03-05"},
	}
	bodies := []string{
		"el euribor sube y las hipotecas se encarecen para las familias",
		"el equipo gana la final de copa en el estadio",
	}
	for i, meta := range articles {
		require.NoError(t, vs.Ingest(ctx, meta.Title+"\n\n"+bodies[i], meta))
	}
	// re-ingesting upserts instead of failing
	require.NoError(t, vs.Ingest(ctx, articles[0].Title+"\n\n"+bodies[0], articles[0]))

	docs, err := vs.Query(ctx, "Hipotecas y euríbor", SearchOptions{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, articles[0].URL, docs[0].URL)
	assert.Equal(t, "2025-03-03", docs[0].Metadata.Date)

	urls := make(map[string]int)
	for _, d := range docs {
		urls[d.URL]++
	}
	for url, n := range urls {
		assert.Equal(t, 1, n, url)
	}

	docs, err = vs.Query(ctx, "Hipotecas y euríbor", SearchOptions{
		Limit: 5,
		From:  time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	for _, d := range docs {
		assert.NotEqual(t, articles[0].URL, d.URL)
	}

	require.NoError(t, vs.DeleteArticle(ctx, articles[0].URL))
	docs, err = vs.Query(ctx, "Hipotecas y euríbor", SearchOptions{Limit: 5, MinScore: 0.01})
	require.NoError(t, err)
	for _, d := range docs {
		assert.NotEqual(t, articles[0].URL, d.URL)
	}
}
