package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/store"
)

type fakeVectors struct {
	query string
	opts  store.SearchOptions
	docs  []models.Document
	err   error
}

func (f *fakeVectors) Query(ctx context.Context, query string, opts store.SearchOptions) ([]models.Document, error) {
	f.query = query
	f.opts = opts
	return f.docs, f.err
}

func madrid(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	return loc
}

func TestSemantic(t *testing.T) {
	vectors := &fakeVectors{docs: []models.Document{{
		URL:     "https://www.diario.es/euribor",
		Title:   "fallback",
		Content: "el euríbor sube",
		Score:   0.8,
		Metadata: models.IngestMetadata{
			Title:  "Sube el euríbor",
			URL:    "https://www.diario.es/euribor",
			Source: "www.diario.es",
			Date:   "2025-03-03",
		},
	}}}
	loc := madrid(t)
	svc := NewWithConfig(vectors, store.NewMemoryStore(), SearchConfig{Location: loc, MinScore: 0.3})

	hits, err := svc.Semantic(context.Background(), Request{Query: "hipotecas", From: "2025-03-01", To: "2025-03-03"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, Hit{
		Title:   "Sube el euríbor",
		URL:     "https://www.diario.es/euribor",
		Source:  "www.diario.es",
		Date:    "2025-03-03",
		Score:   0.8,
		Snippet: "el euríbor sube",
	}, hits[0])

	assert.Equal(t, "hipotecas", vectors.query)
	assert.Equal(t, 10, vectors.opts.Limit)
	assert.Equal(t, 0.3, vectors.opts.MinScore)
	assert.True(t, vectors.opts.From.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, loc)))
	assert.True(t, vectors.opts.To.Before(time.Date(2025, 3, 4, 0, 0, 0, 0, loc)))
	assert.True(t, vectors.opts.To.After(time.Date(2025, 3, 3, 23, 59, 59, 0, loc)))
}

func TestSemanticErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewWithConfig(nil, store.NewMemoryStore(), SearchConfig{}).Semantic(ctx, Request{Query: "x"})
	assert.ErrorIs(t, err, ErrNoVectorStore)

	svc := NewWithConfig(&fakeVectors{err: assert.AnError}, store.NewMemoryStore(), SearchConfig{})
	_, err = svc.Semantic(ctx, Request{Query: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = svc.Semantic(ctx, Request{Query: "x", From: "03/03/2025"})
	assert.Error(t, err)

	_, err = svc.Semantic(ctx, Request{Query: "x", From: "2025-03-05", To: "2025-03-01"})
	assert.Error(t, err)

	_, err = svc.Semantic(ctx, Request{Query: "x"})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestArticles(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	st.AddSource(models.Source{ID: "www.diario.es", HomeURL: "https://www.diario.es/"})

	day := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	var urls []string
	for i := 0; i < 3; i++ {
		urls = append(urls, "https://www.diario.es/"+string(rune('a'+i)))
	}
	require.NoError(t, st.MarkCrawled(ctx, urls))
	for i, u := range urls {
		require.NoError(t, st.StoreArticles(ctx, []models.Article{{
			SourceID:  "www.diario.es",
			URL:       u,
			Title:     u,
			Published: day.AddDate(0, 0, i),
			Body:      "texto",
		}}))
	}

	svc := NewWithConfig(nil, st, SearchConfig{Limit: 2})

	got, err := svc.Articles(ctx, Request{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, urls[2], got[0].URL)

	got, err = svc.Articles(ctx, Request{From: "2025-03-04", To: "2025-03-04", Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, urls[1], got[0].URL)

	_, err = svc.Articles(ctx, Request{To: "mañana"})
	assert.Error(t, err)
}
