package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/config"
	"github.com/xhad/clipping/pkg/rules"
	"github.com/xhad/clipping/pkg/store"
)

func newsSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "User-agent: *\nSitemap: %s/sitemap-news.xml\n", server.URL)
	})
	mux.HandleFunc("/sitemap-news.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9" xmlns:news="http://www.google.com/schemas/sitemap-news/0.9">
<url><loc>%[1]s/economia/el-bce-sube-los-tipos</loc><news:news><news:publication_date>2025-03-04T08:00:00+01:00</news:publication_date><news:title>El BCE sube los tipos</news:title></news:news></url>
<url><loc>%[1]s/deportes/gana-el-equipo-local</loc><lastmod>2025-03-04T09:00:00+01:00</lastmod></url>
<url><loc>%[1]s/economia/noticia-antigua</loc><lastmod>2025-02-01T09:00:00+01:00</lastmod></url>
</urlset>`, server.URL)
	})
	mux.HandleFunc("/economia/el-bce-sube-los-tipos", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><p>El BCE anunció una subida del Euríbor.</p></body></html>`)
	})
	mux.HandleFunc("/deportes/gana-el-equipo-local", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Gana el equipo local</title>
			<meta property="article:published_time" content="2025-03-04T09:00:00+01:00"></head>
			<body><p>El partido terminó dos a uno.</p></body></html>`)
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Crawler.FromDate = "2025-03-03"
	cfg.Crawler.RateLimit = 1000
	cfg.Crawler.Timeout = 2 * time.Second
	cfg.Crawler.MaxRetries = 0
	cfg.Database.FailedArticlesPath = filepath.Join(t.TempDir(), "failed.jsonl")
	return cfg
}

func drain(job *Job) []Event {
	var events []Event
	for ev := range job.Progress {
		events = append(events, ev)
	}
	return events
}

func TestCrawlJob(t *testing.T) {
	ctx := context.Background()
	site := newsSite(t)

	st := store.NewMemoryStore()
	seed, err := rules.BuildSeed([]rules.CategoryRules{{Name: "Banca", Descriptions: []string{"bce o euribor"}}})
	require.NoError(t, err)
	require.NoError(t, st.Seed(ctx, []models.Source{{ID: models.SourceID(site.URL), Name: "Diario", HomeURL: site.URL + "/"}}, seed))

	crawler := New(testConfig(t), st, nil, nil)
	job, err := crawler.Start(ctx, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 1, job.Total)

	events := drain(job)
	result, err := job.Wait()
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, EventSource, events[0].Kind)
	assert.Equal(t, 1, events[0].Finished)
	assert.Equal(t, EventDone, events[1].Kind)
	require.NotNil(t, events[1].Stats)

	assert.Equal(t, 2, result.Dispatched())
	assert.Equal(t, int64(2), result.Pipeline.Fetched)
	assert.Equal(t, int64(1), result.Pipeline.Accepted)
	assert.Equal(t, int64(1), result.Pipeline.Stored)

	articles, err := st.FetchArticles(ctx, models.ArticleFilter{Categories: []string{"banca"}})
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "El BCE sube los tipos", articles[0].Title)
	assert.ElementsMatch(t, []string{"bce", "euribor"}, articles[0].Keywords)

	// a second run finds nothing new
	job, err = crawler.Start(ctx, Options{})
	require.NoError(t, err)
	drain(job)
	result, err = job.Wait()
	require.NoError(t, err)
	assert.Zero(t, result.Dispatched())
}

func TestCrawlJobSourceFilter(t *testing.T) {
	ctx := context.Background()
	site := newsSite(t)

	st := store.NewMemoryStore()
	st.AddSource(models.Source{ID: models.SourceID(site.URL), HomeURL: site.URL + "/"})

	job, err := New(testConfig(t), st, nil, nil).Start(ctx, Options{Sources: []string{"otro.example"}})
	require.NoError(t, err)
	assert.Zero(t, job.Total)

	drain(job)
	result, err := job.Wait()
	require.NoError(t, err)
	assert.Empty(t, result.Reports)
}
