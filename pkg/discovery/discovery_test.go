package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/config"
	"github.com/xhad/clipping/pkg/fetch"
	"github.com/xhad/clipping/pkg/ledger"
	"github.com/xhad/clipping/pkg/robots"
	"github.com/xhad/clipping/pkg/scraper"
	"github.com/xhad/clipping/pkg/sitemap"
	"github.com/xhad/clipping/pkg/store"
)

var cutoff = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

type collector struct {
	mu   sync.Mutex
	reqs []models.FetchRequest
}

func (c *collector) dispatch(ctx context.Context, req models.FetchRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
}

func (c *collector) urls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, r := range c.reqs {
		out = append(out, r.URL)
	}
	return out
}

func newOrchestrator(st *store.MemoryStore) *Orchestrator {
	fetcher := fetch.NewWithConfig(fetch.FetcherConfig{
		Timeout:    2 * time.Second,
		MaxRetries: 0,
		RateLimit:  1000,
		UserAgents: []string{"clipping-test/1.0"},
	})
	filter := robots.NewFilter(config.DefaultInvalidURLWords, cutoff)
	l := ledger.NewWithConfig(st, ledger.LedgerConfig{BatchSize: 5})
	traverser := sitemap.NewWithConfig(fetcher, l, sitemap.TraverserConfig{Cutoff: cutoff, Filter: filter})
	links := scraper.NewWithConfig(fetcher, scraper.ScraperConfig{MaxDepth: 1})
	return NewWithConfig(fetcher, st, traverser, links, l, OrchestratorConfig{Filter: filter, Concurrency: 4})
}

type site struct {
	*httptest.Server
	mu    sync.Mutex
	pages map[string]string
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := &site{pages: make(map[string]string)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		body, ok := s.pages[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *site) set(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = body
}

func (s *site) source() models.Source {
	return models.Source{ID: models.SourceID(s.URL), Name: "Diario", HomeURL: s.URL + "/"}
}

func (s *site) leaf(path string, slugs ...string) {
	body := `<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, slug := range slugs {
		body += fmt.Sprintf("<url><loc>%s/%s</loc><lastmod>2025-03-04T10:00:00+01:00</lastmod></url>", s.URL, slug)
	}
	s.set(path, body+"</urlset>")
}

func (s *site) home(slugs ...string) {
	body := "<html><body>"
	for _, slug := range slugs {
		body += fmt.Sprintf(`<a href="/%s">n</a>`, slug)
	}
	s.set("/", body+"</body></html>")
}

func TestDiscoverDeclaredSitemaps(t *testing.T) {
	site := newSite(t)
	site.set("/robots.txt", "User-agent: *\nDisallow: /privado/\nSitemap: "+site.URL+"/sitemap-news.xml\nSitemap: "+site.URL+"/sitemap-tag.xml\n")
	site.leaf("/sitemap-news.xml", "economia/sube-el-ibex", "economia/baja-el-paro")
	site.leaf("/sitemap-tag.xml", "tag/bancos")

	st := store.NewMemoryStore()
	o := newOrchestrator(st)
	c := &collector{}

	report := o.Discover(context.Background(), site.source(), c.dispatch)

	assert.Equal(t, []State{StateInit, StateRobotsOK, StateSitemapDeclared, StateDone}, report.States)
	assert.ElementsMatch(t, []string{
		site.URL + "/economia/sube-el-ibex",
		site.URL + "/economia/baja-el-paro",
	}, c.urls())
	assert.Equal(t, 2, report.Dispatched())
	assert.NoError(t, report.Err)
	for _, req := range c.reqs {
		assert.Equal(t, models.OriginSitemap, req.Origin)
		assert.Equal(t, "127.0.0.1", req.SourceID)
	}
}

func TestDiscoverIsIdempotentAcrossRuns(t *testing.T) {
	site := newSite(t)
	site.set("/robots.txt", "Sitemap: "+site.URL+"/sitemap-news.xml\n")
	site.leaf("/sitemap-news.xml", "a", "b", "c", "d", "e", "f", "g")

	st := store.NewMemoryStore()
	first := &collector{}
	newOrchestrator(st).RunSources(context.Background(), []models.Source{site.source()}, first.dispatch)
	require.Len(t, first.reqs, 7)
	assert.Equal(t, 7, st.CrawledCount())

	// a fresh orchestrator, as in a new process, sharing only the store
	second := &collector{}
	reports := newOrchestrator(st).RunSources(context.Background(), []models.Source{site.source()}, second.dispatch)
	assert.Empty(t, second.reqs)
	assert.Equal(t, 0, reports[0].Dispatched())
}

func TestDiscoverConfiguredSitemaps(t *testing.T) {
	site := newSite(t)
	site.set("/robots.txt", "User-agent: *\nDisallow:\n")
	site.leaf("/news/sitemap.xml", "economia/noticia-uno")

	st := store.NewMemoryStore()
	src := site.source()
	src.Sitemaps = []string{"news/sitemap.xml"}
	st.AddSource(src)
	c := &collector{}

	report := newOrchestrator(st).Discover(context.Background(), src, c.dispatch)

	assert.Equal(t, []State{StateInit, StateRobotsOK, StateSitemapFromConfig, StateDone}, report.States)
	assert.Equal(t, []string{site.URL + "/economia/noticia-uno"}, c.urls())
}

func TestDiscoverFallbackWhenRobotsMissing(t *testing.T) {
	site := newSite(t)
	site.home("economia/el-bce-mantiene-los-tipos", "economia/", "contacto")

	st := store.NewMemoryStore()
	c := &collector{}
	o := newOrchestrator(st)

	report := o.Discover(context.Background(), site.source(), c.dispatch)

	assert.Equal(t, []State{StateInit, StateRobotsFail, StateFallback, StateDone}, report.States)
	require.Len(t, c.reqs, 1)
	assert.Equal(t, site.URL+"/economia/el-bce-mantiene-los-tipos", c.reqs[0].URL)
	assert.Equal(t, models.OriginFallback, c.reqs[0].Origin)
	assert.Empty(t, c.reqs[0].Title)
	assert.True(t, c.reqs[0].Published.IsZero())

	crawled, err := st.IsCrawled(context.Background(), c.reqs[0].URL)
	require.NoError(t, err)
	assert.True(t, crawled)

	again := &collector{}
	o.Discover(context.Background(), site.source(), again.dispatch)
	assert.Empty(t, again.reqs)
}

func TestDiscoverFallbackWhenNoSitemapsKnown(t *testing.T) {
	site := newSite(t)
	site.set("/robots.txt", "User-agent: *\nDisallow:\n")
	site.home("una-noticia-sin-sitemap")

	c := &collector{}
	report := newOrchestrator(store.NewMemoryStore()).Discover(context.Background(), site.source(), c.dispatch)

	assert.Equal(t, []State{StateInit, StateRobotsOK, StateFallback, StateDone}, report.States)
	assert.Equal(t, 1, report.FallbackDispatched)
}

func TestDiscoverFallbackOnlyWhenFirstSitemapFails(t *testing.T) {
	site := newSite(t)
	site.set("/robots.txt", "Sitemap: "+site.URL+"/missing.xml\nSitemap: "+site.URL+"/news.xml\n")
	site.leaf("/news.xml", "economia/noticia-del-sitemap")
	site.home("economia/noticia-de-la-portada")

	c := &collector{}
	report := newOrchestrator(store.NewMemoryStore()).Discover(context.Background(), site.source(), c.dispatch)

	assert.Equal(t, []State{StateInit, StateRobotsOK, StateSitemapDeclared, StateFallback, StateDone}, report.States)
	assert.ElementsMatch(t, []string{
		site.URL + "/economia/noticia-del-sitemap",
		site.URL + "/economia/noticia-de-la-portada",
	}, c.urls())

	// a later sitemap failing is silent
	site.set("/robots.txt", "Sitemap: "+site.URL+"/news.xml\nSitemap: "+site.URL+"/missing.xml\n")
	site.leaf("/news.xml", "economia/otra-noticia-del-sitemap")
	c = &collector{}
	report = newOrchestrator(store.NewMemoryStore()).Discover(context.Background(), site.source(), c.dispatch)
	assert.Equal(t, []State{StateInit, StateRobotsOK, StateSitemapDeclared, StateDone}, report.States)
	assert.Equal(t, []string{site.URL + "/economia/otra-noticia-del-sitemap"}, c.urls())
}

func TestRunIsolatesFailingSources(t *testing.T) {
	good := newSite(t)
	good.set("/robots.txt", "Sitemap: "+good.URL+"/news.xml\n")
	good.leaf("/news.xml", "economia/noticia-buena")

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	st := store.NewMemoryStore()
	st.AddSource(models.Source{ID: "caido.example", HomeURL: deadURL + "/"})
	st.AddSource(good.source())

	var mu sync.Mutex
	var finished []string
	o := newOrchestrator(st)
	o.config.OnSourceDone = func(r Report) {
		mu.Lock()
		finished = append(finished, r.SourceID)
		mu.Unlock()
	}

	c := &collector{}
	reports, err := o.Run(context.Background(), c.dispatch)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Error(t, reports[0].Err)
	assert.Equal(t, []State{StateInit, StateRobotsFail, StateFallback, StateDone}, reports[0].States)
	assert.Equal(t, 1, reports[1].Dispatched())
	assert.Equal(t, []string{good.URL + "/economia/noticia-buena"}, c.urls())
	assert.Len(t, finished, 2)
}
