package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/dates"
)

func madrid(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	return loc
}

func newExtractor(t *testing.T) *Extractor {
	loc := madrid(t)
	return NewWithConfig(ExtractorConfig{
		Cutoff:            time.Date(2025, 3, 3, 0, 0, 0, 0, loc),
		Dates:             dates.NewParser(loc),
		MonthFirstSources: []string{"www.feb.es"},
	})
}

func page(html string) *models.Page {
	return &models.Page{
		URL:         "https://www.diario.es/economia/noticia",
		StatusCode:  200,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(html),
	}
}

func TestExtractPrefersSitemapMetadata(t *testing.T) {
	e := newExtractor(t)
	published := time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC)

	article, err := e.Extract(page(`<html><head><title>Título de la página</title></head>
		<body><p>Primer párrafo <a href="/x">enlace</a> sigue.</p><p>Segundo párrafo.</p></body></html>`),
		models.FetchRequest{
			SourceID:  "www.diario.es",
			URL:       " https://www.diario.es/economia/noticia ",
			Title:     "Título del sitemap",
			Published: published,
		})
	require.NoError(t, err)

	assert.Equal(t, "www.diario.es", article.SourceID)
	assert.Equal(t, "https://www.diario.es/economia/noticia", article.URL)
	assert.Equal(t, "Título del sitemap", article.Title)
	assert.True(t, published.Equal(article.Published))
	assert.Equal(t, "Europe/Madrid", article.Published.Location().String())
	assert.Equal(t, "Primer párrafo sigue. Segundo párrafo.", article.Body)
}

func TestExtractFallsBackToPageFields(t *testing.T) {
	e := newExtractor(t)

	article, err := e.Extract(page(`<html><head>
		<meta property="og:title" content="El BCE mantiene los tipos">
		<meta property="article:published_time" content="2025-03-04T09:30:00+01:00">
		<title>Portada</title></head>
		<body><p>Texto de la noticia.</p></body></html>`),
		models.FetchRequest{SourceID: "www.diario.es", URL: "https://www.diario.es/a"})
	require.NoError(t, err)

	assert.Equal(t, "El BCE mantiene los tipos", article.Title)
	assert.WithinDuration(t, time.Date(2025, 3, 4, 9, 30, 0, 0, madrid(t)), article.Published, 0)
}

func TestExtractSpanishSignatureDate(t *testing.T) {
	e := newExtractor(t)

	article, err := e.Extract(page(`<html><body>
		<h1>Las hipotecas suben</h1>
		<p class="firma">Redacción<br>lunes, 3 de marzo de 2025 a las 10:00h</p>
		<p>Cuerpo.</p></body></html>`),
		models.FetchRequest{SourceID: "www.diario.es", URL: "https://www.diario.es/b"})
	require.NoError(t, err)

	assert.Equal(t, "Las hipotecas suben", article.Title)
	assert.WithinDuration(t, time.Date(2025, 3, 3, 10, 0, 0, 0, madrid(t)), article.Published, 0)
}

func TestExtractMonthFirstSource(t *testing.T) {
	e := newExtractor(t)
	html := `<html><body><h1>Nota</h1><span class="date">03/04/2025</span><p>Texto.</p></body></html>`

	article, err := e.Extract(page(html), models.FetchRequest{SourceID: "www.feb.es", URL: "https://www.feb.es/n"})
	require.NoError(t, err)
	assert.Equal(t, time.March, article.Published.Month())
	assert.Equal(t, 4, article.Published.Day())

	article, err = e.Extract(page(html), models.FetchRequest{SourceID: "www.diario.es", URL: "https://www.diario.es/n"})
	require.NoError(t, err)
	assert.Equal(t, time.April, article.Published.Month())
	assert.Equal(t, 3, article.Published.Day())
}

func TestExtractIconSiblingDate(t *testing.T) {
	e := newExtractor(t)

	article, err := e.Extract(page(`<html><body><h1>Nota</h1>
		<div class="fDescripcionA2"><i class="fa icon-clock"></i> 04/03/2025</div>
		<div class="cuerpo">Cuerpo sin párrafos.</div></body></html>`),
		models.FetchRequest{SourceID: "www.diario.es", URL: "https://www.diario.es/c"})
	require.NoError(t, err)

	assert.Equal(t, 4, article.Published.Day())
	assert.Equal(t, time.March, article.Published.Month())
	assert.Equal(t, "Cuerpo sin párrafos.", article.Body)
}

func TestExtractDecodesCharset(t *testing.T) {
	e := newExtractor(t)
	p := page("")
	p.ContentType = "text/html; charset=iso-8859-1"
	// "Economía" and "años" in Latin-1
	p.Body = []byte("<html><body><h1>Econom\xeda</h1><p>Hace a\xf1os.</p></body></html>")

	article, err := e.Extract(p, models.FetchRequest{
		SourceID:  "www.diario.es",
		URL:       "https://www.diario.es/d",
		Published: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "Economía", article.Title)
	assert.Equal(t, "Hace años.", article.Body)
}

func TestExtractRejects(t *testing.T) {
	e := newExtractor(t)
	req := models.FetchRequest{SourceID: "www.diario.es", URL: "https://www.diario.es/e"}

	tests := []struct {
		name string
		html string
		want error
	}{
		{
			name: "empty body",
			html: `<html><head><title>T</title></head><body><div>nada</div></body></html>`,
			want: ErrNoBody,
		},
		{
			name: "no title",
			html: `<html><body><time datetime="2025-03-04">hoy</time><p>Texto.</p></body></html>`,
			want: ErrNoTitle,
		},
		{
			name: "no date",
			html: `<html><head><title>T</title></head><body><p>Texto.</p></body></html>`,
			want: ErrNoDate,
		},
		{
			name: "unparseable date",
			html: `<html><head><title>T</title></head><body><span class="date">próximamente</span><p>Texto.</p></body></html>`,
			want: ErrNoDate,
		},
		{
			name: "stale",
			html: `<html><head><title>T</title></head><body><time datetime="2025-03-02T23:59:00+01:00"></time><p>Texto.</p></body></html>`,
			want: ErrStale,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			article, err := e.Extract(page(tt.html), req)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, article)
		})
	}
}
