package robots

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cutoff = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func TestIsValidSitemapURL(t *testing.T) {
	f := NewFilter([]string{"tag", "category", "autor", "video"}, cutoff)

	tests := []struct {
		url   string
		valid bool
	}{
		{"https://www.elpais.com/sitemaps/news.xml", true},
		{"https://www.elpais.com/sitemap-tag.xml", false},
		{"https://www.elpais.com/sitemaps/category/economia.xml", false},
		{"https://www.elpais.com/sitemap_autor_1.xml", false},
		{"https://www.elpais.com/sitemap-2019-05.xml", false},
		{"https://www.elpais.com/sitemap-2024.xml", false},
		{"https://www.elpais.com/sitemap-2025-03.xml", true},
		{"https://www.elpais.com/sitemap.xml?yyyy=2023", false},
		{"https://videos.example.es/sitemap.xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.valid, f.IsValidSitemapURL(tt.url))
		})
	}
}

func TestSitemapURLs(t *testing.T) {
	body := []byte(`User-agent: *
Disallow: /admin/
Sitemap: https://www.example.es/sitemap_index.xml
Sitemap: https://www.example.es/sitemap-tag.xml
sitemap: https://www.example.es/news-sitemap.xml
Sitemap: https://www.example.es/sitemap_index.xml
`)
	f := NewFilter([]string{"tag"}, cutoff)

	urls, err := f.SitemapURLs(http.StatusOK, body)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.example.es/sitemap_index.xml",
		"https://www.example.es/news-sitemap.xml",
	}, urls)
}

func TestSitemapURLsNoneDeclared(t *testing.T) {
	f := NewFilter(nil, cutoff)
	urls, err := f.SitemapURLs(http.StatusOK, []byte("User-agent: *\nDisallow:\n"))
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestURL(t *testing.T) {
	u, err := URL("https://www.example.es/portada/hoy?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://www.example.es/robots.txt", u)

	_, err = URL("not a url")
	assert.Error(t, err)
}
