package sitemap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/net/html/charset"
)

const maxDecompressedBytes = 64 << 20

// document covers both a <sitemapindex> and a <urlset>. Element names are
// matched by local name so the sitemaps.org and Google News namespaces
// decode into the same fields.
type document struct {
	XMLName  xml.Name
	Sitemaps []indexEntry `xml:"sitemap"`
	URLs     []urlEntry   `xml:"url"`
}

type indexEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

type urlEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
	News    struct {
		Title           string `xml:"title"`
		PublicationDate string `xml:"publication_date"`
	} `xml:"news"`
}

// date is the entry's declared publication date, falling back to lastmod.
func (u urlEntry) date() string {
	if d := strings.TrimSpace(u.News.PublicationDate); d != "" {
		return d
	}
	return strings.TrimSpace(u.LastMod)
}

func isGzip(body []byte) bool {
	return len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b
}

// decompress inflates gzip bodies. Servers that already decoded a .gz
// response hand back plain XML, which is returned unchanged.
func decompress(body []byte) ([]byte, error) {
	if !isGzip(body) {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip sitemap: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxDecompressedBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress sitemap: %w", err)
	}
	return out, nil
}

func parseDocument(body []byte) (*document, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse sitemap: %w", err)
	}
	switch doc.XMLName.Local {
	case "sitemapindex", "urlset":
		return &doc, nil
	}
	return nil, fmt.Errorf("not a sitemap: root element <%s>", doc.XMLName.Local)
}

// resolve makes loc absolute against base. Empty or unparseable locations
// yield "".
func resolve(base, loc string) string {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return ""
	}
	u, err := url.Parse(loc)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return b.ResolveReference(u).String()
}

func isAbsoluteHTTP(loc string) bool {
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
