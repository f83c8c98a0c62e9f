package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// selector pulls one candidate value out of a page. Lists of selectors are
// tried in order and the first non-empty value wins.
type selector func(doc *goquery.Document) string

var bodySelectors = []selector{
	allOwnText("p"),
	allOwnText("p span"),
	allOwnText("div.cuerpo"),
}

var titleSelectors = []selector{
	firstAttr(`meta[property="og:title"]`, "content"),
	allOwnText("title"),
	allOwnText("h2.titular"),
	allOwnText("h1 span"),
	allOwnText("h3.entry-title"),
	allOwnText("h1 a"),
	allOwnText("h1"),
}

var dateSelectors = []selector{
	firstAttr(`meta[property="article:published_time"]`, "content"),
	firstAttr("time[datetime]", "datetime"),
	nthOwnText(`p[class="firma"]`, 1),
	firstOwnText("p.firma"),
	firstOwnText("h2.date-header span"),
	firstOwnText("ul.post-tags li:first-child"),
	firstOwnText(".entry-meta-date a"),
	firstOwnText(".item-metadata.posts-date a"),
	siblingText(`div[class="fDescripcionA2"] i[class*="icon-clock"]`),
	firstOwnText("span.fecha-noticia"),
	firstOwnText("div.single-post-meta span.date"),
	siblingText(`div[class*="meta mb autor"] i[class*="fa-calendar-o"]`),
	firstOwnText("span.fw-bold"),
	firstOwnText("span.date"),
	firstOwnText("div.fecha"),
}

func firstMatch(doc *goquery.Document, selectors []selector) string {
	for _, sel := range selectors {
		if v := strings.TrimSpace(sel(doc)); v != "" {
			return v
		}
	}
	return ""
}

// ownTexts returns the text nodes that are direct children of n, skipping
// whitespace-only ones.
func ownTexts(n *html.Node) []string {
	var out []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.TextNode {
			continue
		}
		if t := strings.TrimSpace(c.Data); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// allOwnText joins the direct text of every element matching css.
func allOwnText(css string) selector {
	return func(doc *goquery.Document) string {
		var parts []string
		doc.Find(css).Each(func(_ int, s *goquery.Selection) {
			parts = append(parts, ownTexts(s.Get(0))...)
		})
		return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	}
}

// firstOwnText is the first direct text found under the elements matching css.
func firstOwnText(css string) selector {
	return nthOwnText(css, 0)
}

func nthOwnText(css string, n int) selector {
	return func(doc *goquery.Document) string {
		var out string
		doc.Find(css).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if texts := ownTexts(s.Get(0)); len(texts) > n {
				out = texts[n]
				return false
			}
			return true
		})
		return out
	}
}

func firstAttr(css, attr string) selector {
	return func(doc *goquery.Document) string {
		v, _ := doc.Find(css).First().Attr(attr)
		return v
	}
}

// siblingText reads the first non-blank text node following an icon
// element, as in <i class="icon-clock"></i> 03/03/2024.
func siblingText(css string) selector {
	return func(doc *goquery.Document) string {
		var out string
		doc.Find(css).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for n := s.Get(0).NextSibling; n != nil; n = n.NextSibling {
				if n.Type == html.TextNode {
					if t := strings.TrimSpace(n.Data); t != "" {
						out = t
						return false
					}
				}
			}
			return true
		})
		return out
	}
}
