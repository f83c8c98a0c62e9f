// Package normalizer folds Spanish text into the stemmed, accent-free form
// used both when compiling keyword rules and when classifying articles.
package normalizer

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/spanish"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases text, strips diacritics and punctuation, drops
// Spanish stopwords and stems what remains. The result is deterministic.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	folded := StripAccents(strings.ToLower(text))

	tokens := strings.Fields(strings.Map(punctuationToSpace, folded))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if spanish.IsStopWord(tok) {
			continue
		}
		if stem := spanish.Stem(tok, true); stem != "" {
			out = append(out, stem)
		}
	}
	return strings.Join(out, " ")
}

// StripAccents decomposes text (NFKD) and removes combining marks.
func StripAccents(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return result
}

func punctuationToSpace(r rune) rune {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
		return r
	}
	return ' '
}
