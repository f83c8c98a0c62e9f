// Package dates turns the free-form Spanish date strings found on news
// pages and sitemaps into timestamps in a fixed timezone.
package dates

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/araddon/dateparse"

	"github.com/xhad/clipping/pkg/normalizer"
)

var ErrUnparseable = errors.New("unparseable date")

var (
	aLasRe      = regexp.MustCompile(`\ba las\b`)
	tzMarkerRe  = regexp.MustCompile(`\b(cest|cet)\b`)
	weekdayRe   = regexp.MustCompile(`^(lunes|martes|miercoles|jueves|viernes|sabado|domingo),?\s*`)
	connectorRe = regexp.MustCompile(`\sdel?\s`)
	isoRe       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	hourMarkRe  = regexp.MustCompile(`(\d{1,2}:\d{2}(?::\d{2})?)\s*(?:horas|hrs?|h)\.?`)
	timeDashRe  = regexp.MustCompile(`(\d{1,2}:\d{2})\s*[-|]\s*`)
	numericRe   = regexp.MustCompile(`^\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}`)
	monthRe     = regexp.MustCompile(`\b(enero|ene|febrero|feb|marzo|mar|abril|abr|mayo|may|junio|jun|julio|jul|agosto|ago|septiembre|setiembre|sept|sep|set|octubre|oct|noviembre|nov|diciembre|dic)\b\.?`)
)

var months = map[string]string{
	"enero": "january", "ene": "jan",
	"febrero": "february", "feb": "feb",
	"marzo": "march", "mar": "mar",
	"abril": "april", "abr": "apr",
	"mayo": "may", "may": "may",
	"junio": "june", "jun": "jun",
	"julio": "july", "jul": "jul",
	"agosto": "august", "ago": "aug",
	"septiembre": "september", "setiembre": "september", "sept": "sep", "sep": "sep", "set": "sep",
	"octubre": "october", "oct": "oct",
	"noviembre": "november", "nov": "nov",
	"diciembre": "december", "dic": "dec",
}

var textLayouts = []string{
	"2 January 2006 15:04:05",
	"2 January 2006 15:04",
	"2 January 2006",
	"2 Jan 2006 15:04:05",
	"2 Jan 2006 15:04",
	"2 Jan 2006",
	"January 2 2006 15:04",
	"January 2 2006",
	"Jan 2 2006 15:04",
	"Jan 2 2006",
	"15:04 2 January 2006",
	"15:04 2 Jan 2006",
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var dayFirstLayouts = []string{
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
	"2/1/2006",
	"2/1/06 15:04",
	"2/1/06",
}

var monthFirstLayouts = []string{
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
	"1/2/06 15:04",
	"1/2/06",
}

type Parser struct {
	loc *time.Location
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc}
}

func (p *Parser) Location() *time.Location {
	return p.loc
}

// Parse normalizes a Spanish date string and parses it. Numeric dates are
// read day-first unless monthFirst is set. The result is always in the
// parser's location.
func (p *Parser) Parse(raw string, monthFirst bool) (time.Time, error) {
	s := Clean(raw)
	if s == "" {
		return time.Time{}, ErrUnparseable
	}

	if isoRe.MatchString(s) {
		if t, ok := p.tryLayouts(strings.ToUpper(s), isoLayouts); ok {
			return t, nil
		}
	}

	if datePart := numericRe.FindString(s); datePart != "" {
		rest := strings.TrimLeft(s[len(datePart):], " -")
		numeric := strings.TrimSpace(strings.NewReplacer(".", "/", "-", "/").Replace(datePart) + " " + rest)
		layouts := dayFirstLayouts
		if monthFirst {
			layouts = monthFirstLayouts
		}
		if t, ok := p.tryLayouts(numeric, layouts); ok {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, raw)
	}

	if t, ok := p.tryLayouts(s, textLayouts); ok {
		return t, nil
	}

	t, err := dateparse.ParseIn(s, p.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, raw)
	}
	return t.In(p.loc), nil
}

func (p *Parser) tryLayouts(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return t.In(p.loc), true
		}
	}
	return time.Time{}, false
}

// Clean rewrites a Spanish date string into a form the layout parsers
// understand: connectors, weekdays, hour markers and timezone names are
// dropped and month names are translated.
func Clean(raw string) string {
	s := normalizer.StripAccents(strings.ToLower(strings.TrimSpace(raw)))
	s = aLasRe.ReplaceAllString(s, " ")
	s = tzMarkerRe.ReplaceAllString(s, " ")
	s = weekdayRe.ReplaceAllString(s, "")
	for prev := ""; prev != s; {
		prev = s
		s = connectorRe.ReplaceAllString(s, " ")
	}
	if !isoRe.MatchString(s) {
		s = hourMarkRe.ReplaceAllString(s, "$1")
		s = timeDashRe.ReplaceAllString(s, "$1 ")
	}
	s = monthRe.ReplaceAllStringFunc(s, func(m string) string {
		return months[strings.TrimSuffix(m, ".")]
	})
	s = strings.NewReplacer(",", " ", "|", " ").Replace(s)

	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		if f != "-" && f != "/" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}
