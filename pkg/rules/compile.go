package rules

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/normalizer"
)

// Matcher is one compiled rule. Patterns and Keywords are parallel and in
// position order; for AND rules Keywords[0] is the primary keyword.
type Matcher struct {
	RuleID   int64
	Operator models.Operator
	Patterns []*regexp.Regexp
	Keywords []string
}

// Classifier holds the compiled rule table. It is read-only after Compile
// and safe for concurrent use.
type Classifier struct {
	matchers  []Matcher
	secondary map[string]struct{}
	invalid   map[int64]error
}

type Result struct {
	Accepted bool
	Keywords []string
}

// Compile groups rule rows by rule id and builds one matcher per valid
// rule. Rules that cannot be matched are skipped and reported by Invalid.
func Compile(rows []models.RuleRow) *Classifier {
	grouped := make(map[int64][]models.RuleRow)
	var ids []int64
	for _, row := range rows {
		if _, ok := grouped[row.RuleID]; !ok {
			ids = append(ids, row.RuleID)
		}
		grouped[row.RuleID] = append(grouped[row.RuleID], row)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	c := &Classifier{
		secondary: make(map[string]struct{}),
		invalid:   make(map[int64]error),
	}
	for _, id := range ids {
		m, err := compileRule(id, grouped[id])
		if err != nil {
			c.invalid[id] = err
			continue
		}
		c.matchers = append(c.matchers, m)
		if m.Operator == models.OperatorAnd {
			for _, kw := range m.Keywords[1:] {
				c.secondary[kw] = struct{}{}
			}
		}
	}
	return c
}

func compileRule(id int64, rows []models.RuleRow) (Matcher, error) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Position < rows[j].Position })

	op := rows[0].Operator
	m := Matcher{RuleID: id, Operator: op}
	for _, row := range rows {
		if row.Operator != op {
			return Matcher{}, fmt.Errorf("rule %d: %w", id, ErrMixedOperators)
		}
		pattern := CompilePattern(row.Keyword)
		if pattern == nil {
			if op == models.OperatorOr {
				continue
			}
			return Matcher{}, fmt.Errorf("rule %d: keyword %q normalizes to nothing", id, row.Keyword)
		}
		m.Patterns = append(m.Patterns, pattern)
		m.Keywords = append(m.Keywords, row.Keyword)
	}

	switch {
	case len(m.Patterns) == 0:
		return Matcher{}, fmt.Errorf("rule %d: %w", id, ErrEmptyRule)
	case op == models.OperatorAnd && len(m.Patterns) < 2:
		return Matcher{}, fmt.Errorf("rule %d: %w", id, ErrIncompleteAnd)
	case op == models.OperatorSingle && len(m.Patterns) != 1:
		return Matcher{}, fmt.Errorf("rule %d: SINGLE rule with %d keywords", id, len(m.Patterns))
	}
	return m, nil
}

// CompilePattern builds the word-boundary matcher for a keyword's normalized
// form. It returns nil when the keyword normalizes to nothing.
func CompilePattern(keyword string) *regexp.Regexp {
	normalized := normalizer.Normalize(keyword)
	if normalized == "" {
		return nil
	}
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(normalized) + `\b`)
}

func (c *Classifier) Matchers() []Matcher {
	return c.matchers
}

// Invalid reports the rules Compile rejected, keyed by rule id.
func (c *Classifier) Invalid() map[int64]error {
	return c.invalid
}

// IsSecondary reports whether keyword is a non-primary member of any AND rule.
func (c *Classifier) IsSecondary(keyword string) bool {
	_, ok := c.secondary[keyword]
	return ok
}

// Classify normalizes text once and evaluates every rule against it.
//
// AND rules contribute their primary keyword when every pattern matches.
// OR rules contribute each keyword whose own pattern matched. SINGLE rules
// contribute their keyword unless that keyword is a secondary member of
// some AND rule, in which case it never counts on its own.
func (c *Classifier) Classify(text string) Result {
	normalized := normalizer.Normalize(text)
	if normalized == "" {
		return Result{}
	}

	found := make(map[string]struct{})
	for _, m := range c.matchers {
		switch m.Operator {
		case models.OperatorAnd:
			if matchAll(m.Patterns, normalized) {
				found[m.Keywords[0]] = struct{}{}
			}
		case models.OperatorOr:
			for i, p := range m.Patterns {
				if p.MatchString(normalized) {
					found[m.Keywords[i]] = struct{}{}
				}
			}
		default:
			if _, suppressed := c.secondary[m.Keywords[0]]; suppressed {
				continue
			}
			if m.Patterns[0].MatchString(normalized) {
				found[m.Keywords[0]] = struct{}{}
			}
		}
	}

	if len(found) == 0 {
		return Result{}
	}
	keywords := make([]string, 0, len(found))
	for kw := range found {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	return Result{Accepted: true, Keywords: keywords}
}

func matchAll(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if !p.MatchString(text) {
			return false
		}
	}
	return true
}
