package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xhad/clipping/internal/models"
)

var (
	ErrEmptyRule      = errors.New("rule has no keywords")
	ErrMixedOperators = errors.New("rule mixes '+' and ' o ' separators")
	ErrIncompleteAnd  = errors.New("AND rule needs at least two keywords")
)

const (
	andSeparator = "+"
	orSeparator  = " o "
)

// Definition is a parsed rule description: "a + b" is AND, "a o b" is OR,
// anything else is a SINGLE keyword.
type Definition struct {
	Operator models.Operator
	Keywords []string
}

func ParseDescription(desc string) (Definition, error) {
	desc = strings.Join(strings.Fields(desc), " ")
	if desc == "" {
		return Definition{}, ErrEmptyRule
	}

	hasAnd := strings.Contains(desc, andSeparator)
	hasOr := strings.Contains(desc, orSeparator)

	switch {
	case hasAnd && hasOr:
		return Definition{}, fmt.Errorf("%q: %w", desc, ErrMixedOperators)
	case hasAnd:
		parts := splitParts(desc, andSeparator)
		if len(parts) < 2 {
			return Definition{}, fmt.Errorf("%q: %w", desc, ErrIncompleteAnd)
		}
		return Definition{Operator: models.OperatorAnd, Keywords: parts}, nil
	case hasOr:
		parts := splitParts(desc, orSeparator)
		if len(parts) == 0 {
			return Definition{}, fmt.Errorf("%q: %w", desc, ErrEmptyRule)
		}
		return Definition{Operator: models.OperatorOr, Keywords: parts}, nil
	}
	return Definition{Operator: models.OperatorSingle, Keywords: []string{desc}}, nil
}

// Rows expands the definition into persisted rule rows, positions from 1.
func (d Definition) Rows(ruleID int64) []models.RuleRow {
	rows := make([]models.RuleRow, len(d.Keywords))
	for i, kw := range d.Keywords {
		rows[i] = models.RuleRow{RuleID: ruleID, Keyword: kw, Position: i + 1, Operator: d.Operator}
	}
	return rows
}

// String renders the definition back into description syntax.
func (d Definition) String() string {
	switch d.Operator {
	case models.OperatorAnd:
		return strings.Join(d.Keywords, " + ")
	case models.OperatorOr:
		return strings.Join(d.Keywords, orSeparator)
	}
	return strings.Join(d.Keywords, " ")
}

func splitParts(desc, sep string) []string {
	var parts []string
	for _, p := range strings.Split(desc, sep) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
