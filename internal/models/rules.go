package models

// Operator is the composition of a rule. The values are the markers stored
// alongside each rule row.
type Operator string

const (
	OperatorAnd    Operator = "+"
	OperatorOr     Operator = "o"
	OperatorSingle Operator = "-"
)

func (o Operator) String() string {
	switch o {
	case OperatorAnd:
		return "AND"
	case OperatorOr:
		return "OR"
	case OperatorSingle:
		return "SINGLE"
	}
	return string(o)
}

type Keyword struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
	Stem string `json:"stem"`
}

// RuleRow is one (keyword, position) member of a persisted rule.
type RuleRow struct {
	RuleID   int64
	Keyword  string
	Position int
	Operator Operator
}

type Category struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}
