package rules

import (
	"sort"

	"github.com/xhad/clipping/internal/models"
)

// Cascade is the rule-table maintenance implied by deleting one keyword.
type Cascade struct {
	DeletedRules   []int64
	RemovedRows    []models.RuleRow
	OrphanKeywords []string
}

// CascadeKeywordDelete computes what must go when keyword is deleted. AND
// and SINGLE rules using it are removed whole. OR rules lose only that
// member and are removed once empty. Keywords that were referenced by rules
// before the delete and by none after it are reported as orphans.
func CascadeKeywordDelete(rows []models.RuleRow, keyword string) Cascade {
	byRule := make(map[int64][]models.RuleRow)
	for _, row := range rows {
		byRule[row.RuleID] = append(byRule[row.RuleID], row)
	}

	var result Cascade
	deleted := make(map[int64]bool)
	for id, members := range byRule {
		uses := false
		for _, row := range members {
			if row.Keyword == keyword {
				uses = true
				break
			}
		}
		if !uses {
			continue
		}

		if members[0].Operator == models.OperatorOr {
			remaining := 0
			for _, row := range members {
				if row.Keyword == keyword {
					result.RemovedRows = append(result.RemovedRows, row)
				} else {
					remaining++
				}
			}
			if remaining > 0 {
				continue
			}
		}
		deleted[id] = true
		result.DeletedRules = append(result.DeletedRules, id)
	}

	before := make(map[string]struct{})
	after := make(map[string]struct{})
	for _, row := range rows {
		before[row.Keyword] = struct{}{}
		if row.Keyword != keyword && !deleted[row.RuleID] {
			after[row.Keyword] = struct{}{}
		}
	}
	for kw := range before {
		if _, ok := after[kw]; !ok && kw != keyword {
			result.OrphanKeywords = append(result.OrphanKeywords, kw)
		}
	}

	sort.Slice(result.DeletedRules, func(i, j int) bool { return result.DeletedRules[i] < result.DeletedRules[j] })
	sort.Slice(result.RemovedRows, func(i, j int) bool { return result.RemovedRows[i].RuleID < result.RemovedRows[j].RuleID })
	sort.Strings(result.OrphanKeywords)
	return result
}
