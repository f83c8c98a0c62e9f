package rules

import (
	"fmt"

	"github.com/xhad/clipping/internal/models"
	"github.com/xhad/clipping/pkg/normalizer"
)

// CategoryRules is a category and the raw rule descriptions filed under it.
type CategoryRules struct {
	Name         string
	Descriptions []string
}

// Seed is the catalog ready to be written: keywords deduplicated by stem,
// rules expressed over canonical keyword surfaces, and the primary keywords
// of each category.
type Seed struct {
	Keywords   []models.Keyword
	Rules      []Definition
	Categories []models.Category
}

// BuildSeed validates every description and derives the seed catalog. An OR
// rule files all its keywords under the category; AND and SINGLE rules file
// their first keyword.
func BuildSeed(categories []CategoryRules) (*Seed, error) {
	seed := &Seed{}
	byStem := make(map[string]string)
	seenRule := make(map[string]struct{})

	canonical := func(text string) (string, error) {
		stem := normalizer.Normalize(text)
		if stem == "" {
			return "", fmt.Errorf("keyword %q normalizes to nothing", text)
		}
		if surface, ok := byStem[stem]; ok {
			return surface, nil
		}
		byStem[stem] = text
		seed.Keywords = append(seed.Keywords, models.Keyword{Text: text, Stem: stem})
		return text, nil
	}

	for _, cat := range categories {
		category := models.Category{Name: cat.Name}
		inCategory := make(map[string]struct{})
		file := func(kw string) {
			if _, ok := inCategory[kw]; !ok {
				inCategory[kw] = struct{}{}
				category.Keywords = append(category.Keywords, kw)
			}
		}

		for _, desc := range cat.Descriptions {
			def, err := ParseDescription(desc)
			if err != nil {
				return nil, fmt.Errorf("category %q: %w", cat.Name, err)
			}
			for i, kw := range def.Keywords {
				if def.Keywords[i], err = canonical(kw); err != nil {
					return nil, fmt.Errorf("category %q: %w", cat.Name, err)
				}
			}

			if def.Operator == models.OperatorOr {
				for _, kw := range def.Keywords {
					file(kw)
				}
			} else {
				file(def.Keywords[0])
			}

			key := string(def.Operator) + "|" + def.String()
			if _, dup := seenRule[key]; dup {
				continue
			}
			seenRule[key] = struct{}{}
			seed.Rules = append(seed.Rules, def)
		}
		seed.Categories = append(seed.Categories, category)
	}
	return seed, nil
}
