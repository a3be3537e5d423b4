package application

import (
	"sort"
	"strings"

	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
)

// DetectConflicts reports pairs of rules whose patterns overlap while
// prescribing different actions. Overlap is approximated: two patterns
// conflict when they are identical or one contains the other as a
// literal substring. Full regex intersection is undecidable in general
// and the heuristic catches the common case of a broad rule shadowing a
// narrow one.
//
// The report is symmetric: if A conflicts with B, B also lists A.
func DetectConflicts(rules []domain.Rule) domain.ConflictReport {
	byRule := make(map[uint][]domain.ConflictingRule)
	for i := range rules {
		for j := i + 1; j < len(rules); j++ {
			a, b := rules[i], rules[j]
			if a.Action == b.Action {
				continue
			}
			if !patternsOverlap(a.Pattern, b.Pattern) {
				continue
			}
			byRule[a.ID] = append(byRule[a.ID], domain.ConflictingRule{
				RuleID:   b.ID,
				Pattern:  b.Pattern,
				Action:   b.Action,
				Priority: b.Priority,
			})
			byRule[b.ID] = append(byRule[b.ID], domain.ConflictingRule{
				RuleID:   a.ID,
				Pattern:  a.Pattern,
				Action:   a.Action,
				Priority: a.Priority,
			})
		}
	}

	report := domain.ConflictReport{Conflicts: []domain.RuleConflict{}}
	for _, rule := range rules {
		others, ok := byRule[rule.ID]
		if !ok {
			continue
		}
		sort.Slice(others, func(x, y int) bool { return others[x].RuleID < others[y].RuleID })
		report.Conflicts = append(report.Conflicts, domain.RuleConflict{
			RuleID:        rule.ID,
			Pattern:       rule.Pattern,
			Action:        rule.Action,
			Priority:      rule.Priority,
			ConflictsWith: others,
		})
	}
	sort.Slice(report.Conflicts, func(x, y int) bool {
		return report.Conflicts[x].RuleID < report.Conflicts[y].RuleID
	})
	return report
}

func patternsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
