package application

import (
	"regexp"

	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
)

// SelectRule picks the governing rule for a command text. Among matching
// rules the highest priority wins; on a priority tie the lowest rule id
// wins, so the outcome is deterministic for any rule set. The boolean is
// false when no rule matches.
//
// Patterns are validated at rule creation, but a pattern that fails to
// compile here is skipped rather than trusted.
func SelectRule(rules []domain.Rule, commandText string) (domain.Rule, bool) {
	var best domain.Rule
	found := false
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			continue
		}
		if !re.MatchString(commandText) {
			continue
		}
		if !found || rule.Priority > best.Priority || (rule.Priority == best.Priority && rule.ID < best.ID) {
			best = rule
			found = true
		}
	}
	return best, found
}
