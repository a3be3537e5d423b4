package application

import (
	"testing"

	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
)

func TestSelectRulePicksHighestPriority(t *testing.T) {
	rules := []domain.Rule{
		{ID: 1, Pattern: "^sudo", Action: domain.ActionAutoReject, Priority: 10},
		{ID: 2, Pattern: "sudo", Action: domain.ActionRequireApproval, Priority: 5},
		{ID: 3, Pattern: "^ls", Action: domain.ActionAutoAccept, Priority: 1},
	}

	rule, ok := SelectRule(rules, "sudo rm -rf /tmp/x")
	if !ok {
		t.Fatalf("expected a match")
	}
	if rule.ID != 1 {
		t.Fatalf("expected rule 1 to win, got %d", rule.ID)
	}

	rule, ok = SelectRule(rules, "ls -la")
	if !ok || rule.ID != 3 {
		t.Fatalf("expected rule 3 for ls, got %+v ok=%v", rule, ok)
	}

	if _, ok := SelectRule(rules, "echo hello"); ok {
		t.Fatalf("expected no match for echo")
	}
}

func TestSelectRuleBreaksTiesByLowestID(t *testing.T) {
	rules := []domain.Rule{
		{ID: 7, Pattern: "deploy", Action: domain.ActionRequireApproval, Priority: 5},
		{ID: 3, Pattern: "deploy", Action: domain.ActionAutoAccept, Priority: 5},
	}

	for i := 0; i < 10; i++ {
		rule, ok := SelectRule(rules, "deploy prod")
		if !ok || rule.ID != 3 {
			t.Fatalf("expected rule 3 on every run, got %+v ok=%v", rule, ok)
		}
	}
}

func TestSelectRuleSkipsBrokenPatterns(t *testing.T) {
	rules := []domain.Rule{
		{ID: 1, Pattern: "([", Action: domain.ActionAutoReject, Priority: 100},
		{ID: 2, Pattern: "^ls", Action: domain.ActionAutoAccept, Priority: 1},
	}

	rule, ok := SelectRule(rules, "ls")
	if !ok || rule.ID != 2 {
		t.Fatalf("expected broken pattern to be skipped, got %+v ok=%v", rule, ok)
	}
}
