package application

import (
	"testing"

	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
)

func TestDetectConflictsFindsOverlapWithDifferentActions(t *testing.T) {
	rules := []domain.Rule{
		{ID: 1, Pattern: "sudo", Action: domain.ActionAutoReject, Priority: 10},
		{ID: 2, Pattern: "sudo apt", Action: domain.ActionAutoAccept, Priority: 5},
		{ID: 3, Pattern: "^ls", Action: domain.ActionAutoAccept, Priority: 1},
	}

	report := DetectConflicts(rules)
	if len(report.Conflicts) != 2 {
		t.Fatalf("expected 2 conflicted rules, got %d", len(report.Conflicts))
	}

	first := report.Conflicts[0]
	if first.RuleID != 1 || len(first.ConflictsWith) != 1 || first.ConflictsWith[0].RuleID != 2 {
		t.Fatalf("unexpected conflict entry: %+v", first)
	}
	second := report.Conflicts[1]
	if second.RuleID != 2 || second.ConflictsWith[0].RuleID != 1 {
		t.Fatalf("expected symmetric report, got %+v", second)
	}
}

func TestDetectConflictsIgnoresSameAction(t *testing.T) {
	rules := []domain.Rule{
		{ID: 1, Pattern: "rm", Action: domain.ActionAutoReject, Priority: 1},
		{ID: 2, Pattern: "rm -rf", Action: domain.ActionAutoReject, Priority: 2},
	}

	report := DetectConflicts(rules)
	if len(report.Conflicts) != 0 {
		t.Fatalf("same-action overlap should not conflict, got %+v", report.Conflicts)
	}
}

func TestDetectConflictsIdenticalPatterns(t *testing.T) {
	rules := []domain.Rule{
		{ID: 1, Pattern: "^deploy", Action: domain.ActionAutoAccept, Priority: 1},
		{ID: 2, Pattern: "^deploy", Action: domain.ActionRequireApproval, Priority: 1},
	}

	report := DetectConflicts(rules)
	if len(report.Conflicts) != 2 {
		t.Fatalf("identical patterns with different actions must conflict, got %+v", report.Conflicts)
	}
}
