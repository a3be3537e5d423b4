package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
)

func newTestRepo(t *testing.T) *GatewayRepository {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "cmdgate_test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return NewGatewayRepository(db)
}

func TestExecuteCommandDebitsAtomically(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	user, err := repo.CreateUser(ctx, domain.User{Username: "alice", Role: "member", Credits: 2, APIKeyHash: "hash-a"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	cmd, err := repo.ExecuteCommand(ctx, domain.Command{
		UserID:      user.ID,
		CommandText: "ls",
		Status:      domain.StatusExecuted,
		Result:      "executed",
	}, 1)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if cmd.Status != domain.StatusExecuted || cmd.CreditsDeducted != 1 || cmd.ExecutedAt == nil {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	after, _ := repo.GetUserByID(ctx, user.ID)
	if after.Credits != 1 {
		t.Fatalf("expected 1 credit, got %d", after.Credits)
	}

	// Cost above the balance must fail without a row or a debit.
	_, err = repo.ExecuteCommand(ctx, domain.Command{
		UserID:      user.ID,
		CommandText: "ls",
		Status:      domain.StatusExecuted,
	}, 5)
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	after, _ = repo.GetUserByID(ctx, user.ID)
	if after.Credits != 1 {
		t.Fatalf("failed execute must not debit, got %d", after.Credits)
	}
	commands, _ := repo.ListUserCommands(ctx, user.ID, 10)
	if len(commands) != 1 {
		t.Fatalf("failed execute must not persist a command, got %d rows", len(commands))
	}
}

func TestReviewApprovalWinsOnce(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	requester, _ := repo.CreateUser(ctx, domain.User{Username: "bob", Role: "member", Credits: 3, APIKeyHash: "hash-b"})
	reviewer, _ := repo.CreateUser(ctx, domain.User{Username: "root", Role: "admin", Credits: 0, APIKeyHash: "hash-r"})

	cmd, approval, err := repo.CreateCommandWithApproval(ctx, domain.Command{
		UserID:      requester.ID,
		CommandText: "deploy api",
		Status:      domain.StatusPendingApproval,
		Result:      "awaiting approval",
	})
	if err != nil {
		t.Fatalf("create with approval: %v", err)
	}
	if approval.Status != domain.ApprovalOpen || approval.CommandID != cmd.ID {
		t.Fatalf("unexpected approval: %+v", approval)
	}

	reviewed, reviewedCmd, err := repo.ReviewApproval(ctx, approval.ID, true, reviewer.ID, "ok", 1)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != domain.ApprovalApproved {
		t.Fatalf("expected approved, got %s", reviewed.Status)
	}
	if reviewedCmd.Status != domain.StatusExecuted || reviewedCmd.CreditsDeducted != 1 {
		t.Fatalf("expected executed with debit, got %+v", reviewedCmd)
	}

	if _, _, err := repo.ReviewApproval(ctx, approval.ID, false, reviewer.ID, "late", 1); !errors.Is(err, domain.ErrAlreadyReviewed) {
		t.Fatalf("expected ErrAlreadyReviewed, got %v", err)
	}

	after, _ := repo.GetUserByID(ctx, requester.ID)
	if after.Credits != 2 {
		t.Fatalf("expected a single debit, got %d credits", after.Credits)
	}
}

func TestReviewApprovalApproveWithEmptyBalance(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	requester, _ := repo.CreateUser(ctx, domain.User{Username: "carol", Role: "member", Credits: 0, APIKeyHash: "hash-c"})
	reviewer, _ := repo.CreateUser(ctx, domain.User{Username: "root", Role: "admin", Credits: 0, APIKeyHash: "hash-r"})

	_, approval, err := repo.CreateCommandWithApproval(ctx, domain.Command{
		UserID:      requester.ID,
		CommandText: "deploy api",
		Status:      domain.StatusPendingApproval,
	})
	if err != nil {
		t.Fatalf("create with approval: %v", err)
	}

	reviewed, cmd, err := repo.ReviewApproval(ctx, approval.ID, true, reviewer.ID, "", 1)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != domain.ApprovalApproved {
		t.Fatalf("approval must still resolve, got %s", reviewed.Status)
	}
	if cmd.Status != domain.StatusRejected || cmd.CreditsDeducted != 0 {
		t.Fatalf("expected rejected without debit, got %+v", cmd)
	}
}

func TestApprovalSummaryJoinsUsernames(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	requester, _ := repo.CreateUser(ctx, domain.User{Username: "dave", Role: "member", Credits: 1, APIKeyHash: "hash-d"})
	_, _, err := repo.CreateCommandWithApproval(ctx, domain.Command{
		UserID:      requester.ID,
		CommandText: "rm -rf build",
		Status:      domain.StatusPendingApproval,
	})
	if err != nil {
		t.Fatalf("create with approval: %v", err)
	}

	open, err := repo.ListOpenApprovals(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one open approval, got %d", len(open))
	}
	if open[0].RequesterUsername != "dave" || open[0].CommandText != "rm -rf build" {
		t.Fatalf("unexpected summary: %+v", open[0])
	}
}

func TestGetUserStatsAggregates(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	user, _ := repo.CreateUser(ctx, domain.User{Username: "erin", Role: "member", Credits: 10, APIKeyHash: "hash-e"})

	if _, err := repo.ExecuteCommand(ctx, domain.Command{UserID: user.ID, CommandText: "ls", Status: domain.StatusExecuted}, 1); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := repo.CreateCommand(ctx, domain.Command{UserID: user.ID, CommandText: "sudo x", Status: domain.StatusRejected}); err != nil {
		t.Fatalf("create rejected: %v", err)
	}
	if _, _, err := repo.CreateCommandWithApproval(ctx, domain.Command{UserID: user.ID, CommandText: "deploy", Status: domain.StatusPendingApproval}); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	stats, err := repo.GetUserStats(ctx, user.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalCommands != 3 || stats.ExecutedCommands != 1 || stats.RejectedCommands != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Credits != 9 {
		t.Fatalf("expected 9 credits, got %d", stats.Credits)
	}
}

func TestNotFoundMapping(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if _, err := repo.GetUserByID(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for user, got %v", err)
	}
	if _, err := repo.GetRuleByID(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for rule, got %v", err)
	}
	if _, err := repo.GetCommandByID(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for command, got %v", err)
	}
	if _, err := repo.GetApprovalByID(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for approval, got %v", err)
	}
	if err := repo.DeleteRule(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
}

func TestAuditLogListingAndActorFilter(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	actor, _ := repo.CreateUser(ctx, domain.User{Username: "frank", Role: "admin", Credits: 0, APIKeyHash: "hash-f"})
	other, _ := repo.CreateUser(ctx, domain.User{Username: "gina", Role: "member", Credits: 0, APIKeyHash: "hash-g"})

	if err := repo.CreateAuditLog(ctx, domain.AuditLog{ActorUserID: &actor.ID, Action: "rule.create", TargetType: "rule"}); err != nil {
		t.Fatalf("audit 1: %v", err)
	}
	if err := repo.CreateAuditLog(ctx, domain.AuditLog{ActorUserID: &other.ID, Action: "command.execute", TargetType: "command"}); err != nil {
		t.Fatalf("audit 2: %v", err)
	}

	all, err := repo.ListAuditLogs(ctx, 50)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}

	mine, err := repo.ListUserAuditLogs(ctx, actor.ID, 50)
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine) != 1 || mine[0].ActorUsername != "frank" {
		t.Fatalf("unexpected filtered records: %+v", mine)
	}
}
