package domain

import "context"

type GatewayRepository interface {
	CreateUser(ctx context.Context, value User) (User, error)
	GetUserByID(ctx context.Context, id uint) (User, error)
	GetUserByAPIKeyHash(ctx context.Context, keyHash string) (User, error)
	ListUsers(ctx context.Context, limit int) ([]User, error)
	CountUsers(ctx context.Context) (int64, error)
	SetCredits(ctx context.Context, userID uint, credits int) (User, error)
	DeactivateUser(ctx context.Context, userID uint) error
	GetUserStats(ctx context.Context, userID uint) (UserStats, error)

	CreateRule(ctx context.Context, value Rule) (Rule, error)
	UpdateRule(ctx context.Context, value Rule) (Rule, error)
	DeleteRule(ctx context.Context, id uint) error
	GetRuleByID(ctx context.Context, id uint) (Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)

	// CreateCommand persists a command in a terminal state without
	// touching the ledger (rejections).
	CreateCommand(ctx context.Context, value Command) (Command, error)
	// ExecuteCommand debits the user and persists the executed command
	// as one transaction; no debit survives a failed insert. Returns
	// ErrInsufficientCredits when the balance does not cover cost.
	ExecuteCommand(ctx context.Context, value Command, cost int) (Command, error)
	// CreateCommandWithApproval persists a pending_approval command and
	// its open approval request as one transaction.
	CreateCommandWithApproval(ctx context.Context, value Command) (Command, ApprovalRequest, error)
	GetCommandByID(ctx context.Context, id uint) (Command, error)
	ListCommands(ctx context.Context, limit int) ([]Command, error)
	ListUserCommands(ctx context.Context, userID uint, limit int) ([]Command, error)

	GetApprovalByID(ctx context.Context, id uint) (ApprovalRequest, error)
	ListOpenApprovals(ctx context.Context) ([]ApprovalSummary, error)
	// ReviewApproval closes an open approval exactly once and applies
	// the command transition (debit+execute on approve, reject
	// otherwise) in the same transaction. A request that is already
	// terminal yields ErrAlreadyReviewed with no side effect.
	ReviewApproval(ctx context.Context, approvalID uint, approve bool, reviewerID uint, reason string, cost int) (ApprovalRequest, Command, error)

	CreateAuditLog(ctx context.Context, value AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]AuditRecord, error)
	ListUserAuditLogs(ctx context.Context, userID uint, limit int) ([]AuditRecord, error)
}
