package domain

import "time"

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// RuleAction is the outcome a rule prescribes for commands it matches.
type RuleAction string

const (
	ActionAutoAccept      RuleAction = "AUTO_ACCEPT"
	ActionAutoReject      RuleAction = "AUTO_REJECT"
	ActionRequireApproval RuleAction = "REQUIRE_APPROVAL"
)

// CommandStatus is the lifecycle state of a submitted command.
type CommandStatus string

const (
	StatusAccepted        CommandStatus = "accepted"
	StatusRejected        CommandStatus = "rejected"
	StatusExecuted        CommandStatus = "executed"
	StatusPendingApproval CommandStatus = "pending_approval"
)

// ApprovalStatus is the state of a human-review request.
type ApprovalStatus string

const (
	ApprovalOpen     ApprovalStatus = "open"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type User struct {
	ID         uint      `json:"id"`
	Username   string    `json:"username"`
	Role       string    `json:"role"`
	Credits    int       `json:"credits"`
	APIKeyHash string    `json:"-"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Rule struct {
	ID          uint       `json:"id"`
	Pattern     string     `json:"pattern"`
	Action      RuleAction `json:"action"`
	Priority    int        `json:"priority"`
	Description string     `json:"description,omitempty"`
	CreatedBy   *uint      `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Command struct {
	ID              uint          `json:"id"`
	UserID          uint          `json:"user_id"`
	CommandText     string        `json:"command_text"`
	Status          CommandStatus `json:"status"`
	CreditsDeducted int           `json:"credits_deducted"`
	Result          string        `json:"result,omitempty"`
	RuleID          *uint         `json:"rule_id,omitempty"`
	SubmittedAt     time.Time     `json:"submitted_at"`
	ExecutedAt      *time.Time    `json:"executed_at,omitempty"`
}

type ApprovalRequest struct {
	ID          uint           `json:"id"`
	CommandID   uint           `json:"command_id"`
	RequestedBy uint           `json:"requested_by"`
	Status      ApprovalStatus `json:"status"`
	ReviewedBy  *uint          `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time     `json:"reviewed_at,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ApprovalSummary is the admin list view of an approval request with
// the parked command text and usernames joined in.
type ApprovalSummary struct {
	ID                uint           `json:"id"`
	CommandID         uint           `json:"command_id"`
	CommandText       string         `json:"command_text"`
	RequestedBy       uint           `json:"requested_by"`
	RequesterUsername string         `json:"requester_username"`
	Status            ApprovalStatus `json:"status"`
	ReviewedBy        *uint          `json:"reviewed_by,omitempty"`
	ReviewerUsername  string         `json:"reviewer_username,omitempty"`
	ReviewedAt        *time.Time     `json:"reviewed_at,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

type AuditLog struct {
	ID          uint      `json:"id"`
	ActorUserID *uint     `json:"actor_user_id,omitempty"`
	Action      string    `json:"action"`
	TargetType  string    `json:"target_type"`
	TargetID    *uint     `json:"target_id,omitempty"`
	Details     string    `json:"details,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditRecord is an audit log row with the actor username joined in.
type AuditRecord struct {
	ID            uint      `json:"id"`
	ActorUserID   *uint     `json:"actor_user_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	Action        string    `json:"action"`
	TargetType    string    `json:"target_type"`
	TargetID      *uint     `json:"target_id,omitempty"`
	Details       string    `json:"details,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserStats is computed on demand from command rows; it is never stored.
type UserStats struct {
	Credits          int   `json:"credits"`
	TotalCommands    int64 `json:"total_commands"`
	ExecutedCommands int64 `json:"executed_commands"`
	RejectedCommands int64 `json:"rejected_commands"`
}

// ConflictingRule identifies the opposing side of a rule conflict.
type ConflictingRule struct {
	RuleID   uint       `json:"rule_id"`
	Pattern  string     `json:"pattern"`
	Action   RuleAction `json:"action"`
	Priority int        `json:"priority"`
}

// RuleConflict groups one rule with every rule it conflicts with.
type RuleConflict struct {
	RuleID        uint              `json:"rule_id"`
	Pattern       string            `json:"pattern"`
	Action        RuleAction        `json:"action"`
	Priority      int               `json:"priority"`
	ConflictsWith []ConflictingRule `json:"conflicts_with"`
}

// ConflictReport is advisory: it surfaces overlapping rules with
// differing actions so an operator can adjust priorities.
type ConflictReport struct {
	Conflicts []RuleConflict `json:"conflicts"`
}
