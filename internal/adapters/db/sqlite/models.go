package sqlite

import "time"

type UserModel struct {
	ID         uint   `gorm:"primaryKey"`
	Username   string `gorm:"not null;uniqueIndex"`
	Role       string `gorm:"not null;default:'member'"`
	Credits    int    `gorm:"not null;default:0"`
	APIKeyHash string `gorm:"not null;uniqueIndex"`
	Active     bool   `gorm:"not null;default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (UserModel) TableName() string { return "users" }

type RuleModel struct {
	ID          uint   `gorm:"primaryKey"`
	Pattern     string `gorm:"not null"`
	Action      string `gorm:"not null;index"`
	Priority    int    `gorm:"not null;default:0"`
	Description string
	CreatedBy   *uint
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (RuleModel) TableName() string { return "rules" }

type CommandModel struct {
	ID              uint   `gorm:"primaryKey"`
	UserID          uint   `gorm:"not null;index"`
	CommandText     string `gorm:"not null"`
	Status          string `gorm:"not null;index"`
	CreditsDeducted int    `gorm:"not null;default:0"`
	Result          string
	RuleID          *uint
	ExecutedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (CommandModel) TableName() string { return "commands" }

type ApprovalRequestModel struct {
	ID          uint   `gorm:"primaryKey"`
	CommandID   uint   `gorm:"not null;uniqueIndex"`
	RequestedBy uint   `gorm:"not null;index"`
	Status      string `gorm:"not null;default:'open';index"`
	ReviewedBy  *uint
	ReviewedAt  *time.Time
	Reason      string
	CreatedAt   time.Time
}

func (ApprovalRequestModel) TableName() string { return "approval_requests" }

type AuditLogModel struct {
	ID          uint `gorm:"primaryKey"`
	ActorUserID *uint
	Action      string `gorm:"not null;index"`
	TargetType  string `gorm:"not null;index"`
	TargetID    *uint
	Details     string
	CreatedAt   time.Time
}

func (AuditLogModel) TableName() string { return "audit_logs" }
