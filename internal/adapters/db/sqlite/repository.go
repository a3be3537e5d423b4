package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

type GatewayRepository struct {
	db *gorm.DB
}

func Open(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
}

func NewGatewayRepository(db *gorm.DB) *GatewayRepository {
	return &GatewayRepository{db: db}
}

func (r *GatewayRepository) CreateUser(ctx context.Context, value domain.User) (domain.User, error) {
	m := UserModel{
		Username:   strings.ToLower(strings.TrimSpace(value.Username)),
		Role:       value.Role,
		Credits:    value.Credits,
		APIKeyHash: value.APIKeyHash,
		Active:     true,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.User{}, err
	}
	return userFromModel(m), nil
}

func (r *GatewayRepository) GetUserByID(ctx context.Context, id uint) (domain.User, error) {
	var m UserModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return userFromModel(m), nil
}

func (r *GatewayRepository) GetUserByAPIKeyHash(ctx context.Context, keyHash string) (domain.User, error) {
	var m UserModel
	if err := r.db.WithContext(ctx).Where("api_key_hash = ?", keyHash).First(&m).Error; err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return userFromModel(m), nil
}

func (r *GatewayRepository) ListUsers(ctx context.Context, limit int) ([]domain.User, error) {
	rows := make([]UserModel, 0)
	if err := r.db.WithContext(ctx).Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.User, 0, len(rows))
	for _, m := range rows {
		result = append(result, userFromModel(m))
	}
	return result, nil
}

func (r *GatewayRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UserModel{}).Count(&count).Error
	return count, err
}

func (r *GatewayRepository) SetCredits(ctx context.Context, userID uint, credits int) (domain.User, error) {
	res := r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", userID).Update("credits", credits)
	if res.Error != nil {
		return domain.User{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.User{}, domain.ErrNotFound
	}
	return r.GetUserByID(ctx, userID)
}

func (r *GatewayRepository) DeactivateUser(ctx context.Context, userID uint) error {
	res := r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", userID).Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GatewayRepository) GetUserStats(ctx context.Context, userID uint) (domain.UserStats, error) {
	type row struct {
		Credits          int
		TotalCommands    int64
		ExecutedCommands int64
		RejectedCommands int64
	}
	var m row
	res := r.db.WithContext(ctx).Raw(`
SELECT u.credits,
       COUNT(c.id) AS total_commands,
       COALESCE(SUM(CASE WHEN c.status = 'executed' THEN 1 ELSE 0 END), 0) AS executed_commands,
       COALESCE(SUM(CASE WHEN c.status = 'rejected' THEN 1 ELSE 0 END), 0) AS rejected_commands
FROM users u
LEFT JOIN commands c ON c.user_id = u.id
WHERE u.id = ?
GROUP BY u.id
`, userID).Scan(&m)
	if res.Error != nil {
		return domain.UserStats{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.UserStats{}, domain.ErrNotFound
	}
	return domain.UserStats{
		Credits:          m.Credits,
		TotalCommands:    m.TotalCommands,
		ExecutedCommands: m.ExecutedCommands,
		RejectedCommands: m.RejectedCommands,
	}, nil
}

func (r *GatewayRepository) CreateRule(ctx context.Context, value domain.Rule) (domain.Rule, error) {
	m := RuleModel{
		Pattern:     value.Pattern,
		Action:      string(value.Action),
		Priority:    value.Priority,
		Description: value.Description,
		CreatedBy:   value.CreatedBy,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.Rule{}, err
	}
	return ruleFromModel(m), nil
}

func (r *GatewayRepository) UpdateRule(ctx context.Context, value domain.Rule) (domain.Rule, error) {
	res := r.db.WithContext(ctx).Model(&RuleModel{}).Where("id = ?", value.ID).Updates(map[string]any{
		"pattern":     value.Pattern,
		"action":      string(value.Action),
		"priority":    value.Priority,
		"description": value.Description,
	})
	if res.Error != nil {
		return domain.Rule{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Rule{}, domain.ErrNotFound
	}
	return r.GetRuleByID(ctx, value.ID)
}

func (r *GatewayRepository) DeleteRule(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&RuleModel{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GatewayRepository) GetRuleByID(ctx context.Context, id uint) (domain.Rule, error) {
	var m RuleModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.Rule{}, mapNotFound(err)
	}
	return ruleFromModel(m), nil
}

func (r *GatewayRepository) ListRules(ctx context.Context) ([]domain.Rule, error) {
	rows := make([]RuleModel, 0)
	if err := r.db.WithContext(ctx).Order("priority DESC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.Rule, 0, len(rows))
	for _, m := range rows {
		result = append(result, ruleFromModel(m))
	}
	return result, nil
}

func (r *GatewayRepository) CreateCommand(ctx context.Context, value domain.Command) (domain.Command, error) {
	m := commandToModel(value)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.Command{}, err
	}
	return commandFromModel(m), nil
}

func (r *GatewayRepository) ExecuteCommand(ctx context.Context, value domain.Command, cost int) (domain.Command, error) {
	var m CommandModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&UserModel{}).
			Where("id = ? AND credits >= ?", value.UserID, cost).
			UpdateColumn("credits", gorm.Expr("credits - ?", cost))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrInsufficientCredits
		}
		now := time.Now().UTC()
		m = commandToModel(value)
		m.Status = string(domain.StatusExecuted)
		m.CreditsDeducted = cost
		m.ExecutedAt = &now
		return tx.Create(&m).Error
	})
	if err != nil {
		return domain.Command{}, err
	}
	return commandFromModel(m), nil
}

func (r *GatewayRepository) CreateCommandWithApproval(ctx context.Context, value domain.Command) (domain.Command, domain.ApprovalRequest, error) {
	var cm CommandModel
	var am ApprovalRequestModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cm = commandToModel(value)
		cm.Status = string(domain.StatusPendingApproval)
		if err := tx.Create(&cm).Error; err != nil {
			return err
		}
		am = ApprovalRequestModel{
			CommandID:   cm.ID,
			RequestedBy: cm.UserID,
			Status:      string(domain.ApprovalOpen),
		}
		return tx.Create(&am).Error
	})
	if err != nil {
		return domain.Command{}, domain.ApprovalRequest{}, err
	}
	return commandFromModel(cm), approvalFromModel(am), nil
}

func (r *GatewayRepository) GetCommandByID(ctx context.Context, id uint) (domain.Command, error) {
	var m CommandModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.Command{}, mapNotFound(err)
	}
	return commandFromModel(m), nil
}

func (r *GatewayRepository) ListCommands(ctx context.Context, limit int) ([]domain.Command, error) {
	return r.listCommands(ctx, nil, limit)
}

func (r *GatewayRepository) ListUserCommands(ctx context.Context, userID uint, limit int) ([]domain.Command, error) {
	return r.listCommands(ctx, &userID, limit)
}

func (r *GatewayRepository) listCommands(ctx context.Context, userID *uint, limit int) ([]domain.Command, error) {
	q := r.db.WithContext(ctx).Model(&CommandModel{})
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	rows := make([]CommandModel, 0)
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.Command, 0, len(rows))
	for _, m := range rows {
		result = append(result, commandFromModel(m))
	}
	return result, nil
}

func (r *GatewayRepository) GetApprovalByID(ctx context.Context, id uint) (domain.ApprovalRequest, error) {
	var m ApprovalRequestModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.ApprovalRequest{}, mapNotFound(err)
	}
	return approvalFromModel(m), nil
}

func (r *GatewayRepository) ListOpenApprovals(ctx context.Context) ([]domain.ApprovalSummary, error) {
	type row struct {
		ID                uint
		CommandID         uint
		CommandText       string
		RequestedBy       uint
		RequesterUsername string
		Status            string
		ReviewedBy        *uint
		ReviewerUsername  string
		ReviewedAt        *time.Time
		Reason            string
		CreatedAt         time.Time
	}
	rows := make([]row, 0)
	err := r.db.WithContext(ctx).Raw(`
SELECT a.id,
       a.command_id,
       c.command_text,
       a.requested_by,
       COALESCE(ru.username, '') AS requester_username,
       a.status,
       a.reviewed_by,
       COALESCE(vu.username, '') AS reviewer_username,
       a.reviewed_at,
       a.reason,
       a.created_at
FROM approval_requests a
LEFT JOIN commands c ON c.id = a.command_id
LEFT JOIN users ru ON ru.id = a.requested_by
LEFT JOIN users vu ON vu.id = a.reviewed_by
WHERE a.status = 'open'
ORDER BY a.id ASC
`).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.ApprovalSummary, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.ApprovalSummary{
			ID:                m.ID,
			CommandID:         m.CommandID,
			CommandText:       m.CommandText,
			RequestedBy:       m.RequestedBy,
			RequesterUsername: m.RequesterUsername,
			Status:            domain.ApprovalStatus(m.Status),
			ReviewedBy:        m.ReviewedBy,
			ReviewerUsername:  m.ReviewerUsername,
			ReviewedAt:        m.ReviewedAt,
			Reason:            m.Reason,
			CreatedAt:         m.CreatedAt,
		})
	}
	return result, nil
}

func (r *GatewayRepository) ReviewApproval(ctx context.Context, approvalID uint, approve bool, reviewerID uint, reason string, cost int) (domain.ApprovalRequest, domain.Command, error) {
	var am ApprovalRequestModel
	var cm CommandModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&am, approvalID).Error; err != nil {
			return mapNotFound(err)
		}
		if am.Status != string(domain.ApprovalOpen) {
			return domain.ErrAlreadyReviewed
		}

		now := time.Now().UTC()
		newStatus := domain.ApprovalRejected
		if approve {
			newStatus = domain.ApprovalApproved
		}
		// Guard on status so the first reviewer wins even if two
		// transactions race past the read above.
		res := tx.Model(&ApprovalRequestModel{}).
			Where("id = ? AND status = ?", approvalID, string(domain.ApprovalOpen)).
			Updates(map[string]any{
				"status":      string(newStatus),
				"reviewed_by": reviewerID,
				"reviewed_at": now,
				"reason":      reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrAlreadyReviewed
		}

		if err := tx.First(&cm, am.CommandID).Error; err != nil {
			return mapNotFound(err)
		}

		if !approve {
			result := reason
			if strings.TrimSpace(result) == "" {
				result = "rejected after review"
			}
			if err := tx.Model(&CommandModel{}).Where("id = ?", cm.ID).Updates(map[string]any{
				"status": string(domain.StatusRejected),
				"result": result,
			}).Error; err != nil {
				return err
			}
			return tx.First(&cm, cm.ID).Error
		}

		debit := tx.Model(&UserModel{}).
			Where("id = ? AND credits >= ?", cm.UserID, cost).
			UpdateColumn("credits", gorm.Expr("credits - ?", cost))
		if debit.Error != nil {
			return debit.Error
		}
		if debit.RowsAffected == 0 {
			// Approved, but the balance no longer covers the cost; the
			// command is rejected rather than executed unpaid.
			if err := tx.Model(&CommandModel{}).Where("id = ?", cm.ID).Updates(map[string]any{
				"status": string(domain.StatusRejected),
				"result": "insufficient credits at review time",
			}).Error; err != nil {
				return err
			}
			return tx.First(&cm, cm.ID).Error
		}

		if err := tx.Model(&CommandModel{}).Where("id = ?", cm.ID).Updates(map[string]any{
			"status":           string(domain.StatusExecuted),
			"credits_deducted": cost,
			"executed_at":      now,
			"result":           "executed after approval",
		}).Error; err != nil {
			return err
		}
		return tx.First(&cm, cm.ID).Error
	})
	if err != nil {
		return domain.ApprovalRequest{}, domain.Command{}, err
	}

	updated, err := r.GetApprovalByID(ctx, approvalID)
	if err != nil {
		return domain.ApprovalRequest{}, domain.Command{}, err
	}
	return updated, commandFromModel(cm), nil
}

func (r *GatewayRepository) CreateAuditLog(ctx context.Context, value domain.AuditLog) error {
	m := AuditLogModel{
		ActorUserID: value.ActorUserID,
		Action:      value.Action,
		TargetType:  value.TargetType,
		TargetID:    value.TargetID,
		Details:     value.Details,
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *GatewayRepository) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	return r.listAuditLogs(ctx, nil, limit)
}

func (r *GatewayRepository) ListUserAuditLogs(ctx context.Context, userID uint, limit int) ([]domain.AuditRecord, error) {
	return r.listAuditLogs(ctx, &userID, limit)
}

func (r *GatewayRepository) listAuditLogs(ctx context.Context, actorUserID *uint, limit int) ([]domain.AuditRecord, error) {
	type row struct {
		ID            uint
		ActorUserID   *uint
		ActorUsername string
		Action        string
		TargetType    string
		TargetID      *uint
		Details       string
		CreatedAt     time.Time
	}
	q := `
SELECT a.id,
       a.actor_user_id,
       COALESCE(u.username, '') AS actor_username,
       a.action,
       a.target_type,
       a.target_id,
       a.details,
       a.created_at
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_user_id
`
	args := make([]any, 0, 2)
	if actorUserID != nil {
		q += "WHERE a.actor_user_id = ?\n"
		args = append(args, *actorUserID)
	}
	q += "ORDER BY a.id DESC\nLIMIT ?"
	args = append(args, limit)

	rows := make([]row, 0)
	if err := r.db.WithContext(ctx).Raw(q, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.AuditRecord, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.AuditRecord{
			ID:            m.ID,
			ActorUserID:   m.ActorUserID,
			ActorUsername: m.ActorUsername,
			Action:        m.Action,
			TargetType:    m.TargetType,
			TargetID:      m.TargetID,
			Details:       m.Details,
			CreatedAt:     m.CreatedAt,
		})
	}
	return result, nil
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:         m.ID,
		Username:   m.Username,
		Role:       m.Role,
		Credits:    m.Credits,
		APIKeyHash: m.APIKeyHash,
		Active:     m.Active,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func ruleFromModel(m RuleModel) domain.Rule {
	return domain.Rule{
		ID:          m.ID,
		Pattern:     m.Pattern,
		Action:      domain.RuleAction(m.Action),
		Priority:    m.Priority,
		Description: m.Description,
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func commandToModel(value domain.Command) CommandModel {
	return CommandModel{
		UserID:          value.UserID,
		CommandText:     value.CommandText,
		Status:          string(value.Status),
		CreditsDeducted: value.CreditsDeducted,
		Result:          value.Result,
		RuleID:          value.RuleID,
		ExecutedAt:      value.ExecutedAt,
	}
}

func commandFromModel(m CommandModel) domain.Command {
	return domain.Command{
		ID:              m.ID,
		UserID:          m.UserID,
		CommandText:     m.CommandText,
		Status:          domain.CommandStatus(m.Status),
		CreditsDeducted: m.CreditsDeducted,
		Result:          m.Result,
		RuleID:          m.RuleID,
		SubmittedAt:     m.CreatedAt,
		ExecutedAt:      m.ExecutedAt,
	}
}

func approvalFromModel(m ApprovalRequestModel) domain.ApprovalRequest {
	return domain.ApprovalRequest{
		ID:          m.ID,
		CommandID:   m.CommandID,
		RequestedBy: m.RequestedBy,
		Status:      domain.ApprovalStatus(m.Status),
		ReviewedBy:  m.ReviewedBy,
		ReviewedAt:  m.ReviewedAt,
		Reason:      m.Reason,
		CreatedAt:   m.CreatedAt,
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
