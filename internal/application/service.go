package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
)

// Config carries the engine knobs that are deployment policy rather
// than business rules.
type Config struct {
	// DefaultAction applies when no rule matches a submission.
	// REQUIRE_APPROVAL keeps the gateway fail-closed.
	DefaultAction domain.RuleAction
	// CommandCost is the credit price of one executed command.
	CommandCost int
}

type GatewayService struct {
	repo          domain.GatewayRepository
	defaultAction domain.RuleAction
	commandCost   int
	userLocks     sync.Map // user id -> *sync.Mutex
}

func NewGatewayService(repo domain.GatewayRepository, cfg Config) *GatewayService {
	if cfg.DefaultAction == "" {
		cfg.DefaultAction = domain.ActionRequireApproval
	}
	if cfg.CommandCost <= 0 {
		cfg.CommandCost = 1
	}
	return &GatewayService{
		repo:          repo,
		defaultAction: cfg.DefaultAction,
		commandCost:   cfg.CommandCost,
	}
}

// lockUser serializes ledger-touching operations per user id; distinct
// users never contend.
func (s *GatewayService) lockUser(id uint) func() {
	v, _ := s.userLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *GatewayService) BootstrapAdmin(ctx context.Context, username string, credits int) (domain.User, string, error) {
	if strings.TrimSpace(username) == "" {
		return domain.User{}, "", fmt.Errorf("%w: bootstrap admin username is required", domain.ErrValidation)
	}
	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return domain.User{}, "", err
	}
	if count > 0 {
		return domain.User{}, "", nil
	}

	plain, hash, err := newKeyPair()
	if err != nil {
		return domain.User{}, "", err
	}
	u, err := s.repo.CreateUser(ctx, domain.User{
		Username:   username,
		Role:       domain.RoleAdmin,
		Credits:    credits,
		APIKeyHash: hash,
	})
	if err != nil {
		return domain.User{}, "", err
	}
	s.WriteAudit(ctx, &u.ID, "access.bootstrap_admin", "user", &u.ID, "initial admin created")
	return u, plain, nil
}

// CreateUser provisions a user and returns the plaintext API key; the
// key is never recoverable afterwards.
func (s *GatewayService) CreateUser(ctx context.Context, username, role string, credits int, actorID *uint) (domain.User, string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return domain.User{}, "", fmt.Errorf("%w: username is required", domain.ErrValidation)
	}
	if role == "" {
		role = domain.RoleMember
	}
	if role != domain.RoleAdmin && role != domain.RoleMember {
		return domain.User{}, "", fmt.Errorf("%w: role must be admin or member", domain.ErrValidation)
	}
	if credits < 0 {
		return domain.User{}, "", fmt.Errorf("%w: credits must not be negative", domain.ErrValidation)
	}

	plain, hash, err := newKeyPair()
	if err != nil {
		return domain.User{}, "", err
	}
	u, err := s.repo.CreateUser(ctx, domain.User{
		Username:   username,
		Role:       role,
		Credits:    credits,
		APIKeyHash: hash,
	})
	if err != nil {
		return domain.User{}, "", err
	}
	s.WriteAudit(ctx, actorID, "access.user.create", "user", &u.ID, "role "+role)
	return u, plain, nil
}

// AuthenticateAPIKey resolves the user presenting an API key. Inactive
// users fail exactly like unknown keys.
func (s *GatewayService) AuthenticateAPIKey(ctx context.Context, key string) (domain.User, error) {
	if strings.TrimSpace(key) == "" {
		return domain.User{}, domain.ErrUnauthorized
	}
	u, err := s.repo.GetUserByAPIKeyHash(ctx, hashKey(key))
	if err != nil {
		return domain.User{}, domain.ErrUnauthorized
	}
	if !u.Active {
		return domain.User{}, domain.ErrUnauthorized
	}
	return u, nil
}

func (s *GatewayService) GetUser(ctx context.Context, id uint) (domain.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *GatewayService) ListUsers(ctx context.Context, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	return s.repo.ListUsers(ctx, limit)
}

// SetCredits overwrites a balance. Administrative: it bypasses the
// sufficiency check that guards engine debits.
func (s *GatewayService) SetCredits(ctx context.Context, userID uint, credits int, actorID *uint) (domain.User, error) {
	if credits < 0 {
		return domain.User{}, fmt.Errorf("%w: credits must not be negative", domain.ErrValidation)
	}
	unlock := s.lockUser(userID)
	defer unlock()

	u, err := s.repo.SetCredits(ctx, userID, credits)
	if err != nil {
		return domain.User{}, err
	}
	s.WriteAudit(ctx, actorID, "access.credits.set", "user", &userID, fmt.Sprintf("credits set to %d", credits))
	return u, nil
}

// DeactivateUser is the soft delete: the row stays for audit and
// command history, the API key stops working.
func (s *GatewayService) DeactivateUser(ctx context.Context, userID uint, actorID *uint) error {
	if err := s.repo.DeactivateUser(ctx, userID); err != nil {
		return err
	}
	s.WriteAudit(ctx, actorID, "access.user.deactivate", "user", &userID, "")
	return nil
}

func (s *GatewayService) GetUserStats(ctx context.Context, userID uint) (domain.UserStats, error) {
	return s.repo.GetUserStats(ctx, userID)
}

func (s *GatewayService) CreateRule(ctx context.Context, pattern string, action domain.RuleAction, priority int, description string, actorID *uint) (domain.Rule, error) {
	if err := validateRule(pattern, action); err != nil {
		return domain.Rule{}, err
	}
	rule, err := s.repo.CreateRule(ctx, domain.Rule{
		Pattern:     pattern,
		Action:      action,
		Priority:    priority,
		Description: description,
		CreatedBy:   actorID,
	})
	if err != nil {
		return domain.Rule{}, err
	}
	s.WriteAudit(ctx, actorID, "rule.create", "rule", &rule.ID, fmt.Sprintf("%s priority %d", action, priority))
	return rule, nil
}

func (s *GatewayService) UpdateRule(ctx context.Context, id uint, pattern string, action domain.RuleAction, priority int, description string, actorID *uint) (domain.Rule, error) {
	if err := validateRule(pattern, action); err != nil {
		return domain.Rule{}, err
	}
	rule, err := s.repo.UpdateRule(ctx, domain.Rule{
		ID:          id,
		Pattern:     pattern,
		Action:      action,
		Priority:    priority,
		Description: description,
	})
	if err != nil {
		return domain.Rule{}, err
	}
	s.WriteAudit(ctx, actorID, "rule.update", "rule", &rule.ID, fmt.Sprintf("%s priority %d", action, priority))
	return rule, nil
}

func (s *GatewayService) DeleteRule(ctx context.Context, id uint, actorID *uint) error {
	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.WriteAudit(ctx, actorID, "rule.delete", "rule", &id, "")
	return nil
}

func (s *GatewayService) ListRules(ctx context.Context) ([]domain.Rule, error) {
	return s.repo.ListRules(ctx)
}

// RuleConflicts runs the advisory overlap analysis over the current
// rule set. It never blocks rule creation.
func (s *GatewayService) RuleConflicts(ctx context.Context) (domain.ConflictReport, error) {
	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return domain.ConflictReport{}, err
	}
	return DetectConflicts(rules), nil
}

func (s *GatewayService) GetCommand(ctx context.Context, id uint) (domain.Command, error) {
	return s.repo.GetCommandByID(ctx, id)
}

func (s *GatewayService) ListCommands(ctx context.Context, limit int) ([]domain.Command, error) {
	return s.repo.ListCommands(ctx, clampLimit(limit, 50, 1000))
}

func (s *GatewayService) ListUserCommands(ctx context.Context, userID uint, limit int) ([]domain.Command, error) {
	return s.repo.ListUserCommands(ctx, userID, clampLimit(limit, 50, 1000))
}

func (s *GatewayService) ListOpenApprovals(ctx context.Context) ([]domain.ApprovalSummary, error) {
	return s.repo.ListOpenApprovals(ctx)
}

func (s *GatewayService) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	return s.repo.ListAuditLogs(ctx, clampLimit(limit, 100, 2000))
}

func (s *GatewayService) ListUserAuditLogs(ctx context.Context, userID uint, limit int) ([]domain.AuditRecord, error) {
	return s.repo.ListUserAuditLogs(ctx, userID, clampLimit(limit, 100, 2000))
}

func (s *GatewayService) WriteAudit(ctx context.Context, actorUserID *uint, action, targetType string, targetID *uint, details string) {
	_ = s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUserID: actorUserID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Details:     details,
	})
}

func validateRule(pattern string, action domain.RuleAction) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("%w: pattern is required", domain.ErrValidation)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPattern, err)
	}
	switch action {
	case domain.ActionAutoAccept, domain.ActionAutoReject, domain.ActionRequireApproval:
		return nil
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrValidation, action)
	}
}

func clampLimit(limit, fallback, ceiling int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}

func newKeyPair() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plain := base64.RawURLEncoding.EncodeToString(raw)
	return plain, hashKey(plain), nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum[:])
}
