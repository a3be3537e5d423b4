package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
)

// SubmitCommand routes one command through the rule engine. Every
// submission ends as a persisted command row; the status tells the
// caller what happened. Rejections never touch the credit ledger.
func (s *GatewayService) SubmitCommand(ctx context.Context, userID uint, commandText string) (domain.Command, error) {
	commandText = strings.TrimSpace(commandText)
	if commandText == "" {
		cmd, err := s.repo.CreateCommand(ctx, domain.Command{
			UserID:      userID,
			CommandText: "",
			Status:      domain.StatusRejected,
			Result:      "rejected: empty command",
		})
		if err != nil {
			return domain.Command{}, err
		}
		s.WriteAudit(ctx, &userID, "command.reject", "command", &cmd.ID, "empty command")
		return cmd, nil
	}

	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return domain.Command{}, err
	}

	action := s.defaultAction
	var ruleID *uint
	if rule, ok := SelectRule(rules, commandText); ok {
		action = rule.Action
		id := rule.ID
		ruleID = &id
	}

	switch action {
	case domain.ActionAutoReject:
		return s.rejectCommand(ctx, userID, commandText, ruleID)
	case domain.ActionAutoAccept:
		return s.executeCommand(ctx, userID, commandText, ruleID)
	default:
		return s.routeForApproval(ctx, userID, commandText, ruleID)
	}
}

func (s *GatewayService) rejectCommand(ctx context.Context, userID uint, commandText string, ruleID *uint) (domain.Command, error) {
	result := "rejected by policy"
	if ruleID != nil {
		result = fmt.Sprintf("rejected by rule #%d", *ruleID)
	}
	cmd, err := s.repo.CreateCommand(ctx, domain.Command{
		UserID:      userID,
		CommandText: commandText,
		Status:      domain.StatusRejected,
		Result:      result,
		RuleID:      ruleID,
	})
	if err != nil {
		return domain.Command{}, err
	}
	s.WriteAudit(ctx, &userID, "command.reject", "command", &cmd.ID, result)
	return cmd, nil
}

func (s *GatewayService) executeCommand(ctx context.Context, userID uint, commandText string, ruleID *uint) (domain.Command, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	result := "executed"
	if ruleID != nil {
		result = fmt.Sprintf("executed (auto-accepted by rule #%d)", *ruleID)
	}
	cmd, err := s.repo.ExecuteCommand(ctx, domain.Command{
		UserID:      userID,
		CommandText: commandText,
		Status:      domain.StatusExecuted,
		Result:      result,
		RuleID:      ruleID,
	}, s.commandCost)
	if errors.Is(err, domain.ErrInsufficientCredits) {
		// Accepted but unaffordable: record the rejection without a debit.
		cmd, err = s.repo.CreateCommand(ctx, domain.Command{
			UserID:      userID,
			CommandText: commandText,
			Status:      domain.StatusRejected,
			Result:      "rejected: insufficient credits",
			RuleID:      ruleID,
		})
		if err != nil {
			return domain.Command{}, err
		}
		s.WriteAudit(ctx, &userID, "command.reject", "command", &cmd.ID, "insufficient credits")
		return cmd, nil
	}
	if err != nil {
		return domain.Command{}, err
	}
	s.WriteAudit(ctx, &userID, "command.execute", "command", &cmd.ID, result)
	return cmd, nil
}

func (s *GatewayService) routeForApproval(ctx context.Context, userID uint, commandText string, ruleID *uint) (domain.Command, error) {
	cmd, _, err := s.repo.CreateCommandWithApproval(ctx, domain.Command{
		UserID:      userID,
		CommandText: commandText,
		Status:      domain.StatusPendingApproval,
		Result:      "awaiting approval",
		RuleID:      ruleID,
	})
	if err != nil {
		return domain.Command{}, err
	}
	s.WriteAudit(ctx, &userID, "command.route_approval", "command", &cmd.ID, "")
	return cmd, nil
}

// ReviewApproval resolves an open approval request. Exactly one review
// wins; later reviews of the same request fail with ErrAlreadyReviewed
// and change nothing. Approval debits the requester at review time, so
// a balance spent since submission downgrades the command to rejected.
func (s *GatewayService) ReviewApproval(ctx context.Context, approvalID uint, reviewerID uint, approve bool, reason string) (domain.ApprovalRequest, domain.Command, error) {
	approval, err := s.repo.GetApprovalByID(ctx, approvalID)
	if err != nil {
		return domain.ApprovalRequest{}, domain.Command{}, err
	}

	unlock := s.lockUser(approval.RequestedBy)
	defer unlock()

	approval, cmd, err := s.repo.ReviewApproval(ctx, approvalID, approve, reviewerID, reason, s.commandCost)
	if err != nil {
		return domain.ApprovalRequest{}, domain.Command{}, err
	}

	action := "approval.reject"
	if approve {
		action = "approval.approve"
	}
	s.WriteAudit(ctx, &reviewerID, action, "approval_request", &approval.ID, reason)
	return approval, cmd, nil
}
