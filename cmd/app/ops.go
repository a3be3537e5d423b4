package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

func doWhoAmI(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "auth.whoami", map[string]any{"key": cfg.APIKey}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodGet, "/api/users/me", nil, out)
}

func doUserStats(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "users.stats", map[string]any{"key": cfg.APIKey}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodGet, "/api/users/me/stats", nil, out)
}

func doUsersList(ctx context.Context, cfg cliConfig, limit int, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "users.list", map[string]any{"key": cfg.APIKey, "limit": limit}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodGet, withLimit("/api/users", limit), nil, out)
}

func doUsersCreate(ctx context.Context, cfg cliConfig, username, role string, credits int, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "users.create", map[string]any{"key": cfg.APIKey, "username": username, "role": role, "credits": credits}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodPost, "/api/users", map[string]any{"username": username, "role": role, "credits": credits}, out)
}

func doUsersSetCredits(ctx context.Context, cfg cliConfig, userID uint, credits int, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "users.credits.set", map[string]any{"key": cfg.APIKey, "user_id": userID, "credits": credits}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodPatch, "/api/users/"+uintToString(userID)+"/credits", map[string]any{"credits": credits}, out)
}

func doUsersDeactivate(ctx context.Context, cfg cliConfig, userID uint) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "users.deactivate", map[string]any{"key": cfg.APIKey, "user_id": userID}, nil)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodDelete, "/api/users/"+uintToString(userID), nil, nil)
}

func doRulesList(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "rules.list", map[string]any{"key": cfg.APIKey}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodGet, "/api/rules", nil, out)
}

func doRulesCreate(ctx context.Context, cfg cliConfig, pattern, action string, priority int, description string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "rules.create", map[string]any{"key": cfg.APIKey, "pattern": pattern, "action": action, "priority": priority, "description": description}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodPost, "/api/rules", map[string]any{"pattern": pattern, "action": action, "priority": priority, "description": description}, out)
}

func doRulesUpdate(ctx context.Context, cfg cliConfig, ruleID uint, pattern, action string, priority int, description string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "rules.update", map[string]any{"key": cfg.APIKey, "rule_id": ruleID, "pattern": pattern, "action": action, "priority": priority, "description": description}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodPut, "/api/rules/"+uintToString(ruleID), map[string]any{"pattern": pattern, "action": action, "priority": priority, "description": description}, out)
}

func doRulesDelete(ctx context.Context, cfg cliConfig, ruleID uint) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "rules.delete", map[string]any{"key": cfg.APIKey, "rule_id": ruleID}, nil)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodDelete, "/api/rules/"+uintToString(ruleID), nil, nil)
}

func doRulesConflicts(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "rules.conflicts", map[string]any{"key": cfg.APIKey}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodGet, "/api/rules/conflicts", nil, out)
}

func doCommandsSubmit(ctx context.Context, cfg cliConfig, text string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "commands.submit", map[string]any{"key": cfg.APIKey, "command_text": text}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodPost, "/api/commands", map[string]any{"command_text": text}, out)
}

func doCommandsList(ctx context.Context, cfg cliConfig, all bool, limit int, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "commands.list", map[string]any{"key": cfg.APIKey, "all": all, "limit": limit}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	path := "/api/users/me/commands"
	if all {
		path = "/api/commands"
	}
	return client.request(ctx, http.MethodGet, withLimit(path, limit), nil, out)
}

func doApprovalsList(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "approvals.list", map[string]any{"key": cfg.APIKey}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodGet, "/api/approvals", nil, out)
}

func doApprovalsReview(ctx context.Context, cfg cliConfig, approvalID uint, action, reason string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "approvals.review", map[string]any{"key": cfg.APIKey, "approval_id": approvalID, "action": action, "reason": reason}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	return client.request(ctx, http.MethodPost, "/api/approvals/"+uintToString(approvalID)+"/review", map[string]any{"action": action, "reason": reason}, out)
}

func doAuditList(ctx context.Context, cfg cliConfig, userID *uint, limit int, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "audit.list", map[string]any{"key": cfg.APIKey, "user_id": userID, "limit": limit}, out)
	}
	client := newAPIClient(cfg.Server, cfg.APIKey)
	path := "/api/audit"
	if userID != nil {
		path = "/api/users/" + uintToString(*userID) + "/audit"
	}
	return client.request(ctx, http.MethodGet, withLimit(path, limit), nil, out)
}

func withLimit(path string, limit int) string {
	if limit <= 0 {
		return path
	}
	return path + "?limit=" + strconv.Itoa(limit)
}

func uintToString(v uint) string {
	return fmt.Sprintf("%d", v)
}
