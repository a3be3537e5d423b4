package rpcjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/atvirokodosprendimai/cmdgate/internal/application"
	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
)

// Server exposes the gateway over JSON-RPC 2.0 on a unix socket for
// local tooling. Every method carries the caller's API key in params.
type Server struct {
	service  *application.GatewayService
	listener net.Listener
	path     string
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func Start(path string, service *application.GatewayService) (*Server, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rpc socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, err
	}

	s := &Server{service: service, listener: ln, path: path}
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			_ = enc.Encode(response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}, ID: nil})
			return
		}

		resp := s.dispatch(context.Background(), req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32600, Message: "invalid request"}, ID: req.ID}
	}

	switch req.Method {
	case "auth.whoami":
		user, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		return response{JSONRPC: "2.0", Result: user, ID: req.ID}
	case "users.list":
		_, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		var p struct {
			Key   string `json:"key"`
			Limit int    `json:"limit"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.ListUsers(ctx, p.Limit)
		if err != nil {
			return internalError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "users.create":
		actor, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		var p struct {
			Key      string `json:"key"`
			Username string `json:"username"`
			Role     string `json:"role"`
			Credits  int    `json:"credits"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		user, apiKey, err := s.service.CreateUser(ctx, p.Username, p.Role, p.Credits, &actor.ID)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"user": user, "api_key": apiKey}, ID: req.ID}
	case "users.credits.set":
		actor, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		var p struct {
			Key     string `json:"key"`
			UserID  uint   `json:"user_id"`
			Credits int    `json:"credits"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.SetCredits(ctx, p.UserID, p.Credits, &actor.ID)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "users.deactivate":
		actor, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		var p struct {
			Key    string `json:"key"`
			UserID uint   `json:"user_id"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		if err := s.service.DeactivateUser(ctx, p.UserID, &actor.ID); err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"ok": true}, ID: req.ID}
	case "users.stats":
		user, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		out, err := s.service.GetUserStats(ctx, user.ID)
		if err != nil {
			return internalError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "rules.list":
		_, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		out, err := s.service.ListRules(ctx)
		if err != nil {
			return internalError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "rules.create":
		actor, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		var p struct {
			Key         string `json:"key"`
			Pattern     string `json:"pattern"`
			Action      string `json:"action"`
			Priority    int    `json:"priority"`
			Description string `json:"description"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.CreateRule(ctx, p.Pattern, domain.RuleAction(p.Action), p.Priority, p.Description, &actor.ID)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "rules.update":
		actor, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		var p struct {
			Key         string `json:"key"`
			RuleID      uint   `json:"rule_id"`
			Pattern     string `json:"pattern"`
			Action      string `json:"action"`
			Priority    int    `json:"priority"`
			Description string `json:"description"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.UpdateRule(ctx, p.RuleID, p.Pattern, domain.RuleAction(p.Action), p.Priority, p.Description, &actor.ID)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "rules.delete":
		actor, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		var p struct {
			Key    string `json:"key"`
			RuleID uint   `json:"rule_id"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		if err := s.service.DeleteRule(ctx, p.RuleID, &actor.ID); err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"ok": true}, ID: req.ID}
	case "rules.conflicts":
		_, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		out, err := s.service.RuleConflicts(ctx)
		if err != nil {
			return internalError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "commands.submit":
		user, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		var p struct {
			Key         string `json:"key"`
			CommandText string `json:"command_text"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		out, err := s.service.SubmitCommand(ctx, user.ID, p.CommandText)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "commands.list":
		user, rpcResp, ok := s.authz(ctx, req, false)
		if !ok {
			return rpcResp
		}
		var p struct {
			Key   string `json:"key"`
			All   bool   `json:"all"`
			Limit int    `json:"limit"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		if p.All {
			if user.Role != domain.RoleAdmin {
				return response{JSONRPC: "2.0", Error: &rpcError{Code: 40300, Message: "forbidden"}, ID: req.ID}
			}
			out, err := s.service.ListCommands(ctx, p.Limit)
			if err != nil {
				return internalError(req.ID, err)
			}
			return response{JSONRPC: "2.0", Result: out, ID: req.ID}
		}
		out, err := s.service.ListUserCommands(ctx, user.ID, p.Limit)
		if err != nil {
			return internalError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "approvals.list":
		_, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		out, err := s.service.ListOpenApprovals(ctx)
		if err != nil {
			return internalError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	case "approvals.review":
		reviewer, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		var p struct {
			Key        string `json:"key"`
			ApprovalID uint   `json:"approval_id"`
			Action     string `json:"action"`
			Reason     string `json:"reason"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		var approve bool
		switch strings.ToLower(strings.TrimSpace(p.Action)) {
		case "approve":
			approve = true
		case "reject":
			approve = false
		default:
			return invalidParams(req.ID)
		}
		approval, cmd, err := s.service.ReviewApproval(ctx, p.ApprovalID, reviewer.ID, approve, p.Reason)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"approval": approval, "command": cmd}, ID: req.ID}
	case "audit.list":
		_, rpcResp, ok := s.authz(ctx, req, true)
		if !ok {
			return rpcResp
		}
		var p struct {
			Key    string `json:"key"`
			UserID *uint  `json:"user_id"`
			Limit  int    `json:"limit"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		if p.UserID != nil {
			out, err := s.service.ListUserAuditLogs(ctx, *p.UserID, p.Limit)
			if err != nil {
				return internalError(req.ID, err)
			}
			return response{JSONRPC: "2.0", Result: out, ID: req.ID}
		}
		out, err := s.service.ListAuditLogs(ctx, p.Limit)
		if err != nil {
			return internalError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	default:
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32601, Message: "method not found"}, ID: req.ID}
	}
}

func (s *Server) authz(ctx context.Context, req request, adminOnly bool) (domain.User, response, bool) {
	var p struct {
		Key string `json:"key"`
	}
	if !decodeParams(req.Params, &p) {
		return domain.User{}, invalidParams(req.ID), false
	}
	user, err := s.service.AuthenticateAPIKey(ctx, p.Key)
	if err != nil {
		return domain.User{}, response{JSONRPC: "2.0", Error: &rpcError{Code: 40100, Message: "unauthorized"}, ID: req.ID}, false
	}
	if adminOnly && user.Role != domain.RoleAdmin {
		return domain.User{}, response{JSONRPC: "2.0", Error: &rpcError{Code: 40300, Message: "forbidden"}, ID: req.ID}, false
	}
	return user, response{}, true
}

func decodeParams(raw json.RawMessage, out any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func invalidParams(id any) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: -32602, Message: "invalid params"}, ID: id}
}

func appError(id any, err error) response {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return response{JSONRPC: "2.0", Error: &rpcError{Code: 40400, Message: "not found"}, ID: id}
	case errors.Is(err, domain.ErrAlreadyReviewed):
		return response{JSONRPC: "2.0", Error: &rpcError{Code: 40900, Message: err.Error()}, ID: id}
	default:
		return response{JSONRPC: "2.0", Error: &rpcError{Code: 40000, Message: err.Error()}, ID: id}
	}
}

func internalError(id any, err error) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: 50000, Message: fmt.Sprintf("internal error: %v", err)}, ID: id}
}
