package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/atvirokodosprendimai/cmdgate/internal/adapters/db/sqlite"
	"github.com/atvirokodosprendimai/cmdgate/internal/application"
	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
)

type testEnv struct {
	server   *httptest.Server
	adminKey string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "cmdgate_test.db")

	db, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := sqlite.RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	service := application.NewGatewayService(sqlite.NewGatewayRepository(db), application.Config{})
	_, adminKey, err := service.BootstrapAdmin(ctx, "admin", 100)
	if err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}

	server := httptest.NewServer(NewRouter(service))
	t.Cleanup(server.Close)
	return &testEnv{server: server, adminKey: adminKey}
}

func (e *testEnv) do(t *testing.T, method, path, key string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func (e *testEnv) createUser(t *testing.T, username string, credits int) (domain.User, string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/users", e.adminKey, map[string]any{
		"username": username,
		"role":     "member",
		"credits":  credits,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user: status %d", resp.StatusCode)
	}
	out := decodeBody[struct {
		User   domain.User `json:"user"`
		APIKey string      `json:"api_key"`
	}](t, resp)
	return out.User, out.APIKey
}

func TestAuthRequiredAndRoleEnforced(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/users/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/users/me", "not-a-key", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad key, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	_, memberKey := env.createUser(t, "member1", 5)
	resp = env.do(t, http.MethodGet, "/api/users", memberKey, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for member on admin route, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestSubmitCommandFlow(t *testing.T) {
	env := newTestEnv(t)
	_, memberKey := env.createUser(t, "worker", 3)

	resp := env.do(t, http.MethodPost, "/api/rules", env.adminKey, map[string]any{
		"pattern":  "^ls",
		"action":   "AUTO_ACCEPT",
		"priority": 1,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create rule: status %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/commands", memberKey, map[string]any{"command_text": "ls -la"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit command: status %d", resp.StatusCode)
	}
	cmd := decodeBody[domain.Command](t, resp)
	if cmd.Status != domain.StatusExecuted || cmd.CreditsDeducted != 1 {
		t.Fatalf("expected executed with debit, got %+v", cmd)
	}

	resp = env.do(t, http.MethodGet, "/api/users/me", memberKey, nil)
	me := decodeBody[domain.User](t, resp)
	if me.Credits != 2 {
		t.Fatalf("expected 2 credits left, got %d", me.Credits)
	}

	resp = env.do(t, http.MethodGet, "/api/users/me/commands", memberKey, nil)
	history := decodeBody[[]domain.Command](t, resp)
	if len(history) != 1 || history[0].ID != cmd.ID {
		t.Fatalf("expected own command in history, got %+v", history)
	}
}

func TestApprovalReviewFlow(t *testing.T) {
	env := newTestEnv(t)
	_, memberKey := env.createUser(t, "requester", 5)

	resp := env.do(t, http.MethodPost, "/api/commands", memberKey, map[string]any{"command_text": "deploy api"})
	cmd := decodeBody[domain.Command](t, resp)
	if cmd.Status != domain.StatusPendingApproval {
		t.Fatalf("expected pending_approval, got %s", cmd.Status)
	}

	resp = env.do(t, http.MethodGet, "/api/approvals", env.adminKey, nil)
	approvals := decodeBody[[]domain.ApprovalSummary](t, resp)
	if len(approvals) != 1 {
		t.Fatalf("expected one open approval, got %d", len(approvals))
	}

	path := "/api/approvals/" + itoa(approvals[0].ID) + "/review"
	resp = env.do(t, http.MethodPost, path, env.adminKey, map[string]any{"action": "approve"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("review: status %d", resp.StatusCode)
	}
	out := decodeBody[struct {
		Approval domain.ApprovalRequest `json:"approval"`
		Command  domain.Command         `json:"command"`
	}](t, resp)
	if out.Approval.Status != domain.ApprovalApproved || out.Command.Status != domain.StatusExecuted {
		t.Fatalf("unexpected review outcome: %+v", out)
	}

	// A second review must lose with a conflict.
	resp = env.do(t, http.MethodPost, path, env.adminKey, map[string]any{"action": "reject", "reason": "late"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double review, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/approvals/99999/review", env.adminKey, map[string]any{"action": "approve"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown approval, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestRuleValidationAndConflicts(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/rules", env.adminKey, map[string]any{
		"pattern": "([",
		"action":  "AUTO_REJECT",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad regex, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	for _, rule := range []map[string]any{
		{"pattern": "sudo", "action": "AUTO_REJECT", "priority": 10},
		{"pattern": "sudo apt", "action": "AUTO_ACCEPT", "priority": 5},
	} {
		resp = env.do(t, http.MethodPost, "/api/rules", env.adminKey, rule)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create rule %+v: status %d", rule, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}

	resp = env.do(t, http.MethodGet, "/api/rules/conflicts", env.adminKey, nil)
	report := decodeBody[domain.ConflictReport](t, resp)
	if len(report.Conflicts) != 2 {
		t.Fatalf("expected symmetric conflict report, got %+v", report)
	}
}

func TestCreditsPatchAndAudit(t *testing.T) {
	env := newTestEnv(t)
	member, memberKey := env.createUser(t, "spender", 0)

	resp := env.do(t, http.MethodPatch, "/api/users/"+itoa(member.ID)+"/credits", env.adminKey, map[string]any{"credits": 7})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set credits: status %d", resp.StatusCode)
	}
	updated := decodeBody[domain.User](t, resp)
	if updated.Credits != 7 {
		t.Fatalf("expected 7 credits, got %d", updated.Credits)
	}

	resp = env.do(t, http.MethodGet, "/api/audit", env.adminKey, nil)
	records := decodeBody[[]domain.AuditRecord](t, resp)
	var sawCreditsSet bool
	for _, rec := range records {
		if rec.Action == "access.credits.set" {
			sawCreditsSet = true
		}
	}
	if !sawCreditsSet {
		t.Fatalf("expected credits.set audit entry, got %+v", records)
	}

	resp = env.do(t, http.MethodGet, "/api/audit", memberKey, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for member on audit, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestDeactivateUserRevokesKey(t *testing.T) {
	env := newTestEnv(t)
	member, memberKey := env.createUser(t, "leaver", 2)

	resp := env.do(t, http.MethodDelete, "/api/users/"+itoa(member.ID), env.adminKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate: status %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/users/me", memberKey, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after deactivation, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestGetCommandOwnership(t *testing.T) {
	env := newTestEnv(t)
	_, aliceKey := env.createUser(t, "alice", 5)
	_, bobKey := env.createUser(t, "bob", 5)

	resp := env.do(t, http.MethodPost, "/api/commands", aliceKey, map[string]any{"command_text": "deploy api"})
	cmd := decodeBody[domain.Command](t, resp)

	resp = env.do(t, http.MethodGet, "/api/commands/"+itoa(cmd.ID), bobKey, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for other user's command, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/commands/"+itoa(cmd.ID), env.adminKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected admin to read any command, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func itoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
