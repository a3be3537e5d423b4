package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/atvirokodosprendimai/cmdgate/internal/application"
	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
	"github.com/go-chi/chi/v5"
)

const apiKeyHeader = "X-API-Key"

type contextKey string

const identityKey contextKey = "identity"

type Handler struct {
	service *application.GatewayService
}

func NewRouter(service *application.GatewayService) http.Handler {
	h := &Handler{service: service}
	r := chi.NewRouter()

	r.Route("/api", func(api chi.Router) {
		api.With(h.requireAuth(false)).Get("/users/me", h.handleWhoAmI)
		api.With(h.requireAuth(false)).Get("/users/me/stats", h.handleMyStats)
		api.With(h.requireAuth(false)).Get("/users/me/commands", h.handleMyCommands)
		api.With(h.requireAuth(true)).Get("/users", h.handleListUsers)
		api.With(h.requireAuth(true)).Post("/users", h.handleCreateUser)
		api.With(h.requireAuth(true)).Patch("/users/{id}/credits", h.handleSetCredits)
		api.With(h.requireAuth(true)).Delete("/users/{id}", h.handleDeactivateUser)
		api.With(h.requireAuth(true)).Get("/users/{id}/audit", h.handleUserAuditLogs)

		api.With(h.requireAuth(false)).Get("/rules", h.handleListRules)
		api.With(h.requireAuth(true)).Post("/rules", h.handleCreateRule)
		api.With(h.requireAuth(true)).Put("/rules/{id}", h.handleUpdateRule)
		api.With(h.requireAuth(true)).Delete("/rules/{id}", h.handleDeleteRule)
		api.With(h.requireAuth(true)).Get("/rules/conflicts", h.handleRuleConflicts)

		api.With(h.requireAuth(false)).Post("/commands", h.handleSubmitCommand)
		api.With(h.requireAuth(true)).Get("/commands", h.handleListCommands)
		api.With(h.requireAuth(false)).Get("/commands/{id}", h.handleGetCommand)

		api.With(h.requireAuth(true)).Get("/approvals", h.handleListApprovals)
		api.With(h.requireAuth(true)).Post("/approvals/{id}/review", h.handleReviewApproval)

		api.With(h.requireAuth(true)).Get("/audit", h.handleListAuditLogs)
	})

	return r
}

func (h *Handler) requireAuth(adminOnly bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := h.service.AuthenticateAPIKey(r.Context(), r.Header.Get(apiKeyHeader))
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			if adminOnly && user.Role != domain.RoleAdmin {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, user)))
		})
	}
}

func identityFromContext(ctx context.Context) (domain.User, bool) {
	value := ctx.Value(identityKey)
	if value == nil {
		return domain.User{}, false
	}
	user, ok := value.(domain.User)
	return user, ok
}

func (h *Handler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	user, ok := identityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleMyStats(w http.ResponseWriter, r *http.Request) {
	user, _ := identityFromContext(r.Context())
	stats, err := h.service.GetUserStats(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleMyCommands(w http.ResponseWriter, r *http.Request) {
	user, _ := identityFromContext(r.Context())
	commands, err := h.service.ListUserCommands(r.Context(), user.ID, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commands)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Credits  int    `json:"credits"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	actor, _ := identityFromContext(r.Context())
	user, apiKey, err := h.service.CreateUser(r.Context(), req.Username, req.Role, req.Credits, &actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	// The plaintext key is shown exactly once, on creation.
	writeJSON(w, http.StatusCreated, map[string]any{"user": user, "api_key": apiKey})
}

type setCreditsRequest struct {
	Credits int `json:"credits"`
}

func (h *Handler) handleSetCredits(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	var req setCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	actor, _ := identityFromContext(r.Context())
	user, err := h.service.SetCredits(r.Context(), userID, req.Credits, &actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	actor, _ := identityFromContext(r.Context())
	if err := h.service.DeactivateUser(r.Context(), userID, &actor.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleUserAuditLogs(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	records, err := h.service.ListUserAuditLogs(r.Context(), userID, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

type ruleRequest struct {
	Pattern     string `json:"pattern"`
	Action      string `json:"action"`
	Priority    int    `json:"priority"`
	Description string `json:"description"`
}

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	actor, _ := identityFromContext(r.Context())
	rule, err := h.service.CreateRule(r.Context(), req.Pattern, domain.RuleAction(req.Action), req.Priority, req.Description, &actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *Handler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	actor, _ := identityFromContext(r.Context())
	rule, err := h.service.UpdateRule(r.Context(), ruleID, req.Pattern, domain.RuleAction(req.Action), req.Priority, req.Description, &actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	actor, _ := identityFromContext(r.Context())
	if err := h.service.DeleteRule(r.Context(), ruleID, &actor.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleRuleConflicts(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RuleConflicts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type submitCommandRequest struct {
	CommandText string `json:"command_text"`
}

func (h *Handler) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req submitCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	user, _ := identityFromContext(r.Context())
	cmd, err := h.service.SubmitCommand(r.Context(), user.ID, req.CommandText)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cmd)
}

func (h *Handler) handleListCommands(w http.ResponseWriter, r *http.Request) {
	commands, err := h.service.ListCommands(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commands)
}

func (h *Handler) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	commandID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	user, _ := identityFromContext(r.Context())
	cmd, err := h.service.GetCommand(r.Context(), commandID)
	if err != nil {
		writeError(w, err)
		return
	}
	if cmd.UserID != user.ID && user.Role != domain.RoleAdmin {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func (h *Handler) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.service.ListOpenApprovals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approvals)
}

type reviewRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func (h *Handler) handleReviewApproval(w http.ResponseWriter, r *http.Request) {
	approvalID, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	var approve bool
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "approve":
		approve = true
	case "reject":
		approve = false
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "action must be approve or reject"})
		return
	}
	reviewer, _ := identityFromContext(r.Context())
	approval, cmd, err := h.service.ReviewApproval(r.Context(), approvalID, reviewer.ID, approve, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approval": approval, "command": cmd})
}

func (h *Handler) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListAuditLogs(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func pathID(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New("id must be a number")
	}
	return uint(parsed), nil
}

func queryLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidPattern):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, domain.ErrAlreadyReviewed):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}
