package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pario-ai/spendguard/pkg/guard"
	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/payment"
)

// errorResult is the execute response when no decision could be made.
type errorResult struct {
	Decision models.Decision `json:"decision"`
	Reason   string          `json:"reason"`
	Code     string          `json:"code"`
	LogID    string          `json:"log_id"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  any    `json:"status,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req models.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RunID == "" {
		req.RunID = r.Header.Get(RunIDHeader)
	}

	res, err := s.guard.Execute(r.Context(), req, r.Header.Get(payment.HeaderName))
	if errors.Is(err, guard.ErrInvalidRequest) {
		writeJSON(w, http.StatusBadRequest, errorResult{
			Decision: models.DecisionDenied,
			Reason:   models.Reason(models.ReasonMissingFields, "provider, action, task are required"),
			Code:     string(models.ReasonMissingFields),
			LogID:    "error",
		})
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "execute failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResult{
			Decision: models.DecisionDenied,
			Reason:   "internal_error",
			Code:     "internal_error",
			LogID:    "error",
		})
		return
	}
	writeJSON(w, decisionStatus(res.Decision), res)
}

func decisionStatus(d models.Decision) int {
	switch d {
	case models.DecisionApproved:
		return http.StatusOK
	case models.DecisionPaymentRequired:
		return http.StatusPaymentRequired
	default:
		return http.StatusForbidden
	}
}

// handleProviderSend serves a registered provider directly, the way a
// remote x402 provider would: 402 with terms when unpaid, the result when paid.
// Proof verification is the guard's job; the provider trusts the header.
func (s *Server) handleProviderSend(w http.ResponseWriter, r *http.Request) {
	route, ok := s.guard.Providers.Resolve(chi.URLParam(r, "name"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown provider")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil || (len(body) > 0 && !json.Valid(body)) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}

	proof := r.Header.Get(payment.HeaderName)
	if proof == "" {
		q, err := route.Gateway.Quote(r.Context())
		if err != nil {
			s.logger.ErrorContext(r.Context(), "provider quote failed", "provider", route.Name, "error", err)
			writeJSONError(w, http.StatusBadGateway, "provider unavailable")
			return
		}
		writeJSON(w, http.StatusPaymentRequired, map[string]any{"x402": q})
		return
	}

	res, err := route.Gateway.Execute(r.Context(), proof, body)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "provider execute failed", "provider", route.Name, "error", err)
		writeJSONError(w, http.StatusBadGateway, "provider unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.guard.Budget.Status(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type budgetUpdate struct {
	Action     string         `json:"action"`
	DailyLimit *models.Amount `json:"daily_limit"`
}

func (s *Server) handleBudgetUpdate(w http.ResponseWriter, r *http.Request) {
	var body budgetUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch body.Action {
	case "reset":
		st, err := s.guard.Budget.Reset(r.Context())
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Budget reset to daily limit", Status: st})
	case "set_limit":
		if body.DailyLimit == nil || *body.DailyLimit < 0 {
			writeJSONError(w, http.StatusBadRequest, "daily_limit must be a non-negative number")
			return
		}
		st, err := s.guard.Budget.SetLimit(r.Context(), *body.DailyLimit)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Daily limit updated", Status: st})
	default:
		writeJSONError(w, http.StatusBadRequest, "unknown action, use reset or set_limit")
	}
}

func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.guard.Policy.Get(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	var u models.PolicyUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if u.MaxPricePerCall != nil && *u.MaxPricePerCall < 0 {
		writeJSONError(w, http.StatusBadRequest, "max_price_per_call must not be negative")
		return
	}
	p, err := s.guard.Policy.Update(r.Context(), u)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type logsResponse struct {
	Logs  []models.AuditLogEntry `json:"logs"`
	Stats models.LogStats        `json:"stats"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	logs, err := s.guard.Audit.Logs(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	stats, err := s.guard.Audit.Stats(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logsResponse{Logs: logs, Stats: stats})
}

func (s *Server) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.Audit.Clear(r.Context()); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Audit logs cleared"})
}

func (s *Server) handleNoncesClear(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.ClearNonces(r.Context()); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Nonces and pending payments cleared"})
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.ClearAll(r.Context()); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{
		Success: true,
		Message: "SpendGuard state cleared (logs, budget, policy, nonces, pending payments)",
	})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}
