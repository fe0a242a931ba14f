// Package api provides the HTTP handlers for the club finance service:
// events and their distribution, member pooled funds, the club treasury and
// deduction rules.
//
// All monetary values travel as decimal strings ("12.50"), never floats.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/RiseNet-Web/gestasso-sub000/internal/deduction"
	"github.com/RiseNet-Web/gestasso-sub000/internal/distribution"
	"github.com/RiseNet-Web/gestasso-sub000/internal/event"
	"github.com/RiseNet-Web/gestasso-sub000/internal/finance"
	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
	"github.com/RiseNet-Web/gestasso-sub000/internal/store"
)

// Handler exposes finance.Service over HTTP.
type Handler struct {
	svc *finance.Service
	hub *WSHub // optional
}

// NewHandler creates the HTTP handlers.
// Pass nil for hub if the WebSocket feed is not needed.
func NewHandler(svc *finance.Service, hub *WSHub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// Routes mounts the API on r, normally under /api/v1.
func (h *Handler) Routes(r chi.Router) {
	if h.hub != nil {
		// WebSocket endpoint for live ledger notifications.
		r.Get("/ws", h.hub.HandleWS)
	}

	// Events and distribution.
	r.Post("/events", h.CreateEvent)
	r.Get("/events/{eventID}", h.GetEvent)
	r.Put("/events/{eventID}/budget", h.UpdateBudget)
	r.Get("/events/{eventID}/participants", h.ListParticipants)
	r.Post("/events/{eventID}/participants", h.RegisterParticipant)
	r.Post("/events/{eventID}/activate", h.ActivateEvent)
	r.Post("/events/{eventID}/cancel", h.CancelEvent)
	r.Post("/events/{eventID}/distribute", h.Distribute)
	r.Get("/events/{eventID}/transactions", h.EventTransactions)

	// Member pooled funds.
	r.Get("/members/{memberID}/funds", h.MemberFunds)
	r.Post("/members/{memberID}/reconcile", h.ReconcileMember)
	r.Get("/members/{memberID}/accounts/{teamID}", h.AccountStatement)
	r.Post("/members/{memberID}/accounts/{teamID}/usage", h.UseFunds)
	r.Post("/members/{memberID}/accounts/{teamID}/adjustments", h.AdjustAccount)
	r.Post("/members/{memberID}/accounts/{teamID}/close", h.CloseAccount)
	r.Post("/members/{memberID}/accounts/{teamID}/reconcile", h.ReconcileAccount)

	// Club treasury.
	r.Get("/clubs/{clubID}/treasury", h.TreasuryStatement)
	r.Post("/clubs/{clubID}/treasury/expenses", h.RecordExpense)
	r.Post("/clubs/{clubID}/treasury/adjustments", h.AdjustTreasury)
	r.Post("/clubs/{clubID}/treasury/reconcile", h.ReconcileTreasury)

	// Deduction rules.
	r.Post("/deduction-rules", h.CreateDeductionRule)
	r.Get("/deduction-rules/{ruleID}", h.GetDeductionRule)
	r.Post("/deduction-rules/{ruleID}/calculate", h.CalculateDeduction)
	r.Post("/deduction-rules/{ruleID}/apply", h.ApplyDeduction)
}

// --- Request types ---

// CreateEventRequest is the JSON body for POST /events.
type CreateEventRequest struct {
	ClubID         string          `json:"club_id"`
	TeamID         string          `json:"team_id"`
	Name           string          `json:"name"`
	TotalBudget    money.Money     `json:"total_budget"`
	ClubPercentage decimal.Decimal `json:"club_percentage"` // 0–100
}

// BudgetRequest is the JSON body for PUT /events/{eventID}/budget.
type BudgetRequest struct {
	TotalBudget    money.Money     `json:"total_budget"`
	ClubPercentage decimal.Decimal `json:"club_percentage"`
}

// RegisterRequest is the JSON body for POST /events/{eventID}/participants.
type RegisterRequest struct {
	MemberID string `json:"member_id"`
}

// MovementRequest is the JSON body for usages, expenses and adjustments.
// Adjustments take a signed amount; usages and expenses a positive one.
type MovementRequest struct {
	Amount      money.Money `json:"amount"`
	Description string      `json:"description"`
}

// DeductionRequest is the JSON body for calculate and apply.
type DeductionRequest struct {
	Base     money.Money `json:"base"`
	MemberID string      `json:"member_id"`
	TeamID   string      `json:"team_id"`
}

// --- Events ---

// CreateEvent handles POST /api/v1/events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.svc.CreateEvent(r.Context(), finance.NewEvent{
		ClubID:         req.ClubID,
		TeamID:         req.TeamID,
		Name:           req.Name,
		TotalBudget:    req.TotalBudget,
		ClubPercentage: req.ClubPercentage,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// GetEvent handles GET /api/v1/events/{eventID}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// UpdateBudget handles PUT /api/v1/events/{eventID}/budget
func (h *Handler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	var req BudgetRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.svc.UpdateBudget(r.Context(), chi.URLParam(r, "eventID"), req.TotalBudget, req.ClubPercentage)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// ListParticipants handles GET /api/v1/events/{eventID}/participants
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.ListParticipants(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// RegisterParticipant handles POST /api/v1/events/{eventID}/participants
func (h *Handler) RegisterParticipant(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if req.MemberID == "" {
		writeError(w, "member_id is required", http.StatusBadRequest)
		return
	}
	p, err := h.svc.RegisterParticipant(r.Context(), chi.URLParam(r, "eventID"), req.MemberID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ActivateEvent handles POST /api/v1/events/{eventID}/activate
func (h *Handler) ActivateEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.ActivateEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// CancelEvent handles POST /api/v1/events/{eventID}/cancel
func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.CancelEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Distribute handles POST /api/v1/events/{eventID}/distribute
// Pays every participant an equal share and books the commission.
func (h *Handler) Distribute(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Distribute(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// EventTransactions handles GET /api/v1/events/{eventID}/transactions
func (h *Handler) EventTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.EventTransactions(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// --- Member accounts ---

// MemberFunds handles GET /api/v1/members/{memberID}/funds
func (h *Handler) MemberFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := h.svc.MemberFunds(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, funds)
}

// AccountStatement handles GET /api/v1/members/{memberID}/accounts/{teamID}
func (h *Handler) AccountStatement(w http.ResponseWriter, r *http.Request) {
	stmt, err := h.svc.AccountStatement(r.Context(), chi.URLParam(r, "memberID"), chi.URLParam(r, "teamID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

// UseFunds handles POST /api/v1/members/{memberID}/accounts/{teamID}/usage
func (h *Handler) UseFunds(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.svc.UseFunds(r.Context(), chi.URLParam(r, "memberID"), chi.URLParam(r, "teamID"), req.Amount, req.Description)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// AdjustAccount handles POST /api/v1/members/{memberID}/accounts/{teamID}/adjustments
func (h *Handler) AdjustAccount(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.svc.AdjustAccount(r.Context(), chi.URLParam(r, "memberID"), chi.URLParam(r, "teamID"), req.Amount, req.Description)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// CloseAccount handles POST /api/v1/members/{memberID}/accounts/{teamID}/close
func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.CloseAccount(r.Context(), chi.URLParam(r, "memberID"), chi.URLParam(r, "teamID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ReconcileAccount handles POST /api/v1/members/{memberID}/accounts/{teamID}/reconcile
func (h *Handler) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	writeReconciliation(w, r, h.svc.ReconcileAccount(r.Context(), chi.URLParam(r, "memberID"), chi.URLParam(r, "teamID")))
}

// ReconcileMember handles POST /api/v1/members/{memberID}/reconcile
func (h *Handler) ReconcileMember(w http.ResponseWriter, r *http.Request) {
	writeReconciliation(w, r, h.svc.ReconcileMember(r.Context(), chi.URLParam(r, "memberID")))
}

// --- Treasury ---

// TreasuryStatement handles GET /api/v1/clubs/{clubID}/treasury
func (h *Handler) TreasuryStatement(w http.ResponseWriter, r *http.Request) {
	stmt, err := h.svc.TreasuryStatement(r.Context(), chi.URLParam(r, "clubID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

// RecordExpense handles POST /api/v1/clubs/{clubID}/treasury/expenses
func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.svc.RecordExpense(r.Context(), chi.URLParam(r, "clubID"), req.Amount, req.Description)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// AdjustTreasury handles POST /api/v1/clubs/{clubID}/treasury/adjustments
func (h *Handler) AdjustTreasury(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.svc.AdjustTreasury(r.Context(), chi.URLParam(r, "clubID"), req.Amount, req.Description)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// ReconcileTreasury handles POST /api/v1/clubs/{clubID}/treasury/reconcile
func (h *Handler) ReconcileTreasury(w http.ResponseWriter, r *http.Request) {
	writeReconciliation(w, r, h.svc.ReconcileTreasury(r.Context(), chi.URLParam(r, "clubID")))
}

// --- Deduction rules ---

// CreateDeductionRule handles POST /api/v1/deduction-rules
func (h *Handler) CreateDeductionRule(w http.ResponseWriter, r *http.Request) {
	var req deduction.Rule
	if !decode(w, r, &req) {
		return
	}
	rule, err := h.svc.CreateDeductionRule(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// GetDeductionRule handles GET /api/v1/deduction-rules/{ruleID}
func (h *Handler) GetDeductionRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.svc.GetDeductionRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CalculateDeduction handles POST /api/v1/deduction-rules/{ruleID}/calculate
// Quotes the deduction without booking anything.
func (h *Handler) CalculateDeduction(w http.ResponseWriter, r *http.Request) {
	var req DeductionRequest
	if !decode(w, r, &req) {
		return
	}
	q, err := h.svc.CalculateDeduction(r.Context(), chi.URLParam(r, "ruleID"), req.Base, req.MemberID, req.TeamID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ApplyDeduction handles POST /api/v1/deduction-rules/{ruleID}/apply
func (h *Handler) ApplyDeduction(w http.ResponseWriter, r *http.Request) {
	var req DeductionRequest
	if !decode(w, r, &req) {
		return
	}
	q, err := h.svc.ApplyDeduction(r.Context(), chi.URLParam(r, "ruleID"), req.Base, req.MemberID, req.TeamID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// --- Helpers ---

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeReconciliation(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"consistent": true})
}

// writeServiceError maps a service error to its HTTP status. Unexpected
// errors are logged and hidden from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidKind),
		errors.Is(err, money.ErrMalformed),
		errors.Is(err, event.ErrInvalidBudget),
		errors.Is(err, event.ErrInvalidEvent),
		errors.Is(err, deduction.ErrInvalidRule),
		errors.Is(err, finance.ErrTeamRequired):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInvariantViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrAccountClosed),
		errors.Is(err, ledger.ErrReconciliationFailure),
		errors.Is(err, event.ErrInvalidState),
		errors.Is(err, event.ErrDuplicateParticipant),
		errors.Is(err, distribution.ErrAlreadyDistributed),
		errors.Is(err, distribution.ErrNoParticipants),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
