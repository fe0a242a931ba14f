package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/RiseNet-Web/gestasso-sub000/internal/api"
	"github.com/RiseNet-Web/gestasso-sub000/internal/distribution"
	"github.com/RiseNet-Web/gestasso-sub000/internal/event"
	"github.com/RiseNet-Web/gestasso-sub000/internal/finance"
	"github.com/RiseNet-Web/gestasso-sub000/internal/model"
	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
	"github.com/RiseNet-Web/gestasso-sub000/internal/store"
)

// newTestEnv creates the handlers over an in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	h := api.NewHandler(finance.NewService(ms), nil)

	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return ms, r
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func expect(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// seedActiveEvent creates an event through the API, registers members and
// activates it.
func seedActiveEvent(t *testing.T, router chi.Router, budget, pct string, members ...string) string {
	t.Helper()
	w := do(t, router, "POST", "/events", map[string]string{
		"club_id": "club-1", "team_id": "team-1", "name": "Tournament",
		"total_budget": budget, "club_percentage": pct,
	})
	expect(t, w, http.StatusCreated)
	e := decode[event.Event](t, w)

	for _, m := range members {
		expect(t, do(t, router, "POST", "/events/"+e.ID+"/participants", api.RegisterRequest{MemberID: m}), http.StatusCreated)
	}
	expect(t, do(t, router, "POST", "/events/"+e.ID+"/activate", nil), http.StatusOK)
	return e.ID
}

// --- Events ---

func TestCreateEvent_Valid(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "POST", "/events", map[string]any{
		"club_id": "club-1", "team_id": "team-1", "name": "Gala",
		"total_budget": "1500.00", "club_percentage": "12.5",
	})
	expect(t, w, http.StatusCreated)

	e := decode[event.Event](t, w)
	if e.ID == "" {
		t.Error("expected event ID")
	}
	if e.Status != event.StatusDraft {
		t.Errorf("expected draft, got %s", e.Status)
	}
	if e.TotalBudget.String() != "1500.00" {
		t.Errorf("expected budget 1500.00, got %s", e.TotalBudget)
	}
}

func TestCreateEvent_InvalidPercentage(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/events", map[string]any{
		"club_id": "club-1", "team_id": "team-1", "total_budget": "10.00", "club_percentage": "150",
	})
	expect(t, w, http.StatusBadRequest)
}

func TestCreateEvent_MalformedAmount(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/events", map[string]any{
		"club_id": "club-1", "team_id": "team-1", "total_budget": "ten", "club_percentage": "10",
	})
	expect(t, w, http.StatusBadRequest)
}

func TestGetEvent_NotFound(t *testing.T) {
	_, router := newTestEnv(t)
	expect(t, do(t, router, "GET", "/events/missing", nil), http.StatusNotFound)
}

func TestRegisterParticipant_Duplicate(t *testing.T) {
	_, router := newTestEnv(t)
	id := seedActiveEvent(t, router, "100.00", "10", "alice")

	w := do(t, router, "POST", "/events/"+id+"/participants", api.RegisterRequest{MemberID: "alice"})
	expect(t, w, http.StatusConflict)

	w = do(t, router, "POST", "/events/"+id+"/participants", api.RegisterRequest{})
	expect(t, w, http.StatusBadRequest)
}

// --- Distribution ---

func TestDistribute_EndToEnd(t *testing.T) {
	_, router := newTestEnv(t)
	members := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"}
	id := seedActiveEvent(t, router, "999.99", "12.5", members...)

	w := do(t, router, "POST", "/events/"+id+"/distribute", nil)
	expect(t, w, http.StatusOK)

	res := decode[distribution.Result](t, w)
	if res.PerParticipant.String() != "124.99" {
		t.Errorf("expected 124.99 per participant, got %s", res.PerParticipant)
	}
	if res.Commission.String() != "125.06" {
		t.Errorf("expected commission 125.06, got %s", res.Commission)
	}
	if res.ParticipantsCount != 7 {
		t.Errorf("expected 7 participants, got %d", res.ParticipantsCount)
	}

	// Second distribution is refused.
	expect(t, do(t, router, "POST", "/events/"+id+"/distribute", nil), http.StatusConflict)

	w = do(t, router, "GET", "/events/"+id+"/transactions", nil)
	expect(t, w, http.StatusOK)
	if txs := decode[[]map[string]any](t, w); len(txs) != 7 {
		t.Errorf("expected 7 event transactions, got %d", len(txs))
	}

	w = do(t, router, "GET", "/members/m3/funds", nil)
	expect(t, w, http.StatusOK)
	funds := decode[model.MemberFunds](t, w)
	if funds.Available.String() != "124.99" {
		t.Errorf("expected 124.99 available, got %s", funds.Available)
	}

	w = do(t, router, "GET", "/clubs/club-1/treasury", nil)
	expect(t, w, http.StatusOK)
	stmt := decode[model.TreasuryStatement](t, w)
	if stmt.Treasury.CurrentBalance.String() != "125.06" {
		t.Errorf("expected treasury 125.06, got %s", stmt.Treasury.CurrentBalance)
	}

	expect(t, do(t, router, "POST", "/clubs/club-1/treasury/reconcile", nil), http.StatusOK)
	expect(t, do(t, router, "POST", "/members/m3/reconcile", nil), http.StatusOK)
}

func TestDistribute_DraftEvent(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/events", map[string]any{
		"club_id": "club-1", "team_id": "team-1", "total_budget": "10.00", "club_percentage": "0",
	})
	expect(t, w, http.StatusCreated)
	e := decode[event.Event](t, w)

	expect(t, do(t, router, "POST", "/events/"+e.ID+"/distribute", nil), http.StatusConflict)
}

func TestDistribute_NoParticipants(t *testing.T) {
	_, router := newTestEnv(t)
	id := seedActiveEvent(t, router, "10.00", "0")
	w := do(t, router, "POST", "/events/"+id+"/distribute", nil)
	expect(t, w, http.StatusConflict)
}

// --- Member accounts ---

func TestUseFunds_InsufficientFunds(t *testing.T) {
	_, router := newTestEnv(t)
	id := seedActiveEvent(t, router, "40.00", "0", "alice")
	expect(t, do(t, router, "POST", "/events/"+id+"/distribute", nil), http.StatusOK)

	path := "/members/alice/accounts/team-1/usage"
	w := do(t, router, "POST", path, map[string]string{"amount": "25.00", "description": "kit"})
	expect(t, w, http.StatusCreated)

	w = do(t, router, "POST", path, map[string]string{"amount": "15.01", "description": "bag"})
	expect(t, w, http.StatusUnprocessableEntity)

	w = do(t, router, "POST", path, map[string]string{"amount": "0", "description": "nothing"})
	expect(t, w, http.StatusBadRequest)

	w = do(t, router, "GET", "/members/alice/accounts/team-1", nil)
	expect(t, w, http.StatusOK)
	stmt := decode[model.AccountStatement](t, w)
	if stmt.Account.CurrentAmount.String() != "15.00" {
		t.Errorf("expected 15.00 left, got %s", stmt.Account.CurrentAmount)
	}
	if len(stmt.Transactions) != 2 {
		t.Errorf("expected 2 transactions, got %d", len(stmt.Transactions))
	}
}

func TestAccountStatement_Unknown(t *testing.T) {
	_, router := newTestEnv(t)
	expect(t, do(t, router, "GET", "/members/ghost/accounts/team-1", nil), http.StatusNotFound)
}

func TestCloseAccount_RefusesMovements(t *testing.T) {
	_, router := newTestEnv(t)
	id := seedActiveEvent(t, router, "40.00", "0", "alice")
	expect(t, do(t, router, "POST", "/events/"+id+"/distribute", nil), http.StatusOK)

	expect(t, do(t, router, "POST", "/members/alice/accounts/team-1/close", nil), http.StatusOK)
	w := do(t, router, "POST", "/members/alice/accounts/team-1/usage", map[string]string{"amount": "1.00"})
	expect(t, w, http.StatusConflict)
}

// --- Treasury ---

func TestTreasury_ExpenseAndAdjustment(t *testing.T) {
	_, router := newTestEnv(t)
	id := seedActiveEvent(t, router, "200.00", "50", "alice")
	expect(t, do(t, router, "POST", "/events/"+id+"/distribute", nil), http.StatusOK)

	expect(t, do(t, router, "POST", "/clubs/club-1/treasury/expenses",
		map[string]string{"amount": "100.01", "description": "bus"}), http.StatusUnprocessableEntity)
	expect(t, do(t, router, "POST", "/clubs/club-1/treasury/adjustments",
		map[string]string{"amount": "-150.00", "description": "correction"}), http.StatusCreated)

	w := do(t, router, "GET", "/clubs/club-1/treasury", nil)
	expect(t, w, http.StatusOK)
	stmt := decode[model.TreasuryStatement](t, w)
	if stmt.Treasury.CurrentBalance.String() != "-50.00" {
		t.Errorf("expected -50.00, got %s", stmt.Treasury.CurrentBalance)
	}
}

// --- Deduction rules ---

func TestDeductionRules(t *testing.T) {
	_, router := newTestEnv(t)
	id := seedActiveEvent(t, router, "20.00", "0", "alice")
	expect(t, do(t, router, "POST", "/events/"+id+"/distribute", nil), http.StatusOK)

	w := do(t, router, "POST", "/deduction-rules", map[string]any{
		"club_id": "club-1", "name": "cagnotte", "kind": "cagnotte", "mode": "fixed", "value": "50", "active": true,
	})
	expect(t, w, http.StatusCreated)
	rule := decode[map[string]any](t, w)
	ruleID := fmt.Sprint(rule["id"])

	expect(t, do(t, router, "GET", "/deduction-rules/"+ruleID, nil), http.StatusOK)

	req := api.DeductionRequest{Base: money.MustParse("150.00"), MemberID: "alice", TeamID: "team-1"}

	w = do(t, router, "POST", "/deduction-rules/"+ruleID+"/calculate", req)
	expect(t, w, http.StatusOK)
	q := decode[model.DeductionQuote](t, w)
	if q.Deduction.String() != "20.00" || q.Net.String() != "130.00" {
		t.Errorf("expected 20.00/130.00, got %s/%s", q.Deduction, q.Net)
	}

	w = do(t, router, "POST", "/deduction-rules/"+ruleID+"/apply", req)
	expect(t, w, http.StatusOK)
	if q := decode[model.DeductionQuote](t, w); q.TransactionID == "" {
		t.Error("expected a booked transaction")
	}

	w = do(t, router, "GET", "/members/alice/funds", nil)
	expect(t, w, http.StatusOK)
	if funds := decode[model.MemberFunds](t, w); !funds.Available.IsZero() {
		t.Errorf("expected funds used up, got %s", funds.Available)
	}

	w = do(t, router, "POST", "/deduction-rules/"+ruleID+"/apply", api.DeductionRequest{MemberID: "alice"})
	expect(t, w, http.StatusBadRequest)
}

func TestCreateDeductionRule_Invalid(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/deduction-rules", map[string]any{
		"name": "bad", "kind": "bogus", "mode": "fixed", "value": "5",
	})
	expect(t, w, http.StatusBadRequest)
}

func TestInvalidBody(t *testing.T) {
	_, router := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	expect(t, w, http.StatusBadRequest)
}
