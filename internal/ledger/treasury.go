package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
)

// Treasury is the club-level balance that accumulates event commissions.
//
// CurrentBalance only goes negative through AdjustBalance; TotalCommission
// is the running sum of commission credits and never decreases.
type Treasury struct {
	ID              string      `json:"id"`
	ClubID          string      `json:"club_id"`
	TotalCommission money.Money `json:"total_commission"`
	CurrentBalance  money.Money `json:"current_balance"`
	Version         int64       `json:"version"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// NewTreasury opens an empty treasury for a club.
func NewTreasury(clubID string, at time.Time) *Treasury {
	return &Treasury{
		ID:        uuid.New().String(),
		ClubID:    clubID,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// CreditCommission books an event commission.
func (t *Treasury) CreditCommission(amount money.Money, eventID, description string, at time.Time) (ClubTransaction, error) {
	if !amount.IsPositive() {
		return ClubTransaction{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	t.TotalCommission = t.TotalCommission.Add(amount)
	t.CurrentBalance = t.CurrentBalance.Add(amount)
	return t.record(amount, ClubKindCommission, Credit, eventID, description, at), nil
}

// DebitExpense pays an expense out of the current balance.
func (t *Treasury) DebitExpense(amount money.Money, description string, at time.Time) (ClubTransaction, error) {
	if !amount.IsPositive() {
		return ClubTransaction{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if !t.HasSufficientFunds(amount) {
		return ClubTransaction{}, &InsufficientFundsError{Balance: t.CurrentBalance, Requested: amount}
	}
	t.CurrentBalance = t.CurrentBalance.Sub(amount)
	return t.record(amount, ClubKindExpense, Debit, "", description, at), nil
}

// AdjustBalance is the administrative override: it moves the current balance
// by a signed amount and is the only way to take it below zero. The total
// commission is not affected.
func (t *Treasury) AdjustBalance(signedAmount money.Money, reason string, at time.Time) (ClubTransaction, error) {
	if signedAmount.IsZero() {
		return ClubTransaction{}, fmt.Errorf("%w: adjustment of zero", ErrInvalidAmount)
	}
	dir := Credit
	if signedAmount.IsNegative() {
		dir = Debit
	}
	t.CurrentBalance = t.CurrentBalance.Add(signedAmount)
	return t.record(signedAmount.Abs(), ClubKindAdjustment, dir, "", reason, at), nil
}

// HasSufficientFunds reports whether amount can be paid as an expense.
func (t *Treasury) HasSufficientFunds(amount money.Money) bool {
	return !t.CurrentBalance.LessThan(amount)
}

// ReplayClub sums a treasury log in sequence order.
func ReplayClub(txs []ClubTransaction) (balance, commission money.Money) {
	for _, tx := range txs {
		balance = balance.Add(tx.Signed())
		if tx.Kind == ClubKindCommission {
			commission = commission.Add(tx.Amount)
		}
	}
	return balance, commission
}

// Reconcile compares the stored balances with the replayed log.
func (t *Treasury) Reconcile(txs []ClubTransaction) error {
	balance, commission := ReplayClub(txs)
	if !balance.Equal(t.CurrentBalance) {
		return &ReconciliationError{Owner: t.ID, Field: "current_balance", Stored: t.CurrentBalance, Replayed: balance}
	}
	if !commission.Equal(t.TotalCommission) {
		return &ReconciliationError{Owner: t.ID, Field: "total_commission", Stored: t.TotalCommission, Replayed: commission}
	}
	return nil
}

func (t *Treasury) record(amount money.Money, kind ClubKind, dir Direction, eventID, description string, at time.Time) ClubTransaction {
	t.Version++
	t.UpdatedAt = at
	return ClubTransaction{
		ID:          uuid.New().String(),
		TreasuryID:  t.ID,
		ClubID:      t.ClubID,
		Sequence:    t.Version,
		Amount:      amount,
		Kind:        kind,
		Direction:   dir,
		EventID:     eventID,
		Description: description,
		CreatedAt:   at,
	}
}
