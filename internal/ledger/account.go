// Package ledger holds the member pooled-fund accounts, the club treasury and
// their append-only transaction logs.
//
// Every balance mutation goes through a method here which checks the
// invariants, applies the change and returns the transaction record the
// caller must persist alongside the new balance in the same unit of work.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
)

// Account is the pooled-fund balance of one member within one team.
//
// Invariants: 0 <= CurrentAmount <= TotalEarned, TotalEarned never decreases.
type Account struct {
	ID            string      `json:"id"`
	MemberID      string      `json:"member_id"`
	TeamID        string      `json:"team_id"`
	CurrentAmount money.Money `json:"current_amount"`
	TotalEarned   money.Money `json:"total_earned"`
	Version       int64       `json:"version"`
	ClosedAt      *time.Time  `json:"closed_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewAccount opens an empty account for a member on a team.
func NewAccount(memberID, teamID string, at time.Time) *Account {
	return &Account{
		ID:        uuid.New().String(),
		MemberID:  memberID,
		TeamID:    teamID,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Closed reports whether the account has been soft-closed.
func (a *Account) Closed() bool { return a.ClosedAt != nil }

// Credit adds amount to the account. Earnings raise both the current amount
// and the total earned; adjustment credits only restore the current amount
// and may not lift it above the total earned.
func (a *Account) Credit(amount money.Money, kind Kind, eventID, description string, at time.Time) (Transaction, error) {
	if err := a.checkMutable(amount); err != nil {
		return Transaction{}, err
	}

	current := a.CurrentAmount.Add(amount)
	earned := a.TotalEarned
	switch kind {
	case KindEarning:
		earned = earned.Add(amount)
	case KindAdjustment:
		if current.GreaterThan(earned) {
			return Transaction{}, fmt.Errorf("%w: adjustment would raise %s above total earned %s",
				ErrInvariantViolation, current, earned)
		}
	default:
		return Transaction{}, fmt.Errorf("%w: credit %s", ErrInvalidKind, kind)
	}

	a.CurrentAmount = current
	a.TotalEarned = earned
	return a.record(amount, kind, Credit, eventID, description, at), nil
}

// Debit removes amount from the current amount. The total earned is left
// untouched.
func (a *Account) Debit(amount money.Money, kind Kind, eventID, description string, at time.Time) (Transaction, error) {
	if err := a.checkMutable(amount); err != nil {
		return Transaction{}, err
	}
	if kind != KindUsage && kind != KindAdjustment {
		return Transaction{}, fmt.Errorf("%w: debit %s", ErrInvalidKind, kind)
	}
	if !a.HasSufficientFunds(amount) {
		return Transaction{}, &InsufficientFundsError{Balance: a.CurrentAmount, Requested: amount}
	}

	a.CurrentAmount = a.CurrentAmount.Sub(amount)
	return a.record(amount, kind, Debit, eventID, description, at), nil
}

// HasSufficientFunds reports whether amount can be debited.
func (a *Account) HasSufficientFunds(amount money.Money) bool {
	return !a.CurrentAmount.LessThan(amount)
}

// Close soft-closes the account. Its history stays readable.
func (a *Account) Close(at time.Time) {
	if a.ClosedAt == nil {
		t := at
		a.ClosedAt = &t
		a.UpdatedAt = at
	}
}

// Replay sums a transaction log in sequence order and returns the balances
// it implies.
func Replay(txs []Transaction) (current, earned money.Money) {
	for _, tx := range txs {
		current = current.Add(tx.Signed())
		if tx.Kind == KindEarning {
			earned = earned.Add(tx.Amount)
		}
	}
	return current, earned
}

// Reconcile compares the stored balances with the replayed log.
func (a *Account) Reconcile(txs []Transaction) error {
	current, earned := Replay(txs)
	if !current.Equal(a.CurrentAmount) {
		return &ReconciliationError{Owner: a.ID, Field: "current_amount", Stored: a.CurrentAmount, Replayed: current}
	}
	if !earned.Equal(a.TotalEarned) {
		return &ReconciliationError{Owner: a.ID, Field: "total_earned", Stored: a.TotalEarned, Replayed: earned}
	}
	return nil
}

func (a *Account) checkMutable(amount money.Money) error {
	if a.Closed() {
		return ErrAccountClosed
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

func (a *Account) record(amount money.Money, kind Kind, dir Direction, eventID, description string, at time.Time) Transaction {
	a.Version++
	a.UpdatedAt = at
	return Transaction{
		ID:          uuid.New().String(),
		AccountID:   a.ID,
		Sequence:    a.Version,
		Amount:      amount,
		Kind:        kind,
		Direction:   dir,
		EventID:     eventID,
		Description: description,
		CreatedAt:   at,
	}
}
