package ledger

import (
	"errors"
	"fmt"

	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
)

var (
	// ErrInvalidAmount is returned for zero, negative or malformed amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInsufficientFunds is matched by *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidKind is returned when a transaction kind does not fit the
	// direction of the operation (e.g. crediting a usage).
	ErrInvalidKind = errors.New("ledger: transaction kind not allowed for this operation")

	// ErrInvariantViolation is returned when a mutation would break a
	// balance invariant (e.g. current amount above total earned).
	ErrInvariantViolation = errors.New("ledger: balance invariant violated")

	// ErrAccountClosed is returned for mutations on a soft-closed account.
	ErrAccountClosed = errors.New("ledger: account is closed")

	// ErrReconciliationFailure is matched by *ReconciliationError. It means
	// stored balances disagree with the transaction log and must never be
	// corrected silently.
	ErrReconciliationFailure = errors.New("ledger: reconciliation failure")
)

// InsufficientFundsError carries the balance and the requested amount of a
// rejected debit.
type InsufficientFundsError struct {
	Balance   money.Money
	Requested money.Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: balance %s, requested %s", ErrInsufficientFunds, e.Balance, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ReconciliationError reports which stored figure disagrees with the replay.
type ReconciliationError struct {
	Owner    string // account or treasury ID
	Field    string
	Stored   money.Money
	Replayed money.Money
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("%s: %s %s stored %s, replayed %s",
		ErrReconciliationFailure, e.Owner, e.Field, e.Stored, e.Replayed)
}

func (e *ReconciliationError) Unwrap() error { return ErrReconciliationFailure }
