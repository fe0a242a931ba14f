// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), SQLite (embedded
// single-node deployments), Redis (read-through cache) and in-memory (for
// testing and development).
//
// Writes only happen inside a unit of work (Tx). The Lock* methods return
// rows that stay locked against other units of work until Commit or
// Rollback, which is what serialises distributions and balance mutations.
package store

import (
	"context"
	"errors"

	"github.com/RiseNet-Web/gestasso-sub000/internal/deduction"
	"github.com/RiseNet-Web/gestasso-sub000/internal/event"
	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an optimistic version check fails or a
	// unique record already exists.
	ErrConflict = errors.New("store: conflicting write")

	// ErrTxDone is returned when a finished unit of work is used again.
	ErrTxDone = errors.New("store: transaction already committed or rolled back")
)

// Reader exposes the read accessors used by reporting and dashboards.
// Reads outside a unit of work see committed data only.
type Reader interface {
	// --- Events ---

	GetEvent(ctx context.Context, id string) (*event.Event, error)

	// ListParticipants returns participants in registration order.
	ListParticipants(ctx context.Context, eventID string) ([]event.Participant, error)

	// --- Member accounts ---

	GetAccount(ctx context.Context, memberID, teamID string) (*ledger.Account, error)
	ListMemberAccounts(ctx context.Context, memberID string) ([]ledger.Account, error)

	// ListAccountTransactions returns the log of an account in sequence order.
	ListAccountTransactions(ctx context.Context, accountID string) ([]ledger.Transaction, error)

	// ListEventTransactions returns the member transactions linked to an event.
	ListEventTransactions(ctx context.Context, eventID string) ([]ledger.Transaction, error)

	// --- Treasury ---

	GetTreasury(ctx context.Context, clubID string) (*ledger.Treasury, error)

	// ListClubTransactions returns the treasury log in sequence order.
	ListClubTransactions(ctx context.Context, clubID string) ([]ledger.ClubTransaction, error)

	// --- Deduction rules ---

	GetDeductionRule(ctx context.Context, id string) (*deduction.Rule, error)
}

// Tx is one unit of work. Every mutation of a balance and the transaction
// record describing it are written through the same Tx.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// --- Events ---

	CreateEvent(ctx context.Context, e *event.Event) error

	// LockEvent reads an event and holds it until the unit of work ends.
	LockEvent(ctx context.Context, id string) (*event.Event, error)

	// UpdateEvent writes e if the stored version still equals
	// expectedVersion, otherwise it fails with ErrConflict.
	UpdateEvent(ctx context.Context, e *event.Event, expectedVersion int64) error

	ListParticipants(ctx context.Context, eventID string) ([]event.Participant, error)
	InsertParticipant(ctx context.Context, p *event.Participant) error
	UpdateParticipant(ctx context.Context, p *event.Participant) error

	// EventHasTransactions reports whether any member or treasury
	// transaction references the event.
	EventHasTransactions(ctx context.Context, eventID string) (bool, error)

	// --- Member accounts ---

	LockAccount(ctx context.Context, memberID, teamID string) (*ledger.Account, error)

	// InsertAccount creates the account unless one already exists for the
	// same member and team, in which case it does nothing.
	InsertAccount(ctx context.Context, a *ledger.Account) error
	UpdateAccount(ctx context.Context, a *ledger.Account) error
	InsertTransaction(ctx context.Context, t *ledger.Transaction) error
	ListAccountTransactions(ctx context.Context, accountID string) ([]ledger.Transaction, error)

	// --- Treasury ---

	LockTreasury(ctx context.Context, clubID string) (*ledger.Treasury, error)

	// InsertTreasury creates the treasury unless the club already has one.
	InsertTreasury(ctx context.Context, t *ledger.Treasury) error
	UpdateTreasury(ctx context.Context, t *ledger.Treasury) error
	InsertClubTransaction(ctx context.Context, t *ledger.ClubTransaction) error
	ListClubTransactions(ctx context.Context, clubID string) ([]ledger.ClubTransaction, error)

	// --- Deduction rules ---

	CreateDeductionRule(ctx context.Context, r *deduction.Rule) error
	GetDeductionRule(ctx context.Context, id string) (*deduction.Rule, error)
}

// UnitOfWork starts units of work.
type UnitOfWork interface {
	Begin(ctx context.Context) (Tx, error)
}

// Store is the full persistence interface.
type Store interface {
	Reader
	UnitOfWork
}
