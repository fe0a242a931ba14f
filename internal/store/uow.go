package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
)

// RunInTx runs fn inside a unit of work. The work is committed when fn
// returns nil and rolled back otherwise; nothing fn wrote is visible unless
// the commit succeeds.
func RunInTx(ctx context.Context, uow UnitOfWork, fn func(tx Tx) error) (err error) {
	tx, err := uow.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			rollback(ctx, tx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		rollback(ctx, tx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, tx Tx) {
	// The caller's context may already be cancelled; the rollback must still run.
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrTxDone) {
		slog.Error("rollback failed", "err", err)
	}
}

// LockOrCreateAccount returns the locked account of a member on a team,
// opening it first if the member never earned on that team.
func LockOrCreateAccount(ctx context.Context, tx Tx, memberID, teamID string, at time.Time) (*ledger.Account, error) {
	a, err := tx.LockAccount(ctx, memberID, teamID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err := tx.InsertAccount(ctx, ledger.NewAccount(memberID, teamID, at)); err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}
	return tx.LockAccount(ctx, memberID, teamID)
}

// LockOrCreateTreasury returns the locked treasury of a club, opening it on
// first use.
func LockOrCreateTreasury(ctx context.Context, tx Tx, clubID string, at time.Time) (*ledger.Treasury, error) {
	t, err := tx.LockTreasury(ctx, clubID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err := tx.InsertTreasury(ctx, ledger.NewTreasury(clubID, at)); err != nil {
		return nil, fmt.Errorf("open treasury: %w", err)
	}
	return tx.LockTreasury(ctx, clubID)
}
