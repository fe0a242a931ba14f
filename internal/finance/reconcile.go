package finance

import (
	"context"
	"errors"

	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
	"github.com/RiseNet-Web/gestasso-sub000/internal/metrics"
	"github.com/RiseNet-Web/gestasso-sub000/internal/store"
)

// ReconcileAccount replays a member account's log and compares it with the
// stored balances. A mismatch is reported, never corrected.
func (s *Service) ReconcileAccount(ctx context.Context, memberID, teamID string) error {
	var a *ledger.Account
	var txs []ledger.Transaction
	err := store.RunInTx(ctx, s.store, func(tx store.Tx) error {
		var err error
		if a, err = tx.LockAccount(ctx, memberID, teamID); err != nil {
			return err
		}
		txs, err = tx.ListAccountTransactions(ctx, a.ID)
		return err
	})
	if err != nil {
		return err
	}
	if err := a.Reconcile(txs); err != nil {
		s.reportMismatch("account", err, "account_id", a.ID, "member_id", memberID, "team_id", teamID)
		return err
	}
	return nil
}

// ReconcileMember reconciles every account a member holds and joins the
// failures.
func (s *Service) ReconcileMember(ctx context.Context, memberID string) error {
	accounts, err := s.store.ListMemberAccounts(ctx, memberID)
	if err != nil {
		return err
	}
	var errs []error
	for _, a := range accounts {
		if err := s.ReconcileAccount(ctx, memberID, a.TeamID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReconcileTreasury replays a club's treasury log against its balances.
func (s *Service) ReconcileTreasury(ctx context.Context, clubID string) error {
	var t *ledger.Treasury
	var txs []ledger.ClubTransaction
	err := store.RunInTx(ctx, s.store, func(tx store.Tx) error {
		var err error
		if t, err = tx.LockTreasury(ctx, clubID); err != nil {
			return err
		}
		txs, err = tx.ListClubTransactions(ctx, clubID)
		return err
	})
	if err != nil {
		return err
	}
	if err := t.Reconcile(txs); err != nil {
		s.reportMismatch("treasury", err, "treasury_id", t.ID, "club_id", clubID)
		return err
	}
	return nil
}

func (s *Service) reportMismatch(ledgerName string, err error, attrs ...any) {
	metrics.ReconciliationFailures.WithLabelValues(ledgerName).Inc()
	s.logger.Error("reconciliation failure", append(attrs, "err", err)...)
}
