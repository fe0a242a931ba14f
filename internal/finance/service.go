// Package finance is the application layer of the ledger engine. It runs the
// club finance use cases (event lifecycle, distribution, deductions, fund
// usage, treasury movements, reconciliation), each inside one unit of work,
// and announces committed changes to an optional Notifier.
package finance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RiseNet-Web/gestasso-sub000/internal/distribution"
	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
	"github.com/RiseNet-Web/gestasso-sub000/internal/metrics"
	"github.com/RiseNet-Web/gestasso-sub000/internal/model"
	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
	"github.com/RiseNet-Web/gestasso-sub000/internal/store"
	"github.com/RiseNet-Web/gestasso-sub000/internal/telemetry"
)

// ErrTeamRequired is returned when a cagnotte deduction is applied without
// saying which team account pays for it.
var ErrTeamRequired = errors.New("finance: team is required")

// Notifier receives committed ledger changes. Publish must not block.
type Notifier interface {
	Publish(n model.Notification)
}

// Service runs the finance use cases against a store.
type Service struct {
	store    store.Store
	engine   *distribution.Engine
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier publishes committed changes to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source, for the service and its engine.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service. The distribution engine shares the store,
// clock and logger.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
		tracer: telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = distribution.NewEngine(st,
		distribution.WithClock(s.now),
		distribution.WithLogger(s.logger),
	)
	return s
}

// Distribute pays out an event and announces the result.
func (s *Service) Distribute(ctx context.Context, eventID string) (*distribution.Result, error) {
	res, err := s.engine.Distribute(ctx, eventID)
	if err != nil {
		return nil, err
	}
	s.publish(model.Notification{
		Type:      model.NotifyEventDistributed,
		ClubID:    res.ClubID,
		TeamID:    res.TeamID,
		EventID:   res.EventID,
		Amount:    ptr(res.PerParticipant),
		Timestamp: res.DistributedAt,
	})
	return res, nil
}

// --- Member accounts ---

// UseFunds spends amount from a member's team account.
func (s *Service) UseFunds(ctx context.Context, memberID, teamID string, amount money.Money, description string) (*ledger.Transaction, error) {
	return s.mutateAccount(ctx, "finance.UseFunds", memberID, teamID, func(a *ledger.Account, at time.Time) (ledger.Transaction, error) {
		return a.Debit(amount, ledger.KindUsage, "", description, at)
	})
}

// AdjustAccount corrects a member's current amount by a signed amount.
// A positive adjustment may not lift the balance above the total earned.
func (s *Service) AdjustAccount(ctx context.Context, memberID, teamID string, signedAmount money.Money, reason string) (*ledger.Transaction, error) {
	return s.mutateAccount(ctx, "finance.AdjustAccount", memberID, teamID, func(a *ledger.Account, at time.Time) (ledger.Transaction, error) {
		if signedAmount.IsNegative() {
			return a.Debit(signedAmount.Abs(), ledger.KindAdjustment, "", reason, at)
		}
		return a.Credit(signedAmount, ledger.KindAdjustment, "", reason, at)
	})
}

// CloseAccount soft-closes a member's team account. The balance and history
// are kept; further movements are refused.
func (s *Service) CloseAccount(ctx context.Context, memberID, teamID string) (*ledger.Account, error) {
	var closed *ledger.Account
	err := store.RunInTx(ctx, s.store, func(tx store.Tx) error {
		a, err := tx.LockAccount(ctx, memberID, teamID)
		if err != nil {
			return err
		}
		a.Close(s.now())
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		closed = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("account closed", "member_id", memberID, "team_id", teamID, "account_id", closed.ID)
	return closed, nil
}

// mutateAccount applies one movement to a locked account and records it.
func (s *Service) mutateAccount(ctx context.Context, op, memberID, teamID string,
	apply func(*ledger.Account, time.Time) (ledger.Transaction, error)) (*ledger.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("member.id", memberID),
		attribute.String("team.id", teamID),
	))
	defer span.End()

	var (
		rec     ledger.Transaction
		balance money.Money
	)
	err := store.RunInTx(ctx, s.store, func(tx store.Tx) error {
		a, err := tx.LockAccount(ctx, memberID, teamID)
		if err != nil {
			return err
		}
		if rec, err = apply(a, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		balance = a.CurrentAmount
		return tx.InsertTransaction(ctx, &rec)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			metrics.InsufficientFundsRejections.WithLabelValues("account").Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.LedgerOperationsTotal.WithLabelValues("account", string(rec.Kind), string(rec.Direction)).Inc()
	s.logger.Info("account movement",
		"member_id", memberID,
		"team_id", teamID,
		"kind", rec.Kind,
		"direction", rec.Direction,
		"amount", rec.Amount.String(),
		"balance", balance.String(),
	)
	s.publish(model.Notification{
		Type:      model.NotifyAccountUpdated,
		TeamID:    teamID,
		MemberID:  memberID,
		Amount:    ptr(rec.Signed()),
		Balance:   ptr(balance),
		Timestamp: rec.CreatedAt,
	})
	return &rec, nil
}

// --- Treasury ---

// RecordExpense pays a club expense out of the treasury balance.
func (s *Service) RecordExpense(ctx context.Context, clubID string, amount money.Money, description string) (*ledger.ClubTransaction, error) {
	return s.mutateTreasury(ctx, "finance.RecordExpense", clubID, func(t *ledger.Treasury, at time.Time) (ledger.ClubTransaction, error) {
		return t.DebitExpense(amount, description, at)
	})
}

// AdjustTreasury moves the treasury balance by a signed amount. It is the
// only operation that can take the balance below zero.
func (s *Service) AdjustTreasury(ctx context.Context, clubID string, signedAmount money.Money, reason string) (*ledger.ClubTransaction, error) {
	return s.mutateTreasury(ctx, "finance.AdjustTreasury", clubID, func(t *ledger.Treasury, at time.Time) (ledger.ClubTransaction, error) {
		return t.AdjustBalance(signedAmount, reason, at)
	})
}

func (s *Service) mutateTreasury(ctx context.Context, op, clubID string,
	apply func(*ledger.Treasury, time.Time) (ledger.ClubTransaction, error)) (*ledger.ClubTransaction, error) {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("club.id", clubID)))
	defer span.End()

	var (
		rec     ledger.ClubTransaction
		balance money.Money
	)
	err := store.RunInTx(ctx, s.store, func(tx store.Tx) error {
		at := s.now()
		t, err := store.LockOrCreateTreasury(ctx, tx, clubID, at)
		if err != nil {
			return err
		}
		if rec, err = apply(t, at); err != nil {
			return err
		}
		if err := tx.UpdateTreasury(ctx, t); err != nil {
			return err
		}
		balance = t.CurrentBalance
		return tx.InsertClubTransaction(ctx, &rec)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			metrics.InsufficientFundsRejections.WithLabelValues("treasury").Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.LedgerOperationsTotal.WithLabelValues("treasury", string(rec.Kind), string(rec.Direction)).Inc()
	s.logger.Info("treasury movement",
		"club_id", clubID,
		"kind", rec.Kind,
		"direction", rec.Direction,
		"amount", rec.Amount.String(),
		"balance", balance.String(),
	)
	s.publish(model.Notification{
		Type:      model.NotifyTreasuryUpdated,
		ClubID:    clubID,
		Amount:    ptr(rec.Signed()),
		Balance:   ptr(balance),
		Timestamp: rec.CreatedAt,
	})
	return &rec, nil
}

// --- Reads ---

// GetAccount returns a member's account on a team.
func (s *Service) GetAccount(ctx context.Context, memberID, teamID string) (*ledger.Account, error) {
	return s.store.GetAccount(ctx, memberID, teamID)
}

// AccountStatement returns a member's team account with its log.
func (s *Service) AccountStatement(ctx context.Context, memberID, teamID string) (*model.AccountStatement, error) {
	a, err := s.store.GetAccount(ctx, memberID, teamID)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListAccountTransactions(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	return &model.AccountStatement{Account: *a, Transactions: txs}, nil
}

// MemberFunds aggregates a member's accounts across teams.
func (s *Service) MemberFunds(ctx context.Context, memberID string) (*model.MemberFunds, error) {
	accounts, err := s.store.ListMemberAccounts(ctx, memberID)
	if err != nil {
		return nil, err
	}
	funds := &model.MemberFunds{MemberID: memberID, Accounts: accounts}
	if funds.Accounts == nil {
		funds.Accounts = []ledger.Account{}
	}
	var earned, open []money.Money
	for _, a := range accounts {
		earned = append(earned, a.TotalEarned)
		if !a.Closed() {
			open = append(open, a.CurrentAmount)
		}
	}
	funds.TotalEarned = money.Sum(earned...)
	funds.Available = money.Sum(open...)
	return funds, nil
}

// GetTreasury returns a club's treasury.
func (s *Service) GetTreasury(ctx context.Context, clubID string) (*ledger.Treasury, error) {
	return s.store.GetTreasury(ctx, clubID)
}

// TreasuryStatement returns a club's treasury with its log.
func (s *Service) TreasuryStatement(ctx context.Context, clubID string) (*model.TreasuryStatement, error) {
	t, err := s.store.GetTreasury(ctx, clubID)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListClubTransactions(ctx, clubID)
	if err != nil {
		return nil, fmt.Errorf("list club transactions: %w", err)
	}
	if txs == nil {
		txs = []ledger.ClubTransaction{}
	}
	return &model.TreasuryStatement{Treasury: *t, Transactions: txs}, nil
}

func (s *Service) publish(n model.Notification) {
	if s.notifier != nil {
		s.notifier.Publish(n)
	}
}

func ptr(m money.Money) *money.Money { return &m }
