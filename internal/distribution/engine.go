package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RiseNet-Web/gestasso-sub000/internal/event"
	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
	"github.com/RiseNet-Web/gestasso-sub000/internal/metrics"
	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
	"github.com/RiseNet-Web/gestasso-sub000/internal/store"
	"github.com/RiseNet-Web/gestasso-sub000/internal/telemetry"
)

const (
	payoutDescription     = "event payout"
	commissionDescription = "event commission"
)

// Result describes a completed distribution. Commission is the final
// commission, remainder included; TotalDistributed is the amount that was
// available to participants before truncation.
type Result struct {
	EventID           string      `json:"event_id"`
	ClubID            string      `json:"club_id"`
	TeamID            string      `json:"team_id"`
	Commission        money.Money `json:"commission"`
	PerParticipant    money.Money `json:"per_participant"`
	ParticipantsCount int         `json:"participants_count"`
	TotalDistributed  money.Money `json:"total_distributed"`
	Remainder         money.Money `json:"remainder"`
	PaidOut           money.Money `json:"paid_out"`
	MemberIDs         []string    `json:"member_ids"` // registration order
	DistributedAt     time.Time   `json:"distributed_at"`
}

// Engine books event distributions.
type Engine struct {
	uow    store.UnitOfWork
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a distribution engine writing through uow.
func NewEngine(uow store.UnitOfWork, opts ...Option) *Engine {
	e := &Engine{
		uow:    uow,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
		tracer: telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Distribute pays out an active event: every participant's account is
// credited the same share, the club treasury gets the commission plus the
// undivided remainder, and the event is marked completed. All of it happens
// in one unit of work; on any error nothing is written.
//
// A second call for the same event fails with ErrAlreadyDistributed.
func (e *Engine) Distribute(ctx context.Context, eventID string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "distribution.Distribute",
		trace.WithAttributes(attribute.String("event.id", eventID)))
	defer span.End()

	start := time.Now()
	var result *Result
	err := store.RunInTx(ctx, e.uow, func(tx store.Tx) error {
		r, err := e.distribute(ctx, tx, eventID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	metrics.DistributionLatency.Observe(time.Since(start).Seconds())
	metrics.DistributionsTotal.WithLabelValues(outcome(err)).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("distribution failed", "event_id", eventID, "err", err)
		return nil, err
	}

	metrics.DistributedAmount.WithLabelValues("participants").Add(result.PaidOut.Decimal().InexactFloat64())
	metrics.DistributedAmount.WithLabelValues("treasury").Add(result.Commission.Decimal().InexactFloat64())
	span.SetAttributes(
		attribute.Int("distribution.participants", result.ParticipantsCount),
		attribute.String("distribution.per_participant", result.PerParticipant.String()),
		attribute.String("distribution.commission", result.Commission.String()),
	)
	e.logger.Info("event distributed",
		"event_id", eventID,
		"participants", result.ParticipantsCount,
		"per_participant", result.PerParticipant.String(),
		"commission", result.Commission.String(),
		"remainder", result.Remainder.String(),
	)
	return result, nil
}

func (e *Engine) distribute(ctx context.Context, tx store.Tx, eventID string) (*Result, error) {
	ev, err := tx.LockEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("lock event: %w", err)
	}
	if ev.Status == event.StatusCompleted {
		return nil, fmt.Errorf("%w: event %s completed at %s", ErrAlreadyDistributed, ev.ID, ev.DistributedAt)
	}
	booked, err := tx.EventHasTransactions(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("check event transactions: %w", err)
	}
	if booked {
		return nil, fmt.Errorf("%w: event %s already has transactions", ErrAlreadyDistributed, ev.ID)
	}
	if ev.Status != event.StatusActive {
		return nil, fmt.Errorf("%w: cannot distribute a %s event", event.ErrInvalidState, ev.Status)
	}

	participants, err := tx.ListParticipants(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	split, err := Compute(ev.TotalBudget, ev.ClubPercentage, len(participants))
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	at := e.now()

	// Take account locks in member order so concurrent units of work touching
	// overlapping members cannot deadlock; credit in registration order.
	members := make([]string, len(participants))
	for i, p := range participants {
		members[i] = p.MemberID
	}
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	accounts := make(map[string]*ledger.Account, len(sorted))
	for _, m := range sorted {
		a, err := store.LockOrCreateAccount(ctx, tx, m, ev.TeamID, at)
		if err != nil {
			return nil, fmt.Errorf("account of %s: %w", m, err)
		}
		accounts[m] = a
	}

	for i := range participants {
		p := &participants[i]
		if split.PerParticipant.IsPositive() {
			a := accounts[p.MemberID]
			rec, err := a.Credit(split.PerParticipant, ledger.KindEarning, ev.ID, payoutDescription, at)
			if err != nil {
				return nil, fmt.Errorf("credit %s: %w", p.MemberID, err)
			}
			if err := tx.UpdateAccount(ctx, a); err != nil {
				return nil, fmt.Errorf("update account %s: %w", a.ID, err)
			}
			if err := tx.InsertTransaction(ctx, &rec); err != nil {
				return nil, fmt.Errorf("record payout %s: %w", p.MemberID, err)
			}
		}
		p.AmountEarned = split.PerParticipant
		if err := tx.UpdateParticipant(ctx, p); err != nil {
			return nil, fmt.Errorf("update participant %s: %w", p.MemberID, err)
		}
	}

	treasury, err := store.LockOrCreateTreasury(ctx, tx, ev.ClubID, at)
	if err != nil {
		return nil, fmt.Errorf("treasury of %s: %w", ev.ClubID, err)
	}
	if split.FinalCommission.IsPositive() {
		rec, err := treasury.CreditCommission(split.FinalCommission, ev.ID, commissionDescription, at)
		if err != nil {
			return nil, fmt.Errorf("credit commission: %w", err)
		}
		if err := tx.UpdateTreasury(ctx, treasury); err != nil {
			return nil, fmt.Errorf("update treasury: %w", err)
		}
		if err := tx.InsertClubTransaction(ctx, &rec); err != nil {
			return nil, fmt.Errorf("record commission: %w", err)
		}
	}

	version := ev.Version
	if err := ev.Complete(at); err != nil {
		return nil, err
	}
	if err := tx.UpdateEvent(ctx, ev, version); err != nil {
		return nil, fmt.Errorf("complete event: %w", err)
	}

	return &Result{
		EventID:           ev.ID,
		ClubID:            ev.ClubID,
		TeamID:            ev.TeamID,
		Commission:        split.FinalCommission,
		PerParticipant:    split.PerParticipant,
		ParticipantsCount: len(participants),
		TotalDistributed:  split.Available,
		Remainder:         split.Remainder,
		PaidOut:           split.PaidOut,
		MemberIDs:         members,
		DistributedAt:     at,
	}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyDistributed):
		return "already_distributed"
	case errors.Is(err, ErrNoParticipants):
		return "no_participants"
	case errors.Is(err, event.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
