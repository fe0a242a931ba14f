package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RiseNet-Web/gestasso-sub000/internal/event"
	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
	"github.com/RiseNet-Web/gestasso-sub000/internal/model"
	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
	"github.com/RiseNet-Web/gestasso-sub000/internal/store"
)

// NewEvent holds the fields needed to create an event.
type NewEvent struct {
	ClubID         string
	TeamID         string
	Name           string
	TotalBudget    money.Money
	ClubPercentage decimal.Decimal
}

// CreateEvent stores a new draft event.
func (s *Service) CreateEvent(ctx context.Context, in NewEvent) (*event.Event, error) {
	e, err := event.New(in.ClubID, in.TeamID, in.Name, in.TotalBudget, in.ClubPercentage, s.now())
	if err != nil {
		return nil, err
	}
	if err := store.RunInTx(ctx, s.store, func(tx store.Tx) error {
		return tx.CreateEvent(ctx, e)
	}); err != nil {
		return nil, err
	}

	s.logger.Info("event created",
		"event_id", e.ID,
		"club_id", e.ClubID,
		"team_id", e.TeamID,
		"budget", e.TotalBudget.String(),
		"club_percentage", e.ClubPercentage.String(),
	)
	return e, nil
}

// UpdateBudget changes the budget terms of a draft or active event.
func (s *Service) UpdateBudget(ctx context.Context, eventID string, budget money.Money, clubPercentage decimal.Decimal) (*event.Event, error) {
	return s.updateEvent(ctx, eventID, func(e *event.Event, at time.Time) error {
		return e.SetBudget(budget, clubPercentage, at)
	})
}

// ActivateEvent opens a draft event for distribution.
func (s *Service) ActivateEvent(ctx context.Context, eventID string) (*event.Event, error) {
	return s.updateEvent(ctx, eventID, (*event.Event).Activate)
}

// CancelEvent closes an event without paying anything out.
func (s *Service) CancelEvent(ctx context.Context, eventID string) (*event.Event, error) {
	return s.updateEvent(ctx, eventID, (*event.Event).Cancel)
}

func (s *Service) updateEvent(ctx context.Context, eventID string, apply func(*event.Event, time.Time) error) (*event.Event, error) {
	var updated *event.Event
	err := store.RunInTx(ctx, s.store, func(tx store.Tx) error {
		e, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		version := e.Version
		if err := apply(e, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateEvent(ctx, e, version); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("event updated", "event_id", updated.ID, "status", updated.Status, "version", updated.Version)
	s.publish(model.Notification{
		Type:      model.NotifyEventUpdated,
		ClubID:    updated.ClubID,
		TeamID:    updated.TeamID,
		EventID:   updated.ID,
		Timestamp: updated.UpdatedAt,
	})
	return updated, nil
}

// RegisterParticipant adds a member to a draft or active event. The event
// row stays locked while the registration position is assigned.
func (s *Service) RegisterParticipant(ctx context.Context, eventID, memberID string) (*event.Participant, error) {
	var p *event.Participant
	err := store.RunInTx(ctx, s.store, func(tx store.Tx) error {
		e, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		existing, err := tx.ListParticipants(ctx, eventID)
		if err != nil {
			return fmt.Errorf("list participants: %w", err)
		}
		if p, err = e.Register(memberID, existing, s.now()); err != nil {
			return err
		}
		return tx.InsertParticipant(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("participant registered", "event_id", eventID, "member_id", memberID, "position", p.Position)
	return p, nil
}

// GetEvent returns an event with its participants.
func (s *Service) GetEvent(ctx context.Context, eventID string) (*model.EventSummary, error) {
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	if participants == nil {
		participants = []event.Participant{}
	}
	return &model.EventSummary{Event: *e, Participants: participants}, nil
}

// ListParticipants returns an event's participants in registration order.
func (s *Service) ListParticipants(ctx context.Context, eventID string) ([]event.Participant, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if participants == nil {
		participants = []event.Participant{}
	}
	return participants, nil
}

// EventTransactions returns the member account records booked by an event's
// distribution.
func (s *Service) EventTransactions(ctx context.Context, eventID string) ([]ledger.Transaction, error) {
	txs, err := s.store.ListEventTransactions(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	return txs, nil
}
