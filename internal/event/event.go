// Package event models club events whose budget is split between the club
// treasury and the registered participants.
package event

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
)

// Status is the lifecycle state of an event.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrInvalidState is returned when an operation is attempted outside the
	// lifecycle state it requires.
	ErrInvalidState = errors.New("event: invalid state for operation")

	// ErrInvalidBudget is returned for a negative budget or a club
	// percentage outside [0, 100].
	ErrInvalidBudget = errors.New("event: invalid budget")

	// ErrDuplicateParticipant is returned when a member registers twice.
	ErrDuplicateParticipant = errors.New("event: member already registered")

	// ErrInvalidEvent is returned for missing identity fields.
	ErrInvalidEvent = errors.New("event: invalid event")

	hundred = decimal.NewFromInt(100)
)

// transitions lists the allowed moves; completed and cancelled are terminal.
var transitions = map[Status][]Status{
	StatusDraft:  {StatusActive, StatusCancelled},
	StatusActive: {StatusCompleted, StatusCancelled},
}

// Event is a club event with a budget to distribute once it has taken place.
type Event struct {
	ID             string          `json:"id"`
	ClubID         string          `json:"club_id"`
	TeamID         string          `json:"team_id"`
	Name           string          `json:"name"`
	TotalBudget    money.Money     `json:"total_budget"`
	ClubPercentage decimal.Decimal `json:"club_percentage"`
	Status         Status          `json:"status"`
	Version        int64           `json:"version"`
	DistributedAt  *time.Time      `json:"distributed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// New creates a draft event.
func New(clubID, teamID, name string, budget money.Money, clubPercentage decimal.Decimal, at time.Time) (*Event, error) {
	if strings.TrimSpace(clubID) == "" || strings.TrimSpace(teamID) == "" {
		return nil, fmt.Errorf("%w: club and team are required", ErrInvalidEvent)
	}
	if err := validateBudget(budget, clubPercentage); err != nil {
		return nil, err
	}
	return &Event{
		ID:             uuid.New().String(),
		ClubID:         clubID,
		TeamID:         teamID,
		Name:           strings.TrimSpace(name),
		TotalBudget:    budget,
		ClubPercentage: clubPercentage,
		Status:         StatusDraft,
		CreatedAt:      at,
		UpdatedAt:      at,
	}, nil
}

func validateBudget(budget money.Money, pct decimal.Decimal) error {
	if budget.IsNegative() {
		return fmt.Errorf("%w: budget %s is negative", ErrInvalidBudget, budget)
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("%w: club percentage %s outside [0,100]", ErrInvalidBudget, pct)
	}
	return nil
}

// CanTransition reports whether the event may move to the given status.
func (e *Event) CanTransition(to Status) bool {
	for _, s := range transitions[e.Status] {
		if s == to {
			return true
		}
	}
	return false
}

func (e *Event) transition(to Status, at time.Time) error {
	if !e.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, e.Status, to)
	}
	e.Status = to
	e.Version++
	e.UpdatedAt = at
	return nil
}

// Activate opens a draft event.
func (e *Event) Activate(at time.Time) error { return e.transition(StatusActive, at) }

// Cancel closes a draft or active event without distribution.
func (e *Event) Cancel(at time.Time) error { return e.transition(StatusCancelled, at) }

// Complete marks an active event as distributed. Only the distribution
// engine calls this.
func (e *Event) Complete(at time.Time) error {
	if err := e.transition(StatusCompleted, at); err != nil {
		return err
	}
	t := at
	e.DistributedAt = &t
	return nil
}

// SetBudget changes the financial terms while the event is still open.
func (e *Event) SetBudget(budget money.Money, clubPercentage decimal.Decimal, at time.Time) error {
	if e.Status != StatusDraft && e.Status != StatusActive {
		return fmt.Errorf("%w: budget is frozen once %s", ErrInvalidState, e.Status)
	}
	if err := validateBudget(budget, clubPercentage); err != nil {
		return err
	}
	e.TotalBudget = budget
	e.ClubPercentage = clubPercentage
	e.Version++
	e.UpdatedAt = at
	return nil
}

// AcceptsParticipants reports whether members may still register.
func (e *Event) AcceptsParticipants() bool {
	return e.Status == StatusDraft || e.Status == StatusActive
}

// Participant joins a member to an event. AmountEarned is written once, by
// the distribution.
type Participant struct {
	ID           string      `json:"id"`
	EventID      string      `json:"event_id"`
	MemberID     string      `json:"member_id"`
	Position     int         `json:"position"` // 1-based registration order
	AmountEarned money.Money `json:"amount_earned"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// Register builds the participant record for a member, checking that the
// event is open and the member is not already registered.
func (e *Event) Register(memberID string, existing []Participant, at time.Time) (*Participant, error) {
	if strings.TrimSpace(memberID) == "" {
		return nil, fmt.Errorf("%w: member is required", ErrInvalidEvent)
	}
	if !e.AcceptsParticipants() {
		return nil, fmt.Errorf("%w: registration closed (%s)", ErrInvalidState, e.Status)
	}
	for _, p := range existing {
		if p.MemberID == memberID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParticipant, memberID)
		}
	}
	return &Participant{
		ID:           uuid.New().String(),
		EventID:      e.ID,
		MemberID:     memberID,
		Position:     len(existing) + 1,
		RegisteredAt: at,
	}, nil
}
