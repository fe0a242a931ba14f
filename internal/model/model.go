// Package model defines the read views shared by the service and API layers.
// All monetary values use money.Money, never float64.
package model

import (
	"time"

	"github.com/RiseNet-Web/gestasso-sub000/internal/event"
	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
)

// EventSummary is an event with its participants in registration order.
type EventSummary struct {
	Event        event.Event         `json:"event"`
	Participants []event.Participant `json:"participants"`
}

// AccountStatement is a member account with its full transaction log.
type AccountStatement struct {
	Account      ledger.Account       `json:"account"`
	Transactions []ledger.Transaction `json:"transactions"`
}

// MemberFunds aggregates every account a member holds across teams.
type MemberFunds struct {
	MemberID    string           `json:"member_id"`
	Accounts    []ledger.Account `json:"accounts"`
	Available   money.Money      `json:"available"`    // Σ current amount of open accounts
	TotalEarned money.Money      `json:"total_earned"` // Σ total earned, closed accounts included
}

// TreasuryStatement is a club treasury with its full transaction log.
type TreasuryStatement struct {
	Treasury     ledger.Treasury          `json:"treasury"`
	Transactions []ledger.ClubTransaction `json:"transactions"`
}

// DeductionQuote is the outcome of evaluating a deduction rule against a
// payment. Available is only set for cagnotte rules. TransactionID is set
// when a cagnotte deduction was booked against the member's account.
type DeductionQuote struct {
	RuleID        string       `json:"rule_id"`
	MemberID      string       `json:"member_id,omitempty"`
	TeamID        string       `json:"team_id,omitempty"`
	Base          money.Money  `json:"base"`
	Deduction     money.Money  `json:"deduction"`
	Net           money.Money  `json:"net"`
	Available     *money.Money `json:"available,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
}

// Notification types pushed to live subscribers.
const (
	NotifyEventDistributed = "event_distributed"
	NotifyEventUpdated     = "event_updated"
	NotifyAccountUpdated   = "account_updated"
	NotifyTreasuryUpdated  = "treasury_updated"
)

// Notification is a committed ledger change broadcast to WebSocket clients.
type Notification struct {
	Type      string       `json:"type"`
	ClubID    string       `json:"club_id,omitempty"`
	TeamID    string       `json:"team_id,omitempty"`
	EventID   string       `json:"event_id,omitempty"`
	MemberID  string       `json:"member_id,omitempty"`
	Amount    *money.Money `json:"amount,omitempty"`
	Balance   *money.Money `json:"balance,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
