// Package distribution splits an event's budget between the club treasury
// and the event participants, and books the result atomically.
//
// The club takes its percentage first. What is left is divided evenly,
// truncated to cents; the cents that do not divide go to the club too, so
// FinalCommission + PerParticipant·n always equals the budget exactly.
package distribution

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
)

var (
	// ErrNoParticipants is returned when an event has nobody to pay.
	ErrNoParticipants = errors.New("distribution: event has no participants")

	// ErrAlreadyDistributed is returned when an event was already paid out.
	ErrAlreadyDistributed = errors.New("distribution: event already distributed")
)

// Split is the arithmetic of one distribution.
type Split struct {
	Commission      money.Money `json:"commission"`       // budget × percentage, rounded
	Available       money.Money `json:"available"`        // budget − commission
	PerParticipant  money.Money `json:"per_participant"`  // available ÷ n, truncated to cents
	Remainder       money.Money `json:"remainder"`        // available − PaidOut
	PaidOut         money.Money `json:"paid_out"`         // PerParticipant × n
	FinalCommission money.Money `json:"final_commission"` // Commission + Remainder
}

// Compute splits budget between the club (pct percent plus the remainder)
// and n participants.
func Compute(budget money.Money, pct decimal.Decimal, n int) (Split, error) {
	if n <= 0 {
		return Split{}, ErrNoParticipants
	}
	if budget.IsNegative() {
		return Split{}, fmt.Errorf("distribution: negative budget %s", budget)
	}

	commission := budget.MulPercent(pct)
	available := budget.Sub(commission)
	share, remainder, err := available.DivideEvenly(n)
	if err != nil {
		return Split{}, err
	}

	return Split{
		Commission:      commission,
		Available:       available,
		PerParticipant:  share,
		Remainder:       remainder,
		PaidOut:         share.Times(n),
		FinalCommission: commission.Add(remainder),
	}, nil
}
