// Package deduction implements configurable payment deductions: fixed or
// percentage reductions of a payment, optionally capped by the member's
// pooled funds.
//
// Calculate is a pure function of the rule and its inputs. It never touches
// ledger state; applying a cagnotte deduction is the caller's job.
package deduction

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
)

// Kind is the business category of a rule.
type Kind string

const (
	KindCagnotte       Kind = "cagnotte"
	KindEarlyPayment   Kind = "early_payment"
	KindFamilyDiscount Kind = "family_discount"
	KindOther          Kind = "other"
)

// Mode selects how Value is interpreted.
type Mode string

const (
	ModeFixed      Mode = "fixed"
	ModePercentage Mode = "percentage"
)

var (
	// ErrInvalidRule is returned by Validate.
	ErrInvalidRule = errors.New("deduction: invalid rule")

	hundred = decimal.NewFromInt(100)
)

// Rule is a deduction formula. MinAmount and MaxAmount are soft bounds;
// the base amount (and for cagnotte rules the available balance) are hard
// caps that win over MinAmount.
type Rule struct {
	ID         string          `json:"id"`
	ClubID     string          `json:"club_id"`
	Name       string          `json:"name"`
	Kind       Kind            `json:"kind"`
	Mode       Mode            `json:"mode"`
	Value      decimal.Decimal `json:"value"`
	MinAmount  *money.Money    `json:"min_amount,omitempty"`
	MaxAmount  *money.Money    `json:"max_amount,omitempty"`
	ValidFrom  *time.Time      `json:"valid_from,omitempty"`
	ValidUntil *time.Time      `json:"valid_until,omitempty"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewRule assigns an ID and creation time and validates the rule.
func NewRule(r Rule, at time.Time) (*Rule, error) {
	r.ID = uuid.New().String()
	r.Name = strings.TrimSpace(r.Name)
	r.CreatedAt = at
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the rule is internally consistent.
func (r *Rule) Validate() error {
	switch r.Kind {
	case KindCagnotte, KindEarlyPayment, KindFamilyDiscount, KindOther:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
	switch r.Mode {
	case ModeFixed:
	case ModePercentage:
		if r.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage %s above 100", ErrInvalidRule, r.Value)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRule, r.Mode)
	}
	if r.Value.IsNegative() {
		return fmt.Errorf("%w: negative value %s", ErrInvalidRule, r.Value)
	}
	if r.MinAmount != nil && r.MinAmount.IsNegative() {
		return fmt.Errorf("%w: negative minimum", ErrInvalidRule)
	}
	if r.MinAmount != nil && r.MaxAmount != nil && r.MinAmount.GreaterThan(*r.MaxAmount) {
		return fmt.Errorf("%w: minimum %s above maximum %s", ErrInvalidRule, r.MinAmount, r.MaxAmount)
	}
	if r.ValidFrom != nil && r.ValidUntil != nil && civilDate(*r.ValidFrom).After(civilDate(*r.ValidUntil)) {
		return fmt.Errorf("%w: validity window ends before it starts", ErrInvalidRule)
	}
	return nil
}

// IsApplicableAt reports whether the rule is active and asOf falls within
// the validity window. Bounds are inclusive whole days in UTC.
func (r *Rule) IsApplicableAt(asOf time.Time) bool {
	if !r.Active {
		return false
	}
	day := civilDate(asOf)
	if r.ValidFrom != nil && day.Before(civilDate(*r.ValidFrom)) {
		return false
	}
	if r.ValidUntil != nil && day.After(civilDate(*r.ValidUntil)) {
		return false
	}
	return true
}

// Calculate returns the deduction for a payment of base. available is the
// member's pooled balance and is only consulted by cagnotte rules; pass nil
// when unknown. The result is always within [0, base].
func (r *Rule) Calculate(base money.Money, available *money.Money, asOf time.Time) money.Money {
	if !r.IsApplicableAt(asOf) || !base.IsPositive() {
		return money.Zero
	}

	raw := r.Value
	if r.Mode == ModePercentage {
		raw = base.Decimal().Mul(r.Value).Shift(-2)
	}

	capByFunds := r.Kind == KindCagnotte && available != nil
	if capByFunds {
		raw = decimal.Min(raw, available.Decimal())
	}
	if r.MinAmount != nil {
		raw = decimal.Max(raw, r.MinAmount.Decimal())
	}
	if r.MaxAmount != nil {
		raw = decimal.Min(raw, r.MaxAmount.Decimal())
	}
	raw = decimal.Min(raw, base.Decimal())
	if capByFunds {
		raw = decimal.Min(raw, available.Decimal())
	}
	raw = decimal.Max(raw, decimal.Zero)

	return money.New(raw)
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
