package ledger

import (
	"time"

	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
)

// Kind classifies a member account movement.
type Kind string

const (
	KindEarning    Kind = "earning"
	KindUsage      Kind = "usage"
	KindAdjustment Kind = "adjustment"
)

// ClubKind classifies a treasury movement.
type ClubKind string

const (
	ClubKindCommission ClubKind = "commission"
	ClubKindExpense    ClubKind = "expense"
	ClubKindAdjustment ClubKind = "adjustment"
)

// Direction carries the sign of a movement. Earnings and commissions are
// always credits, usages and expenses always debits; adjustments go either way.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Transaction is an immutable record of one member account movement.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"account_id"`
	Sequence    int64       `json:"sequence"` // account version right after the movement
	Amount      money.Money `json:"amount"`   // magnitude, always > 0
	Kind        Kind        `json:"kind"`
	Direction   Direction   `json:"direction"`
	EventID     string      `json:"event_id,omitempty"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Signed returns the contribution of the movement to the balance.
func (t Transaction) Signed() money.Money {
	return signed(t.Amount, t.Direction)
}

// ClubTransaction is an immutable record of one treasury movement.
type ClubTransaction struct {
	ID          string      `json:"id"`
	TreasuryID  string      `json:"treasury_id"`
	ClubID      string      `json:"club_id"`
	Sequence    int64       `json:"sequence"`
	Amount      money.Money `json:"amount"`
	Kind        ClubKind    `json:"kind"`
	Direction   Direction   `json:"direction"`
	EventID     string      `json:"event_id,omitempty"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (t ClubTransaction) Signed() money.Money {
	return signed(t.Amount, t.Direction)
}

func signed(amount money.Money, dir Direction) money.Money {
	if dir == Debit {
		return amount.Neg()
	}
	return amount
}
