package ledger

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
)

var now = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

func m(s string) money.Money {
	return money.MustParse(s)
}

func fundedAccount(t *testing.T, amount string) (*Account, []Transaction) {
	t.Helper()
	a := NewAccount("member-1", "team-1", now)
	tx, err := a.Credit(m(amount), KindEarning, "event-1", "event payout", now)
	require.NoError(t, err)
	return a, []Transaction{tx}
}

func TestCredit_Earning(t *testing.T) {
	a := NewAccount("member-1", "team-1", now)

	tx, err := a.Credit(m("212.50"), KindEarning, "event-1", "event payout", now)
	require.NoError(t, err)

	assert.Equal(t, "212.50", a.CurrentAmount.String())
	assert.Equal(t, "212.50", a.TotalEarned.String())
	assert.Equal(t, int64(1), a.Version)

	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, a.ID, tx.AccountID)
	assert.Equal(t, int64(1), tx.Sequence)
	assert.Equal(t, KindEarning, tx.Kind)
	assert.Equal(t, Credit, tx.Direction)
	assert.Equal(t, "event-1", tx.EventID)
	assert.Equal(t, "212.50", tx.Signed().String())
}

func TestCredit_InvalidAmount(t *testing.T) {
	a := NewAccount("member-1", "team-1", now)
	for _, amount := range []string{"0", "-5.00"} {
		_, err := a.Credit(m(amount), KindEarning, "", "", now)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("credit %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	assert.True(t, a.CurrentAmount.IsZero())
	assert.Equal(t, int64(0), a.Version)
}

func TestCredit_UsageKindRejected(t *testing.T) {
	a := NewAccount("member-1", "team-1", now)
	_, err := a.Credit(m("10"), KindUsage, "", "", now)
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestCredit_AdjustmentCannotExceedEarned(t *testing.T) {
	a, _ := fundedAccount(t, "100.00")
	_, err := a.Debit(m("40.00"), KindUsage, "", "membership fee", now)
	require.NoError(t, err)

	// Restoring 40 is fine, 40.01 is not.
	_, err = a.Credit(m("40.01"), KindAdjustment, "", "refund", now)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, "60.00", a.CurrentAmount.String())

	_, err = a.Credit(m("40.00"), KindAdjustment, "", "refund", now)
	require.NoError(t, err)
	assert.Equal(t, "100.00", a.CurrentAmount.String())
	assert.Equal(t, "100.00", a.TotalEarned.String())
}

func TestDebit_Usage(t *testing.T) {
	a, _ := fundedAccount(t, "100.00")

	tx, err := a.Debit(m("30.25"), KindUsage, "", "kit purchase", now)
	require.NoError(t, err)

	assert.Equal(t, "69.75", a.CurrentAmount.String())
	assert.Equal(t, "100.00", a.TotalEarned.String())
	assert.Equal(t, Debit, tx.Direction)
	assert.Equal(t, "-30.25", tx.Signed().String())
	assert.Equal(t, int64(2), tx.Sequence)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	a, _ := fundedAccount(t, "100.00")

	_, err := a.Debit(m("150.00"), KindUsage, "", "", now)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	var insufficient *InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "100.00", insufficient.Balance.String())
	assert.Equal(t, "150.00", insufficient.Requested.String())

	assert.Equal(t, "100.00", a.CurrentAmount.String())
	assert.Equal(t, int64(1), a.Version)
}

func TestDebit_ExactBalance(t *testing.T) {
	a, _ := fundedAccount(t, "100.00")
	_, err := a.Debit(m("100.00"), KindUsage, "", "", now)
	require.NoError(t, err)
	assert.True(t, a.CurrentAmount.IsZero())
}

func TestDebit_EarningKindRejected(t *testing.T) {
	a, _ := fundedAccount(t, "100.00")
	_, err := a.Debit(m("1"), KindEarning, "", "", now)
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestHasSufficientFunds(t *testing.T) {
	a, _ := fundedAccount(t, "100.00")
	assert.True(t, a.HasSufficientFunds(m("99.99")))
	assert.True(t, a.HasSufficientFunds(m("100.00")))
	assert.False(t, a.HasSufficientFunds(m("100.01")))
	assert.Equal(t, "100.00", a.CurrentAmount.String())
}

func TestClosedAccountRejectsMutations(t *testing.T) {
	a, _ := fundedAccount(t, "100.00")
	a.Close(now)
	require.True(t, a.Closed())

	_, err := a.Credit(m("1"), KindEarning, "", "", now)
	assert.ErrorIs(t, err, ErrAccountClosed)
	_, err = a.Debit(m("1"), KindUsage, "", "", now)
	assert.ErrorIs(t, err, ErrAccountClosed)
}

func TestReconcile_DetectsTampering(t *testing.T) {
	a, txs := fundedAccount(t, "100.00")
	require.NoError(t, a.Reconcile(txs))

	a.CurrentAmount = m("90.00")
	err := a.Reconcile(txs)
	require.ErrorIs(t, err, ErrReconciliationFailure)

	var rec *ReconciliationError
	require.True(t, errors.As(err, &rec))
	assert.Equal(t, "current_amount", rec.Field)
	assert.Equal(t, "100.00", rec.Replayed.String())

	a.CurrentAmount = m("100.00")
	a.TotalEarned = m("120.00")
	err = a.Reconcile(txs)
	require.True(t, errors.As(err, &rec))
	assert.Equal(t, "total_earned", rec.Field)
}

// Property: any sequence of credits and debits keeps the invariants and the
// log always replays to the stored balances.
func TestAccount_RandomSequencesReconcile(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 200; run++ {
		a := NewAccount("member", "team", now)
		var log []Transaction
		prevEarned := a.TotalEarned

		for step := 0; step < 50; step++ {
			amount := money.FromCents(rng.Int63n(20_000) - 1_000) // includes non-positive amounts
			var (
				tx  Transaction
				err error
			)
			switch rng.Intn(4) {
			case 0, 1:
				tx, err = a.Credit(amount, KindEarning, "", "", now)
			case 2:
				tx, err = a.Debit(amount, KindUsage, "", "", now)
			case 3:
				tx, err = a.Credit(amount, KindAdjustment, "", "", now)
			}
			if err == nil {
				log = append(log, tx)
			}

			if a.CurrentAmount.IsNegative() {
				t.Fatalf("run %d step %d: negative balance %s", run, step, a.CurrentAmount)
			}
			if a.CurrentAmount.GreaterThan(a.TotalEarned) {
				t.Fatalf("run %d step %d: current %s above earned %s", run, step, a.CurrentAmount, a.TotalEarned)
			}
			if a.TotalEarned.LessThan(prevEarned) {
				t.Fatalf("run %d step %d: total earned decreased", run, step)
			}
			prevEarned = a.TotalEarned
		}

		require.NoError(t, a.Reconcile(log), "run %d", run)
		assert.Equal(t, int64(len(log)), a.Version)
	}
}
