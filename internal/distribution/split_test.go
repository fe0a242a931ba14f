package distribution

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name, budget, pct string
		n                 int

		commission, available, share, remainder, finalComm, paid string
	}{
		{"even split", "2000.00", "15", 8, "300.00", "1700.00", "212.50", "0.00", "300.00", "1700.00"},
		{"remainder to club", "999.99", "12.5", 7, "125.00", "874.99", "124.99", "0.06", "125.06", "874.93"},
		{"no commission", "100.00", "0", 3, "0.00", "100.00", "33.33", "0.01", "0.01", "99.99"},
		{"all to club", "100.00", "100", 4, "100.00", "0.00", "0.00", "0.00", "100.00", "0.00"},
		{"zero budget", "0.00", "10", 5, "0.00", "0.00", "0.00", "0.00", "0.00", "0.00"},
		{"fewer cents than participants", "0.05", "0", 7, "0.00", "0.05", "0.00", "0.05", "0.05", "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Compute(money.MustParse(tt.budget), decimal.RequireFromString(tt.pct), tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.commission, s.Commission.String())
			assert.Equal(t, tt.available, s.Available.String())
			assert.Equal(t, tt.share, s.PerParticipant.String())
			assert.Equal(t, tt.remainder, s.Remainder.String())
			assert.Equal(t, tt.finalComm, s.FinalCommission.String())
			assert.Equal(t, tt.paid, s.PaidOut.String())
		})
	}
}

func TestCompute_NoParticipants(t *testing.T) {
	_, err := Compute(money.MustParse("10.00"), decimal.Zero, 0)
	assert.ErrorIs(t, err, ErrNoParticipants)
}

// Property: final commission plus what participants receive is the budget,
// and the remainder is always smaller than one cent per participant.
func TestCompute_Conservation(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 10000; i++ {
		budget := money.FromCents(rng.Int63n(10_000_000))
		pct := decimal.New(rng.Int63n(10_001), -2)
		n := 1 + rng.Intn(60)

		s, err := Compute(budget, pct, n)
		require.NoError(t, err)

		if total := s.FinalCommission.Add(s.PaidOut); !total.Equal(budget) {
			t.Fatalf("case %d: %s + %s != %s", i, s.FinalCommission, s.PaidOut, budget)
		}
		if s.Remainder.IsNegative() || s.Remainder.Cents() >= int64(n) {
			t.Fatalf("case %d: remainder %s out of range for n=%d", i, s.Remainder, n)
		}
		if s.PerParticipant.IsNegative() || s.Commission.IsNegative() {
			t.Fatalf("case %d: negative share or commission", i)
		}
	}
}
