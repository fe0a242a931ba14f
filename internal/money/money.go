// Package money provides the fixed-scale decimal amount used by every ledger
// balance, transaction and distribution share.
//
// All monetary values use shopspring/decimal, never float64.
// A Money is always held at Scale fractional digits; operations compute on
// the exact decimal and round once, half-up, when the result is stored.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every amount is stored with.
const Scale int32 = 2

var (
	// ErrMalformed is returned when a textual amount cannot be parsed.
	ErrMalformed = errors.New("money: malformed amount")

	// ErrInvalidDivisor is returned by DivideEvenly for n <= 0.
	ErrInvalidDivisor = errors.New("money: divisor must be positive")
)

// Money is an exact decimal amount rounded to Scale digits. The zero value
// is 0.00 and ready to use. Money is a value type; copy it freely.
type Money struct {
	d decimal.Decimal
}

// Zero is 0.00.
var Zero = Money{}

// New rounds d half-up to Scale digits.
func New(d decimal.Decimal) Money {
	return Money{d: d.Round(Scale)}
}

// FromCents builds an amount from an integer number of cents.
func FromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -Scale)}
}

// FromInt builds a whole amount.
func FromInt(units int64) Money {
	return Money{d: decimal.NewFromInt(units)}
}

// Parse reads a decimal string such as "212.50". Extra fractional digits
// are rounded half-up.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("%w: empty", ErrMalformed)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return New(d), nil
}

// MustParse is Parse for constants and tests; it panics on bad input.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal exposes the underlying decimal value.
func (m Money) Decimal() decimal.Decimal { return m.d }

// Cents returns the amount as an integer number of cents.
func (m Money) Cents() int64 { return m.d.Shift(Scale).IntPart() }

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }

// Sub returns m - o.
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }

// Neg returns -m.
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

// Abs returns the absolute value of m.
func (m Money) Abs() Money { return Money{d: m.d.Abs()} }

// MulPercent returns m * p / 100. The product is exact; rounding happens
// once on the result.
func (m Money) MulPercent(p decimal.Decimal) Money {
	return New(m.d.Mul(p).Shift(-2))
}

// DivideEvenly splits m into n equal shares truncated to cents and returns
// the leftover explicitly, so that share*n + remainder == m exactly.
// For a non-negative m the remainder is in [0, n cents).
func (m Money) DivideEvenly(n int) (share, remainder Money, err error) {
	if n <= 0 {
		return Zero, Zero, fmt.Errorf("%w: %d", ErrInvalidDivisor, n)
	}
	q, r := m.d.QuoRem(decimal.NewFromInt(int64(n)), Scale)
	return Money{d: q}, Money{d: r}, nil
}

// Times multiplies by an integer count.
func (m Money) Times(n int) Money {
	return Money{d: m.d.Mul(decimal.NewFromInt(int64(n)))}
}

// Cmp returns -1, 0 or +1 as m is less than, equal to or greater than o.
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// Equal reports whether m and o are the same amount.
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

// LessThan reports whether m < o.
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }

// GreaterThan reports whether m > o.
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }

// IsZero reports whether m is 0.00.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsNegative reports whether m < 0.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// IsPositive reports whether m > 0.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Sum adds all amounts.
func Sum(ms ...Money) Money {
	total := Zero
	for _, m := range ms {
		total = total.Add(m)
	}
	return total
}

// String formats with exactly Scale fractional digits.
func (m Money) String() string { return m.d.StringFixed(Scale) }

// MarshalJSON encodes as a quoted fixed-scale string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
// Numbers are read as decimal text, never through float64.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*m = Zero
		return nil
	}
	s = strings.Trim(s, `"`)
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores the amount as text so NUMERIC and TEXT columns both round-trip exactly.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan reads text, bytes or integer columns.
func (m *Money) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Zero
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case int64:
		*m = FromInt(v)
		return nil
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrMalformed, src)
	}
}
