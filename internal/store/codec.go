package store

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
)

// SQL backends exchange amounts as decimal text so that no value ever passes
// through a float.

func parseAmount(column, s string) (money.Money, error) {
	m, err := money.Parse(s)
	if err != nil {
		return money.Zero, fmt.Errorf("column %s: %w", column, err)
	}
	return m, nil
}

func parseOptAmount(column string, s *string) (*money.Money, error) {
	if s == nil {
		return nil, nil
	}
	m, err := parseAmount(column, *s)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func parseDecimal(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("column %s: %w", column, err)
	}
	return d, nil
}

func optAmount(m *money.Money) *string {
	if m == nil {
		return nil
	}
	s := m.String()
	return &s
}
