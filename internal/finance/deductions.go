package finance

import (
	"context"
	"errors"
	"fmt"

	"github.com/RiseNet-Web/gestasso-sub000/internal/deduction"
	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
	"github.com/RiseNet-Web/gestasso-sub000/internal/metrics"
	"github.com/RiseNet-Web/gestasso-sub000/internal/model"
	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
	"github.com/RiseNet-Web/gestasso-sub000/internal/store"
)

// CreateDeductionRule validates and stores a rule.
func (s *Service) CreateDeductionRule(ctx context.Context, r deduction.Rule) (*deduction.Rule, error) {
	rule, err := deduction.NewRule(r, s.now())
	if err != nil {
		return nil, err
	}
	if err := store.RunInTx(ctx, s.store, func(tx store.Tx) error {
		return tx.CreateDeductionRule(ctx, rule)
	}); err != nil {
		return nil, err
	}
	s.logger.Info("deduction rule created", "rule_id", rule.ID, "club_id", rule.ClubID, "kind", rule.Kind, "mode", rule.Mode)
	return rule, nil
}

// GetDeductionRule returns a stored rule.
func (s *Service) GetDeductionRule(ctx context.Context, ruleID string) (*deduction.Rule, error) {
	return s.store.GetDeductionRule(ctx, ruleID)
}

// CalculateDeduction evaluates a rule against a payment of base without
// booking anything. For cagnotte rules the member's funds cap the result:
// the team account when teamID is set, every open account otherwise.
func (s *Service) CalculateDeduction(ctx context.Context, ruleID string, base money.Money, memberID, teamID string) (*model.DeductionQuote, error) {
	if base.IsNegative() {
		return nil, fmt.Errorf("%w: base %s", ledger.ErrInvalidAmount, base)
	}
	rule, err := s.store.GetDeductionRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	var available *money.Money
	if rule.Kind == deduction.KindCagnotte && memberID != "" {
		funds, err := s.availableFunds(ctx, memberID, teamID)
		if err != nil {
			return nil, err
		}
		available = &funds
	}
	return quote(rule, base, memberID, teamID, available, rule.Calculate(base, available, s.now())), nil
}

func (s *Service) availableFunds(ctx context.Context, memberID, teamID string) (money.Money, error) {
	if teamID == "" {
		funds, err := s.MemberFunds(ctx, memberID)
		if err != nil {
			return money.Zero, err
		}
		return funds.Available, nil
	}
	a, err := s.store.GetAccount(ctx, memberID, teamID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return money.Zero, nil
	case err != nil:
		return money.Zero, err
	case a.Closed():
		return money.Zero, nil
	}
	return a.CurrentAmount, nil
}

// ApplyDeduction evaluates a rule and, for cagnotte rules, debits the
// deduction from the member's team account as usage. The balance read, the
// debit and its record share one unit of work, so the deduction can never
// exceed the funds at the time it is booked.
func (s *Service) ApplyDeduction(ctx context.Context, ruleID string, base money.Money, memberID, teamID string) (*model.DeductionQuote, error) {
	if base.IsNegative() {
		return nil, fmt.Errorf("%w: base %s", ledger.ErrInvalidAmount, base)
	}

	var (
		q   *model.DeductionQuote
		rec *ledger.Transaction
		bal money.Money
	)
	err := store.RunInTx(ctx, s.store, func(tx store.Tx) error {
		rule, err := tx.GetDeductionRule(ctx, ruleID)
		if err != nil {
			return err
		}
		at := s.now()
		if rule.Kind != deduction.KindCagnotte {
			q = quote(rule, base, memberID, teamID, nil, rule.Calculate(base, nil, at))
			return nil
		}
		if memberID == "" || teamID == "" {
			return fmt.Errorf("%w: cagnotte rule %s needs a member and a team", ErrTeamRequired, rule.ID)
		}

		a, err := tx.LockAccount(ctx, memberID, teamID)
		if errors.Is(err, store.ErrNotFound) {
			q = quote(rule, base, memberID, teamID, ptr(money.Zero), money.Zero)
			return nil
		}
		if err != nil {
			return err
		}
		available := a.CurrentAmount
		if a.Closed() {
			available = money.Zero
		}
		amount := rule.Calculate(base, &available, at)
		q = quote(rule, base, memberID, teamID, &available, amount)
		if !amount.IsPositive() {
			return nil
		}

		t, err := a.Debit(amount, ledger.KindUsage, "", "deduction: "+rule.Name, at)
		if err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &t); err != nil {
			return err
		}
		rec, bal = &t, a.CurrentAmount
		q.TransactionID = t.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rec != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("account", string(rec.Kind), string(rec.Direction)).Inc()
		s.logger.Info("deduction applied",
			"rule_id", ruleID,
			"member_id", memberID,
			"team_id", teamID,
			"amount", rec.Amount.String(),
			"balance", bal.String(),
		)
		s.publish(model.Notification{
			Type:      model.NotifyAccountUpdated,
			TeamID:    teamID,
			MemberID:  memberID,
			Amount:    ptr(rec.Signed()),
			Balance:   ptr(bal),
			Timestamp: rec.CreatedAt,
		})
	}
	return q, nil
}

func quote(rule *deduction.Rule, base money.Money, memberID, teamID string, available *money.Money, amount money.Money) *model.DeductionQuote {
	return &model.DeductionQuote{
		RuleID:    rule.ID,
		MemberID:  memberID,
		TeamID:    teamID,
		Base:      base,
		Deduction: amount,
		Net:       base.Sub(amount),
		Available: available,
	}
}
