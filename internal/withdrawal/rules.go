package withdrawal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/model"
)

// Rule is one surge-fee trigger: a pure predicate over a frozen system
// snapshot plus the percentage it adds when it fires. The rule set is
// ordered data, so policies can be inspected and tested in isolation.
type Rule struct {
	Reason  string
	Pct     decimal.Decimal
	Applies func(model.SurgeSnapshot) bool
}

// EvaluateSurge runs every rule against the snapshot and returns the
// cumulative surge percentage plus the reasons for each triggered rule.
func EvaluateSurge(rules []Rule, snap model.SurgeSnapshot) (decimal.Decimal, []string) {
	pct := decimal.Zero
	var reasons []string
	for _, r := range rules {
		if r.Applies(snap) {
			pct = pct.Add(r.Pct)
			reasons = append(reasons, r.Reason)
		}
	}
	return pct, reasons
}

// DefaultRules is the production surge policy: queue-pressure, risk-flag,
// and bank-utilization triggers. Utilization thresholds stack.
func DefaultRules() []Rule {
	return []Rule{
		{
			Reason: "Pending withdrawal queue at or above 25 requests (+7%)",
			Pct:    decimal.NewFromInt(7),
			Applies: func(s model.SurgeSnapshot) bool {
				return s.PendingWithdrawals >= 25
			},
		},
		{
			Reason: "System risk flag active (+5%)",
			Pct:    decimal.NewFromInt(5),
			Applies: func(s model.SurgeSnapshot) bool {
				return s.RiskFlagActive
			},
		},
		utilizationRule(decimal.NewFromFloat(0.60), decimal.NewFromInt(3)),
		utilizationRule(decimal.NewFromFloat(0.85), decimal.NewFromInt(6)),
	}
}

func utilizationRule(threshold, pct decimal.Decimal) Rule {
	return Rule{
		Reason: fmt.Sprintf("Bank utilization at or above %s%% (+%s%%)",
			threshold.Mul(decimal.NewFromInt(100)).StringFixed(0), pct),
		Pct: pct,
		Applies: func(s model.SurgeSnapshot) bool {
			return bankUtilization(s).GreaterThanOrEqual(threshold)
		},
	}
}

// bankUtilization is the share of the bank balance already promised to
// pending withdrawals. A drained bank with a non-empty queue counts as
// fully utilized.
func bankUtilization(s model.SurgeSnapshot) decimal.Decimal {
	if !s.BankBalance.IsPositive() {
		if s.PendingPayout.IsPositive() {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	}
	return s.PendingPayout.Div(s.BankBalance)
}
