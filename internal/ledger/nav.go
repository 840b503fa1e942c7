package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/model"
	"github.com/PariazaInteligent/fund-engine/internal/store"
)

// Decimal scales used across the fund.
const (
	// UnitScale is the number of decimal places fund units are kept at.
	UnitScale int32 = 6

	// NAVScale is the number of decimal places NAV is quoted at.
	NAVScale int32 = 8

	// MoneyScale is the number of decimal places for cash amounts.
	MoneyScale int32 = 2
)

// UnitsFor converts a cash amount to fund units at the given NAV.
func UnitsFor(amount, nav decimal.Decimal) decimal.Decimal {
	return amount.DivRound(nav, UnitScale)
}

// AmountFor converts fund units back to a cash amount at the given NAV.
// The product is exact; callers round for display.
func AmountFor(units, nav decimal.Decimal) decimal.Decimal {
	return units.Mul(nav)
}

// UnitsOutstanding returns total units issued by approved deposits minus
// units burned by approved/paid withdrawals.
func UnitsOutstanding(ctx context.Context, r store.Reader) (decimal.Decimal, error) {
	issued, burned, err := r.UnitTotals(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return issued.Sub(burned), nil
}

// CurrentNAV computes investor equity divided by units outstanding. There
// is no cached NAV anywhere: every caller recomputes from the ledger inside
// the same transaction that uses the value, so a stale quote can never be
// applied. When no units are outstanding the configured initial NAV is
// returned.
func CurrentNAV(ctx context.Context, r store.Reader, navInitial decimal.Decimal) (decimal.Decimal, error) {
	units, err := UnitsOutstanding(ctx, r)
	if err != nil {
		return decimal.Zero, err
	}
	if !units.IsPositive() {
		return navInitial, nil
	}
	equity, err := AccountBalance(ctx, r, AccountInvestorEquity)
	if err != nil {
		return decimal.Zero, err
	}
	return equity.DivRound(units, NAVScale), nil
}

// Stats assembles the derived fund read model: bank balance, equity, units
// outstanding, NAV, and investor count.
func Stats(ctx context.Context, r store.Reader, navInitial decimal.Decimal) (*model.FundStats, error) {
	bank, err := AccountBalance(ctx, r, AccountBank)
	if err != nil {
		return nil, err
	}
	equity, err := AccountBalance(ctx, r, AccountInvestorEquity)
	if err != nil {
		return nil, err
	}
	units, err := UnitsOutstanding(ctx, r)
	if err != nil {
		return nil, err
	}
	nav, err := CurrentNAV(ctx, r, navInitial)
	if err != nil {
		return nil, err
	}
	holders, err := r.UnitsByUser(ctx)
	if err != nil {
		return nil, err
	}
	return &model.FundStats{
		BankBalance:      bank,
		InvestorEquity:   equity,
		UnitsOutstanding: units,
		NAVPerUnit:       nav,
		InvestorCount:    len(holders),
	}, nil
}
