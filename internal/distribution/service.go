// Package distribution realizes accumulated trading P&L into investor
// equity. Each round snapshots the fund, takes a performance fee on
// positive profit, and credits investors pro rata by units held. A round
// with a negative result debits equity instead, with no fee.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/audit"
	"github.com/PariazaInteligent/fund-engine/internal/ledger"
	"github.com/PariazaInteligent/fund-engine/internal/metrics"
	"github.com/PariazaInteligent/fund-engine/internal/model"
	"github.com/PariazaInteligent/fund-engine/internal/store"
)

var (
	// ErrNothingToDistribute is returned when trading P&L is flat for the
	// period.
	ErrNothingToDistribute = errors.New("distribution: no realized profit or loss to distribute")

	// ErrNoHolders is returned when no investor holds units.
	ErrNoHolders = errors.New("distribution: no units outstanding")

	// ErrInvalidPeriod is returned when the period end does not follow the
	// start.
	ErrInvalidPeriod = errors.New("distribution: period end must be after period start")
)

// Service executes distribution rounds.
type Service struct {
	store      store.Store
	navInitial decimal.Decimal
	feeRate    decimal.Decimal // performance fee as a fraction, e.g. 0.20
	now        func() time.Time
}

// NewService creates a distribution service. Pass nil for now to use the
// wall clock.
func NewService(st store.Store, navInitial, feeRate decimal.Decimal, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: st, navInitial: navInitial, feeRate: feeRate, now: now}
}

var hundred = decimal.NewFromInt(100)

// Execute runs one distribution round atomically. Total profit is the
// trading P&L balance at execution time; the round's ledger entry zeroes
// that balance, so each round distributes exactly the P&L realized since
// the previous one. Allocation amounts are rounded to cents with the
// residual assigned to the largest holder, so the allocations always sum
// to the net distributed amount.
func (s *Service) Execute(ctx context.Context, periodStart, periodEnd time.Time, executor string) (*model.DistributionRound, error) {
	if !periodEnd.After(periodStart) {
		return nil, fmt.Errorf("%w: %s .. %s", ErrInvalidPeriod, periodStart.Format(time.RFC3339), periodEnd.Format(time.RFC3339))
	}

	var round *model.DistributionRound
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		profit, err := ledger.AccountBalance(ctx, tx, ledger.AccountTradingPNL)
		if err != nil {
			return err
		}
		if profit.IsZero() {
			return ErrNothingToDistribute
		}

		holders, err := tx.UnitsByUser(ctx)
		if err != nil {
			return err
		}
		totalUnits := decimal.Zero
		for _, u := range holders {
			totalUnits = totalUnits.Add(u)
		}
		if !totalUnits.IsPositive() {
			return ErrNoHolders
		}

		perfFee := decimal.Zero
		if profit.IsPositive() {
			perfFee = profit.Mul(s.feeRate).Round(ledger.MoneyScale)
		}
		net := profit.Sub(perfFee)

		now := s.now()
		snap, err := s.takeSnapshot(ctx, tx, now)
		if err != nil {
			return err
		}

		roundID := uuid.New().String()
		allocs := allocate(roundID, holders, totalUnits, net)

		lines := make([]ledger.Line, 0, len(allocs)+2)
		if profit.IsPositive() {
			lines = append(lines, ledger.Line{
				Account: ledger.AccountTradingPNL, Side: ledger.Debit, Amount: profit,
				Description: "profit distribution",
			})
			if perfFee.IsPositive() {
				lines = append(lines, ledger.Line{
					Account: ledger.AccountPerformanceFees, Side: ledger.Credit, Amount: perfFee,
					Description: "performance fee",
				})
			}
			for _, a := range allocs {
				lines = append(lines, ledger.Line{
					Account: ledger.AccountInvestorEquity, Side: ledger.Credit, Amount: a.Amount,
					UserID: a.UserID, Description: "profit share",
				})
			}
		} else {
			// Loss round: equity absorbs the loss, no fee taken.
			loss := profit.Abs()
			lines = append(lines, ledger.Line{
				Account: ledger.AccountTradingPNL, Side: ledger.Credit, Amount: loss,
				Description: "loss distribution",
			})
			for _, a := range allocs {
				lines = append(lines, ledger.Line{
					Account: ledger.AccountInvestorEquity, Side: ledger.Debit, Amount: a.Amount.Abs(),
					UserID: a.UserID, Description: "loss share",
				})
			}
		}

		entry, err := ledger.PostEntry(ctx, tx,
			fmt.Sprintf("Distribution round %s .. %s", periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02")),
			model.DistributionRef(roundID), executor, lines)
		if err != nil {
			return err
		}

		round = &model.DistributionRound{
			ID:               roundID,
			PeriodStart:      periodStart,
			PeriodEnd:        periodEnd,
			Status:           model.RoundExecuted,
			SnapshotID:       snap.ID,
			BankBalance:      snap.BankBalance,
			UnitsOutstanding: snap.UnitsOutstanding,
			NAVPerUnit:       snap.NAVPerUnit,
			TotalProfit:      profit,
			PerformanceFee:   perfFee,
			NetDistributed:   net,
			ExecutedBy:       executor,
			LedgerEntryID:    entry.ID,
			CreatedAt:        now,
			Allocations:      allocs,
		}
		if err := tx.InsertDistributionRound(ctx, round); err != nil {
			return err
		}

		return audit.Record(ctx, tx, "DISTRIBUTION_EXECUTED", audit.ResourceDistribution, roundID, executor, map[string]string{
			"total_profit":    profit.String(),
			"performance_fee": perfFee.String(),
			"net_distributed": net.String(),
			"holders":         fmt.Sprintf("%d", len(allocs)),
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.DistributionsTotal.Inc()
	metrics.LedgerEntriesTotal.WithLabelValues("distribution").Inc()
	slog.Info("distribution executed",
		"id", round.ID,
		"total_profit", round.TotalProfit.String(),
		"performance_fee", round.PerformanceFee.String(),
		"net_distributed", round.NetDistributed.String(),
		"holders", len(round.Allocations),
		"executor", executor,
	)
	return round, nil
}

func (s *Service) takeSnapshot(ctx context.Context, tx store.Tx, now time.Time) (*model.Snapshot, error) {
	bank, err := ledger.AccountBalance(ctx, tx, ledger.AccountBank)
	if err != nil {
		return nil, err
	}
	units, err := ledger.UnitsOutstanding(ctx, tx)
	if err != nil {
		return nil, err
	}
	nav, err := ledger.CurrentNAV(ctx, tx, s.navInitial)
	if err != nil {
		return nil, err
	}
	holders, err := tx.UnitsByUser(ctx)
	if err != nil {
		return nil, err
	}
	snap := &model.Snapshot{
		ID:               uuid.New().String(),
		BankBalance:      bank,
		UnitsOutstanding: units,
		NAVPerUnit:       nav,
		InvestorCount:    len(holders),
		Reason:           "distribution",
		CreatedAt:        now,
	}
	if err := tx.InsertSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// allocate splits net pro rata by units, rounding each share to cents.
// Any residual cent left by rounding lands on the largest holder so the
// shares sum exactly to net. Share order is deterministic: largest first,
// user ID as tiebreak.
func allocate(roundID string, holders map[string]decimal.Decimal, totalUnits, net decimal.Decimal) []model.DistributionAllocation {
	type holder struct {
		userID string
		units  decimal.Decimal
	}
	sorted := make([]holder, 0, len(holders))
	for id, u := range holders {
		sorted = append(sorted, holder{userID: id, units: u})
	}
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0; j-- {
			a, b := sorted[j-1], sorted[j]
			if b.units.GreaterThan(a.units) || (b.units.Equal(a.units) && b.userID < a.userID) {
				sorted[j-1], sorted[j] = b, a
			} else {
				break
			}
		}
	}

	allocs := make([]model.DistributionAllocation, 0, len(sorted))
	assigned := decimal.Zero
	for _, h := range sorted {
		share := h.units.DivRound(totalUnits, 8)
		amount := net.Mul(share).Round(ledger.MoneyScale)
		assigned = assigned.Add(amount)
		allocs = append(allocs, model.DistributionAllocation{
			ID:       uuid.New().String(),
			RoundID:  roundID,
			UserID:   h.userID,
			Units:    h.units,
			SharePct: share.Mul(hundred),
			Amount:   amount,
		})
	}
	if residual := net.Sub(assigned); !residual.IsZero() && len(allocs) > 0 {
		allocs[0].Amount = allocs[0].Amount.Add(residual)
	}
	return allocs
}
