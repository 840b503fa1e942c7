package distribution_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/distribution"
	"github.com/PariazaInteligent/fund-engine/internal/ledger"
	"github.com/PariazaInteligent/fund-engine/internal/model"
	"github.com/PariazaInteligent/fund-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	periodStart = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T) (*distribution.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	if err := ledger.SeedAccounts(context.Background(), ms); err != nil {
		t.Fatalf("seed accounts: %v", err)
	}
	return distribution.NewService(ms, d(1), d(0.20), nil), ms
}

// fund books an approved deposit at NAV 1 for the given user.
func fund(t *testing.T, ms *store.MemoryStore, userID string, amount float64) {
	t.Helper()
	err := ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.PostEntry(ctx, tx, "seed deposit", model.DepositRef("dep-"+userID), "tester", []ledger.Line{
			{Account: ledger.AccountBank, Side: ledger.Debit, Amount: d(amount)},
			{Account: ledger.AccountInvestorEquity, Side: ledger.Credit, Amount: d(amount), UserID: userID},
		})
		if err != nil {
			return err
		}
		return tx.InsertDeposit(ctx, &model.Deposit{
			ID:          "dep-" + userID,
			UserID:      userID,
			Amount:      d(amount),
			Status:      model.DepositApproved,
			UnitsIssued: d(amount),
			NAVAtIssue:  d(1),
			CreatedAt:   time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
}

// bookPNL posts realized trading profit (positive) or loss (negative).
func bookPNL(t *testing.T, ms *store.MemoryStore, amount float64) {
	t.Helper()
	lines := []ledger.Line{
		{Account: ledger.AccountBank, Side: ledger.Debit, Amount: d(amount)},
		{Account: ledger.AccountTradingPNL, Side: ledger.Credit, Amount: d(amount)},
	}
	if amount < 0 {
		lines = []ledger.Line{
			{Account: ledger.AccountTradingPNL, Side: ledger.Debit, Amount: d(-amount)},
			{Account: ledger.AccountBank, Side: ledger.Credit, Amount: d(-amount)},
		}
	}
	err := ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.PostEntry(ctx, tx, "trade result", model.TradeRef("tr-seed"), "tester", lines)
		return err
	})
	if err != nil {
		t.Fatalf("book pnl: %v", err)
	}
}

func balance(t *testing.T, ms *store.MemoryStore, code string) decimal.Decimal {
	t.Helper()
	b, err := ledger.AccountBalance(context.Background(), ms, code)
	if err != nil {
		t.Fatalf("balance %s: %v", code, err)
	}
	return b
}

func TestExecute_ProfitRound(t *testing.T) {
	svc, ms := newTestService(t)
	fund(t, ms, "user1", 7000)
	fund(t, ms, "user2", 3000)
	bookPNL(t, ms, 1000)

	round, err := svc.Execute(context.Background(), periodStart, periodEnd, "admin")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if !round.TotalProfit.Equal(d(1000)) {
		t.Errorf("total profit: expected 1000, got %s", round.TotalProfit)
	}
	if !round.PerformanceFee.Equal(d(200)) {
		t.Errorf("performance fee: expected 200, got %s", round.PerformanceFee)
	}
	if !round.NetDistributed.Equal(d(800)) {
		t.Errorf("net distributed: expected 800, got %s", round.NetDistributed)
	}
	if round.Status != model.RoundExecuted {
		t.Errorf("expected EXECUTED, got %s", round.Status)
	}

	if len(round.Allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(round.Allocations))
	}
	// Largest holder first.
	if round.Allocations[0].UserID != "user1" || !round.Allocations[0].Amount.Equal(d(560)) {
		t.Errorf("user1 allocation: expected 560, got %s for %s", round.Allocations[0].Amount, round.Allocations[0].UserID)
	}
	if round.Allocations[1].UserID != "user2" || !round.Allocations[1].Amount.Equal(d(240)) {
		t.Errorf("user2 allocation: expected 240, got %s for %s", round.Allocations[1].Amount, round.Allocations[1].UserID)
	}

	// P&L is zeroed, equity grew by the net, fees landed in revenue.
	if got := balance(t, ms, ledger.AccountTradingPNL); !got.IsZero() {
		t.Errorf("pnl after round: expected 0, got %s", got)
	}
	if got := balance(t, ms, ledger.AccountInvestorEquity); !got.Equal(d(10800)) {
		t.Errorf("equity: expected 10800, got %s", got)
	}
	if got := balance(t, ms, ledger.AccountPerformanceFees); !got.Equal(d(200)) {
		t.Errorf("performance fees: expected 200, got %s", got)
	}
}

func TestExecute_AllocationsSumToNet(t *testing.T) {
	svc, ms := newTestService(t)
	fund(t, ms, "u1", 1000)
	fund(t, ms, "u2", 1000)
	fund(t, ms, "u3", 1000)
	bookPNL(t, ms, 100)

	round, err := svc.Execute(context.Background(), periodStart, periodEnd, "admin")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Three equal thirds of 80.00 cannot round cleanly; the residual
	// lands on the first allocation so the sum stays exact.
	sum := decimal.Zero
	for _, a := range round.Allocations {
		sum = sum.Add(a.Amount)
	}
	if !sum.Equal(round.NetDistributed) {
		t.Errorf("allocations sum %s != net distributed %s", sum, round.NetDistributed)
	}
	if !round.NetDistributed.Equal(d(80)) {
		t.Errorf("net distributed: expected 80, got %s", round.NetDistributed)
	}
}

func TestExecute_NothingToDistribute(t *testing.T) {
	svc, ms := newTestService(t)
	fund(t, ms, "user1", 5000)
	bookPNL(t, ms, 500)

	if _, err := svc.Execute(context.Background(), periodStart, periodEnd, "admin"); err != nil {
		t.Fatalf("first round: %v", err)
	}

	// The first round zeroed the P&L: a second immediate round finds
	// nothing.
	_, err := svc.Execute(context.Background(), periodStart, periodEnd, "admin")
	if !errors.Is(err, distribution.ErrNothingToDistribute) {
		t.Errorf("expected ErrNothingToDistribute, got %v", err)
	}
}

func TestExecute_LossRound(t *testing.T) {
	svc, ms := newTestService(t)
	fund(t, ms, "user1", 6000)
	fund(t, ms, "user2", 4000)
	bookPNL(t, ms, -400)

	round, err := svc.Execute(context.Background(), periodStart, periodEnd, "admin")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if !round.TotalProfit.Equal(d(-400)) {
		t.Errorf("total profit: expected -400, got %s", round.TotalProfit)
	}
	if !round.PerformanceFee.IsZero() {
		t.Errorf("no fee on a loss round, got %s", round.PerformanceFee)
	}
	if !round.NetDistributed.Equal(d(-400)) {
		t.Errorf("net distributed: expected -400, got %s", round.NetDistributed)
	}

	if got := balance(t, ms, ledger.AccountTradingPNL); !got.IsZero() {
		t.Errorf("pnl after loss round: expected 0, got %s", got)
	}
	if got := balance(t, ms, ledger.AccountInvestorEquity); !got.Equal(d(9600)) {
		t.Errorf("equity: expected 9600 after absorbing the loss, got %s", got)
	}
	if got := balance(t, ms, ledger.AccountPerformanceFees); !got.IsZero() {
		t.Errorf("performance fees must stay 0 on a loss, got %s", got)
	}
}

func TestExecute_NoHolders(t *testing.T) {
	svc, ms := newTestService(t)
	// P&L exists but no units were ever issued.
	bookPNL(t, ms, 100)

	if _, err := svc.Execute(context.Background(), periodStart, periodEnd, "admin"); !errors.Is(err, distribution.ErrNoHolders) {
		t.Errorf("expected ErrNoHolders, got %v", err)
	}
}

func TestExecute_InvalidPeriod(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Execute(context.Background(), periodEnd, periodStart, "admin"); !errors.Is(err, distribution.ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}
}
