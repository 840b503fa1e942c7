package withdrawal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/ledger"
	"github.com/PariazaInteligent/fund-engine/internal/model"
	"github.com/PariazaInteligent/fund-engine/internal/store"
	"github.com/PariazaInteligent/fund-engine/internal/withdrawal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fixture wires a withdrawal service over a MemoryStore with a movable
// clock and a togglable risk flag.
type fixture struct {
	svc  *withdrawal.Service
	ms   *store.MemoryStore
	now  time.Time
	risk bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ms:  store.NewMemoryStore(),
		now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := ledger.SeedAccounts(context.Background(), f.ms); err != nil {
		t.Fatalf("seed accounts: %v", err)
	}
	f.svc = withdrawal.NewService(f.ms, withdrawal.Config{
		NAVInitial:  d(1),
		FeeFixedPct: d(1.5),
		Cooldown:    24 * time.Hour,
		RiskFlag:    func(context.Context) bool { return f.risk },
		Now:         func() time.Time { return f.now },
	})
	return f
}

// fund books an approved deposit so the fund has bank cash, outstanding
// units and a NAV to burn against.
func (f *fixture) fund(t *testing.T, userID string, amount float64) {
	t.Helper()
	err := f.ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
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
			CreatedAt:   f.now,
		})
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (f *fixture) advance(dur time.Duration) {
	f.now = f.now.Add(dur)
}

func (f *fixture) balance(t *testing.T, code string) decimal.Decimal {
	t.Helper()
	b, err := ledger.AccountBalance(context.Background(), f.ms, code)
	if err != nil {
		t.Fatalf("balance %s: %v", code, err)
	}
	return b
}

func TestRequest_FeeBreakdown(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "user1", 10000)

	w, err := f.svc.Request(context.Background(), "user1", d(100))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !w.FeeFixedAmount.Equal(d(1.50)) {
		t.Errorf("fixed fee: expected 1.50, got %s", w.FeeFixedAmount)
	}
	if !w.FeeSurgeAmount.IsZero() {
		t.Errorf("surge fee: expected 0 on a quiet system, got %s", w.FeeSurgeAmount)
	}
	if !w.FeeTotalAmount.Equal(d(1.50)) {
		t.Errorf("total fee: expected 1.50, got %s", w.FeeTotalAmount)
	}
	if !w.AmountPayout.Equal(d(98.50)) {
		t.Errorf("payout: expected 98.50, got %s", w.AmountPayout)
	}
	if w.Status != model.WithdrawalPending {
		t.Errorf("expected PENDING, got %s", w.Status)
	}
	if !w.CooldownUntil.Equal(f.now.Add(24 * time.Hour)) {
		t.Errorf("cooldown until: expected %s, got %s", f.now.Add(24*time.Hour), w.CooldownUntil)
	}
}

func TestRequest_SurgeFromSnapshot(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "user1", 10000)
	f.risk = true

	w, err := f.svc.Request(context.Background(), "user1", d(200))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !w.FeeSurgePct.Equal(d(5)) {
		t.Errorf("surge pct: expected 5, got %s", w.FeeSurgePct)
	}
	if !w.FeeSurgeAmount.Equal(d(10)) {
		t.Errorf("surge fee: expected 10.00, got %s", w.FeeSurgeAmount)
	}
	if len(w.SurgeReasons) != 1 {
		t.Errorf("expected one surge reason, got %v", w.SurgeReasons)
	}
	if !w.SurgeSnapshot.RiskFlagActive {
		t.Error("snapshot must record the risk flag that priced the fee")
	}
}

func TestRequest_RejectsNonPositive(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "user1", 10000)

	if _, err := f.svc.Request(context.Background(), "user1", d(0)); !errors.Is(err, withdrawal.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := f.svc.Request(context.Background(), "user1", d(-50)); !errors.Is(err, withdrawal.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

func TestApprove_CooldownGate(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "user1", 10000)

	w, _ := f.svc.Request(context.Background(), "user1", d(100))

	f.advance(23 * time.Hour)
	if _, err := f.svc.Approve(context.Background(), w.ID, "admin"); !errors.Is(err, withdrawal.ErrCooldownNotElapsed) {
		t.Fatalf("expected ErrCooldownNotElapsed, got %v", err)
	}

	f.advance(2 * time.Hour)
	approved, err := f.svc.Approve(context.Background(), w.ID, "admin")
	if err != nil {
		t.Fatalf("approve after cooldown: %v", err)
	}
	if approved.Status != model.WithdrawalApproved {
		t.Errorf("expected APPROVED, got %s", approved.Status)
	}
}

func TestApprove_FeesStayLocked(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "user1", 10000)

	w, _ := f.svc.Request(context.Background(), "user1", d(100))

	// System pressure appears after the quote: it must not reprice
	// the locked fees.
	f.risk = true
	f.advance(25 * time.Hour)

	approved, err := f.svc.Approve(context.Background(), w.ID, "admin")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !approved.FeeTotalAmount.Equal(d(1.50)) {
		t.Errorf("locked fee was recomputed: expected 1.50, got %s", approved.FeeTotalAmount)
	}
	if !approved.AmountPayout.Equal(d(98.50)) {
		t.Errorf("locked payout was recomputed: expected 98.50, got %s", approved.AmountPayout)
	}
	if !approved.FeeSurgePct.IsZero() {
		t.Errorf("surge pct must stay at its quoted value, got %s", approved.FeeSurgePct)
	}
}

func TestApprove_BurnsAtApprovalNAV(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "user1", 10000)

	w, _ := f.svc.Request(context.Background(), "user1", d(105))

	// NAV moves from 1.00 to 1.05 between request and approval.
	err := f.ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := ledger.PostEntry(ctx, tx, "profit", model.TradeRef("tr-1"), "tester", []ledger.Line{
			{Account: ledger.AccountBank, Side: ledger.Debit, Amount: d(500)},
			{Account: ledger.AccountInvestorEquity, Side: ledger.Credit, Amount: d(500)},
		})
		return err
	})
	if err != nil {
		t.Fatalf("post profit: %v", err)
	}

	f.advance(25 * time.Hour)
	approved, err := f.svc.Approve(context.Background(), w.ID, "admin")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !approved.NAVAtBurn.Equal(d(1.05)) {
		t.Errorf("burn NAV: expected 1.05, got %s", approved.NAVAtBurn)
	}
	// 105 / 1.05 = 100 units, priced from the requested amount.
	if !approved.UnitsBurned.Equal(d(100)) {
		t.Errorf("units burned: expected 100, got %s", approved.UnitsBurned)
	}
}

func TestApprove_PostsPayoutAndFee(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "user1", 10000)

	w, _ := f.svc.Request(context.Background(), "user1", d(100))
	f.advance(25 * time.Hour)
	if _, err := f.svc.Approve(context.Background(), w.ID, "admin"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if got := f.balance(t, ledger.AccountBank); !got.Equal(d(9901.50)) {
		t.Errorf("bank: expected 9901.50, got %s", got)
	}
	if got := f.balance(t, ledger.AccountInvestorEquity); !got.Equal(d(9900)) {
		t.Errorf("equity: expected 9900, got %s", got)
	}
	if got := f.balance(t, ledger.AccountWithdrawalFees); !got.Equal(d(1.50)) {
		t.Errorf("fee revenue: expected 1.50, got %s", got)
	}
}

func TestApprove_Twice(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "user1", 10000)

	w, _ := f.svc.Request(context.Background(), "user1", d(100))
	f.advance(25 * time.Hour)
	if _, err := f.svc.Approve(context.Background(), w.ID, "admin"); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if _, err := f.svc.Approve(context.Background(), w.ID, "admin"); !errors.Is(err, withdrawal.ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestMarkPaid_RequiresApproved(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "user1", 10000)

	w, _ := f.svc.Request(context.Background(), "user1", d(100))
	if _, err := f.svc.MarkPaid(context.Background(), w.ID, "admin"); !errors.Is(err, withdrawal.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed for pending, got %v", err)
	}

	f.advance(25 * time.Hour)
	if _, err := f.svc.Approve(context.Background(), w.ID, "admin"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	paid, err := f.svc.MarkPaid(context.Background(), w.ID, "admin")
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid.Status != model.WithdrawalPaid || paid.PaidAt == nil {
		t.Errorf("expected PAID with timestamp, got %s %v", paid.Status, paid.PaidAt)
	}

	if _, err := f.svc.Reject(context.Background(), w.ID, "admin"); !errors.Is(err, withdrawal.ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed rejecting a paid withdrawal, got %v", err)
	}
}

func TestReject_AfterApprovalReverses(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "user1", 10000)

	w, _ := f.svc.Request(context.Background(), "user1", d(100))
	f.advance(25 * time.Hour)
	if _, err := f.svc.Approve(context.Background(), w.ID, "admin"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	rejected, err := f.svc.Reject(context.Background(), w.ID, "admin")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != model.WithdrawalRejected {
		t.Errorf("expected REJECTED, got %s", rejected.Status)
	}

	// The approval entry stays; a compensating entry restores balances.
	entries, err := f.ms.EntriesByReference(context.Background(), model.WithdrawalRef(w.ID))
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected approval entry plus reversal, got %d", len(entries))
	}
	if got := f.balance(t, ledger.AccountBank); !got.Equal(d(10000)) {
		t.Errorf("bank: expected 10000 restored, got %s", got)
	}
	if got := f.balance(t, ledger.AccountInvestorEquity); !got.Equal(d(10000)) {
		t.Errorf("equity: expected 10000 restored, got %s", got)
	}
	if got := f.balance(t, ledger.AccountWithdrawalFees); !got.IsZero() {
		t.Errorf("fee revenue: expected 0 after reversal, got %s", got)
	}
}

func TestReject_Pending(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "user1", 10000)

	w, _ := f.svc.Request(context.Background(), "user1", d(100))
	rejected, err := f.svc.Reject(context.Background(), w.ID, "admin")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != model.WithdrawalRejected {
		t.Errorf("expected REJECTED, got %s", rejected.Status)
	}

	// A pending withdrawal never touched the ledger.
	entries, err := f.ms.EntriesByReference(context.Background(), model.WithdrawalRef(w.ID))
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no ledger entries, got %d", len(entries))
	}
}
