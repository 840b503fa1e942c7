package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/model"
	"github.com/PariazaInteligent/fund-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func insertTrade(t *testing.T, ms *store.MemoryStore, id string) {
	t.Helper()
	err := ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTrade(ctx, &model.Trade{
			ID:        id,
			Odds:      d(2),
			Stake:     d(100),
			Status:    model.TradePending,
			CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("insert trade: %v", err)
	}
}

func TestRunInTx_RollbackLeavesStoreUntouched(t *testing.T) {
	ms := store.NewMemoryStore()
	boom := errors.New("boom")

	err := ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertDeposit(ctx, &model.Deposit{ID: "dep-1", UserID: "user1", Amount: d(100)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the transaction error back, got %v", err)
	}

	if _, err := ms.GetDeposit(context.Background(), "dep-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rolled-back insert must not be visible, got %v", err)
	}
}

func TestInsertAccount_DuplicateCode(t *testing.T) {
	ms := store.NewMemoryStore()

	err := ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertAccount(ctx, &model.Account{ID: "a1", Code: "1000"}); err != nil {
			return err
		}
		return tx.InsertAccount(ctx, &model.Account{ID: "a2", Code: "1000"})
	})
	if !errors.Is(err, store.ErrDuplicateAccount) {
		t.Errorf("expected ErrDuplicateAccount, got %v", err)
	}
}

func TestUpdateTrade_VersionConflict(t *testing.T) {
	ms := store.NewMemoryStore()
	insertTrade(t, ms, "tr-1")

	// A stale version must be rejected; a fresh one bumps the version.
	err := ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		tr, err := tx.GetTradeForUpdate(ctx, "tr-1")
		if err != nil {
			return err
		}
		if err := tx.UpdateTrade(ctx, tr); err != nil {
			return err
		}
		stale := *tr
		stale.Version = 0
		return tx.UpdateTrade(ctx, &stale)
	})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	// The conflicting transaction rolled back entirely.
	tr, err := ms.GetTrade(context.Background(), "tr-1")
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if tr.Version != 0 {
		t.Errorf("expected version 0 after rollback, got %d", tr.Version)
	}
}

func TestInsertSettlementEvent_UniquePerTrade(t *testing.T) {
	ms := store.NewMemoryStore()
	insertTrade(t, ms, "tr-1")

	settle := func(eventID string) error {
		return ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.InsertSettlementEvent(ctx, &model.SettlementEvent{
				ID:      eventID,
				TradeID: "tr-1",
				Result:  model.ResultWin,
			})
		})
	}

	if err := settle("ev-1"); err != nil {
		t.Fatalf("first settlement event: %v", err)
	}
	if err := settle("ev-2"); !errors.Is(err, store.ErrDuplicateSettlement) {
		t.Errorf("expected ErrDuplicateSettlement, got %v", err)
	}
}

func TestUnitTotals_CountsOnlySettledStatuses(t *testing.T) {
	ms := store.NewMemoryStore()

	err := ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		deposits := []model.Deposit{
			{ID: "d1", UserID: "user1", Status: model.DepositApproved, UnitsIssued: d(1000)},
			{ID: "d2", UserID: "user1", Status: model.DepositPending, UnitsIssued: d(999)},
			{ID: "d3", UserID: "user2", Status: model.DepositApproved, UnitsIssued: d(500)},
			{ID: "d4", UserID: "user3", Status: model.DepositRejected, UnitsIssued: d(777)},
		}
		for i := range deposits {
			if err := tx.InsertDeposit(ctx, &deposits[i]); err != nil {
				return err
			}
		}
		withdrawals := []model.Withdrawal{
			{ID: "w1", UserID: "user1", Status: model.WithdrawalApproved, UnitsBurned: d(200)},
			{ID: "w2", UserID: "user2", Status: model.WithdrawalPaid, UnitsBurned: d(500)},
			{ID: "w3", UserID: "user1", Status: model.WithdrawalPending, UnitsBurned: d(50)},
		}
		for i := range withdrawals {
			if err := tx.InsertWithdrawal(ctx, &withdrawals[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	issued, burned, err := ms.UnitTotals(context.Background())
	if err != nil {
		t.Fatalf("unit totals: %v", err)
	}
	if !issued.Equal(d(1500)) {
		t.Errorf("issued: expected 1500, got %s", issued)
	}
	if !burned.Equal(d(700)) {
		t.Errorf("burned: expected 700, got %s", burned)
	}

	// user2's position nets to zero and drops out of the holder map.
	holders, err := ms.UnitsByUser(context.Background())
	if err != nil {
		t.Fatalf("units by user: %v", err)
	}
	if len(holders) != 1 {
		t.Fatalf("expected one holder, got %v", holders)
	}
	if !holders["user1"].Equal(d(800)) {
		t.Errorf("user1: expected 800 units, got %s", holders["user1"])
	}
}

func TestPendingWithdrawalPayout(t *testing.T) {
	ms := store.NewMemoryStore()

	err := ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		withdrawals := []model.Withdrawal{
			{ID: "w1", Status: model.WithdrawalPending, AmountPayout: d(100)},
			{ID: "w2", Status: model.WithdrawalPending, AmountPayout: d(250)},
			{ID: "w3", Status: model.WithdrawalApproved, AmountPayout: d(999)},
		}
		for i := range withdrawals {
			if err := tx.InsertWithdrawal(ctx, &withdrawals[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	count, err := ms.CountPendingWithdrawals(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("pending count: expected 2, got %d", count)
	}

	payout, err := ms.PendingWithdrawalPayout(context.Background())
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if !payout.Equal(d(350)) {
		t.Errorf("pending payout: expected 350, got %s", payout)
	}
}

func TestListTrades_Ordering(t *testing.T) {
	ms := store.NewMemoryStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	err := ms.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for i, id := range []string{"tr-c", "tr-a", "tr-b"} {
			if err := tx.InsertTrade(ctx, &model.Trade{
				ID:        id,
				Status:    model.TradePending,
				CreatedAt: base.Add(time.Duration(2-i) * time.Hour),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	trades, err := ms.ListTrades(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
	// Oldest first.
	if trades[0].ID != "tr-b" || trades[1].ID != "tr-a" || trades[2].ID != "tr-c" {
		t.Errorf("unexpected order: %s, %s, %s", trades[0].ID, trades[1].ID, trades[2].ID)
	}
}
