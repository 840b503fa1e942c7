package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache on the hot derived-read paths: account totals, unit totals, and
// per-user unit holdings. Every committed transaction invalidates those
// keys, so dashboard reads never serve a balance older than the last
// write. Transactions themselves always run against the primary: in-tx
// reads must see the transaction's own writes, which a cache cannot do.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// RunInTx runs against the primary and drops the derived-read cache on
// commit.
func (s *CachedStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := s.primary.RunInTx(ctx, fn); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context) {
	keys, err := s.rdb.Keys(ctx, "fund:*").Result()
	if err != nil || len(keys) == 0 {
		return
	}
	s.rdb.Del(ctx, keys...)
}

// --- Read-through (check cache first) ---

type accountTotals struct {
	Debits  decimal.Decimal `json:"debits"`
	Credits decimal.Decimal `json:"credits"`
}

func (s *CachedStore) AccountTotals(ctx context.Context, accountID string) (decimal.Decimal, decimal.Decimal, error) {
	data, err := s.rdb.Get(ctx, totalsKey(accountID)).Bytes()
	if err == nil {
		var t accountTotals
		if json.Unmarshal(data, &t) == nil {
			return t.Debits, t.Credits, nil
		}
	}

	debits, credits, err := s.primary.AccountTotals(ctx, accountID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	if data, err := json.Marshal(accountTotals{Debits: debits, Credits: credits}); err == nil {
		s.rdb.Set(ctx, totalsKey(accountID), data, s.ttl)
	}
	return debits, credits, nil
}

func (s *CachedStore) UnitTotals(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	data, err := s.rdb.Get(ctx, unitTotalsKey()).Bytes()
	if err == nil {
		var t accountTotals
		if json.Unmarshal(data, &t) == nil {
			return t.Debits, t.Credits, nil
		}
	}

	issued, burned, err := s.primary.UnitTotals(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	if data, err := json.Marshal(accountTotals{Debits: issued, Credits: burned}); err == nil {
		s.rdb.Set(ctx, unitTotalsKey(), data, s.ttl)
	}
	return issued, burned, nil
}

func (s *CachedStore) UnitsByUser(ctx context.Context) (map[string]decimal.Decimal, error) {
	data, err := s.rdb.Get(ctx, holdingsKey()).Bytes()
	if err == nil {
		var units map[string]decimal.Decimal
		if json.Unmarshal(data, &units) == nil {
			return units, nil
		}
	}

	units, err := s.primary.UnitsByUser(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(units); err == nil {
		s.rdb.Set(ctx, holdingsKey(), data, s.ttl)
	}
	return units, nil
}

func (s *CachedStore) GetAccountByCode(ctx context.Context, code string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(code)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccountByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(code), data, s.ttl)
	}
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) EntriesByReference(ctx context.Context, ref model.Reference) ([]model.LedgerEntry, error) {
	return s.primary.EntriesByReference(ctx, ref)
}

func (s *CachedStore) GetDeposit(ctx context.Context, id string) (*model.Deposit, error) {
	return s.primary.GetDeposit(ctx, id)
}

func (s *CachedStore) ListDeposits(ctx context.Context) ([]model.Deposit, error) {
	return s.primary.ListDeposits(ctx)
}

func (s *CachedStore) GetWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error) {
	return s.primary.GetWithdrawal(ctx, id)
}

func (s *CachedStore) ListWithdrawals(ctx context.Context) ([]model.Withdrawal, error) {
	return s.primary.ListWithdrawals(ctx)
}

func (s *CachedStore) CountPendingWithdrawals(ctx context.Context) (int, error) {
	return s.primary.CountPendingWithdrawals(ctx)
}

func (s *CachedStore) PendingWithdrawalPayout(ctx context.Context) (decimal.Decimal, error) {
	return s.primary.PendingWithdrawalPayout(ctx)
}

func (s *CachedStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	return s.primary.GetTrade(ctx, id)
}

func (s *CachedStore) ListTrades(ctx context.Context) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx)
}

func (s *CachedStore) GetDistributionRound(ctx context.Context, id string) (*model.DistributionRound, error) {
	return s.primary.GetDistributionRound(ctx, id)
}

func (s *CachedStore) ListDistributionRounds(ctx context.Context) ([]model.DistributionRound, error) {
	return s.primary.ListDistributionRounds(ctx)
}

func (s *CachedStore) ListAuditRecords(ctx context.Context, resourceType, resourceID string) ([]model.AuditRecord, error) {
	return s.primary.ListAuditRecords(ctx, resourceType, resourceID)
}

// --- Cache keys ---

func accountKey(code string) string  { return fmt.Sprintf("fund:account:%s", code) }
func totalsKey(id string) string     { return fmt.Sprintf("fund:totals:%s", id) }
func unitTotalsKey() string          { return "fund:units:totals" }
func holdingsKey() string            { return "fund:units:byuser" }
