package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// Transactions clone the full dataset, run against the clone, and swap it
// in on success. A failed transaction leaves the store untouched, matching
// the all-or-nothing guarantee of the PostgreSQL implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	data *dataset
}

type dataset struct {
	accounts    map[string]model.Account // by ID
	codes       map[string]string        // code -> ID
	entries     []model.LedgerEntry
	deposits    map[string]model.Deposit
	withdrawals map[string]model.Withdrawal
	trades      map[string]model.Trade
	settlements map[string]model.SettlementEvent // by trade ID
	snapshots   map[string]model.Snapshot
	rounds      map[string]model.DistributionRound
	audits      []model.AuditRecord
}

func newDataset() *dataset {
	return &dataset{
		accounts:    make(map[string]model.Account),
		codes:       make(map[string]string),
		deposits:    make(map[string]model.Deposit),
		withdrawals: make(map[string]model.Withdrawal),
		trades:      make(map[string]model.Trade),
		settlements: make(map[string]model.SettlementEvent),
		snapshots:   make(map[string]model.Snapshot),
		rounds:      make(map[string]model.DistributionRound),
	}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newDataset()}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for id, a := range d.accounts {
		c.accounts[id] = a
	}
	for code, id := range d.codes {
		c.codes[code] = id
	}
	c.entries = make([]model.LedgerEntry, len(d.entries))
	for i, e := range d.entries {
		c.entries[i] = cloneEntry(e)
	}
	for id, dep := range d.deposits {
		c.deposits[id] = dep
	}
	for id, w := range d.withdrawals {
		c.withdrawals[id] = cloneWithdrawal(w)
	}
	for id, t := range d.trades {
		c.trades[id] = t
	}
	for id, se := range d.settlements {
		c.settlements[id] = se
	}
	for id, s := range d.snapshots {
		c.snapshots[id] = s
	}
	for id, r := range d.rounds {
		c.rounds[id] = cloneRound(r)
	}
	c.audits = append([]model.AuditRecord(nil), d.audits...)
	return c
}

func cloneEntry(e model.LedgerEntry) model.LedgerEntry {
	e.Lines = append([]model.LedgerLine(nil), e.Lines...)
	return e
}

func cloneWithdrawal(w model.Withdrawal) model.Withdrawal {
	w.SurgeReasons = append([]string(nil), w.SurgeReasons...)
	return w
}

func cloneRound(r model.DistributionRound) model.DistributionRound {
	r.Allocations = append([]model.DistributionAllocation(nil), r.Allocations...)
	return r
}

// RunInTx clones the dataset, applies fn to the clone, and swaps the clone
// in only if fn succeeds.
func (s *MemoryStore) RunInTx(_ context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(context.Background(), &memTx{data: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// memTx serves both as the transaction view and, via MemoryStore's reader
// wrappers, as the shared read implementation.
type memTx struct {
	data *dataset
}

// --- MemoryStore reader wrappers (RLock, delegate to a view) ---

func (s *MemoryStore) view() *memTx { return &memTx{data: s.data} }

func (s *MemoryStore) GetAccountByCode(ctx context.Context, code string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetAccountByCode(ctx, code)
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListAccounts(ctx)
}

func (s *MemoryStore) AccountTotals(ctx context.Context, accountID string) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().AccountTotals(ctx, accountID)
}

func (s *MemoryStore) EntriesByReference(ctx context.Context, ref model.Reference) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().EntriesByReference(ctx, ref)
}

func (s *MemoryStore) GetDeposit(ctx context.Context, id string) (*model.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetDeposit(ctx, id)
}

func (s *MemoryStore) ListDeposits(ctx context.Context) ([]model.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListDeposits(ctx)
}

func (s *MemoryStore) GetWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetWithdrawal(ctx, id)
}

func (s *MemoryStore) ListWithdrawals(ctx context.Context) ([]model.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListWithdrawals(ctx)
}

func (s *MemoryStore) CountPendingWithdrawals(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().CountPendingWithdrawals(ctx)
}

func (s *MemoryStore) PendingWithdrawalPayout(ctx context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().PendingWithdrawalPayout(ctx)
}

func (s *MemoryStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetTrade(ctx, id)
}

func (s *MemoryStore) ListTrades(ctx context.Context) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListTrades(ctx)
}

func (s *MemoryStore) UnitTotals(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().UnitTotals(ctx)
}

func (s *MemoryStore) UnitsByUser(ctx context.Context) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().UnitsByUser(ctx)
}

func (s *MemoryStore) GetDistributionRound(ctx context.Context, id string) (*model.DistributionRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetDistributionRound(ctx, id)
}

func (s *MemoryStore) ListDistributionRounds(ctx context.Context) ([]model.DistributionRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListDistributionRounds(ctx)
}

func (s *MemoryStore) ListAuditRecords(ctx context.Context, resourceType, resourceID string) ([]model.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListAuditRecords(ctx, resourceType, resourceID)
}

// --- Reads ---

func (t *memTx) GetAccountByCode(_ context.Context, code string) (*model.Account, error) {
	id, ok := t.data.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	a := t.data.accounts[id]
	return &a, nil
}

func (t *memTx) ListAccounts(_ context.Context) ([]model.Account, error) {
	accounts := make([]model.Account, 0, len(t.data.accounts))
	for _, a := range t.data.accounts {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Code < accounts[j].Code })
	return accounts, nil
}

func (t *memTx) AccountTotals(_ context.Context, accountID string) (decimal.Decimal, decimal.Decimal, error) {
	debits, credits := decimal.Zero, decimal.Zero
	for _, e := range t.data.entries {
		for _, l := range e.Lines {
			if l.DebitAccountID == accountID {
				debits = debits.Add(l.Amount)
			}
			if l.CreditAccountID == accountID {
				credits = credits.Add(l.Amount)
			}
		}
	}
	return debits, credits, nil
}

func (t *memTx) EntriesByReference(_ context.Context, ref model.Reference) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for _, e := range t.data.entries {
		if e.Reference == ref {
			entries = append(entries, cloneEntry(e))
		}
	}
	return entries, nil
}

func (t *memTx) GetDeposit(_ context.Context, id string) (*model.Deposit, error) {
	d, ok := t.data.deposits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (t *memTx) ListDeposits(_ context.Context) ([]model.Deposit, error) {
	deposits := make([]model.Deposit, 0, len(t.data.deposits))
	for _, d := range t.data.deposits {
		deposits = append(deposits, d)
	}
	sortByCreated(deposits, func(d model.Deposit) (int64, string) { return d.CreatedAt.UnixNano(), d.ID })
	return deposits, nil
}

func (t *memTx) GetWithdrawal(_ context.Context, id string) (*model.Withdrawal, error) {
	w, ok := t.data.withdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	w = cloneWithdrawal(w)
	return &w, nil
}

func (t *memTx) ListWithdrawals(_ context.Context) ([]model.Withdrawal, error) {
	withdrawals := make([]model.Withdrawal, 0, len(t.data.withdrawals))
	for _, w := range t.data.withdrawals {
		withdrawals = append(withdrawals, cloneWithdrawal(w))
	}
	sortByCreated(withdrawals, func(w model.Withdrawal) (int64, string) { return w.CreatedAt.UnixNano(), w.ID })
	return withdrawals, nil
}

func (t *memTx) CountPendingWithdrawals(_ context.Context) (int, error) {
	n := 0
	for _, w := range t.data.withdrawals {
		if w.Status == model.WithdrawalPending {
			n++
		}
	}
	return n, nil
}

func (t *memTx) PendingWithdrawalPayout(_ context.Context) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, w := range t.data.withdrawals {
		if w.Status == model.WithdrawalPending {
			total = total.Add(w.AmountPayout)
		}
	}
	return total, nil
}

func (t *memTx) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	tr, ok := t.data.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tr, nil
}

func (t *memTx) ListTrades(_ context.Context) ([]model.Trade, error) {
	trades := make([]model.Trade, 0, len(t.data.trades))
	for _, tr := range t.data.trades {
		trades = append(trades, tr)
	}
	sortByCreated(trades, func(tr model.Trade) (int64, string) { return tr.CreatedAt.UnixNano(), tr.ID })
	return trades, nil
}

func (t *memTx) UnitTotals(_ context.Context) (decimal.Decimal, decimal.Decimal, error) {
	issued, burned := decimal.Zero, decimal.Zero
	for _, d := range t.data.deposits {
		if d.Status == model.DepositApproved {
			issued = issued.Add(d.UnitsIssued)
		}
	}
	for _, w := range t.data.withdrawals {
		if w.Status == model.WithdrawalApproved || w.Status == model.WithdrawalPaid {
			burned = burned.Add(w.UnitsBurned)
		}
	}
	return issued, burned, nil
}

func (t *memTx) UnitsByUser(_ context.Context) (map[string]decimal.Decimal, error) {
	units := make(map[string]decimal.Decimal)
	for _, d := range t.data.deposits {
		if d.Status == model.DepositApproved {
			units[d.UserID] = units[d.UserID].Add(d.UnitsIssued)
		}
	}
	for _, w := range t.data.withdrawals {
		if w.Status == model.WithdrawalApproved || w.Status == model.WithdrawalPaid {
			units[w.UserID] = units[w.UserID].Sub(w.UnitsBurned)
		}
	}
	for user, u := range units {
		if !u.IsPositive() {
			delete(units, user)
		}
	}
	return units, nil
}

func (t *memTx) GetDistributionRound(_ context.Context, id string) (*model.DistributionRound, error) {
	r, ok := t.data.rounds[id]
	if !ok {
		return nil, ErrNotFound
	}
	r = cloneRound(r)
	return &r, nil
}

func (t *memTx) ListDistributionRounds(_ context.Context) ([]model.DistributionRound, error) {
	rounds := make([]model.DistributionRound, 0, len(t.data.rounds))
	for _, r := range t.data.rounds {
		rounds = append(rounds, cloneRound(r))
	}
	sortByCreated(rounds, func(r model.DistributionRound) (int64, string) { return r.CreatedAt.UnixNano(), r.ID })
	return rounds, nil
}

func (t *memTx) ListAuditRecords(_ context.Context, resourceType, resourceID string) ([]model.AuditRecord, error) {
	var records []model.AuditRecord
	for _, r := range t.data.audits {
		if r.ResourceType == resourceType && (resourceID == "" || r.ResourceID == resourceID) {
			records = append(records, r)
		}
	}
	return records, nil
}

// --- Mutations ---

func (t *memTx) InsertAccount(_ context.Context, a *model.Account) error {
	if _, exists := t.data.codes[a.Code]; exists {
		return ErrDuplicateAccount
	}
	t.data.accounts[a.ID] = *a
	t.data.codes[a.Code] = a.ID
	return nil
}

func (t *memTx) InsertLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	t.data.entries = append(t.data.entries, cloneEntry(*e))
	return nil
}

func (t *memTx) InsertDeposit(_ context.Context, d *model.Deposit) error {
	t.data.deposits[d.ID] = *d
	return nil
}

func (t *memTx) GetDepositForUpdate(ctx context.Context, id string) (*model.Deposit, error) {
	return t.GetDeposit(ctx, id)
}

func (t *memTx) UpdateDeposit(_ context.Context, d *model.Deposit) error {
	if _, ok := t.data.deposits[d.ID]; !ok {
		return ErrNotFound
	}
	t.data.deposits[d.ID] = *d
	return nil
}

func (t *memTx) InsertWithdrawal(_ context.Context, w *model.Withdrawal) error {
	t.data.withdrawals[w.ID] = cloneWithdrawal(*w)
	return nil
}

func (t *memTx) GetWithdrawalForUpdate(ctx context.Context, id string) (*model.Withdrawal, error) {
	return t.GetWithdrawal(ctx, id)
}

func (t *memTx) UpdateWithdrawal(_ context.Context, w *model.Withdrawal) error {
	if _, ok := t.data.withdrawals[w.ID]; !ok {
		return ErrNotFound
	}
	t.data.withdrawals[w.ID] = cloneWithdrawal(*w)
	return nil
}

func (t *memTx) InsertTrade(_ context.Context, tr *model.Trade) error {
	t.data.trades[tr.ID] = *tr
	return nil
}

func (t *memTx) GetTradeForUpdate(ctx context.Context, id string) (*model.Trade, error) {
	return t.GetTrade(ctx, id)
}

func (t *memTx) UpdateTrade(_ context.Context, tr *model.Trade) error {
	current, ok := t.data.trades[tr.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != tr.Version {
		return ErrVersionConflict
	}
	tr.Version++
	t.data.trades[tr.ID] = *tr
	return nil
}

func (t *memTx) InsertSettlementEvent(_ context.Context, e *model.SettlementEvent) error {
	if _, exists := t.data.settlements[e.TradeID]; exists {
		return ErrDuplicateSettlement
	}
	t.data.settlements[e.TradeID] = *e
	return nil
}

func (t *memTx) InsertSnapshot(_ context.Context, s *model.Snapshot) error {
	t.data.snapshots[s.ID] = *s
	return nil
}

func (t *memTx) InsertDistributionRound(_ context.Context, r *model.DistributionRound) error {
	t.data.rounds[r.ID] = cloneRound(*r)
	return nil
}

func (t *memTx) InsertAuditRecord(_ context.Context, r *model.AuditRecord) error {
	t.data.audits = append(t.data.audits, *r)
	return nil
}

// sortByCreated orders rows by creation time with ID as tiebreak, keeping
// list output deterministic.
func sortByCreated[T any](rows []T, key func(T) (int64, string)) {
	sort.Slice(rows, func(i, j int) bool {
		ti, idi := key(rows[i])
		tj, idj := key(rows[j])
		if ti != tj {
			return ti < tj
		}
		return idi < idj
	})
}
