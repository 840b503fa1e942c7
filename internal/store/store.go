// Package store defines the persistence interface for the fund engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for hot read paths), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateSettlement is returned when a settlement event already
	// exists for the trade. Backed by a unique constraint in PostgreSQL so
	// the guarantee holds under concurrent writers.
	ErrDuplicateSettlement = errors.New("store: settlement event already recorded for trade")

	// ErrVersionConflict is returned when an optimistic version check on a
	// row update fails because a concurrent writer got there first.
	ErrVersionConflict = errors.New("store: row version conflict")

	// ErrDuplicateAccount is returned when an account code is already taken.
	ErrDuplicateAccount = errors.New("store: account code already exists")
)

// Reader is the read-only view of fund state. Available both outside and
// inside transactions; inside a transaction the reads see the transaction's
// own writes.
type Reader interface {
	// --- Chart of accounts ---

	GetAccountByCode(ctx context.Context, code string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// AccountTotals returns the gross debit and credit totals posted
	// against an account. Sign conventions are applied by the ledger
	// engine, not the store.
	AccountTotals(ctx context.Context, accountID string) (debits, credits decimal.Decimal, err error)

	// EntriesByReference returns all ledger entries (with lines) that
	// originated from the given workflow row, oldest first.
	EntriesByReference(ctx context.Context, ref model.Reference) ([]model.LedgerEntry, error)

	// --- Workflow rows ---

	GetDeposit(ctx context.Context, id string) (*model.Deposit, error)
	ListDeposits(ctx context.Context) ([]model.Deposit, error)

	GetWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error)
	ListWithdrawals(ctx context.Context) ([]model.Withdrawal, error)

	// CountPendingWithdrawals and PendingWithdrawalPayout feed the surge
	// fee snapshot.
	CountPendingWithdrawals(ctx context.Context) (int, error)
	PendingWithdrawalPayout(ctx context.Context) (decimal.Decimal, error)

	GetTrade(ctx context.Context, id string) (*model.Trade, error)
	ListTrades(ctx context.Context) ([]model.Trade, error)

	// --- Unit accounting ---

	// UnitTotals returns total units issued by approved deposits and total
	// units burned by approved/paid withdrawals.
	UnitTotals(ctx context.Context) (issued, burned decimal.Decimal, err error)

	// UnitsByUser returns net units (issued minus burned) per investor.
	// Investors whose net position is zero are omitted.
	UnitsByUser(ctx context.Context) (map[string]decimal.Decimal, error)

	GetDistributionRound(ctx context.Context, id string) (*model.DistributionRound, error)
	ListDistributionRounds(ctx context.Context) ([]model.DistributionRound, error)

	ListAuditRecords(ctx context.Context, resourceType, resourceID string) ([]model.AuditRecord, error)
}

// Tx is the mutation surface available inside a transaction. All writes in
// one Tx commit or roll back as a unit.
type Tx interface {
	Reader

	InsertAccount(ctx context.Context, a *model.Account) error

	// InsertLedgerEntry persists an entry and all of its lines. The ledger
	// engine is the only caller; workflows never write ledger rows
	// directly.
	InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error

	InsertDeposit(ctx context.Context, d *model.Deposit) error
	GetDepositForUpdate(ctx context.Context, id string) (*model.Deposit, error)
	UpdateDeposit(ctx context.Context, d *model.Deposit) error

	InsertWithdrawal(ctx context.Context, w *model.Withdrawal) error
	GetWithdrawalForUpdate(ctx context.Context, id string) (*model.Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error

	InsertTrade(ctx context.Context, t *model.Trade) error
	GetTradeForUpdate(ctx context.Context, id string) (*model.Trade, error)

	// UpdateTrade bumps the trade's version; it fails with
	// ErrVersionConflict when the stored version no longer matches.
	UpdateTrade(ctx context.Context, t *model.Trade) error

	// InsertSettlementEvent fails with ErrDuplicateSettlement if the trade
	// already has one.
	InsertSettlementEvent(ctx context.Context, e *model.SettlementEvent) error

	InsertSnapshot(ctx context.Context, s *model.Snapshot) error

	// InsertDistributionRound persists the round and its allocations.
	InsertDistributionRound(ctx context.Context, r *model.DistributionRound) error

	InsertAuditRecord(ctx context.Context, r *model.AuditRecord) error
}

// Store is the persistence interface. All state-changing operations run
// through RunInTx so that workflow-row mutations and ledger postings commit
// atomically.
type Store interface {
	Reader

	// RunInTx executes fn inside a transaction. If fn returns an error the
	// transaction rolls back and no partial writes survive.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
