// Package model defines the core domain types shared across the fund engine.
// All monetary values and unit quantities use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies an account in the chart of accounts and fixes its
// balance sign convention.
type AccountType string

const (
	AccountAsset     AccountType = "ASSET"
	AccountLiability AccountType = "LIABILITY"
	AccountEquity    AccountType = "EQUITY"
	AccountRevenue   AccountType = "REVENUE"
	AccountExpense   AccountType = "EXPENSE"
)

// DebitNormal reports whether balances of this account type grow with
// debits (asset/expense) or with credits (liability/equity/revenue).
func (t AccountType) DebitNormal() bool {
	return t == AccountAsset || t == AccountExpense
}

// Account is one slot in the chart of accounts. Balances are never stored;
// they are derived by replaying ledger lines.
type Account struct {
	ID        string      `json:"id" db:"id"`
	Code      string      `json:"code" db:"code"`
	Name      string      `json:"name" db:"name"`
	Type      AccountType `json:"type" db:"type"`
	IsSystem  bool        `json:"is_system" db:"is_system"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// LedgerEntry is an immutable double-entry record. Once created, entries are
// never modified or deleted — corrections are compensating entries.
type LedgerEntry struct {
	ID          string       `json:"id" db:"id"`
	Description string       `json:"description" db:"description"`
	Reference   Reference    `json:"reference"`
	CreatedBy   string       `json:"created_by" db:"created_by"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	Lines       []LedgerLine `json:"lines"`
}

// LedgerLine is a single-sided amount inside an entry: exactly one of
// DebitAccountID/CreditAccountID is set. The entry as a whole balances,
// individual lines do not.
type LedgerLine struct {
	ID              string          `json:"id" db:"id"`
	EntryID         string          `json:"entry_id" db:"entry_id"`
	DebitAccountID  string          `json:"debit_account_id,omitempty" db:"debit_account_id"`
	CreditAccountID string          `json:"credit_account_id,omitempty" db:"credit_account_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	UserID          string          `json:"user_id,omitempty" db:"user_id"` // set for investor equity sub-ledger lines
	Description     string          `json:"description" db:"description"`
}

// Deposit statuses.
const (
	DepositPending  = "PENDING"
	DepositApproved = "APPROVED"
	DepositRejected = "REJECTED"
)

// Deposit is an investor cash-in request. UnitsIssued and NAVAtIssue are
// frozen at approval and never re-priced by later NAV moves.
type Deposit struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Status        string          `json:"status" db:"status"`
	UnitsIssued   decimal.Decimal `json:"units_issued" db:"units_issued"`
	NAVAtIssue    decimal.Decimal `json:"nav_at_issue" db:"nav_at_issue"`
	ApprovedBy    string          `json:"approved_by,omitempty" db:"approved_by"`
	LedgerEntryID string          `json:"ledger_entry_id,omitempty" db:"ledger_entry_id"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}

// Withdrawal statuses.
const (
	WithdrawalPending  = "PENDING"
	WithdrawalApproved = "APPROVED"
	WithdrawalPaid     = "PAID"
	WithdrawalRejected = "REJECTED"
)

// SurgeSnapshot freezes the system metrics the surge rules were evaluated
// against when a withdrawal was requested.
type SurgeSnapshot struct {
	PendingWithdrawals int             `json:"pending_withdrawals"`
	PendingPayout      decimal.Decimal `json:"pending_payout"`
	BankBalance        decimal.Decimal `json:"bank_balance"`
	RiskFlagActive     bool            `json:"risk_flag_active"`
	TakenAt            time.Time       `json:"taken_at"`
}

// Withdrawal is an investor cash-out request. The fee breakdown is computed
// once at request time and locked; units are burned at approval-time NAV.
type Withdrawal struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	AmountRequested decimal.Decimal `json:"amount_requested" db:"amount_requested"`
	FeeFixedPct     decimal.Decimal `json:"fee_fixed_pct" db:"fee_fixed_pct"`
	FeeSurgePct     decimal.Decimal `json:"fee_surge_pct" db:"fee_surge_pct"`
	FeeFixedAmount  decimal.Decimal `json:"fee_fixed_amount" db:"fee_fixed_amount"`
	FeeSurgeAmount  decimal.Decimal `json:"fee_surge_amount" db:"fee_surge_amount"`
	FeeTotalAmount  decimal.Decimal `json:"fee_total_amount" db:"fee_total_amount"`
	AmountPayout    decimal.Decimal `json:"amount_payout" db:"amount_payout"`
	SurgeReasons    []string        `json:"surge_reasons"`
	SurgeSnapshot   SurgeSnapshot   `json:"surge_snapshot"`
	FeeLockedAt     time.Time       `json:"fee_locked_at" db:"fee_locked_at"`
	CooldownUntil   time.Time       `json:"cooldown_until" db:"cooldown_until"`
	UnitsBurned     decimal.Decimal `json:"units_burned" db:"units_burned"`
	NAVAtBurn       decimal.Decimal `json:"nav_at_burn" db:"nav_at_burn"`
	Status          string          `json:"status" db:"status"`
	ApprovedBy      string          `json:"approved_by,omitempty" db:"approved_by"`
	LedgerEntryID   string          `json:"ledger_entry_id,omitempty" db:"ledger_entry_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
}

// Trade statuses. Anything other than PENDING is terminal.
const (
	TradePending     = "PENDING"
	TradeSettledWin  = "SETTLED_WIN"
	TradeSettledLoss = "SETTLED_LOSS"
	TradeSettledVoid = "SETTLED_VOID"
)

// Settlement results.
const (
	ResultWin  = "WIN"
	ResultLoss = "LOSS"
	ResultVoid = "VOID"
)

// Trade is a single wager. Once settled it is immutable: no stake/odds
// edits and no re-settlement.
type Trade struct {
	ID            string          `json:"id" db:"id"`
	Sport         string          `json:"sport" db:"sport"`
	Event         string          `json:"event" db:"event"`
	Market        string          `json:"market" db:"market"`
	Selection     string          `json:"selection" db:"selection"`
	Odds          decimal.Decimal `json:"odds" db:"odds"`
	Stake         decimal.Decimal `json:"stake" db:"stake"`
	PotentialWin  decimal.Decimal `json:"potential_win" db:"potential_win"`
	Status        string          `json:"status" db:"status"`
	ResultAmount  decimal.Decimal `json:"result_amount" db:"result_amount"`
	SettledBy     string          `json:"settled_by,omitempty" db:"settled_by"`
	SettledAt     *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
	LedgerEntryID string          `json:"ledger_entry_id,omitempty" db:"ledger_entry_id"`
	Version       int64           `json:"version" db:"version"` // optimistic concurrency on settlement
	CreatedBy     string          `json:"created_by" db:"created_by"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// SettlementEvent is the append-only record of how a trade was settled.
// At most one per trade, enforced by a unique constraint on trade_id.
type SettlementEvent struct {
	ID              string          `json:"id" db:"id"`
	TradeID         string          `json:"trade_id" db:"trade_id"`
	ProviderEventID string          `json:"provider_event_id" db:"provider_event_id"`
	ProviderOdds    decimal.Decimal `json:"provider_odds" db:"provider_odds"`
	Result          string          `json:"result" db:"result"`
	SettledBy       string          `json:"settled_by" db:"settled_by"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Snapshot is an immutable point-in-time picture of the fund.
type Snapshot struct {
	ID               string          `json:"id" db:"id"`
	BankBalance      decimal.Decimal `json:"bank_balance" db:"bank_balance"`
	UnitsOutstanding decimal.Decimal `json:"units_outstanding" db:"units_outstanding"`
	NAVPerUnit       decimal.Decimal `json:"nav_per_unit" db:"nav_per_unit"`
	InvestorCount    int             `json:"investor_count" db:"investor_count"`
	Reason           string          `json:"reason" db:"reason"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// Distribution round statuses.
const (
	RoundDraft    = "DRAFT"
	RoundExecuted = "EXECUTED"
)

// DistributionRound realizes accumulated trading profit into investor
// equity, net of a performance fee.
type DistributionRound struct {
	ID               string                   `json:"id" db:"id"`
	PeriodStart      time.Time                `json:"period_start" db:"period_start"`
	PeriodEnd        time.Time                `json:"period_end" db:"period_end"`
	Status           string                   `json:"status" db:"status"`
	SnapshotID       string                   `json:"snapshot_id" db:"snapshot_id"`
	BankBalance      decimal.Decimal          `json:"bank_balance" db:"bank_balance"`
	UnitsOutstanding decimal.Decimal          `json:"units_outstanding" db:"units_outstanding"`
	NAVPerUnit       decimal.Decimal          `json:"nav_per_unit" db:"nav_per_unit"`
	TotalProfit      decimal.Decimal          `json:"total_profit" db:"total_profit"`
	PerformanceFee   decimal.Decimal          `json:"performance_fee" db:"performance_fee"`
	NetDistributed   decimal.Decimal          `json:"net_distributed" db:"net_distributed"`
	ExecutedBy       string                   `json:"executed_by" db:"executed_by"`
	LedgerEntryID    string                   `json:"ledger_entry_id,omitempty" db:"ledger_entry_id"`
	CreatedAt        time.Time                `json:"created_at" db:"created_at"`
	Allocations      []DistributionAllocation `json:"allocations"`
}

// DistributionAllocation is one investor's pro-rata share of a round.
type DistributionAllocation struct {
	ID       string          `json:"id" db:"id"`
	RoundID  string          `json:"round_id" db:"round_id"`
	UserID   string          `json:"user_id" db:"user_id"`
	Units    decimal.Decimal `json:"units" db:"units"`
	SharePct decimal.Decimal `json:"share_pct" db:"share_pct"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`
}

// AuditRecord captures who did what to which resource, with a JSON diff.
// Written in the same transaction as the mutation it describes.
type AuditRecord struct {
	ID           string    `json:"id" db:"id"`
	Action       string    `json:"action" db:"action"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   string    `json:"resource_id" db:"resource_id"`
	Actor        string    `json:"actor" db:"actor"`
	Diff         string    `json:"diff,omitempty" db:"diff"` // JSON payload
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// FundStats is the derived read model served to dashboards: everything a
// snapshot captures, computed on demand.
type FundStats struct {
	BankBalance      decimal.Decimal `json:"bank_balance"`
	InvestorEquity   decimal.Decimal `json:"investor_equity"`
	UnitsOutstanding decimal.Decimal `json:"units_outstanding"`
	NAVPerUnit       decimal.Decimal `json:"nav_per_unit"`
	InvestorCount    int             `json:"investor_count"`
}
