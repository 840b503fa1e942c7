package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Transactions run at SERIALIZABLE isolation with row locks on the
// workflow rows being mutated.
type PostgresStore struct {
	pgReader
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgReader: pgReader{q: pool}, pool: pool}
}

// RunInTx executes fn in a serializable transaction, rolling back on any
// error.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, &pgTx{pgReader: pgReader{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// querier is the query surface shared by *pgxpool.Pool and pgx.Tx, so the
// read methods work identically inside and outside transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgReader struct {
	q querier
}

type pgTx struct {
	pgReader
	tx pgx.Tx
}

func mustDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// --- Chart of accounts ---

func (r pgReader) GetAccountByCode(ctx context.Context, code string) (*model.Account, error) {
	var a model.Account
	err := r.q.QueryRow(ctx,
		`SELECT id, code, name, type, is_system, created_at
		 FROM accounts WHERE code = $1`, code).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.IsSystem, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", code, err)
	}
	return &a, nil
}

func (r pgReader) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, code, name, type, is_system, created_at
		 FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.IsSystem, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r pgReader) AccountTotals(ctx context.Context, accountID string) (decimal.Decimal, decimal.Decimal, error) {
	var debitsS, creditsS string
	err := r.q.QueryRow(ctx,
		`SELECT
			COALESCE(SUM(amount) FILTER (WHERE debit_account_id = $1), 0)::TEXT,
			COALESCE(SUM(amount) FILTER (WHERE credit_account_id = $1), 0)::TEXT
		 FROM ledger_lines
		 WHERE debit_account_id = $1 OR credit_account_id = $1`, accountID).
		Scan(&debitsS, &creditsS)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("account totals %s: %w", accountID, err)
	}
	return mustDecimal(debitsS), mustDecimal(creditsS), nil
}

func (r pgReader) EntriesByReference(ctx context.Context, ref model.Reference) ([]model.LedgerEntry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, description, reference_type, reference_id, created_by, created_at
		 FROM ledger_entries
		 WHERE reference_type = $1 AND reference_id = $2
		 ORDER BY created_at`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.Description, &e.Reference.Kind, &e.Reference.ID, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		lines, err := r.linesForEntry(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Lines = lines
	}
	return entries, nil
}

func (r pgReader) linesForEntry(ctx context.Context, entryID string) ([]model.LedgerLine, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, entry_id, debit_account_id, credit_account_id, amount::TEXT, user_id, description
		 FROM ledger_lines WHERE entry_id = $1 ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []model.LedgerLine
	for rows.Next() {
		var l model.LedgerLine
		var amountS string
		if err := rows.Scan(&l.ID, &l.EntryID, &l.DebitAccountID, &l.CreditAccountID,
			&amountS, &l.UserID, &l.Description); err != nil {
			return nil, err
		}
		l.Amount = mustDecimal(amountS)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// --- Deposits ---

const depositColumns = `id, user_id, amount::TEXT, status, units_issued::TEXT, nav_at_issue::TEXT,
	approved_by, ledger_entry_id, created_at, processed_at`

func scanDeposit(row pgx.Row) (*model.Deposit, error) {
	var d model.Deposit
	var amountS, unitsS, navS string
	err := row.Scan(&d.ID, &d.UserID, &amountS, &d.Status, &unitsS, &navS,
		&d.ApprovedBy, &d.LedgerEntryID, &d.CreatedAt, &d.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Amount = mustDecimal(amountS)
	d.UnitsIssued = mustDecimal(unitsS)
	d.NAVAtIssue = mustDecimal(navS)
	return &d, nil
}

func (r pgReader) GetDeposit(ctx context.Context, id string) (*model.Deposit, error) {
	return scanDeposit(r.q.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id))
}

func (r pgReader) ListDeposits(ctx context.Context) ([]model.Deposit, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+depositColumns+` FROM deposits ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []model.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *d)
	}
	return deposits, rows.Err()
}

// --- Withdrawals ---

const withdrawalColumns = `id, user_id, amount_requested::TEXT, fee_fixed_pct::TEXT, fee_surge_pct::TEXT,
	fee_fixed_amount::TEXT, fee_surge_amount::TEXT, fee_total_amount::TEXT, amount_payout::TEXT,
	surge_reasons, surge_snapshot, fee_locked_at, cooldown_until,
	units_burned::TEXT, nav_at_burn::TEXT, status, approved_by, ledger_entry_id,
	created_at, processed_at, paid_at`

func scanWithdrawal(row pgx.Row) (*model.Withdrawal, error) {
	var w model.Withdrawal
	var requestedS, fixedPctS, surgePctS, fixedAmtS, surgeAmtS, totalS, payoutS, burnedS, navS string
	var reasonsJSON, snapshotJSON []byte
	err := row.Scan(&w.ID, &w.UserID, &requestedS, &fixedPctS, &surgePctS,
		&fixedAmtS, &surgeAmtS, &totalS, &payoutS,
		&reasonsJSON, &snapshotJSON, &w.FeeLockedAt, &w.CooldownUntil,
		&burnedS, &navS, &w.Status, &w.ApprovedBy, &w.LedgerEntryID,
		&w.CreatedAt, &w.ProcessedAt, &w.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.AmountRequested = mustDecimal(requestedS)
	w.FeeFixedPct = mustDecimal(fixedPctS)
	w.FeeSurgePct = mustDecimal(surgePctS)
	w.FeeFixedAmount = mustDecimal(fixedAmtS)
	w.FeeSurgeAmount = mustDecimal(surgeAmtS)
	w.FeeTotalAmount = mustDecimal(totalS)
	w.AmountPayout = mustDecimal(payoutS)
	w.UnitsBurned = mustDecimal(burnedS)
	w.NAVAtBurn = mustDecimal(navS)
	if err := json.Unmarshal(reasonsJSON, &w.SurgeReasons); err != nil {
		return nil, fmt.Errorf("withdrawal %s surge reasons: %w", w.ID, err)
	}
	if err := json.Unmarshal(snapshotJSON, &w.SurgeSnapshot); err != nil {
		return nil, fmt.Errorf("withdrawal %s surge snapshot: %w", w.ID, err)
	}
	return &w, nil
}

func (r pgReader) GetWithdrawal(ctx context.Context, id string) (*model.Withdrawal, error) {
	return scanWithdrawal(r.q.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
}

func (r pgReader) ListWithdrawals(ctx context.Context) ([]model.Withdrawal, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var withdrawals []model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, *w)
	}
	return withdrawals, rows.Err()
}

func (r pgReader) CountPendingWithdrawals(ctx context.Context) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM withdrawals WHERE status = $1`, model.WithdrawalPending).Scan(&n)
	return n, err
}

func (r pgReader) PendingWithdrawalPayout(ctx context.Context) (decimal.Decimal, error) {
	var totalS string
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_payout), 0)::TEXT FROM withdrawals WHERE status = $1`,
		model.WithdrawalPending).Scan(&totalS)
	if err != nil {
		return decimal.Zero, err
	}
	return mustDecimal(totalS), nil
}

// --- Trades ---

const tradeColumns = `id, sport, event, market, selection, odds::TEXT, stake::TEXT, potential_win::TEXT,
	status, result_amount::TEXT, settled_by, settled_at, ledger_entry_id, version,
	created_by, created_at, updated_at`

func scanTrade(row pgx.Row) (*model.Trade, error) {
	var t model.Trade
	var oddsS, stakeS, winS, resultS string
	err := row.Scan(&t.ID, &t.Sport, &t.Event, &t.Market, &t.Selection,
		&oddsS, &stakeS, &winS, &t.Status, &resultS,
		&t.SettledBy, &t.SettledAt, &t.LedgerEntryID, &t.Version,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Odds = mustDecimal(oddsS)
	t.Stake = mustDecimal(stakeS)
	t.PotentialWin = mustDecimal(winS)
	t.ResultAmount = mustDecimal(resultS)
	return &t, nil
}

func (r pgReader) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	return scanTrade(r.q.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
}

func (r pgReader) ListTrades(ctx context.Context) ([]model.Trade, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

// --- Unit accounting ---

func (r pgReader) UnitTotals(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	var issuedS, burnedS string
	err := r.q.QueryRow(ctx,
		`SELECT
			(SELECT COALESCE(SUM(units_issued), 0) FROM deposits WHERE status = $1)::TEXT,
			(SELECT COALESCE(SUM(units_burned), 0) FROM withdrawals WHERE status IN ($2, $3))::TEXT`,
		model.DepositApproved, model.WithdrawalApproved, model.WithdrawalPaid).
		Scan(&issuedS, &burnedS)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("unit totals: %w", err)
	}
	return mustDecimal(issuedS), mustDecimal(burnedS), nil
}

func (r pgReader) UnitsByUser(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := r.q.Query(ctx,
		`SELECT user_id, SUM(units)::TEXT FROM (
			SELECT user_id, units_issued AS units FROM deposits WHERE status = $1
			UNION ALL
			SELECT user_id, -units_burned FROM withdrawals WHERE status IN ($2, $3)
		 ) holdings
		 GROUP BY user_id
		 HAVING SUM(units) > 0`,
		model.DepositApproved, model.WithdrawalApproved, model.WithdrawalPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make(map[string]decimal.Decimal)
	for rows.Next() {
		var userID, unitsS string
		if err := rows.Scan(&userID, &unitsS); err != nil {
			return nil, err
		}
		units[userID] = mustDecimal(unitsS)
	}
	return units, rows.Err()
}

// --- Distribution rounds ---

const roundColumns = `id, period_start, period_end, status, snapshot_id,
	bank_balance::TEXT, units_outstanding::TEXT, nav_per_unit::TEXT,
	total_profit::TEXT, performance_fee::TEXT, net_distributed::TEXT,
	executed_by, ledger_entry_id, created_at`

func scanRound(row pgx.Row) (*model.DistributionRound, error) {
	var dr model.DistributionRound
	var bankS, unitsS, navS, profitS, feeS, netS string
	err := row.Scan(&dr.ID, &dr.PeriodStart, &dr.PeriodEnd, &dr.Status, &dr.SnapshotID,
		&bankS, &unitsS, &navS, &profitS, &feeS, &netS,
		&dr.ExecutedBy, &dr.LedgerEntryID, &dr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	dr.BankBalance = mustDecimal(bankS)
	dr.UnitsOutstanding = mustDecimal(unitsS)
	dr.NAVPerUnit = mustDecimal(navS)
	dr.TotalProfit = mustDecimal(profitS)
	dr.PerformanceFee = mustDecimal(feeS)
	dr.NetDistributed = mustDecimal(netS)
	return &dr, nil
}

func (r pgReader) allocationsForRound(ctx context.Context, roundID string) ([]model.DistributionAllocation, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, round_id, user_id, units::TEXT, share_pct::TEXT, amount::TEXT
		 FROM distribution_allocations WHERE round_id = $1 ORDER BY amount DESC, user_id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocs []model.DistributionAllocation
	for rows.Next() {
		var a model.DistributionAllocation
		var unitsS, shareS, amountS string
		if err := rows.Scan(&a.ID, &a.RoundID, &a.UserID, &unitsS, &shareS, &amountS); err != nil {
			return nil, err
		}
		a.Units = mustDecimal(unitsS)
		a.SharePct = mustDecimal(shareS)
		a.Amount = mustDecimal(amountS)
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

func (r pgReader) GetDistributionRound(ctx context.Context, id string) (*model.DistributionRound, error) {
	dr, err := scanRound(r.q.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM distribution_rounds WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	dr.Allocations, err = r.allocationsForRound(ctx, dr.ID)
	if err != nil {
		return nil, err
	}
	return dr, nil
}

func (r pgReader) ListDistributionRounds(ctx context.Context) ([]model.DistributionRound, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+roundColumns+` FROM distribution_rounds ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []model.DistributionRound
	for rows.Next() {
		dr, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *dr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range rounds {
		rounds[i].Allocations, err = r.allocationsForRound(ctx, rounds[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return rounds, nil
}

func (r pgReader) ListAuditRecords(ctx context.Context, resourceType, resourceID string) ([]model.AuditRecord, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, action, resource_type, resource_id, actor, diff, created_at
		 FROM audit_records
		 WHERE resource_type = $1 AND ($2 = '' OR resource_id = $2)
		 ORDER BY created_at, id`, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AuditRecord
	for rows.Next() {
		var a model.AuditRecord
		if err := rows.Scan(&a.ID, &a.Action, &a.ResourceType, &a.ResourceID, &a.Actor, &a.Diff, &a.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, a)
	}
	return records, rows.Err()
}

// --- Mutations (transaction only) ---

func (t *pgTx) InsertAccount(ctx context.Context, a *model.Account) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (id, code, name, type, is_system, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Code, a.Name, a.Type, a.IsSystem, a.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateAccount
	}
	return err
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, description, reference_type, reference_id, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Description, string(e.Reference.Kind), e.Reference.ID, e.CreatedBy, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	for _, l := range e.Lines {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO ledger_lines (id, entry_id, debit_account_id, credit_account_id, amount, user_id, description)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
			l.ID, l.EntryID, l.DebitAccountID, l.CreditAccountID,
			l.Amount.String(), l.UserID, l.Description)
		if err != nil {
			return fmt.Errorf("insert ledger line: %w", err)
		}
	}
	return nil
}

func (t *pgTx) InsertDeposit(ctx context.Context, d *model.Deposit) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO deposits (id, user_id, amount, status, units_issued, nav_at_issue,
			approved_by, ledger_entry_id, created_at, processed_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)`,
		d.ID, d.UserID, d.Amount.String(), d.Status,
		d.UnitsIssued.String(), d.NAVAtIssue.String(),
		d.ApprovedBy, d.LedgerEntryID, d.CreatedAt, d.ProcessedAt)
	return err
}

func (t *pgTx) GetDepositForUpdate(ctx context.Context, id string) (*model.Deposit, error) {
	return scanDeposit(t.tx.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateDeposit(ctx context.Context, d *model.Deposit) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE deposits
		 SET status = $2, units_issued = $3::NUMERIC, nav_at_issue = $4::NUMERIC,
		     approved_by = $5, ledger_entry_id = $6, processed_at = $7
		 WHERE id = $1`,
		d.ID, d.Status, d.UnitsIssued.String(), d.NAVAtIssue.String(),
		d.ApprovedBy, d.LedgerEntryID, d.ProcessedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	reasonsJSON, err := json.Marshal(w.SurgeReasons)
	if err != nil {
		return err
	}
	snapshotJSON, err := json.Marshal(w.SurgeSnapshot)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO withdrawals (id, user_id, amount_requested, fee_fixed_pct, fee_surge_pct,
			fee_fixed_amount, fee_surge_amount, fee_total_amount, amount_payout,
			surge_reasons, surge_snapshot, fee_locked_at, cooldown_until,
			units_burned, nav_at_burn, status, approved_by, ledger_entry_id,
			created_at, processed_at, paid_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC,
			$6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
			$10, $11, $12, $13,
			$14::NUMERIC, $15::NUMERIC, $16, $17, $18, $19, $20, $21)`,
		w.ID, w.UserID, w.AmountRequested.String(), w.FeeFixedPct.String(), w.FeeSurgePct.String(),
		w.FeeFixedAmount.String(), w.FeeSurgeAmount.String(), w.FeeTotalAmount.String(), w.AmountPayout.String(),
		reasonsJSON, snapshotJSON, w.FeeLockedAt, w.CooldownUntil,
		w.UnitsBurned.String(), w.NAVAtBurn.String(), w.Status, w.ApprovedBy, w.LedgerEntryID,
		w.CreatedAt, w.ProcessedAt, w.PaidAt)
	return err
}

func (t *pgTx) GetWithdrawalForUpdate(ctx context.Context, id string) (*model.Withdrawal, error) {
	return scanWithdrawal(t.tx.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE withdrawals
		 SET units_burned = $2::NUMERIC, nav_at_burn = $3::NUMERIC, status = $4,
		     approved_by = $5, ledger_entry_id = $6, processed_at = $7, paid_at = $8
		 WHERE id = $1`,
		w.ID, w.UnitsBurned.String(), w.NAVAtBurn.String(), w.Status,
		w.ApprovedBy, w.LedgerEntryID, w.ProcessedAt, w.PaidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, sport, event, market, selection, odds, stake, potential_win,
			status, result_amount, settled_by, settled_at, ledger_entry_id, version,
			created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
			$9, $10::NUMERIC, $11, $12, $13, $14, $15, $16, $17)`,
		tr.ID, tr.Sport, tr.Event, tr.Market, tr.Selection,
		tr.Odds.String(), tr.Stake.String(), tr.PotentialWin.String(),
		tr.Status, tr.ResultAmount.String(), tr.SettledBy, tr.SettledAt, tr.LedgerEntryID, tr.Version,
		tr.CreatedBy, tr.CreatedAt, tr.UpdatedAt)
	return err
}

func (t *pgTx) GetTradeForUpdate(ctx context.Context, id string) (*model.Trade, error) {
	return scanTrade(t.tx.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1 FOR UPDATE`, id))
}

// UpdateTrade applies an optimistic version check: the row only updates if
// the stored version still matches, and the version is bumped in the same
// statement.
func (t *pgTx) UpdateTrade(ctx context.Context, tr *model.Trade) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE trades
		 SET sport = $3, event = $4, market = $5, selection = $6,
		     odds = $7::NUMERIC, stake = $8::NUMERIC, potential_win = $9::NUMERIC,
		     status = $10, result_amount = $11::NUMERIC, settled_by = $12, settled_at = $13,
		     ledger_entry_id = $14, updated_at = $15, version = version + 1
		 WHERE id = $1 AND version = $2`,
		tr.ID, tr.Version, tr.Sport, tr.Event, tr.Market, tr.Selection,
		tr.Odds.String(), tr.Stake.String(), tr.PotentialWin.String(),
		tr.Status, tr.ResultAmount.String(), tr.SettledBy, tr.SettledAt,
		tr.LedgerEntryID, tr.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	tr.Version++
	return nil
}

func (t *pgTx) InsertSettlementEvent(ctx context.Context, e *model.SettlementEvent) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO settlement_events (id, trade_id, provider_event_id, provider_odds, result, settled_by, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)`,
		e.ID, e.TradeID, e.ProviderEventID, e.ProviderOdds.String(), e.Result, e.SettledBy, e.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateSettlement
	}
	return err
}

func (t *pgTx) InsertSnapshot(ctx context.Context, s *model.Snapshot) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO snapshots (id, bank_balance, units_outstanding, nav_per_unit, investor_count, reason, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)`,
		s.ID, s.BankBalance.String(), s.UnitsOutstanding.String(), s.NAVPerUnit.String(),
		s.InvestorCount, s.Reason, s.CreatedAt)
	return err
}

func (t *pgTx) InsertDistributionRound(ctx context.Context, r *model.DistributionRound) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO distribution_rounds (id, period_start, period_end, status, snapshot_id,
			bank_balance, units_outstanding, nav_per_unit,
			total_profit, performance_fee, net_distributed,
			executed_by, ledger_entry_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
			$9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13, $14)`,
		r.ID, r.PeriodStart, r.PeriodEnd, r.Status, r.SnapshotID,
		r.BankBalance.String(), r.UnitsOutstanding.String(), r.NAVPerUnit.String(),
		r.TotalProfit.String(), r.PerformanceFee.String(), r.NetDistributed.String(),
		r.ExecutedBy, r.LedgerEntryID, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert distribution round: %w", err)
	}
	for _, a := range r.Allocations {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO distribution_allocations (id, round_id, user_id, units, share_pct, amount)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)`,
			a.ID, a.RoundID, a.UserID, a.Units.String(), a.SharePct.String(), a.Amount.String())
		if err != nil {
			return fmt.Errorf("insert distribution allocation: %w", err)
		}
	}
	return nil
}

func (t *pgTx) InsertAuditRecord(ctx context.Context, r *model.AuditRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO audit_records (id, action, resource_type, resource_id, actor, diff, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.Action, r.ResourceType, r.ResourceID, r.Actor, r.Diff, r.CreatedAt)
	return err
}
