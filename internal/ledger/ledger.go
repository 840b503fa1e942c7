// Package ledger implements the double-entry bookkeeping engine: balanced
// multi-line entry posting, balance derivation by line replay, and the
// unit/NAV arithmetic built on top of the account balances.
//
// The engine is the sole writer of ledger rows. Workflows describe the
// postings they need as Line values and hand them to PostEntry inside their
// own transaction; they never touch ledger storage directly.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/model"
	"github.com/PariazaInteligent/fund-engine/internal/store"
)

var (
	// ErrUnbalancedEntry is returned when total debits do not equal total
	// credits across an entry's lines. An unbalanced entry must never
	// reach durable storage.
	ErrUnbalancedEntry = errors.New("ledger: entry debits and credits do not balance")

	// ErrAccountNotFound is returned when a line names an account code
	// missing from the chart of accounts. Seeding problems fail fast.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrInvalidLine is returned for a line with a negative amount, or
	// with both or neither of debit/credit set.
	ErrInvalidLine = errors.New("ledger: line must have a non-negative amount and exactly one side")

	// ErrEmptyEntry is returned when an entry has no lines.
	ErrEmptyEntry = errors.New("ledger: entry has no lines")
)

// Side distinguishes the two halves of a posting.
type Side int

const (
	Debit Side = iota
	Credit
)

// Chart of accounts codes. Seeded at startup as system accounts.
const (
	AccountBank            = "1000" // asset: fund cash
	AccountInvestorEquity  = "3000" // equity: pooled investor claims
	AccountTradingPNL      = "4000" // revenue: realized wager P&L
	AccountWithdrawalFees  = "4100" // revenue: withdrawal fees
	AccountPerformanceFees = "4200" // revenue: distribution performance fees
)

// Line is the caller-facing description of one side of a posting.
// Account is a chart-of-accounts code; UserID tags lines that belong to a
// specific investor's equity sub-ledger.
type Line struct {
	Account     string
	Side        Side
	Amount      decimal.Decimal
	UserID      string
	Description string
}

// SeedAccounts makes sure the fixed chart of accounts exists. Safe to run
// repeatedly; existing accounts are left alone.
func SeedAccounts(ctx context.Context, st store.Store) error {
	seed := []model.Account{
		{Code: AccountBank, Name: "Bank / Cash", Type: model.AccountAsset},
		{Code: AccountInvestorEquity, Name: "Investor Equity", Type: model.AccountEquity},
		{Code: AccountTradingPNL, Name: "Trading P&L", Type: model.AccountRevenue},
		{Code: AccountWithdrawalFees, Name: "Withdrawal Fee Revenue", Type: model.AccountRevenue},
		{Code: AccountPerformanceFees, Name: "Performance Fee Revenue", Type: model.AccountRevenue},
	}
	return st.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, a := range seed {
			if _, err := tx.GetAccountByCode(ctx, a.Code); err == nil {
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			a.ID = uuid.New().String()
			a.IsSystem = true
			a.CreatedAt = time.Now().UTC()
			if err := tx.InsertAccount(ctx, &a); err != nil {
				return err
			}
		}
		return nil
	})
}

// PostEntry validates and persists one balanced entry with all its lines.
// It rejects the whole set with ErrUnbalancedEntry unless total debits
// equal total credits. Committed entries are immutable; corrections are
// compensating entries posted later.
func PostEntry(ctx context.Context, tx store.Tx, description string, ref model.Reference, actor string, lines []Line) (*model.LedgerEntry, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyEntry
	}

	debits, credits := decimal.Zero, decimal.Zero
	entry := &model.LedgerEntry{
		ID:          uuid.New().String(),
		Description: description,
		Reference:   ref,
		CreatedBy:   actor,
		CreatedAt:   time.Now().UTC(),
	}

	for _, l := range lines {
		if l.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: amount %s", ErrInvalidLine, l.Amount)
		}
		acct, err := tx.GetAccountByCode(ctx, l.Account)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: code %s", ErrAccountNotFound, l.Account)
			}
			return nil, err
		}

		line := model.LedgerLine{
			ID:          uuid.New().String(),
			EntryID:     entry.ID,
			Amount:      l.Amount,
			UserID:      l.UserID,
			Description: l.Description,
		}
		switch l.Side {
		case Debit:
			line.DebitAccountID = acct.ID
			debits = debits.Add(l.Amount)
		case Credit:
			line.CreditAccountID = acct.ID
			credits = credits.Add(l.Amount)
		default:
			return nil, ErrInvalidLine
		}
		entry.Lines = append(entry.Lines, line)
	}

	if !debits.Equal(credits) {
		return nil, fmt.Errorf("%w: debits %s, credits %s", ErrUnbalancedEntry, debits, credits)
	}

	if err := tx.InsertLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AccountBalance replays all lines referencing the account and returns the
// signed balance per the account-type sign convention: debits minus credits
// for asset/expense accounts, credits minus debits otherwise.
func AccountBalance(ctx context.Context, r store.Reader, code string) (decimal.Decimal, error) {
	acct, err := r.GetAccountByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%w: code %s", ErrAccountNotFound, code)
		}
		return decimal.Zero, err
	}
	debits, credits, err := r.AccountTotals(ctx, acct.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if acct.Type.DebitNormal() {
		return debits.Sub(credits), nil
	}
	return credits.Sub(debits), nil
}
