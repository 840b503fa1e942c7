// Package deposit implements the investor cash-in workflow: request,
// approve (units issued at approval-time NAV, ledger posting), reject.
package deposit

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
	// ErrAlreadyProcessed is returned when approving or rejecting a
	// deposit that is no longer PENDING.
	ErrAlreadyProcessed = errors.New("deposit: already processed")

	// ErrInvalidAmount is returned for a non-positive deposit amount.
	ErrInvalidAmount = errors.New("deposit: amount must be positive")
)

// Service handles the deposit workflow.
type Service struct {
	store      store.Store
	navInitial decimal.Decimal
	now        func() time.Time
}

// NewService creates a deposit service. Pass nil for now to use the wall
// clock.
func NewService(st store.Store, navInitial decimal.Decimal, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: st, navInitial: navInitial, now: now}
}

// Request records a PENDING deposit. No units are issued and no ledger
// entry is posted until approval.
func (s *Service) Request(ctx context.Context, userID string, amount decimal.Decimal) (*model.Deposit, error) {
	if userID == "" {
		return nil, fmt.Errorf("deposit: user id is required")
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	d := &model.Deposit{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		Status:    model.DepositPending,
		CreatedAt: s.now(),
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertDeposit(ctx, d); err != nil {
			return err
		}
		return audit.Record(ctx, tx, "DEPOSIT_REQUESTED", audit.ResourceDeposit, d.ID, userID, map[string]string{
			"amount": amount.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.DepositsTotal.WithLabelValues("requested").Inc()
	slog.Info("deposit requested", "id", d.ID, "user", userID, "amount", amount.String())
	return d, nil
}

// Approve issues units at the NAV prevailing right now — not at request
// time — freezes unitsIssued/navAtIssue forever, and posts the ledger
// entry (bank debit, investor-equity credit) atomically with the status
// change. Later NAV moves never re-price an approved deposit.
func (s *Service) Approve(ctx context.Context, id, actor string) (*model.Deposit, error) {
	var approved *model.Deposit
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDepositForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != model.DepositPending {
			return fmt.Errorf("%w: deposit %s is %s", ErrAlreadyProcessed, id, d.Status)
		}

		nav, err := ledger.CurrentNAV(ctx, tx, s.navInitial)
		if err != nil {
			return err
		}

		entry, err := ledger.PostEntry(ctx, tx,
			fmt.Sprintf("Deposit approved for user %s", d.UserID),
			model.DepositRef(d.ID), actor,
			[]ledger.Line{
				{Account: ledger.AccountBank, Side: ledger.Debit, Amount: d.Amount, Description: "deposit cash in"},
				{Account: ledger.AccountInvestorEquity, Side: ledger.Credit, Amount: d.Amount, UserID: d.UserID, Description: "units issued"},
			})
		if err != nil {
			return err
		}

		now := s.now()
		d.Status = model.DepositApproved
		d.UnitsIssued = ledger.UnitsFor(d.Amount, nav)
		d.NAVAtIssue = nav
		d.ApprovedBy = actor
		d.LedgerEntryID = entry.ID
		d.ProcessedAt = &now
		if err := tx.UpdateDeposit(ctx, d); err != nil {
			return err
		}

		if err := audit.Record(ctx, tx, "DEPOSIT_APPROVED", audit.ResourceDeposit, d.ID, actor, map[string]string{
			"units_issued": d.UnitsIssued.String(),
			"nav_at_issue": d.NAVAtIssue.String(),
		}); err != nil {
			return err
		}

		approved = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DepositsTotal.WithLabelValues("approved").Inc()
	metrics.LedgerEntriesTotal.WithLabelValues("deposit").Inc()
	slog.Info("deposit approved",
		"id", approved.ID,
		"user", approved.UserID,
		"amount", approved.Amount.String(),
		"units", approved.UnitsIssued.String(),
		"nav", approved.NAVAtIssue.String(),
		"actor", actor,
	)
	return approved, nil
}

// Reject is terminal and has no ledger impact.
func (s *Service) Reject(ctx context.Context, id, actor string) (*model.Deposit, error) {
	var rejected *model.Deposit
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDepositForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != model.DepositPending {
			return fmt.Errorf("%w: deposit %s is %s", ErrAlreadyProcessed, id, d.Status)
		}

		now := s.now()
		d.Status = model.DepositRejected
		d.ProcessedAt = &now
		if err := tx.UpdateDeposit(ctx, d); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, "DEPOSIT_REJECTED", audit.ResourceDeposit, d.ID, actor, nil); err != nil {
			return err
		}
		rejected = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DepositsTotal.WithLabelValues("rejected").Inc()
	slog.Info("deposit rejected", "id", rejected.ID, "actor", actor)
	return rejected, nil
}
