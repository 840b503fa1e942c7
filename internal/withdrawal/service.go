// Package withdrawal implements the investor cash-out workflow. Fees
// (fixed plus surge) are computed and locked at request time; approval is
// gated by a cooldown and burns units at the NAV current at approval.
package withdrawal

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
	// ErrAlreadyProcessed is returned when a transition is attempted on a
	// withdrawal whose status does not permit it.
	ErrAlreadyProcessed = errors.New("withdrawal: already processed")

	// ErrCooldownNotElapsed is returned when approval is attempted before
	// the cooldown window has passed.
	ErrCooldownNotElapsed = errors.New("withdrawal: cooldown has not elapsed")

	// ErrInvalidAmount is returned when the requested amount is not
	// positive or does not cover the locked fees.
	ErrInvalidAmount = errors.New("withdrawal: invalid amount")
)

// Config carries the withdrawal policy knobs.
type Config struct {
	NAVInitial  decimal.Decimal
	FeeFixedPct decimal.Decimal // flat baseline, e.g. 1.5
	Cooldown    time.Duration   // approval gate, e.g. 24h
	Rules       []Rule          // surge policy; nil means DefaultRules
	RiskFlag    func(ctx context.Context) bool
	Now         func() time.Time
}

// Service handles the withdrawal workflow.
type Service struct {
	store store.Store
	cfg   Config
}

// NewService creates a withdrawal service, filling config defaults.
func NewService(st store.Store, cfg Config) *Service {
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if cfg.RiskFlag == nil {
		cfg.RiskFlag = func(context.Context) bool { return false }
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: st, cfg: cfg}
}

var hundred = decimal.NewFromInt(100)

// Request computes the fee breakdown from the flat baseline plus the surge
// rule set evaluated against a live system snapshot, then locks it: the
// stored fee fields are never recomputed later, whatever the system looks
// like at approval time. The cooldown clock starts now.
func (s *Service) Request(ctx context.Context, userID string, amount decimal.Decimal) (*model.Withdrawal, error) {
	if userID == "" {
		return nil, fmt.Errorf("withdrawal: user id is required")
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	var w *model.Withdrawal
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		pendingCount, err := tx.CountPendingWithdrawals(ctx)
		if err != nil {
			return err
		}
		pendingPayout, err := tx.PendingWithdrawalPayout(ctx)
		if err != nil {
			return err
		}
		bank, err := ledger.AccountBalance(ctx, tx, ledger.AccountBank)
		if err != nil {
			return err
		}

		now := s.cfg.Now()
		snap := model.SurgeSnapshot{
			PendingWithdrawals: pendingCount,
			PendingPayout:      pendingPayout,
			BankBalance:        bank,
			RiskFlagActive:     s.cfg.RiskFlag(ctx),
			TakenAt:            now,
		}
		surgePct, reasons := EvaluateSurge(s.cfg.Rules, snap)

		feeFixed := amount.Mul(s.cfg.FeeFixedPct).Div(hundred).Round(ledger.MoneyScale)
		feeSurge := amount.Mul(surgePct).Div(hundred).Round(ledger.MoneyScale)
		feeTotal := feeFixed.Add(feeSurge)
		payout := amount.Sub(feeTotal)
		if !payout.IsPositive() {
			return fmt.Errorf("%w: fees %s exceed amount %s", ErrInvalidAmount, feeTotal, amount)
		}

		w = &model.Withdrawal{
			ID:              uuid.New().String(),
			UserID:          userID,
			AmountRequested: amount,
			FeeFixedPct:     s.cfg.FeeFixedPct,
			FeeSurgePct:     surgePct,
			FeeFixedAmount:  feeFixed,
			FeeSurgeAmount:  feeSurge,
			FeeTotalAmount:  feeTotal,
			AmountPayout:    payout,
			SurgeReasons:    reasons,
			SurgeSnapshot:   snap,
			FeeLockedAt:     now,
			CooldownUntil:   now.Add(s.cfg.Cooldown),
			Status:          model.WithdrawalPending,
			CreatedAt:       now,
		}
		if err := tx.InsertWithdrawal(ctx, w); err != nil {
			return err
		}
		return audit.Record(ctx, tx, "WITHDRAWAL_REQUESTED", audit.ResourceWithdrawal, w.ID, userID, map[string]any{
			"amount":        amount.String(),
			"fee_total":     feeTotal.String(),
			"surge_pct":     surgePct.String(),
			"surge_reasons": reasons,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("requested").Inc()
	for _, reason := range w.SurgeReasons {
		metrics.SurgeFeeApplications.WithLabelValues(reason).Inc()
	}
	slog.Info("withdrawal requested",
		"id", w.ID,
		"user", userID,
		"amount", amount.String(),
		"fee_total", w.FeeTotalAmount.String(),
		"surge_pct", w.FeeSurgePct.String(),
		"cooldown_until", w.CooldownUntil,
	)
	return w, nil
}

// Approve burns units at the NAV current right now — deliberately re-read,
// not the request-time NAV. The asymmetry with fee locking (fees frozen at
// request, burn NAV floating until approval) protects the fee quote while
// letting the unit price track the fund; it mirrors the original policy
// and must not be "fixed" to request-time NAV. The locked fee fields are
// read back as stored, never recomputed.
func (s *Service) Approve(ctx context.Context, id, actor string) (*model.Withdrawal, error) {
	var approved *model.Withdrawal
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != model.WithdrawalPending {
			return fmt.Errorf("%w: withdrawal %s is %s", ErrAlreadyProcessed, id, w.Status)
		}
		now := s.cfg.Now()
		if now.Before(w.CooldownUntil) {
			return fmt.Errorf("%w: until %s", ErrCooldownNotElapsed, w.CooldownUntil.Format(time.RFC3339))
		}

		nav, err := ledger.CurrentNAV(ctx, tx, s.cfg.NAVInitial)
		if err != nil {
			return err
		}

		entry, err := ledger.PostEntry(ctx, tx,
			fmt.Sprintf("Withdrawal approved for user %s", w.UserID),
			model.WithdrawalRef(w.ID), actor,
			[]ledger.Line{
				{Account: ledger.AccountInvestorEquity, Side: ledger.Debit, Amount: w.AmountPayout, UserID: w.UserID, Description: "withdrawal payout"},
				{Account: ledger.AccountBank, Side: ledger.Credit, Amount: w.AmountPayout, Description: "withdrawal cash out"},
				{Account: ledger.AccountInvestorEquity, Side: ledger.Debit, Amount: w.FeeTotalAmount, UserID: w.UserID, Description: "withdrawal fee"},
				{Account: ledger.AccountWithdrawalFees, Side: ledger.Credit, Amount: w.FeeTotalAmount, Description: "withdrawal fee revenue"},
			})
		if err != nil {
			return err
		}

		w.Status = model.WithdrawalApproved
		w.UnitsBurned = ledger.UnitsFor(w.AmountRequested, nav)
		w.NAVAtBurn = nav
		w.ApprovedBy = actor
		w.LedgerEntryID = entry.ID
		w.ProcessedAt = &now
		if err := tx.UpdateWithdrawal(ctx, w); err != nil {
			return err
		}

		if err := audit.Record(ctx, tx, "WITHDRAWAL_APPROVED", audit.ResourceWithdrawal, w.ID, actor, map[string]string{
			"units_burned": w.UnitsBurned.String(),
			"nav_at_burn":  w.NAVAtBurn.String(),
		}); err != nil {
			return err
		}
		approved = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("approved").Inc()
	metrics.LedgerEntriesTotal.WithLabelValues("withdrawal").Inc()
	slog.Info("withdrawal approved",
		"id", approved.ID,
		"user", approved.UserID,
		"payout", approved.AmountPayout.String(),
		"units_burned", approved.UnitsBurned.String(),
		"nav", approved.NAVAtBurn.String(),
		"actor", actor,
	)
	return approved, nil
}

// MarkPaid records that the payout left the building. APPROVED only.
func (s *Service) MarkPaid(ctx context.Context, id, actor string) (*model.Withdrawal, error) {
	var paid *model.Withdrawal
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != model.WithdrawalApproved {
			return fmt.Errorf("%w: withdrawal %s is %s", ErrAlreadyProcessed, id, w.Status)
		}
		now := s.cfg.Now()
		w.Status = model.WithdrawalPaid
		w.PaidAt = &now
		if err := tx.UpdateWithdrawal(ctx, w); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, "WITHDRAWAL_PAID", audit.ResourceWithdrawal, w.ID, actor, nil); err != nil {
			return err
		}
		paid = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("paid").Inc()
	slog.Info("withdrawal paid", "id", paid.ID, "actor", actor)
	return paid, nil
}

// Reject terminates a withdrawal at any point before PAID. Rejecting an
// already-approved withdrawal posts a compensating entry reversing the
// approval posting — the original entry is never edited.
func (s *Service) Reject(ctx context.Context, id, actor string) (*model.Withdrawal, error) {
	var rejected *model.Withdrawal
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != model.WithdrawalPending && w.Status != model.WithdrawalApproved {
			return fmt.Errorf("%w: withdrawal %s is %s", ErrAlreadyProcessed, id, w.Status)
		}

		if w.Status == model.WithdrawalApproved {
			if _, err := ledger.PostEntry(ctx, tx,
				fmt.Sprintf("Withdrawal %s rejected after approval, reversing posting", w.ID),
				model.WithdrawalRef(w.ID), actor,
				[]ledger.Line{
					{Account: ledger.AccountBank, Side: ledger.Debit, Amount: w.AmountPayout, Description: "withdrawal reversal"},
					{Account: ledger.AccountInvestorEquity, Side: ledger.Credit, Amount: w.AmountPayout, UserID: w.UserID, Description: "payout reversed"},
					{Account: ledger.AccountWithdrawalFees, Side: ledger.Debit, Amount: w.FeeTotalAmount, Description: "fee reversal"},
					{Account: ledger.AccountInvestorEquity, Side: ledger.Credit, Amount: w.FeeTotalAmount, UserID: w.UserID, Description: "fee reversed"},
				}); err != nil {
				return err
			}
		}

		now := s.cfg.Now()
		w.Status = model.WithdrawalRejected
		w.ProcessedAt = &now
		if err := tx.UpdateWithdrawal(ctx, w); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, "WITHDRAWAL_REJECTED", audit.ResourceWithdrawal, w.ID, actor, nil); err != nil {
			return err
		}
		rejected = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("rejected").Inc()
	slog.Info("withdrawal rejected", "id", rejected.ID, "actor", actor)
	return rejected, nil
}
