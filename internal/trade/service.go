// Package trade implements the wager lifecycle: create and update while
// pending, then settle exactly once as win, loss, or void. Settlement
// posts the P&L ledger entry and is guarded against double execution both
// by the trade status and by the unique settlement-event constraint.
package trade

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
	// ErrAlreadySettled is returned when settling or updating a trade that
	// is no longer PENDING. A second settlement attempt is rejected, never
	// silently accepted; the concurrent loser of a settlement race gets
	// this error too.
	ErrAlreadySettled = errors.New("trade: already settled")

	// ErrInvalidTrade is returned for bad odds or stake.
	ErrInvalidTrade = errors.New("trade: odds must exceed 1 and stake must be positive")

	// ErrInvalidResult is returned for a settlement result outside
	// WIN/LOSS/VOID.
	ErrInvalidResult = errors.New("trade: result must be WIN, LOSS or VOID")
)

// Service handles the trade lifecycle.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a trade service. Pass nil for now to use the wall
// clock.
func NewService(st store.Store, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: st, now: now}
}

var one = decimal.NewFromInt(1)

// Patch carries optional field updates for a pending trade.
type Patch struct {
	Sport     *string          `json:"sport,omitempty"`
	Event     *string          `json:"event,omitempty"`
	Market    *string          `json:"market,omitempty"`
	Selection *string          `json:"selection,omitempty"`
	Odds      *decimal.Decimal `json:"odds,omitempty"`
	Stake     *decimal.Decimal `json:"stake,omitempty"`
}

// Create records a new PENDING trade with potentialWin = stake × (odds−1).
func (s *Service) Create(ctx context.Context, sport, event, market, selection string, odds, stake decimal.Decimal, actor string) (*model.Trade, error) {
	if odds.LessThanOrEqual(one) || !stake.IsPositive() {
		return nil, fmt.Errorf("%w: odds %s, stake %s", ErrInvalidTrade, odds, stake)
	}

	now := s.now()
	tr := &model.Trade{
		ID:           uuid.New().String(),
		Sport:        sport,
		Event:        event,
		Market:       market,
		Selection:    selection,
		Odds:         odds,
		Stake:        stake,
		PotentialWin: stake.Mul(odds.Sub(one)),
		Status:       model.TradePending,
		CreatedBy:    actor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertTrade(ctx, tr); err != nil {
			return err
		}
		return audit.Record(ctx, tx, "TRADE_CREATED", audit.ResourceTrade, tr.ID, actor, map[string]string{
			"odds":          odds.String(),
			"stake":         stake.String(),
			"potential_win": tr.PotentialWin.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	slog.Info("trade created",
		"id", tr.ID,
		"sport", sport,
		"event", event,
		"odds", odds.String(),
		"stake", stake.String(),
		"actor", actor,
	)
	return tr, nil
}

// Update patches a pending trade, recomputing potentialWin when odds or
// stake change. Settled trades are immutable.
func (s *Service) Update(ctx context.Context, id string, patch Patch, actor string) (*model.Trade, error) {
	var updated *model.Trade
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tr, err := tx.GetTradeForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != model.TradePending {
			return fmt.Errorf("%w: trade %s is %s", ErrAlreadySettled, id, tr.Status)
		}

		if patch.Sport != nil {
			tr.Sport = *patch.Sport
		}
		if patch.Event != nil {
			tr.Event = *patch.Event
		}
		if patch.Market != nil {
			tr.Market = *patch.Market
		}
		if patch.Selection != nil {
			tr.Selection = *patch.Selection
		}
		if patch.Odds != nil {
			tr.Odds = *patch.Odds
		}
		if patch.Stake != nil {
			tr.Stake = *patch.Stake
		}
		if tr.Odds.LessThanOrEqual(one) || !tr.Stake.IsPositive() {
			return fmt.Errorf("%w: odds %s, stake %s", ErrInvalidTrade, tr.Odds, tr.Stake)
		}
		if patch.Odds != nil || patch.Stake != nil {
			tr.PotentialWin = tr.Stake.Mul(tr.Odds.Sub(one))
		}
		tr.UpdatedAt = s.now()

		if err := tx.UpdateTrade(ctx, tr); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return fmt.Errorf("%w: trade %s", ErrAlreadySettled, id)
			}
			return err
		}
		if err := audit.Record(ctx, tx, "TRADE_UPDATED", audit.ResourceTrade, tr.ID, actor, patch); err != nil {
			return err
		}
		updated = tr
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("trade updated", "id", updated.ID, "actor", actor)
	return updated, nil
}

// Settle finalizes a trade exactly once. It writes one settlement event
// (unique per trade), fixes resultAmount, and for win/loss posts exactly
// one ledger entry moving money between the bank and trading P&L. Void
// settles with no ledger impact. The trade-row update and the posting
// succeed or fail together.
func (s *Service) Settle(ctx context.Context, id, result, providerEventID string, providerOdds decimal.Decimal, actor string) (*model.Trade, error) {
	if result != model.ResultWin && result != model.ResultLoss && result != model.ResultVoid {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResult, result)
	}

	var settled *model.Trade
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tr, err := tx.GetTradeForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != model.TradePending {
			return fmt.Errorf("%w: trade %s is %s", ErrAlreadySettled, id, tr.Status)
		}

		now := s.now()
		event := &model.SettlementEvent{
			ID:              uuid.New().String(),
			TradeID:         tr.ID,
			ProviderEventID: providerEventID,
			ProviderOdds:    providerOdds,
			Result:          result,
			SettledBy:       actor,
			CreatedAt:       now,
		}
		if err := tx.InsertSettlementEvent(ctx, event); err != nil {
			if errors.Is(err, store.ErrDuplicateSettlement) {
				return fmt.Errorf("%w: trade %s", ErrAlreadySettled, id)
			}
			return err
		}

		switch result {
		case model.ResultWin:
			tr.Status = model.TradeSettledWin
			tr.ResultAmount = tr.PotentialWin
			entry, err := ledger.PostEntry(ctx, tx,
				fmt.Sprintf("Trade won: %s / %s", tr.Event, tr.Selection),
				model.TradeRef(tr.ID), actor,
				[]ledger.Line{
					{Account: ledger.AccountBank, Side: ledger.Debit, Amount: tr.PotentialWin, Description: "winnings collected"},
					{Account: ledger.AccountTradingPNL, Side: ledger.Credit, Amount: tr.PotentialWin, Description: "trading profit"},
				})
			if err != nil {
				return err
			}
			tr.LedgerEntryID = entry.ID
		case model.ResultLoss:
			tr.Status = model.TradeSettledLoss
			tr.ResultAmount = tr.Stake.Neg()
			entry, err := ledger.PostEntry(ctx, tx,
				fmt.Sprintf("Trade lost: %s / %s", tr.Event, tr.Selection),
				model.TradeRef(tr.ID), actor,
				[]ledger.Line{
					{Account: ledger.AccountTradingPNL, Side: ledger.Debit, Amount: tr.Stake, Description: "trading loss"},
					{Account: ledger.AccountBank, Side: ledger.Credit, Amount: tr.Stake, Description: "stake paid out"},
				})
			if err != nil {
				return err
			}
			tr.LedgerEntryID = entry.ID
		case model.ResultVoid:
			// Void returns the stake; no money moved, no ledger entry.
			tr.Status = model.TradeSettledVoid
			tr.ResultAmount = decimal.Zero
		}

		tr.SettledBy = actor
		tr.SettledAt = &now
		tr.UpdatedAt = now
		if err := tx.UpdateTrade(ctx, tr); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return fmt.Errorf("%w: trade %s", ErrAlreadySettled, id)
			}
			return err
		}

		if err := audit.Record(ctx, tx, "TRADE_SETTLED", audit.ResourceTrade, tr.ID, actor, map[string]string{
			"result":        result,
			"result_amount": tr.ResultAmount.String(),
			"provider":      providerEventID,
		}); err != nil {
			return err
		}
		settled = tr
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			metrics.SettlementConflicts.Inc()
		}
		return nil, err
	}

	metrics.TradesSettled.WithLabelValues(result).Inc()
	if settled.LedgerEntryID != "" {
		metrics.LedgerEntriesTotal.WithLabelValues("trade").Inc()
	}
	slog.Info("trade settled",
		"id", settled.ID,
		"result", result,
		"result_amount", settled.ResultAmount.String(),
		"actor", actor,
	)
	return settled, nil
}
