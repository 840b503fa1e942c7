// Package api provides the HTTP surface of the fund engine: deposit,
// withdrawal, trade, and distribution workflows plus the derived read
// endpoints (NAV, balances, ledger, audit).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/deposit"
	"github.com/PariazaInteligent/fund-engine/internal/distribution"
	"github.com/PariazaInteligent/fund-engine/internal/ledger"
	"github.com/PariazaInteligent/fund-engine/internal/metrics"
	"github.com/PariazaInteligent/fund-engine/internal/model"
	"github.com/PariazaInteligent/fund-engine/internal/store"
	"github.com/PariazaInteligent/fund-engine/internal/trade"
	"github.com/PariazaInteligent/fund-engine/internal/withdrawal"
)

// Server wires the workflow services to HTTP routes.
type Server struct {
	store         store.Store
	deposits      *deposit.Service
	withdrawals   *withdrawal.Service
	trades        *trade.Service
	distributions *distribution.Service
	navInitial    decimal.Decimal
	hub           *WSHub // optional; nil disables broadcasts
}

// NewServer creates the API server. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewServer(st store.Store, dep *deposit.Service, wd *withdrawal.Service, tr *trade.Service, dist *distribution.Service, navInitial decimal.Decimal, hub *WSHub) *Server {
	return &Server{
		store:         st,
		deposits:      dep,
		withdrawals:   wd,
		trades:        tr,
		distributions: dist,
		navInitial:    navInitial,
		hub:           hub,
	}
}

// Routes mounts all API endpoints.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/deposits", func(r chi.Router) {
			r.Post("/", s.RequestDeposit)
			r.Get("/", s.ListDeposits)
			r.Get("/{id}", s.GetDeposit)
			r.Post("/{id}/approve", s.ApproveDeposit)
			r.Post("/{id}/reject", s.RejectDeposit)
		})

		r.Route("/withdrawals", func(r chi.Router) {
			r.Post("/", s.RequestWithdrawal)
			r.Get("/", s.ListWithdrawals)
			r.Get("/{id}", s.GetWithdrawal)
			r.Post("/{id}/approve", s.ApproveWithdrawal)
			r.Post("/{id}/reject", s.RejectWithdrawal)
			r.Post("/{id}/pay", s.PayWithdrawal)
		})

		r.Route("/trades", func(r chi.Router) {
			r.Post("/", s.CreateTrade)
			r.Get("/", s.ListTrades)
			r.Get("/{id}", s.GetTrade)
			r.Patch("/{id}", s.UpdateTrade)
			r.Post("/{id}/settle", s.SettleTrade)
		})

		r.Route("/distributions", func(r chi.Router) {
			r.Post("/", s.ExecuteDistribution)
			r.Get("/", s.ListDistributions)
			r.Get("/{id}", s.GetDistribution)
		})

		r.Get("/stats", s.Stats)
		r.Get("/nav", s.NAV)
		r.Get("/accounts", s.ListAccounts)
		r.Get("/accounts/{code}/balance", s.AccountBalance)
		r.Get("/ledger/{refType}/{refID}", s.LedgerByReference)
		r.Get("/audit/{resourceType}", s.AuditTrail)

		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}
	})

	return r
}

// actor identifies the caller from the X-Actor-ID header.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor-ID"); a != "" {
		return a
	}
	return "system"
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, deposit.ErrAlreadyProcessed),
		errors.Is(err, withdrawal.ErrAlreadyProcessed),
		errors.Is(err, withdrawal.ErrCooldownNotElapsed),
		errors.Is(err, trade.ErrAlreadySettled),
		errors.Is(err, distribution.ErrNothingToDistribute),
		errors.Is(err, distribution.ErrNoHolders):
		return http.StatusConflict
	case errors.Is(err, deposit.ErrInvalidAmount),
		errors.Is(err, withdrawal.ErrInvalidAmount),
		errors.Is(err, trade.ErrInvalidTrade),
		errors.Is(err, trade.ErrInvalidResult),
		errors.Is(err, distribution.ErrInvalidPeriod):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Deposits ---

// MoneyRequest is the JSON body for deposit and withdrawal requests.
type MoneyRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// RequestDeposit handles POST /api/v1/deposits.
func (s *Server) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	var req MoneyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	d, err := s.deposits.Request(r.Context(), req.UserID, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// ApproveDeposit handles POST /api/v1/deposits/{id}/approve.
func (s *Server) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	d, err := s.deposits.Approve(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.hub.Broadcast(Event{
		Type:   "deposit_approved",
		ID:     d.ID,
		UserID: d.UserID,
		Amount: d.Amount.String(),
		Units:  d.UnitsIssued.String(),
		NAV:    d.NAVAtIssue.String(),
	})
	writeJSON(w, http.StatusOK, d)
}

// RejectDeposit handles POST /api/v1/deposits/{id}/reject.
func (s *Server) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	d, err := s.deposits.Reject(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetDeposit handles GET /api/v1/deposits/{id}.
func (s *Server) GetDeposit(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDeposit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListDeposits handles GET /api/v1/deposits.
func (s *Server) ListDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := s.store.ListDeposits(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if deposits == nil {
		deposits = []model.Deposit{}
	}
	writeJSON(w, http.StatusOK, deposits)
}

// --- Withdrawals ---

// RequestWithdrawal handles POST /api/v1/withdrawals.
func (s *Server) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req MoneyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	wd, err := s.withdrawals.Request(r.Context(), req.UserID, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wd)
}

// ApproveWithdrawal handles POST /api/v1/withdrawals/{id}/approve.
func (s *Server) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	wd, err := s.withdrawals.Approve(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.hub.Broadcast(Event{
		Type:   "withdrawal_approved",
		ID:     wd.ID,
		UserID: wd.UserID,
		Amount: wd.AmountPayout.String(),
		Units:  wd.UnitsBurned.String(),
		NAV:    wd.NAVAtBurn.String(),
	})
	writeJSON(w, http.StatusOK, wd)
}

// RejectWithdrawal handles POST /api/v1/withdrawals/{id}/reject.
func (s *Server) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	wd, err := s.withdrawals.Reject(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// PayWithdrawal handles POST /api/v1/withdrawals/{id}/pay.
func (s *Server) PayWithdrawal(w http.ResponseWriter, r *http.Request) {
	wd, err := s.withdrawals.MarkPaid(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// GetWithdrawal handles GET /api/v1/withdrawals/{id}.
func (s *Server) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	wd, err := s.store.GetWithdrawal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// ListWithdrawals handles GET /api/v1/withdrawals.
func (s *Server) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := s.store.ListWithdrawals(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if withdrawals == nil {
		withdrawals = []model.Withdrawal{}
	}
	writeJSON(w, http.StatusOK, withdrawals)
}

// --- Trades ---

// TradeRequest is the JSON body for POST /api/v1/trades.
type TradeRequest struct {
	Sport     string          `json:"sport"`
	Event     string          `json:"event"`
	Market    string          `json:"market"`
	Selection string          `json:"selection"`
	Odds      decimal.Decimal `json:"odds"`
	Stake     decimal.Decimal `json:"stake"`
}

// SettleRequest is the JSON body for POST /api/v1/trades/{id}/settle.
type SettleRequest struct {
	Result          string          `json:"result"` // WIN, LOSS, VOID
	ProviderEventID string          `json:"provider_event_id"`
	ProviderOdds    decimal.Decimal `json:"provider_odds"`
}

// CreateTrade handles POST /api/v1/trades.
func (s *Server) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t, err := s.trades.Create(r.Context(), req.Sport, req.Event, req.Market, req.Selection, req.Odds, req.Stake, actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// UpdateTrade handles PATCH /api/v1/trades/{id}.
func (s *Server) UpdateTrade(w http.ResponseWriter, r *http.Request) {
	var patch trade.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t, err := s.trades.Update(r.Context(), chi.URLParam(r, "id"), patch, actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// SettleTrade handles POST /api/v1/trades/{id}/settle.
func (s *Server) SettleTrade(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t, err := s.trades.Settle(r.Context(), chi.URLParam(r, "id"), req.Result, req.ProviderEventID, req.ProviderOdds, actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.hub.Broadcast(Event{
		Type:   "trade_settled",
		ID:     t.ID,
		Result: req.Result,
		Amount: t.ResultAmount.String(),
	})
	writeJSON(w, http.StatusOK, t)
}

// GetTrade handles GET /api/v1/trades/{id}.
func (s *Server) GetTrade(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTrades handles GET /api/v1/trades.
func (s *Server) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ListTrades(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Distributions ---

// DistributionRequest is the JSON body for POST /api/v1/distributions.
type DistributionRequest struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// ExecuteDistribution handles POST /api/v1/distributions.
func (s *Server) ExecuteDistribution(w http.ResponseWriter, r *http.Request) {
	var req DistributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	round, err := s.distributions.Execute(r.Context(), req.PeriodStart, req.PeriodEnd, actor(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.hub.Broadcast(Event{
		Type:   "distribution_executed",
		ID:     round.ID,
		Amount: round.NetDistributed.String(),
		NAV:    round.NAVPerUnit.String(),
	})
	writeJSON(w, http.StatusCreated, round)
}

// GetDistribution handles GET /api/v1/distributions/{id}.
func (s *Server) GetDistribution(w http.ResponseWriter, r *http.Request) {
	round, err := s.store.GetDistributionRound(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// ListDistributions handles GET /api/v1/distributions.
func (s *Server) ListDistributions(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.store.ListDistributionRounds(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if rounds == nil {
		rounds = []model.DistributionRound{}
	}
	writeJSON(w, http.StatusOK, rounds)
}

// --- Derived reads ---

// Stats handles GET /api/v1/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := ledger.Stats(r.Context(), s.store, s.navInitial)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	metrics.NAVPerUnit.Set(stats.NAVPerUnit.InexactFloat64())
	metrics.UnitsOutstanding.Set(stats.UnitsOutstanding.InexactFloat64())
	writeJSON(w, http.StatusOK, stats)
}

// NAV handles GET /api/v1/nav.
func (s *Server) NAV(w http.ResponseWriter, r *http.Request) {
	nav, err := ledger.CurrentNAV(r.Context(), s.store, s.navInitial)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	units, err := ledger.UnitsOutstanding(r.Context(), s.store)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"nav_per_unit":      nav.String(),
		"units_outstanding": units.String(),
	})
}

// ListAccounts handles GET /api/v1/accounts.
func (s *Server) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// AccountBalance handles GET /api/v1/accounts/{code}/balance.
func (s *Server) AccountBalance(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	balance, err := ledger.AccountBalance(r.Context(), s.store, code)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"code":    code,
		"balance": balance.String(),
	})
}

// LedgerByReference handles GET /api/v1/ledger/{refType}/{refID}.
func (s *Server) LedgerByReference(w http.ResponseWriter, r *http.Request) {
	ref := model.Reference{
		Kind: model.ReferenceKind(chi.URLParam(r, "refType")),
		ID:   chi.URLParam(r, "refID"),
	}
	entries, err := s.store.EntriesByReference(r.Context(), ref)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// AuditTrail handles GET /api/v1/audit/{resourceType}?resource_id=<id>.
func (s *Server) AuditTrail(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListAuditRecords(r.Context(),
		chi.URLParam(r, "resourceType"), r.URL.Query().Get("resource_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []model.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
