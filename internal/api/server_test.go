package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PariazaInteligent/fund-engine/internal/api"
	"github.com/PariazaInteligent/fund-engine/internal/deposit"
	"github.com/PariazaInteligent/fund-engine/internal/distribution"
	"github.com/PariazaInteligent/fund-engine/internal/ledger"
	"github.com/PariazaInteligent/fund-engine/internal/model"
	"github.com/PariazaInteligent/fund-engine/internal/store"
	"github.com/PariazaInteligent/fund-engine/internal/trade"
	"github.com/PariazaInteligent/fund-engine/internal/withdrawal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestServer wires the full stack over a MemoryStore. The withdrawal
// cooldown is zero so approval flows can run inside a single test.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ms := store.NewMemoryStore()
	if err := ledger.SeedAccounts(context.Background(), ms); err != nil {
		t.Fatalf("seed accounts: %v", err)
	}

	navInitial := d(1)
	srv := api.NewServer(ms,
		deposit.NewService(ms, navInitial, nil),
		withdrawal.NewService(ms, withdrawal.Config{
			NAVInitial:  navInitial,
			FeeFixedPct: d(1.5),
			Cooldown:    0,
		}),
		trade.NewService(ms, nil),
		distribution.NewService(ms, navInitial, d(0.20), nil),
		navInitial, nil)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "admin-7")

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]string
	if code := do(t, ts, http.MethodGet, "/health", nil, &body); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestDepositFlow(t *testing.T) {
	ts := newTestServer(t)

	var dep model.Deposit
	code := do(t, ts, http.MethodPost, "/api/v1/deposits", api.MoneyRequest{UserID: "user1", Amount: d(5000)}, &dep)
	if code != http.StatusCreated {
		t.Fatalf("request: expected 201, got %d", code)
	}
	if dep.Status != model.DepositPending {
		t.Errorf("expected PENDING, got %s", dep.Status)
	}

	var approved model.Deposit
	if code := do(t, ts, http.MethodPost, "/api/v1/deposits/"+dep.ID+"/approve", nil, &approved); code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d", code)
	}
	if !approved.UnitsIssued.Equal(d(5000)) {
		t.Errorf("units issued: expected 5000, got %s", approved.UnitsIssued)
	}
	if approved.ApprovedBy != "admin-7" {
		t.Errorf("actor header not propagated, got %q", approved.ApprovedBy)
	}

	// Approving again conflicts.
	if code := do(t, ts, http.MethodPost, "/api/v1/deposits/"+dep.ID+"/approve", nil, nil); code != http.StatusConflict {
		t.Errorf("double approve: expected 409, got %d", code)
	}

	var fetched model.Deposit
	if code := do(t, ts, http.MethodGet, "/api/v1/deposits/"+dep.ID, nil, &fetched); code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", code)
	}
	if fetched.Status != model.DepositApproved {
		t.Errorf("expected APPROVED, got %s", fetched.Status)
	}

	var nav map[string]string
	if code := do(t, ts, http.MethodGet, "/api/v1/nav", nil, &nav); code != http.StatusOK {
		t.Fatalf("nav: expected 200, got %d", code)
	}
	if nav["nav_per_unit"] != "1" {
		t.Errorf("nav per unit: expected 1, got %s", nav["nav_per_unit"])
	}
	if nav["units_outstanding"] != "5000" {
		t.Errorf("units outstanding: expected 5000, got %s", nav["units_outstanding"])
	}
}

func TestDeposit_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	// Malformed body.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/deposits", bytes.NewBufferString("{not json"))
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", resp.StatusCode)
	}

	// Invalid amount.
	if code := do(t, ts, http.MethodPost, "/api/v1/deposits", api.MoneyRequest{UserID: "user1", Amount: d(-5)}, nil); code != http.StatusBadRequest {
		t.Errorf("negative amount: expected 400, got %d", code)
	}

	// Unknown id.
	if code := do(t, ts, http.MethodGet, "/api/v1/deposits/missing", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", code)
	}
}

func TestWithdrawalFlow(t *testing.T) {
	ts := newTestServer(t)

	var dep model.Deposit
	do(t, ts, http.MethodPost, "/api/v1/deposits", api.MoneyRequest{UserID: "user1", Amount: d(10000)}, &dep)
	do(t, ts, http.MethodPost, "/api/v1/deposits/"+dep.ID+"/approve", nil, nil)

	var wd model.Withdrawal
	code := do(t, ts, http.MethodPost, "/api/v1/withdrawals", api.MoneyRequest{UserID: "user1", Amount: d(100)}, &wd)
	if code != http.StatusCreated {
		t.Fatalf("request: expected 201, got %d", code)
	}
	if !wd.AmountPayout.Equal(d(98.50)) {
		t.Errorf("payout: expected 98.50, got %s", wd.AmountPayout)
	}

	var approved model.Withdrawal
	if code := do(t, ts, http.MethodPost, "/api/v1/withdrawals/"+wd.ID+"/approve", nil, &approved); code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d", code)
	}
	if approved.Status != model.WithdrawalApproved {
		t.Errorf("expected APPROVED, got %s", approved.Status)
	}

	var paid model.Withdrawal
	if code := do(t, ts, http.MethodPost, "/api/v1/withdrawals/"+wd.ID+"/pay", nil, &paid); code != http.StatusOK {
		t.Fatalf("pay: expected 200, got %d", code)
	}
	if paid.Status != model.WithdrawalPaid {
		t.Errorf("expected PAID, got %s", paid.Status)
	}

	// Terminal status: further transitions conflict.
	if code := do(t, ts, http.MethodPost, "/api/v1/withdrawals/"+wd.ID+"/reject", nil, nil); code != http.StatusConflict {
		t.Errorf("reject after paid: expected 409, got %d", code)
	}
}

func TestTradeFlow(t *testing.T) {
	ts := newTestServer(t)

	var tr model.Trade
	code := do(t, ts, http.MethodPost, "/api/v1/trades", api.TradeRequest{
		Sport: "football", Event: "Derby", Market: "1X2", Selection: "home",
		Odds: d(2.5), Stake: d(100),
	}, &tr)
	if code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", code)
	}
	if !tr.PotentialWin.Equal(d(150)) {
		t.Errorf("potential win: expected 150, got %s", tr.PotentialWin)
	}

	var settled model.Trade
	if code := do(t, ts, http.MethodPost, "/api/v1/trades/"+tr.ID+"/settle", api.SettleRequest{
		Result: model.ResultWin, ProviderEventID: "prov-1", ProviderOdds: d(2.5),
	}, &settled); code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d", code)
	}
	if settled.Status != model.TradeSettledWin {
		t.Errorf("expected SETTLED_WIN, got %s", settled.Status)
	}

	// Settling again conflicts; a bad result is rejected outright.
	if code := do(t, ts, http.MethodPost, "/api/v1/trades/"+tr.ID+"/settle", api.SettleRequest{
		Result: model.ResultLoss,
	}, nil); code != http.StatusConflict {
		t.Errorf("double settle: expected 409, got %d", code)
	}
	if code := do(t, ts, http.MethodPost, "/api/v1/trades/"+tr.ID+"/settle", api.SettleRequest{
		Result: "PUSH",
	}, nil); code != http.StatusBadRequest {
		t.Errorf("bad result: expected 400, got %d", code)
	}

	// The settlement entry is visible through the ledger endpoint.
	var entries []model.LedgerEntry
	if code := do(t, ts, http.MethodGet, "/api/v1/ledger/trade/"+tr.ID, nil, &entries); code != http.StatusOK {
		t.Fatalf("ledger: expected 200, got %d", code)
	}
	if len(entries) != 1 {
		t.Errorf("expected one ledger entry, got %d", len(entries))
	}
}

func TestDistributionFlow(t *testing.T) {
	ts := newTestServer(t)

	var dep model.Deposit
	do(t, ts, http.MethodPost, "/api/v1/deposits", api.MoneyRequest{UserID: "user1", Amount: d(5000)}, &dep)
	do(t, ts, http.MethodPost, "/api/v1/deposits/"+dep.ID+"/approve", nil, nil)

	var tr model.Trade
	do(t, ts, http.MethodPost, "/api/v1/trades", api.TradeRequest{
		Sport: "football", Event: "Derby", Market: "1X2", Selection: "home",
		Odds: d(3), Stake: d(500),
	}, &tr)
	do(t, ts, http.MethodPost, "/api/v1/trades/"+tr.ID+"/settle", api.SettleRequest{Result: model.ResultWin}, nil)

	var round model.DistributionRound
	code := do(t, ts, http.MethodPost, "/api/v1/distributions", api.DistributionRequest{
		PeriodStart: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}, &round)
	if code != http.StatusCreated {
		t.Fatalf("execute: expected 201, got %d", code)
	}
	if !round.TotalProfit.Equal(d(1000)) {
		t.Errorf("total profit: expected 1000, got %s", round.TotalProfit)
	}
	if !round.PerformanceFee.Equal(d(200)) {
		t.Errorf("performance fee: expected 200, got %s", round.PerformanceFee)
	}

	// A second immediate round finds nothing to distribute.
	if code := do(t, ts, http.MethodPost, "/api/v1/distributions", api.DistributionRequest{
		PeriodStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}, nil); code != http.StatusConflict {
		t.Errorf("empty round: expected 409, got %d", code)
	}

	var stats model.FundStats
	if code := do(t, ts, http.MethodGet, "/api/v1/stats", nil, &stats); code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", code)
	}
	if stats.InvestorCount != 1 {
		t.Errorf("investor count: expected 1, got %d", stats.InvestorCount)
	}
	// 5000 deposited + 800 net profit over 5000 units.
	if !stats.NAVPerUnit.Equal(d(1.16)) {
		t.Errorf("nav per unit: expected 1.16, got %s", stats.NAVPerUnit)
	}
}

func TestAccountEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var dep model.Deposit
	do(t, ts, http.MethodPost, "/api/v1/deposits", api.MoneyRequest{UserID: "user1", Amount: d(2500)}, &dep)
	do(t, ts, http.MethodPost, "/api/v1/deposits/"+dep.ID+"/approve", nil, nil)

	var accounts []model.Account
	if code := do(t, ts, http.MethodGet, "/api/v1/accounts", nil, &accounts); code != http.StatusOK {
		t.Fatalf("accounts: expected 200, got %d", code)
	}
	if len(accounts) != 5 {
		t.Errorf("expected the 5 system accounts, got %d", len(accounts))
	}

	var balance map[string]string
	if code := do(t, ts, http.MethodGet, "/api/v1/accounts/"+ledger.AccountBank+"/balance", nil, &balance); code != http.StatusOK {
		t.Fatalf("balance: expected 200, got %d", code)
	}
	if balance["balance"] != "2500" {
		t.Errorf("bank balance: expected 2500, got %s", balance["balance"])
	}

	if code := do(t, ts, http.MethodGet, "/api/v1/accounts/9999/balance", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown account: expected 404, got %d", code)
	}
}

func TestAuditTrail(t *testing.T) {
	ts := newTestServer(t)

	var dep model.Deposit
	do(t, ts, http.MethodPost, "/api/v1/deposits", api.MoneyRequest{UserID: "user1", Amount: d(100)}, &dep)
	do(t, ts, http.MethodPost, "/api/v1/deposits/"+dep.ID+"/approve", nil, nil)

	var records []model.AuditRecord
	if code := do(t, ts, http.MethodGet, "/api/v1/audit/deposit?resource_id="+dep.ID, nil, &records); code != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d", code)
	}
	if len(records) != 2 {
		t.Fatalf("expected request + approve records, got %d", len(records))
	}
	if records[0].Action != "DEPOSIT_REQUESTED" || records[1].Action != "DEPOSIT_APPROVED" {
		t.Errorf("unexpected actions: %s, %s", records[0].Action, records[1].Action)
	}
}
