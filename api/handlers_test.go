/*
handlers_test.go - HTTP-level tests for the brokerage API

Drives the full router with httptest, backed by the in-memory store, so
routing, status mapping, and JSON shapes are all exercised together.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/brokerage/account"
	"github.com/papertrade/brokerage/ledger"
	"github.com/papertrade/brokerage/ledger/store"
	"github.com/papertrade/brokerage/logger"
	"github.com/papertrade/brokerage/oracle"
	"github.com/papertrade/brokerage/portfolio"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mem := store.NewMemory()
	log := logger.NewNop()
	accounts := account.NewService(mem, log)
	queries := portfolio.NewService(mem, oracle.NewFixed(decimal.NewFromInt(100)))
	handler := NewHandler(accounts, queries, mem, log)

	srv := httptest.NewServer(NewRouter(handler, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// =============================================================================
// ORDER ENDPOINT TESTS
// =============================================================================

func TestBuyEndpoint_Success(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/orders/buy",
		`{"symbol":"aapl","shares":10,"price":150}`)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(8500), body["new_balance"])
	assert.Equal(t, float64(8500), body["new_buying_power"])

	tx := body["transaction"].(map[string]any)
	assert.Equal(t, "BUY", tx["type"])
	assert.Equal(t, "AAPL", tx["symbol"])
	assert.Equal(t, "completed", tx["status"])
	assert.NotEmpty(t, tx["id"])
}

func TestBuyEndpoint_InsufficientBuyingPower(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/orders/buy",
		`{"symbol":"AAPL","shares":1000,"price":500}`)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, float64(500000), body["required"])
	assert.Equal(t, float64(10000), body["available"])
	assert.NotEmpty(t, body["error"])
}

func TestBuyEndpoint_Validation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"zero shares", `{"symbol":"AAPL","shares":0,"price":100}`},
		{"negative price", `{"symbol":"AAPL","shares":1,"price":-1}`},
		{"missing symbol", `{"shares":1,"price":100}`},
		{"malformed json", `{"symbol":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := postJSON(t, srv.URL+"/api/orders/buy", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestSellEndpoint_RealizedFigures(t *testing.T) {
	srv := newTestServer(t)

	_, _ = postJSON(t, srv.URL+"/api/orders/buy",
		`{"symbol":"AAPL","shares":20,"price":110}`)

	resp, body := postJSON(t, srv.URL+"/api/orders/sell",
		`{"symbol":"AAPL","shares":10,"price":130}`)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1300), body["proceeds"])
	assert.Equal(t, float64(1100), body["cost_basis"])
	assert.Equal(t, float64(200), body["profit_loss"])
	assert.Equal(t, float64(10), body["remaining_shares"])
}

func TestSellEndpoint_NoPosition(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/api/orders/sell",
		`{"symbol":"TSLA","shares":1,"price":100}`)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSellEndpoint_InsufficientShares(t *testing.T) {
	srv := newTestServer(t)

	_, _ = postJSON(t, srv.URL+"/api/orders/buy",
		`{"symbol":"AAPL","shares":5,"price":100}`)

	resp, body := postJSON(t, srv.URL+"/api/orders/sell",
		`{"symbol":"AAPL","shares":10,"price":100}`)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, float64(10), body["requested"])
	assert.Equal(t, float64(5), body["available"])
}

// =============================================================================
// WALLET ENDPOINT TESTS
// =============================================================================

func TestWalletEndpoint_SeededOnFirstRead(t *testing.T) {
	srv := newTestServer(t)

	resp, body := getJSON(t, srv.URL+"/api/wallet")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(10000), body["balance"])
	assert.Equal(t, float64(10000), body["buying_power"])
}

func TestDepositEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/wallet/deposits", `{"amount":500}`)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(10000), body["previous_balance"])
	assert.Equal(t, float64(10500), body["new_balance"])
}

func TestWithdrawEndpoint_ExceedsBalance(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/wallet/withdrawals", `{"amount":20000}`)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, float64(20000), body["requested"])
	assert.Equal(t, float64(10000), body["available"])
}

func TestWithdrawEndpoint_NonPositiveAmount(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/api/wallet/withdrawals", `{"amount":-5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// PORTFOLIO ENDPOINT TESTS
// =============================================================================

func TestPositionsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, _ = postJSON(t, srv.URL+"/api/orders/buy",
		`{"symbol":"AAPL","shares":10,"price":150}`)

	resp, err := http.Get(srv.URL + "/api/positions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var positions []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&positions))
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0]["symbol"])
	assert.Equal(t, float64(10), positions[0]["shares"])
	assert.Equal(t, float64(150), positions[0]["avg_cost"])
}

func TestSummaryEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// Fixed oracle quotes 100 for everything.
	_, _ = postJSON(t, srv.URL+"/api/orders/buy",
		`{"symbol":"AAPL","shares":10,"price":90}`)

	resp, body := getJSON(t, srv.URL+"/api/portfolio/summary")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	// 10000 - 900 cash + 10*100 market value
	assert.Equal(t, float64(10100), body["account_value"])
	assert.NotNil(t, body["positions"])
	assert.NotNil(t, body["performance"])
}

func TestSummaryEndpoint_SectionsDisabled(t *testing.T) {
	srv := newTestServer(t)

	_, _ = postJSON(t, srv.URL+"/api/orders/buy",
		`{"symbol":"AAPL","shares":1,"price":100}`)

	_, body := getJSON(t,
		srv.URL+"/api/portfolio/summary?include_positions=false&include_performance=false")

	assert.Nil(t, body["positions"])
	assert.Nil(t, body["performance"])
}

func TestTransactionsEndpoint_FilterAndOrder(t *testing.T) {
	srv := newTestServer(t)

	_, _ = postJSON(t, srv.URL+"/api/wallet/deposits", `{"amount":1}`)
	_, _ = postJSON(t, srv.URL+"/api/wallet/deposits", `{"amount":2}`)
	_, _ = postJSON(t, srv.URL+"/api/orders/buy", `{"symbol":"AAPL","shares":1,"price":100}`)

	resp, body := getJSON(t, srv.URL+"/api/transactions?type=DEPOSIT")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["count"])

	txs := body["transactions"].([]any)
	first := txs[0].(map[string]any)
	second := txs[1].(map[string]any)
	assert.Equal(t, float64(2), first["amount"])
	assert.Equal(t, float64(1), second["amount"])
}

func TestTransactionsEndpoint_LimitParam(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 3; i++ {
		_, _ = postJSON(t, srv.URL+"/api/wallet/deposits", fmt.Sprintf(`{"amount":%d}`, i+1))
	}

	_, body := getJSON(t, srv.URL+"/api/transactions?limit=2")
	assert.Equal(t, float64(2), body["count"])
}

func TestTransactionsEndpoint_InvalidRange(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := getJSON(t,
		srv.URL+"/api/transactions?start_date=2025-06-02&end_date=2025-06-01")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransactionsEndpoint_BadDate(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := getJSON(t, srv.URL+"/api/transactions?start_date=notadate")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// STORAGE FAILURE TESTS
// =============================================================================

// brokenWriteStore fails every Apply with the given error.
type brokenWriteStore struct {
	*store.Memory
	applyErr error
}

func (b *brokenWriteStore) Apply(context.Context, ledger.Change) error {
	return b.applyErr
}

func newBrokenWriteServer(t *testing.T, applyErr error) *httptest.Server {
	t.Helper()

	mem := &brokenWriteStore{Memory: store.NewMemory(), applyErr: applyErr}
	log := logger.NewNop()
	accounts := account.NewService(mem, log)
	queries := portfolio.NewService(mem, oracle.NewFixed(decimal.NewFromInt(100)))
	handler := NewHandler(accounts, queries, mem, log)

	srv := httptest.NewServer(NewRouter(handler, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDepositEndpoint_UnconfirmedWriteIsRetrySafe502(t *testing.T) {
	// GIVEN: A store whose commit fails without confirming a rollback
	// WHEN: Depositing
	// THEN: 502 with retry_safe=true - never a fabricated success or
	//       clean failure

	srv := newBrokenWriteServer(t, errors.New("connection reset by peer"))

	resp, body := postJSON(t, srv.URL+"/api/wallet/deposits", `{"amount":100}`)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, true, body["retry_safe"])
	assert.NotEmpty(t, body["error"])
}

func TestDepositEndpoint_RolledBackWriteIs500(t *testing.T) {
	// A confirmed rollback is a definite failure: plain 500, no retry_safe.

	srv := newBrokenWriteServer(t,
		fmt.Errorf("%w: constraint violation", ledger.ErrWriteRolledBack))

	resp, body := postJSON(t, srv.URL+"/api/wallet/deposits", `{"amount":100}`)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Nil(t, body["retry_safe"])
}

// =============================================================================
// OPS ENDPOINT TESTS
// =============================================================================

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := getJSON(t, srv.URL+"/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
