/*
handlers.go - HTTP API handlers for the brokerage ledger

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response, JSON
  serialization, and delegates every decision to the account and portfolio
  services. No business rule lives in this file.

ENDPOINTS:
  Orders:
    POST   /api/orders/buy           Execute a buy
    POST   /api/orders/sell          Execute a sell

  Wallet:
    GET    /api/wallet               Current balance and buying power
    POST   /api/wallet/deposits      Deposit cash
    POST   /api/wallet/withdrawals   Withdraw cash

  Portfolio:
    GET    /api/positions            All open positions
    GET    /api/portfolio/summary    Account value, positions, performance
    GET    /api/transactions         Filtered transaction history

  Ops:
    GET    /api/health               Liveness and store reachability
    GET    /metrics                  Prometheus metrics

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Sell against a symbol with no open position
  - 409: Business rejection (buying power, shares, funds)
  - 502: Operation status unknown; body carries retry_safe=true
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/papertrade/brokerage/account"
	"github.com/papertrade/brokerage/ledger"
	"github.com/papertrade/brokerage/logger"
	"github.com/papertrade/brokerage/portfolio"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Accounts  *account.Service
	Portfolio *portfolio.Service
	Store     ledger.Store
	Log       logger.Logger
}

// NewHandler creates a new handler with the given services.
func NewHandler(accounts *account.Service, queries *portfolio.Service, store ledger.Store, log logger.Logger) *Handler {
	return &Handler{Accounts: accounts, Portfolio: queries, Store: store, Log: log}
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// Buy executes a buy order.
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Accounts.Buy(r.Context(), req.Symbol, req.Shares, req.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, BuyResponse{
		Transaction:    toTransactionDTO(result.Transaction),
		NewBalance:     result.NewBalance,
		NewBuyingPower: result.NewBuyingPower,
	})
}

// Sell executes a sell order.
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Accounts.Sell(r.Context(), req.Symbol, req.Shares, req.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SellResponse{
		Transaction:       toTransactionDTO(result.Transaction),
		Proceeds:          result.Proceeds,
		CostBasis:         result.CostBasis,
		ProfitLoss:        result.ProfitLoss,
		ProfitLossPercent: result.ProfitLossPercent,
		RemainingShares:   result.RemainingShares,
		NewBalance:        result.NewBalance,
		NewBuyingPower:    result.NewBuyingPower,
	})
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// GetWallet returns the current wallet state.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.Store.Wallet(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read wallet", err)
		return
	}

	writeJSON(w, http.StatusOK, WalletDTO{
		Balance:     wallet.Balance,
		BuyingPower: wallet.BuyingPower,
		UpdatedAt:   wallet.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// Deposit adds cash to the wallet.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req CashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Accounts.Deposit(r.Context(), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCashResponse(result))
}

// Withdraw removes cash from the wallet.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req CashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Accounts.Withdraw(r.Context(), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCashResponse(result))
}

func toCashResponse(result *account.CashResult) CashResponse {
	return CashResponse{
		Transaction:     toTransactionDTO(result.Transaction),
		PreviousBalance: result.PreviousBalance,
		NewBalance:      result.NewBalance,
		NewBuyingPower:  result.NewBuyingPower,
	}
}

// =============================================================================
// PORTFOLIO HANDLERS
// =============================================================================

// ListPositions returns all open positions.
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.Store.Positions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list positions", err)
		return
	}

	dtos := make([]PositionDTO, len(positions))
	for i, pos := range positions {
		dtos[i] = toPositionDTO(pos)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSummary returns the portfolio overview. Positions and performance
// sections are included unless explicitly disabled via query params.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	includePositions := boolParam(r, "include_positions", true)
	includePerformance := boolParam(r, "include_performance", true)

	summary, err := h.Portfolio.Summary(r.Context(), includePositions, includePerformance)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build summary", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// ListTransactions returns the filtered transaction history, newest first.
//
// Query params: type (BUY|SELL|DEPOSIT|WITHDRAWAL), limit (default 50,
// -1 for all), start_date, end_date (RFC3339 or YYYY-MM-DD, inclusive).
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := ledger.TransactionFilter{
		Type: ledger.TransactionType(r.URL.Query().Get("type")),
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	var err error
	if filter.Start, err = parseDateParam(r.URL.Query().Get("start_date"), false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	if filter.End, err = parseDateParam(r.URL.Query().Get("end_date"), true); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date", err)
		return
	}

	history, err := h.Portfolio.Transactions(r.Context(), filter)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidDateRange) {
			writeError(w, http.StatusBadRequest, "Invalid date range", err)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}

	dtos := make([]TransactionDTO, len(history.Transactions))
	for i, tx := range history.Transactions {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, TransactionsResponse{Count: history.Count, Transactions: dtos})
}

// =============================================================================
// OPS HANDLERS
// =============================================================================

// Health reports liveness and store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Store.Wallet(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"store":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// boolParam reads a query flag, defaulting when absent or unparseable.
func boolParam(r *http.Request, name string, def bool) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// parseDateParam accepts RFC3339 timestamps or plain dates. A plain date
// used as a range end means "through that whole day".
func parseDateParam(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := ErrorResponse{Error: message}
	if err != nil {
		body.Detail = err.Error()
	}
	writeJSON(w, status, body)
}

// writeDomainError maps service errors to HTTP status codes and attaches
// the figures from structured rejections.
func writeDomainError(w http.ResponseWriter, err error) {
	body := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var buyingPower *ledger.InsufficientBuyingPowerError
	var shares *ledger.InsufficientSharesError
	var funds *ledger.InsufficientFundsError

	switch {
	case ledger.IsValidation(err):
		status = http.StatusBadRequest

	case errors.Is(err, ledger.ErrNoSuchPosition):
		status = http.StatusNotFound

	case errors.As(err, &buyingPower):
		status = http.StatusConflict
		body.Required = &buyingPower.Required
		body.Available = &buyingPower.Available

	case errors.As(err, &shares):
		status = http.StatusConflict
		body.Requested = &shares.Requested
		body.Available = &shares.Available

	case errors.As(err, &funds):
		status = http.StatusConflict
		body.Requested = &funds.Requested
		body.Available = &funds.Available

	case ledger.IsRejection(err):
		status = http.StatusConflict

	case ledger.IsRetryable(err):
		status = http.StatusBadGateway
		body.RetrySafe = true
	}

	writeJSON(w, status, body)
}
