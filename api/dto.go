/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *Request:  Request body types from clients
  - *Response: Response types returned to clients

MONEY FIELDS:
  All money and share quantities are decimal.Decimal. They marshal as JSON
  numbers and unmarshal from both numbers and strings, so clients that
  quote decimals to avoid float precision still work.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/brokerage/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// OrderRequest is the body for buy and sell orders.
type OrderRequest struct {
	Symbol string          `json:"symbol"`
	Shares decimal.Decimal `json:"shares"`
	Price  decimal.Decimal `json:"price"`
}

// CashRequest is the body for deposits and withdrawals.
type CashRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// TransactionDTO is one transaction log record in API responses.
type TransactionDTO struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Symbol    string           `json:"symbol,omitempty"`
	Shares    *decimal.Decimal `json:"shares,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Amount    decimal.Decimal  `json:"amount"`
	Timestamp string           `json:"timestamp"`
	Status    string           `json:"status"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:        tx.ID,
		Type:      string(tx.Type),
		Symbol:    tx.Symbol,
		Amount:    tx.Amount,
		Timestamp: tx.Timestamp.UTC().Format(time.RFC3339Nano),
		Status:    string(tx.Status),
	}
	if tx.Symbol != "" {
		shares, price := tx.Shares, tx.Price
		dto.Shares = &shares
		dto.Price = &price
	}
	return dto
}

// BuyResponse confirms an executed buy.
type BuyResponse struct {
	Transaction    TransactionDTO  `json:"transaction"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	NewBuyingPower decimal.Decimal `json:"new_buying_power"`
}

// SellResponse confirms an executed sell, including realized figures.
type SellResponse struct {
	Transaction       TransactionDTO  `json:"transaction"`
	Proceeds          decimal.Decimal `json:"proceeds"`
	CostBasis         decimal.Decimal `json:"cost_basis"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
	RemainingShares   decimal.Decimal `json:"remaining_shares"`
	NewBalance        decimal.Decimal `json:"new_balance"`
	NewBuyingPower    decimal.Decimal `json:"new_buying_power"`
}

// CashResponse confirms an executed deposit or withdrawal.
type CashResponse struct {
	Transaction     TransactionDTO  `json:"transaction"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	NewBuyingPower  decimal.Decimal `json:"new_buying_power"`
}

// WalletDTO is the wallet state in API responses.
type WalletDTO struct {
	Balance     decimal.Decimal `json:"balance"`
	BuyingPower decimal.Decimal `json:"buying_power"`
	UpdatedAt   string          `json:"updated_at"`
}

// PositionDTO is one open position in API responses.
type PositionDTO struct {
	Symbol    string          `json:"symbol"`
	Shares    decimal.Decimal `json:"shares"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

func toPositionDTO(pos ledger.Position) PositionDTO {
	return PositionDTO{
		Symbol:    pos.Symbol,
		Shares:    pos.Shares,
		AvgCost:   pos.AvgCost,
		CreatedAt: pos.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: pos.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// TransactionsResponse is a filtered page of the transaction log.
type TransactionsResponse struct {
	Count        int              `json:"count"`
	Transactions []TransactionDTO `json:"transactions"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`

	// RetrySafe is set when the operation status is unknown and the
	// client may safely retry.
	RetrySafe bool `json:"retry_safe,omitempty"`

	// Figures attached to business rejections so clients can show what
	// was requested versus what was available.
	Required  *decimal.Decimal `json:"required,omitempty"`
	Requested *decimal.Decimal `json:"requested,omitempty"`
	Available *decimal.Decimal `json:"available,omitempty"`
}
