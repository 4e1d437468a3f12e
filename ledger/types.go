/*
Package ledger provides the core portfolio ledger engine.

PURPOSE:
  This package contains the data model and the pure decision logic that keep
  three linked records mutually consistent: the Wallet (singleton cash
  balance), per-symbol Positions, and the append-only Transaction log.
  Everything else in the repository is a shim around this package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Wallet:      Singleton cash record (balance + buying power)
  - Position:    A holding of shares in one symbol with weighted-average cost
  - Transaction: An immutable log entry recording one accepted operation
  - Change:      The full state transition produced by one accepted operation

DESIGN PRINCIPLES:
  1. Purity: The engine never performs I/O; it maps (state, params) -> Change
  2. Precision: Uses decimal.Decimal to avoid floating-point drift
  3. Append-only: Transactions are created once and never mutated
  4. Invariant: buying_power tracks balance exactly; every transition moves
     both together

SEE ALSO:
  - engine.go: The four decision functions (Buy, Sell, Deposit, Withdraw)
  - store.go:  Persistence contract honored by sqlite and memory stores
  - replay.go: State reconstruction from the transaction log
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WALLET - Singleton cash record
// =============================================================================

// Money fields marshal as JSON numbers, not quoted strings, matching the
// wire format clients expect.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// SeedBalance is the demo cash balance a wallet is created with on first read.
var SeedBalance = decimal.NewFromInt(10000)

// Wallet holds the account's cash. Exactly one wallet exists after first
// access; it is mutated by every accepted operation and never deleted.
//
// INVARIANT: BuyingPower == Balance at all times. The two fields exist
// separately to leave room for margin/holds, but every transition in this
// package moves them together.
type Wallet struct {
	Balance     decimal.Decimal `db:"balance" json:"balance"`
	BuyingPower decimal.Decimal `db:"buying_power" json:"buying_power"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// NewWallet returns a freshly seeded wallet.
func NewWallet(now time.Time) Wallet {
	return Wallet{
		Balance:     SeedBalance,
		BuyingPower: SeedBalance,
		UpdatedAt:   now,
	}
}

// =============================================================================
// POSITION - One holding per symbol
// =============================================================================

// Position is a holding of shares in one symbol. A position row exists only
// while Shares > 0; full liquidation deletes the row rather than zeroing it.
//
// AvgCost is the volume-weighted average entry price of the shares currently
// held. It is recomputed only on buys; sells never change it.
type Position struct {
	Symbol    string          `db:"symbol" json:"symbol"`
	Shares    decimal.Decimal `db:"shares" json:"shares"`
	AvgCost   decimal.Decimal `db:"avg_cost" json:"avg_cost"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// NormalizeSymbol uppercases and trims a ticker. Every lookup and every
// stored record goes through this first.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// =============================================================================
// TRANSACTION - Append-only log entry
// =============================================================================

type TransactionType string

const (
	TxBuy        TransactionType = "BUY"
	TxSell       TransactionType = "SELL"
	TxDeposit    TransactionType = "DEPOSIT"
	TxWithdrawal TransactionType = "WITHDRAWAL"
)

// ValidTransactionType reports whether t is one of the four ledger types.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TxBuy, TxSell, TxDeposit, TxWithdrawal:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "completed"
	// Pending and failed are reserved for future asynchronous settlement.
	// The engine only ever produces completed records.
	StatusPending TransactionStatus = "pending"
	StatusFailed  TransactionStatus = "failed"
)

// Transaction records one accepted ledger operation. Created exactly once,
// immutable afterward. Symbol/Shares/Price are set for BUY/SELL and zero for
// DEPOSIT/WITHDRAWAL. Amount is the cash effect magnitude, always positive;
// the sign of the effect is implied by Type.
type Transaction struct {
	ID        string            `db:"id" json:"id"`
	Type      TransactionType   `db:"tx_type" json:"type"`
	Symbol    string            `db:"symbol" json:"symbol,omitempty"`
	Shares    decimal.Decimal   `db:"shares" json:"shares,omitempty"`
	Price     decimal.Decimal   `db:"price" json:"price,omitempty"`
	Amount    decimal.Decimal   `db:"amount" json:"amount"`
	Timestamp time.Time         `db:"timestamp" json:"timestamp"`
	Status    TransactionStatus `db:"status" json:"status"`
}

// CashDelta returns the signed effect of the transaction on the wallet:
// positive for DEPOSIT/SELL, negative for BUY/WITHDRAWAL.
func (t Transaction) CashDelta() decimal.Decimal {
	switch t.Type {
	case TxBuy, TxWithdrawal:
		return t.Amount.Neg()
	default:
		return t.Amount
	}
}

// =============================================================================
// CHANGE - State transition produced by one accepted operation
// =============================================================================

// Change bundles everything an accepted operation writes. All records in a
// Change must become visible together or not at all (see Store.Apply).
type Change struct {
	Wallet Wallet

	// Position is the new/updated position, nil when the operation does not
	// touch one (deposit, withdrawal) or when it deletes one.
	Position *Position

	// DeleteSymbol names a position row to delete (full liquidation).
	// Empty otherwise. Position and DeleteSymbol are mutually exclusive.
	DeleteSymbol string

	Transaction Transaction
}

// SellResult carries the informational figures of an accepted sell. Realized
// profit/loss is computed against the position's weighted-average cost basis
// at sell time; it is surfaced in the result only, never persisted.
type SellResult struct {
	Proceeds          decimal.Decimal
	CostBasis         decimal.Decimal
	ProfitLoss        decimal.Decimal
	ProfitLossPercent decimal.Decimal
	RemainingShares   decimal.Decimal
}
