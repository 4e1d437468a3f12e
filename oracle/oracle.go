// Package oracle defines the price source used to mark positions to market.
//
// No real price feed is in scope, so pricing is a pluggable capability:
// the query service accepts any PriceOracle. The implementations here cover
// tests (Fixed, Table) and a feed-less default that marks every position at
// its own cost basis (CostBasis).
package oracle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceOracle resolves a current price for a symbol.
type PriceOracle interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// =============================================================================
// IMPLEMENTATIONS
// =============================================================================

// Fixed returns the same price for every symbol.
type Fixed struct {
	Value decimal.Decimal
}

func NewFixed(value decimal.Decimal) Fixed {
	return Fixed{Value: value}
}

func (f Fixed) Price(_ context.Context, _ string) (decimal.Decimal, error) {
	return f.Value, nil
}

// Table serves prices from a static symbol->price map.
type Table struct {
	prices map[string]decimal.Decimal
}

func NewTable(prices map[string]decimal.Decimal) *Table {
	return &Table{prices: prices}
}

func (t *Table) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	price, ok := t.prices[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no price for symbol %s", symbol)
	}
	return price, nil
}

// CostBasisFunc adapts a cost-basis lookup into a PriceOracle. With no market
// feed, marking a position at its own avg_cost values it at what was paid:
// account_value stays conserved and unrealized P&L reads as zero.
type CostBasisFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

func (f CostBasisFunc) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f(ctx, symbol)
}
