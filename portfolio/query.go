/*
Package portfolio provides the read-only query service.

PURPOSE:
  Read-only views over the ledger state: the portfolio summary (balances,
  marked-to-oracle position values, performance figures) and filtered
  transaction history. Never mutates anything and bypasses the decision
  engine entirely.

PRICING:
  Current prices come from an injected oracle.PriceOracle. The default
  wiring marks positions at their own cost basis, so the service runs
  without a market-data feed; swap the oracle to change valuation.

PERFORMANCE FIGURES:
  Derived only from the transaction log and the wallet, so they are exactly
  reproducible from the log. Realized P&L replays the log with the same
  weighted-average cost basis the engine uses at sell time, which makes the
  aggregate equal to the sum of the per-sell profit_loss figures.

SEE ALSO:
  - ledger/store.go: The read surface this service consumes
  - oracle/oracle.go: Price source contract
*/
package portfolio

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/brokerage/ledger"
	"github.com/papertrade/brokerage/oracle"
)

// Service answers read-only portfolio queries.
type Service struct {
	store  ledger.Store
	oracle oracle.PriceOracle
}

func NewService(store ledger.Store, priceOracle oracle.PriceOracle) *Service {
	return &Service{store: store, oracle: priceOracle}
}

// =============================================================================
// SUMMARY
// =============================================================================

// PositionView is one open position marked to the oracle price.
type PositionView struct {
	Symbol               string          `json:"symbol"`
	Shares               decimal.Decimal `json:"shares"`
	AvgCost              decimal.Decimal `json:"avg_cost"`
	CurrentPrice         decimal.Decimal `json:"current_price"`
	MarketValue          decimal.Decimal `json:"market_value"`
	UnrealizedPnL        decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealized_pnl_percent"`
}

// Performance aggregates figures derived from the transaction log.
type Performance struct {
	InceptionDate    time.Time       `json:"inception_date"`
	TotalReturn      decimal.Decimal `json:"total_return"`
	TotalReturnPct   decimal.Decimal `json:"total_return_percent"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	TotalDeposits    decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	TotalTrades      int             `json:"total_trades"`
	BuyTrades        int             `json:"buy_trades"`
	SellTrades       int             `json:"sell_trades"`
}

// Summary is the full portfolio overview.
type Summary struct {
	AccountValue decimal.Decimal `json:"account_value"`
	Balance      decimal.Decimal `json:"balance"`
	BuyingPower  decimal.Decimal `json:"buying_power"`
	Positions    []PositionView  `json:"positions,omitempty"`
	Performance  *Performance    `json:"performance,omitempty"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// Summary computes the portfolio overview. account_value is the wallet
// balance plus every open position marked to the oracle price.
func (s *Service) Summary(ctx context.Context, includePositions, includePerformance bool) (*Summary, error) {
	wallet, err := s.store.Wallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	positions, err := s.store.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	accountValue := wallet.Balance
	var views []PositionView
	for _, pos := range positions {
		price, err := s.oracle.Price(ctx, pos.Symbol)
		if err != nil {
			return nil, fmt.Errorf("summary: price for %s: %w", pos.Symbol, err)
		}

		marketValue := pos.Shares.Mul(price)
		accountValue = accountValue.Add(marketValue)

		if includePositions {
			view := PositionView{
				Symbol:        pos.Symbol,
				Shares:        pos.Shares,
				AvgCost:       pos.AvgCost,
				CurrentPrice:  price,
				MarketValue:   marketValue,
				UnrealizedPnL: price.Sub(pos.AvgCost).Mul(pos.Shares),
			}
			if pos.AvgCost.IsPositive() {
				view.UnrealizedPnLPercent = price.Sub(pos.AvgCost).Div(pos.AvgCost).Mul(decimal.NewFromInt(100))
			}
			views = append(views, view)
		}
	}

	summary := &Summary{
		AccountValue: accountValue,
		Balance:      wallet.Balance,
		BuyingPower:  wallet.BuyingPower,
		Positions:    views,
		LastUpdated:  wallet.UpdatedAt,
	}

	if includePerformance {
		perf, err := s.performance(ctx, wallet.Balance)
		if err != nil {
			return nil, err
		}
		summary.Performance = perf
	}

	return summary, nil
}

// performance folds the full transaction log into aggregate figures. Every
// figure, including total return, derives from the log and the wallet alone;
// the oracle never enters, so the report is exactly reproducible.
func (s *Service) performance(ctx context.Context, balance decimal.Decimal) (*Performance, error) {
	txs, err := s.store.Transactions(ctx, ledger.TransactionFilter{Limit: -1})
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}

	// Oldest first for the cost-basis replay.
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.Before(txs[j].Timestamp)
	})

	perf := &Performance{}
	type lot struct {
		shares  decimal.Decimal
		avgCost decimal.Decimal
	}
	holdings := make(map[string]*lot)

	for _, tx := range txs {
		switch tx.Type {
		case ledger.TxDeposit:
			perf.TotalDeposits = perf.TotalDeposits.Add(tx.Amount)

		case ledger.TxWithdrawal:
			perf.TotalWithdrawals = perf.TotalWithdrawals.Add(tx.Amount)

		case ledger.TxBuy:
			perf.BuyTrades++
			if h, ok := holdings[tx.Symbol]; ok {
				newShares := h.shares.Add(tx.Shares)
				h.avgCost = h.avgCost.Mul(h.shares).Add(tx.Price.Mul(tx.Shares)).Div(newShares)
				h.shares = newShares
			} else {
				holdings[tx.Symbol] = &lot{shares: tx.Shares, avgCost: tx.Price}
			}

		case ledger.TxSell:
			perf.SellTrades++
			// Realized P&L against the weighted-average cost basis at the
			// time of the sell - the same figure the engine reported.
			if h, ok := holdings[tx.Symbol]; ok {
				perf.RealizedPnL = perf.RealizedPnL.Add(tx.Price.Sub(h.avgCost).Mul(tx.Shares))
				h.shares = h.shares.Sub(tx.Shares)
				if !h.shares.IsPositive() {
					delete(holdings, tx.Symbol)
				}
			}
		}
	}
	perf.TotalTrades = perf.BuyTrades + perf.SellTrades

	if len(txs) > 0 {
		perf.InceptionDate = txs[0].Timestamp
	}

	// Holdings valued at their replayed cost basis, not at oracle prices.
	// Unrealized movement is excluded, which keeps the return derivable
	// from the log alone.
	costValue := decimal.Zero
	for _, h := range holdings {
		costValue = costValue.Add(h.shares.Mul(h.avgCost))
	}

	// Return relative to contributed capital: seed + deposits - withdrawals.
	contributed := ledger.SeedBalance.Add(perf.TotalDeposits).Sub(perf.TotalWithdrawals)
	perf.TotalReturn = balance.Add(costValue).Sub(contributed)
	if contributed.IsPositive() {
		perf.TotalReturnPct = perf.TotalReturn.Div(contributed).Mul(decimal.NewFromInt(100))
	}

	return perf, nil
}

// =============================================================================
// TRANSACTION HISTORY
// =============================================================================

// History is a filtered page of the transaction log, newest first.
type History struct {
	Count        int                  `json:"count"`
	Transactions []ledger.Transaction `json:"transactions"`
}

// Transactions returns the history matching the filter. An empty result is
// not an error; an inverted date range is.
func (s *Service) Transactions(ctx context.Context, filter ledger.TransactionFilter) (*History, error) {
	if filter.Type != "" && !ledger.ValidTransactionType(filter.Type) {
		return nil, fmt.Errorf("unknown transaction type %q", filter.Type)
	}
	if !filter.Start.IsZero() && !filter.End.IsZero() && filter.Start.After(filter.End) {
		return nil, ledger.ErrInvalidDateRange
	}

	txs, err := s.store.Transactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("transactions: %w", err)
	}

	return &History{Count: len(txs), Transactions: txs}, nil
}
