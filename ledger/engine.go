/*
engine.go - Pure decision functions for the four ledger operations

PURPOSE:
  Given the current Wallet and (for trades) the current Position, each
  function either rejects the operation or returns the complete Change:
  new wallet, new/updated/deleted position, and exactly one completed
  Transaction. No function performs I/O; persistence is the caller's job
  (see account.Service).

CRITICAL INVARIANTS:
  1. Rejections return before constructing any Change - no partial state
  2. balance and buying_power always move together, by the same delta
  3. avg_cost is recomputed only on buys, using the exact order
     (avg*held + price*qty) / (held+qty)
  4. A position at zero shares is deleted, never kept as a zero row
  5. Every accepted operation emits exactly one completed Transaction

POSITION LIFECYCLE:
  Absent -> Open   first Buy (avg_cost = price)
  Open   -> Open   subsequent Buy (re-average) / partial Sell (avg unchanged)
  Open   -> Absent Sell of the full held amount

SEE ALSO:
  - types.go:  Change and the record types
  - errors.go: Rejection error types
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BUY
// =============================================================================

// Buy decides a share purchase. pos is the currently held position for the
// symbol, nil when none exists.
func Buy(w Wallet, pos *Position, symbol string, shares, price decimal.Decimal, now time.Time) (Change, error) {
	symbol = NormalizeSymbol(symbol)
	if err := validateTrade(symbol, shares, price); err != nil {
		return Change{}, err
	}

	totalCost := shares.Mul(price)
	if w.BuyingPower.LessThan(totalCost) {
		return Change{}, &InsufficientBuyingPowerError{
			Required:  totalCost,
			Available: w.BuyingPower,
		}
	}

	var next Position
	if pos == nil {
		next = Position{
			Symbol:    symbol,
			Shares:    shares,
			AvgCost:   price,
			CreatedAt: now,
			UpdatedAt: now,
		}
	} else {
		// Volume-weighted average cost. The arithmetic order matters: total
		// existing cost plus new cost, divided by the combined share count.
		newShares := pos.Shares.Add(shares)
		newAvgCost := pos.AvgCost.Mul(pos.Shares).Add(price.Mul(shares)).Div(newShares)
		next = Position{
			Symbol:    symbol,
			Shares:    newShares,
			AvgCost:   newAvgCost,
			CreatedAt: pos.CreatedAt,
			UpdatedAt: now,
		}
	}

	return Change{
		Wallet:   debit(w, totalCost, now),
		Position: &next,
		Transaction: Transaction{
			ID:        uuid.New().String(),
			Type:      TxBuy,
			Symbol:    symbol,
			Shares:    shares,
			Price:     price,
			Amount:    totalCost,
			Timestamp: now,
			Status:    StatusCompleted,
		},
	}, nil
}

// =============================================================================
// SELL
// =============================================================================

// Sell decides a share sale. Returns the Change together with the realized
// figures (proceeds, cost basis, profit/loss) for the caller to surface.
func Sell(w Wallet, pos *Position, symbol string, shares, price decimal.Decimal, now time.Time) (Change, SellResult, error) {
	symbol = NormalizeSymbol(symbol)
	if err := validateTrade(symbol, shares, price); err != nil {
		return Change{}, SellResult{}, err
	}

	if pos == nil {
		return Change{}, SellResult{}, &NoSuchPositionError{Symbol: symbol}
	}
	if pos.Shares.LessThan(shares) {
		return Change{}, SellResult{}, &InsufficientSharesError{
			Symbol:    symbol,
			Requested: shares,
			Available: pos.Shares,
		}
	}

	proceeds := shares.Mul(price)
	costBasis := shares.Mul(pos.AvgCost)
	profitLoss := proceeds.Sub(costBasis)

	result := SellResult{
		Proceeds:        proceeds,
		CostBasis:       costBasis,
		ProfitLoss:      profitLoss,
		RemainingShares: pos.Shares.Sub(shares),
	}
	if costBasis.IsPositive() {
		result.ProfitLossPercent = profitLoss.Div(costBasis).Mul(decimal.NewFromInt(100))
	}

	change := Change{
		Wallet: credit(w, proceeds, now),
		Transaction: Transaction{
			ID:        uuid.New().String(),
			Type:      TxSell,
			Symbol:    symbol,
			Shares:    shares,
			Price:     price,
			Amount:    proceeds,
			Timestamp: now,
			Status:    StatusCompleted,
		},
	}

	if pos.Shares.Equal(shares) {
		// Full liquidation: the row goes away, history lives in the log.
		change.DeleteSymbol = symbol
	} else {
		change.Position = &Position{
			Symbol:    symbol,
			Shares:    pos.Shares.Sub(shares),
			AvgCost:   pos.AvgCost, // sells never change cost basis
			CreatedAt: pos.CreatedAt,
			UpdatedAt: now,
		}
	}

	return change, result, nil
}

// =============================================================================
// DEPOSIT / WITHDRAW
// =============================================================================

// Deposit decides a cash deposit. The only rejection path is validation.
func Deposit(w Wallet, amount decimal.Decimal, now time.Time) (Change, error) {
	if !amount.IsPositive() {
		return Change{}, ErrInvalidAmount
	}

	return Change{
		Wallet: credit(w, amount, now),
		Transaction: Transaction{
			ID:        uuid.New().String(),
			Type:      TxDeposit,
			Amount:    amount,
			Timestamp: now,
			Status:    StatusCompleted,
		},
	}, nil
}

// Withdraw decides a cash withdrawal, symmetric to Deposit. Rejects when the
// amount exceeds the wallet balance.
func Withdraw(w Wallet, amount decimal.Decimal, now time.Time) (Change, error) {
	if !amount.IsPositive() {
		return Change{}, ErrInvalidAmount
	}
	if amount.GreaterThan(w.Balance) {
		return Change{}, &InsufficientFundsError{
			Requested: amount,
			Available: w.Balance,
		}
	}

	return Change{
		Wallet: debit(w, amount, now),
		Transaction: Transaction{
			ID:        uuid.New().String(),
			Type:      TxWithdrawal,
			Amount:    amount,
			Timestamp: now,
			Status:    StatusCompleted,
		},
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func validateTrade(symbol string, shares, price decimal.Decimal) error {
	if symbol == "" {
		return ErrInvalidSymbol
	}
	if !shares.IsPositive() {
		return ErrInvalidQuantity
	}
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	return nil
}

func credit(w Wallet, amount decimal.Decimal, now time.Time) Wallet {
	return Wallet{
		Balance:     w.Balance.Add(amount),
		BuyingPower: w.BuyingPower.Add(amount),
		UpdatedAt:   now,
	}
}

func debit(w Wallet, amount decimal.Decimal, now time.Time) Wallet {
	return Wallet{
		Balance:     w.Balance.Sub(amount),
		BuyingPower: w.BuyingPower.Sub(amount),
		UpdatedAt:   now,
	}
}
