package ledger_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/brokerage/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func txAt(txType ledger.TransactionType, symbol string, shares, price, amount decimal.Decimal, at time.Time) ledger.Transaction {
	return ledger.Transaction{
		ID:        uuid.New().String(),
		Type:      txType,
		Symbol:    symbol,
		Shares:    shares,
		Price:     price,
		Amount:    amount,
		Timestamp: at,
		Status:    ledger.StatusCompleted,
	}
}

// =============================================================================
// REPLAY TESTS
// =============================================================================

func TestReplay_EmptyLogYieldsSeedWallet(t *testing.T) {
	result, err := ledger.Replay(nil, testClock())
	require.NoError(t, err)

	assertDecimalEqual(t, ledger.SeedBalance, result.Wallet.Balance)
	assertDecimalEqual(t, ledger.SeedBalance, result.Wallet.BuyingPower)
	assert.Empty(t, result.Positions)
}

func TestReplay_MatchesEngineFold(t *testing.T) {
	// GIVEN: A log produced by folding the engine over a trade sequence
	// WHEN: Replaying that log from scratch
	// THEN: The derived wallet and positions match the engine's final state

	now := testClock()
	w := seededWallet()

	buy1, err := ledger.Buy(w, nil, "AAPL", d("10"), d("100"), now)
	require.NoError(t, err)
	buy2, err := ledger.Buy(buy1.Wallet, buy1.Position, "AAPL", d("10"), d("120"), now.Add(time.Minute))
	require.NoError(t, err)
	sell, _, err := ledger.Sell(buy2.Wallet, buy2.Position, "AAPL", d("5"), d("130"), now.Add(2*time.Minute))
	require.NoError(t, err)
	dep, err := ledger.Deposit(sell.Wallet, d("250"), now.Add(3*time.Minute))
	require.NoError(t, err)

	log := []ledger.Transaction{
		buy1.Transaction, buy2.Transaction, sell.Transaction, dep.Transaction,
	}

	result, err := ledger.Replay(log, now)
	require.NoError(t, err)

	assertDecimalEqual(t, dep.Wallet.Balance, result.Wallet.Balance)
	assertDecimalEqual(t, dep.Wallet.BuyingPower, result.Wallet.BuyingPower)

	require.Len(t, result.Positions, 1)
	assertDecimalEqual(t, d("15"), result.Positions[0].Shares)
	assertDecimalEqual(t, d("110"), result.Positions[0].AvgCost)
}

func TestReplay_OrderIndependentInput(t *testing.T) {
	// Replay sorts by timestamp, so a shuffled log derives the same state.

	now := testClock()
	txs := []ledger.Transaction{
		txAt(ledger.TxSell, "AAPL", d("2"), d("110"), d("220"), now.Add(2*time.Minute)),
		txAt(ledger.TxBuy, "AAPL", d("2"), d("100"), d("200"), now),
		txAt(ledger.TxDeposit, "", decimal.Zero, decimal.Zero, d("50"), now.Add(time.Minute)),
	}

	result, err := ledger.Replay(txs, now)
	require.NoError(t, err)

	// 10000 - 200 + 50 + 220
	assertDecimalEqual(t, d("10070"), result.Wallet.Balance)
	assert.Empty(t, result.Positions)
}

func TestReplay_FullLiquidationRemovesPosition(t *testing.T) {
	now := testClock()
	txs := []ledger.Transaction{
		txAt(ledger.TxBuy, "TSLA", d("4"), d("250"), d("1000"), now),
		txAt(ledger.TxSell, "TSLA", d("4"), d("300"), d("1200"), now.Add(time.Minute)),
	}

	result, err := ledger.Replay(txs, now)
	require.NoError(t, err)
	assert.Empty(t, result.Positions)
}

func TestReplay_OversoldLogIsCorrupt(t *testing.T) {
	// GIVEN: A log that sells more than it ever bought
	// WHEN: Replaying
	// THEN: An error - this state cannot result from accepted operations

	now := testClock()
	txs := []ledger.Transaction{
		txAt(ledger.TxBuy, "AAPL", d("1"), d("100"), d("100"), now),
		txAt(ledger.TxSell, "AAPL", d("2"), d("100"), d("200"), now.Add(time.Minute)),
	}

	_, err := ledger.Replay(txs, now)
	assert.Error(t, err)
}

func TestReplay_NegativeBalanceLogIsCorrupt(t *testing.T) {
	now := testClock()
	txs := []ledger.Transaction{
		txAt(ledger.TxWithdrawal, "", decimal.Zero, decimal.Zero, d("10001"), now),
	}

	_, err := ledger.Replay(txs, now)
	assert.Error(t, err)
}

func TestReplay_UnknownTypeLogIsCorrupt(t *testing.T) {
	now := testClock()
	txs := []ledger.Transaction{
		txAt(ledger.TransactionType("SPLIT"), "AAPL", d("1"), d("1"), d("1"), now),
	}

	_, err := ledger.Replay(txs, now)
	assert.Error(t, err)
}
