package portfolio_test

import (
	"context"
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

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func assertDecimalEqual(t *testing.T, expected, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, expected.Equal(actual), "expected %s, got %s", expected, actual)
}

// newTestPortfolio runs real operations through the account service so the
// queried state is exactly what the write path produces.
func newTestPortfolio(t *testing.T, prices map[string]decimal.Decimal) (*portfolio.Service, *account.Service) {
	t.Helper()
	mem := store.NewMemory()
	accounts := account.NewService(mem, logger.NewNop())
	queries := portfolio.NewService(mem, oracle.NewTable(prices))
	return queries, accounts
}

// =============================================================================
// SUMMARY TESTS
// =============================================================================

func TestSummary_AccountValueMarksToOracle(t *testing.T) {
	// GIVEN: 10 AAPL bought at 150, oracle now quotes 160
	// WHEN: Building the summary
	// THEN: account_value = 8500 cash + 1600 market value

	queries, accounts := newTestPortfolio(t, map[string]decimal.Decimal{"AAPL": d("160")})
	ctx := context.Background()

	_, err := accounts.Buy(ctx, "AAPL", d("10"), d("150"))
	require.NoError(t, err)

	summary, err := queries.Summary(ctx, true, false)
	require.NoError(t, err)

	assertDecimalEqual(t, d("8500"), summary.Balance)
	assertDecimalEqual(t, d("10100"), summary.AccountValue)

	require.Len(t, summary.Positions, 1)
	view := summary.Positions[0]
	assert.Equal(t, "AAPL", view.Symbol)
	assertDecimalEqual(t, d("1600"), view.MarketValue)
	assertDecimalEqual(t, d("100"), view.UnrealizedPnL)
	assert.Nil(t, summary.Performance)
}

func TestSummary_PositionsOmittedWhenDisabled(t *testing.T) {
	queries, accounts := newTestPortfolio(t, map[string]decimal.Decimal{"AAPL": d("150")})
	ctx := context.Background()

	_, err := accounts.Buy(ctx, "AAPL", d("1"), d("150"))
	require.NoError(t, err)

	summary, err := queries.Summary(ctx, false, false)
	require.NoError(t, err)

	assert.Empty(t, summary.Positions)
	// Valuation still includes the position even when the view is omitted.
	assertDecimalEqual(t, d("10000"), summary.AccountValue)
}

func TestSummary_PerformanceFromLog(t *testing.T) {
	// GIVEN: 10@100 + 10@120 bought, 10 sold at 130, 500 deposited
	// WHEN: Building the summary with performance
	// THEN: Realized P&L is the weighted-average figure (130-110)*10 = 200
	//       and total return reconciles against contributed capital

	queries, accounts := newTestPortfolio(t, map[string]decimal.Decimal{"AAPL": d("130")})
	ctx := context.Background()

	_, err := accounts.Buy(ctx, "AAPL", d("10"), d("100"))
	require.NoError(t, err)
	_, err = accounts.Buy(ctx, "AAPL", d("10"), d("120"))
	require.NoError(t, err)
	_, err = accounts.Sell(ctx, "AAPL", d("10"), d("130"))
	require.NoError(t, err)
	_, err = accounts.Deposit(ctx, d("500"))
	require.NoError(t, err)

	summary, err := queries.Summary(ctx, true, true)
	require.NoError(t, err)
	require.NotNil(t, summary.Performance)
	perf := summary.Performance

	assertDecimalEqual(t, d("200"), perf.RealizedPnL)
	assertDecimalEqual(t, d("500"), perf.TotalDeposits)
	assertDecimalEqual(t, decimal.Zero, perf.TotalWithdrawals)
	assert.Equal(t, 2, perf.BuyTrades)
	assert.Equal(t, 1, perf.SellTrades)
	assert.Equal(t, 3, perf.TotalTrades)
	assert.False(t, perf.InceptionDate.IsZero())

	// Cash: 10000 - 1000 - 1200 + 1300 + 500 = 9600. Held: 10 AAPL at cost
	// basis 110. Contributed: 10000 + 500. Return: (9600 + 1100) - 10500
	// = 200, the realized figure; the oracle's 130 quote never enters.
	assertDecimalEqual(t, d("10900"), summary.AccountValue)
	assertDecimalEqual(t, d("200"), perf.TotalReturn)
}

func TestSummary_PerformanceIndependentOfOracle(t *testing.T) {
	// The same transaction history must yield identical performance figures
	// regardless of what the oracle quotes.

	ctx := context.Background()
	var returns []decimal.Decimal

	for _, quote := range []string{"50", "130", "500"} {
		queries, accounts := newTestPortfolio(t, map[string]decimal.Decimal{"AAPL": d(quote)})

		_, err := accounts.Buy(ctx, "AAPL", d("10"), d("100"))
		require.NoError(t, err)
		_, err = accounts.Sell(ctx, "AAPL", d("4"), d("120"))
		require.NoError(t, err)

		summary, err := queries.Summary(ctx, false, true)
		require.NoError(t, err)
		returns = append(returns, summary.Performance.TotalReturn)
	}

	assertDecimalEqual(t, returns[0], returns[1])
	assertDecimalEqual(t, returns[1], returns[2])
	// Realized: (120-100)*4 = 80.
	assertDecimalEqual(t, d("80"), returns[0])
}

func TestSummary_EmptyAccount(t *testing.T) {
	queries, _ := newTestPortfolio(t, nil)

	summary, err := queries.Summary(context.Background(), true, true)
	require.NoError(t, err)

	assertDecimalEqual(t, ledger.SeedBalance, summary.AccountValue)
	assert.Empty(t, summary.Positions)
	require.NotNil(t, summary.Performance)
	assertDecimalEqual(t, decimal.Zero, summary.Performance.TotalReturn)
}

func TestSummary_OracleFailureSurfaces(t *testing.T) {
	// A missing price must surface as an error, never a silent zero value.

	queries, accounts := newTestPortfolio(t, map[string]decimal.Decimal{})
	ctx := context.Background()

	_, err := accounts.Buy(ctx, "AAPL", d("1"), d("100"))
	require.NoError(t, err)

	_, err = queries.Summary(ctx, true, false)
	assert.Error(t, err)
}

// =============================================================================
// TRANSACTION HISTORY TESTS
// =============================================================================

func TestTransactions_NewestFirstWithDefaultLimit(t *testing.T) {
	queries, accounts := newTestPortfolio(t, nil)
	ctx := context.Background()

	_, err := accounts.Deposit(ctx, d("1"))
	require.NoError(t, err)
	_, err = accounts.Deposit(ctx, d("2"))
	require.NoError(t, err)
	_, err = accounts.Deposit(ctx, d("3"))
	require.NoError(t, err)

	history, err := queries.Transactions(ctx, ledger.TransactionFilter{})
	require.NoError(t, err)

	require.Equal(t, 3, history.Count)
	assertDecimalEqual(t, d("3"), history.Transactions[0].Amount)
	assertDecimalEqual(t, d("2"), history.Transactions[1].Amount)
	assertDecimalEqual(t, d("1"), history.Transactions[2].Amount)
}

func TestTransactions_TypeFilter(t *testing.T) {
	queries, accounts := newTestPortfolio(t, nil)
	ctx := context.Background()

	_, err := accounts.Buy(ctx, "AAPL", d("1"), d("100"))
	require.NoError(t, err)
	_, err = accounts.Deposit(ctx, d("50"))
	require.NoError(t, err)

	history, err := queries.Transactions(ctx, ledger.TransactionFilter{Type: ledger.TxDeposit})
	require.NoError(t, err)

	require.Equal(t, 1, history.Count)
	assert.Equal(t, ledger.TxDeposit, history.Transactions[0].Type)
}

func TestTransactions_UnknownTypeRejected(t *testing.T) {
	queries, _ := newTestPortfolio(t, nil)

	_, err := queries.Transactions(context.Background(),
		ledger.TransactionFilter{Type: ledger.TransactionType("SPLIT")})
	assert.Error(t, err)
}

func TestTransactions_InvalidDateRange(t *testing.T) {
	queries, accounts := newTestPortfolio(t, nil)
	ctx := context.Background()

	_, err := accounts.Deposit(ctx, d("1"))
	require.NoError(t, err)

	history, err := queries.Transactions(ctx, ledger.TransactionFilter{})
	require.NoError(t, err)
	ts := history.Transactions[0].Timestamp

	_, err = queries.Transactions(ctx, ledger.TransactionFilter{
		Start: ts.Add(1), End: ts,
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidDateRange)
}

func TestTransactions_EmptyResultIsNotAnError(t *testing.T) {
	queries, _ := newTestPortfolio(t, nil)

	history, err := queries.Transactions(context.Background(),
		ledger.TransactionFilter{Type: ledger.TxSell})
	require.NoError(t, err)
	assert.Equal(t, 0, history.Count)
}
