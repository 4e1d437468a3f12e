/*
Package account provides the application service for the brokerage ledger.

PURPOSE:
  Single entry point per operation type. Each operation is one
  read-decide-write unit: load current state from the store, invoke the pure
  engine, persist the accepted Change atomically, and package the outcome.
  On rejection nothing is persisted, so repeating a rejected operation any
  number of times has no side effects.

CONCURRENCY:
  Operations are serialized with a single mutex. Every ledger operation
  mutates the wallet singleton, so per-key locking degenerates to one key;
  serializing here gives the required guarantee that concurrent operations
  never interleave their read-modify-write of the wallet or of a symbol's
  position.

CANCELLATION:
  Once the engine has accepted an operation, the commit runs under
  context.WithoutCancel. A caller that cancels mid-flight cannot leave a
  decided operation half-applied - the write either completes or the storage
  error surfaces.

STATUS UNKNOWN:
  If the atomic commit returns an error, the service cannot know whether the
  commit became durable (e.g. a crash between COMMIT and the ack). Such
  failures surface as ErrStatusUnknown - "retry safe" - never as a
  fabricated success or clean failure.

SEE ALSO:
  - ledger/engine.go: The decision functions invoked here
  - ledger/store.go:  The atomicity contract Apply upholds
*/
package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/brokerage/ledger"
	"github.com/papertrade/brokerage/logger"
	"github.com/papertrade/brokerage/metrics"
)

// readRetries bounds retry attempts for idempotent store reads.
const readRetries = 3

const readRetryBackoff = 25 * time.Millisecond

// Service orchestrates ledger operations against a Store.
type Service struct {
	store ledger.Store
	log   logger.Logger

	// now is injectable for deterministic tests.
	now func() time.Time

	mu sync.Mutex
}

// NewService creates the application service. The store must be open for the
// lifetime of the service; the caller owns both lifecycles.
func NewService(store ledger.Store, log logger.Logger) *Service {
	return &Service{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// =============================================================================
// RESULTS
// =============================================================================

// TradeResult is the outcome of an accepted buy.
type TradeResult struct {
	Transaction    ledger.Transaction
	NewBalance     decimal.Decimal
	NewBuyingPower decimal.Decimal
}

// SellOutcome extends TradeResult with the realized figures of a sell.
type SellOutcome struct {
	TradeResult
	Proceeds          decimal.Decimal
	CostBasis         decimal.Decimal
	ProfitLoss        decimal.Decimal
	ProfitLossPercent decimal.Decimal
	RemainingShares   decimal.Decimal
}

// CashResult is the outcome of an accepted deposit or withdrawal.
type CashResult struct {
	Transaction     ledger.Transaction
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
	NewBuyingPower  decimal.Decimal
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Buy purchases shares of a symbol at a price.
func (s *Service) Buy(ctx context.Context, symbol string, shares, price decimal.Decimal) (*TradeResult, error) {
	start := time.Now()
	defer func() { metrics.OperationLatency.WithLabelValues("buy").Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	wallet, err := s.loadWallet(ctx)
	if err != nil {
		return nil, s.outcome("buy", err)
	}
	pos, err := s.loadPosition(ctx, symbol)
	if err != nil {
		return nil, s.outcome("buy", err)
	}

	change, err := ledger.Buy(wallet, pos, symbol, shares, price, s.now())
	if err != nil {
		return nil, s.outcome("buy", err)
	}

	if err := s.commit(ctx, change); err != nil {
		return nil, s.outcome("buy", err)
	}
	if pos == nil {
		metrics.OpenPositions.Inc()
	}

	s.log.Infof("buy executed: %s shares of %s at %s, cost %s",
		shares, change.Transaction.Symbol, price, change.Transaction.Amount)

	s.outcome("buy", nil)
	return &TradeResult{
		Transaction:    change.Transaction,
		NewBalance:     change.Wallet.Balance,
		NewBuyingPower: change.Wallet.BuyingPower,
	}, nil
}

// Sell sells shares of a held symbol at a price.
func (s *Service) Sell(ctx context.Context, symbol string, shares, price decimal.Decimal) (*SellOutcome, error) {
	start := time.Now()
	defer func() { metrics.OperationLatency.WithLabelValues("sell").Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	wallet, err := s.loadWallet(ctx)
	if err != nil {
		return nil, s.outcome("sell", err)
	}
	pos, err := s.loadPosition(ctx, symbol)
	if err != nil {
		return nil, s.outcome("sell", err)
	}

	change, result, err := ledger.Sell(wallet, pos, symbol, shares, price, s.now())
	if err != nil {
		return nil, s.outcome("sell", err)
	}

	if err := s.commit(ctx, change); err != nil {
		return nil, s.outcome("sell", err)
	}
	if change.DeleteSymbol != "" {
		metrics.OpenPositions.Dec()
	}

	s.log.Infof("sell executed: %s shares of %s at %s, proceeds %s, realized P&L %s",
		shares, change.Transaction.Symbol, price, result.Proceeds, result.ProfitLoss)

	s.outcome("sell", nil)
	return &SellOutcome{
		TradeResult: TradeResult{
			Transaction:    change.Transaction,
			NewBalance:     change.Wallet.Balance,
			NewBuyingPower: change.Wallet.BuyingPower,
		},
		Proceeds:          result.Proceeds,
		CostBasis:         result.CostBasis,
		ProfitLoss:        result.ProfitLoss,
		ProfitLossPercent: result.ProfitLossPercent,
		RemainingShares:   result.RemainingShares,
	}, nil
}

// Deposit adds cash to the wallet.
func (s *Service) Deposit(ctx context.Context, amount decimal.Decimal) (*CashResult, error) {
	start := time.Now()
	defer func() { metrics.OperationLatency.WithLabelValues("deposit").Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	wallet, err := s.loadWallet(ctx)
	if err != nil {
		return nil, s.outcome("deposit", err)
	}

	change, err := ledger.Deposit(wallet, amount, s.now())
	if err != nil {
		return nil, s.outcome("deposit", err)
	}

	if err := s.commit(ctx, change); err != nil {
		return nil, s.outcome("deposit", err)
	}

	s.log.Infof("deposit executed: %s", amount)

	s.outcome("deposit", nil)
	return &CashResult{
		Transaction:     change.Transaction,
		PreviousBalance: wallet.Balance,
		NewBalance:      change.Wallet.Balance,
		NewBuyingPower:  change.Wallet.BuyingPower,
	}, nil
}

// Withdraw removes cash from the wallet.
func (s *Service) Withdraw(ctx context.Context, amount decimal.Decimal) (*CashResult, error) {
	start := time.Now()
	defer func() { metrics.OperationLatency.WithLabelValues("withdrawal").Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	wallet, err := s.loadWallet(ctx)
	if err != nil {
		return nil, s.outcome("withdrawal", err)
	}

	change, err := ledger.Withdraw(wallet, amount, s.now())
	if err != nil {
		return nil, s.outcome("withdrawal", err)
	}

	if err := s.commit(ctx, change); err != nil {
		return nil, s.outcome("withdrawal", err)
	}

	s.log.Infof("withdrawal executed: %s", amount)

	s.outcome("withdrawal", nil)
	return &CashResult{
		Transaction:     change.Transaction,
		PreviousBalance: wallet.Balance,
		NewBalance:      change.Wallet.Balance,
		NewBuyingPower:  change.Wallet.BuyingPower,
	}, nil
}

// InitMetrics seeds the state gauges from the store. Call once at startup
// so the open-positions gauge reflects persisted state rather than starting
// at zero after a restart.
func (s *Service) InitMetrics(ctx context.Context) error {
	positions, err := s.store.Positions(ctx)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	metrics.OpenPositions.Set(float64(len(positions)))
	return nil
}

// =============================================================================
// RECOVERY
// =============================================================================

// Recover rebuilds wallet and positions from the transaction log and writes
// them back atomically. Call after a crash, or whenever the derived state is
// suspect; the log is authoritative.
func (s *Service) Recover(ctx context.Context) error {
	rebuild, ok := s.store.(ledger.RebuildStore)
	if !ok {
		return fmt.Errorf("store does not support state rebuild")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txs, err := s.store.Transactions(ctx, ledger.TransactionFilter{Limit: -1})
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	result, err := ledger.Replay(txs, s.now())
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	if err := rebuild.ReplaceState(ctx, result.Wallet, result.Positions); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	metrics.OpenPositions.Set(float64(len(result.Positions)))

	s.log.Infof("recovered state from %d transactions: balance %s, %d open positions",
		len(txs), result.Wallet.Balance, len(result.Positions))
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// loadWallet reads the wallet with bounded retries. Reads are idempotent, so
// retrying a transient storage failure is always safe.
func (s *Service) loadWallet(ctx context.Context) (ledger.Wallet, error) {
	var wallet ledger.Wallet
	err := s.retryRead(ctx, func() error {
		var err error
		wallet, err = s.store.Wallet(ctx)
		return err
	})
	return wallet, err
}

func (s *Service) loadPosition(ctx context.Context, symbol string) (*ledger.Position, error) {
	var pos *ledger.Position
	err := s.retryRead(ctx, func() error {
		var err error
		pos, err = s.store.Position(ctx, symbol)
		return err
	})
	return pos, err
}

func (s *Service) retryRead(ctx context.Context, read func() error) error {
	var err error
	for attempt := 0; attempt < readRetries; attempt++ {
		if err = read(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < readRetries-1 {
			time.Sleep(readRetryBackoff)
		}
	}
	return fmt.Errorf("storage read failed after %d attempts: %w", readRetries, err)
}

// commit persists a decided operation. It is shielded from caller
// cancellation: partial application of a decided operation is the one state
// corruption this design must make impossible.
//
// A failure the store confirms was rolled back passes through as a plain
// storage error. Any other failure could have become durable, so it is
// marked ErrStatusUnknown rather than reported as a clean failure.
func (s *Service) commit(ctx context.Context, change ledger.Change) error {
	if err := s.store.Apply(context.WithoutCancel(ctx), change); err != nil {
		s.log.Errorf("commit failed for %s %s: %v",
			change.Transaction.Type, change.Transaction.ID, err)
		if errors.Is(err, ledger.ErrWriteRolledBack) {
			return fmt.Errorf("commit failed: %w", err)
		}
		return fmt.Errorf("%w: %v", ledger.ErrStatusUnknown, err)
	}
	return nil
}

// outcome records the operation metric and passes the error through.
func (s *Service) outcome(op string, err error) error {
	switch {
	case err == nil:
		metrics.OperationsTotal.WithLabelValues(op, "accepted").Inc()
	case ledger.IsRejection(err):
		metrics.OperationsTotal.WithLabelValues(op, "rejected").Inc()
		metrics.RejectionsTotal.WithLabelValues(rejectionReason(err)).Inc()
	case ledger.IsValidation(err):
		metrics.OperationsTotal.WithLabelValues(op, "invalid").Inc()
	default:
		metrics.OperationsTotal.WithLabelValues(op, "error").Inc()
	}
	return err
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBuyingPower):
		return "insufficient_buying_power"
	case errors.Is(err, ledger.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ledger.ErrNoSuchPosition):
		return "no_such_position"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "other"
	}
}
