/*
store.go - Persistence contract for the ledger

PURPOSE:
  Defines the interface between the decision logic and the database.
  The Transaction log is append-only; Wallet and Positions are the derived,
  mutable aggregates an accepted Change rewrites.

ATOMICITY CONTRACT:
  Apply() is the only write entry point. One accepted operation touches up
  to three records (wallet, one position, one transaction) and all of them
  must become visible together or not at all. A crash after writing the
  wallet but before the transaction must not leave an unrecorded cash
  movement.

UNIQUENESS:
  Implementations enforce one wallet row and at most one position per symbol.

IMPLEMENTATIONS:
  - store/sqlite: durable SQLite store (production)
  - ledger/store: in-memory store (tests/dev)

SEE ALSO:
  - engine.go:       Produces the Change values Apply persists
  - account/service.go: Calls Apply under its serialization lock
*/
package ledger

import (
	"context"
	"time"
)

// TransactionFilter narrows a transaction history query. Zero values mean
// "no constraint"; Limit 0 falls back to DefaultTransactionLimit, negative
// Limit means unlimited (replay and performance aggregation need the full
// log).
type TransactionFilter struct {
	Type  TransactionType // empty = all types
	Limit int
	Start time.Time // inclusive
	End   time.Time // inclusive
}

// EffectiveLimit resolves the filter's limit: 0 -> default, <0 -> unlimited
// (returns -1, which SQLite also accepts as "no limit").
func (f TransactionFilter) EffectiveLimit() int {
	switch {
	case f.Limit < 0:
		return -1
	case f.Limit == 0:
		return DefaultTransactionLimit
	default:
		return f.Limit
	}
}

// DefaultTransactionLimit caps history queries that do not set a limit.
const DefaultTransactionLimit = 50

// Store handles persistence of the three record kinds.
//
// Reads may be stale but must be internally consistent. Writes go through
// Apply exclusively, and Apply is atomic across all records in the Change.
type Store interface {
	// Wallet returns the singleton wallet, creating it with the seed balance
	// on first access.
	Wallet(ctx context.Context) (Wallet, error)

	// Position returns the position for a (normalized) symbol, nil when the
	// symbol is not held.
	Position(ctx context.Context, symbol string) (*Position, error)

	// Positions returns all open positions, ordered by symbol.
	Positions(ctx context.Context) ([]Position, error)

	// Transactions returns log entries matching the filter, newest first.
	Transactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	// Apply atomically persists one accepted operation: the new wallet, the
	// position upsert or delete, and the appended transaction.
	Apply(ctx context.Context, change Change) error
}

// RebuildStore is implemented by stores that can atomically replace wallet
// and positions with state rebuilt from the transaction log (crash recovery).
type RebuildStore interface {
	Store

	// ReplaceState overwrites the wallet and the full position set in one
	// atomic write. The transaction log is untouched.
	ReplaceState(ctx context.Context, wallet Wallet, positions []Position) error
}
