// Package store provides an in-memory ledger.Store implementation
// (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/papertrade/brokerage/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	wallet       *ledger.Wallet
	positions    map[string]ledger.Position
	transactions []ledger.Transaction
}

func NewMemory() *Memory {
	return &Memory{
		positions: make(map[string]ledger.Position),
	}
}

// Wallet returns the singleton wallet, seeding it on first access.
func (m *Memory) Wallet(_ context.Context) (ledger.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.wallet == nil {
		w := ledger.NewWallet(time.Now().UTC())
		m.wallet = &w
	}
	return *m.wallet, nil
}

func (m *Memory) Position(_ context.Context, symbol string) (*ledger.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[ledger.NormalizeSymbol(symbol)]
	if !ok {
		return nil, nil
	}
	return &pos, nil
}

func (m *Memory) Positions(_ context.Context) ([]ledger.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

func (m *Memory) Transactions(_ context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.EffectiveLimit()

	// Newest first.
	var result []ledger.Transaction
	for i := len(m.transactions) - 1; i >= 0 && (limit < 0 || len(result) < limit); i-- {
		tx := m.transactions[i]
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if !filter.Start.IsZero() && tx.Timestamp.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && tx.Timestamp.After(filter.End) {
			continue
		}
		result = append(result, tx)
	}
	return result, nil
}

// Apply persists one accepted operation. The mutex makes the multi-record
// write atomic relative to every read and every other Apply.
func (m *Memory) Apply(_ context.Context, change ledger.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := change.Wallet
	m.wallet = &w

	if change.Position != nil {
		m.positions[change.Position.Symbol] = *change.Position
	}
	if change.DeleteSymbol != "" {
		delete(m.positions, change.DeleteSymbol)
	}

	m.transactions = append(m.transactions, change.Transaction)
	// Keep the log ordered even if callers supply out-of-order timestamps.
	sort.SliceStable(m.transactions, func(i, j int) bool {
		return m.transactions[i].Timestamp.Before(m.transactions[j].Timestamp)
	})
	return nil
}

// ReplaceState swaps wallet and positions atomically (crash recovery).
func (m *Memory) ReplaceState(_ context.Context, wallet ledger.Wallet, positions []ledger.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := wallet
	m.wallet = &w
	m.positions = make(map[string]ledger.Position, len(positions))
	for _, pos := range positions {
		m.positions[pos.Symbol] = pos
	}
	return nil
}
