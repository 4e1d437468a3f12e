/*
Package sqlite provides the SQLite-backed implementation of ledger.Store.

PURPOSE:
  Durable persistence for the three record kinds: wallet (one row),
  positions (unique per symbol), transactions (append-only log). The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements ever touch the transactions table. The
  wallet row and position rows are derived aggregates and are rewritten by
  Apply; the log is the source of truth.

KEY TABLES:
  wallet:        Singleton cash record (id fixed to 1)
  positions:     One row per held symbol, removed at full liquidation
  transactions:  Immutable log of accepted operations

INDEXES:
  idx_transactions_timestamp:  History queries (newest first, hot path)
  idx_transactions_type:       Type-filtered history
  idx_transactions_symbol:     Per-symbol reconciliation

ATOMICITY:
  Apply runs wallet write + position upsert/delete + transaction insert
  inside one SQL transaction. All three become visible together or not at
  all.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/brokerage.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - ledger/store.go:        Interface definition
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/papertrade/brokerage/ledger"
)

// timeLayout is a fixed-width RFC3339 variant so stored timestamps order
// lexically. All times are stored in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.Store and ledger.RebuildStore using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time, and pooled connections to a
	// ":memory:" path would each get their own database. One connection
	// serves both cases.
	db.SetMaxOpenConns(1)

	st := &Store{db: db}
	if err := st.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return st, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Singleton wallet. The id check keeps it to exactly one row.
	CREATE TABLE IF NOT EXISTS wallet (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		balance TEXT NOT NULL,
		buying_power TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One row per held symbol. Removed at full liquidation, never zeroed.
	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT PRIMARY KEY,
		shares TEXT NOT NULL,
		avg_cost TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only transaction log.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		tx_type TEXT NOT NULL,
		symbol TEXT,
		shares TEXT,
		price TEXT,
		amount TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_timestamp
		ON transactions(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_type
		ON transactions(tx_type);
	CREATE INDEX IF NOT EXISTS idx_transactions_symbol
		ON transactions(symbol) WHERE symbol IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROW TYPES - sqlx scanning targets
// =============================================================================

type walletRow struct {
	Balance     string `db:"balance"`
	BuyingPower string `db:"buying_power"`
	UpdatedAt   string `db:"updated_at"`
}

type positionRow struct {
	Symbol    string `db:"symbol"`
	Shares    string `db:"shares"`
	AvgCost   string `db:"avg_cost"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

type transactionRow struct {
	ID        string         `db:"id"`
	Type      string         `db:"tx_type"`
	Symbol    sql.NullString `db:"symbol"`
	Shares    sql.NullString `db:"shares"`
	Price     sql.NullString `db:"price"`
	Amount    string         `db:"amount"`
	Timestamp string         `db:"timestamp"`
	Status    string         `db:"status"`
}

// =============================================================================
// WALLET
// =============================================================================

const (
	queryWallet  = `SELECT balance, buying_power, updated_at FROM wallet WHERE id = 1`
	insertWallet = `INSERT INTO wallet (id, balance, buying_power, updated_at)
	                VALUES (1, ?, ?, ?) ON CONFLICT (id) DO NOTHING`
	upsertWallet = `INSERT INTO wallet (id, balance, buying_power, updated_at)
	                VALUES (1, ?, ?, ?)
	                ON CONFLICT (id) DO UPDATE SET
	                    balance = excluded.balance,
	                    buying_power = excluded.buying_power,
	                    updated_at = excluded.updated_at`
)

// Wallet returns the singleton wallet, seeding it on first access.
func (s *Store) Wallet(ctx context.Context) (ledger.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row walletRow
	err := s.db.GetContext(ctx, &row, queryWallet)
	if errors.Is(err, sql.ErrNoRows) {
		w := ledger.NewWallet(time.Now().UTC())
		if _, err := s.db.ExecContext(ctx, insertWallet,
			w.Balance.String(), w.BuyingPower.String(), w.UpdatedAt.Format(timeLayout)); err != nil {
			return ledger.Wallet{}, fmt.Errorf("failed to seed wallet: %w", err)
		}
		// Re-read: a concurrent seeder may have won the insert.
		err = s.db.GetContext(ctx, &row, queryWallet)
	}
	if err != nil {
		return ledger.Wallet{}, fmt.Errorf("failed to load wallet: %w", err)
	}
	return row.toWallet()
}

// =============================================================================
// POSITIONS
// =============================================================================

// Position returns the position for a symbol, nil when not held.
func (s *Store) Position(ctx context.Context, symbol string) (*ledger.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row positionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT symbol, shares, avg_cost, created_at, updated_at FROM positions WHERE symbol = ?`,
		ledger.NormalizeSymbol(symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}

	pos, err := row.toPosition()
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// Positions returns all open positions ordered by symbol.
func (s *Store) Positions(ctx context.Context) ([]ledger.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []positionRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT symbol, shares, avg_cost, created_at, updated_at FROM positions ORDER BY symbol ASC`); err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	positions := make([]ledger.Position, 0, len(rows))
	for _, row := range rows {
		pos, err := row.toPosition()
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// Transactions returns log entries matching the filter, newest first.
func (s *Store) Transactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, tx_type, symbol, shares, price, amount, timestamp, status FROM transactions`
	var conds []string
	var args []any

	if filter.Type != "" {
		conds = append(conds, "tx_type = ?")
		args = append(args, string(filter.Type))
	}
	if !filter.Start.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Start.UTC().Format(timeLayout))
	}
	if !filter.End.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.End.UTC().Format(timeLayout))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	// SQLite treats LIMIT -1 as unlimited, matching EffectiveLimit.
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, filter.EffectiveLimit())

	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	txs := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toTransaction()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// =============================================================================
// APPLY - Atomic multi-record commit
// =============================================================================

// Apply persists one accepted operation inside a single SQL transaction.
//
// Failures before COMMIT are rolled back and wrapped in ErrWriteRolledBack:
// the store guarantees nothing was applied. Only a COMMIT failure is
// returned raw, because its outcome is genuinely ambiguous.
func (s *Store) Apply(ctx context.Context, change ledger.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ledger.ErrWriteRolledBack, err)
	}
	defer sqlTx.Rollback()

	if err := applyRecords(ctx, sqlTx, change); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrWriteRolledBack, err)
	}

	return sqlTx.Commit()
}

func applyRecords(ctx context.Context, sqlTx *sqlx.Tx, change ledger.Change) error {
	w := change.Wallet
	if _, err := sqlTx.ExecContext(ctx, upsertWallet,
		w.Balance.String(), w.BuyingPower.String(), w.UpdatedAt.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("failed to write wallet: %w", err)
	}

	if pos := change.Position; pos != nil {
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT INTO positions (symbol, shares, avg_cost, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (symbol) DO UPDATE SET
			     shares = excluded.shares,
			     avg_cost = excluded.avg_cost,
			     updated_at = excluded.updated_at`,
			pos.Symbol, pos.Shares.String(), pos.AvgCost.String(),
			pos.CreatedAt.UTC().Format(timeLayout), pos.UpdatedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("failed to write position: %w", err)
		}
	}
	if change.DeleteSymbol != "" {
		if _, err := sqlTx.ExecContext(ctx,
			`DELETE FROM positions WHERE symbol = ?`, change.DeleteSymbol); err != nil {
			return fmt.Errorf("failed to delete position: %w", err)
		}
	}

	tx := change.Transaction
	var symbol, shares, price any
	if tx.Symbol != "" {
		symbol = tx.Symbol
		shares = tx.Shares.String()
		price = tx.Price.String()
	}
	if _, err := sqlTx.ExecContext(ctx,
		`INSERT INTO transactions (id, tx_type, symbol, shares, price, amount, timestamp, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		string(tx.Type),
		symbol,
		shares,
		price,
		tx.Amount.String(),
		tx.Timestamp.UTC().Format(timeLayout),
		string(tx.Status)); err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	return nil
}

// ReplaceState overwrites wallet and positions in one SQL transaction
// (crash recovery via log replay). The transaction log is untouched.
func (s *Store) ReplaceState(ctx context.Context, wallet ledger.Wallet, positions []ledger.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, upsertWallet,
		wallet.Balance.String(), wallet.BuyingPower.String(), wallet.UpdatedAt.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("failed to write wallet: %w", err)
	}

	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}
	for _, pos := range positions {
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT INTO positions (symbol, shares, avg_cost, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			pos.Symbol, pos.Shares.String(), pos.AvgCost.String(),
			pos.CreatedAt.UTC().Format(timeLayout), pos.UpdatedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("failed to write position %s: %w", pos.Symbol, err)
		}
	}

	return sqlTx.Commit()
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (r walletRow) toWallet() (ledger.Wallet, error) {
	balance, err := parseDecimal(r.Balance, "wallet balance")
	if err != nil {
		return ledger.Wallet{}, err
	}
	buyingPower, err := parseDecimal(r.BuyingPower, "wallet buying power")
	if err != nil {
		return ledger.Wallet{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt, "wallet updated_at")
	if err != nil {
		return ledger.Wallet{}, err
	}
	return ledger.Wallet{Balance: balance, BuyingPower: buyingPower, UpdatedAt: updatedAt}, nil
}

func (r positionRow) toPosition() (ledger.Position, error) {
	shares, err := parseDecimal(r.Shares, "position shares")
	if err != nil {
		return ledger.Position{}, err
	}
	avgCost, err := parseDecimal(r.AvgCost, "position avg_cost")
	if err != nil {
		return ledger.Position{}, err
	}
	createdAt, err := parseTime(r.CreatedAt, "position created_at")
	if err != nil {
		return ledger.Position{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt, "position updated_at")
	if err != nil {
		return ledger.Position{}, err
	}
	return ledger.Position{
		Symbol:    r.Symbol,
		Shares:    shares,
		AvgCost:   avgCost,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func (r transactionRow) toTransaction() (ledger.Transaction, error) {
	tx := ledger.Transaction{
		ID:     r.ID,
		Type:   ledger.TransactionType(r.Type),
		Status: ledger.TransactionStatus(r.Status),
	}

	var err error
	if tx.Amount, err = parseDecimal(r.Amount, "transaction amount"); err != nil {
		return ledger.Transaction{}, err
	}
	if tx.Timestamp, err = parseTime(r.Timestamp, "transaction timestamp"); err != nil {
		return ledger.Transaction{}, err
	}
	if r.Symbol.Valid {
		tx.Symbol = r.Symbol.String
	}
	if r.Shares.Valid {
		if tx.Shares, err = parseDecimal(r.Shares.String, "transaction shares"); err != nil {
			return ledger.Transaction{}, err
		}
	}
	if r.Price.Valid {
		if tx.Price, err = parseDecimal(r.Price.String, "transaction price"); err != nil {
			return ledger.Transaction{}, err
		}
	}
	return tx, nil
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("corrupt %s %q: %w", field, s, err)
	}
	return d, nil
}

func parseTime(s, field string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt %s %q: %w", field, s, err)
	}
	return t, nil
}
