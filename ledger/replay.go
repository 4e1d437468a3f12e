/*
replay.go - Rebuild wallet and positions from the transaction log

PURPOSE:
  The Transaction log is the append-only source of truth; Wallet and
  Position rows are derived aggregates. Replay reconstructs both from the
  log alone, which gives a natural recovery path after a crash and makes
  the cash-conservation property executable.

REPLAY RULES (mirror of engine.go):
  DEPOSIT     balance += amount
  WITHDRAWAL  balance -= amount
  BUY         balance -= amount; position re-averaged or created
  SELL        balance += amount; position reduced, deleted at zero;
              avg_cost untouched

SEE ALSO:
  - account/service.go: Recover() feeds the result to RebuildStore
*/
package ledger

import (
	"fmt"
	"sort"
	"time"
)

// ReplayResult is the state derived from a transaction sequence.
type ReplayResult struct {
	Wallet    Wallet
	Positions []Position
}

// Replay folds a transaction log into wallet + positions, starting from the
// seed balance. Transactions are processed in timestamp order regardless of
// input order. Returns an error if the log implies an impossible state
// (negative balance or oversold position), which indicates log corruption.
func Replay(txs []Transaction, now time.Time) (ReplayResult, error) {
	sorted := make([]Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	wallet := NewWallet(now)
	positions := make(map[string]*Position)

	for _, tx := range sorted {
		switch tx.Type {
		case TxDeposit:
			wallet = credit(wallet, tx.Amount, now)

		case TxWithdrawal:
			wallet = debit(wallet, tx.Amount, now)

		case TxBuy:
			wallet = debit(wallet, tx.Amount, now)
			if pos, ok := positions[tx.Symbol]; ok {
				newShares := pos.Shares.Add(tx.Shares)
				pos.AvgCost = pos.AvgCost.Mul(pos.Shares).Add(tx.Price.Mul(tx.Shares)).Div(newShares)
				pos.Shares = newShares
				pos.UpdatedAt = tx.Timestamp
			} else {
				positions[tx.Symbol] = &Position{
					Symbol:    tx.Symbol,
					Shares:    tx.Shares,
					AvgCost:   tx.Price,
					CreatedAt: tx.Timestamp,
					UpdatedAt: tx.Timestamp,
				}
			}

		case TxSell:
			wallet = credit(wallet, tx.Amount, now)
			pos, ok := positions[tx.Symbol]
			if !ok || pos.Shares.LessThan(tx.Shares) {
				return ReplayResult{}, fmt.Errorf("replay: sell of %s %s at %s exceeds held shares",
					tx.Shares, tx.Symbol, tx.Timestamp.Format(time.RFC3339))
			}
			pos.Shares = pos.Shares.Sub(tx.Shares)
			pos.UpdatedAt = tx.Timestamp
			if pos.Shares.IsZero() {
				delete(positions, tx.Symbol)
			}

		default:
			return ReplayResult{}, fmt.Errorf("replay: unknown transaction type %q", tx.Type)
		}

		if wallet.Balance.IsNegative() {
			return ReplayResult{}, fmt.Errorf("replay: balance negative after %s at %s",
				tx.Type, tx.Timestamp.Format(time.RFC3339))
		}
	}

	result := ReplayResult{Wallet: wallet}
	for _, pos := range positions {
		result.Positions = append(result.Positions, *pos)
	}
	sort.Slice(result.Positions, func(i, j int) bool {
		return result.Positions[i].Symbol < result.Positions[j].Symbol
	})
	return result, nil
}
