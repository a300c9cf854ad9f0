package exchange

import (
	"sync"

	"github.com/erain9/exchango/pkg/core"
)

// Ledger is the shared trade log. Transaction ids start at 1 and follow the
// order in which trades are recorded.
type Ledger struct {
	mu     sync.Mutex
	nextID int64
	txs    []core.Transaction
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{nextID: 1}
}

// Record allocates an id and appends the trade
func (l *Ledger) Record(buy, sell core.PositionOrder, amount, price int) core.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := core.NewTransaction(l.nextID, buy, sell, amount, price)
	l.nextID++
	l.txs = append(l.txs, tx)
	return tx
}

// Transactions returns a copy of the ledger in creation order
func (l *Ledger) Transactions() []core.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]core.Transaction, len(l.txs))
	copy(out, l.txs)
	return out
}

// Len returns the number of recorded trades
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.txs)
}
