package settlement

import (
	"sync"

	"github.com/atmx/energy-market/internal/model"
)

// Log is the append-only record of settled trades. Entries are never
// modified or removed once appended.
type Log struct {
	mu     sync.RWMutex
	trades []model.Trade
}

// NewLog creates an empty trade log.
func NewLog() *Log {
	return &Log{}
}

// Append adds a trade and returns its position.
func (l *Log) Append(t model.Trade) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.trades = append(l.trades, t)
	return len(l.trades) - 1
}

// Restore seeds an empty log with previously persisted trades. It is a
// no-op on a log that already holds entries.
func (l *Log) Restore(trades []model.Trade) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.trades) > 0 {
		return false
	}
	l.trades = append(l.trades, trades...)
	return true
}

// All returns a copy of every trade in append order.
func (l *Log) All() []model.Trade {
	return l.Since(0)
}

// Since returns a copy of the trades at positions n and later.
func (l *Log) Since(n int) []model.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	if n >= len(l.trades) {
		return nil
	}
	out := make([]model.Trade, len(l.trades)-n)
	copy(out, l.trades[n:])
	return out
}

// Last returns a copy of at most n of the newest trades, oldest first.
func (l *Log) Last(n int) []model.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := len(l.trades) - n
	if start < 0 {
		start = 0
	}
	if n <= 0 || start >= len(l.trades) {
		return nil
	}
	out := make([]model.Trade, len(l.trades)-start)
	copy(out, l.trades[start:])
	return out
}

// Len returns the number of trades recorded.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}
