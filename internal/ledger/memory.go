package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryNetwork is an in-process payment network. Used for development and
// testing. Accounts are created on first use with a zero balance.
type MemoryNetwork struct {
	mu       sync.Mutex
	accounts map[string]int64
	seq      int64

	// Failure injection.
	FailTransfers bool
	FailBalance   bool
	Unconfirmed   bool
}

// NewMemoryNetwork creates an empty in-memory network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{accounts: make(map[string]int64)}
}

// Open creates an account with an opening balance in base units.
func (n *MemoryNetwork) Open(identity string, units int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts[identity] = units
}

func (n *MemoryNetwork) Transfer(_ context.Context, from, to string, amount int64) (Confirmation, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.FailTransfers {
		return Confirmation{}, ErrUnavailable
	}
	if amount <= 0 {
		return Confirmation{}, ErrInvalidAmount
	}
	if _, ok := n.accounts[from]; !ok {
		return Confirmation{}, fmt.Errorf("%w: %s", ErrUnknownAccount, from)
	}
	if n.accounts[from] < amount {
		return Confirmation{}, fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, n.accounts[from], amount)
	}

	n.seq++
	ref := fmt.Sprintf("mem-%08d", n.seq)
	if n.Unconfirmed {
		return Confirmation{Confirmed: false, Reference: ref}, nil
	}

	n.accounts[from] -= amount
	n.accounts[to] += amount
	return Confirmation{Confirmed: true, Reference: ref}, nil
}

func (n *MemoryNetwork) Balance(_ context.Context, identity string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.FailBalance {
		return 0, ErrUnavailable
	}
	units, ok := n.accounts[identity]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAccount, identity)
	}
	return units, nil
}

func (n *MemoryNetwork) Ping(context.Context) error { return nil }

// RequestFunds credits identity, creating the account if needed.
func (n *MemoryNetwork) RequestFunds(_ context.Context, identity string, amount int64) (Confirmation, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if amount <= 0 {
		return Confirmation{}, ErrInvalidAmount
	}
	n.accounts[identity] += amount
	n.seq++
	return Confirmation{Confirmed: true, Reference: fmt.Sprintf("mem-airdrop-%08d", n.seq)}, nil
}
