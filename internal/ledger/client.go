// Package ledger defines the payment-network boundary used for settlement.
//
// The network is an opaque service: it moves an integer amount of its
// smallest currency unit between two account identities, reports balances,
// and answers a connectivity check. Timeouts and confirmation policy belong
// to the client implementation, never to its callers.
package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// BaseUnitsPerCoin is the number of smallest units in one currency unit.
const BaseUnitsPerCoin int64 = 1_000_000_000

// SimulatedPrefix marks settlement references generated locally.
const SimulatedPrefix = "SIMULATED_"

var (
	// ErrUnavailable is returned when the network cannot be reached.
	ErrUnavailable = errors.New("ledger: network unavailable")

	// ErrNotConfirmed is returned when a submitted transfer was not confirmed.
	ErrNotConfirmed = errors.New("ledger: transfer not confirmed")

	// ErrInsufficientFunds is returned when the payer cannot cover a transfer.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrUnknownAccount is returned for an identity the network does not know.
	ErrUnknownAccount = errors.New("ledger: unknown account")

	// ErrInvalidAmount is returned for non-positive transfer amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Confirmation is the network's answer to a transfer.
type Confirmation struct {
	Confirmed bool   `json:"confirmed"`
	Reference string `json:"reference"`
}

// Client is the payment network.
type Client interface {
	// Transfer moves amount base units from one identity to another and
	// waits for the network's verdict.
	Transfer(ctx context.Context, from, to string, amount int64) (Confirmation, error)

	// Balance returns the spendable base units held by identity.
	Balance(ctx context.Context, identity string) (int64, error)

	// Ping checks that the network is reachable.
	Ping(ctx context.Context) error
}

// Faucet is implemented by networks that can mint test funds.
type Faucet interface {
	RequestFunds(ctx context.Context, identity string, amount int64) (Confirmation, error)
}

// Reachable reports whether c answers a connectivity check.
func Reachable(ctx context.Context, c Client) bool {
	if c == nil {
		return false
	}
	return c.Ping(ctx) == nil
}

// ToBaseUnits converts a currency amount to base units, rounding down.
func ToBaseUnits(amount decimal.Decimal) int64 {
	return amount.Shift(9).Floor().IntPart()
}

// FromBaseUnits converts base units to a currency amount.
func FromBaseUnits(units int64) decimal.Decimal {
	return decimal.New(units, -9)
}

// IsSimulatedRef reports whether ref was generated by the local fallback.
func IsSimulatedRef(ref string) bool {
	return strings.HasPrefix(ref, SimulatedPrefix)
}

// ExplorerLink returns a block-explorer URL for a real settlement reference,
// or "" for simulated or empty references.
func ExplorerLink(base, ref string) string {
	if base == "" || ref == "" || IsSimulatedRef(ref) {
		return ""
	}
	if strings.Contains(base, "%s") {
		return strings.Replace(base, "%s", ref, 1)
	}
	return strings.TrimRight(base, "/") + "/" + ref
}

// Offline is a Client for running without a network. Every call fails,
// so all trades settle through the local fallback.
type Offline struct{}

func (Offline) Transfer(context.Context, string, string, int64) (Confirmation, error) {
	return Confirmation{}, ErrUnavailable
}

func (Offline) Balance(context.Context, string) (int64, error) {
	return 0, ErrUnavailable
}

func (Offline) Ping(context.Context) error { return ErrUnavailable }
