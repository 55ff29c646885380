// Package store defines the persistence interface for the energy market.
// Implementations include PostgreSQL and SQLite (sources of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/energy-market/internal/model"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("store: not found")

// TradeJournal receives settled trades in log order.
type TradeJournal interface {
	AppendTrade(ctx context.Context, t *model.Trade) error
}

// KV is a string key-value store. Identity assignments live here.
type KV interface {
	// Get returns ErrNotFound when key has no value.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Store is the persistence interface.
type Store interface {
	TradeJournal
	KV

	// ListTrades returns every journaled trade in append order.
	ListTrades(ctx context.Context) ([]model.Trade, error)

	// SaveBuildings replaces the building snapshot.
	SaveBuildings(ctx context.Context, buildings []model.Building) error

	// LoadBuildings returns the last snapshot ordered by ID, or nil if none.
	LoadBuildings(ctx context.Context) ([]model.Building, error)
}

// parseAmounts fills t's monetary columns from their stored text form.
// A corrupt column fails the read rather than loading as zero.
func parseAmounts(t *model.Trade, amount, price, total string) error {
	for _, c := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"energy_amount", amount, &t.EnergyAmount},
		{"price_per_unit", price, &t.PricePerUnit},
		{"total_price", total, &t.TotalPrice},
	} {
		v, err := decimal.NewFromString(c.raw)
		if err != nil {
			return fmt.Errorf("trade %s: %s %q: %w", t.SettlementRef, c.name, c.raw, err)
		}
		*c.dst = v
	}
	return nil
}
