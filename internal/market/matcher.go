// Package market turns a snapshot of building energy balances into an ordered
// list of trade requests.
//
// The matcher is stateless: every call works from the snapshot it is given,
// computes one clearing price for the whole tick, and pairs sellers with
// buyers in a fixed order so results are reproducible.
package market

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/energy-market/internal/metrics"
	"github.com/atmx/energy-market/internal/model"
)

// BuyerPriority selects the order in which buyers are served.
type BuyerPriority string

const (
	// SmallestDeficitFirst sorts buyers by net balance descending, so a
	// building at -3 kWh is served before one at -4 kWh.
	SmallestDeficitFirst BuyerPriority = "smallest-deficit-first"

	// LargestDeficitFirst serves the building with the biggest shortfall first.
	LargestDeficitFirst BuyerPriority = "largest-deficit-first"
)

var (
	// DefaultBasePrice is the price per kWh before demand scaling.
	DefaultBasePrice = decimal.RequireFromString("0.01")

	// DefaultMinBuyerFunds is the balance below which a buyer sits out a tick.
	DefaultMinBuyerFunds = decimal.RequireFromString("0.01")

	// PriceScale is the number of decimal places kept on the clearing price,
	// matching the ledger's smallest currency unit.
	PriceScale int32 = 9
)

// Config holds the market parameters.
type Config struct {
	BasePrice     decimal.Decimal
	MinBuyerFunds decimal.Decimal
	BuyerPriority BuyerPriority
}

// DefaultConfig returns the standard market parameters.
func DefaultConfig() Config {
	return Config{
		BasePrice:     DefaultBasePrice,
		MinBuyerFunds: DefaultMinBuyerFunds,
		BuyerPriority: SmallestDeficitFirst,
	}
}

// Matcher pairs surplus producers with deficit consumers.
type Matcher struct {
	cfg    Config
	logger *slog.Logger
}

// NewMatcher creates a matcher. Pass nil logger to use slog.Default().
func NewMatcher(cfg Config, logger *slog.Logger) *Matcher {
	if cfg.BuyerPriority == "" {
		cfg.BuyerPriority = SmallestDeficitFirst
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{cfg: cfg, logger: logger}
}

// Config returns the matcher's parameters.
func (m *Matcher) Config() Config { return m.cfg }

// participant is a building's position for one matching pass.
type participant struct {
	id    string
	net   decimal.Decimal // signed kWh
	funds decimal.Decimal
}

// ClearingPrice computes the single market-wide price for a tick:
//
//	base × (0.8 + 0.4 × buyers / max(1, sellers))
func ClearingPrice(base decimal.Decimal, buyers, sellers int) decimal.Decimal {
	if sellers < 1 {
		sellers = 1
	}
	demand := decimal.NewFromInt(int64(buyers)).Div(decimal.NewFromInt(int64(sellers)))
	factor := decimal.RequireFromString("0.8").Add(decimal.RequireFromString("0.4").Mul(demand))
	return base.Mul(factor).Round(PriceScale)
}

// Match derives the trade requests for one tick. The result is empty when
// there are no sellers, no buyers, or no buyer can afford to trade.
func (m *Matcher) Match(buildings []model.Building) []model.TradeRequest {
	if !m.cfg.BasePrice.IsPositive() {
		return nil
	}

	sellers, buyers := m.partition(buildings)
	metrics.MarketParticipants.WithLabelValues("seller").Set(float64(len(sellers)))
	metrics.MarketParticipants.WithLabelValues("buyer").Set(float64(len(buyers)))
	if len(sellers) == 0 || len(buyers) == 0 {
		m.logger.Debug("no trading possible", "sellers", len(sellers), "buyers", len(buyers))
		return nil
	}

	price := ClearingPrice(m.cfg.BasePrice, len(buyers), len(sellers))

	// Surplus is fixed at the start of the pass; sellers are not re-evaluated.
	remaining := make([]decimal.Decimal, len(sellers))
	for i, s := range sellers {
		remaining[i] = s.net
	}

	var requests []model.TradeRequest
	for _, buyer := range buyers {
		if buyer.funds.LessThan(m.cfg.MinBuyerFunds) {
			m.logger.Info("buyer has insufficient funds, skipping",
				"building", buyer.id,
				"balance", buyer.funds.String(),
			)
			continue
		}

		needed := buyer.net.Abs()
		for i, seller := range sellers {
			if !needed.IsPositive() {
				break
			}
			available := remaining[i]
			if !available.IsPositive() {
				continue
			}

			amount := decimal.Min(needed, available)
			requests = append(requests, model.TradeRequest{
				SellerID:     seller.id,
				BuyerID:      buyer.id,
				EnergyAmount: amount,
				PricePerUnit: price,
			})
			remaining[i] = available.Sub(amount)
			needed = needed.Sub(amount)
		}
	}

	m.logger.Debug("market matched",
		"sellers", len(sellers),
		"buyers", len(buyers),
		"price", price.String(),
		"requests", len(requests),
	)
	return requests
}

// partition splits valid buildings into sorted sellers and buyers.
func (m *Matcher) partition(buildings []model.Building) (sellers, buyers []participant) {
	for i := range buildings {
		b := &buildings[i]
		if err := b.Validate(); err != nil {
			m.logger.Warn("building excluded from matching", "building", b.ID, "err", err)
			continue
		}

		net := decimal.NewFromFloat(b.NetBalance()).Truncate(model.EnergyScale)
		p := participant{id: b.ID, net: net, funds: b.Balance}
		switch {
		case net.IsPositive():
			sellers = append(sellers, p)
		case net.IsNegative():
			buyers = append(buyers, p)
		}
	}

	// Smallest surplus first.
	sort.SliceStable(sellers, func(i, j int) bool {
		return sellers[i].net.LessThan(sellers[j].net)
	})

	if m.cfg.BuyerPriority == LargestDeficitFirst {
		sort.SliceStable(buyers, func(i, j int) bool {
			return buyers[i].net.LessThan(buyers[j].net)
		})
	} else {
		sort.SliceStable(buyers, func(i, j int) bool {
			return buyers[i].net.GreaterThan(buyers[j].net)
		})
	}
	return sellers, buyers
}
