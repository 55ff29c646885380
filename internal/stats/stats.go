// Package stats derives market summaries from the trade log. Everything
// here is a pure function of its inputs and can be recomputed at any time.
package stats

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/energy-market/internal/model"
)

// Aggregate summarises trades. AveragePrice is the unweighted mean of
// PricePerUnit. An empty slice yields the zero MarketStats.
func Aggregate(trades []model.Trade) model.MarketStats {
	var r Running
	r.AddAll(trades)
	return r.Stats()
}

// Running folds trades one at a time. The zero value is ready to use and
// Stats always equals Aggregate over the trades added so far.
type Running struct {
	volume    decimal.Decimal
	priceSum  decimal.Decimal
	highest   decimal.Decimal
	lowest    decimal.Decimal
	count     int
	simulated int
}

// Add folds one trade.
func (r *Running) Add(t model.Trade) {
	if r.count == 0 {
		r.highest = t.PricePerUnit
		r.lowest = t.PricePerUnit
	} else {
		r.highest = decimal.Max(r.highest, t.PricePerUnit)
		r.lowest = decimal.Min(r.lowest, t.PricePerUnit)
	}
	r.volume = r.volume.Add(t.EnergyAmount)
	r.priceSum = r.priceSum.Add(t.PricePerUnit)
	r.count++
	if t.Simulated {
		r.simulated++
	}
}

// AddAll folds trades in order.
func (r *Running) AddAll(trades []model.Trade) {
	for i := range trades {
		r.Add(trades[i])
	}
}

// Stats returns the summary so far.
func (r *Running) Stats() model.MarketStats {
	if r.count == 0 {
		return model.MarketStats{}
	}
	return model.MarketStats{
		TotalVolume:    r.volume,
		AveragePrice:   r.priceSum.Div(decimal.NewFromInt(int64(r.count))),
		HighestPrice:   r.highest,
		LowestPrice:    r.lowest,
		TradeCount:     r.count,
		RealCount:      r.count - r.simulated,
		SimulatedCount: r.simulated,
	}
}

var (
	// DefaultGridPrice is the utility tariff per kWh used for savings.
	DefaultGridPrice = decimal.RequireFromString("0.15")

	// DefaultP2PPrice is the peer price per kWh used for savings.
	DefaultP2PPrice = decimal.RequireFromString("0.01")
)

// Savings is what buyers saved by trading locally instead of buying the
// same volume from the grid.
func Savings(trades []model.Trade, gridPrice, p2pPrice decimal.Decimal) decimal.Decimal {
	volume := decimal.Zero
	for i := range trades {
		volume = volume.Add(trades[i].EnergyAmount)
	}
	return volume.Mul(gridPrice.Sub(p2pPrice))
}
