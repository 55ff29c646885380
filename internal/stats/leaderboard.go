package stats

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/energy-market/internal/model"
)

// DefaultCarbonFactor is the grid emission intensity in kg CO2 per kWh.
var DefaultCarbonFactor = decimal.RequireFromString("0.5")

// Score weights.
var (
	energyWeight     = decimal.NewFromInt(2)
	carbonWeight     = decimal.RequireFromString("0.5")
	efficiencyWeight = decimal.RequireFromString("0.2")
)

// Entry is one building's standing in the community leaderboard.
type Entry struct {
	BuildingID   string          `json:"building_id"`
	Kind         model.Kind      `json:"kind"`
	EnergySold   decimal.Decimal `json:"energy_sold"`
	Revenue      decimal.Decimal `json:"revenue"`
	CarbonOffset decimal.Decimal `json:"carbon_offset_kg"`
	Efficiency   decimal.Decimal `json:"efficiency"`
	TradeCount   int             `json:"trade_count"`
	Score        decimal.Decimal `json:"score"`
}

// Leaderboard ranks every building, sellers or not, plus any seller in
// trades that is no longer in the building set. Efficiency uses the
// building's current production and consumption, so a building that has
// not sold still scores on it.
func Leaderboard(buildings []model.Building, trades []model.Trade, carbonFactor decimal.Decimal) []Entry {
	byID := make(map[string]*Entry, len(buildings))
	var order []string
	entry := func(id string) *Entry {
		e, ok := byID[id]
		if !ok {
			e = &Entry{BuildingID: id}
			byID[id] = e
			order = append(order, id)
		}
		return e
	}

	for i := range buildings {
		b := &buildings[i]
		e := entry(b.ID)
		e.Kind = b.Kind
		e.Efficiency = efficiency(b)
	}
	for i := range trades {
		t := &trades[i]
		e := entry(t.SellerID)
		e.EnergySold = e.EnergySold.Add(t.EnergyAmount)
		e.Revenue = e.Revenue.Add(t.TotalPrice)
		e.TradeCount++
	}

	entries := make([]Entry, 0, len(order))
	for _, id := range order {
		e := byID[id]
		e.CarbonOffset = e.EnergySold.Mul(carbonFactor)
		e.Score = e.EnergySold.Mul(energyWeight).
			Add(e.CarbonOffset.Mul(carbonWeight)).
			Add(e.Efficiency.Mul(efficiencyWeight))
		entries = append(entries, *e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if c := entries[i].Score.Cmp(entries[j].Score); c != 0 {
			return c > 0
		}
		return entries[i].BuildingID < entries[j].BuildingID
	})
	return entries
}

// efficiency is production as a percentage of consumption, with
// consumption floored at 1 kWh. Zero when not producing.
func efficiency(b *model.Building) decimal.Decimal {
	if b.Production <= 0 {
		return decimal.Zero
	}
	consumption := b.Consumption
	if consumption < 1 {
		consumption = 1
	}
	return decimal.NewFromFloat(b.Production / consumption * 100).Round(2)
}
