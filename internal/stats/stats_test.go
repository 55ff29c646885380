package stats

import (
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/atmx/energy-market/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func trade(seller, amount, price string, simulated bool) model.Trade {
	a, p := d(amount), d(price)
	return model.Trade{
		SellerID:     seller,
		BuyerID:      "buyer",
		EnergyAmount: a,
		PricePerUnit: p,
		TotalPrice:   a.Mul(p),
		Simulated:    simulated,
	}
}

func TestAggregate_Empty(t *testing.T) {
	s := Aggregate(nil)
	assert.True(t, s.IsZero())
	assert.Equal(t, 0, s.TradeCount)
}

func TestAggregate_ReferenceTick(t *testing.T) {
	s := Aggregate([]model.Trade{
		trade("1", "3", "0.016", false),
		trade("1", "2", "0.016", true),
	})

	assert.True(t, s.TotalVolume.Equal(d("5")), "volume %s", s.TotalVolume)
	assert.True(t, s.AveragePrice.Equal(d("0.016")))
	assert.True(t, s.HighestPrice.Equal(d("0.016")))
	assert.True(t, s.LowestPrice.Equal(d("0.016")))
	assert.Equal(t, 2, s.TradeCount)
	assert.Equal(t, 1, s.RealCount)
	assert.Equal(t, 1, s.SimulatedCount)
}

func TestAggregate_AverageIsUnweighted(t *testing.T) {
	s := Aggregate([]model.Trade{
		trade("1", "100", "0.01", false),
		trade("2", "1", "0.03", false),
	})
	assert.True(t, s.AveragePrice.Equal(d("0.02")), "expected unweighted mean 0.02, got %s", s.AveragePrice)
	assert.True(t, s.HighestPrice.Equal(d("0.03")))
	assert.True(t, s.LowestPrice.Equal(d("0.01")))
}

func TestSavings(t *testing.T) {
	trades := []model.Trade{trade("1", "3", "0.016", false), trade("1", "2", "0.016", false)}
	got := Savings(trades, DefaultGridPrice, DefaultP2PPrice)
	assert.True(t, got.Equal(d("0.7")), "expected 5 × 0.14 = 0.7, got %s", got)
	assert.True(t, Savings(nil, DefaultGridPrice, DefaultP2PPrice).IsZero())
}

func TestLeaderboard(t *testing.T) {
	buildings := []model.Building{
		{ID: "1", Kind: model.Industrial, Production: 60, Consumption: 40},
		{ID: "2", Kind: model.Residential, Production: 5, Consumption: 0.5},
		{ID: "3", Kind: model.Commercial},
	}
	trades := []model.Trade{
		trade("1", "3", "0.016", false),
		trade("1", "2", "0.016", true),
		trade("2", "1", "0.012", false),
	}

	board := Leaderboard(buildings, trades, DefaultCarbonFactor)
	require.Len(t, board, 3, "every building is ranked")

	top := board[0]
	assert.Equal(t, "2", top.BuildingID)
	assert.True(t, top.Efficiency.Equal(d("500")), "consumption floors at 1, got %s", top.Efficiency)
	// 1×2 + 0.5×0.5 + 500×0.2
	assert.True(t, top.Score.Equal(d("102.25")), "score %s", top.Score)

	second := board[1]
	assert.Equal(t, "1", second.BuildingID)
	assert.Equal(t, model.Industrial, second.Kind)
	assert.Equal(t, 2, second.TradeCount)
	assert.True(t, second.EnergySold.Equal(d("5")))
	assert.True(t, second.Revenue.Equal(d("0.08")))
	assert.True(t, second.CarbonOffset.Equal(d("2.5")))
	assert.True(t, second.Efficiency.Equal(d("150")))
	// 5×2 + 2.5×0.5 + 150×0.2
	assert.True(t, second.Score.Equal(d("41.25")), "score %s", second.Score)

	last := board[2]
	assert.Equal(t, "3", last.BuildingID)
	assert.Equal(t, model.Commercial, last.Kind)
	assert.Zero(t, last.TradeCount)
	assert.True(t, last.Score.IsZero(), "score %s", last.Score)
}

func TestLeaderboard_NonSellerScoresOnEfficiency(t *testing.T) {
	buildings := []model.Building{
		{ID: "1", Kind: model.Residential, Production: 4, Consumption: 2},
		{ID: "2", Kind: model.Residential, Production: 1, Consumption: 2},
	}
	trades := []model.Trade{trade("2", "1", "0.01", false)}

	board := Leaderboard(buildings, trades, DefaultCarbonFactor)
	require.Len(t, board, 2)

	// 200×0.2 beats 1×2 + 0.5×0.5 + 50×0.2
	assert.Equal(t, "1", board[0].BuildingID)
	assert.Zero(t, board[0].TradeCount)
	assert.True(t, board[0].Score.Equal(d("40")), "score %s", board[0].Score)
	assert.Equal(t, "2", board[1].BuildingID)
	assert.True(t, board[1].Score.Equal(d("12.25")), "score %s", board[1].Score)
}

func TestLeaderboard_TiesBreakByID(t *testing.T) {
	trades := []model.Trade{trade("b", "1", "0.01", false), trade("a", "1", "0.01", false)}
	board := Leaderboard(nil, trades, DefaultCarbonFactor)
	require.Len(t, board, 2)
	assert.Equal(t, "a", board[0].BuildingID)
	assert.Equal(t, "b", board[1].BuildingID)
	assert.True(t, board[0].Efficiency.IsZero(), "unknown building has no efficiency")
}

// --- Properties ---

func genTrades(t *rapid.T) []model.Trade {
	n := rapid.IntRange(0, 30).Draw(t, "n")
	trades := make([]model.Trade, n)
	for i := range trades {
		amount := decimal.New(rapid.Int64Range(1, 50_000_000).Draw(t, "amount"+strconv.Itoa(i)), -6)
		price := decimal.New(rapid.Int64Range(1, 1_000_000).Draw(t, "price"+strconv.Itoa(i)), -9)
		trades[i] = model.Trade{
			SellerID:     strconv.Itoa(rapid.IntRange(0, 4).Draw(t, "seller"+strconv.Itoa(i))),
			EnergyAmount: amount,
			PricePerUnit: price,
			TotalPrice:   amount.Mul(price),
			Simulated:    rapid.Bool().Draw(t, "sim"+strconv.Itoa(i)),
		}
	}
	return trades
}

func TestProperty_StatsConsistency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		trades := genTrades(t)
		s := Aggregate(trades)

		if s.TradeCount != len(trades) {
			t.Fatalf("trade count %d != %d", s.TradeCount, len(trades))
		}
		if s.RealCount+s.SimulatedCount != s.TradeCount {
			t.Fatalf("real %d + simulated %d != total %d", s.RealCount, s.SimulatedCount, s.TradeCount)
		}
		if len(trades) == 0 {
			if !s.IsZero() {
				t.Fatalf("empty log must give zero stats, got %+v", s)
			}
			return
		}
		if s.LowestPrice.GreaterThan(s.AveragePrice) || s.AveragePrice.GreaterThan(s.HighestPrice) {
			t.Fatalf("expected low ≤ avg ≤ high, got %s %s %s", s.LowestPrice, s.AveragePrice, s.HighestPrice)
		}
	})
}

func TestProperty_RunningMatchesAggregate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		trades := genTrades(t)
		split := rapid.IntRange(0, len(trades)).Draw(t, "split")

		var r Running
		r.AddAll(trades[:split])
		for _, tr := range trades[split:] {
			r.Add(tr)
		}
		if got, want := r.Stats(), Aggregate(trades); !got.Equal(want) {
			t.Fatalf("running %+v != aggregate %+v", got, want)
		}
	})
}
