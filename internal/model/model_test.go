package model

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestBuilding_NetBalance(t *testing.T) {
	b := Building{ID: "1", Production: 5.5, Consumption: 2}
	if got := b.NetBalance(); got != 3.5 {
		t.Errorf("expected net balance 3.5, got %v", got)
	}
}

func TestBuilding_Validate(t *testing.T) {
	tests := []struct {
		name string
		b    Building
		want error
	}{
		{"valid", Building{ID: "1", Identity: "acct-1"}, nil},
		{"missing id", Building{Identity: "acct-1"}, ErrMissingID},
		{"missing identity", Building{ID: "1"}, ErrMissingIdentity},
		{"nan production", Building{ID: "1", Identity: "acct-1", Production: math.NaN()}, ErrNonFiniteEnergy},
		{"infinite consumption", Building{ID: "1", Identity: "acct-1", Consumption: math.Inf(1)}, ErrNonFiniteEnergy},
		{"overflowing net", Building{ID: "1", Identity: "acct-1", Production: math.MaxFloat64, Consumption: -math.MaxFloat64}, ErrNonFiniteEnergy},
	}
	for _, tt := range tests {
		err := tt.b.Validate()
		if tt.want == nil && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestParseWeather(t *testing.T) {
	for _, s := range []string{"clear", "partly-cloudy", "overcast"} {
		w, err := ParseWeather(s)
		if err != nil {
			t.Errorf("unexpected error for %s: %v", s, err)
		}
		if string(w) != s {
			t.Errorf("expected %s, got %s", s, w)
		}
	}
	if _, err := ParseWeather("sunny"); !errors.Is(err, ErrUnknownWeather) {
		t.Errorf("expected ErrUnknownWeather, got %v", err)
	}
}

func TestTradeRequest_TotalPriceIsExact(t *testing.T) {
	r := TradeRequest{
		EnergyAmount: decimal.RequireFromString("3.141592"),
		PricePerUnit: decimal.RequireFromString("0.016"),
	}
	want := decimal.RequireFromString("0.050265472")
	if !r.TotalPrice().Equal(want) {
		t.Errorf("expected %s, got %s", want, r.TotalPrice())
	}
}

func TestMarketStats_ZeroValue(t *testing.T) {
	var s MarketStats
	if !s.IsZero() {
		t.Error("zero value stats should report IsZero")
	}
	s.TradeCount = 1
	if s.IsZero() {
		t.Error("stats with a trade should not report IsZero")
	}
}
