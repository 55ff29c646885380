package energy

import (
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/atmx/energy-market/internal/model"
)

// constSource always returns the same draw; 0.5 means zero noise.
type constSource float64

func (c constSource) Float64() float64 { return float64(c) }

var allWeather = []model.Weather{model.Clear, model.PartlyCloudy, model.Overcast}
var allKinds = []model.Kind{model.Residential, model.Commercial, model.Industrial, model.Kind("warehouse")}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestProduction_NoonClearEqualsCapacity(t *testing.T) {
	got := Production(20, 12, model.Clear)
	if !approx(got, 20) {
		t.Errorf("expected 20 kWh at noon, got %v", got)
	}
}

func TestProduction_WeatherScaling(t *testing.T) {
	clear := Production(10, 9, model.Clear)
	tests := []struct {
		w      model.Weather
		factor float64
	}{
		{model.Clear, 1.0},
		{model.PartlyCloudy, 0.6},
		{model.Overcast, 0.3},
	}
	for _, tt := range tests {
		got := Production(10, 9, tt.w)
		if !approx(got, clear*tt.factor) {
			t.Errorf("%s: expected %v, got %v", tt.w, clear*tt.factor, got)
		}
	}
}

func TestProduction_ZeroAtMidnight(t *testing.T) {
	if got := Production(100, 0, model.Clear); !approx(got, 0) {
		t.Errorf("expected no production at midnight, got %v", got)
	}
}

func TestProduction_LinearInCapacity(t *testing.T) {
	a := Production(10, 15, model.PartlyCloudy)
	b := Production(30, 15, model.PartlyCloudy)
	if !approx(b, 3*a) {
		t.Errorf("production should scale linearly: %v vs 3×%v", b, a)
	}
}

func TestConsumption_CommercialDampedOutsideHours(t *testing.T) {
	m := NewModel(constSource(0.5))

	inside := m.Consumption(model.Commercial, 13)
	if !approx(inside, 5) {
		t.Errorf("expected baseline 5 at 13h, got %v", inside)
	}

	outside := m.Consumption(model.Commercial, 20)
	want := (5 + 8*math.Sin(7.0/24*math.Pi)) * 0.3
	if !approx(outside, want) {
		t.Errorf("expected damped %v at 20h, got %v", want, outside)
	}
}

func TestConsumption_IndustrialNearConstant(t *testing.T) {
	m := NewModel(constSource(0.5))
	for _, hour := range []float64{0, 6, 12, 18, 23.5} {
		if got := m.Consumption(model.Industrial, hour); !approx(got, 17.5) {
			t.Errorf("industrial at %vh: expected 17.5, got %v", hour, got)
		}
	}
}

func TestConsumption_NoiseBounded(t *testing.T) {
	lo := NewModel(constSource(0)).Consumption(model.Kind("warehouse"), 10)
	hi := NewModel(constSource(0.999999)).Consumption(model.Kind("warehouse"), 10)
	if lo < 4-1e-9 || hi > 6 {
		t.Errorf("noise should stay within ±1 of baseline 5: lo=%v hi=%v", lo, hi)
	}
}

func TestModel_SeededIsReproducible(t *testing.T) {
	a := NewModel(NewSource(42))
	b := NewModel(NewSource(42))
	for i := 0; i < 50; i++ {
		hour := float64(i) * 0.5
		for _, k := range allKinds {
			if a.Consumption(k, hour) != b.Consumption(k, hour) {
				t.Fatalf("seeded models diverged at %vh for %s", hour, k)
			}
		}
	}
}

func TestModel_Update(t *testing.T) {
	m := NewModel(constSource(0.5))
	b := model.Building{ID: "1", Kind: model.Industrial, Capacity: 100}
	m.Update(&b, 12, model.Overcast)

	if !approx(b.Production, 30) {
		t.Errorf("expected production 30, got %v", b.Production)
	}
	if !approx(b.Consumption, 17.5) {
		t.Errorf("expected consumption 17.5, got %v", b.Consumption)
	}
}

func TestAdvance_WrapsAtMidnight(t *testing.T) {
	if got := Advance(23.5, 0.5); got != 0 {
		t.Errorf("expected wrap to 0, got %v", got)
	}
	if got := Advance(12, 0.5); got != 12.5 {
		t.Errorf("expected 12.5, got %v", got)
	}
	if got := ClampHour(-1); got != 23 {
		t.Errorf("expected -1 to clamp to 23, got %v", got)
	}
}

// --- Properties ---

func TestProperty_OutputsNonNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hour := rapid.Float64Range(0, 23.999).Draw(t, "hour")
		capacity := rapid.Float64Range(0, 500).Draw(t, "capacity")
		w := rapid.SampledFrom(allWeather).Draw(t, "weather")
		k := rapid.SampledFrom(allKinds).Draw(t, "kind")
		seed := rapid.Uint64().Draw(t, "seed")

		m := NewModel(NewSource(seed))
		b := model.Building{ID: "p", Kind: k, Capacity: capacity}
		m.Update(&b, hour, w)

		if b.Production < 0 {
			t.Fatalf("negative production %v at %vh", b.Production, hour)
		}
		if b.Consumption < 0 {
			t.Fatalf("negative consumption %v at %vh", b.Consumption, hour)
		}
	})
}
