// Package energy models per-building solar production and load.
//
// Production is deterministic in (capacity, time of day, weather). Consumption
// follows a kind-dependent daily curve plus bounded noise drawn from an
// injected Source, so a seeded source makes every tick reproducible.
package energy

import (
	"math"
	"math/rand/v2"

	"github.com/atmx/energy-market/internal/model"
)

// HoursPerDay is the length of the simulated day.
const HoursPerDay = 24.0

// Source supplies uniform random numbers in [0, 1).
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	Float64() float64
}

// NewSource returns a seeded PCG generator.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// WeatherFactor maps a sky condition to the fraction of clear-sky output.
func WeatherFactor(w model.Weather) float64 {
	switch w {
	case model.Clear:
		return 1.0
	case model.PartlyCloudy:
		return 0.6
	default:
		return 0.3
	}
}

// Production returns solar output in kWh for a building of the given
// nameplate capacity at time-of-day t:
//
//	capacity × max(0, sin(π·t/24)) × weatherFactor
func Production(capacity, t float64, w model.Weather) float64 {
	if capacity <= 0 {
		return 0
	}
	hourFactor := math.Sin(ClampHour(t) / HoursPerDay * math.Pi)
	return capacity * math.Max(0, hourFactor) * WeatherFactor(w)
}

// Model computes consumption with noise from its source.
type Model struct {
	src Source
}

// NewModel creates a model drawing noise from src. A nil src falls back to an
// unseeded generator.
func NewModel(src Source) *Model {
	if src == nil {
		src = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Model{src: src}
}

// Consumption returns load in kWh for a building kind at time-of-day t.
// The baseline curve gets symmetric noise in [-1, 1) and the result is floored at 0.
func (m *Model) Consumption(kind model.Kind, t float64) float64 {
	t = ClampHour(t)

	var base float64
	switch kind {
	case model.Residential:
		// Morning (~7h) and evening (~19h) peaks.
		base = 2 + math.Sin((t-7)/HoursPerDay*2*math.Pi) +
			math.Sin((t-19)/HoursPerDay*2*math.Pi)
	case model.Commercial:
		base = 5 + 8*math.Sin((t-13)/HoursPerDay*math.Pi)
		if t < 8 || t > 18 {
			base *= 0.3
		}
	case model.Industrial:
		base = 15 + m.src.Float64()*5
	default:
		base = 5
	}

	noise := (m.src.Float64() - 0.5) * 2
	return math.Max(0, base+noise)
}

// Update recomputes production and consumption for b at time-of-day t.
func (m *Model) Update(b *model.Building, t float64, w model.Weather) {
	b.Production = Production(b.Capacity, t, w)
	b.Consumption = m.Consumption(b.Kind, t)
}

// ClampHour normalises t into [0, 24).
func ClampHour(t float64) float64 {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0
	}
	t = math.Mod(t, HoursPerDay)
	if t < 0 {
		t += HoursPerDay
	}
	return t
}

// Advance moves time-of-day forward by step hours, wrapping at midnight.
func Advance(t, step float64) float64 {
	return ClampHour(t + step)
}
