package energy

import (
	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/atmx/energy-market/internal/model"
)

// WeatherSource picks the sky condition for a tick.
type WeatherSource interface {
	Condition(tick uint64) model.Weather
}

// Fixed is a WeatherSource that never changes.
type Fixed model.Weather

// Condition returns the fixed weather.
func (f Fixed) Condition(uint64) model.Weather { return model.Weather(f) }

// NoiseWeather drifts between conditions along a 1-D simplex noise curve, so
// consecutive ticks tend to share weather and change gradually.
type NoiseWeather struct {
	noise     opensimplex.Noise
	frequency float64
}

// NewNoiseWeather seeds the noise field. frequency is in cycles per tick;
// 0 selects a default of one front every ~48 ticks (a day at half-hour steps).
func NewNoiseWeather(seed int64, frequency float64) *NoiseWeather {
	if frequency <= 0 {
		frequency = 1.0 / 48
	}
	return &NoiseWeather{
		noise:     opensimplex.NewNormalized(seed),
		frequency: frequency,
	}
}

// Condition maps the noise value at tick to clear (<0.45), partly cloudy
// (<0.75), or overcast.
func (n *NoiseWeather) Condition(tick uint64) model.Weather {
	v := n.noise.Eval2(float64(tick)*n.frequency, 0)
	switch {
	case v < 0.45:
		return model.Clear
	case v < 0.75:
		return model.PartlyCloudy
	default:
		return model.Overcast
	}
}
