package energy

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/atmx/energy-market/internal/model"
)

// NewNeighborhood builds n buildings with a fixed kind mix: every fifth is
// industrial, every third of the rest commercial, the remainder residential.
// Solar capacity is drawn from a kind-specific range.
func NewNeighborhood(n int, src Source) []model.Building {
	if n <= 0 {
		return nil
	}
	if src == nil {
		src = NewSource(1)
	}

	buildings := make([]model.Building, 0, n)
	for i := 0; i < n; i++ {
		kind := kindForIndex(i)
		buildings = append(buildings, model.Building{
			ID:       strconv.Itoa(i),
			Kind:     kind,
			Capacity: capacityFor(kind, src),
			Balance:  decimal.Zero,
		})
	}
	return buildings
}

func kindForIndex(i int) model.Kind {
	switch {
	case i%5 == 0:
		return model.Industrial
	case i%3 == 0:
		return model.Commercial
	default:
		return model.Residential
	}
}

// capacityFor returns nameplate kW: industrial 50–200, commercial 20–60,
// residential 5–20.
func capacityFor(kind model.Kind, src Source) float64 {
	switch kind {
	case model.Industrial:
		return 50 + src.Float64()*150
	case model.Commercial:
		return 20 + src.Float64()*40
	default:
		return 5 + src.Float64()*15
	}
}
