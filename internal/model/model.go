// Package model defines the core domain types shared across the energy market.
// Monetary values use shopspring/decimal, never float64.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// EnergyScale is the number of decimal places kept when a building's
// float energy balance enters the market as a decimal quantity (Wh precision).
const EnergyScale int32 = 6

var (
	// ErrMissingID is returned for a building without an identifier.
	ErrMissingID = errors.New("model: building has no id")

	// ErrMissingIdentity is returned for a building without a ledger account.
	ErrMissingIdentity = errors.New("model: building has no ledger identity")

	// ErrNonFiniteEnergy is returned for a building whose energy figures are
	// NaN or infinite.
	ErrNonFiniteEnergy = errors.New("model: non-finite energy figure")

	// ErrUnknownWeather is returned when parsing an unsupported condition.
	ErrUnknownWeather = errors.New("model: unknown weather condition")
)

// Kind classifies a building's consumption profile.
type Kind string

const (
	Residential Kind = "residential"
	Commercial  Kind = "commercial"
	Industrial  Kind = "industrial"
)

// Weather is the sky condition that scales solar production.
type Weather string

const (
	Clear        Weather = "clear"
	PartlyCloudy Weather = "partly-cloudy"
	Overcast     Weather = "overcast"
)

// ParseWeather converts a condition name into a Weather value.
func ParseWeather(s string) (Weather, error) {
	switch w := Weather(s); w {
	case Clear, PartlyCloudy, Overcast:
		return w, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownWeather, s)
}

// Building is one market participant. Production and Consumption are the
// energy figures for the current tick; Balance is the spendable funds held on
// the payment network under Identity.
type Building struct {
	ID          string          `json:"id" db:"id"`
	Kind        Kind            `json:"kind" db:"kind"`
	Capacity    float64         `json:"capacity_kw" db:"capacity"`        // nameplate solar, kW
	Production  float64         `json:"production_kwh" db:"production"`   // >= 0
	Consumption float64         `json:"consumption_kwh" db:"consumption"` // >= 0
	Identity    string          `json:"identity" db:"identity"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
}

// NetBalance returns production minus consumption. Positive is surplus,
// negative is deficit.
func (b *Building) NetBalance() float64 {
	return b.Production - b.Consumption
}

// Validate reports whether the building can take part in matching and settlement.
func (b *Building) Validate() error {
	if b.ID == "" {
		return ErrMissingID
	}
	if b.Identity == "" {
		return fmt.Errorf("%w: building %s", ErrMissingIdentity, b.ID)
	}
	for _, v := range []float64{b.Production, b.Consumption, b.NetBalance()} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: building %s", ErrNonFiniteEnergy, b.ID)
		}
	}
	return nil
}

// TradeRequest is produced by the matcher and consumed immediately by the
// settlement executor. It is never persisted.
type TradeRequest struct {
	SellerID     string          `json:"seller_id"`
	BuyerID      string          `json:"buyer_id"`
	EnergyAmount decimal.Decimal `json:"energy_amount"`  // kWh, > 0
	PricePerUnit decimal.Decimal `json:"price_per_unit"` // currency per kWh, > 0
}

// TotalPrice returns EnergyAmount × PricePerUnit without rounding.
func (r TradeRequest) TotalPrice() decimal.Decimal {
	return r.EnergyAmount.Mul(r.PricePerUnit)
}

// Trade is an immutable record of a settled energy transfer.
// Once created, trades are never modified or deleted.
type Trade struct {
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
	SellerID       string          `json:"seller_id" db:"seller_id"`
	BuyerID        string          `json:"buyer_id" db:"buyer_id"`
	SellerIdentity string          `json:"seller_identity" db:"seller_identity"`
	BuyerIdentity  string          `json:"buyer_identity" db:"buyer_identity"`
	EnergyAmount   decimal.Decimal `json:"energy_amount" db:"energy_amount"`
	PricePerUnit   decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	TotalPrice     decimal.Decimal `json:"total_price" db:"total_price"`
	SettlementRef  string          `json:"settlement_ref" db:"settlement_ref"`
	Simulated      bool            `json:"simulated" db:"simulated"`
}

// MarketStats summarises a trade sequence. It is derived data and can be
// recomputed from the trade log at any time.
type MarketStats struct {
	TotalVolume    decimal.Decimal `json:"total_volume"`
	AveragePrice   decimal.Decimal `json:"average_price"` // unweighted mean of price per unit
	HighestPrice   decimal.Decimal `json:"highest_price"`
	LowestPrice    decimal.Decimal `json:"lowest_price"`
	TradeCount     int             `json:"trade_count"`
	RealCount      int             `json:"real_count"`
	SimulatedCount int             `json:"simulated_count"`
}

// IsZero reports whether every field is zero, the value for an empty log.
func (s MarketStats) IsZero() bool {
	return s.TotalVolume.IsZero() && s.AveragePrice.IsZero() &&
		s.HighestPrice.IsZero() && s.LowestPrice.IsZero() &&
		s.TradeCount == 0 && s.RealCount == 0 && s.SimulatedCount == 0
}

// Equal compares two stats values field by field.
func (s MarketStats) Equal(o MarketStats) bool {
	return s.TotalVolume.Equal(o.TotalVolume) &&
		s.AveragePrice.Equal(o.AveragePrice) &&
		s.HighestPrice.Equal(o.HighestPrice) &&
		s.LowestPrice.Equal(o.LowestPrice) &&
		s.TradeCount == o.TradeCount &&
		s.RealCount == o.RealCount &&
		s.SimulatedCount == o.SimulatedCount
}
