// Package simulation owns the market timeline. Each tick updates every
// building's energy figures, matches surplus to deficit, settles the
// resulting requests one after another, and publishes a report.
package simulation

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/energy-market/internal/energy"
	"github.com/atmx/energy-market/internal/market"
	"github.com/atmx/energy-market/internal/metrics"
	"github.com/atmx/energy-market/internal/model"
	"github.com/atmx/energy-market/internal/settlement"
	"github.com/atmx/energy-market/internal/stats"
)

// EnergyUpdater recomputes a building's production and consumption.
// *energy.Model implements it.
type EnergyUpdater interface {
	Update(b *model.Building, t float64, w model.Weather)
}

// Publisher receives a report after every tick. Publish must not block.
type Publisher interface {
	Publish(TickReport)
}

// Snapshotter persists the building set after each tick.
type Snapshotter interface {
	SaveBuildings(ctx context.Context, buildings []model.Building) error
}

// Config holds the timeline parameters.
type Config struct {
	TimeStep     float64 // hours per tick
	StartHour    float64
	TickInterval time.Duration
	HistorySize  int
}

// DefaultConfig returns half-hour steps every five seconds starting at noon.
func DefaultConfig() Config {
	return Config{
		TimeStep:     0.5,
		StartHour:    12,
		TickInterval: 5 * time.Second,
		HistorySize:  20,
	}
}

// HistoryPoint is the neighborhood-wide energy picture of one tick.
type HistoryPoint struct {
	Tick        uint64          `json:"tick"`
	Hour        float64         `json:"hour"`
	Weather     model.Weather   `json:"weather"`
	Production  float64         `json:"production_kwh"`
	Consumption float64         `json:"consumption_kwh"`
	Traded      decimal.Decimal `json:"traded_kwh"`
	Price       decimal.Decimal `json:"price"`
}

// TickReport describes one completed tick.
type TickReport struct {
	Tick     uint64            `json:"tick"`
	Hour     float64           `json:"hour"`
	Weather  model.Weather     `json:"weather"`
	Requests int               `json:"requests"`
	Trades   []model.Trade     `json:"trades"`
	Stats    model.MarketStats `json:"stats"`
	Point    HistoryPoint      `json:"point"`
}

// State is a point-in-time view of the driver.
type State struct {
	Tick       uint64        `json:"tick"`
	Hour       float64       `json:"hour"`
	Weather    model.Weather `json:"weather"`
	WeatherSet bool          `json:"weather_override"`
	Paused     bool          `json:"paused"`
	Buildings  int           `json:"buildings"`
	TradeCount int           `json:"trade_count"`
	TimeStep   float64       `json:"time_step_hours"`
}

// Driver runs the market one tick at a time.
type Driver struct {
	cfg      Config
	energy   EnergyUpdater
	matcher  *market.Matcher
	executor *settlement.Executor
	weather  energy.WeatherSource

	publisher Publisher
	snapshots Snapshotter
	logger    *slog.Logger

	// stepMu serialises ticks; mu guards the fields below it.
	stepMu    sync.Mutex
	mu        sync.RWMutex
	buildings []model.Building
	tick      uint64
	hour      float64
	override  model.Weather
	last      model.Weather
	running   stats.Running
	history   []HistoryPoint

	paused atomic.Bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithEnergy sets the energy model. Defaults to an unseeded energy.Model.
func WithEnergy(u EnergyUpdater) Option {
	return func(d *Driver) { d.energy = u }
}

// WithWeather sets the weather schedule. Defaults to clear skies.
func WithWeather(w energy.WeatherSource) Option {
	return func(d *Driver) { d.weather = w }
}

// WithPublisher sets the tick report receiver.
func WithPublisher(p Publisher) Option {
	return func(d *Driver) { d.publisher = p }
}

// WithSnapshots saves the building set after each tick.
func WithSnapshots(s Snapshotter) Option {
	return func(d *Driver) { d.snapshots = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// New creates a driver over buildings, which must already be provisioned.
// Trades already in the executor's log are folded into the statistics.
func New(cfg Config, buildings []model.Building, matcher *market.Matcher, executor *settlement.Executor, opts ...Option) *Driver {
	def := DefaultConfig()
	if cfg.TimeStep <= 0 {
		cfg.TimeStep = def.TimeStep
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}

	d := &Driver{
		cfg:       cfg,
		matcher:   matcher,
		executor:  executor,
		logger:    slog.Default(),
		buildings: append([]model.Building(nil), buildings...),
		hour:      energy.ClampHour(cfg.StartHour),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.energy == nil {
		d.energy = energy.NewModel(nil)
	}
	if d.weather == nil {
		d.weather = energy.Fixed(model.Clear)
	}
	d.last = d.weather.Condition(0)
	d.running.AddAll(executor.Log().All())
	return d
}

// Step runs exactly one tick. It returns early only if ctx is already done;
// a tick that has started completes even if ctx is cancelled meanwhile.
func (d *Driver) Step(ctx context.Context) (TickReport, error) {
	if err := ctx.Err(); err != nil {
		return TickReport{}, err
	}
	ctx = context.WithoutCancel(ctx)

	d.stepMu.Lock()
	defer d.stepMu.Unlock()
	start := time.Now()

	d.mu.RLock()
	tick, hour := d.tick, d.hour
	w := d.override
	buildings := append([]model.Building(nil), d.buildings...)
	d.mu.RUnlock()
	if w == "" {
		w = d.weather.Condition(tick)
	}

	point := HistoryPoint{Tick: tick, Hour: hour, Weather: w}
	for i := range buildings {
		d.energy.Update(&buildings[i], hour, w)
		if !finite(buildings[i].Production) || !finite(buildings[i].Consumption) {
			continue
		}
		point.Production += buildings[i].Production
		point.Consumption += buildings[i].Consumption
	}

	requests := d.matcher.Match(buildings)
	trades := d.settle(ctx, requests, buildings)

	point.Traded = decimal.Zero
	for i := range trades {
		point.Traded = point.Traded.Add(trades[i].EnergyAmount)
	}
	if len(requests) > 0 {
		point.Price = requests[0].PricePerUnit
	}

	d.mu.Lock()
	d.buildings = buildings
	d.running.AddAll(trades)
	d.history = append(d.history, point)
	if over := len(d.history) - d.cfg.HistorySize; over > 0 {
		d.history = append(d.history[:0], d.history[over:]...)
	}
	d.last = w
	d.tick++
	d.hour = energy.Advance(hour, d.cfg.TimeStep)
	report := TickReport{
		Tick:     tick,
		Hour:     hour,
		Weather:  w,
		Requests: len(requests),
		Trades:   trades,
		Stats:    d.running.Stats(),
		Point:    point,
	}
	d.mu.Unlock()

	metrics.Ticks.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	metrics.NeighborhoodEnergy.WithLabelValues("production").Set(point.Production)
	metrics.NeighborhoodEnergy.WithLabelValues("consumption").Set(point.Consumption)
	if len(requests) > 0 {
		price, _ := point.Price.Float64()
		metrics.ClearingPrice.Set(price)
	}

	if d.publisher != nil {
		d.publisher.Publish(report)
	}
	if d.snapshots != nil {
		if err := d.snapshots.SaveBuildings(ctx, buildings); err != nil {
			d.logger.Error("building snapshot failed", "tick", tick, "err", err)
		}
	}

	d.logger.Info("tick complete",
		"tick", tick,
		"hour", hour,
		"weather", w,
		"requests", len(requests),
		"trades", len(trades),
	)
	return report, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// settle executes requests in emission order against the tick's working
// copy of the buildings.
func (d *Driver) settle(ctx context.Context, requests []model.TradeRequest, buildings []model.Building) []model.Trade {
	if len(requests) == 0 {
		return nil
	}
	index := make(map[string]int, len(buildings))
	for i := range buildings {
		index[buildings[i].ID] = i
	}

	trades := make([]model.Trade, 0, len(requests))
	for _, req := range requests {
		si, okS := index[req.SellerID]
		bi, okB := index[req.BuyerID]
		if !okS || !okB {
			d.logger.Error("request names unknown building", "seller", req.SellerID, "buyer", req.BuyerID)
			continue
		}
		t, err := d.executor.Settle(ctx, req, &buildings[si], &buildings[bi])
		if err != nil {
			d.logger.Error("trade rejected", "seller", req.SellerID, "buyer", req.BuyerID, "err", err)
			continue
		}
		trades = append(trades, t)
	}
	return trades
}

// Run steps on every TickInterval until ctx is cancelled. Paused ticks
// are skipped; a tick in progress always completes.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	d.logger.Info("simulation started", "interval", d.cfg.TickInterval.String())
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("simulation stopped", "ticks", d.State().Tick)
			return ctx.Err()
		case <-ticker.C:
			if d.paused.Load() {
				continue
			}
			if _, err := d.Step(ctx); err != nil {
				return err
			}
		}
	}
}

// Pause stops Run from starting new ticks.
func (d *Driver) Pause() { d.paused.Store(true) }

// Resume lets Run start ticks again.
func (d *Driver) Resume() { d.paused.Store(false) }

// Paused reports whether the driver is paused.
func (d *Driver) Paused() bool { return d.paused.Load() }

// SetWeather overrides the schedule from the next tick on. An empty value
// returns control to the schedule.
func (d *Driver) SetWeather(w model.Weather) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.override = w
}

// Buildings returns a copy of the current building set.
func (d *Driver) Buildings() []model.Building {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.Building(nil), d.buildings...)
}

// Building returns a copy of one building.
func (d *Driver) Building(id string) (model.Building, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := range d.buildings {
		if d.buildings[i].ID == id {
			return d.buildings[i], true
		}
	}
	return model.Building{}, false
}

// Trades returns a copy of the full trade log.
func (d *Driver) Trades() []model.Trade {
	return d.executor.Log().All()
}

// Stats returns the statistics over every trade so far.
func (d *Driver) Stats() model.MarketStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running.Stats()
}

// History returns the retained energy history, oldest first.
func (d *Driver) History() []HistoryPoint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]HistoryPoint(nil), d.history...)
}

// State returns the current timeline position.
func (d *Driver) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w := d.override
	if w == "" {
		w = d.last
	}
	return State{
		Tick:       d.tick,
		Hour:       d.hour,
		Weather:    w,
		WeatherSet: d.override != "",
		Paused:     d.paused.Load(),
		Buildings:  len(d.buildings),
		TradeCount: d.running.Stats().TradeCount,
		TimeStep:   d.cfg.TimeStep,
	}
}
