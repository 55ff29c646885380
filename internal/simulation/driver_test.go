package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/energy-market/internal/energy"
	"github.com/atmx/energy-market/internal/ledger"
	"github.com/atmx/energy-market/internal/market"
	"github.com/atmx/energy-market/internal/model"
	"github.com/atmx/energy-market/internal/settlement"
	"github.com/atmx/energy-market/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// profile pins each building's net balance, ignoring time and weather.
type profile map[string]float64

func (p profile) Update(b *model.Building, _ float64, _ model.Weather) {
	net := p[b.ID]
	b.Production, b.Consumption = 0, 0
	if net >= 0 {
		b.Production = net
	} else {
		b.Consumption = -net
	}
}

func neighborhood() []model.Building {
	return []model.Building{
		{ID: "1", Kind: model.Industrial, Identity: "acct-1", Balance: d("1")},
		{ID: "2", Kind: model.Residential, Identity: "acct-2", Balance: d("1")},
		{ID: "3", Kind: model.Commercial, Identity: "acct-3", Balance: d("1")},
	}
}

var referenceProfile = profile{"1": 5, "2": -3, "3": -4}

type recorder struct {
	mu      sync.Mutex
	reports []TickReport
}

func (r *recorder) Publish(rep TickReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func newDriver(t *testing.T, client ledger.Client, cfg Config, opts ...Option) *Driver {
	t.Helper()
	exec := settlement.NewExecutor(client, settlement.WithLogger(quiet))
	matcher := market.NewMatcher(market.DefaultConfig(), quiet)
	opts = append([]Option{WithEnergy(referenceProfile), WithLogger(quiet)}, opts...)
	return New(cfg, neighborhood(), matcher, exec, opts...)
}

func fundedNetwork() *ledger.MemoryNetwork {
	n := ledger.NewMemoryNetwork()
	for _, id := range []string{"acct-1", "acct-2", "acct-3"} {
		n.Open(id, ledger.BaseUnitsPerCoin)
	}
	return n
}

func TestStep_ReferenceTick(t *testing.T) {
	drv := newDriver(t, fundedNetwork(), DefaultConfig())

	rep, err := drv.Step(context.Background())
	require.NoError(t, err)

	require.Len(t, rep.Trades, 2)
	assert.Equal(t, "2", rep.Trades[0].BuyerID)
	assert.True(t, rep.Trades[0].EnergyAmount.Equal(d("3")))
	assert.True(t, rep.Trades[0].TotalPrice.Equal(d("0.048")))
	assert.Equal(t, "3", rep.Trades[1].BuyerID)
	assert.True(t, rep.Trades[1].EnergyAmount.Equal(d("2")))
	assert.True(t, rep.Trades[1].TotalPrice.Equal(d("0.032")))

	s := drv.Stats()
	assert.True(t, s.TotalVolume.Equal(d("5")))
	assert.True(t, s.AveragePrice.Equal(d("0.016")))
	assert.Equal(t, 2, s.TradeCount)
	assert.Equal(t, 2, s.RealCount)

	seller, _ := drv.Building("1")
	buyer2, _ := drv.Building("2")
	buyer3, _ := drv.Building("3")
	assert.True(t, seller.Balance.Equal(d("1.08")), "seller %s", seller.Balance)
	assert.True(t, buyer2.Balance.Equal(d("0.952")), "buyer 2 %s", buyer2.Balance)
	assert.True(t, buyer3.Balance.Equal(d("0.968")), "buyer 3 %s", buyer3.Balance)
}

func TestStep_AlwaysFailingNetwork(t *testing.T) {
	drv := newDriver(t, ledger.Offline{}, DefaultConfig())

	for i := 0; i < 3; i++ {
		_, err := drv.Step(context.Background())
		require.NoError(t, err)
	}

	s := drv.Stats()
	assert.Equal(t, 0, s.RealCount)
	assert.Equal(t, s.TradeCount, s.SimulatedCount)
	assert.Positive(t, s.TradeCount)
	for _, tr := range drv.Trades() {
		assert.True(t, ledger.IsSimulatedRef(tr.SettlementRef), "ref %s", tr.SettlementRef)
	}
}

func TestStep_TimeAdvancesAndWraps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartHour = 23.5
	drv := newDriver(t, nil, cfg)

	rep, err := drv.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 23.5, rep.Hour)
	assert.Equal(t, 0.0, drv.State().Hour)
	assert.Equal(t, uint64(1), drv.State().Tick)
}

func TestStep_HistoryRing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	drv := newDriver(t, nil, cfg)

	for i := 0; i < 5; i++ {
		_, err := drv.Step(context.Background())
		require.NoError(t, err)
	}

	h := drv.History()
	require.Len(t, h, 3)
	assert.Equal(t, uint64(2), h[0].Tick)
	assert.Equal(t, uint64(4), h[2].Tick)
	assert.Equal(t, 5.0, h[2].Production)
	assert.Equal(t, 7.0, h[2].Consumption)
}

func TestStep_PublishesAndSnapshots(t *testing.T) {
	rec := &recorder{}
	snap := store.NewMemoryStore()
	drv := newDriver(t, nil, DefaultConfig(), WithPublisher(rec), WithSnapshots(snap))

	_, err := drv.Step(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.reports, 1)
	assert.Equal(t, 2, rec.reports[0].Requests)
	assert.True(t, rec.reports[0].Point.Traded.Equal(d("5")))
	assert.True(t, rec.reports[0].Point.Price.Equal(d("0.016")))

	saved, err := snap.LoadBuildings(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 3)
	assert.Equal(t, 5.0, saved[0].Production)
}

func TestStep_WeatherOverride(t *testing.T) {
	drv := newDriver(t, nil, DefaultConfig(), WithWeather(energy.Fixed(model.Clear)))

	drv.SetWeather(model.Overcast)
	rep, _ := drv.Step(context.Background())
	assert.Equal(t, model.Overcast, rep.Weather)
	assert.True(t, drv.State().WeatherSet)

	drv.SetWeather("")
	rep, _ = drv.Step(context.Background())
	assert.Equal(t, model.Clear, rep.Weather)
}

func TestStep_CancelledContext(t *testing.T) {
	drv := newDriver(t, nil, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := drv.Step(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(0), drv.State().Tick)
}

// cancelOnTransfer cancels the tick's context as soon as the first transfer
// has been accepted by the network.
type cancelOnTransfer struct {
	*ledger.MemoryNetwork
	cancel context.CancelFunc
}

func (c cancelOnTransfer) Transfer(ctx context.Context, from, to string, amount int64) (ledger.Confirmation, error) {
	conf, err := c.MemoryNetwork.Transfer(ctx, from, to, amount)
	c.cancel()
	if err == nil && ctx.Err() != nil {
		return ledger.Confirmation{Reference: conf.Reference}, ctx.Err()
	}
	return conf, err
}

// ctxSnapshots fails like a real database would on a dead context.
type ctxSnapshots struct{ saved int }

func (s *ctxSnapshots) SaveBuildings(ctx context.Context, _ []model.Building) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.saved++
	return nil
}

func TestStep_CancelledMidTickCompletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snaps := &ctxSnapshots{}
	drv := newDriver(t, cancelOnTransfer{MemoryNetwork: fundedNetwork(), cancel: cancel}, DefaultConfig(),
		WithSnapshots(snaps))

	rep, err := drv.Step(ctx)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	require.Len(t, rep.Trades, 2)
	for _, tr := range rep.Trades {
		assert.False(t, tr.Simulated, "ref %s", tr.SettlementRef)
	}
	assert.Equal(t, 2, drv.Stats().RealCount)
	assert.Equal(t, 1, snaps.saved)
	assert.Equal(t, uint64(1), drv.State().Tick)

	_, err = drv.Step(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStep_NonFiniteBuildingSkipped(t *testing.T) {
	drv := newDriver(t, fundedNetwork(), DefaultConfig(),
		WithEnergy(profile{"1": 5, "2": -3, "3": math.NaN()}))

	rep, err := drv.Step(context.Background())
	require.NoError(t, err)

	require.Len(t, rep.Trades, 1)
	assert.Equal(t, "2", rep.Trades[0].BuyerID)
	assert.Equal(t, 5.0, rep.Point.Production)
	assert.Equal(t, 3.0, rep.Point.Consumption)
	_, err = json.Marshal(rep.Point)
	assert.NoError(t, err)
}

func TestAccessorsReturnCopies(t *testing.T) {
	drv := newDriver(t, nil, DefaultConfig())
	_, _ = drv.Step(context.Background())

	bs := drv.Buildings()
	bs[0].Balance = d("999")
	b, _ := drv.Building(bs[0].ID)
	assert.False(t, b.Balance.Equal(d("999")))

	trades := drv.Trades()
	trades[0].SettlementRef = "tampered"
	assert.NotEqual(t, "tampered", drv.Trades()[0].SettlementRef)
}

func TestNew_FoldsRestoredTrades(t *testing.T) {
	log := settlement.NewLog()
	log.Restore([]model.Trade{{EnergyAmount: d("2"), PricePerUnit: d("0.01"), Simulated: true}})
	exec := settlement.NewExecutor(nil, settlement.WithLog(log), settlement.WithLogger(quiet))

	drv := New(DefaultConfig(), neighborhood(), market.NewMatcher(market.DefaultConfig(), quiet), exec, WithLogger(quiet))
	assert.Equal(t, 1, drv.Stats().TradeCount)
	assert.Equal(t, 1, drv.State().TradeCount)
}

func TestRun_StepsUntilCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 2 * time.Millisecond
	drv := newDriver(t, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- drv.Run(ctx) }()

	require.Eventually(t, func() bool { return drv.State().Tick >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_PausedSkipsTicks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Millisecond
	drv := newDriver(t, nil, cfg)
	drv.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = drv.Run(ctx)

	assert.True(t, drv.Paused())
	assert.Equal(t, uint64(0), drv.State().Tick)

	drv.Resume()
	assert.False(t, drv.Paused())
}

func TestSeededNeighborhoodIsReproducible(t *testing.T) {
	build := func() []model.Trade {
		src := energy.NewSource(7)
		bs := energy.NewNeighborhood(8, src)
		for i := range bs {
			bs[i].Identity = "acct-" + bs[i].ID
			bs[i].Balance = d("1")
		}
		exec := settlement.NewExecutor(ledger.Offline{}, settlement.WithLogger(quiet))
		drv := New(DefaultConfig(), bs, market.NewMatcher(market.DefaultConfig(), quiet), exec,
			WithEnergy(energy.NewModel(src)),
			WithWeather(energy.NewNoiseWeather(7, 0)),
			WithLogger(quiet),
		)
		for i := 0; i < 6; i++ {
			_, _ = drv.Step(context.Background())
		}
		return drv.Trades()
	}

	a, b := build(), build()
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].SellerID, b[i].SellerID)
		assert.Equal(t, a[i].BuyerID, b[i].BuyerID)
		assert.True(t, a[i].EnergyAmount.Equal(b[i].EnergyAmount))
	}
}
