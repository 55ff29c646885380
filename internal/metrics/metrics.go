// Package metrics provides Prometheus instrumentation for the energy market.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts settled trades, partitioned by mode (real, simulated).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "energy_trades_total",
		Help: "Total number of trades settled",
	}, []string{"mode"})

	// SettlementLatency tracks time spent settling one trade.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "energy_settlement_latency_seconds",
		Help:    "Settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	// SettlementFallbacks counts simulated settlements by reason.
	SettlementFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "energy_settlement_fallbacks_total",
		Help: "Settlements that fell back to local simulation",
	}, []string{"reason"})

	// EnergyTraded tracks cumulative kWh moved between buildings.
	EnergyTraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "energy_traded_kwh_total",
		Help: "Cumulative energy traded in kWh",
	})

	// ClearingPrice is the price per kWh of the most recent tick with trades.
	ClearingPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "energy_clearing_price",
		Help: "Clearing price per kWh of the last matched tick",
	})

	// Ticks counts completed simulation ticks.
	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "energy_simulation_ticks_total",
		Help: "Completed simulation ticks",
	})

	// TickDuration tracks wall time per simulation tick.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "energy_tick_duration_seconds",
		Help:    "Simulation tick duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})

	// NeighborhoodEnergy reports total production and consumption of the last tick.
	NeighborhoodEnergy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "energy_neighborhood_kwh",
		Help: "Neighborhood production and consumption in the last tick",
	}, []string{"flow"})

	// MarketParticipants counts sellers and buyers seen by the last match.
	MarketParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "energy_market_participants",
		Help: "Sellers and buyers in the last matching pass",
	}, []string{"side"})

	// LedgerReachable is 1 when the last ledger check succeeded.
	LedgerReachable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "energy_ledger_reachable",
		Help: "Whether the payment network answered the last check",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "energy_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "energy_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "energy_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Mode returns the trade mode label.
func Mode(simulated bool) string {
	if simulated {
		return "simulated"
	}
	return "real"
}

// SetLedgerReachable records the outcome of a ledger check.
func SetLedgerReachable(up bool) {
	if up {
		LedgerReachable.Set(1)
		return
	}
	LedgerReachable.Set(0)
}
