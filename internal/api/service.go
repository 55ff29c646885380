// Package api provides the HTTP handlers for observing and steering the
// energy market: buildings, trades, statistics, and simulation control.
//
// All monetary values use shopspring/decimal and serialise as strings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/energy-market/internal/ledger"
	"github.com/atmx/energy-market/internal/metrics"
	"github.com/atmx/energy-market/internal/model"
	"github.com/atmx/energy-market/internal/simulation"
	"github.com/atmx/energy-market/internal/stats"
)

// Simulation is the part of the simulation driver the handlers use.
type Simulation interface {
	Buildings() []model.Building
	Building(id string) (model.Building, bool)
	Trades() []model.Trade
	Stats() model.MarketStats
	History() []simulation.HistoryPoint
	State() simulation.State
	Step(ctx context.Context) (simulation.TickReport, error)
	Pause()
	Resume()
	SetWeather(w model.Weather)
}

// Options tune the derived figures the service reports.
type Options struct {
	ExplorerURL  string
	GridPrice    decimal.Decimal
	P2PPrice     decimal.Decimal
	CarbonFactor decimal.Decimal
	Ledger       ledger.Client // checked by /health; nil reports offline
}

// DefaultOptions returns the standard savings and carbon parameters.
func DefaultOptions() Options {
	return Options{
		GridPrice:    stats.DefaultGridPrice,
		P2PPrice:     stats.DefaultP2PPrice,
		CarbonFactor: stats.DefaultCarbonFactor,
	}
}

// Service handles the market's HTTP surface.
type Service struct {
	sim  Simulation
	opts Options
}

// NewService creates a new API service.
func NewService(sim Simulation, opts Options) *Service {
	return &Service{sim: sim, opts: opts}
}

// --- Response types ---

// BuildingView is a building with its derived net balance.
type BuildingView struct {
	model.Building
	NetBalance float64 `json:"net_balance_kwh"`
	Role       string  `json:"role"`
}

// TradeView is a trade with an explorer link for real settlements.
type TradeView struct {
	model.Trade
	ExplorerURL string `json:"explorer_url,omitempty"`
}

// BuildingDetail is the response for a single building.
type BuildingDetail struct {
	BuildingView
	Sold   decimal.Decimal `json:"energy_sold_kwh"`
	Bought decimal.Decimal `json:"energy_bought_kwh"`
	Trades []TradeView     `json:"trades"`
}

// StatsResponse is the JSON body of GET /stats.
type StatsResponse struct {
	model.MarketStats
	Savings      decimal.Decimal `json:"savings"`
	CarbonOffset decimal.Decimal `json:"carbon_offset_kg"`
	GridPrice    decimal.Decimal `json:"grid_price"`
	P2PPrice     decimal.Decimal `json:"p2p_price"`
}

// WeatherRequest is the JSON body of PUT /simulation/weather. "auto" or an
// empty value returns control to the schedule.
type WeatherRequest struct {
	Weather string `json:"weather"`
}

func viewBuilding(b model.Building) BuildingView {
	net := b.NetBalance()
	role := "balanced"
	switch {
	case net > 0:
		role = "seller"
	case net < 0:
		role = "buyer"
	}
	return BuildingView{Building: b, NetBalance: net, Role: role}
}

func (s *Service) viewTrades(trades []model.Trade) []TradeView {
	out := make([]TradeView, len(trades))
	for i, t := range trades {
		out[i] = TradeView{Trade: t, ExplorerURL: ledger.ExplorerLink(s.opts.ExplorerURL, t.SettlementRef)}
	}
	return out
}

// --- HTTP Handlers ---

// Health handles GET /health
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "offline"
	if s.opts.Ledger != nil {
		status = "unreachable"
		up := ledger.Reachable(ctx, s.opts.Ledger)
		if up {
			status = "reachable"
		}
		metrics.SetLedgerReachable(up)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "energy-market",
		"ledger":  status,
	})
}

// ListBuildings handles GET /api/v1/buildings
// Optional ?role=seller|buyer|balanced filter.
func (s *Service) ListBuildings(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	views := []BuildingView{}
	for _, b := range s.sim.Buildings() {
		v := viewBuilding(b)
		if role != "" && v.Role != role {
			continue
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// GetBuilding handles GET /api/v1/buildings/{buildingID}
func (s *Service) GetBuilding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "buildingID")
	b, ok := s.sim.Building(id)
	if !ok {
		writeError(w, "building not found", http.StatusNotFound)
		return
	}

	detail := BuildingDetail{BuildingView: viewBuilding(b), Trades: []TradeView{}}
	var mine []model.Trade
	for _, t := range s.sim.Trades() {
		switch id {
		case t.SellerID:
			detail.Sold = detail.Sold.Add(t.EnergyAmount)
		case t.BuyerID:
			detail.Bought = detail.Bought.Add(t.EnergyAmount)
		default:
			continue
		}
		mine = append(mine, t)
	}
	if len(mine) > 0 {
		detail.Trades = s.viewTrades(mine)
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListTrades handles GET /api/v1/trades
// Optional filters: ?mode=real|simulated, ?building=<id>, ?limit=<n> (newest n).
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.filterTrades(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.viewTrades(trades))
}

func (s *Service) filterTrades(r *http.Request) ([]model.Trade, error) {
	q := r.URL.Query()
	mode := q.Get("mode")
	if mode != "" && mode != "real" && mode != "simulated" {
		return nil, errors.New("mode must be real or simulated")
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errors.New("limit must be a non-negative integer")
		}
		limit = n
	}
	building := q.Get("building")

	all := s.sim.Trades()
	out := make([]model.Trade, 0, len(all))
	for _, t := range all {
		if mode == "real" && t.Simulated || mode == "simulated" && !t.Simulated {
			continue
		}
		if building != "" && t.SellerID != building && t.BuyerID != building {
			continue
		}
		out = append(out, t)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ExportTrades handles GET /api/v1/trades/export?format=csv|xlsx|pdf
// Accepts the same filters as ListTrades.
func (s *Service) ExportTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.filterTrades(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		body        []byte
		contentType string
		ext         string
	)
	switch format := r.URL.Query().Get("format"); format {
	case "", "csv":
		body, err = BuildTradesCSV(trades)
		contentType, ext = "text/csv", "csv"
	case "xlsx":
		body, err = BuildTradesXLSX(trades, stats.Aggregate(trades))
		contentType, ext = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx"
	case "pdf":
		body, err = BuildMarketPDF(trades, stats.Aggregate(trades), 40)
		contentType, ext = "application/pdf", "pdf"
	default:
		writeError(w, "format must be csv, xlsx or pdf", http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("trade export failed", "err", err)
		writeError(w, "export failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="trades.`+ext+`"`)
	w.Write(body)
}

// GetStats handles GET /api/v1/stats
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	st := s.sim.Stats()
	trades := s.sim.Trades()
	writeJSON(w, http.StatusOK, StatsResponse{
		MarketStats:  st,
		Savings:      stats.Savings(trades, s.opts.GridPrice, s.opts.P2PPrice),
		CarbonOffset: st.TotalVolume.Mul(s.opts.CarbonFactor),
		GridPrice:    s.opts.GridPrice,
		P2PPrice:     s.opts.P2PPrice,
	})
}

// GetLeaderboard handles GET /api/v1/leaderboard
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	board := stats.Leaderboard(s.sim.Buildings(), s.sim.Trades(), s.opts.CarbonFactor)
	if board == nil {
		board = []stats.Entry{}
	}
	writeJSON(w, http.StatusOK, board)
}

// GetHistory handles GET /api/v1/energy/history
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	h := s.sim.History()
	if h == nil {
		h = []simulation.HistoryPoint{}
	}
	writeJSON(w, http.StatusOK, h)
}

// GetSimulation handles GET /api/v1/simulation
func (s *Service) GetSimulation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.State())
}

// Pause handles POST /api/v1/simulation/pause
func (s *Service) Pause(w http.ResponseWriter, r *http.Request) {
	s.sim.Pause()
	slog.Info("simulation paused")
	writeJSON(w, http.StatusOK, s.sim.State())
}

// Resume handles POST /api/v1/simulation/resume
func (s *Service) Resume(w http.ResponseWriter, r *http.Request) {
	s.sim.Resume()
	slog.Info("simulation resumed")
	writeJSON(w, http.StatusOK, s.sim.State())
}

// Step handles POST /api/v1/simulation/step
// Runs one tick immediately, paused or not.
func (s *Service) Step(w http.ResponseWriter, r *http.Request) {
	rep, err := s.sim.Step(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// SetWeather handles PUT /api/v1/simulation/weather
func (s *Service) SetWeather(w http.ResponseWriter, r *http.Request) {
	var req WeatherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var weather model.Weather
	if req.Weather != "" && req.Weather != "auto" {
		parsed, err := model.ParseWeather(req.Weather)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		weather = parsed
	}
	s.sim.SetWeather(weather)
	slog.Info("weather override set", "weather", req.Weather)
	writeJSON(w, http.StatusOK, s.sim.State())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
