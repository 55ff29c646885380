package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/energy-market/internal/market"
)

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
market:
  base_price: 0.02
  buyer_priority: largest-deficit-first
simulation:
  buildings: 25
  tick_interval: 250ms
  weather: overcast
`)
	c, err := LoadUnchecked(path, noEnv)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if c.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", c.Server.Port)
	}
	if !c.Market.BasePrice.Equal(decimal.RequireFromString("0.02")) {
		t.Errorf("expected base price 0.02, got %s", c.Market.BasePrice)
	}
	if c.Market.BuyerPriority != market.LargestDeficitFirst {
		t.Errorf("unexpected priority %s", c.Market.BuyerPriority)
	}
	if c.Simulation.Buildings != 25 || c.Simulation.TickInterval != 250*time.Millisecond {
		t.Errorf("simulation section not applied: %+v", c.Simulation)
	}
	// Untouched keys keep defaults.
	if c.Simulation.HistorySize != 20 || !c.Market.MinBuyerFunds.Equal(market.DefaultMinBuyerFunds) {
		t.Errorf("defaults lost: %+v", c)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"9090\"\n")
	c, err := LoadUnchecked(path, envMap(map[string]string{
		"PORT":          "7070",
		"LEDGER_URL":    "http://localhost:8899",
		"TICK_INTERVAL": "2s",
		"SIM_SEED":      "42",
		"SQLITE_PATH":   "/tmp/market.db",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != "7070" {
		t.Errorf("env should win over file, got port %s", c.Server.Port)
	}
	if c.Ledger.Mode != LedgerRPC || c.Ledger.URL != "http://localhost:8899" {
		t.Errorf("LEDGER_URL should select rpc mode, got %+v", c.Ledger)
	}
	if c.Simulation.TickInterval != 2*time.Second || c.Simulation.Seed != 42 {
		t.Errorf("simulation env not applied: %+v", c.Simulation)
	}
	if c.Storage.SQLitePath != "/tmp/market.db" {
		t.Errorf("unexpected sqlite path %q", c.Storage.SQLitePath)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	if _, err := LoadUnchecked("", envMap(map[string]string{"SIM_SEED": "abc"})); err == nil {
		t.Error("expected error for non-numeric SIM_SEED")
	}
	if _, err := LoadUnchecked("", envMap(map[string]string{"TICK_INTERVAL": "soon"})); err == nil {
		t.Error("expected error for bad TICK_INTERVAL")
	}
}

func TestLoad_BadDecimal(t *testing.T) {
	path := writeConfig(t, "market:\n  base_price: cheap\n")
	if _, err := LoadUnchecked(path, noEnv); err == nil {
		t.Error("expected decimal parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero base price", func(c *Config) { c.Market.BasePrice = Decimal{decimal.Zero} }, "base_price"},
		{"unknown priority", func(c *Config) { c.Market.BuyerPriority = "random" }, "buyer_priority"},
		{"rpc without url", func(c *Config) { c.Ledger.Mode = LedgerRPC }, "ledger.url"},
		{"unknown ledger mode", func(c *Config) { c.Ledger.Mode = "chain" }, "ledger.mode"},
		{"bad weather", func(c *Config) { c.Simulation.Weather = "snow" }, "weather"},
		{"zero tick", func(c *Config) { c.Simulation.TickInterval = 0 }, "tick_interval"},
		{"start hour out of range", func(c *Config) { c.Simulation.StartHour = 24 }, "start_hour"},
		{"empty history", func(c *Config) { c.Simulation.HistorySize = 0 }, "history_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestMarketParams(t *testing.T) {
	p := Default().MarketParams()
	if !p.BasePrice.Equal(market.DefaultBasePrice) || p.BuyerPriority != market.SmallestDeficitFirst {
		t.Errorf("unexpected market params %+v", p)
	}
}
