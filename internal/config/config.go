// Package config loads service configuration from an optional YAML file
// layered under environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/energy-market/internal/market"
	"github.com/atmx/energy-market/internal/model"
)

// Ledger modes.
const (
	LedgerMemory  = "memory"
	LedgerRPC     = "rpc"
	LedgerOffline = "offline"
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Market     MarketConfig     `yaml:"market"`
	Simulation SimulationConfig `yaml:"simulation"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	// At most one of DatabaseURL and SQLitePath is used; Postgres wins.
	DatabaseURL string        `yaml:"database_url"`
	SQLitePath  string        `yaml:"sqlite_path"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

type LedgerConfig struct {
	Mode            string        `yaml:"mode"`
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	ConfirmAttempts int           `yaml:"confirm_attempts"`
	ConfirmInterval time.Duration `yaml:"confirm_interval"`
	ExplorerURL     string        `yaml:"explorer_url"`
}

type MarketConfig struct {
	BasePrice     Decimal              `yaml:"base_price"`
	MinBuyerFunds Decimal              `yaml:"min_buyer_funds"`
	BuyerPriority market.BuyerPriority `yaml:"buyer_priority"`
	GridPrice     Decimal              `yaml:"grid_price"`
	P2PPrice      Decimal              `yaml:"p2p_price"`
	CarbonFactor  Decimal              `yaml:"carbon_factor"`
}

type SimulationConfig struct {
	Buildings        int           `yaml:"buildings"`
	Seed             uint64        `yaml:"seed"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	TimeStep         float64       `yaml:"time_step_hours"`
	StartHour        float64       `yaml:"start_hour"`
	Weather          string        `yaml:"weather"` // empty selects the noise schedule
	WeatherFrequency float64       `yaml:"weather_frequency"`
	HistorySize      int           `yaml:"history_size"`
	Paused           bool          `yaml:"paused"`
}

// Decimal is a decimal.Decimal that decodes from any YAML scalar without
// passing through float64.
type Decimal struct {
	decimal.Decimal
}

func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a decimal scalar", node.Line)
	}
	v, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Decimal = v
	return nil
}

func (d Decimal) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Default returns the configuration used when no file or env is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			CORSOrigins:     []string{"*"},
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			CacheTTL: 30 * time.Second,
		},
		Ledger: LedgerConfig{
			Mode:            LedgerMemory,
			Timeout:         10 * time.Second,
			ConfirmAttempts: 20,
			ConfirmInterval: 500 * time.Millisecond,
			ExplorerURL:     "https://explorer.solana.com/tx/%s?cluster=devnet",
		},
		Market: MarketConfig{
			BasePrice:     Decimal{market.DefaultBasePrice},
			MinBuyerFunds: Decimal{market.DefaultMinBuyerFunds},
			BuyerPriority: market.SmallestDeficitFirst,
			GridPrice:     Decimal{decimal.RequireFromString("0.15")},
			P2PPrice:      Decimal{decimal.RequireFromString("0.01")},
			CarbonFactor:  Decimal{decimal.RequireFromString("0.5")},
		},
		Simulation: SimulationConfig{
			Buildings:        10,
			TickInterval:     5 * time.Second,
			TimeStep:         0.5,
			StartHour:        12,
			WeatherFrequency: 1.0 / 48,
			HistorySize:      20,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	c, err := LoadUnchecked(path, os.Getenv)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadUnchecked loads and merges config without validating it.
func LoadUnchecked(path string, getenv func(string) string) (*Config, error) {
	c := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := c.applyEnv(getenv); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Storage.DatabaseURL = v
	}
	if v := getenv("SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
	if v := getenv("LEDGER_URL"); v != "" {
		c.Ledger.URL = v
		c.Ledger.Mode = LedgerRPC
	}
	if v := getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TICK_INTERVAL: %w", err)
		}
		c.Simulation.TickInterval = d
	}
	if v := getenv("SIM_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SIM_SEED: %w", err)
		}
		c.Simulation.Seed = seed
	}
	return nil
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch c.Ledger.Mode {
	case LedgerMemory, LedgerOffline:
	case LedgerRPC:
		if c.Ledger.URL == "" {
			return errors.New("ledger.url is required in rpc mode")
		}
	default:
		return fmt.Errorf("ledger.mode %q is not one of memory, rpc, offline", c.Ledger.Mode)
	}
	if !c.Market.BasePrice.IsPositive() {
		return errors.New("market.base_price must be positive")
	}
	if c.Market.MinBuyerFunds.IsNegative() {
		return errors.New("market.min_buyer_funds must not be negative")
	}
	switch c.Market.BuyerPriority {
	case market.SmallestDeficitFirst, market.LargestDeficitFirst:
	default:
		return fmt.Errorf("market.buyer_priority %q is not supported", c.Market.BuyerPriority)
	}
	if c.Simulation.Buildings < 0 {
		return errors.New("simulation.buildings must not be negative")
	}
	if c.Simulation.TickInterval <= 0 {
		return errors.New("simulation.tick_interval must be positive")
	}
	if c.Simulation.TimeStep <= 0 || c.Simulation.TimeStep > 24 {
		return errors.New("simulation.time_step_hours must be in (0, 24]")
	}
	if c.Simulation.StartHour < 0 || c.Simulation.StartHour >= 24 {
		return errors.New("simulation.start_hour must be in [0, 24)")
	}
	if c.Simulation.Weather != "" {
		if _, err := model.ParseWeather(c.Simulation.Weather); err != nil {
			return fmt.Errorf("simulation.weather: %w", err)
		}
	}
	if c.Simulation.HistorySize < 1 {
		return errors.New("simulation.history_size must be at least 1")
	}
	return nil
}

// MarketParams converts the market section into matcher parameters.
func (c *Config) MarketParams() market.Config {
	return market.Config{
		BasePrice:     c.Market.BasePrice.Decimal,
		MinBuyerFunds: c.Market.MinBuyerFunds.Decimal,
		BuyerPriority: c.Market.BuyerPriority,
	}
}
