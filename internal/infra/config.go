// Package infra holds cross-cutting plumbing: configuration loading.
package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds everything the backtest driver needs. Loaded once at
// startup from YAML; validation happens in LoadConfig.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Strategy struct {
		Name    string   `yaml:"name"`
		Symbols []string `yaml:"symbols"`

		ShortSMAPeriod int `yaml:"short_sma_period"`
		LongSMAPeriod  int `yaml:"long_sma_period"`

		FractionRisk         float64 `yaml:"fraction_risk"`
		MaxEquityPerPosition float64 `yaml:"max_equity_per_position"`
		StopLossATRMultiple  float64 `yaml:"stop_loss_atr_multiple"`
		TimeStopDays         int     `yaml:"time_stop_days"`
		TargetPercent        float64 `yaml:"target_percent"`
		TrailingATRMultiple  float64 `yaml:"trailing_atr_multiple"`
		TrailingPercent      float64 `yaml:"trailing_percent"`
	} `yaml:"strategy"`

	Backtest struct {
		Sessions  int     `yaml:"sessions"`
		StartCash float64 `yaml:"start_cash"`
		DBPath    string  `yaml:"db_path"`
		CSVPath   string  `yaml:"csv_path"`
	} `yaml:"backtest"`

	Logging struct {
		Level string `yaml:"level"` // debug, info, warn, error
	} `yaml:"logging"`
}

// DefaultConfig returns a config with sane defaults for a demo run.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "backtest"
	cfg.App.Version = "dev"
	cfg.Strategy.Name = "atr-demo"
	cfg.Strategy.Symbols = []string{"AMZN", "MSFT"}
	cfg.Strategy.ShortSMAPeriod = 3
	cfg.Strategy.LongSMAPeriod = 8
	cfg.Strategy.FractionRisk = 0.02
	cfg.Strategy.MaxEquityPerPosition = 0.10
	cfg.Strategy.StopLossATRMultiple = 3
	cfg.Strategy.TimeStopDays = 10
	cfg.Strategy.TargetPercent = 0.05
	cfg.Backtest.Sessions = 30
	cfg.Backtest.StartCash = 100_000
	cfg.Backtest.DBPath = "round_trips.db"
	cfg.Backtest.CSVPath = "round_trips.csv"
	cfg.Logging.Level = "info"
	return cfg
}

// LoadConfig reads a YAML config file over the defaults and validates
// the result. An empty path returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Strategy.Symbols) == 0 {
		return fmt.Errorf("config: strategy.symbols must not be empty")
	}
	if c.Strategy.ShortSMAPeriod <= 0 || c.Strategy.ShortSMAPeriod >= c.Strategy.LongSMAPeriod {
		return fmt.Errorf("config: need 0 < short_sma_period < long_sma_period, got %d/%d",
			c.Strategy.ShortSMAPeriod, c.Strategy.LongSMAPeriod)
	}
	if c.Strategy.FractionRisk <= 0 || c.Strategy.FractionRisk > 1 {
		return fmt.Errorf("config: fraction_risk must be in (0, 1], got %g", c.Strategy.FractionRisk)
	}
	if c.Strategy.MaxEquityPerPosition <= 0 || c.Strategy.MaxEquityPerPosition > 1 {
		return fmt.Errorf("config: max_equity_per_position must be in (0, 1], got %g", c.Strategy.MaxEquityPerPosition)
	}
	if c.Strategy.StopLossATRMultiple <= 0 {
		return fmt.Errorf("config: stop_loss_atr_multiple must be positive, got %g", c.Strategy.StopLossATRMultiple)
	}
	if c.Backtest.Sessions <= 0 {
		return fmt.Errorf("config: sessions must be positive, got %d", c.Backtest.Sessions)
	}
	if c.Backtest.StartCash <= 0 {
		return fmt.Errorf("config: start_cash must be positive, got %g", c.Backtest.StartCash)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging level %q", c.Logging.Level)
	}
	return nil
}
