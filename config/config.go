// Package config loads the bridge configuration from YAML or JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/bridge/strategy"
)

// Config is the complete bridge configuration.
type Config struct {
	Account   AccountConfig   `json:"account" yaml:"account"`
	Quotes    QuotesConfig    `json:"quotes" yaml:"quotes"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger"`
	Events    EventsConfig    `json:"events" yaml:"events"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Instances []string        `json:"instances" yaml:"instances"`
	Sim       SimConfig       `json:"sim,omitempty" yaml:"sim,omitempty"`
}

// AccountConfig identifies the brokerage account all strategies share.
type AccountConfig struct {
	ID                 string `json:"id" yaml:"id"`
	SettlementCurrency string `json:"settlement_currency" yaml:"settlement_currency"`
}

type QuotesConfig struct {
	TTL string `json:"ttl,omitempty" yaml:"ttl,omitempty"` // e.g. "5s"
}

type EngineConfig struct {
	ContractSize  float64 `json:"contract_size,omitempty" yaml:"contract_size,omitempty"`
	StaleAfter    string  `json:"stale_after,omitempty" yaml:"stale_after,omitempty"`
	CycleInterval string  `json:"cycle_interval,omitempty" yaml:"cycle_interval,omitempty"`
}

type LedgerConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

type EventsConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	NATSURLs []string `json:"nats_urls,omitempty" yaml:"nats_urls,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
}

// SimConfig seeds the dry-run broker with initial quotes and an optional
// scripted action sequence to drive the engine.
type SimConfig struct {
	Balance float64           `json:"balance,omitempty" yaml:"balance,omitempty"`
	Quotes  []SimQuoteConfig  `json:"quotes,omitempty" yaml:"quotes,omitempty"`
	Script  []SimActionConfig `json:"script,omitempty" yaml:"script,omitempty"`
}

type SimQuoteConfig struct {
	Instrument string  `json:"instrument" yaml:"instrument"`
	Bid        float64 `json:"bid" yaml:"bid"`
	Ask        float64 `json:"ask" yaml:"ask"`
}

// SimActionConfig is one scripted action, replayed one per cycle for its
// instance. Action uses the snake_case names strategy.ParseKind accepts.
type SimActionConfig struct {
	Instance   string  `json:"instance" yaml:"instance"`
	Action     string  `json:"action" yaml:"action"`
	Instrument string  `json:"instrument" yaml:"instrument"`
	Volume     float64 `json:"volume,omitempty" yaml:"volume,omitempty"`
	Price      float64 `json:"price,omitempty" yaml:"price,omitempty"`
	SLDistance float64 `json:"sl_distance,omitempty" yaml:"sl_distance,omitempty"`
	TPDistance float64 `json:"tp_distance,omitempty" yaml:"tp_distance,omitempty"`
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// QuoteTTL parses the quote cache TTL, defaulting to 5s.
func (c *Config) QuoteTTL() (time.Duration, error) {
	return parseDuration(c.Quotes.TTL, 5*time.Second)
}

// StaleAfter parses the cycle guard staleness timeout, defaulting to 5m.
func (c *Config) StaleAfter() (time.Duration, error) {
	return parseDuration(c.Engine.StaleAfter, 5*time.Minute)
}

// CycleInterval parses the dry-run cycle period, defaulting to 10s.
func (c *Config) CycleInterval() (time.Duration, error) {
	return parseDuration(c.Engine.CycleInterval, 10*time.Second)
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", jsonErr)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for use.
func (c *Config) Validate() error {
	if c.Account.ID == "" {
		return fmt.Errorf("account.id is required")
	}
	if len(c.Account.SettlementCurrency) != 3 {
		return fmt.Errorf("account.settlement_currency must be a three-letter code")
	}
	if c.Ledger.DBPath == "" {
		return fmt.Errorf("ledger.db_path is required")
	}
	if len(c.Instances) == 0 {
		return fmt.Errorf("at least one strategy instance is required")
	}
	if c.Engine.ContractSize < 0 {
		return fmt.Errorf("engine.contract_size must not be negative")
	}
	if c.Events.Enabled && len(c.Events.NATSURLs) == 0 {
		return fmt.Errorf("events.nats_urls required when events are enabled")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"quotes.ttl", c.Quotes.TTL},
		{"engine.stale_after", c.Engine.StaleAfter},
		{"engine.cycle_interval", c.Engine.CycleInterval},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	for _, q := range c.Sim.Quotes {
		if q.Bid <= 0 || q.Ask <= 0 {
			return fmt.Errorf("sim quote %s: bid and ask must be positive", q.Instrument)
		}
		if q.Ask < q.Bid {
			return fmt.Errorf("sim quote %s: ask below bid", q.Instrument)
		}
	}
	for i, a := range c.Sim.Script {
		kind, err := strategy.ParseKind(a.Action)
		if err != nil {
			return fmt.Errorf("sim script entry %d: %w", i, err)
		}
		if a.Instance == "" {
			return fmt.Errorf("sim script entry %d: instance is required", i)
		}
		if kind.IsOpen() && a.Volume <= 0 {
			return fmt.Errorf("sim script entry %d: open actions need a positive volume", i)
		}
	}
	return nil
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:                 "ACC-001",
			SettlementCurrency: "USD",
		},
		Quotes: QuotesConfig{TTL: "5s"},
		Engine: EngineConfig{
			ContractSize:  100000,
			StaleAfter:    "5m",
			CycleInterval: "10s",
		},
		Ledger:    LedgerConfig{DBPath: "./bridge.sqlite"},
		Logging:   LoggingConfig{Level: "info"},
		Instances: []string{"strategy-1"},
		Sim: SimConfig{
			Balance: 100000,
			Quotes: []SimQuoteConfig{
				{Instrument: "EURUSD", Bid: 1.0849, Ask: 1.0851},
			},
		},
	}
}
