package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for barrun.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Logging  Logging  `yaml:"logging"`
	Funding  Funding  `yaml:"funding"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Backtest Backtest `yaml:"backtest"`
	Batch    Batch    `yaml:"batch"`

	// Strategies holds per-strategy parameter overrides keyed by registry
	// name. Each node is decoded by the strategy onto its own defaults.
	Strategies map[string]yaml.Node `yaml:"strategies"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Funding configures the funding rate history client.
type Funding struct {
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	RateLimitBurst  int    `yaml:"rate_limit_burst"`
	PageLimit       int    `yaml:"page_limit"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API used in
// signal mode.
type Alpaca struct {
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	BaseURL     string `yaml:"base_url"`
	TimeInForce string `yaml:"time_in_force"`
}

// Backtest holds defaults for simulated runs.
type Backtest struct {
	Market     string  `yaml:"market"`
	Timeframe  string  `yaml:"timeframe"`
	Cash       float64 `yaml:"cash"`
	Commission float64 `yaml:"commission"`
}

// Batch controls parallel runs.
type Batch struct {
	Workers int `yaml:"workers"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/barrun.db",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Funding: Funding{
			BaseURL:         "https://fapi.binance.com",
			RateLimitPerMin: 240,
			RateLimitBurst:  4,
			PageLimit:       1000,
			TimeoutSeconds:  10,
		},
		Alpaca: Alpaca{
			BaseURL:     "https://paper-api.alpaca.markets",
			TimeInForce: "gtc",
		},
		Backtest: Backtest{
			Market:     "crypto",
			Timeframe:  "1h",
			Cash:       1_000_000,
			Commission: 0.002,
		},
	}
}

// StrategyParams returns the parameter node for name, or nil when the file
// does not configure it.
func (c *Config) StrategyParams(name string) *yaml.Node {
	n, ok := c.Strategies[name]
	if !ok {
		return nil
	}
	return &n
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it over
// the defaults, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("FUNDING_BASE_URL"); v != "" {
		cfg.Funding.BaseURL = v
	}

	if v := os.Getenv("BATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.Workers = n
		}
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
