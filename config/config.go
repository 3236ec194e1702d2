package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete desk configuration.
type Config struct {
	Gateway GatewayConfig `json:"gateway" yaml:"gateway"`
	Desk    DeskConfig    `json:"desk" yaml:"desk"`
	Points  PointsConfig  `json:"points" yaml:"points"`
	Journal JournalConfig `json:"journal" yaml:"journal"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Sim     SimConfig     `json:"sim" yaml:"sim"`
}

// GatewayConfig selects and configures the brokerage gateway.
type GatewayConfig struct {
	Kind    string `json:"kind" yaml:"kind"` // "sim" or "bridge"
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"` // e.g. "10s"
	Env     string `json:"env,omitempty" yaml:"env,omitempty"`         // SIMULATE or REAL
}

type DeskConfig struct {
	OrderPrefix        string  `json:"order_prefix" yaml:"order_prefix"`
	ContractMultiplier float64 `json:"contract_multiplier" yaml:"contract_multiplier"`
	TrailingThreshold  float64 `json:"trailing_threshold" yaml:"trailing_threshold"`
	PollInterval       string  `json:"poll_interval" yaml:"poll_interval"`
	ErrorBackoff       string  `json:"error_backoff" yaml:"error_backoff"`
}

type PointsConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Dir          string  `json:"dir" yaml:"dir"`
	Instrument   string  `json:"instrument" yaml:"instrument"`
	Tolerance    float64 `json:"tolerance" yaml:"tolerance"`
	TrailOffset  float64 `json:"trail_offset" yaml:"trail_offset"`
	PollInterval string  `json:"poll_interval" yaml:"poll_interval"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type         string `json:"type" yaml:"type"` // "csv" or "sqlite"
	TradesFile   string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	SnapshotFile string `json:"snapshot_file,omitempty" yaml:"snapshot_file,omitempty"`
	DBPath       string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
}

// MetricsConfig: an empty Addr disables the HTTP endpoint.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// SimConfig seeds the in-memory gateway.
type SimConfig struct {
	Prices   map[string]float64 `json:"prices,omitempty" yaml:"prices,omitempty"`
	AutoFill bool               `json:"auto_fill" yaml:"auto_fill"`
}

// LoadFromFile loads configuration from a file (JSON or YAML)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", jerr)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Gateway.Kind {
	case "sim":
	case "bridge":
		if c.Gateway.BaseURL == "" {
			return fmt.Errorf("gateway.base_url is required for the bridge gateway")
		}
	default:
		return fmt.Errorf("gateway.kind must be 'sim' or 'bridge'")
	}
	if c.Gateway.Timeout != "" {
		if _, err := parseDuration("gateway.timeout", c.Gateway.Timeout); err != nil {
			return err
		}
	}
	switch strings.ToUpper(c.Gateway.Env) {
	case "", "SIMULATE", "REAL":
	default:
		return fmt.Errorf("gateway.env must be 'SIMULATE' or 'REAL'")
	}

	if c.Desk.OrderPrefix == "" {
		return fmt.Errorf("desk.order_prefix is required")
	}
	if c.Desk.ContractMultiplier <= 0 {
		return fmt.Errorf("desk.contract_multiplier must be positive")
	}
	if c.Desk.TrailingThreshold <= 0 {
		return fmt.Errorf("desk.trailing_threshold must be positive")
	}
	if _, err := c.DeskPollInterval(); err != nil {
		return err
	}
	if _, err := c.DeskErrorBackoff(); err != nil {
		return err
	}

	if c.Points.Enabled {
		if c.Points.Dir == "" {
			return fmt.Errorf("points.dir is required when points are enabled")
		}
		if c.Points.Instrument == "" {
			return fmt.Errorf("points.instrument is required when points are enabled")
		}
		if c.Points.Tolerance <= 0 {
			return fmt.Errorf("points.tolerance must be positive")
		}
		if c.Points.TrailOffset < 0 {
			return fmt.Errorf("points.trail_offset must not be negative")
		}
		if _, err := c.PointsPollInterval(); err != nil {
			return err
		}
	}

	if c.Journal.Type != "csv" && c.Journal.Type != "sqlite" {
		return fmt.Errorf("journal.type must be 'csv' or 'sqlite'")
	}
	if c.Journal.Type == "csv" && (c.Journal.TradesFile == "" || c.Journal.SnapshotFile == "") {
		return fmt.Errorf("journal trades_file and snapshot_file required for CSV type")
	}
	if c.Journal.Type == "sqlite" && c.Journal.DBPath == "" {
		return fmt.Errorf("journal db_path required for SQLite type")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug|info|warn|error")
	}

	for instr, p := range c.Sim.Prices {
		if p <= 0 {
			return fmt.Errorf("sim.prices[%s] must be positive", instr)
		}
	}
	return nil
}

func (c *Config) GatewayTimeout() time.Duration {
	d, err := time.ParseDuration(c.Gateway.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (c *Config) DeskPollInterval() (time.Duration, error) {
	return parseDuration("desk.poll_interval", c.Desk.PollInterval)
}

func (c *Config) DeskErrorBackoff() (time.Duration, error) {
	return parseDuration("desk.error_backoff", c.Desk.ErrorBackoff)
}

func (c *Config) PointsPollInterval() (time.Duration, error) {
	return parseDuration("points.poll_interval", c.Points.PollInterval)
}

// Default returns a paper-trading configuration against the simulated
// gateway.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Kind:    "sim",
			BaseURL: "http://127.0.0.1:8787",
			Timeout: "10s",
			Env:     "SIMULATE",
		},
		Desk: DeskConfig{
			OrderPrefix:        "HSI",
			ContractMultiplier: 10,
			TrailingThreshold:  100,
			PollInterval:       "1s",
			ErrorBackoff:       "5s",
		},
		Points: PointsConfig{
			Enabled:      false,
			Dir:          "./points",
			Instrument:   "HK.MHI2506",
			Tolerance:    2,
			TrailOffset:  50,
			PollInterval: "1s",
		},
		Journal: JournalConfig{
			Type:         "csv",
			TradesFile:   "./open_orders.csv",
			SnapshotFile: "./virtual_orders.csv",
			DBPath:       "./futdesk.sqlite",
		},
		Log: LogConfig{
			Level: "info",
			File:  "./trade.log",
		},
		Sim: SimConfig{
			Prices:   map[string]float64{"HK.MHI2506": 23260},
			AutoFill: true,
		},
	}
}
