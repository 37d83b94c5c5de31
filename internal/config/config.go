// Package config loads engine configuration from an optional YAML file with
// environment variable overrides. A .env file in the working directory is
// honored for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	// Endpoints. The first entry of each list is the primary; the rest are
	// failover targets.
	RPCEndpoints    []string `yaml:"rpc_endpoints"`
	RouterEndpoints []string `yaml:"router_endpoints"`
	OracleEndpoint  string   `yaml:"oracle_endpoint"`
	OracleWS        string   `yaml:"oracle_ws"`

	// Storage. Empty PostgresDSN selects the in-memory tier; empty
	// ClickhouseDSN disables the fill archive.
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`

	// Trading.
	QuoteMint      string `yaml:"quote_mint"`
	FeeDestination string `yaml:"fee_destination"`
	WalletKeyHex   string `yaml:"wallet_key_hex"` // ed25519 seed, hex

	// Timing.
	TickInterval  time.Duration `yaml:"tick_interval"`
	StartJitter   time.Duration `yaml:"start_jitter"`
	GraceInterval time.Duration `yaml:"grace_interval"`

	// Observability.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		QuoteMint:     "So11111111111111111111111111111111111111112",
		TickInterval:  45 * time.Second,
		StartJitter:   15 * time.Second,
		GraceInterval: 90 * time.Second,
		MetricsAddr:   ":9090",
	}
}

// Load reads configuration: defaults, then the YAML file at path (if path is
// non-empty), then environment variables. A .env file is loaded first so its
// values act as process environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RPC_ENDPOINTS"); v != "" {
		c.RPCEndpoints = splitList(v)
	}
	if v := os.Getenv("ROUTER_ENDPOINTS"); v != "" {
		c.RouterEndpoints = splitList(v)
	}
	if v := os.Getenv("ORACLE_ENDPOINT"); v != "" {
		c.OracleEndpoint = v
	}
	if v := os.Getenv("ORACLE_WS"); v != "" {
		c.OracleWS = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		c.ClickhouseDSN = v
	}
	if v := os.Getenv("QUOTE_MINT"); v != "" {
		c.QuoteMint = v
	}
	if v := os.Getenv("FEE_DESTINATION"); v != "" {
		c.FeeDestination = v
	}
	if v := os.Getenv("WALLET_KEY_HEX"); v != "" {
		c.WalletKeyHex = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if d, ok := envDuration("TICK_INTERVAL"); ok {
		c.TickInterval = d
	}
	if d, ok := envDuration("GRACE_INTERVAL"); ok {
		c.GraceInterval = d
	}
}

func (c *Config) validate() error {
	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("config: at least one rpc endpoint is required")
	}
	if len(c.RouterEndpoints) == 0 {
		return fmt.Errorf("config: at least one router endpoint is required")
	}
	if c.OracleEndpoint == "" {
		return fmt.Errorf("config: oracle endpoint is required")
	}
	if c.QuoteMint == "" {
		return fmt.Errorf("config: quote mint is required")
	}
	if c.FeeDestination == "" {
		return fmt.Errorf("config: fee destination is required")
	}
	if c.WalletKeyHex == "" {
		return fmt.Errorf("config: wallet key is required")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick interval must be positive")
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}
