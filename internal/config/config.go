// Package config loads the matching core's process configuration,
// modeled on the venue's legacy pkg/config package: a root Config struct
// assembled from yaml-tagged sections, with a safe default and a thin
// Load wrapper around gopkg.in/yaml.v2.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the matching core's full process configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Matching  MatchingConfig  `yaml:"matching"`
	Events    EventsConfig    `yaml:"events"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Symbols   []SymbolConfig  `yaml:"symbols"`
}

// ServerConfig is the thin HTTP server carrying the WS-upgrade and resync
// routes — not a full request surface, per spec §1.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the GORM/postgres connection backing the
// Balance, Order, and Trade Stores.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// MatchingConfig configures the per-symbol matching engine, spec §4.5/§5.
type MatchingConfig struct {
	CommissionRate               float64       `yaml:"commission_rate"`
	CommissionIncrementExponent  int32         `yaml:"commission_increment_exponent"`
	FeeAccount                   string        `yaml:"fee_account"`
	MarketBuySlippageCap         float64       `yaml:"market_buy_slippage_cap"`
	QueueCapacity                int           `yaml:"queue_capacity"`
	CommandTimeout                time.Duration `yaml:"command_timeout"`
}

// EventsConfig holds the Event Publisher's queue and heartbeat settings,
// spec §4.6/§5. Nothing in the process reads these fields: the publisher
// and the websocket transport use the events package's
// DefaultOutboundQueueSize and HeartbeatInterval constants.
type EventsConfig struct {
	OutboundQueueSize int           `yaml:"outbound_queue_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// WebSocketConfig configures the subscriber transport, grounded on the
// venue's legacy HFTWebSocketConfig.
type WebSocketConfig struct {
	Path             string        `yaml:"path"`
	ReadBufferSize   int           `yaml:"read_buffer_size"`
	WriteBufferSize  int           `yaml:"write_buffer_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PongWait         time.Duration `yaml:"pong_wait"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SymbolConfig is one entry of the symbol registry, spec §3/§9.
type SymbolConfig struct {
	Symbol string `yaml:"symbol"`
	Base   string `yaml:"base"`
	Quote  string `yaml:"quote"`
}

var (
	ErrInvalidPort     = errors.New("config: invalid server port")
	ErrMissingDatabase = errors.New("config: missing database driver")
	ErrNoSymbols       = errors.New("config: at least one symbol must be configured")
)

// Validate checks the invariants the rest of the process assumes hold.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Database.Driver == "" {
		return ErrMissingDatabase
	}
	if len(c.Symbols) == 0 {
		return ErrNoSymbols
	}
	return nil
}

// DatabaseDSN builds the GORM postgres DSN from DatabaseConfig.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.Username, c.Database.Password, c.Database.Database, c.Database.SSLMode)
}

// ServerAddr is the listen address for the thin HTTP server.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Default returns the configuration this core runs with absent an
// operator-supplied file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			Database:        "matchingcore",
			Username:        "postgres",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Matching: MatchingConfig{
			CommissionRate:              0.001,
			CommissionIncrementExponent: -8,
			FeeAccount:                  "fee_account",
			MarketBuySlippageCap:        1.05,
			QueueCapacity:               10000,
			CommandTimeout:              2 * time.Second,
		},
		Events: EventsConfig{
			OutboundQueueSize: 1024,
			HeartbeatInterval: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Path:             "/ws",
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			PongWait:         60 * time.Second,
			MaxMessageSize:   4096,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Symbols: []SymbolConfig{
			{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
		},
	}
}

// Load reads configuration from a YAML file, falling back to Default when
// path is empty or the file does not exist.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
