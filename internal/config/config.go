// Package config loads the agent configuration. Values are layered:
// built-in defaults, then an optional YAML file, then TILLGUARD_*
// environment variables. The result is checked against an embedded CUE
// schema before use. Command-line flags are applied by the CLI on top.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tillguard/internal/exposure"
	"github.com/roach88/tillguard/internal/ratelimit"
	"github.com/roach88/tillguard/internal/upstream"
)

// EnvPrefix prefixes every environment variable the agent reads.
const EnvPrefix = "TILLGUARD_"

// Config is the full agent configuration.
type Config struct {
	Upstream  Upstream  `yaml:"upstream" json:"upstream" envPrefix:"UPSTREAM_"`
	Store     Store     `yaml:"store" json:"store" envPrefix:"STORE_"`
	Heartbeat Heartbeat `yaml:"heartbeat" json:"heartbeat" envPrefix:"HEARTBEAT_"`
	Exposure  Exposure  `yaml:"exposure" json:"exposure" envPrefix:"EXPOSURE_"`
	Cache     Cache     `yaml:"cache" json:"cache" envPrefix:"CACHE_"`
	Agent     Agent     `yaml:"agent" json:"agent" envPrefix:"AGENT_"`
	Redis     Redis     `yaml:"redis" json:"redis" envPrefix:"REDIS_"`
	Relay     Relay     `yaml:"relay" json:"relay" envPrefix:"RELAY_"`
	Telemetry Telemetry `yaml:"telemetry" json:"telemetry" envPrefix:"TELEMETRY_"`
	Log       Log       `yaml:"log" json:"log" envPrefix:"LOG_"`
}

// Upstream locates the hosted backend.
type Upstream struct {
	BaseURL        string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	APIKey         string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	HealthPath     string        `yaml:"health_path" json:"health_path" env:"HEALTH_PATH"`
	MenuPath       string        `yaml:"menu_path" json:"menu_path" env:"MENU_PATH"`
	OrdersPath     string        `yaml:"orders_path" json:"orders_path" env:"ORDERS_PATH"`
	KDSPath        string        `yaml:"kds_path" json:"kds_path" env:"KDS_PATH"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// Store locates the local database.
type Store struct {
	Path string `yaml:"path" json:"path" env:"PATH"`
}

// Heartbeat tunes the connectivity monitor.
type Heartbeat struct {
	Interval time.Duration `yaml:"interval" json:"interval" env:"INTERVAL"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// Exposure sets the offline cash cap in minor units.
type Exposure struct {
	Cap         int64 `yaml:"cap" json:"cap" env:"CAP"`
	WarnPercent int64 `yaml:"warn_percent" json:"warn_percent" env:"WARN_PERCENT"`
}

// Cache sets background refresh periods.
type Cache struct {
	MenuRefresh time.Duration `yaml:"menu_refresh" json:"menu_refresh" env:"MENU_REFRESH"`
	KDSRefresh  time.Duration `yaml:"kds_refresh" json:"kds_refresh" env:"KDS_REFRESH"`
}

// Agent configures the local HTTP API.
type Agent struct {
	Listen        string        `yaml:"listen" json:"listen" env:"LISTEN"`
	OrderCapacity int           `yaml:"order_capacity" json:"order_capacity" env:"ORDER_CAPACITY"`
	OrderRefill   int           `yaml:"order_refill" json:"order_refill" env:"ORDER_REFILL"`
	OrderInterval time.Duration `yaml:"order_interval" json:"order_interval" env:"ORDER_INTERVAL"`
}

// OrderPolicy is the rate limit applied to order placement.
func (a Agent) OrderPolicy() ratelimit.Policy {
	return ratelimit.Policy{
		Name:     ratelimit.Order.Name,
		Capacity: a.OrderCapacity,
		Refill:   a.OrderRefill,
		Interval: a.OrderInterval,
	}
}

// Redis is optional. With an address set, rate limits and the relay are
// shared through it; otherwise both stay in process.
type Redis struct {
	Addr     string `yaml:"addr" json:"addr" env:"ADDR"`
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" json:"db" env:"DB"`
	Prefix   string `yaml:"prefix" json:"prefix" env:"PREFIX"`
}

// Enabled reports whether a Redis address is configured.
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

// Relay names the scanner channel.
type Relay struct {
	Channel string `yaml:"channel" json:"channel" env:"CHANNEL"`
}

// Telemetry configures OTLP metrics export. An empty endpoint disables it.
type Telemetry struct {
	OTLPEndpoint   string        `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure       bool          `yaml:"insecure" json:"insecure" env:"INSECURE"`
	ExportInterval time.Duration `yaml:"export_interval" json:"export_interval" env:"EXPORT_INTERVAL"`
	StoreID        string        `yaml:"store_id" json:"store_id" env:"STORE_ID"`
}

// Log sets the log level.
type Log struct {
	Level string `yaml:"level" json:"level" env:"LEVEL"`
}

// SlogLevel converts the configured level.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the built-in configuration. Upstream.BaseURL is left
// empty and must be supplied.
func Default() Config {
	return Config{
		Upstream: Upstream{
			HealthPath:     upstream.DefaultHealthPath,
			MenuPath:       upstream.DefaultMenuPath,
			OrdersPath:     upstream.DefaultOrdersPath,
			KDSPath:        upstream.DefaultKDSPath,
			RequestTimeout: upstream.DefaultRequestTimeout,
		},
		Store:     Store{Path: "tillguard.db"},
		Heartbeat: Heartbeat{Interval: 10 * time.Second, Timeout: 5 * time.Second},
		Exposure:  Exposure{Cap: exposure.DefaultCap, WarnPercent: exposure.DefaultWarnPercent},
		Cache:     Cache{MenuRefresh: 5 * time.Minute, KDSRefresh: 15 * time.Second},
		Agent: Agent{
			Listen:        "127.0.0.1:8787",
			OrderCapacity: ratelimit.Order.Capacity,
			OrderRefill:   ratelimit.Order.Refill,
			OrderInterval: ratelimit.Order.Interval,
		},
		Redis:     Redis{Prefix: "tillguard"},
		Relay:     Relay{Channel: "parcel_sync"},
		Telemetry: Telemetry{ExportInterval: 30 * time.Second},
		Log:       Log{Level: "info"},
	}
}

// Load reads the configuration from path (optional) and the process
// environment, then validates it.
func Load(path string) (Config, error) {
	return load(path, nil)
}

// load is Load with an explicit environment; nil means the process
// environment.
func load(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// UpstreamConfig converts to the upstream client configuration.
func (c Config) UpstreamConfig() upstream.Config {
	return upstream.Config{
		BaseURL:        c.Upstream.BaseURL,
		HealthPath:     c.Upstream.HealthPath,
		MenuPath:       c.Upstream.MenuPath,
		OrdersPath:     c.Upstream.OrdersPath,
		KDSPath:        c.Upstream.KDSPath,
		APIKey:         c.Upstream.APIKey,
		RequestTimeout: c.Upstream.RequestTimeout,
	}
}
