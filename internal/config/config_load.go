package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/titanous/json5"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RELAY_"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout:         30,
			RecentMessages:      10000,
			ReconnectBackoff:    Duration(2 * time.Second),
			MaxReconnectBackoff: Duration(time.Minute),
		},
		Database: DatabaseConfig{
			Driver:     "postgres",
			Path:       "~/.tgrelay/routes.db",
			RoutesFile: "routes.json5",
		},
		Media: MediaConfig{
			Dir:          "./public",
			BaseURL:      "http://localhost:8080",
			MaxBytes:     20 * 1024 * 1024,
			AvatarMaxAge: Duration(24 * time.Hour),
		},
		Delivery: DeliveryConfig{
			Timeout:       Duration(15 * time.Second),
			BackoffUnit:   Duration(time.Second),
			MaxAttempts:   3,
			MaxConcurrent: 5,
			EndpointRate:  2.5,
			EndpointBurst: 5,
		},
		Relay: RelayConfig{
			Workers:         4,
			QueueSize:       1000,
			RouteCacheTTL:   Duration(5 * time.Minute),
			ProcessTimeout:  Duration(2 * time.Minute),
			LookbackTimeout: Duration(3 * time.Second),
			MaxTraceHops:    1,
		},
		Stats: StatsConfig{
			Interval: Duration(30 * time.Second),
		},
		Server: ServerConfig{
			Listen:     ":8080",
			ServeMedia: true,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// Env vars take precedence over file values. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Database.RoutesFile = ExpandHome(cfg.Database.RoutesFile)
	cfg.Media.Dir = ExpandHome(cfg.Media.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite", "file":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if c.Relay.Workers <= 0 {
		errs = append(errs, errors.New("relay.workers must be positive"))
	}
	if c.Relay.QueueSize <= 0 {
		errs = append(errs, errors.New("relay.queue_size must be positive"))
	}
	if c.Relay.MaxTraceHops < 0 {
		errs = append(errs, errors.New("relay.max_trace_hops must not be negative"))
	}
	if c.Delivery.MaxAttempts <= 0 {
		errs = append(errs, errors.New("delivery.max_attempts must be positive"))
	}
	if c.Delivery.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("delivery.max_concurrent must be positive"))
	}
	if c.Delivery.EndpointRate < 0 {
		errs = append(errs, errors.New("delivery.endpoint_rate must not be negative"))
	}
	if u, err := url.Parse(c.Media.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("media.base_url: %q is not an absolute URL", c.Media.BaseURL))
	}
	switch strings.ToLower(c.Telemetry.Protocol) {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol: unknown protocol %q", c.Telemetry.Protocol))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ResolvePath picks the config file: explicit flag, then $RELAY_CONFIG, then
// config.json5 in the working directory.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	return "config.json5"
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
