// Package config loads the relay configuration from a JSON5 file overlaid
// with RELAY_* environment variables.
package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration read from strings such as "30s" or "5m".
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the root configuration.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram" envPrefix:"TELEGRAM_"`
	Database  DatabaseConfig  `json:"database" envPrefix:"DATABASE_"`
	Media     MediaConfig     `json:"media" envPrefix:"MEDIA_"`
	Delivery  DeliveryConfig  `json:"delivery" envPrefix:"DELIVERY_"`
	Relay     RelayConfig     `json:"relay"`
	Stats     StatsConfig     `json:"stats" envPrefix:"STATS_"`
	Server    ServerConfig    `json:"server" envPrefix:"SERVER_"`
	Telemetry TelemetryConfig `json:"telemetry" envPrefix:"TELEMETRY_"`
}

// TelegramConfig configures the source bot. The token is only read from the
// environment (RELAY_TELEGRAM_TOKEN).
type TelegramConfig struct {
	Token               string   `json:"-" env:"TOKEN"`
	Proxy               string   `json:"proxy,omitempty" env:"PROXY"`
	PollTimeout         int      `json:"poll_timeout,omitempty" env:"POLL_TIMEOUT"`       // long polling timeout, seconds
	RecentMessages      int      `json:"recent_messages,omitempty" env:"RECENT_MESSAGES"` // lookback cache size
	ReconnectBackoff    Duration `json:"reconnect_backoff,omitempty" env:"RECONNECT_BACKOFF"`
	MaxReconnectBackoff Duration `json:"max_reconnect_backoff,omitempty" env:"MAX_RECONNECT_BACKOFF"`
}

// DatabaseConfig selects the route store.
type DatabaseConfig struct {
	Driver     string `json:"driver" env:"DRIVER"` // "postgres", "sqlite" or "file"
	DSN        string `json:"-" env:"DSN"`         // postgres connection string (secret)
	Path       string `json:"path,omitempty" env:"PATH"`
	RoutesFile string `json:"routes_file,omitempty" env:"ROUTES_FILE"`
}

// MediaConfig configures where attachments and avatars are written and how
// they are addressed publicly.
type MediaConfig struct {
	Dir          string   `json:"dir" env:"DIR"`
	BaseURL      string   `json:"base_url" env:"BASE_URL"`
	MaxBytes     int64    `json:"max_bytes,omitempty" env:"MAX_BYTES"`
	AvatarMaxAge Duration `json:"avatar_max_age,omitempty" env:"AVATAR_MAX_AGE"`
}

// DeliveryConfig configures the webhook client.
type DeliveryConfig struct {
	Timeout       Duration `json:"timeout,omitempty" env:"TIMEOUT"`
	BackoffUnit   Duration `json:"backoff_unit,omitempty" env:"BACKOFF_UNIT"`
	MaxAttempts   int      `json:"max_attempts,omitempty" env:"MAX_ATTEMPTS"`
	MaxConcurrent int      `json:"max_concurrent,omitempty" env:"MAX_CONCURRENT"`
	EndpointRate  float64  `json:"endpoint_rate,omitempty" env:"ENDPOINT_RATE"` // requests/second per webhook
	EndpointBurst int      `json:"endpoint_burst,omitempty" env:"ENDPOINT_BURST"`
}

// RelayConfig configures the queue, worker pool and routing.
type RelayConfig struct {
	Workers         int      `json:"workers,omitempty" env:"WORKERS"`
	QueueSize       int      `json:"queue_size,omitempty" env:"QUEUE_SIZE"`
	RouteCacheTTL   Duration `json:"route_cache_ttl,omitempty" env:"ROUTE_CACHE_TTL"`
	ProcessTimeout  Duration `json:"process_timeout,omitempty" env:"PROCESS_TIMEOUT"`
	LookbackTimeout Duration `json:"lookback_timeout,omitempty" env:"LOOKBACK_TIMEOUT"`
	MaxTraceHops    int      `json:"max_trace_hops,omitempty" env:"MAX_TRACE_HOPS"`
}

// StatsConfig configures the periodic counters log line.
type StatsConfig struct {
	Interval Duration `json:"interval,omitempty" env:"INTERVAL"`
}

// ServerConfig configures the ops HTTP listener (/health, /metrics, /stats
// and, optionally, the media tree). An empty Listen disables it.
type ServerConfig struct {
	Listen     string `json:"listen" env:"LISTEN"`
	ServeMedia bool   `json:"serve_media" env:"SERVE_MEDIA"`
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty" env:"ENABLED"`           // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty" env:"ENDPOINT"`         // OTLP endpoint (e.g. "localhost:4317", "https://otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty" env:"PROTOCOL"`         // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty" env:"INSECURE"`         // plaintext transport, for local collectors
	ServiceName string            `json:"service_name,omitempty" env:"SERVICE_NAME"` // default "tgrelay"
	Headers     map[string]string `json:"headers,omitempty" env:"HEADERS"`           // extra headers (e.g. auth tokens for cloud backends)
}
