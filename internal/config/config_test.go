package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Relay.Workers)
	assert.Equal(t, 1000, cfg.Relay.QueueSize)
	assert.Equal(t, 5*time.Minute, cfg.Relay.RouteCacheTTL.D())
	assert.Equal(t, 30*time.Second, cfg.Stats.Interval.D())
	assert.Equal(t, 1, cfg.Relay.MaxTraceHops)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `{
		// comments and trailing commas are fine
		telegram: { token: "from-file", poll_timeout: 10 },
		database: { driver: "sqlite", path: "/var/lib/tgrelay/routes.db" },
		relay: { workers: 8, route_cache_ttl: "90s", max_trace_hops: 3 },
		delivery: { backoff_unit: "250ms", max_attempts: 5 },
		media: { base_url: "https://media.example.com" },
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Relay.Workers)
	assert.Equal(t, 90*time.Second, cfg.Relay.RouteCacheTTL.D())
	assert.Equal(t, 3, cfg.Relay.MaxTraceHops)
	assert.Equal(t, 250*time.Millisecond, cfg.Delivery.BackoffUnit.D())
	assert.Equal(t, 5, cfg.Delivery.MaxAttempts)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Telegram.PollTimeout)
	assert.Empty(t, cfg.Telegram.Token, "secrets are never read from the file")
	assert.Equal(t, 1000, cfg.Relay.QueueSize, "unset keys keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{relay: {workers: 8}, stats: {interval: "1m"}}`)
	t.Setenv("RELAY_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("RELAY_DATABASE_DSN", "postgres://relay@db/relay")
	t.Setenv("RELAY_WORKERS", "2")
	t.Setenv("RELAY_STATS_INTERVAL", "10s")
	t.Setenv("RELAY_TELEMETRY_HEADERS", "x-api-key:secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "postgres://relay@db/relay", cfg.Database.DSN)
	assert.Equal(t, 2, cfg.Relay.Workers)
	assert.Equal(t, 10*time.Second, cfg.Stats.Interval.D())
	assert.Equal(t, map[string]string{"x-api-key": "secret"}, cfg.Telemetry.Headers)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(writeConfig(t, `{relay: {route_cache_ttl: "soon"}}`))
	assert.Error(t, err, "bad duration")

	_, err = Load(writeConfig(t, `{not json`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{database: {driver: "mongo"}, relay: {workers: -1}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
	assert.Contains(t, err.Error(), "relay.workers")

	t.Setenv("RELAY_QUEUE_SIZE", "lots")
	_, err = Load(filepath.Join(t.TempDir(), "absent.json5"))
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "flag.json5", ResolvePath("flag.json5"))
	t.Setenv("RELAY_CONFIG", "/etc/tgrelay.json5")
	assert.Equal(t, "/etc/tgrelay.json5", ResolvePath(""))
	t.Setenv("RELAY_CONFIG", "")
	assert.Equal(t, "config.json5", ResolvePath(""))
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1h30m")))
	assert.Equal(t, 90*time.Minute, d.D())
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1h30m0s", string(text))
}
