package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Connect retry defaults for SQL-backed stores.
const (
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 2 * time.Second
)

// PingWithRetry pings db until it answers, sleeping attempt*backoff between
// failed attempts. The database may come up after the relay does.
func PingWithRetry(ctx context.Context, db *sql.DB, attempts int, backoff time.Duration) error {
	if attempts <= 0 {
		attempts = DefaultConnectAttempts
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		slog.Warn("route store not reachable, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * backoff):
		}
	}
	return fmt.Errorf("connect after %d attempts: %w", attempts, err)
}
