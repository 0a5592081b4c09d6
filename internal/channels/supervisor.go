package channels

import (
	"context"
	"log/slog"
	"time"
)

// Supervisor reconnect defaults.
const (
	DefaultReconnectBackoff    = 2 * time.Second
	DefaultMaxReconnectBackoff = time.Minute
)

// Supervisor keeps a Source running: whenever Run returns (disconnect,
// transport error) it waits and reconnects, until ctx is done.
type Supervisor struct {
	Source     Source
	Backoff    time.Duration // linear step between reconnects
	MaxBackoff time.Duration
	// StableAfter resets the backoff when a run lasted at least this long.
	StableAfter time.Duration
}

// Run blocks until ctx is done.
func (s *Supervisor) Run(ctx context.Context, handler Handler) {
	step := s.Backoff
	if step <= 0 {
		step = DefaultReconnectBackoff
	}
	maxBackoff := s.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxReconnectBackoff
	}
	stableAfter := s.StableAfter
	if stableAfter <= 0 {
		stableAfter = maxBackoff
	}

	failures := 0
	for {
		started := time.Now()
		err := s.Source.Run(ctx, handler)
		if ctx.Err() != nil {
			slog.Info("source stopped", "source", s.Source.Name())
			return
		}
		if time.Since(started) >= stableAfter {
			failures = 0
		}
		failures++

		wait := time.Duration(failures) * step
		if wait > maxBackoff {
			wait = maxBackoff
		}
		if fw, ok := AsFloodWait(err); ok && fw.RetryAfter > wait {
			wait = fw.RetryAfter
		}
		slog.Warn("source disconnected, reconnecting",
			"source", s.Source.Name(), "attempt", failures, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
