package stats

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is the reporting period used when none is configured.
const DefaultInterval = 30 * time.Second

// DepthFunc reports the current ingestion queue depth.
type DepthFunc func() int

// Reporter periodically logs a snapshot of Counters.
type Reporter struct {
	counters *Counters
	depth    DepthFunc
	interval time.Duration
	emit     func(Snapshot)
}

// NewReporter creates a reporter. depth may be nil.
func NewReporter(counters *Counters, depth DepthFunc, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		counters: counters,
		depth:    depth,
		interval: interval,
		emit:     logSnapshot,
	}
}

// Snapshot returns the counters plus the current queue depth.
func (r *Reporter) Snapshot() Snapshot {
	s := r.counters.Snapshot()
	if r.depth != nil {
		s.QueueDepth = r.depth()
	}
	return s
}

// Run emits a snapshot every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.emit(r.Snapshot())
		}
	}
}

func logSnapshot(s Snapshot) {
	slog.Info("relay stats",
		"received", s.Received,
		"processed", s.Processed,
		"failed", s.Failed,
		"skipped", s.Skipped,
		"queue_depth", s.QueueDepth,
	)
}
