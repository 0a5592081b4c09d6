package relay

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/tgrelay/internal/bus"
)

// Pool defaults.
const (
	DefaultWorkers        = 4
	DefaultProcessTimeout = 2 * time.Minute
)

// Pool runs a fixed number of workers pulling from the ingestion queue.
type Pool struct {
	queue    *bus.Queue
	pipeline *Pipeline
	workers  int
	timeout  time.Duration
}

// NewPool creates a worker pool.
func NewPool(queue *bus.Queue, pipeline *Pipeline, workers int, processTimeout time.Duration) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if processTimeout <= 0 {
		processTimeout = DefaultProcessTimeout
	}
	return &Pool{queue: queue, pipeline: pipeline, workers: workers, timeout: processTimeout}
}

// Run blocks until ctx is done and every in-flight message has finished.
// Messages run under a context detached from ctx so shutdown does not cut
// them short; each is bounded by the process timeout instead.
func (p *Pool) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			p.work(ctx, worker)
			return nil
		})
	}
	slog.Info("relay workers started", "workers", p.workers)
	err := g.Wait()
	slog.Info("relay workers stopped")
	return err
}

func (p *Pool) work(ctx context.Context, worker int) {
	for {
		msg, ok := p.queue.Next(ctx)
		if !ok {
			return
		}
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		slog.Debug("worker picked message", "worker", worker, "chat_id", msg.ChatID, "message_id", msg.ID)
		p.pipeline.Process(mctx, msg)
		cancel()
	}
}
