// Package stats holds the relay's process-lifetime counters and the periodic
// reporter that logs them.
package stats

import "sync/atomic"

// Counters are shared by the ingestion goroutine and every worker.
// All updates are atomic; a zero value is ready to use.
type Counters struct {
	received  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Received   int64 `json:"received"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
	QueueDepth int   `json:"queue_depth"`
}

func (c *Counters) IncReceived()  { c.received.Add(1) }
func (c *Counters) IncProcessed() { c.processed.Add(1) }
func (c *Counters) IncFailed()    { c.failed.Add(1) }
func (c *Counters) IncSkipped()   { c.skipped.Add(1) }

func (c *Counters) Received() int64  { return c.received.Load() }
func (c *Counters) Processed() int64 { return c.processed.Load() }
func (c *Counters) Failed() int64    { return c.failed.Load() }
func (c *Counters) Skipped() int64   { return c.skipped.Load() }

// Snapshot reads every counter. Individual loads are atomic; the set is not.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Received:  c.received.Load(),
		Processed: c.processed.Load(),
		Failed:    c.failed.Load(),
		Skipped:   c.skipped.Load(),
	}
}
