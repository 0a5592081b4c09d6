package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "tgrelay"

// Register exposes the counters and queue depth on reg.
// Values are read from the atomics at scrape time.
func (r *Reporter) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages offered to the ingestion queue",
		}, func() float64 { return float64(r.counters.Received()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_processed_total",
			Help:      "Messages delivered to a webhook",
		}, func() float64 { return float64(r.counters.Processed()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_failed_total",
			Help:      "Messages whose processing or delivery failed",
		}, func() float64 { return float64(r.counters.Failed()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_skipped_total",
			Help:      "Messages dropped on a full queue or without a route",
		}, func() float64 { return float64(r.counters.Skipped()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_depth",
			Help:      "Messages waiting in the ingestion queue",
		}, func() float64 {
			if r.depth == nil {
				return 0
			}
			return float64(r.depth())
		}),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
