// Package metrics exposes sweep and fetch counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"SleeperScout/internal/domain"
	"SleeperScout/internal/ports"
)

const namespace = "sleeperscout"

// Collector records per-ID outcomes and fetch latency on its own registry.
type Collector struct {
	registry     *prometheus.Registry
	outcomes     *prometheus.CounterVec
	fetchLatency prometheus.Histogram
	lastID       prometheus.Gauge
	sweeps       *prometheus.CounterVec
}

var (
	_ ports.OutcomeRecorder = (*Collector)(nil)
	_ ports.SweepRecorder   = (*Collector)(nil)
)

// New builds a collector with Go runtime and process metrics included.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Processed IDs by outcome kind and rejection reason.",
		}, []string{"kind", "reason"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Upstream page fetch latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		}),
		lastID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_committed_id",
			Help:      "Highest ID whose outcome has been committed in the current sweep.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Finished sweeps by result.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		c.outcomes,
		c.fetchLatency,
		c.lastID,
		c.sweeps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// RecordOutcome counts one outcome. Committed outcomes advance the
// last-committed gauge.
func (c *Collector) RecordOutcome(o domain.Outcome) {
	c.outcomes.WithLabelValues(string(o.Kind), string(o.Reason)).Inc()
	if o.Kind == domain.OutcomeAdmitted || o.Kind == domain.OutcomeRejected {
		c.lastID.Set(float64(o.ID))
	}
}

// ObserveFetch records one fetch round trip.
func (c *Collector) ObserveFetch(d time.Duration) {
	c.fetchLatency.Observe(d.Seconds())
}

// RecordSweep counts a finished sweep as completed, aborted or blocked.
func (c *Collector) RecordSweep(result string) {
	c.sweeps.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry so other collectors can join it.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
