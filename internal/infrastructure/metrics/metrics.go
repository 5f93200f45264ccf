// Package metrics exposes collector activity as Prometheus metrics.
//
// Metrics implements the collector observer interface, so wiring it is a
// single collector.WithObserver call. Collectors are registered on the
// Registerer passed to New; tests pass a fresh prometheus.NewRegistry().
package metrics

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/tsfeed/internal/tsstore"
)

const namespace = "tsfeed"

// Metrics holds the collector's Prometheus instruments.
type Metrics struct {
	acked      prometheus.Counter
	skipped    prometheus.Counter
	failures   *prometheus.CounterVec
	reconnects prometheus.Counter
	state      prometheus.Gauge
	latency    prometheus.Histogram
	backoff    prometheus.Gauge

	connected atomic.Bool
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		acked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_acked_total",
			Help:      "Records acknowledged by tsstore.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_skipped_total",
			Help:      "Ticks dropped because the sampler failed.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Connect and write failures by error kind.",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Successful authentications after the first.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Client state: 0 disconnected, 1 connecting, 2 authenticating, 3 ready, 4 failed, 5 terminated.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_latency_seconds",
			Help:      "Time from sending a record to reading its acknowledgement.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		backoff: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backoff_seconds",
			Help:      "Delay before the pending reconnect attempt; 0 once connected.",
		}),
	}

	var errs []error
	for _, c := range []prometheus.Collector{
		m.acked, m.skipped, m.failures, m.reconnects, m.state, m.latency, m.backoff,
	} {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	// Pre-create every kind so dashboards see zeros rather than gaps.
	for _, k := range []tsstore.Kind{tsstore.KindTransport, tsstore.KindProtocol, tsstore.KindTimeout} {
		m.failures.WithLabelValues(k.String())
	}
	return m, nil
}

// StateChanged implements the collector observer.
func (m *Metrics) StateChanged(from, to tsstore.State) {
	m.state.Set(float64(to))
	if to == tsstore.StateReady && from == tsstore.StateAuthenticating {
		m.backoff.Set(0)
		if m.connected.Swap(true) {
			m.reconnects.Inc()
		}
	}
}

// Delivered implements the collector observer.
func (m *Metrics) Delivered(_ tsstore.Record, _ int64, latency time.Duration) {
	m.acked.Inc()
	m.latency.Observe(latency.Seconds())
}

// Failed implements the collector observer.
func (m *Metrics) Failed(err error) {
	kind := "unknown"
	if k, ok := tsstore.KindOf(err); ok {
		kind = k.String()
	}
	m.failures.WithLabelValues(kind).Inc()
}

// Skipped implements the collector observer.
func (m *Metrics) Skipped(error) {
	m.skipped.Inc()
}

// Retrying implements the collector observer.
func (m *Metrics) Retrying(delay time.Duration) {
	m.backoff.Set(delay.Seconds())
}
