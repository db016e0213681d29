// Package metrics defines the Prometheus instruments of the reward server. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tapreward"

type Metrics struct {
	claims          *prometheus.CounterVec
	claimLatency    prometheus.Histogram
	taps            *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	periodsStarted  prometheus.Counter
	periodsStopped  prometheus.Counter
	eventFailures   prometheus.Counter
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		claims: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "claim attempts by outcome",
		}, []string{"outcome"}),
		claimLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_duration_seconds",
			Help:      "end to end claim latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		taps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "taps_total",
			Help:      "tap reference exchanges by result",
		}, []string{"result"}),
		upstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "tap authority call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		periodsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "periods_started_total",
			Help:      "reward periods started",
		}),
		periodsStopped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "periods_stopped_total",
			Help:      "reward periods stopped before their scheduled end",
		}),
		eventFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "claim events that could not be published",
		}),
	}
}

func (m *Metrics) ObserveClaim(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(outcome).Inc()
	m.claimLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTap(result string) {
	if m == nil {
		return
	}
	m.taps.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveUpstream(op string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) PeriodStarted() {
	if m == nil {
		return
	}
	m.periodsStarted.Inc()
}

func (m *Metrics) PeriodStopped() {
	if m == nil {
		return
	}
	m.periodsStopped.Inc()
}

func (m *Metrics) EventFailed() {
	if m == nil {
		return
	}
	m.eventFailures.Inc()
}
