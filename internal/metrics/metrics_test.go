package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveClaim("success", 3*time.Millisecond)
	m.ObserveClaim("success", time.Millisecond)
	m.ObserveClaim("already_claimed", time.Millisecond)
	m.ObserveTap("ok")
	m.PeriodStarted()
	m.EventFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.claims.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claims.WithLabelValues("already_claimed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taps.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.periodsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(m.claimLatency))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveClaim("success", time.Second)
		m.ObserveTap("ok")
		m.ObserveUpstream("validate", time.Second)
		m.PeriodStarted()
		m.PeriodStopped()
		m.EventFailed()
	})
}
