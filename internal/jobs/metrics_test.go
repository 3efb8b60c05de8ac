package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("audit_relay").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("audit_relay").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("audit_relay", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("audit_relay")))

	m.AddRelayed(3)
	m.AddRelayed(0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.relayed))

	m.AddReward("game", "granted")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rewards.WithLabelValues("game", "granted")))
}

func TestNilMetricsTracker(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("x").End(boom), boom)
	m.AddRelayed(1)
	m.AddReward("game", "granted")
}
