package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetScannerHeight(10)
		m.IncBlocksProcessed()
		m.IncCallsApplied("requested")
		m.IncGuardRejections("scanner")
		m.IncCompletion("email", "verified")
		m.IncJudgementSubmitted()
		m.AddEventsPublished(2)
	})
}

func TestMetrics_Record(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.SetScannerHeight(99)
	m.IncCallsApplied("withdrawn")
	m.IncCallsApplied("withdrawn")
	m.IncCompletion("social", "failed")

	assert.Equal(t, float64(99), testutil.ToFloat64(m.ScannerHeight))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CallsApplied.WithLabelValues("withdrawn")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Completions.WithLabelValues("social", "failed")))
}
