package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveItem("import", "processed", 120*time.Millisecond)
	m.ObserveItem("import", "processed", 80*time.Millisecond)
	m.ObserveItem("import", "transport_error", time.Second)
	m.ObserveRun("import", "completed")
	m.SetProgress("daily_sync", 42.5)
	m.ObserveRequest("vessels", "200")

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.items.WithLabelValues("import", "processed")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.items.WithLabelValues("import", "transport_error")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("import", "completed")), 0)
	assert.InDelta(t, 42.5, testutil.ToFloat64(m.progress.WithLabelValues("daily_sync")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.remoteRequests.WithLabelValues("vessels", "200")), 0)

	n, err := testutil.GatherAndCount(reg, "yachtsync_item_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveItem("import", "processed", time.Second)
		m.ObserveRun("import", "completed")
		m.SetProgress("import", 1)
		m.ObserveRequest("vessels", "200")
	})
}
