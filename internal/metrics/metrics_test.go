package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestObserveSource(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSource("hackernews", "success", 3, 2, 1, 150*time.Millisecond)
	m.ObserveSource("readwise", "failed", 0, 0, 0, time.Second)

	assert.Equal(t, 2.0, counterValue(t, reg, "contenthub_collector_source_runs_total"))
	assert.Equal(t, 3.0, counterValue(t, reg, "contenthub_collector_articles_collected_total"))
	assert.Equal(t, 2.0, counterValue(t, reg, "contenthub_storage_articles_persisted_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "contenthub_storage_persist_errors_total"))
}

func TestObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun(time.Unix(1700000000, 0))
	assert.Equal(t, 1.0, counterValue(t, reg, "contenthub_manager_runs_total"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSource("hackernews", "success", 1, 1, 0, time.Millisecond)
		m.ObserveRun(time.Now())
	})
}
