package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	m := NewNop()

	require.NotPanics(t, func() {
		m.TickCompleted("ok", time.Second)
		m.EventEmitted("usage_warning")
		m.GroupBudget("alpha", 375)
		m.GroupUsage("alpha", -1)
		m.RemainingSupply(0)
	})
}

func TestPrometheus_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheus(reg, "")
	require.NoError(t, err)

	m.TickCompleted("ok", 20*time.Millisecond)
	m.TickCompleted("ok", 30*time.Millisecond)
	m.TickCompleted("error", time.Millisecond)
	m.EventEmitted("new_period_allocation")
	m.GroupBudget("alpha", 375)
	m.GroupUsage("alpha", 12.5)
	m.RemainingSupply(1000)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("new_period_allocation")))
	assert.Equal(t, 375.0, testutil.ToFloat64(m.budget.WithLabelValues("alpha")))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.usage.WithLabelValues("alpha")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.remaining))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "allocator_ticks_total")
	assert.Contains(t, names, "allocator_tick_duration_seconds")
}

func TestPrometheus_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg, "allocator")
	require.NoError(t, err)

	_, err = NewPrometheus(reg, "allocator")
	assert.Error(t, err)
}
