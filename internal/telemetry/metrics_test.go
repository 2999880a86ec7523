package telemetry

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestCountersGatherable(t *testing.T) {
	m := New()
	m.IngestedEvents.WithLabelValues("eth", "0xtok").Add(3)
	m.VerdictsByClass.WithLabelValues("APPROVED").Inc()
	m.VerdictsByClass.WithLabelValues("QUARANTINED").Inc()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	events := findMetric(t, families, "flowhawk_ingest_events_total")
	require.NotNil(t, events)
	require.Len(t, events.Metric, 1)
	assert.Equal(t, float64(3), events.Metric[0].GetCounter().GetValue())

	verdicts := findMetric(t, families, "flowhawk_approval_verdicts_total")
	require.NotNil(t, verdicts)
	assert.Len(t, verdicts.Metric, 2)
}

func TestStepTimerObserves(t *testing.T) {
	m := New()
	timer := m.StartStep("fold")
	elapsed := timer.Stop()
	assert.GreaterOrEqual(t, elapsed.Nanoseconds(), int64(0))

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	steps := findMetric(t, families, "flowhawk_pipeline_step_duration_seconds")
	require.NotNil(t, steps)
	require.Len(t, steps.Metric, 1)
	assert.Equal(t, uint64(1), steps.Metric[0].GetHistogram().GetSampleCount())
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.SignalsEmitted.WithLabelValues("NEW_CORRIDOR").Inc()

	families, err := b.Registry().Gather()
	require.NoError(t, err)
	emitted := findMetric(t, families, "flowhawk_signals_emitted_total")
	if emitted != nil {
		assert.Empty(t, emitted.Metric)
	}
}
