package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRoutesByType(t *testing.T) {
	b := New()

	var signals, alerts []Event
	b.Subscribe(func(e Event) { signals = append(signals, e) }, SignalNew, SignalStateChanged)
	b.Subscribe(func(e Event) { alerts = append(alerts, e) }, AlertNew)

	b.Emit(SignalNew, map[string]interface{}{"signal_id": "abc"})
	b.Emit(AlertNew, map[string]interface{}{"subject": "entity:eth:0xt"})

	require.Len(t, signals, 1)
	assert.Equal(t, SignalNew, signals[0].Type)
	assert.Equal(t, "abc", signals[0].Payload["signal_id"])
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNew, alerts[0].Type)
}

func TestWildcardSubscription(t *testing.T) {
	b := New()

	var seen []string
	b.Subscribe(func(e Event) { seen = append(seen, e.Type) })

	b.Emit(BootstrapProgress, map[string]interface{}{"pct": 10.0})
	b.Emit(ResolverUpdated, nil)
	b.Emit(OpsStateChanged, nil)

	assert.Equal(t, []string{BootstrapProgress, ResolverUpdated, OpsStateChanged}, seen)
}

func TestSubscriberPanicIsolated(t *testing.T) {
	b := New()

	b.Subscribe(func(Event) { panic("boom") }, SignalNew)

	var delivered int
	b.Subscribe(func(Event) { delivered++ }, SignalNew)

	assert.NotPanics(t, func() { b.Emit(SignalNew, nil) })
	assert.Equal(t, 1, delivered, "later subscribers still receive the event")
}

func TestUnsubscribe(t *testing.T) {
	b := New()

	var count int
	id := b.Subscribe(func(Event) { count++ }, AlertNew)
	require.Equal(t, 1, b.SubscriberCount())

	b.Emit(AlertNew, nil)
	b.Unsubscribe(id)
	b.Emit(AlertNew, nil)

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestEventEnvelope(t *testing.T) {
	e := NewEvent(SignalNew, map[string]interface{}{"k": "v"})

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Time.IsZero())

	raw, err := e.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"signal.new"`)
}
