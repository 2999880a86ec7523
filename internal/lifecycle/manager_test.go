package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhawk/flowhawk/internal/bus"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence/memory"
)

func emission(confidence float64) Emission {
	subject := domain.NewSubjectKey(domain.SubjectEntity, "eth:0xtoken")
	id := domain.SignalID(domain.SignalNewCorridor, subject, domain.Window1h)
	return Emission{
		Signal: domain.Signal{
			ID:         id,
			Type:       domain.SignalNewCorridor,
			SubjectKey: subject,
			Window:     domain.Window1h,
			Severity:   domain.SeverityHigh,
			Direction:  domain.DirectionInflow,
		},
		Trace: domain.ConfidenceTrace{FinalScore: confidence, Label: domain.LabelForScore(confidence)},
	}
}

func TestEmissionRefreshesInsteadOfDuplicating(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	events := bus.New()

	var newSignals, transitions int
	events.Subscribe(func(bus.Event) { newSignals++ }, bus.SignalNew)
	events.Subscribe(func(bus.Event) { transitions++ }, bus.SignalStateChanged)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr := NewManager(repo, events, DefaultConfig()).
		WithClock(func() time.Time { return clock })

	// First emission at confidence 82: NEW -> ACTIVE immediately.
	sig, err := mgr.RecordEmission(ctx, emission(82))
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, sig.State)
	firstTrigger := sig.LastTriggeredAt

	// Re-emission one tick later at 78 stays ACTIVE and refreshes.
	clock = clock.Add(time.Hour)
	sig, err = mgr.RecordEmission(ctx, emission(78))
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, sig.State)
	assert.True(t, sig.LastTriggeredAt.After(firstTrigger))
	assert.Zero(t, sig.SnapshotsWithoutTrigger)

	assert.Equal(t, 1, newSignals, "same id must not fire signal.new twice")
	assert.Equal(t, 1, transitions, "only NEW->ACTIVE transitioned")

	// Exactly one row exists.
	signals, err := repo.Signals.ListByStates(ctx, domain.Window1h, []domain.SignalState{domain.StateActive})
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestMissedTicksWalkThroughCooldownToResolved(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr := NewManager(repo, nil, DefaultConfig()).
		WithClock(func() time.Time { return clock })

	sig, err := mgr.RecordEmission(ctx, emission(85))
	require.NoError(t, err)
	id := sig.ID

	states := []domain.SignalState{domain.StateCooldown, domain.StateCooldown, domain.StateResolved}
	for _, want := range states {
		clock = clock.Add(time.Hour)
		sig, err = mgr.TickMissed(ctx, id, 60)
		require.NoError(t, err)
		assert.Equal(t, want, sig.State)
	}
	assert.Equal(t, domain.ResolveInactivity, sig.ResolveReason)

	// Terminal: further ticks change nothing.
	clock = clock.Add(time.Hour)
	sig, err = mgr.TickMissed(ctx, id, 90)
	require.NoError(t, err)
	assert.Equal(t, domain.StateResolved, sig.State)

	history, err := repo.Traces.ListTransitions(ctx, id)
	require.NoError(t, err)
	// NEW->ACTIVE, ACTIVE->COOLDOWN, COOLDOWN->RESOLVED.
	assert.Len(t, history, 3)
}

func TestConfidenceDropResolvesImmediately(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr := NewManager(repo, nil, DefaultConfig()).
		WithClock(func() time.Time { return clock })

	sig, err := mgr.RecordEmission(ctx, emission(85))
	require.NoError(t, err)

	// Decayed to 32: resolved for confidence_drop even while triggered.
	clock = clock.Add(48 * time.Hour)
	sig, err = mgr.RecordEmission(ctx, emission(32))
	require.NoError(t, err)
	assert.Equal(t, domain.StateResolved, sig.State)
	assert.Equal(t, domain.ResolveConfidenceDrop, sig.ResolveReason)
}

func TestSignalIDStability(t *testing.T) {
	subject := domain.NewSubjectKey(domain.SubjectEntity, "eth:0xtoken")
	a := domain.SignalID(domain.SignalNewCorridor, subject, domain.Window1h)
	b := domain.SignalID(domain.SignalNewCorridor, subject, domain.Window1h)
	c := domain.SignalID(domain.SignalDensitySpike, subject, domain.Window1h)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
