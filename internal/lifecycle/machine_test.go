package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowhawk/flowhawk/internal/domain"
)

var tick = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewActivatesOnConfidentTrigger(t *testing.T) {
	cfg := DefaultConfig()

	res := Apply(State{State: domain.StateNew}, Input{Triggered: true, Confidence: 82, Now: tick}, cfg)
	assert.Equal(t, domain.StateActive, res.State.State)
	assert.True(t, res.Refreshed)
	assert.Zero(t, res.Misses)

	// Triggered but below the activation bar stays NEW.
	res = Apply(State{State: domain.StateNew}, Input{Triggered: true, Confidence: 65, Now: tick}, cfg)
	assert.Equal(t, domain.StateNew, res.State.State)
	assert.False(t, res.Changed)
}

func TestActiveMissEntersCooldown(t *testing.T) {
	cfg := DefaultConfig()

	res := Apply(State{State: domain.StateActive}, Input{Triggered: false, Confidence: 60, Now: tick}, cfg)
	assert.Equal(t, domain.StateCooldown, res.State.State)
	assert.Equal(t, 1, res.Misses)
}

func TestCooldownRevival(t *testing.T) {
	cfg := DefaultConfig()

	res := Apply(State{State: domain.StateCooldown, Misses: 2}, Input{Triggered: true, Confidence: 75, Now: tick}, cfg)
	assert.Equal(t, domain.StateActive, res.State.State)
	assert.Zero(t, res.Misses)
	assert.True(t, res.Refreshed)
}

func TestCooldownResolvesAfterMaxMisses(t *testing.T) {
	cfg := DefaultConfig()

	// Two misses already; the third resolves for inactivity.
	res := Apply(State{State: domain.StateCooldown, Misses: 2}, Input{Triggered: false, Confidence: 60, Now: tick}, cfg)
	assert.Equal(t, domain.StateResolved, res.State.State)
	assert.Equal(t, domain.ResolveInactivity, res.ResolveReason)

	// One miss tolerates another without resolving.
	res = Apply(State{State: domain.StateCooldown, Misses: 1}, Input{Triggered: false, Confidence: 60, Now: tick}, cfg)
	assert.Equal(t, domain.StateCooldown, res.State.State)
	assert.Equal(t, 2, res.Misses)
}

func TestConfidenceDropResolvesFromAnyState(t *testing.T) {
	cfg := DefaultConfig()
	in := Input{Triggered: true, Confidence: 32, Now: tick}

	for _, from := range []domain.SignalState{domain.StateNew, domain.StateActive, domain.StateCooldown} {
		res := Apply(State{State: from}, in, cfg)
		assert.Equal(t, domain.StateResolved, res.State.State, "from %s", from)
		assert.Equal(t, domain.ResolveConfidenceDrop, res.ResolveReason)
	}
}

func TestResolvedIsTerminal(t *testing.T) {
	cfg := DefaultConfig()

	res := Apply(State{State: domain.StateResolved}, Input{Triggered: true, Confidence: 95, Now: tick}, cfg)
	assert.Equal(t, domain.StateResolved, res.State.State)
	assert.False(t, res.Changed)
}

func TestApplyIsIdempotentOnIdenticalInput(t *testing.T) {
	cfg := DefaultConfig()

	states := []State{
		{State: domain.StateNew},
		{State: domain.StateActive},
		{State: domain.StateActive, Misses: 0},
		{State: domain.StateCooldown, Misses: 1},
		{State: domain.StateCooldown, Misses: 2},
		{State: domain.StateResolved},
	}
	inputs := []Input{
		{Triggered: true, Confidence: 82, Now: tick},
		{Triggered: false, Confidence: 60, Now: tick},
		{Triggered: false, Confidence: 20, Now: tick},
	}

	for _, s := range states {
		for _, in := range inputs {
			once := Apply(s, in, cfg)
			twice := Apply(once.State, in, cfg)
			assert.Equal(t, once.State, twice.State,
				"apply(apply(%+v, %+v)) must equal apply once", s, in)
		}
	}
}
