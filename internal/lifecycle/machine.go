// Package lifecycle owns all signal mutation. The state machine itself is
// a pure function; the Manager serializes writers per signal id and
// publishes transition events.
package lifecycle

import (
	"time"

	"github.com/flowhawk/flowhawk/internal/domain"
)

// Config carries the state machine thresholds.
type Config struct {
	// ActivateConfidence promotes NEW to ACTIVE on trigger.
	ActivateConfidence float64
	// ResolveBelowConfidence resolves from any non-terminal state.
	ResolveBelowConfidence float64
	// MaxMisses is how many consecutive missed snapshots COOLDOWN
	// tolerates before resolving.
	MaxMisses int
}

func DefaultConfig() Config {
	return Config{ActivateConfidence: 70, ResolveBelowConfidence: 40, MaxMisses: 3}
}

// Input is one snapshot tick's reading for a signal.
type Input struct {
	Triggered  bool
	Confidence float64
	Now        time.Time
}

// State is the machine's full position: the lifecycle state, the miss
// counter and the tick the signal was last evaluated at. Carrying the tick
// makes Apply idempotent: re-applying the same input is a no-op.
type State struct {
	State           domain.SignalState
	Misses          int
	LastEvaluatedAt time.Time
}

// Result is the machine's verdict for one tick.
type Result struct {
	State
	ResolveReason string
	// Refreshed reports that LastTriggeredAt should move to Input.Now.
	Refreshed bool
	Changed   bool
}

// Apply advances the state machine. Apply(Apply(s, in).State, in) equals
// Apply(s, in): a tick already evaluated at in.Now is not applied again.
func Apply(s State, in Input, cfg Config) Result {
	res := Result{State: s}

	if s.State == domain.StateResolved {
		return res // terminal
	}
	if !s.LastEvaluatedAt.IsZero() && !in.Now.After(s.LastEvaluatedAt) {
		return res // tick already applied
	}
	res.LastEvaluatedAt = in.Now

	// A confidence collapse resolves from any non-terminal state.
	if in.Confidence < cfg.ResolveBelowConfidence {
		res.State.State = domain.StateResolved
		res.ResolveReason = domain.ResolveConfidenceDrop
		res.Changed = true
		return res
	}

	switch s.State {
	case domain.StateNew:
		if in.Triggered && in.Confidence >= cfg.ActivateConfidence {
			res.State.State = domain.StateActive
			res.Misses = 0
			res.Refreshed = true
			res.Changed = true
		}

	case domain.StateActive:
		if in.Triggered {
			res.Misses = 0
			res.Refreshed = true
		} else {
			res.State.State = domain.StateCooldown
			res.Misses = s.Misses + 1
			res.Changed = true
		}

	case domain.StateCooldown:
		switch {
		case in.Triggered:
			res.State.State = domain.StateActive
			res.Misses = 0
			res.Refreshed = true
			res.Changed = true
		case s.Misses+1 >= cfg.MaxMisses:
			res.State.State = domain.StateResolved
			res.Misses = s.Misses + 1
			res.ResolveReason = domain.ResolveInactivity
			res.Changed = true
		default:
			res.Misses = s.Misses + 1
		}
	}
	return res
}
