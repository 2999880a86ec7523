// Package ops holds the single mutable engine-state record shared across
// the pipeline: status, decision mode, drift flags, calibration version
// and kill-switch readings. Reads are cheap copies; writes publish an
// invalidation event.
package ops

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/bus"
)

// Status is the engine's operational posture.
type Status string

const (
	StatusOK             Status = "OK"
	StatusProtectionMode Status = "PROTECTION_MODE"
	StatusCritical       Status = "CRITICAL"
)

// DecisionMode gates whether decisions act, shadow or pause.
type DecisionMode string

const (
	ModeActive DecisionMode = "active"
	ModeShadow DecisionMode = "shadow"
	ModePaused DecisionMode = "paused"
)

// Snapshot is a point-in-time copy of the engine state.
type Snapshot struct {
	Status             Status       `json:"status"`
	DecisionMode       DecisionMode `json:"decision_mode"`
	DriftFlags         []string     `json:"drift_flags"`
	CalibrationVersion string       `json:"calibration_version"`
	KillSwitchTripped  bool         `json:"kill_switch_tripped"`
	KillSwitchReason   string       `json:"kill_switch_reason,omitempty"`
	PendingAcks        []string     `json:"pending_acks"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// State is the guarded record. A CRITICAL status set by an invariant
// violation stays until an operator ack clears it.
type State struct {
	mu     sync.RWMutex
	snap   Snapshot
	events *bus.Bus
}

func NewState(events *bus.Bus, calibrationVersion string) *State {
	return &State{
		snap: Snapshot{
			Status:             StatusOK,
			DecisionMode:       ModeActive,
			CalibrationVersion: calibrationVersion,
			UpdatedAt:          time.Now().UTC(),
		},
		events: events,
	}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snap
	out.DriftFlags = append([]string(nil), s.snap.DriftFlags...)
	out.PendingAcks = append([]string(nil), s.snap.PendingAcks...)
	return out
}

func (s *State) mutate(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.snap.UpdatedAt = time.Now().UTC()
	snap := s.snap
	s.mu.Unlock()

	if s.events != nil {
		s.events.Emit(bus.OpsStateChanged, map[string]interface{}{
			"status":              string(snap.Status),
			"decision_mode":       string(snap.DecisionMode),
			"drift_flags":         snap.DriftFlags,
			"calibration_version": snap.CalibrationVersion,
		})
	}
}

// SetStatus moves the posture; lowering out of CRITICAL requires Ack.
func (s *State) SetStatus(status Status) {
	s.mu.RLock()
	blocked := s.snap.Status == StatusCritical && status != StatusCritical && len(s.snap.PendingAcks) > 0
	s.mu.RUnlock()
	if blocked {
		log.Warn().Str("requested", string(status)).Msg("status change refused, critical acks pending")
		return
	}
	s.mutate(func(snap *Snapshot) { snap.Status = status })
}

// SetDecisionMode switches decision handling.
func (s *State) SetDecisionMode(mode DecisionMode) {
	s.mutate(func(snap *Snapshot) { snap.DecisionMode = mode })
}

// SetDriftFlags replaces the drift flag set.
func (s *State) SetDriftFlags(flags []string) {
	s.mutate(func(snap *Snapshot) {
		snap.DriftFlags = append([]string(nil), flags...)
	})
}

// SetCalibrationVersion bumps the calibration tag; calibrated cache keys
// carry the version so a bump invalidates them naturally.
func (s *State) SetCalibrationVersion(version string) {
	s.mutate(func(snap *Snapshot) { snap.CalibrationVersion = version })
}

// TripKillSwitch records an aborted ingestion cycle.
func (s *State) TripKillSwitch(reason string) {
	s.mutate(func(snap *Snapshot) {
		snap.KillSwitchTripped = true
		snap.KillSwitchReason = reason
	})
}

// ResetKillSwitch clears the trip after a healthy cycle.
func (s *State) ResetKillSwitch() {
	s.mutate(func(snap *Snapshot) {
		snap.KillSwitchTripped = false
		snap.KillSwitchReason = ""
	})
}

// RaiseCritical flips to CRITICAL and registers a pending ack. The
// returned correlation id ties the system event to the ack.
func (s *State) RaiseCritical(component, message string) string {
	correlationID := uuid.NewString()
	s.mutate(func(snap *Snapshot) {
		snap.Status = StatusCritical
		snap.PendingAcks = append(snap.PendingAcks, correlationID)
	})
	log.Error().
		Str("component", component).
		Str("correlation_id", correlationID).
		Msg(message)
	return correlationID
}

// Ack clears one pending critical ack; when the last clears, status
// returns to OK.
func (s *State) Ack(correlationID string) bool {
	var cleared bool
	s.mutate(func(snap *Snapshot) {
		remaining := snap.PendingAcks[:0]
		for _, id := range snap.PendingAcks {
			if id == correlationID {
				cleared = true
				continue
			}
			remaining = append(remaining, id)
		}
		snap.PendingAcks = remaining
		if cleared && len(remaining) == 0 && snap.Status == StatusCritical {
			snap.Status = StatusOK
		}
	})
	return cleared
}
