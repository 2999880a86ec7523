package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhawk/flowhawk/internal/bus"
)

func TestNewStateStartsHealthy(t *testing.T) {
	s := NewState(nil, "v1")

	snap := s.Snapshot()
	assert.Equal(t, StatusOK, snap.Status)
	assert.Equal(t, ModeActive, snap.DecisionMode)
	assert.Equal(t, "v1", snap.CalibrationVersion)
	assert.False(t, snap.KillSwitchTripped)
	assert.Empty(t, snap.DriftFlags)
	assert.Empty(t, snap.PendingAcks)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewState(nil, "v1")
	s.SetDriftFlags([]string{DriftQuarantineHigh})

	snap := s.Snapshot()
	snap.DriftFlags[0] = "mutated"
	snap.Status = StatusCritical

	again := s.Snapshot()
	assert.Equal(t, []string{DriftQuarantineHigh}, again.DriftFlags)
	assert.Equal(t, StatusOK, again.Status)
}

func TestRaiseCriticalRegistersPendingAck(t *testing.T) {
	s := NewState(nil, "v1")

	id := s.RaiseCritical("aggregate", "cursor regressed")
	require.NotEmpty(t, id)

	snap := s.Snapshot()
	assert.Equal(t, StatusCritical, snap.Status)
	assert.Equal(t, []string{id}, snap.PendingAcks)
}

func TestStatusCannotLowerWhileAcksPending(t *testing.T) {
	s := NewState(nil, "v1")
	id := s.RaiseCritical("snapshot", "immutability breach")

	s.SetStatus(StatusOK)
	assert.Equal(t, StatusCritical, s.Snapshot().Status)

	require.True(t, s.Ack(id))
	assert.Equal(t, StatusOK, s.Snapshot().Status)

	s.SetStatus(StatusProtectionMode)
	assert.Equal(t, StatusProtectionMode, s.Snapshot().Status)
}

func TestAckClearsStatusOnlyWhenLastPendingClears(t *testing.T) {
	s := NewState(nil, "v1")
	first := s.RaiseCritical("aggregate", "cursor regressed")
	second := s.RaiseCritical("signals", "version conflict storm")

	require.True(t, s.Ack(first))
	assert.Equal(t, StatusCritical, s.Snapshot().Status)
	assert.Equal(t, []string{second}, s.Snapshot().PendingAcks)

	require.True(t, s.Ack(second))
	assert.Equal(t, StatusOK, s.Snapshot().Status)
	assert.Empty(t, s.Snapshot().PendingAcks)
}

func TestAckUnknownIDIsRejected(t *testing.T) {
	s := NewState(nil, "v1")
	s.RaiseCritical("jobs", "lease stolen")

	assert.False(t, s.Ack("no-such-id"))
	assert.Equal(t, StatusCritical, s.Snapshot().Status)
}

func TestKillSwitchTripAndReset(t *testing.T) {
	s := NewState(nil, "v1")

	s.TripKillSwitch("reorg depth exceeded")
	snap := s.Snapshot()
	assert.True(t, snap.KillSwitchTripped)
	assert.Equal(t, "reorg depth exceeded", snap.KillSwitchReason)

	s.ResetKillSwitch()
	snap = s.Snapshot()
	assert.False(t, snap.KillSwitchTripped)
	assert.Empty(t, snap.KillSwitchReason)
}

func TestMutationsPublishStateChanges(t *testing.T) {
	events := bus.New()
	var seen []bus.Event
	events.Subscribe(func(e bus.Event) { seen = append(seen, e) }, bus.OpsStateChanged)

	s := NewState(events, "v1")
	s.SetDecisionMode(ModeShadow)
	s.SetDriftFlags([]string{DriftPenaltyExtreme})
	s.SetCalibrationVersion("v1-99")

	require.Len(t, seen, 3)
	last := seen[2].Payload
	assert.Equal(t, "shadow", last["decision_mode"])
	assert.Equal(t, "v1-99", last["calibration_version"])
}
