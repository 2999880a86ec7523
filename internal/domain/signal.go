package domain

import "time"

// SignalType names a detector.
type SignalType string

const (
	SignalNewCorridor            SignalType = "NEW_CORRIDOR"
	SignalDensitySpike           SignalType = "DENSITY_SPIKE"
	SignalDirectionImbalance     SignalType = "DIRECTION_IMBALANCE"
	SignalActorRegimeChange      SignalType = "ACTOR_REGIME_CHANGE"
	SignalNewBridge              SignalType = "NEW_BRIDGE"
	SignalClusterReconfiguration SignalType = "CLUSTER_RECONFIGURATION"
)

// SignalState is the lifecycle position of a signal.
type SignalState string

const (
	StateNew      SignalState = "NEW"
	StateActive   SignalState = "ACTIVE"
	StateCooldown SignalState = "COOLDOWN"
	StateResolved SignalState = "RESOLVED"
)

// Terminal reports whether no further transitions are possible.
func (s SignalState) Terminal() bool { return s == StateResolved }

// Visible reports default UI visibility.
func (s SignalState) Visible() bool { return s != StateResolved }

// Resolve reasons recorded on terminal transitions.
const (
	ResolveInactivity     = "inactivity"
	ResolveConfidenceDrop = "confidence_drop"
)

// FlowDirection is the directional reading of a signal.
type FlowDirection string

const (
	DirectionInflow        FlowDirection = "inflow"
	DirectionOutflow       FlowDirection = "outflow"
	DirectionBidirectional FlowDirection = "bidirectional"
	DirectionNeutral       FlowDirection = "neutral"
)

// Signed maps a direction onto the ranking axis: inflow accumulates (+1),
// outflow distributes (-1), everything else is flat.
func (d FlowDirection) Signed() float64 {
	switch d {
	case DirectionInflow:
		return 1
	case DirectionOutflow:
		return -1
	default:
		return 0
	}
}

// SignalID derives the stable identity from (type, subject, window).
// Re-emission across ticks refreshes the same signal instead of
// duplicating it.
func SignalID(t SignalType, subject SubjectKey, w Window) string {
	return StableID(string(t), subject.String(), string(w))
}

// Signal is a typed, scored observation produced by a detector.
// Only the lifecycle manager mutates signals after creation.
type Signal struct {
	ID                      string                 `json:"id" db:"id"`
	Type                    SignalType             `json:"type" db:"type"`
	SubjectKey              SubjectKey             `json:"subject_key" db:"subject_key"`
	Window                  Window                 `json:"window" db:"window"`
	Severity                Severity               `json:"severity" db:"severity"`
	Confidence              float64                `json:"confidence" db:"confidence"`
	ConfidenceLabel         ConfidenceLabel        `json:"confidence_label" db:"confidence_label"`
	Direction               FlowDirection          `json:"direction" db:"direction"`
	PrimaryActorID          string                 `json:"primary_actor_id" db:"primary_actor_id"`
	SecondaryActorID        string                 `json:"secondary_actor_id,omitempty" db:"secondary_actor_id"`
	EntityIDs               []string               `json:"entity_ids" db:"entity_ids"`
	Evidence                map[string]interface{} `json:"evidence" db:"evidence"`
	Metrics                 map[string]float64     `json:"metrics" db:"metrics"`
	State                   SignalState            `json:"state" db:"state"`
	FirstTriggeredAt        time.Time              `json:"first_triggered_at" db:"first_triggered_at"`
	LastTriggeredAt         time.Time              `json:"last_triggered_at" db:"last_triggered_at"`
	SnapshotsWithoutTrigger int                    `json:"snapshots_without_trigger" db:"snapshots_without_trigger"`
	ResolveReason           string                 `json:"resolve_reason,omitempty" db:"resolve_reason"`
	Version                 int64                  `json:"version" db:"version"`
	CreatedAt               time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time              `json:"updated_at" db:"updated_at"`
}

// Transition is one recorded lifecycle move.
type Transition struct {
	SignalID   string      `json:"signal_id" db:"signal_id"`
	FromState  SignalState `json:"from_state" db:"from_state"`
	ToState    SignalState `json:"to_state" db:"to_state"`
	Reason     string      `json:"reason,omitempty" db:"reason"`
	Confidence float64     `json:"confidence" db:"confidence"`
	At         time.Time   `json:"at" db:"at"`
}
