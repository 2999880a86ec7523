package domain

import "time"

// PenaltyRecord is one multiplicative confidence penalty with its cost
// in points at the moment it was applied.
type PenaltyRecord struct {
	Type         string  `json:"type"`
	Reason       string  `json:"reason"`
	Multiplier   float64 `json:"multiplier"`
	ImpactPoints float64 `json:"impact_points"`
}

// ConfidenceTrace is the audit artifact behind one signal's confidence.
// The final score must be re-derivable from the stored inputs.
type ConfidenceTrace struct {
	SignalID      string             `json:"signal_id" db:"signal_id"`
	Components    map[string]float64 `json:"components"`
	Weights       map[string]float64 `json:"weights"`
	WeightedScore float64            `json:"weighted_score" db:"weighted_score"`
	Penalties     []PenaltyRecord    `json:"penalties"`
	HoursElapsed  float64            `json:"hours_elapsed" db:"hours_elapsed"`
	DecayFactor   float64            `json:"decay_factor" db:"decay_factor"`
	CapApplied    bool               `json:"cap_applied" db:"cap_applied"`
	CapValue      float64            `json:"cap_value,omitempty" db:"cap_value"`
	ClusterBoost  float64            `json:"cluster_boost" db:"cluster_boost"`
	FinalScore    float64            `json:"final_score" db:"final_score"`
	Label         ConfidenceLabel    `json:"label" db:"label"`
	Steps         []string           `json:"steps"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
}
