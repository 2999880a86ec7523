package domain

import "time"

// DecisionAction is the gated recommendation.
type DecisionAction string

const (
	ActionBuy     DecisionAction = "BUY"
	ActionSell    DecisionAction = "SELL"
	ActionNeutral DecisionAction = "NEUTRAL"
)

// ConfidenceBand grades a decision.
type ConfidenceBand string

const (
	BandLow    ConfidenceBand = "LOW"
	BandMedium ConfidenceBand = "MEDIUM"
	BandHigh   ConfidenceBand = "HIGH"
)

// GateCheck records one policy gate evaluation.
type GateCheck struct {
	Name        string  `json:"name"`
	Passed      bool    `json:"passed"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
	Description string  `json:"description"`
}

// Gating is the audit record of the policy evaluation. Blocked decisions
// always carry at least one reason.
type Gating struct {
	Blocked bool        `json:"blocked"`
	Reasons []string    `json:"reasons"`
	Checks  []GateCheck `json:"checks"`
}

// Decision is the output of the gating policy for one subject and window.
// Rows are append-only; newer supersedes older by CreatedAt and old rows
// are kept for audit.
type Decision struct {
	ID           string         `json:"id" db:"id"`
	SubjectKind  SubjectKind    `json:"subject_kind" db:"subject_kind"`
	SubjectID    string         `json:"subject_id" db:"subject_id"`
	Window       Window         `json:"window" db:"window"`
	Action       DecisionAction `json:"action" db:"action"`
	Band         ConfidenceBand `json:"band" db:"band"`
	Gating       Gating         `json:"gating"`
	Evidence     float64        `json:"evidence" db:"evidence"`
	Direction    float64        `json:"direction" db:"direction"`
	Risk         float64        `json:"risk" db:"risk"`
	Coverage     float64        `json:"coverage" db:"coverage"`
	DecisionType string         `json:"decision_type" db:"decision_type"`
	ExpiresAt    time.Time      `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// OutcomeAgreement compares a decision with what the flows then did.
type OutcomeAgreement string

const (
	OutcomeConfirmed    OutcomeAgreement = "confirmed"
	OutcomeContradicted OutcomeAgreement = "contradicted"
	OutcomeFlat         OutcomeAgreement = "flat"
)

// Outcome is the post-TTL audit row for one decision.
type Outcome struct {
	DecisionID  string           `json:"decision_id" db:"decision_id"`
	SubjectKind SubjectKind      `json:"subject_kind" db:"subject_kind"`
	SubjectID   string           `json:"subject_id" db:"subject_id"`
	Window      Window           `json:"window" db:"window"`
	Action      DecisionAction   `json:"action" db:"action"`
	Agreement   OutcomeAgreement `json:"agreement" db:"agreement"`
	NetFlowSign int              `json:"net_flow_sign" db:"net_flow_sign"`
	EvaluatedAt time.Time        `json:"evaluated_at" db:"evaluated_at"`
}
