package domain

import "time"

// ApprovalClass is the gate's classification of a window.
type ApprovalClass string

const (
	VerdictApproved    ApprovalClass = "APPROVED"
	VerdictQuarantined ApprovalClass = "QUARANTINED"
	VerdictRejected    ApprovalClass = "REJECTED"
)

// RuleResult is one fired approval rule.
type RuleResult struct {
	Name    string  `json:"name" db:"name"`
	Penalty float64 `json:"penalty" db:"penalty"`
	Reason  string  `json:"reason" db:"reason"`
}

// ApprovalVerdict records how a window was classified. Exactly one verdict
// exists per admitted window.
type ApprovalVerdict struct {
	WindowKey      string        `json:"window_key" db:"window_key"`
	Chain          string        `json:"chain" db:"chain"`
	Token          string        `json:"token" db:"token"`
	Window         Window        `json:"window" db:"window"`
	WindowStart    time.Time     `json:"window_start" db:"window_start"`
	Verdict        ApprovalClass `json:"verdict" db:"verdict"`
	TriggeredRules []RuleResult  `json:"triggered_rules" db:"triggered_rules"`
	TotalPenalty   float64       `json:"total_penalty" db:"total_penalty"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}
