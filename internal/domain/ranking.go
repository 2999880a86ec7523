package domain

import "time"

// Bucket is the coarse action bucket a ranking falls into.
type Bucket string

const (
	BucketBuy     Bucket = "BUY"
	BucketWatch   Bucket = "WATCH"
	BucketSell    Bucket = "SELL"
	BucketNeutral Bucket = "NEUTRAL"
)

// RankTrace attributes a rank score to its factors. AvgFreshnessFactor is
// the ranking recency axis (72h horizon) and is distinct from the
// confidence trace's DecayFactor (168h lifecycle aging).
type RankTrace struct {
	BaseEvidence       float64 `json:"base_evidence"`
	AvgLifecycleFactor float64 `json:"avg_lifecycle_factor"`
	AvgFreshnessFactor float64 `json:"avg_freshness_factor"`
	ClusterFactor      float64 `json:"cluster_factor"`
	PenaltyFactor      float64 `json:"penalty_factor"`
	AntiSpamFactor     float64 `json:"anti_spam_factor"`
	ScoreRaw           float64 `json:"score_raw"`
}

// LifecycleMix counts contributing signals by state.
type LifecycleMix struct {
	Active   int `json:"active"`
	Cooldown int `json:"cooldown"`
	Resolved int `json:"resolved"`
}

// RankedSignalRef points at one contributing signal and its impact.
type RankedSignalRef struct {
	SignalID string     `json:"signal_id"`
	Type     SignalType `json:"type"`
	Impact   float64    `json:"impact"`
}

// Ranking is the per-subject aggregation of signals into the four axes.
// Rows are append-only; the newest ComputedAt supersedes.
type Ranking struct {
	SubjectKind       SubjectKind       `json:"subject_kind" db:"subject_kind"`
	SubjectID         string            `json:"subject_id" db:"subject_id"`
	Window            Window            `json:"window" db:"window"`
	Coverage          float64           `json:"coverage" db:"coverage"`
	Evidence          float64           `json:"evidence" db:"evidence"`
	Direction         float64           `json:"direction" db:"direction"`
	Risk              float64           `json:"risk" db:"risk"`
	Confidence        float64           `json:"confidence" db:"confidence"`
	ClusterPassRate   float64           `json:"cluster_pass_rate" db:"cluster_pass_rate"`
	AvgDominance      float64           `json:"avg_dominance" db:"avg_dominance"`
	PenaltyRate       float64           `json:"penalty_rate" db:"penalty_rate"`
	ActiveSignals     int               `json:"active_signals" db:"active_signals"`
	LifecycleMix      LifecycleMix      `json:"lifecycle_mix"`
	AvgSignalAgeHours float64           `json:"avg_signal_age_hours" db:"avg_signal_age_hours"`
	FreshnessFactor   float64           `json:"freshness_factor" db:"freshness_factor"`
	RankScore         float64           `json:"rank_score" db:"rank_score"`
	Bucket            Bucket            `json:"bucket" db:"bucket"`
	TopSignals        []RankedSignalRef `json:"top_signals"`
	Trace             RankTrace         `json:"trace"`
	ComputedAt        time.Time         `json:"computed_at" db:"computed_at"`
}
