package domain

import "time"

// Quality grades a snapshot by its coverage band.
type Quality string

const (
	QualityHigh   Quality = "HIGH"
	QualityMedium Quality = "MEDIUM"
	QualityLow    Quality = "LOW"
)

// SnapshotActor is one actor's footprint inside a snapshot.
type SnapshotActor struct {
	ActorID       string      `json:"actor_id"`
	Name          string      `json:"name,omitempty"`
	ActorType     ActorType   `json:"actor_type"`
	SourceLevel   SourceLevel `json:"source_level"`
	Coverage      float64     `json:"coverage"`
	TxCount       int64       `json:"tx_count"`
	InflowAmount  FlowAmount  `json:"inflow_amount"`
	OutflowAmount FlowAmount  `json:"outflow_amount"`
	FlowShare     float64     `json:"flow_share"`
	Connectivity  int         `json:"connectivity"`
	ActiveDays    int         `json:"active_days"`
	ClusterID     string      `json:"cluster_id,omitempty"`
}

// SnapshotEdge is an aggregated (from, to) transfer corridor.
type SnapshotEdge struct {
	From      string     `json:"from"`
	To        string     `json:"to"`
	Transfers int64      `json:"transfers"`
	Amount    FlowAmount `json:"amount"`
	USDVolume float64    `json:"usd_volume"`
}

// SnapshotStats are the window-level rollups. USD figures are the only
// floats derived from flows.
type SnapshotStats struct {
	EventCount       int64   `json:"event_count"`
	ActorCount       int     `json:"actor_count"`
	EdgeCount        int     `json:"edge_count"`
	TotalFlowUSD     float64 `json:"total_flow_usd"`
	NetFlowUSD       float64 `json:"net_flow_usd"`
	QuarantinedShare float64 `json:"quarantined_share"`
}

// Coverage carries the three independent identification percentages.
type Coverage struct {
	ActorsPct    float64 `json:"actors_pct"`
	EdgesPct     float64 `json:"edges_pct"`
	TransfersPct float64 `json:"transfers_pct"`
}

// Stability compares a snapshot to its predecessor.
type Stability struct {
	Hash          string  `json:"hash"`
	DeltaFromPrev float64 `json:"delta_from_prev"`
	IsStable      bool    `json:"is_stable"`
	Quality       Quality `json:"quality"`
}

// Snapshot is the immutable per-window summary every detector reads.
// Once written it is never mutated; rebuilds produce the same hash for
// the same inputs.
type Snapshot struct {
	ID          string          `json:"id" db:"id"`
	Chain       string          `json:"chain" db:"chain"`
	Token       string          `json:"token" db:"token"`
	Window      Window          `json:"window" db:"window"`
	WindowStart time.Time       `json:"window_start" db:"window_start"`
	SnapshotAt  time.Time       `json:"snapshot_at" db:"snapshot_at"`
	Actors      []SnapshotActor `json:"actors"`
	Edges       []SnapshotEdge  `json:"edges"`
	Stats       SnapshotStats   `json:"stats"`
	Coverage    Coverage        `json:"coverage"`
	Stability   Stability       `json:"stability"`
	IsViable    bool            `json:"is_viable" db:"is_viable"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// SubjectKey returns the entity subject a snapshot ranks under.
func (s Snapshot) SubjectKey() SubjectKey {
	return NewSubjectKey(SubjectEntity, s.Chain+":"+s.Token)
}
