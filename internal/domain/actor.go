package domain

import "time"

// ActorType classifies a known address or cluster.
type ActorType string

const (
	ActorExchange    ActorType = "exchange"
	ActorMarketMaker ActorType = "market_maker"
	ActorFund        ActorType = "fund"
	ActorWhale       ActorType = "whale"
	ActorTrader      ActorType = "trader"
	ActorUnknown     ActorType = "unknown"
)

// SourceLevel says how an actor identity was established. It scales the
// actor's weight in confidence scoring.
type SourceLevel string

const (
	SourceVerified   SourceLevel = "verified"
	SourceAttributed SourceLevel = "attributed"
	SourceBehavioral SourceLevel = "behavioral"
)

// Weight returns the scoring multiplier for a source level.
func (s SourceLevel) Weight() float64 {
	switch s {
	case SourceVerified:
		return 1.0
	case SourceAttributed:
		return 0.85
	case SourceBehavioral:
		return 0.6
	default:
		return 0.6
	}
}

// Actor is a directory entry for an address or cluster.
type Actor struct {
	ActorID     string      `json:"actor_id" db:"actor_id"`
	Name        string      `json:"name,omitempty" db:"name"`
	ActorType   ActorType   `json:"actor_type" db:"actor_type"`
	SourceLevel SourceLevel `json:"source_level" db:"source_level"`
	Coverage    float64     `json:"coverage" db:"coverage"`
	Addresses   []string    `json:"addresses" db:"addresses"`
	ClusterID   string      `json:"cluster_id,omitempty" db:"cluster_id"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}
