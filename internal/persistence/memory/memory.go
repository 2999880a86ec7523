// Package memory provides in-memory repository implementations honoring the
// same idempotency, immutability and concurrency contracts as the Postgres
// layer. They back tests and --dev mode.
package memory

import (
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// NewRepository wires a full in-memory repository set.
func NewRepository() *persistence.Repository {
	verdicts := NewVerdictsStore()
	outcomes := NewOutcomesStore()

	return &persistence.Repository{
		Events:       NewEventsStore(),
		Aggregates:   NewAggregatesStore(verdicts),
		Cursors:      NewCursorsStore(),
		ScanRanges:   NewScanRangesStore(),
		Verdicts:     verdicts,
		Snapshots:    NewSnapshotsStore(),
		Signals:      NewSignalsStore(),
		Traces:       NewTracesStore(),
		Rankings:     NewRankingsStore(),
		Decisions:    NewDecisionsStore(outcomes),
		Outcomes:     outcomes,
		Locks:        NewLocksStore(),
		Heartbeats:   NewHeartbeatsStore(),
		SystemEvents: NewSystemEventsStore(),
		Actors:       NewActorsStore(),
	}
}
