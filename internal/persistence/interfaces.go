package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/flowhawk/flowhawk/internal/domain"
)

// TimeRange bounds a query window.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Sentinel errors shared by all repository implementations.
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrImmutable       = errors.New("row is immutable")
)

// EventIterator pages through raw events in (block, logIndex) order. The
// iterator is stable: events appended after it was opened are not returned.
type EventIterator interface {
	// Next returns the next batch, empty when exhausted.
	Next(ctx context.Context) ([]domain.TransferEvent, error)
	Close() error
}

// EventsRepo is the append-only raw transfer store.
type EventsRepo interface {
	// Insert appends one event; inserted=false when the key already exists.
	Insert(ctx context.Context, event domain.TransferEvent) (inserted bool, err error)

	// InsertBatch appends many events, returning how many were new.
	InsertBatch(ctx context.Context, events []domain.TransferEvent) (inserted int, err error)

	// ListByToken retrieves events for a token within a time range, ordered
	// by (block, logIndex).
	ListByToken(ctx context.Context, chain, token string, tr TimeRange, limit int) ([]domain.TransferEvent, error)

	// ListByTxHash retrieves all events observed for one transaction.
	ListByTxHash(ctx context.Context, txHash string) ([]domain.TransferEvent, error)

	// OpenRange opens a stable iterator over [tr.From, tr.To).
	OpenRange(ctx context.Context, chain, token string, tr TimeRange, batchSize int) (EventIterator, error)

	// Count returns how many events exist for a token in range.
	Count(ctx context.Context, chain, token string, tr TimeRange) (int64, error)

	// DeleteOlderThan prunes events past retention, returning rows removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AggregatesRepo stores deterministic window folds.
type AggregatesRepo interface {
	// Upsert writes the aggregate row for its (chain, token, window,
	// windowStart) key. Re-writing identical inputs is a no-op.
	Upsert(ctx context.Context, agg domain.WindowAggregate) error

	// Get fetches one aggregate row.
	Get(ctx context.Context, key domain.AggregateKey) (*domain.WindowAggregate, error)

	// Previous fetches the aggregate for the window directly before key.
	Previous(ctx context.Context, key domain.AggregateKey) (*domain.WindowAggregate, error)

	// ListByToken retrieves a token's aggregates for one window label.
	ListByToken(ctx context.Context, chain, token string, window domain.Window, tr TimeRange) ([]domain.WindowAggregate, error)

	// ListWithoutVerdict returns aggregates the approval gate has not
	// classified yet.
	ListWithoutVerdict(ctx context.Context, window domain.Window, limit int) ([]domain.WindowAggregate, error)
}

// CursorsRepo stores per-stream aggregation high-water marks.
type CursorsRepo interface {
	// Get fetches the cursor for a stream, ErrNotFound when absent.
	Get(ctx context.Context, chain, token string, window domain.Window) (*domain.AggregationCursor, error)

	// Upsert advances a cursor. LastWindowEnd must never move backwards;
	// regressions are rejected.
	Upsert(ctx context.Context, cursor domain.AggregationCursor) error

	// List returns every cursor, for ops visibility.
	List(ctx context.Context) ([]domain.AggregationCursor, error)
}

// ScanRangesRepo stores the ingestor's per-stream block high-water marks.
type ScanRangesRepo interface {
	// Get fetches the scan range for a stream, ErrNotFound when absent.
	Get(ctx context.Context, chain, token string) (*domain.ScanRange, error)

	// Upsert advances a scan range. LastScannedBlock never moves backwards;
	// regressions are rejected.
	Upsert(ctx context.Context, sr domain.ScanRange) error

	// List returns every scan range, for ops visibility.
	List(ctx context.Context) ([]domain.ScanRange, error)
}

// VerdictsRepo stores approval gate output.
type VerdictsRepo interface {
	// Upsert records the verdict for one window key.
	Upsert(ctx context.Context, verdict domain.ApprovalVerdict) error

	// Get fetches a verdict by window key, ErrNotFound when absent.
	Get(ctx context.Context, windowKey string) (*domain.ApprovalVerdict, error)

	// ListByClass retrieves verdicts of one class in range.
	ListByClass(ctx context.Context, class domain.ApprovalClass, tr TimeRange, limit int) ([]domain.ApprovalVerdict, error)

	// CountByClass returns verdict distribution in range.
	CountByClass(ctx context.Context, tr TimeRange) (map[domain.ApprovalClass]int64, error)
}

// SnapshotsRepo stores immutable snapshots.
type SnapshotsRepo interface {
	// Insert writes a snapshot. Re-inserting the same id is a no-op when
	// the content hash matches and ErrImmutable otherwise.
	Insert(ctx context.Context, snap domain.Snapshot) error

	// Get fetches a snapshot by id.
	Get(ctx context.Context, id string) (*domain.Snapshot, error)

	// Latest returns the most recent snapshot for a stream.
	Latest(ctx context.Context, chain, token string, window domain.Window) (*domain.Snapshot, error)

	// PreviousBefore returns the newest snapshot taken strictly before ts.
	PreviousBefore(ctx context.Context, chain, token string, window domain.Window, ts time.Time) (*domain.Snapshot, error)

	// ListRange retrieves snapshots for a stream in range.
	ListRange(ctx context.Context, chain, token string, window domain.Window, tr TimeRange) ([]domain.Snapshot, error)
}

// SignalsRepo stores signals. Mutation goes through Update, which enforces
// optimistic concurrency on Version.
type SignalsRepo interface {
	// Insert creates a new signal with Version=1.
	Insert(ctx context.Context, sig domain.Signal) error

	// Update persists a mutated signal iff its Version matches the stored
	// row, then bumps Version. Mismatch returns ErrVersionConflict.
	Update(ctx context.Context, sig domain.Signal) error

	// Get fetches a signal by id.
	Get(ctx context.Context, id string) (*domain.Signal, error)

	// ListByStates retrieves signals in the given states for one window.
	ListByStates(ctx context.Context, window domain.Window, states []domain.SignalState) ([]domain.Signal, error)

	// ListBySubject retrieves a subject's signals for one window.
	ListBySubject(ctx context.Context, subject domain.SubjectKey, window domain.Window) ([]domain.Signal, error)

	// DeleteResolvedBefore prunes terminal signals older than cutoff.
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TracesRepo stores confidence traces and lifecycle transitions.
type TracesRepo interface {
	// InsertTrace appends a confidence trace.
	InsertTrace(ctx context.Context, trace domain.ConfidenceTrace) error

	// ListTraces retrieves the most recent traces for a signal.
	ListTraces(ctx context.Context, signalID string, limit int) ([]domain.ConfidenceTrace, error)

	// InsertTransition appends a lifecycle transition.
	InsertTransition(ctx context.Context, tr domain.Transition) error

	// ListTransitions retrieves a signal's transition history.
	ListTransitions(ctx context.Context, signalID string) ([]domain.Transition, error)
}

// RankingsRepo stores append-only ranking rows.
type RankingsRepo interface {
	// Insert appends one ranking computation.
	Insert(ctx context.Context, r domain.Ranking) error

	// Latest returns the newest ranking for a subject and window.
	Latest(ctx context.Context, kind domain.SubjectKind, subjectID string, window domain.Window) (*domain.Ranking, error)

	// Top returns the latest ranking per subject for a window, ordered by
	// rank score descending.
	Top(ctx context.Context, window domain.Window, limit int) ([]domain.Ranking, error)
}

// DecisionsRepo stores append-only decisions.
type DecisionsRepo interface {
	// Insert appends one decision.
	Insert(ctx context.Context, d domain.Decision) error

	// Latest returns a subject's newest decision for a window.
	Latest(ctx context.Context, kind domain.SubjectKind, subjectID string, window domain.Window) (*domain.Decision, error)

	// ListExpiredUnevaluated returns decisions past their TTL that have no
	// outcome row yet.
	ListExpiredUnevaluated(ctx context.Context, now time.Time, limit int) ([]domain.Decision, error)

	// ListRecent retrieves decisions created in range.
	ListRecent(ctx context.Context, tr TimeRange, limit int) ([]domain.Decision, error)
}

// OutcomesRepo stores post-TTL decision audits.
type OutcomesRepo interface {
	// Insert appends one outcome, idempotent per decision id.
	Insert(ctx context.Context, o domain.Outcome) error

	// Get fetches the outcome for a decision, ErrNotFound when absent.
	Get(ctx context.Context, decisionID string) (*domain.Outcome, error)

	// CountByAgreement returns outcome distribution in range.
	CountByAgreement(ctx context.Context, tr TimeRange) (map[domain.OutcomeAgreement]int64, error)
}

// LocksRepo is the persistent lease table behind singleton jobs.
type LocksRepo interface {
	// Acquire claims the lock atomically. The claim succeeds iff no row
	// exists, the existing lease expired, or holder already owns it.
	Acquire(ctx context.Context, key, holder string, ttlSec int) (bool, error)

	// Refresh extends a held lease; it fails if holder no longer owns the
	// key or the lease already expired.
	Refresh(ctx context.Context, key, holder string) error

	// Release drops the lease if holder owns it.
	Release(ctx context.Context, key, holder string) error

	// Get fetches the current lease, ErrNotFound when absent.
	Get(ctx context.Context, key string) (*domain.JobLock, error)
}

// HeartbeatsRepo stores worker liveness rows.
type HeartbeatsRepo interface {
	// Upsert refreshes one worker's heartbeat.
	Upsert(ctx context.Context, hb domain.Heartbeat) error

	// ListLive returns workers seen since the cutoff.
	ListLive(ctx context.Context, since time.Time) ([]domain.Heartbeat, error)
}

// SystemEventsRepo stores the operator-facing audit stream.
type SystemEventsRepo interface {
	// Insert appends one system event.
	Insert(ctx context.Context, ev domain.SystemEvent) error

	// ListRecent retrieves the newest events, optionally filtered by level.
	ListRecent(ctx context.Context, level string, limit int) ([]domain.SystemEvent, error)

	// ListUnackedCritical returns CRITICAL events awaiting operator ack.
	ListUnackedCritical(ctx context.Context) ([]domain.SystemEvent, error)

	// Ack marks one event acknowledged.
	Ack(ctx context.Context, id string) error
}

// ActorsRepo stores the actor directory.
type ActorsRepo interface {
	// Upsert writes one directory entry.
	Upsert(ctx context.Context, actor domain.Actor) error

	// UpsertBatch seeds many entries, returning how many were written.
	UpsertBatch(ctx context.Context, actors []domain.Actor) (int, error)

	// GetByAddress resolves a lowercased address, ErrNotFound when unknown.
	GetByAddress(ctx context.Context, address string) (*domain.Actor, error)

	// List returns the full directory.
	List(ctx context.Context) ([]domain.Actor, error)
}

// Repository aggregates all persistence interfaces.
type Repository struct {
	Events       EventsRepo
	Aggregates   AggregatesRepo
	Cursors      CursorsRepo
	ScanRanges   ScanRangesRepo
	Verdicts     VerdictsRepo
	Snapshots    SnapshotsRepo
	Signals      SignalsRepo
	Traces       TracesRepo
	Rankings     RankingsRepo
	Decisions    DecisionsRepo
	Outcomes     OutcomesRepo
	Locks        LocksRepo
	Heartbeats   HeartbeatsRepo
	SystemEvents SystemEventsRepo
	Actors       ActorsRepo
}

// HealthCheck reports repository health.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer.
type RepositoryHealth interface {
	// Health returns current repository health status.
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity.
	Ping(ctx context.Context) error

	// Stats returns connection pool and query statistics.
	Stats(ctx context.Context) map[string]interface{}
}
