package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// LocksRepo is the lease table behind singleton jobs. Acquisition is a
// single guarded upsert so two workers can never both win.
type LocksRepo struct {
	m *Manager
}

func (r *LocksRepo) Acquire(ctx context.Context, key, holder string, ttlSec int) (bool, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	res, err := r.m.db.ExecContext(ctx, `
INSERT INTO job_locks (key, locked_by, locked_at, ttl_sec)
VALUES ($1, $2, now(), $3)
ON CONFLICT (key) DO UPDATE SET
    locked_by = EXCLUDED.locked_by,
    locked_at = EXCLUDED.locked_at,
    ttl_sec = EXCLUDED.ttl_sec
WHERE job_locks.locked_by = EXCLUDED.locked_by
   OR job_locks.locked_at + make_interval(secs => job_locks.ttl_sec) < now()`,
		key, holder, ttlSec)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *LocksRepo) Refresh(ctx context.Context, key, holder string) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	res, err := r.m.db.ExecContext(ctx, `
UPDATE job_locks SET locked_at = now()
WHERE key = $1 AND locked_by = $2
  AND locked_at + make_interval(secs => ttl_sec) >= now()`, key, holder)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("lease %s is no longer held by %s", key, holder)
	}
	return nil
}

func (r *LocksRepo) Release(ctx context.Context, key, holder string) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	_, err := r.m.db.ExecContext(ctx,
		`DELETE FROM job_locks WHERE key = $1 AND locked_by = $2`, key, holder)
	return err
}

func (r *LocksRepo) Get(ctx context.Context, key string) (*domain.JobLock, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var lock domain.JobLock
	err := r.m.db.GetContext(ctx, &lock, `
SELECT key, locked_by, locked_at, ttl_sec FROM job_locks WHERE key = $1`, key)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &lock, nil
}

// HeartbeatsRepo stores worker liveness rows.
type HeartbeatsRepo struct {
	m *Manager
}

type heartbeatRow struct {
	Worker   string         `db:"worker"`
	Host     string         `db:"host"`
	PID      int            `db:"pid"`
	Jobs     pq.StringArray `db:"jobs"`
	LastSeen time.Time      `db:"last_seen"`
}

func (r *HeartbeatsRepo) Upsert(ctx context.Context, hb domain.Heartbeat) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	_, err := r.m.db.ExecContext(ctx, `
INSERT INTO worker_heartbeats (worker, host, pid, jobs, last_seen)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (worker) DO UPDATE SET
    host = EXCLUDED.host,
    pid = EXCLUDED.pid,
    jobs = EXCLUDED.jobs,
    last_seen = EXCLUDED.last_seen`,
		hb.Worker, hb.Host, hb.PID, pq.StringArray(hb.Jobs), hb.LastSeen.UTC())
	return err
}

func (r *HeartbeatsRepo) ListLive(ctx context.Context, since time.Time) ([]domain.Heartbeat, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var rows []heartbeatRow
	err := r.m.db.SelectContext(ctx, &rows, `
SELECT worker, host, pid, jobs, last_seen FROM worker_heartbeats
WHERE last_seen >= $1
ORDER BY worker`, since.UTC())
	if err != nil {
		return nil, err
	}

	out := make([]domain.Heartbeat, len(rows))
	for i, row := range rows {
		out[i] = domain.Heartbeat{
			Worker:   row.Worker,
			Host:     row.Host,
			PID:      row.PID,
			Jobs:     []string(row.Jobs),
			LastSeen: row.LastSeen.UTC(),
		}
	}
	return out, nil
}

// SystemEventsRepo stores the operator-facing audit stream.
type SystemEventsRepo struct {
	m *Manager
}

type systemEventRow struct {
	ID            string    `db:"id"`
	Level         string    `db:"level"`
	Component     string    `db:"component"`
	Message       string    `db:"message"`
	CorrelationID string    `db:"correlation_id"`
	Details       []byte    `db:"details"`
	Acked         bool      `db:"acked"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r systemEventRow) toDomain() (domain.SystemEvent, error) {
	ev := domain.SystemEvent{
		ID:            r.ID,
		Level:         r.Level,
		Component:     r.Component,
		Message:       r.Message,
		CorrelationID: r.CorrelationID,
		Acked:         r.Acked,
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if len(r.Details) > 0 {
		if err := unmarshalDoc(r.Details, &ev.Details); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

const systemEventColumns = `id, level, component, message, correlation_id, details, acked, created_at`

func (r *SystemEventsRepo) Insert(ctx context.Context, ev domain.SystemEvent) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	details := ev.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	doc, err := marshalDoc(details)
	if err != nil {
		return err
	}
	_, err = r.m.db.ExecContext(ctx, `
INSERT INTO system_events (`+systemEventColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.Level, ev.Component, ev.Message, ev.CorrelationID,
		doc, ev.Acked, ev.CreatedAt.UTC())
	return err
}

func (r *SystemEventsRepo) ListRecent(ctx context.Context, level string, limit int) ([]domain.SystemEvent, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	query := `
SELECT ` + systemEventColumns + ` FROM system_events
ORDER BY created_at DESC
LIMIT $1`
	args := []interface{}{limit}
	if level != "" {
		query = `
SELECT ` + systemEventColumns + ` FROM system_events
WHERE level = $1
ORDER BY created_at DESC
LIMIT $2`
		args = []interface{}{level, limit}
	}

	var rows []systemEventRow
	if err := r.m.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rowsToSystemEvents(rows)
}

func (r *SystemEventsRepo) ListUnackedCritical(ctx context.Context) ([]domain.SystemEvent, error) {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	var rows []systemEventRow
	err := r.m.db.SelectContext(ctx, &rows, `
SELECT `+systemEventColumns+` FROM system_events
WHERE level = $1 AND NOT acked
ORDER BY created_at`, domain.EventCritical)
	if err != nil {
		return nil, err
	}
	return rowsToSystemEvents(rows)
}

func (r *SystemEventsRepo) Ack(ctx context.Context, id string) error {
	ctx, cancel := r.m.withTimeout(ctx)
	defer cancel()

	res, err := r.m.db.ExecContext(ctx,
		`UPDATE system_events SET acked = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func rowsToSystemEvents(rows []systemEventRow) ([]domain.SystemEvent, error) {
	out := make([]domain.SystemEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
