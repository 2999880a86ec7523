// Package postgres implements the repository interfaces over sqlx.
// Query-relevant fields live in columns; nested documents (snapshot
// bodies, gating records, traces) ride along as JSONB.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// Manager owns the connection pool and health reporting.
type Manager struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  zerolog.Logger
}

// Open connects and configures the pool.
func Open(cfg config.DatabaseConfig) (*Manager, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Manager{
		db:      db,
		timeout: timeout,
		logger:  log.With().Str("component", "postgres").Logger(),
	}, nil
}

// NewManager wraps an existing connection, for sqlmock tests.
func NewManager(db *sqlx.DB) *Manager {
	return &Manager{db: db, timeout: 30 * time.Second, logger: log.With().Str("component", "postgres").Logger()}
}

func (m *Manager) Close() error { return m.db.Close() }

// withTimeout bounds one query.
func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

func (m *Manager) Ping(ctx context.Context) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.db.PingContext(ctx)
}

// Health reports pool status for the monitor surface.
func (m *Manager) Health(ctx context.Context) persistence.HealthCheck {
	started := time.Now()
	check := persistence.HealthCheck{LastCheck: started.UTC()}

	if err := m.Ping(ctx); err != nil {
		check.Errors = append(check.Errors, err.Error())
	} else {
		check.Healthy = true
	}
	check.ResponseTimeMS = time.Since(started).Milliseconds()

	stats := m.db.Stats()
	check.ConnectionPool = map[string]int{
		"open":    stats.OpenConnections,
		"in_use":  stats.InUse,
		"idle":    stats.Idle,
		"max":     stats.MaxOpenConnections,
		"waiting": int(stats.WaitCount),
	}
	return check
}

func (m *Manager) Stats(ctx context.Context) map[string]interface{} {
	stats := m.db.Stats()
	return map[string]interface{}{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration_ms": stats.WaitDuration.Milliseconds(),
	}
}

// NewRepository wires the full Postgres repository set over one manager.
func NewRepository(m *Manager) *persistence.Repository {
	return &persistence.Repository{
		Events:       &EventsRepo{m},
		Aggregates:   &AggregatesRepo{m},
		Cursors:      &CursorsRepo{m},
		ScanRanges:   &ScanRangesRepo{m},
		Verdicts:     &VerdictsRepo{m},
		Snapshots:    &SnapshotsRepo{m},
		Signals:      &SignalsRepo{m},
		Traces:       &TracesRepo{m},
		Rankings:     &RankingsRepo{m},
		Decisions:    &DecisionsRepo{m},
		Outcomes:     &OutcomesRepo{m},
		Locks:        &LocksRepo{m},
		Heartbeats:   &HeartbeatsRepo{m},
		SystemEvents: &SystemEventsRepo{m},
		Actors:       &ActorsRepo{m},
	}
}
