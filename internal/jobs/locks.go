// Package jobs schedules the pipeline: singleton leases, interval
// scheduling with jitter, deadlines and graceful shutdown.
package jobs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/persistence"
)

// HolderID identifies this process in the lease table.
func HolderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%d@%s", os.Getpid(), host)
}

// LockManager wraps the lease repo with heartbeat upkeep. Acquire claims
// a singleton lock; the returned Lease refreshes itself every ttl/3 and
// cancels its context when a refresh fails, so the job aborts at the next
// safe point instead of running unleased.
type LockManager struct {
	repo   persistence.LocksRepo
	holder string
	ttlSec int
	logger zerolog.Logger
}

func NewLockManager(repo persistence.LocksRepo, ttlSec int) *LockManager {
	if ttlSec <= 0 {
		ttlSec = 120
	}
	return &LockManager{
		repo:   repo,
		holder: HolderID(),
		ttlSec: ttlSec,
		logger: log.With().Str("component", "jobs").Logger(),
	}
}

// Lease is one held singleton lock.
type Lease struct {
	key     string
	holder  string
	mgr     *LockManager
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Context is cancelled when the lease can no longer be defended.
func (l *Lease) Context() context.Context { return l.ctx }

// Release stops the heartbeat and drops the lease.
func (l *Lease) Release() {
	l.cancel()
	<-l.stopped

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.mgr.repo.Release(ctx, l.key, l.holder); err != nil {
		l.mgr.logger.Warn().Err(err).Str("lock", l.key).Msg("lease release failed")
	}
}

// Acquire claims the lock, returning nil when another holder owns it.
func (m *LockManager) Acquire(ctx context.Context, key string) (*Lease, error) {
	ok, err := m.repo.Acquire(ctx, key, m.holder, m.ttlSec)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	leaseCtx, cancel := context.WithCancel(ctx)
	lease := &Lease{
		key:     key,
		holder:  m.holder,
		mgr:     m,
		ctx:     leaseCtx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go lease.heartbeat(time.Duration(m.ttlSec) * time.Second / 3)
	return lease, nil
}

func (l *Lease) heartbeat(every time.Duration) {
	defer close(l.stopped)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.mgr.repo.Refresh(l.ctx, l.key, l.holder); err != nil {
				l.mgr.logger.Error().Err(err).Str("lock", l.key).
					Msg("lease refresh failed, aborting job at next safe point")
				l.cancel()
				return
			}
		}
	}
}

// Holder exposes the manager's identity, for heartbeat rows.
func (m *LockManager) Holder() string { return m.holder }
