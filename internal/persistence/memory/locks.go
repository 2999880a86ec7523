package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// LocksStore implements the persistent lease table semantics in memory:
// a claim wins iff no row exists, the lease expired, or the claimant
// already holds it.
type LocksStore struct {
	mu   sync.Mutex
	rows map[string]domain.JobLock
	now  func() time.Time
}

func NewLocksStore() *LocksStore {
	return &LocksStore{rows: make(map[string]domain.JobLock), now: time.Now}
}

// SetClock overrides wall-clock reads for expiry tests.
func (s *LocksStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *LocksStore) Acquire(_ context.Context, key, holder string, ttlSec int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.rows[key]
	if ok && existing.LockedBy != holder && !existing.Expired(now) {
		return false, nil
	}
	s.rows[key] = domain.JobLock{Key: key, LockedBy: holder, LockedAt: now, TTLSec: ttlSec}
	return true, nil
}

func (s *LocksStore) Refresh(_ context.Context, key, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.rows[key]
	if !ok {
		return persistence.ErrNotFound
	}
	if existing.LockedBy != holder || existing.Expired(now) {
		return persistence.ErrVersionConflict
	}
	existing.LockedAt = now
	s.rows[key] = existing
	return nil
}

func (s *LocksStore) Release(_ context.Context, key, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rows[key]
	if !ok || existing.LockedBy != holder {
		return nil
	}
	delete(s.rows, key)
	return nil
}

func (s *LocksStore) Get(_ context.Context, key string) (*domain.JobLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.rows[key]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	out := l
	return &out, nil
}

// HeartbeatsStore holds worker liveness rows.
type HeartbeatsStore struct {
	mu   sync.RWMutex
	rows map[string]domain.Heartbeat
}

func NewHeartbeatsStore() *HeartbeatsStore {
	return &HeartbeatsStore{rows: make(map[string]domain.Heartbeat)}
}

func (s *HeartbeatsStore) Upsert(_ context.Context, hb domain.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[hb.Worker] = hb
	return nil
}

func (s *HeartbeatsStore) ListLive(_ context.Context, since time.Time) ([]domain.Heartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Heartbeat
	for _, hb := range s.rows {
		if hb.LastSeen.Before(since) {
			continue
		}
		out = append(out, hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Worker < out[j].Worker })
	return out, nil
}

// SystemEventsStore holds the operator audit stream.
type SystemEventsStore struct {
	mu   sync.RWMutex
	rows []domain.SystemEvent
}

func NewSystemEventsStore() *SystemEventsStore {
	return &SystemEventsStore{}
}

func (s *SystemEventsStore) Insert(_ context.Context, ev domain.SystemEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, ev)
	return nil
}

func (s *SystemEventsStore) ListRecent(_ context.Context, level string, limit int) ([]domain.SystemEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SystemEvent
	for _, ev := range s.rows {
		if level != "" && ev.Level != level {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SystemEventsStore) ListUnackedCritical(_ context.Context) ([]domain.SystemEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SystemEvent
	for _, ev := range s.rows {
		if ev.Level == domain.EventCritical && !ev.Acked {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SystemEventsStore) Ack(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rows {
		if s.rows[i].ID == id {
			s.rows[i].Acked = true
			return nil
		}
	}
	return persistence.ErrNotFound
}
