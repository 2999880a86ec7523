package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// SnapshotsStore holds immutable snapshots keyed by id.
type SnapshotsStore struct {
	mu   sync.RWMutex
	rows map[string]domain.Snapshot
}

func NewSnapshotsStore() *SnapshotsStore {
	return &SnapshotsStore{rows: make(map[string]domain.Snapshot)}
}

func (s *SnapshotsStore) Insert(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rows[snap.ID]; ok {
		if existing.Stability.Hash == snap.Stability.Hash {
			return nil
		}
		return persistence.ErrImmutable
	}
	s.rows[snap.ID] = snap
	return nil
}

func (s *SnapshotsStore) Get(_ context.Context, id string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.rows[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	out := snap
	return &out, nil
}

func (s *SnapshotsStore) Latest(_ context.Context, chain, token string, window domain.Window) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Snapshot
	for _, snap := range s.rows {
		snap := snap
		if snap.Chain != chain || snap.Token != token || snap.Window != window {
			continue
		}
		if best == nil || snap.SnapshotAt.After(best.SnapshotAt) {
			best = &snap
		}
	}
	if best == nil {
		return nil, persistence.ErrNotFound
	}
	return best, nil
}

func (s *SnapshotsStore) PreviousBefore(_ context.Context, chain, token string, window domain.Window, ts time.Time) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Snapshot
	for _, snap := range s.rows {
		snap := snap
		if snap.Chain != chain || snap.Token != token || snap.Window != window {
			continue
		}
		if !snap.SnapshotAt.Before(ts) {
			continue
		}
		if best == nil || snap.SnapshotAt.After(best.SnapshotAt) {
			best = &snap
		}
	}
	if best == nil {
		return nil, persistence.ErrNotFound
	}
	return best, nil
}

func (s *SnapshotsStore) ListRange(_ context.Context, chain, token string, window domain.Window, tr persistence.TimeRange) ([]domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Snapshot
	for _, snap := range s.rows {
		if snap.Chain != chain || snap.Token != token || snap.Window != window {
			continue
		}
		if snap.SnapshotAt.Before(tr.From) || !snap.SnapshotAt.Before(tr.To) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotAt.Before(out[j].SnapshotAt) })
	return out, nil
}
