package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// AggregatesStore holds window aggregates. It consults the verdict store to
// answer which aggregates still await approval.
type AggregatesStore struct {
	mu       sync.RWMutex
	rows     map[string]domain.WindowAggregate
	verdicts *VerdictsStore
}

func NewAggregatesStore(verdicts *VerdictsStore) *AggregatesStore {
	return &AggregatesStore{
		rows:     make(map[string]domain.WindowAggregate),
		verdicts: verdicts,
	}
}

func (s *AggregatesStore) Upsert(_ context.Context, agg domain.WindowAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[agg.Key().String()] = agg
	return nil
}

func (s *AggregatesStore) Get(_ context.Context, key domain.AggregateKey) (*domain.WindowAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.rows[key.String()]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	out := agg
	return &out, nil
}

func (s *AggregatesStore) Previous(ctx context.Context, key domain.AggregateKey) (*domain.WindowAggregate, error) {
	prev := key
	prev.WindowStart = key.WindowStart.Add(-key.Window.Duration())
	return s.Get(ctx, prev)
}

func (s *AggregatesStore) ListByToken(_ context.Context, chain, token string, window domain.Window, tr persistence.TimeRange) ([]domain.WindowAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.WindowAggregate
	for _, a := range s.rows {
		if a.Chain != chain || a.Token != token || a.Window != window {
			continue
		}
		if a.WindowStart.Before(tr.From) || !a.WindowStart.Before(tr.To) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowStart.Before(out[j].WindowStart) })
	return out, nil
}

func (s *AggregatesStore) ListWithoutVerdict(_ context.Context, window domain.Window, limit int) ([]domain.WindowAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.WindowAggregate
	for key, a := range s.rows {
		if a.Window != window {
			continue
		}
		if s.verdicts != nil && s.verdicts.has(key) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WindowStart.Before(out[j].WindowStart) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CursorsStore holds aggregation high-water marks.
type CursorsStore struct {
	mu   sync.RWMutex
	rows map[string]domain.AggregationCursor
}

func NewCursorsStore() *CursorsStore {
	return &CursorsStore{rows: make(map[string]domain.AggregationCursor)}
}

func cursorKey(chain, token string, window domain.Window) string {
	return fmt.Sprintf("%s:%s:%s", chain, token, window)
}

func (s *CursorsStore) Get(_ context.Context, chain, token string, window domain.Window) (*domain.AggregationCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.rows[cursorKey(chain, token, window)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	out := c
	return &out, nil
}

func (s *CursorsStore) Upsert(_ context.Context, cursor domain.AggregationCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cursorKey(cursor.Chain, cursor.Token, cursor.Window)
	if existing, ok := s.rows[key]; ok && cursor.LastWindowEnd.Before(existing.LastWindowEnd) {
		return fmt.Errorf("cursor %s would regress from %s to %s",
			key, existing.LastWindowEnd.UTC(), cursor.LastWindowEnd.UTC())
	}
	s.rows[key] = cursor
	return nil
}

func (s *CursorsStore) List(_ context.Context) ([]domain.AggregationCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AggregationCursor, 0, len(s.rows))
	for _, c := range s.rows {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return cursorKey(out[i].Chain, out[i].Token, out[i].Window) < cursorKey(out[j].Chain, out[j].Token, out[j].Window)
	})
	return out, nil
}
