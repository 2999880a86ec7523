package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// VerdictsStore holds approval verdicts keyed by window key.
type VerdictsStore struct {
	mu   sync.RWMutex
	rows map[string]domain.ApprovalVerdict
}

func NewVerdictsStore() *VerdictsStore {
	return &VerdictsStore{rows: make(map[string]domain.ApprovalVerdict)}
}

func (s *VerdictsStore) Upsert(_ context.Context, verdict domain.ApprovalVerdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[verdict.WindowKey] = verdict
	return nil
}

func (s *VerdictsStore) Get(_ context.Context, windowKey string) (*domain.ApprovalVerdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.rows[windowKey]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	out := v
	return &out, nil
}

func (s *VerdictsStore) ListByClass(_ context.Context, class domain.ApprovalClass, tr persistence.TimeRange, limit int) ([]domain.ApprovalVerdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ApprovalVerdict
	for _, v := range s.rows {
		if v.Verdict != class {
			continue
		}
		if v.CreatedAt.Before(tr.From) || !v.CreatedAt.Before(tr.To) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *VerdictsStore) CountByClass(_ context.Context, tr persistence.TimeRange) (map[domain.ApprovalClass]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.ApprovalClass]int64)
	for _, v := range s.rows {
		if v.CreatedAt.Before(tr.From) || !v.CreatedAt.Before(tr.To) {
			continue
		}
		out[v.Verdict]++
	}
	return out, nil
}

// has reports whether a window key was judged; used by the aggregate store.
func (s *VerdictsStore) has(windowKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[windowKey]
	return ok
}
