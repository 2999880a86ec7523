package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// RankingsStore holds append-only ranking rows.
type RankingsStore struct {
	mu   sync.RWMutex
	rows []domain.Ranking
}

func NewRankingsStore() *RankingsStore {
	return &RankingsStore{}
}

func (s *RankingsStore) Insert(_ context.Context, r domain.Ranking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, r)
	return nil
}

func (s *RankingsStore) Latest(_ context.Context, kind domain.SubjectKind, subjectID string, window domain.Window) (*domain.Ranking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Ranking
	for i := range s.rows {
		r := s.rows[i]
		if r.SubjectKind != kind || r.SubjectID != subjectID || r.Window != window {
			continue
		}
		if best == nil || r.ComputedAt.After(best.ComputedAt) {
			best = &r
		}
	}
	if best == nil {
		return nil, persistence.ErrNotFound
	}
	out := *best
	return &out, nil
}

func (s *RankingsStore) Top(_ context.Context, window domain.Window, limit int) ([]domain.Ranking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]domain.Ranking)
	for _, r := range s.rows {
		if r.Window != window {
			continue
		}
		key := fmt.Sprintf("%s:%s", r.SubjectKind, r.SubjectID)
		if cur, ok := latest[key]; !ok || r.ComputedAt.After(cur.ComputedAt) {
			latest[key] = r
		}
	}

	out := make([]domain.Ranking, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RankScore > out[j].RankScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DecisionsStore holds append-only decisions, with outcome links for the
// expiry sweep.
type DecisionsStore struct {
	mu       sync.RWMutex
	rows     []domain.Decision
	outcomes *OutcomesStore
}

func NewDecisionsStore(outcomes *OutcomesStore) *DecisionsStore {
	return &DecisionsStore{outcomes: outcomes}
}

func (s *DecisionsStore) Insert(_ context.Context, d domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, d)
	return nil
}

func (s *DecisionsStore) Latest(_ context.Context, kind domain.SubjectKind, subjectID string, window domain.Window) (*domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Decision
	for i := range s.rows {
		d := s.rows[i]
		if d.SubjectKind != kind || d.SubjectID != subjectID || d.Window != window {
			continue
		}
		if best == nil || d.CreatedAt.After(best.CreatedAt) {
			best = &d
		}
	}
	if best == nil {
		return nil, persistence.ErrNotFound
	}
	out := *best
	return &out, nil
}

func (s *DecisionsStore) ListExpiredUnevaluated(_ context.Context, now time.Time, limit int) ([]domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Decision
	for _, d := range s.rows {
		if d.ExpiresAt.After(now) {
			continue
		}
		if s.outcomes != nil && s.outcomes.has(d.ID) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *DecisionsStore) ListRecent(_ context.Context, tr persistence.TimeRange, limit int) ([]domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Decision
	for _, d := range s.rows {
		if d.CreatedAt.Before(tr.From) || !d.CreatedAt.Before(tr.To) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// OutcomesStore holds decision outcomes keyed by decision id.
type OutcomesStore struct {
	mu   sync.RWMutex
	rows map[string]domain.Outcome
}

func NewOutcomesStore() *OutcomesStore {
	return &OutcomesStore{rows: make(map[string]domain.Outcome)}
}

func (s *OutcomesStore) Insert(_ context.Context, o domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[o.DecisionID]; exists {
		return nil
	}
	s.rows[o.DecisionID] = o
	return nil
}

func (s *OutcomesStore) Get(_ context.Context, decisionID string) (*domain.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.rows[decisionID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	out := o
	return &out, nil
}

func (s *OutcomesStore) CountByAgreement(_ context.Context, tr persistence.TimeRange) (map[domain.OutcomeAgreement]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.OutcomeAgreement]int64)
	for _, o := range s.rows {
		if o.EvaluatedAt.Before(tr.From) || !o.EvaluatedAt.Before(tr.To) {
			continue
		}
		out[o.Agreement]++
	}
	return out, nil
}

func (s *OutcomesStore) has(decisionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[decisionID]
	return ok
}
