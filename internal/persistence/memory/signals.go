package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// SignalsStore holds signals with optimistic concurrency on Version.
type SignalsStore struct {
	mu   sync.RWMutex
	rows map[string]domain.Signal
}

func NewSignalsStore() *SignalsStore {
	return &SignalsStore{rows: make(map[string]domain.Signal)}
}

func cloneSignal(s domain.Signal) domain.Signal {
	out := s
	out.EntityIDs = slices.Clone(s.EntityIDs)
	out.Evidence = maps.Clone(s.Evidence)
	out.Metrics = maps.Clone(s.Metrics)
	return out
}

func (s *SignalsStore) Insert(_ context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sig.Version == 0 {
		sig.Version = 1
	}
	s.rows[sig.ID] = cloneSignal(sig)
	return nil
}

func (s *SignalsStore) Update(_ context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rows[sig.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if existing.Version != sig.Version {
		return persistence.ErrVersionConflict
	}
	next := cloneSignal(sig)
	next.Version = sig.Version + 1
	s.rows[sig.ID] = next
	return nil
}

func (s *SignalsStore) Get(_ context.Context, id string) (*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, ok := s.rows[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	out := cloneSignal(sig)
	return &out, nil
}

func (s *SignalsStore) ListByStates(_ context.Context, window domain.Window, states []domain.SignalState) ([]domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[domain.SignalState]struct{}, len(states))
	for _, st := range states {
		want[st] = struct{}{}
	}

	var out []domain.Signal
	for _, sig := range s.rows {
		if sig.Window != window {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[sig.State]; !ok {
				continue
			}
		}
		out = append(out, cloneSignal(sig))
	}
	sortSignals(out)
	return out, nil
}

func (s *SignalsStore) ListBySubject(_ context.Context, subject domain.SubjectKey, window domain.Window) ([]domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Signal
	for _, sig := range s.rows {
		if sig.Window != window || sig.SubjectKey != subject {
			continue
		}
		out = append(out, cloneSignal(sig))
	}
	sortSignals(out)
	return out, nil
}

func (s *SignalsStore) DeleteResolvedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, sig := range s.rows {
		if sig.State == domain.StateResolved && sig.UpdatedAt.Before(cutoff) {
			delete(s.rows, id)
			removed++
		}
	}
	return removed, nil
}

func sortSignals(signals []domain.Signal) {
	sort.Slice(signals, func(i, j int) bool { return signals[i].ID < signals[j].ID })
}

// TracesStore holds confidence traces and lifecycle transitions.
type TracesStore struct {
	mu          sync.RWMutex
	traces      map[string][]domain.ConfidenceTrace
	transitions map[string][]domain.Transition
}

func NewTracesStore() *TracesStore {
	return &TracesStore{
		traces:      make(map[string][]domain.ConfidenceTrace),
		transitions: make(map[string][]domain.Transition),
	}
}

func (s *TracesStore) InsertTrace(_ context.Context, trace domain.ConfidenceTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[trace.SignalID] = append(s.traces[trace.SignalID], trace)
	return nil
}

func (s *TracesStore) ListTraces(_ context.Context, signalID string, limit int) ([]domain.ConfidenceTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.traces[signalID]
	out := slices.Clone(all)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *TracesStore) InsertTransition(_ context.Context, tr domain.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions[tr.SignalID] = append(s.transitions[tr.SignalID], tr)
	return nil
}

func (s *TracesStore) ListTransitions(_ context.Context, signalID string) ([]domain.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.transitions[signalID])
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}
