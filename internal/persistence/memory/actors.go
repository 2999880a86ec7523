package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// ActorsStore holds the actor directory with an address index.
type ActorsStore struct {
	mu      sync.RWMutex
	rows    map[string]domain.Actor
	byAddr  map[string]string
}

func NewActorsStore() *ActorsStore {
	return &ActorsStore{
		rows:   make(map[string]domain.Actor),
		byAddr: make(map[string]string),
	}
}

func (s *ActorsStore) Upsert(_ context.Context, actor domain.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(actor)
	return nil
}

func (s *ActorsStore) UpsertBatch(_ context.Context, actors []domain.Actor) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range actors {
		s.upsertLocked(a)
	}
	return len(actors), nil
}

func (s *ActorsStore) upsertLocked(actor domain.Actor) {
	if old, ok := s.rows[actor.ActorID]; ok {
		for _, addr := range old.Addresses {
			delete(s.byAddr, strings.ToLower(addr))
		}
	}
	s.rows[actor.ActorID] = actor
	for _, addr := range actor.Addresses {
		s.byAddr[strings.ToLower(addr)] = actor.ActorID
	}
}

func (s *ActorsStore) GetByAddress(_ context.Context, address string) (*domain.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddr[strings.ToLower(address)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	actor := s.rows[id]
	out := actor
	return &out, nil
}

func (s *ActorsStore) List(_ context.Context) ([]domain.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Actor, 0, len(s.rows))
	for _, a := range s.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActorID < out[j].ActorID })
	return out, nil
}
