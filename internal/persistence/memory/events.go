package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// EventsStore is the in-memory raw event store.
type EventsStore struct {
	mu     sync.RWMutex
	events map[domain.EventKey]domain.TransferEvent
}

func NewEventsStore() *EventsStore {
	return &EventsStore{events: make(map[domain.EventKey]domain.TransferEvent)}
}

func (s *EventsStore) Insert(_ context.Context, event domain.TransferEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := event.Key()
	if _, exists := s.events[key]; exists {
		return false, nil
	}
	s.events[key] = event
	return true, nil
}

func (s *EventsStore) InsertBatch(ctx context.Context, events []domain.TransferEvent) (int, error) {
	var inserted int
	for _, e := range events {
		ok, err := s.Insert(ctx, e)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (s *EventsStore) ListByToken(_ context.Context, chain, token string, tr persistence.TimeRange, limit int) ([]domain.TransferEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.collect(chain, token, tr)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *EventsStore) ListByTxHash(_ context.Context, txHash string) ([]domain.TransferEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.TransferEvent
	for _, e := range s.events {
		if e.TxHash == txHash {
			out = append(out, e)
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *EventsStore) OpenRange(_ context.Context, chain, token string, tr persistence.TimeRange, batchSize int) (persistence.EventIterator, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	s.mu.RLock()
	snapshot := s.collect(chain, token, tr)
	s.mu.RUnlock()

	return &eventIterator{events: snapshot, batch: batchSize}, nil
}

func (s *EventsStore) Count(_ context.Context, chain, token string, tr persistence.TimeRange) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.collect(chain, token, tr))), nil
}

func (s *EventsStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for k, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			delete(s.events, k)
			removed++
		}
	}
	return removed, nil
}

// collect filters and orders matching events; callers hold the lock.
func (s *EventsStore) collect(chain, token string, tr persistence.TimeRange) []domain.TransferEvent {
	var out []domain.TransferEvent
	for _, e := range s.events {
		if e.Chain != chain || e.Token != token {
			continue
		}
		if e.Timestamp.Before(tr.From) || !e.Timestamp.Before(tr.To) {
			continue
		}
		out = append(out, e)
	}
	sortEvents(out)
	return out
}

func sortEvents(events []domain.TransferEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Block != events[j].Block {
			return events[i].Block < events[j].Block
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}

// eventIterator pages over a snapshot taken at open time, so concurrent
// appends never leak into an in-flight scan.
type eventIterator struct {
	events []domain.TransferEvent
	pos    int
	batch  int
}

func (it *eventIterator) Next(_ context.Context) ([]domain.TransferEvent, error) {
	if it.pos >= len(it.events) {
		return nil, nil
	}
	end := it.pos + it.batch
	if end > len(it.events) {
		end = len(it.events)
	}
	out := it.events[it.pos:end]
	it.pos = end
	return out, nil
}

func (it *eventIterator) Close() error {
	it.events = nil
	return nil
}
