package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// ScanRangesStore holds ingestion high-water marks.
type ScanRangesStore struct {
	mu   sync.RWMutex
	rows map[string]domain.ScanRange
}

func NewScanRangesStore() *ScanRangesStore {
	return &ScanRangesStore{rows: make(map[string]domain.ScanRange)}
}

func scanKey(chain, token string) string {
	return chain + ":" + token
}

func (s *ScanRangesStore) Get(_ context.Context, chain, token string) (*domain.ScanRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.rows[scanKey(chain, token)]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	out := sr
	return &out, nil
}

func (s *ScanRangesStore) Upsert(_ context.Context, sr domain.ScanRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scanKey(sr.Chain, sr.Token)
	if existing, ok := s.rows[key]; ok && sr.LastScannedBlock < existing.LastScannedBlock {
		return fmt.Errorf("scan range %s would regress from %d to %d",
			key, existing.LastScannedBlock, sr.LastScannedBlock)
	}
	s.rows[key] = sr
	return nil
}

func (s *ScanRangesStore) List(_ context.Context) ([]domain.ScanRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ScanRange, 0, len(s.rows))
	for _, sr := range s.rows {
		out = append(out, sr)
	}
	sort.Slice(out, func(i, j int) bool {
		return scanKey(out[i].Chain, out[i].Token) < scanKey(out[j].Chain, out[j].Token)
	})
	return out, nil
}
