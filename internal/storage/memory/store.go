// Package memory is a process-local listing store for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"apartment_finder/internal/domain"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]domain.SeenRecord
}

func New() *Store {
	return &Store{records: make(map[string]domain.SeenRecord)}
}

func (s *Store) Contains(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok, nil
}

func (s *Store) ContainsBatch(_ context.Context, ids []string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	present := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			present[id] = struct{}{}
		}
	}
	return present, nil
}

func (s *Store) Insert(_ context.Context, rec domain.SeenRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ListingID]; ok {
		return false, nil
	}
	s.records[rec.ListingID] = rec
	return true, nil
}

func (s *Store) AllIDs(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{}, len(s.records))
	for id := range s.records {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// Record returns the stored record for id, if any.
func (s *Store) Record(id string) (domain.SeenRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]domain.SeenRecord)
	return nil
}

func (s *Store) Close() error { return nil }
