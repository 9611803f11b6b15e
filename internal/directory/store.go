package directory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store persists advertisements. Implementations must be safe for concurrent
// use.
type Store interface {
	Put(ctx context.Context, a Advertisement) error
	Get(ctx context.Context, id string) (Advertisement, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Advertisement, error)
	// DeleteStale removes records whose last heartbeat is before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Advertisement
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Advertisement{}}
}

func (s *MemoryStore) Put(_ context.Context, a Advertisement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[a.ID] = a.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Advertisement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.records[id]
	if !ok {
		return Advertisement{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return a.clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Advertisement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Advertisement, 0, len(s.records))
	for _, a := range s.records {
		out = append(out, a.clone())
	}
	return out, nil
}

func (s *MemoryStore) DeleteStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.records {
		if a.LastHeartbeat.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}
