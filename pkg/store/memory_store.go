package store

import (
	"context"
	"sync"
)

// MemoryStore is the default, in-memory EventStore. It provides no
// durability across process restarts: per spec.md's non-goals, durable
// delivery across crashes is the concern of a pluggable backend, not the
// core.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record // id -> record
	byTrace map[string][]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		byTrace: make(map[string][]string),
	}
}

func (s *MemoryStore) Save(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; !exists {
		s.byTrace[record.TraceID] = append(s.byTrace[record.TraceID], record.ID)
	}
	s.records[record.ID] = record
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, traceID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byTrace[traceID]
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id])
	}
	return out, nil
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) LoadByName(ctx context.Context, name string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) LoadByTimeRange(ctx context.Context, startMS, endMS int64) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if r.TimestampMS >= startMS && r.TimestampMS <= endMS {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, traceID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	ids := s.byTrace[traceID]
	for i, existing := range ids {
		if existing == id {
			s.byTrace[traceID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byTrace[traceID]) == 0 {
		delete(s.byTrace, traceID)
	}
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]Record)
	s.byTrace = make(map[string][]string)
	return nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) (HealthStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return HealthStatus{
		Status:  "ok",
		Details: map[string]int{"records": len(s.records)},
	}, nil
}
