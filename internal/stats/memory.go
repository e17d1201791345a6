package stats

import (
	"context"
	"sync"
)

// MemoryStore keeps counters in process. It never expires anything.
type MemoryStore struct {
	mu     sync.Mutex
	total  Counters
	byType map[string]Counters
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byType: make(map[string]Counters)}
}

func (s *MemoryStore) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Outcome)
	if ev.PaymentType != "" {
		c := s.byType[ev.PaymentType]
		c.add(ev.Outcome)
		s.byType[ev.PaymentType] = c
	}
	return nil
}

func (s *MemoryStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStore) ByType() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byType))
	for k, v := range s.byType {
		out[k] = v
	}
	return out
}
