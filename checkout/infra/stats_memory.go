package infra

import (
	"context"
	"sync"

	"checkout-gate/checkout/domain"
)

type Counters struct {
	Allowed  int64
	Denied   int64
	FailOpen int64
}

// MemoryStatsStore acumula as decisões do gate em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byReason map[domain.Reason]int64
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{byReason: make(map[domain.Reason]int64)}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.GateEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.FailOpen {
		s.total.FailOpen++
	}
	if ev.Allowed {
		s.total.Allowed++
		return nil
	}
	s.total.Denied++
	s.byReason[ev.Reason]++
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ByReason conta apenas negações.
func (s *MemoryStatsStore) ByReason() map[domain.Reason]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Reason]int64, len(s.byReason))
	for k, v := range s.byReason {
		out[k] = v
	}
	return out
}
