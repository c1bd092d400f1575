package infra

import (
	"context"
	"sync"
	"time"
)

// MemorySeenSet é o seen-set local. Não é compartilhado entre instâncias;
// em produção use Postgres ou Redis.
type MemorySeenSet struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewMemorySeenSet(ttl time.Duration) *MemorySeenSet {
	return &MemorySeenSet{claimed: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (s *MemorySeenSet) Claim(_ context.Context, intentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claimed[intentID]; ok {
		return false, nil
	}
	s.claimed[intentID] = s.now()
	return true, nil
}

func (s *MemorySeenSet) Release(_ context.Context, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, intentID)
	return nil
}

// Cleanup remove claims mais velhos que o TTL. Roda no agendador.
func (s *MemorySeenSet) Cleanup() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, at := range s.claimed {
		if at.Before(cutoff) {
			delete(s.claimed, id)
			removed++
		}
	}
	return removed
}

func (s *MemorySeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claimed)
}
