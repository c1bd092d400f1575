package infra

import (
	"context"
	"sync"
	"time"

	"checkout-gate/checkout/domain"
)

// MemoryAttemptStore guarda o log de tentativas em memória.
// Útil para testes e desenvolvimento; não é compartilhado entre instâncias.
//
// Cleanup precisa ser agendado (janitor) para o log não crescer sem limite.
type MemoryAttemptStore struct {
	mu      sync.Mutex
	records []domain.AttemptRecord
	now     func() time.Time
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{now: time.Now}
}

func (s *MemoryAttemptStore) Counts(_ context.Context, id domain.Identity, since time.Time) (domain.WindowCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CountWindow(s.records, id, since), nil
}

func (s *MemoryAttemptStore) Append(_ context.Context, rec domain.AttemptRecord) error {
	if !rec.Kind.Valid() {
		return domain.NewValidationError("kind", "invalid attempt kind")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Admit avalia e grava dentro da mesma seção crítica.
func (s *MemoryAttemptStore) Admit(_ context.Context, rec domain.AttemptRecord, p domain.Policy) (domain.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := domain.CountWindow(s.records, rec.Identity(), rec.CreatedAt.Add(-p.Window))
	dec := p.Evaluate(rec.Identity(), counts)

	rec.Kind = domain.AttemptPayment
	if !dec.Allowed {
		rec.Kind = domain.AttemptBlocked
	}
	s.records = append(s.records, rec)
	return dec, nil
}

// Cleanup descarta registros mais antigos que window, que nenhuma avaliação
// volta a ler. Devolve quantos foram removidos.
func (s *MemoryAttemptStore) Cleanup(window time.Duration) int {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	cutoff := now().Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, r := range s.records {
		if !r.CreatedAt.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	removed := len(s.records) - len(kept)
	clear(s.records[len(kept):])
	s.records = kept
	return removed
}

func (s *MemoryAttemptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records devolve uma cópia do log.
func (s *MemoryAttemptStore) Records() []domain.AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AttemptRecord, len(s.records))
	copy(out, s.records)
	return out
}
