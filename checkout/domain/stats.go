package domain

import (
	"context"
	"time"
)

// GateEvent representa uma decisão do gate.
//
// FailOpen marca decisões liberadas porque o AttemptStore estava
// indisponível; é o sinal que precisa aparecer em alertas.
type GateEvent struct {
	Allowed  bool
	Reason   Reason
	FailOpen bool

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do gate.
//
// Implementações podem armazenar em Redis, memória, etc.
// Quem chama deve tratar erro como best-effort (não derrubar a tentativa).
type StatsStore interface {
	Record(ctx context.Context, ev GateEvent) error
}
