package application

import (
	"context"
	"errors"
	"time"

	"checkout-gate/checkout/domain"
)

// ErrNoUpstreamSlot indica que nenhuma vaga para o processador ficou livre
// dentro do AcquireTimeout.
var ErrNoUpstreamSlot = errors.New("no upstream slot available")

// UpstreamSlots limita quantas chamadas ao processador ficam em voo ao mesmo
// tempo nesta instância.
type UpstreamSlots struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire devolve a função de release ou ErrNoUpstreamSlot.
// Com AcquireTimeout <= 0 espera até o ctx encerrar.
func (s UpstreamSlots) Acquire(ctx context.Context) (func(), error) {
	if s.Pool == nil {
		return func() {}, nil
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if !ok {
		return nil, ErrNoUpstreamSlot
	}
	return release, nil
}
