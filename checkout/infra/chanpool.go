package infra

import (
	"context"

	"checkout-gate/checkout/domain"
)

// ChanPool é um semáforo baseado em channel. Limita quantas chamadas ao
// processador ficam em voo nesta instância.
type ChanPool struct {
	sem chan struct{}
}

var _ domain.SlotPool = (*ChanPool)(nil)

// NewChanPool cria o pool com capacidade `max` (mínimo 1).
func NewChanPool(max int) *ChanPool {
	if max <= 0 {
		max = 1
	}
	return &ChanPool{sem: make(chan struct{}, max)}
}

func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *ChanPool) InUse() int    { return len(p.sem) }
func (p *ChanPool) Capacity() int { return cap(p.sem) }
