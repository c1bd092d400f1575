package application

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"checkout-gate/checkout/domain"
)

// SaleRegistrar notifica o sistema de atribuição no máximo uma vez por intent.
//
// O fluxo é claim no seen-set, envio e, se o envio falhar, release do claim
// para que outro caminho (ex: webhook) possa tentar de novo.
type SaleRegistrar struct {
	Seen   domain.SeenSet
	Client domain.AttributionClient
	Logger *log.Logger

	// SendTimeout limita cada envio. 0 = sem limite além do ctx.
	SendTimeout time.Duration
}

func (r *SaleRegistrar) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Register é a versão síncrona. Devolve (false, nil) quando a venda já foi
// registrada por outro caminho.
func (r *SaleRegistrar) Register(ctx context.Context, sale domain.Sale) (bool, error) {
	if r.Client == nil {
		return false, nil
	}
	if sale.IntentID == "" {
		return false, fmt.Errorf("register sale: empty intent id")
	}

	if r.Seen != nil {
		first, err := r.Seen.Claim(ctx, sale.IntentID)
		if err != nil {
			return false, fmt.Errorf("claim %s: %w", sale.IntentID, err)
		}
		if !first {
			return false, nil
		}
	}

	sendCtx := ctx
	if r.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, r.SendTimeout)
		defer cancel()
	}

	if err := r.Client.SendSale(sendCtx, sale); err != nil {
		if r.Seen != nil {
			if rerr := r.Seen.Release(context.WithoutCancel(ctx), sale.IntentID); rerr != nil {
				r.logf("[registrar] release %s: %v", sale.IntentID, rerr)
			}
		}
		return false, fmt.Errorf("send %s: %w", sale.IntentID, err)
	}
	return true, nil
}

// RegisterSale implementa domain.SaleNotifier: falhas ficam só no log.
func (r *SaleRegistrar) RegisterSale(ctx context.Context, sale domain.Sale) {
	sent, err := r.Register(ctx, sale)
	switch {
	case err != nil:
		r.logf("[registrar] failed intent=%s: %v", sale.IntentID, err)
	case sent:
		r.logf("[registrar] registered intent=%s amount=%d", sale.IntentID, sale.AmountCents)
	default:
		r.logf("[registrar] skip intent=%s (already registered)", sale.IntentID)
	}
}

// AsyncRegistrar coloca as vendas numa fila atendida por um worker, para que
// a resposta do pagamento nunca espere pelo sistema de atribuição.
type AsyncRegistrar struct {
	inner *SaleRegistrar

	mu     sync.RWMutex
	closed bool
	queue  chan domain.Sale
	wg     sync.WaitGroup
}

// NewAsyncRegistrar inicia o worker. size <= 0 usa 100.
func NewAsyncRegistrar(inner *SaleRegistrar, size int) *AsyncRegistrar {
	if size <= 0 {
		size = 100
	}
	a := &AsyncRegistrar{inner: inner, queue: make(chan domain.Sale, size)}
	a.wg.Add(1)
	go a.worker()
	return a
}

func (a *AsyncRegistrar) worker() {
	defer a.wg.Done()
	for sale := range a.queue {
		a.inner.RegisterSale(context.Background(), sale)
	}
}

// RegisterSale enfileira a venda. Com a fila cheia, despacha numa goroutine
// própria; depois de Close, executa de forma síncrona.
func (a *AsyncRegistrar) RegisterSale(ctx context.Context, sale domain.Sale) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.inner.RegisterSale(context.WithoutCancel(ctx), sale)
		return
	}

	select {
	case a.queue <- sale:
	default:
		a.inner.logf("[registrar] queue full, dispatching intent=%s directly", sale.IntentID)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.inner.RegisterSale(context.Background(), sale)
		}()
	}
}

// Close drena a fila e espera os envios em andamento.
func (a *AsyncRegistrar) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
