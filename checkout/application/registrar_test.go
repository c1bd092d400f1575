package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"checkout-gate/checkout/domain"
	"checkout-gate/checkout/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSale(id string) domain.Sale {
	return domain.Sale{
		IntentID:    id,
		Customer:    domain.Customer{Name: "Ana", Email: "ana@example.com"},
		AmountCents: 1590,
		Currency:    "USD",
		ProductName: "11200 Diamantes Free Fire",
		ApprovedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaleRegistrar_RegistersOncePerIntent(t *testing.T) {
	ctx := context.Background()
	sent := &recordingAttribution{}
	r := &SaleRegistrar{Seen: infra.NewMemorySeenSet(time.Hour), Client: sent, Logger: quietLogger}

	first, err := r.Register(ctx, sampleSale("pi_1"))
	require.NoError(t, err)
	assert.True(t, first)

	again, err := r.Register(ctx, sampleSale("pi_1"))
	require.NoError(t, err)
	assert.False(t, again)

	_, err = r.Register(ctx, sampleSale("pi_2"))
	require.NoError(t, err)
	assert.Equal(t, 2, sent.count())
}

func TestSaleRegistrar_ConcurrentPathsRegisterOnce(t *testing.T) {
	ctx := context.Background()
	sent := &recordingAttribution{}
	r := &SaleRegistrar{Seen: infra.NewMemorySeenSet(time.Hour), Client: sent, Logger: quietLogger}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RegisterSale(ctx, sampleSale("pi_race"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, sent.count())
}

func TestSaleRegistrar_ReleasesClaimWhenSendFails(t *testing.T) {
	ctx := context.Background()
	sent := &recordingAttribution{err: errors.New("utmify 503")}
	r := &SaleRegistrar{Seen: infra.NewMemorySeenSet(time.Hour), Client: sent, Logger: quietLogger}

	_, err := r.Register(ctx, sampleSale("pi_retry"))
	require.Error(t, err)

	sent.mu.Lock()
	sent.err = nil
	sent.mu.Unlock()

	ok, err := r.Register(ctx, sampleSale("pi_retry"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, sent.count())
}

func TestSaleRegistrar_NoClientIsNoop(t *testing.T) {
	r := &SaleRegistrar{Logger: quietLogger}
	ok, err := r.Register(context.Background(), sampleSale("pi_x"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestAsyncRegistrar_CloseDrainsQueue(t *testing.T) {
	sent := &recordingAttribution{}
	inner := &SaleRegistrar{Seen: infra.NewMemorySeenSet(time.Hour), Client: sent, Logger: quietLogger}
	a := NewAsyncRegistrar(inner, 2)

	for i := 0; i < 10; i++ {
		a.RegisterSale(context.Background(), sampleSale(fmt.Sprintf("pi_%d", i)))
	}
	a.Close()
	assert.Equal(t, 10, sent.count())

	// depois de Close o envio é síncrono
	a.RegisterSale(context.Background(), sampleSale("pi_late"))
	assert.Equal(t, 11, sent.count())
	a.Close()
}

func TestAsyncRegistrar_CanceledRequestContextStillSends(t *testing.T) {
	sent := &recordingAttribution{}
	a := NewAsyncRegistrar(&SaleRegistrar{Client: sent, Logger: quietLogger}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	a.RegisterSale(ctx, sampleSale("pi_ctx"))
	cancel()
	a.Close()

	assert.Equal(t, 1, sent.count())
}
