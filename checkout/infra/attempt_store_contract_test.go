package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"checkout-gate/checkout/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uniqueIdentity evita colisão entre subtestes que compartilham o mesmo banco.
func uniqueIdentity(card string) domain.Identity {
	tag := uuid.NewString()[:8]
	return domain.Identity{IP: "198.51.100." + tag, Email: tag + "@example.com", CardFingerprint: card + tag[:2]}
}

// runAttemptStoreContract exercita as mesmas propriedades em qualquer backend.
func runAttemptStoreContract(t *testing.T, store domain.AttemptStore) {
	p := domain.DefaultPolicy()

	t.Run("counts include both kinds but distinct cards only payments", func(t *testing.T) {
		ctx := context.Background()
		base := uniqueIdentity("11")
		now := time.Now().UTC()

		pay := domain.NewAttemptRecord(base, domain.AttemptPayment, now.Add(-2*time.Minute))
		blocked := domain.NewAttemptRecord(domain.Identity{IP: base.IP, Email: base.Email, CardFingerprint: "other"}, domain.AttemptBlocked, now.Add(-time.Minute))
		old := domain.NewAttemptRecord(base, domain.AttemptPayment, now.Add(-30*time.Minute))
		for _, r := range []domain.AttemptRecord{pay, blocked, old} {
			require.NoError(t, store.Append(ctx, r))
		}

		c, err := store.Counts(ctx, base, now.Add(-p.Window))
		require.NoError(t, err)
		assert.Equal(t, 2, c.IP)
		assert.Equal(t, 1, c.IPCards)
		assert.True(t, c.IPSeenCard)
		assert.Equal(t, 2, c.Email)
		assert.Equal(t, 1, c.EmailCards)
		assert.True(t, c.EmailSeenCard)
		assert.Equal(t, 1, c.Card)
	})

	t.Run("admit denies third attempt on same card", func(t *testing.T) {
		ctx := context.Background()
		id := uniqueIdentity("42")
		now := time.Now().UTC()

		for i := 0; i < 2; i++ {
			dec, err := store.Admit(ctx, domain.NewAttemptRecord(id, domain.AttemptPayment, now.Add(time.Duration(i)*time.Second)), p)
			require.NoError(t, err)
			require.True(t, dec.Allowed)
		}
		dec, err := store.Admit(ctx, domain.NewAttemptRecord(id, domain.AttemptPayment, now.Add(2*time.Second)), p)
		require.NoError(t, err)
		assert.False(t, dec.Allowed)
		assert.Equal(t, domain.ReasonCardLimit, dec.Reason)

		c, err := store.Counts(ctx, id, now.Add(-p.Window))
		require.NoError(t, err)
		assert.Equal(t, 3, c.Card, "blocked record must be counted")
	})

	t.Run("admit at ceiling minus one lets exactly one through", func(t *testing.T) {
		ctx := context.Background()
		id := uniqueIdentity("77")
		now := time.Now().UTC()

		dec, err := store.Admit(ctx, domain.NewAttemptRecord(id, domain.AttemptPayment, now), p)
		require.NoError(t, err)
		require.True(t, dec.Allowed)

		var wg sync.WaitGroup
		var mu sync.Mutex
		allowed := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				dec, err := store.Admit(ctx, domain.NewAttemptRecord(id, domain.AttemptPayment, time.Now().UTC()), p)
				if err != nil && !errors.Is(err, domain.ErrStoreContention) {
					t.Errorf("admit: %v", err)
					return
				}
				if err == nil && dec.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, allowed)
	})
}

func TestMemoryAttemptStore_Contract(t *testing.T) {
	runAttemptStoreContract(t, NewMemoryAttemptStore())
}
