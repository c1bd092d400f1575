package application

import (
	"context"
	"errors"
	"log"
	"time"

	"checkout-gate/checkout/domain"
)

// RateLimiter concentra a regra de aplicação do gate antifraude.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// O AttemptStore é a única autoridade; nada vindo do cliente entra na conta.
type RateLimiter struct {
	Store  domain.AttemptStore
	Policy domain.Policy
	Stats  domain.StatsStore
	Logger *log.Logger

	// BusyRetryAfter é o Retry-After devolvido quando o store esgota as
	// retentativas por contenção.
	BusyRetryAfter time.Duration

	Now func() time.Time
}

func (l RateLimiter) policy() domain.Policy {
	if l.Policy.Window <= 0 {
		return domain.DefaultPolicy()
	}
	return l.Policy
}

func (l RateLimiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l RateLimiter) logf(format string, args ...any) {
	if l.Logger != nil {
		l.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Check avalia a identidade sem gravar nada.
func (l RateLimiter) Check(ctx context.Context, id domain.Identity) domain.Decision {
	if l.Store == nil {
		return domain.Allow()
	}
	p := l.policy()
	id = id.Normalize()

	counts, err := l.Store.Counts(ctx, id, l.now().Add(-p.Window))
	if err != nil {
		l.logf("[gate] check fail-open ip=%s: %v", id.IP, err)
		return domain.Allow()
	}
	return p.Evaluate(id, counts)
}

// RecordAttempt grava a tentativa incondicionalmente.
func (l RateLimiter) RecordAttempt(ctx context.Context, id domain.Identity, kind domain.AttemptKind) error {
	if l.Store == nil {
		return nil
	}
	if !kind.Valid() {
		return domain.NewValidationError("kind", "invalid attempt kind")
	}
	return l.Store.Append(ctx, domain.NewAttemptRecord(id, kind, l.now()))
}

// Admit avalia e grava numa única operação do store: "payment" quando libera,
// "blocked" quando nega.
//
// Store indisponível libera a tentativa (fail open) e registra o erro.
// Contenção esgotada nega com ReasonBusy, para o teto continuar valendo.
func (l RateLimiter) Admit(ctx context.Context, id domain.Identity) domain.Decision {
	if l.Store == nil {
		return domain.Allow()
	}
	now := l.now()
	rec := domain.NewAttemptRecord(id, domain.AttemptPayment, now)

	dec, err := l.Store.Admit(ctx, rec, l.policy())
	failOpen := false
	switch {
	case errors.Is(err, domain.ErrStoreContention):
		retry := l.BusyRetryAfter
		if retry <= 0 {
			retry = 1 * time.Second
		}
		dec = domain.Decision{Allowed: false, Reason: domain.ReasonBusy, RetryAfter: retry}
		l.logf("[gate] contention ip=%s email=%s card=%s", rec.IP, rec.Email, rec.CardFingerprint)
	case err != nil:
		dec = domain.Allow()
		failOpen = true
		l.logf("[gate] admit fail-open ip=%s email=%s card=%s: %v", rec.IP, rec.Email, rec.CardFingerprint, err)
	case !dec.Allowed:
		l.logf("[gate] denied reason=%s ip=%s email=%s card=%s", dec.Reason, rec.IP, rec.Email, rec.CardFingerprint)
	}

	if l.Stats != nil {
		ev := domain.GateEvent{Allowed: dec.Allowed, Reason: dec.Reason, FailOpen: failOpen, At: now}
		if err := l.Stats.Record(ctx, ev); err != nil {
			l.logf("[gate] stats: %v", err)
		}
	}
	return dec
}
