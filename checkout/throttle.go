package checkout

import (
	"net/http"
	"time"
)

// Buckets é o token bucket por chave (ver infra.BucketStore).
type Buckets interface {
	Allow(key string) (bool, time.Duration)
}

type ThrottleOptions struct {
	Buckets             Buckets
	KeyFn               KeyFunc
	AddRateLimitHeaders bool
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

// ThrottleMiddleware segura rajadas por IP antes de qualquer trabalho do gate.
// Não grava tentativas: é proteção do serviço, não regra antifraude.
func ThrottleMiddleware(opts ThrottleOptions) func(next http.Handler) http.Handler {
	if opts.Buckets == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.KeyFn == nil {
		opts.KeyFn = ClientIPFunc("", false)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			if opts.AddRateLimitHeaders {
				if ri, ok := opts.Buckets.(rateInfo); ok {
					w.Header().Set("X-RateLimit-RPS", formatFloat(ri.RPS()))
					w.Header().Set("X-RateLimit-Burst", formatInt(ri.Burst()))
				}
			}

			ok, wait := opts.Buckets.Allow(key)
			if !ok {
				w.Header().Set("Retry-After", formatInt(retryAfterSeconds(wait)))
				respondJSON(w, http.StatusTooManyRequests, map[string]any{
					"rateLimited": true,
					"error":       msgRateLimited,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
