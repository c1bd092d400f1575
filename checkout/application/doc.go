// Package application contém os casos de uso do checkout: o RateLimiter
// (política sobre o AttemptStore), o PaymentOrchestrator e o SaleRegistrar.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: RateLimiter.Admit(ctx, id) retorna uma Decision (allow/deny + retry-after)
// e já grava a tentativa.
package application
