// Package checkout fornece os adapters HTTP (gorilla/mux) do gate de pagamentos.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (RateLimiter, PaymentOrchestrator, SaleRegistrar)
//   - infra: Postgres, Redis, Stripe, UTMify, token bucket, semáforo
//   - guard: contador de tentativas do lado do navegador (só UX)
//   - checkout (este pacote): rotas, extração do IP, throttle e tradução
//     de Outcome para status/headers
//
// Fluxo de POST /api/payments:
//
//  1. Throttle por IP (token bucket) contra rajadas
//  2. Decodifica o corpo e extrai o IP do cliente
//  3. Chama o orquestrador, que passa pelo gate (AttemptStore) e pelo processador
//  4. Traduz o Outcome: 200, 202, 400, 402 ou 429 com Retry-After
//
// Variáveis de ambiente do binário (cmd/checkout-gate) controlam o comportamento,
// como GATE_WINDOW, GATE_MAX_PER_CARD, THROTTLE_RPS e UPSTREAM_SLOTS.
package checkout
