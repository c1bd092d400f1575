// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - PostgresAttemptStore / RedisAttemptStore / MemoryAttemptStore: log de tentativas
//   - PostgresSeenSet / RedisSeenSet / MemorySeenSet: deduplicação de vendas
//   - BucketStore: token bucket por chave usando golang.org/x/time/rate
//   - ChanPool: semáforo simples para limitar chamadas ao processador
//   - StripeProcessor e UtmifyClient: clientes dos sistemas externos
package infra
