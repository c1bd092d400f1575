package infra

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkout-gate/checkout/domain"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// RedisAttemptStore mantém o log de tentativas como sorted sets (sliding log).
//
// Por chave de identidade:
//   - <prefix>:ip:<h>, :email:<h>, :card:<h>: member=id do registro, score=unix ms
//   - <prefix>:ip-cards:<h>, :email-cards:<h>: member=cartão, score=último uso em
//     registro "payment"
//
// As chaves carregam o hash blake2b do valor, nunca o email ou IP em claro.
type RedisAttemptStore struct {
	rdb *redis.Client

	prefix     string
	maxRetries int
}

type RedisAttemptOption func(*RedisAttemptStore)

func WithAttemptPrefix(prefix string) RedisAttemptOption {
	return func(s *RedisAttemptStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithMaxRetries define quantas vezes Admit repete a transação otimista
// antes de devolver domain.ErrStoreContention.
func WithMaxRetries(n int) RedisAttemptOption {
	return func(s *RedisAttemptStore) { s.maxRetries = n }
}

func NewRedisAttemptStore(rdb *redis.Client, opts ...RedisAttemptOption) *RedisAttemptStore {
	s := &RedisAttemptStore{
		rdb:        rdb,
		prefix:     "checkout:attempts",
		maxRetries: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 1
	}
	return s
}

type attemptKeys struct {
	ip, ipCards       string
	email, emailCards string
	card              string
}

func keyHash(v string) string {
	sum := blake2b.Sum256([]byte(v))
	return hex.EncodeToString(sum[:16])
}

func (s *RedisAttemptStore) keys(id domain.Identity) attemptKeys {
	var k attemptKeys
	if id.IP != "" {
		h := keyHash(id.IP)
		k.ip = s.prefix + ":ip:" + h
		k.ipCards = s.prefix + ":ip-cards:" + h
	}
	if id.Email != "" {
		h := keyHash(id.Email)
		k.email = s.prefix + ":email:" + h
		k.emailCards = s.prefix + ":email-cards:" + h
	}
	if id.CardFingerprint != "" {
		k.card = s.prefix + ":card:" + keyHash(id.CardFingerprint)
	}
	return k
}

func (k attemptKeys) all() []string {
	out := make([]string, 0, 5)
	for _, key := range []string{k.ip, k.ipCards, k.email, k.emailCards, k.card} {
		if key != "" {
			out = append(out, key)
		}
	}
	return out
}

func msScore(t time.Time) float64 { return float64(t.UnixMilli()) }

// pipelinedFunc é a assinatura comum de (*redis.Client).Pipelined e
// (*redis.Tx).Pipelined; dentro do WATCH a leitura precisa usar a conexão da Tx.
type pipelinedFunc func(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)

func (s *RedisAttemptStore) readCounts(ctx context.Context, pipelined pipelinedFunc, id domain.Identity, since time.Time) (domain.WindowCounts, error) {
	k := s.keys(id)
	from := strconv.FormatInt(since.UnixMilli(), 10)
	card := id.CardFingerprint

	var ip, ipCards, email, emailCards, cardCount *redis.IntCmd
	var ipSeen, emailSeen *redis.FloatCmd

	_, err := pipelined(ctx, func(pipe redis.Pipeliner) error {
		if k.ip != "" {
			ip = pipe.ZCount(ctx, k.ip, from, "+inf")
			ipCards = pipe.ZCount(ctx, k.ipCards, from, "+inf")
			if card != "" {
				ipSeen = pipe.ZScore(ctx, k.ipCards, card)
			}
		}
		if k.email != "" {
			email = pipe.ZCount(ctx, k.email, from, "+inf")
			emailCards = pipe.ZCount(ctx, k.emailCards, from, "+inf")
			if card != "" {
				emailSeen = pipe.ZScore(ctx, k.emailCards, card)
			}
		}
		if k.card != "" {
			cardCount = pipe.ZCount(ctx, k.card, from, "+inf")
		}
		return nil
	})
	// ZSCORE de membro ausente devolve redis.Nil; é "não visto", não falha.
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.WindowCounts{}, fmt.Errorf("read counts: %w", err)
	}

	seen := func(cmd *redis.FloatCmd) bool {
		if cmd == nil {
			return false
		}
		score, err := cmd.Result()
		return err == nil && score >= float64(since.UnixMilli())
	}
	val := func(cmd *redis.IntCmd) int {
		if cmd == nil {
			return 0
		}
		return int(cmd.Val())
	}

	return domain.WindowCounts{
		IP:            val(ip),
		IPCards:       val(ipCards),
		IPSeenCard:    seen(ipSeen),
		Email:         val(email),
		EmailCards:    val(emailCards),
		EmailSeenCard: seen(emailSeen),
		Card:          val(cardCount),
	}, nil
}

// writeRecord enfileira a gravação do registro e o corte da janela em cada chave.
func (s *RedisAttemptStore) writeRecord(ctx context.Context, pipe redis.Pipeliner, rec domain.AttemptRecord, window time.Duration) {
	k := s.keys(rec.Identity())
	score := msScore(rec.CreatedAt)
	cutoff := "(" + strconv.FormatInt(rec.CreatedAt.Add(-window).UnixMilli(), 10)
	ttl := window + time.Minute

	add := func(key, member string, gt bool) {
		if key == "" {
			return
		}
		z := redis.Z{Score: score, Member: member}
		if gt {
			pipe.ZAddGT(ctx, key, z)
		} else {
			pipe.ZAdd(ctx, key, z)
		}
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
		pipe.Expire(ctx, key, ttl)
	}

	add(k.ip, rec.ID, false)
	add(k.email, rec.ID, false)
	add(k.card, rec.ID, false)
	if rec.Kind == domain.AttemptPayment && rec.CardFingerprint != "" {
		add(k.ipCards, rec.CardFingerprint, true)
		add(k.emailCards, rec.CardFingerprint, true)
	}
}

func (s *RedisAttemptStore) Counts(ctx context.Context, id domain.Identity, since time.Time) (domain.WindowCounts, error) {
	return s.readCounts(ctx, s.rdb.Pipelined, id, since)
}

// Append grava sem avaliar. Sem a política, a janela de corte usa o padrão.
func (s *RedisAttemptStore) Append(ctx context.Context, rec domain.AttemptRecord) error {
	if !rec.Kind.Valid() {
		return domain.NewValidationError("kind", "invalid attempt kind")
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.writeRecord(ctx, pipe, rec, domain.DefaultPolicy().Window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

// Admit lê e grava sob WATCH/MULTI. Se outra instância alterar alguma das
// chaves no meio, a transação é descartada e repetida.
func (s *RedisAttemptStore) Admit(ctx context.Context, rec domain.AttemptRecord, p domain.Policy) (domain.Decision, error) {
	id := rec.Identity()
	watched := s.keys(id).all()
	since := rec.CreatedAt.Add(-p.Window)

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var dec domain.Decision
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			c, err := s.readCounts(ctx, tx.Pipelined, id, since)
			if err != nil {
				return err
			}
			dec = p.Evaluate(id, c)

			out := rec
			out.Kind = domain.AttemptPayment
			if !dec.Allowed {
				out.Kind = domain.AttemptBlocked
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.writeRecord(ctx, pipe, out, p.Window)
				return nil
			})
			return err
		}, watched...)

		switch {
		case err == nil:
			return dec, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return domain.Decision{}, err
		}
	}
	return domain.Decision{}, domain.ErrStoreContention
}

// RedisSeenSet deduplica vendas com SETNX + TTL.
type RedisSeenSet struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSeenSet(rdb *redis.Client, prefix string, ttl time.Duration) *RedisSeenSet {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "checkout:sales"
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisSeenSet{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisSeenSet) Claim(ctx context.Context, intentID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.prefix+":"+intentID, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim sale: %w", err)
	}
	return ok, nil
}

func (s *RedisSeenSet) Release(ctx context.Context, intentID string) error {
	if err := s.rdb.Del(ctx, s.prefix+":"+intentID).Err(); err != nil {
		return fmt.Errorf("release sale: %w", err)
	}
	return nil
}
