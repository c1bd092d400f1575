package infra

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"checkout-gate/checkout/domain"
)

// PostgresAttemptStore é o AttemptStore durável, compartilhado por todas as
// instâncias. A tabela só recebe INSERT.
type PostgresAttemptStore struct {
	db *sql.DB
}

func NewPostgresAttemptStore(db *sql.DB) *PostgresAttemptStore {
	return &PostgresAttemptStore{db: db}
}

// querier é o subconjunto comum entre *sql.DB e *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const countsQuery = `
SELECT
    COUNT(*) FILTER (WHERE ip = $1),
    COUNT(DISTINCT card_last4) FILTER (WHERE ip = $1 AND attempt_type = 'payment'),
    COALESCE(BOOL_OR(ip = $1 AND attempt_type = 'payment' AND card_last4 = $3), false),
    COUNT(*) FILTER (WHERE email = $2),
    COUNT(DISTINCT card_last4) FILTER (WHERE email = $2 AND attempt_type = 'payment'),
    COALESCE(BOOL_OR(email = $2 AND attempt_type = 'payment' AND card_last4 = $3), false),
    COUNT(*) FILTER (WHERE card_last4 = $3)
FROM payment_attempts
WHERE created_at >= $4
  AND (ip = $1 OR email = $2 OR card_last4 = $3)`

const insertAttempt = `
INSERT INTO payment_attempts (id, ip, email, card_last4, attempt_type, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func counts(ctx context.Context, q querier, id domain.Identity, since time.Time) (domain.WindowCounts, error) {
	var c domain.WindowCounts
	err := q.QueryRowContext(ctx, countsQuery,
		nullable(id.IP), nullable(id.Email), nullable(id.CardFingerprint), since.UTC(),
	).Scan(&c.IP, &c.IPCards, &c.IPSeenCard, &c.Email, &c.EmailCards, &c.EmailSeenCard, &c.Card)
	if err != nil {
		return domain.WindowCounts{}, fmt.Errorf("count attempts: %w", err)
	}
	return c, nil
}

func insert(ctx context.Context, q querier, rec domain.AttemptRecord) error {
	_, err := q.ExecContext(ctx, insertAttempt,
		rec.ID, rec.IP, nullable(rec.Email), nullable(rec.CardFingerprint), string(rec.Kind), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *PostgresAttemptStore) Counts(ctx context.Context, id domain.Identity, since time.Time) (domain.WindowCounts, error) {
	return counts(ctx, s.db, id, since)
}

func (s *PostgresAttemptStore) Append(ctx context.Context, rec domain.AttemptRecord) error {
	if !rec.Kind.Valid() {
		return domain.NewValidationError("kind", "invalid attempt kind")
	}
	return insert(ctx, s.db, rec)
}

// Admit serializa tentativas que compartilham qualquer chave de identidade
// com pg_advisory_xact_lock. As chaves são travadas em ordem para evitar
// deadlock entre transações que se sobrepõem em mais de uma chave.
func (s *PostgresAttemptStore) Admit(ctx context.Context, rec domain.AttemptRecord, p domain.Policy) (domain.Decision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, k := range lockKeys(rec.Identity()) {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
			return domain.Decision{}, fmt.Errorf("advisory lock: %w", err)
		}
	}

	c, err := counts(ctx, tx, rec.Identity(), rec.CreatedAt.Add(-p.Window))
	if err != nil {
		return domain.Decision{}, err
	}
	dec := p.Evaluate(rec.Identity(), c)

	rec.Kind = domain.AttemptPayment
	if !dec.Allowed {
		rec.Kind = domain.AttemptBlocked
	}
	if err := insert(ctx, tx, rec); err != nil {
		return domain.Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, fmt.Errorf("commit: %w", err)
	}
	return dec, nil
}

func lockKeys(id domain.Identity) []string {
	keys := make([]string, 0, 3)
	if id.IP != "" {
		keys = append(keys, "attempt:ip:"+id.IP)
	}
	if id.Email != "" {
		keys = append(keys, "attempt:email:"+id.Email)
	}
	if id.CardFingerprint != "" {
		keys = append(keys, "attempt:card:"+id.CardFingerprint)
	}
	sort.Strings(keys)
	return keys
}

// PostgresSeenSet usa registered_sales como conjunto de vendas já enviadas.
type PostgresSeenSet struct {
	db *sql.DB
}

func NewPostgresSeenSet(db *sql.DB) *PostgresSeenSet {
	return &PostgresSeenSet{db: db}
}

func (s *PostgresSeenSet) Claim(ctx context.Context, intentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO registered_sales (charge_id) VALUES ($1) ON CONFLICT (charge_id) DO NOTHING`, intentID)
	if err != nil {
		return false, fmt.Errorf("claim sale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim sale: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresSeenSet) Release(ctx context.Context, intentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM registered_sales WHERE charge_id = $1`, intentID); err != nil {
		return fmt.Errorf("release sale: %w", err)
	}
	return nil
}
