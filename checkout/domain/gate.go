package domain

// Camada de domínio do gate.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"time"
)

// Reason identifica a regra que negou a tentativa. Nunca é exposta ao
// cliente final; serve para logs e estatísticas.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonIPLimit    Reason = "ip_limit"
	ReasonIPCards    Reason = "ip_distinct_cards"
	ReasonEmailLimit Reason = "email_limit"
	ReasonEmailCards Reason = "email_distinct_cards"
	ReasonCardLimit  Reason = "card_limit"
	ReasonBusy       Reason = "busy"
)

// ErrStoreContention indica que a operação atômica não conseguiu concluir
// depois de esgotar as retentativas. Não é falha de disponibilidade.
var ErrStoreContention = errors.New("attempt store: contention retries exhausted")

type Decision struct {
	Allowed bool
	Reason  Reason
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}

func Allow() Decision { return Decision{Allowed: true} }

// Policy reúne a janela e os tetos por chave de identidade.
type Policy struct {
	Window           time.Duration
	MaxPerIP         int
	MaxPerEmail      int
	MaxPerCard       int
	MaxCardsPerIP    int
	MaxCardsPerEmail int
}

func DefaultPolicy() Policy {
	return Policy{
		Window:           10 * time.Minute,
		MaxPerIP:         5,
		MaxPerEmail:      5,
		MaxPerCard:       2,
		MaxCardsPerIP:    3,
		MaxCardsPerEmail: 3,
	}
}

// WindowCounts são as contagens dentro da janela para uma identidade.
//
// IP/Email/Card contam registros de qualquer tipo. Os conjuntos de cartões
// distintos (IPCards/EmailCards) consideram apenas registros "payment".
type WindowCounts struct {
	IP            int
	IPCards       int
	IPSeenCard    bool
	Email         int
	EmailCards    int
	EmailSeenCard bool
	Card          int
}

// Evaluate aplica as regras na ordem IP, cartões por IP, email, cartões por
// email e cartão. A primeira violação encerra a avaliação.
func (p Policy) Evaluate(id Identity, c WindowCounts) Decision {
	deny := func(r Reason) Decision {
		return Decision{Allowed: false, Reason: r, RetryAfter: p.Window}
	}
	card := id.CardFingerprint != ""

	if id.IP != "" {
		if p.MaxPerIP > 0 && c.IP >= p.MaxPerIP {
			return deny(ReasonIPLimit)
		}
		if card && p.MaxCardsPerIP > 0 && !c.IPSeenCard && c.IPCards+1 > p.MaxCardsPerIP {
			return deny(ReasonIPCards)
		}
	}
	if id.Email != "" {
		if p.MaxPerEmail > 0 && c.Email >= p.MaxPerEmail {
			return deny(ReasonEmailLimit)
		}
		if card && p.MaxCardsPerEmail > 0 && !c.EmailSeenCard && c.EmailCards+1 > p.MaxCardsPerEmail {
			return deny(ReasonEmailCards)
		}
	}
	if card && p.MaxPerCard > 0 && c.Card >= p.MaxPerCard {
		return deny(ReasonCardLimit)
	}
	return Allow()
}

// CountWindow calcula WindowCounts a partir de registros já carregados.
// Registros anteriores a since são ignorados.
func CountWindow(records []AttemptRecord, id Identity, since time.Time) WindowCounts {
	var c WindowCounts
	ipCards := map[string]struct{}{}
	emailCards := map[string]struct{}{}

	for _, r := range records {
		if r.CreatedAt.Before(since) {
			continue
		}
		payment := r.Kind == AttemptPayment && r.CardFingerprint != ""
		if id.IP != "" && r.IP == id.IP {
			c.IP++
			if payment {
				ipCards[r.CardFingerprint] = struct{}{}
			}
		}
		if id.Email != "" && r.Email == id.Email {
			c.Email++
			if payment {
				emailCards[r.CardFingerprint] = struct{}{}
			}
		}
		if id.CardFingerprint != "" && r.CardFingerprint == id.CardFingerprint {
			c.Card++
		}
	}

	c.IPCards = len(ipCards)
	c.EmailCards = len(emailCards)
	if id.CardFingerprint != "" {
		_, c.IPSeenCard = ipCards[id.CardFingerprint]
		_, c.EmailSeenCard = emailCards[id.CardFingerprint]
	}
	return c
}

// AttemptStore é o log compartilhado de tentativas.
//
// Implementações podem usar Postgres, Redis, memória, etc. Admit é a operação
// que fecha a corrida check-then-record: avaliação e gravação acontecem numa
// única operação atômica por identidade.
type AttemptStore interface {
	// Counts devolve as contagens da identidade com CreatedAt >= since.
	Counts(ctx context.Context, id Identity, since time.Time) (WindowCounts, error)
	// Append grava o registro sem avaliar política.
	Append(ctx context.Context, rec AttemptRecord) error
	// Admit avalia a política usando rec.CreatedAt como "agora" e grava rec
	// como "payment" (permitido) ou "blocked" (negado).
	Admit(ctx context.Context, rec AttemptRecord, p Policy) (Decision, error)
}
