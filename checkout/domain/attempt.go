package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AttemptKind diz se o registro representa uma chamada real ao processador
// ou uma tentativa rejeitada antes disso.
type AttemptKind string

const (
	AttemptPayment AttemptKind = "payment"
	AttemptBlocked AttemptKind = "blocked"
)

func (k AttemptKind) Valid() bool {
	return k == AttemptPayment || k == AttemptBlocked
}

// Identity é a tupla de identidade avaliada pelo gate.
//
// Email e CardFingerprint vazios significam "ausente"; a chave correspondente
// simplesmente não é avaliada.
type Identity struct {
	IP              string
	Email           string
	CardFingerprint string
}

// Normalize aplica as regras de normalização (email em minúsculas, espaços
// removidos). IP vazio vira "unknown", como no fallback do extrator de chave.
func (id Identity) Normalize() Identity {
	out := Identity{
		IP:              strings.TrimSpace(id.IP),
		Email:           NormalizeEmail(id.Email),
		CardFingerprint: strings.TrimSpace(id.CardFingerprint),
	}
	if out.IP == "" {
		out.IP = "unknown"
	}
	return out
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AttemptRecord é imutável depois de gravado: só existem inserts.
type AttemptRecord struct {
	ID              string
	IP              string
	Email           string
	CardFingerprint string
	Kind            AttemptKind
	CreatedAt       time.Time
}

func NewAttemptRecord(id Identity, kind AttemptKind, at time.Time) AttemptRecord {
	id = id.Normalize()
	return AttemptRecord{
		ID:              uuid.NewString(),
		IP:              id.IP,
		Email:           id.Email,
		CardFingerprint: id.CardFingerprint,
		Kind:            kind,
		CreatedAt:       at.UTC(),
	}
}

func (r AttemptRecord) Identity() Identity {
	return Identity{IP: r.IP, Email: r.Email, CardFingerprint: r.CardFingerprint}
}
