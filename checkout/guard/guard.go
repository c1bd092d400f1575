// Package guard implementa o contador de tentativas por sessão do navegador.
//
// É apenas UX: dá feedback imediato (cooldown, bloqueio) sem ida à rede.
// O servidor nunca recebe nem confia nestes contadores.
package guard

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type Config struct {
	MaxAttemptsPerCard int
	MaxTotalAttempts   int
	MaxDifferentCards  int
	Lockout            time.Duration
	Cooldown           time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttemptsPerCard: 2,
		MaxTotalAttempts:   3,
		MaxDifferentCards:  3,
		Lockout:            5 * time.Minute,
		Cooldown:           35 * time.Second,
	}
}

// State é o que vai para o session storage.
type State struct {
	TotalAttempts  int            `json:"totalAttempts"`
	AttemptsByCard map[string]int `json:"attemptsByCard"`
	LockedUntil    *time.Time     `json:"lockedUntil,omitempty"`
	LastAttemptAt  *time.Time     `json:"lastAttemptAt,omitempty"`
}

// UniqueCards é sempre derivado das chaves de AttemptsByCard.
func (s State) UniqueCards() []string {
	out := make([]string, 0, len(s.AttemptsByCard))
	for card := range s.AttemptsByCard {
		out = append(out, card)
	}
	sort.Strings(out)
	return out
}

func (s State) clone() State {
	out := State{TotalAttempts: s.TotalAttempts, AttemptsByCard: make(map[string]int, len(s.AttemptsByCard))}
	for k, v := range s.AttemptsByCard {
		out.AttemptsByCard[k] = v
	}
	if s.LockedUntil != nil {
		t := *s.LockedUntil
		out.LockedUntil = &t
	}
	if s.LastAttemptAt != nil {
		t := *s.LastAttemptAt
		out.LastAttemptAt = &t
	}
	return out
}

// Status é a foto usada para desenhar o botão e a contagem regressiva.
type Status struct {
	Blocked           bool
	CooldownRemaining time.Duration
	LockoutRemaining  time.Duration
	AttemptsLeft      int
}

// Guard protege o State com mutex para que Watch rode junto dos cliques.
type Guard struct {
	mu    sync.Mutex
	cfg   Config
	state State
	now   func() time.Time
}

type Option func(*Guard)

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func New(cfg Config, opts ...Option) *Guard {
	g := &Guard{cfg: cfg, state: State{AttemptsByCard: map[string]int{}}, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Restore recria o guard a partir do JSON salvo. Estado ilegível começa do zero.
func Restore(cfg Config, data []byte, opts ...Option) *Guard {
	g := New(cfg, opts...)
	var st State
	if len(data) == 0 || json.Unmarshal(data, &st) != nil {
		return g
	}
	if st.AttemptsByCard == nil {
		st.AttemptsByCard = map[string]int{}
	}
	g.state = st
	return g
}

func (g *Guard) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Snapshot())
}

func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.clone()
}

// RecordAttempt registra a tentativa e devolve se ela pode seguir.
//
// Qualquer negação (re)arma o bloqueio por Lockout e não incrementa contadores.
// Bloqueio vencido é limpo, mas os contadores continuam: só Clear zera.
func (g *Guard) RecordAttempt(card string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st := &g.state

	if st.LockedUntil != nil && !now.Before(*st.LockedUntil) {
		st.LockedUntil = nil
	}

	deny := func() bool {
		until := now.Add(g.cfg.Lockout)
		st.LockedUntil = &until
		return false
	}

	if st.LockedUntil != nil {
		return deny()
	}
	if st.LastAttemptAt != nil && now.Sub(*st.LastAttemptAt) < g.cfg.Cooldown {
		return deny()
	}
	byCard, seen := st.AttemptsByCard[card]
	if !seen && len(st.AttemptsByCard)+1 > g.cfg.MaxDifferentCards {
		return deny()
	}
	if byCard+1 > g.cfg.MaxAttemptsPerCard {
		return deny()
	}
	if st.TotalAttempts >= g.cfg.MaxTotalAttempts {
		return deny()
	}

	st.TotalAttempts++
	st.AttemptsByCard[card] = byCard + 1
	last := now
	st.LastAttemptAt = &last
	return true
}

// Clear zera tudo. Chamado apenas depois de sucesso confirmado.
func (g *Guard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = State{AttemptsByCard: map[string]int{}}
}

func (g *Guard) IsBlocked() bool {
	return g.Status().Blocked
}

func (g *Guard) CooldownRemaining() time.Duration {
	return g.Status().CooldownRemaining
}

func (g *Guard) LockoutRemaining() time.Duration {
	return g.Status().LockoutRemaining
}

func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusLocked(g.now())
}

func (g *Guard) statusLocked(now time.Time) Status {
	var s Status
	if u := g.state.LockedUntil; u != nil && now.Before(*u) {
		s.LockoutRemaining = u.Sub(now)
	}
	if l := g.state.LastAttemptAt; l != nil {
		if d := l.Add(g.cfg.Cooldown).Sub(now); d > 0 {
			s.CooldownRemaining = d
		}
	}
	s.Blocked = s.LockoutRemaining > 0 || s.CooldownRemaining > 0
	if left := g.cfg.MaxTotalAttempts - g.state.TotalAttempts; left > 0 {
		s.AttemptsLeft = left
	}
	return s
}

// Watch chama fn a cada intervalo com o Status atual até o ctx encerrar,
// e para sozinho quando não há mais nada em contagem.
func (g *Guard) Watch(ctx context.Context, every time.Duration, fn func(Status)) {
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()

	fn(g.Status())
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := g.Status()
			fn(st)
			if !st.Blocked {
				return
			}
		}
	}
}
