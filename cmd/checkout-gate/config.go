package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"checkout-gate/checkout/domain"
	"checkout-gate/checkout/infra"
)

const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

type config struct {
	listenAddr string
	keyHeader  string
	trustXFF   bool

	storeBackend  string
	databaseURL   string
	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string

	policy         domain.Policy
	busyRetryAfter time.Duration
	statsEnabled   bool
	statsTTL       time.Duration

	stripeSecretKey     string
	stripeWebhookSecret string
	stripeAPIURL        string
	processorTimeout    time.Duration
	upstreamSlots       int
	upstreamSlotTimeout time.Duration

	utmifyURL     string
	utmifyToken   string
	utmifyTimeout time.Duration
	seenTTL       time.Duration
	registrarSize int

	throttleEnabled bool
	throttleRPS     float64
	throttleBurst   int
	addHeaders      bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.keyHeader = os.Getenv("CLIENT_IP_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)

	cfg.storeBackend = strings.ToLower(getenvDefault("STORE_BACKEND", backendMemory))
	cfg.databaseURL = os.Getenv("DATABASE_URL")
	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisPrefix = getenvDefault("REDIS_PREFIX", "checkout")

	def := domain.DefaultPolicy()
	cfg.policy = domain.Policy{
		Window:           getenvDurationDefault("GATE_WINDOW", def.Window),
		MaxPerIP:         getenvIntDefault("GATE_MAX_PER_IP", def.MaxPerIP),
		MaxPerEmail:      getenvIntDefault("GATE_MAX_PER_EMAIL", def.MaxPerEmail),
		MaxPerCard:       getenvIntDefault("GATE_MAX_PER_CARD", def.MaxPerCard),
		MaxCardsPerIP:    getenvIntDefault("GATE_MAX_CARDS_PER_IP", def.MaxCardsPerIP),
		MaxCardsPerEmail: getenvIntDefault("GATE_MAX_CARDS_PER_EMAIL", def.MaxCardsPerEmail),
	}
	cfg.busyRetryAfter = getenvDurationDefault("GATE_BUSY_RETRY_AFTER", time.Second)
	cfg.statsEnabled = getenvBoolDefault("GATE_STATS_ENABLED", true)
	cfg.statsTTL = getenvDurationDefault("GATE_STATS_TTL", 24*time.Hour)

	cfg.stripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.stripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.stripeAPIURL = os.Getenv("STRIPE_API_URL")
	cfg.processorTimeout = getenvDurationDefault("PROCESSOR_TIMEOUT", 15*time.Second)
	cfg.upstreamSlots = getenvIntDefault("UPSTREAM_SLOTS", 50)
	cfg.upstreamSlotTimeout = getenvDurationDefault("UPSTREAM_SLOT_TIMEOUT", 5*time.Second)

	cfg.utmifyURL = getenvDefault("UTMIFY_API_URL", infra.DefaultUtmifyURL)
	cfg.utmifyToken = os.Getenv("UTMIFY_API_TOKEN")
	cfg.utmifyTimeout = getenvDurationDefault("UTMIFY_TIMEOUT", 10*time.Second)
	cfg.seenTTL = getenvDurationDefault("SEEN_TTL", 30*24*time.Hour)
	cfg.registrarSize = getenvIntDefault("REGISTRAR_QUEUE", 100)

	// IMPORTANTE: o throttle é contra rajadas, não é a regra antifraude.
	// O burst precisa cobrir o submit + confirm de um checkout normal.
	cfg.throttleEnabled = getenvBoolDefault("THROTTLE_ENABLED", true)
	cfg.throttleRPS = getenvFloatDefault("THROTTLE_RPS", 2)
	cfg.throttleBurst = getenvIntDefault("THROTTLE_BURST", 10)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (cfg config) validate() error {
	switch cfg.storeBackend {
	case backendMemory:
	case backendPostgres:
		if cfg.databaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	case backendRedis:
		if strings.TrimSpace(cfg.redisAddr) == "" {
			return errors.New("REDIS_ADDR is required when STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres, redis (got %q)", cfg.storeBackend)
	}

	if cfg.stripeSecretKey == "" {
		return errors.New("STRIPE_SECRET_KEY is required")
	}
	p := cfg.policy
	if p.Window <= 0 {
		return errors.New("GATE_WINDOW must be > 0")
	}
	if p.MaxPerIP <= 0 || p.MaxPerEmail <= 0 || p.MaxPerCard <= 0 || p.MaxCardsPerIP <= 0 || p.MaxCardsPerEmail <= 0 {
		return errors.New("GATE_MAX_* must be > 0")
	}
	if cfg.processorTimeout <= 0 {
		return errors.New("PROCESSOR_TIMEOUT must be > 0")
	}
	if cfg.upstreamSlots < 0 {
		return errors.New("UPSTREAM_SLOTS must be >= 0")
	}
	if cfg.registrarSize <= 0 {
		return errors.New("REGISTRAR_QUEUE must be > 0")
	}
	if cfg.throttleEnabled && (cfg.throttleRPS <= 0 || cfg.throttleBurst <= 0) {
		return errors.New("THROTTLE_RPS and THROTTLE_BURST must be > 0")
	}
	return nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
