package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"checkout-gate/checkout"
	"checkout-gate/checkout/application"
	"checkout-gate/checkout/domain"
	"checkout-gate/checkout/infra"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sobe a API de pagamentos com o gate",
	Long: `Sobe a API HTTP (POST /api/payments, /api/payments/confirm,
/api/webhooks/stripe, GET /api/ready).

O backend do AttemptStore vem de STORE_BACKEND (memory, postgres, redis).

Examples:
  STRIPE_SECRET_KEY=sk_test_... checkout-gate serve
  STORE_BACKEND=postgres DATABASE_URL=postgres://... checkout-gate serve --migrate`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "aplica o schema antes de subir (STORE_BACKEND=postgres)")
}

// backends reúne o que depende do STORE_BACKEND.
type backends struct {
	attempts domain.AttemptStore
	seen     domain.SeenSet
	stats    domain.StatsStore

	db  *sql.DB
	rdb *redis.Client

	memAttempts *infra.MemoryAttemptStore
	memSeen     *infra.MemorySeenSet
	memStats    *infra.MemoryStatsStore
}

func (b *backends) ready(ctx context.Context) error {
	if b.db != nil {
		if err := b.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if b.rdb != nil {
		if err := b.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (b *backends) close() {
	if b.db != nil {
		_ = b.db.Close()
	}
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
}

func openBackends(ctx context.Context, cfg config) (*backends, error) {
	b := &backends{}

	if cfg.redisAddr != "" {
		b.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := b.rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			b.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	switch cfg.storeBackend {
	case backendPostgres:
		db, err := infra.OpenPostgres(ctx, cfg.databaseURL)
		if err != nil {
			b.close()
			return nil, err
		}
		b.db = db
		if serveMigrate {
			if err := infra.Migrate(ctx, db); err != nil {
				b.close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		b.attempts = infra.NewPostgresAttemptStore(db)
		b.seen = infra.NewPostgresSeenSet(db)
	case backendRedis:
		b.attempts = infra.NewRedisAttemptStore(b.rdb, infra.WithAttemptPrefix(cfg.redisPrefix+":attempts"))
		b.seen = infra.NewRedisSeenSet(b.rdb, cfg.redisPrefix+":sales", cfg.seenTTL)
	default:
		log.Println("STORE_BACKEND=memory: attempt log is per process and lost on restart")
		b.memAttempts = infra.NewMemoryAttemptStore()
		b.attempts = b.memAttempts
		b.memSeen = infra.NewMemorySeenSet(cfg.seenTTL)
		b.seen = b.memSeen
	}

	if cfg.statsEnabled {
		if b.rdb != nil {
			b.stats = infra.NewRedisStatsStore(b.rdb,
				infra.WithStatsPrefix(cfg.redisPrefix+":stats"),
				infra.WithStatsTTL(cfg.statsTTL),
			)
		} else {
			b.memStats = infra.NewMemoryStatsStore()
			b.stats = b.memStats
		}
	}
	return b, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := readConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	logger := log.Default()

	var slots domain.SlotPool
	if cfg.upstreamSlots > 0 {
		slots = infra.NewChanPool(cfg.upstreamSlots)
	}

	registrar := application.NewAsyncRegistrar(&application.SaleRegistrar{
		Seen:        b.seen,
		Client:      infra.NewUtmifyClient(cfg.utmifyURL, cfg.utmifyToken, cfg.utmifyTimeout, logger),
		Logger:      logger,
		SendTimeout: cfg.utmifyTimeout,
	}, cfg.registrarSize)
	defer registrar.Close()

	orchestrator := &application.PaymentOrchestrator{
		Limiter: application.RateLimiter{
			Store:          b.attempts,
			Policy:         cfg.policy,
			Stats:          b.stats,
			Logger:         logger,
			BusyRetryAfter: cfg.busyRetryAfter,
		},
		Processor: infra.NewStripeProcessor(infra.StripeConfig{
			SecretKey: cfg.stripeSecretKey,
			BaseURL:   cfg.stripeAPIURL,
			Timeout:   cfg.processorTimeout + 5*time.Second,
		}),
		Registrar:        registrar,
		Slots:            application.UpstreamSlots{Pool: slots, AcquireTimeout: cfg.upstreamSlotTimeout},
		ProcessorTimeout: cfg.processorTimeout,
		Logger:           logger,
	}

	keyFn := checkout.ClientIPFunc(cfg.keyHeader, cfg.trustXFF)

	var throttle func(http.Handler) http.Handler
	var buckets *infra.BucketStore
	if cfg.throttleEnabled {
		buckets = infra.NewBucketStore(cfg.throttleRPS, cfg.throttleBurst)
		throttle = checkout.ThrottleMiddleware(checkout.ThrottleOptions{
			Buckets:             buckets,
			KeyFn:               keyFn,
			AddRateLimitHeaders: cfg.addHeaders,
		})
	}

	var webhook http.Handler
	if cfg.stripeWebhookSecret != "" {
		webhook = &checkout.StripeWebhook{Secret: cfg.stripeWebhookSecret, Intents: orchestrator, Logger: logger}
	} else {
		log.Println("STRIPE_WEBHOOK_SECRET not set: /api/webhooks/stripe disabled")
	}

	router := checkout.NewRouter(checkout.RouterOptions{
		Handlers: &checkout.Handlers{
			Payments: orchestrator,
			KeyFn:    keyFn,
			Ready:    b.ready,
			Logger:   logger,
		},
		Webhook:  webhook,
		Throttle: throttle,
		Logger:   logger,
	})

	c := startJanitors(buckets, b, cfg.policy.Window)
	defer c.Stop()

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.processorTimeout*3 + 10*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	p := cfg.policy
	log.Printf("checkout-gate listening on %s", cfg.listenAddr)
	log.Printf("gate: backend=%s window=%s ip=%d email=%d card=%d cardsPerIP=%d cardsPerEmail=%d stats=%v",
		cfg.storeBackend, p.Window, p.MaxPerIP, p.MaxPerEmail, p.MaxPerCard, p.MaxCardsPerIP, p.MaxCardsPerEmail, cfg.statsEnabled)
	log.Printf("throttle: enabled=%v rps=%.3f burst=%d keyHeader=%q trustXFF=%v", cfg.throttleEnabled, cfg.throttleRPS, cfg.throttleBurst, cfg.keyHeader, cfg.trustXFF)
	log.Printf("upstream: slots=%d slotTimeout=%s processorTimeout=%s utmify=%v", cfg.upstreamSlots, cfg.upstreamSlotTimeout, cfg.processorTimeout, cfg.utmifyToken != "")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// startJanitors agenda as limpezas periódicas das estruturas em memória.
func startJanitors(buckets *infra.BucketStore, b *backends, window time.Duration) *cron.Cron {
	c := cron.New()

	if buckets != nil {
		_, _ = c.AddFunc("@every 1m", func() {
			if n := buckets.Cleanup(); n > 0 {
				log.Printf("[throttle] removed %d idle buckets (remaining %d)", n, buckets.Len())
			}
		})
	}
	if b.memAttempts != nil {
		_, _ = c.AddFunc("@every 1m", func() {
			if n := b.memAttempts.Cleanup(window); n > 0 {
				log.Printf("[gate] dropped %d attempts outside the window (remaining %d)", n, b.memAttempts.Len())
			}
		})
	}
	if b.memSeen != nil {
		_, _ = c.AddFunc("@every 10m", func() {
			if n := b.memSeen.Cleanup(); n > 0 {
				log.Printf("[registrar] expired %d seen sales", n)
			}
		})
	}
	if b.memStats != nil {
		_, _ = c.AddFunc("@every 5m", func() {
			t := b.memStats.Total()
			log.Printf("[gate] stats allowed=%d denied=%d failOpen=%d byReason=%v", t.Allowed, t.Denied, t.FailOpen, b.memStats.ByReason())
		})
	}

	c.Start()
	return c
}
