package main

import (
	"context"
	"errors"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"foodbridge/internal/config"
	"foodbridge/internal/feed"
	"foodbridge/internal/httpapi"
	"foodbridge/internal/hub"
	"foodbridge/internal/notifier"
	"foodbridge/internal/reminder"
	"foodbridge/internal/router"
	"foodbridge/internal/session"
	"foodbridge/internal/store"
	"foodbridge/internal/store/memory"
	"foodbridge/internal/store/postgres"
	"foodbridge/internal/telemetry"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const feedConsumer = "realtime-router"

func main() {
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatalf("AUTH_JWT_SECRET is required")
	}
	shutdownTelemetry := telemetry.Setup("realtime-service", telemetry.Options{
		Endpoint: cfg.OTLPEndpoint,
		Insecure: cfg.OTLPInsecure,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st, closeStore := openStore(cfg)
	defer closeStore()

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	notifications := notifier.New(st, st, notifier.Options{
		Timeout:   cfg.NotifTimeout,
		Providers: notifier.BuildProviders(cfg, st),
	})
	if err := notifications.Initialize(ctx); err != nil {
		log.Printf("notifier init error: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := notifications.Teardown(ctx); err != nil {
			log.Printf("notifier teardown error: %v", err)
		}
	}()

	reminders := reminder.New(st, notifications, reminder.Options{Lead: cfg.ReminderLead})
	loadCtx, cancelLoad := context.WithTimeout(ctx, 10*time.Second)
	if err := reminders.Load(loadCtx, st); err != nil {
		log.Printf("reminder load error: %v", err)
	}
	cancelLoad()
	defer reminders.Stop()

	h := hub.New()
	rt := router.New(router.Options{
		Dedup:       newDeduper(cfg),
		Notifier:    notifications,
		Reminders:   reminders,
		Broadcaster: h,
	})

	verifier := session.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	auth := session.NewAuthenticator(verifier, session.NewResolver(st, cfg.RoleCacheTTL, cfg.RoleResolveTimeout))
	authorize := hub.ScopeAuthorizer(auth, st)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/realtime/", hub.SockJSHandler(h, "/realtime", authorize))
	mux.Handle("/ws", hub.WebSocketHandler(h, authorize))

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "realtime-service")
	server := &http.Server{
		Addr:        ":" + cfg.RealtimePort,
		Handler:     otelHandler,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("realtime-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		events := feed.Stream(ctx, st, feed.Options{
			Consumer:     feedConsumer,
			PollInterval: cfg.PollInterval,
			BatchSize:    cfg.BatchSize,
			Follow:       true,
		})
		if err := rt.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("router stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancelRun()
	<-done
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// newDeduper shares the dedup window through Redis when configured, so
// several realtime instances do not notify twice for one transition.
func newDeduper(cfg config.Config) router.Deduper {
	window := cfg.DedupWindow
	if window <= 0 {
		window = router.DefaultDedupWindow
	}
	if cfg.RedisAddr == "" {
		return router.NewMemoryDeduper(window)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("redis unavailable addr=%s error=%v, using in-process dedup", cfg.RedisAddr, err)
		_ = client.Close()
		return router.NewMemoryDeduper(window)
	}
	log.Printf("router dedup via redis addr=%s window=%s", cfg.RedisAddr, window)
	return router.NewRedisDeduper(client, window)
}

func openStore(cfg config.Config) (store.Store, func()) {
	if cfg.StoreKind == "memory" {
		log.Printf("store=memory, the feed only sees events written by this process")
		return memory.New(memory.Options{}), func() {}
	}
	if cfg.Migrations {
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	return store.WithReadRetry(postgres.NewStore(pool), 0), pool.Close
}
