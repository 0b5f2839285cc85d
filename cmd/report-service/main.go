package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"foodbridge/internal/config"
	"foodbridge/internal/httpapi"
	"foodbridge/internal/lifecycle"
	"foodbridge/internal/notifier"
	"foodbridge/internal/session"
	"foodbridge/internal/store"
	"foodbridge/internal/store/memory"
	"foodbridge/internal/store/postgres"
	"foodbridge/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Fatalf("AUTH_JWT_SECRET is required")
	}
	shutdownTelemetry := telemetry.Setup("report-service", telemetry.Options{
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

	verifier := session.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	auth := session.NewAuthenticator(verifier, session.NewResolver(st, cfg.RoleCacheTTL, cfg.RoleResolveTimeout))
	reports := lifecycle.NewService(st, st, lifecycle.Options{})
	handler := httpapi.NewHandler(reports, st, auth, httpapi.Options{
		Push:           notifier.New(st, st, notifier.Options{Timeout: cfg.NotifTimeout}),
		OfflineVersion: cfg.OfflineCacheVersion,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:       cfg.RateLimitPerMinute,
		IPBurst:           cfg.RateLimitBurst,
		IdentityPerMinute: cfg.RateLimitPerMinute,
		IdentityBurst:     cfg.RateLimitBurst,
	})

	routes := httpapi.AuthMiddleware(auth, limiter.Middleware(handler.Routes()))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(routes), "report-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("report-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func openStore(cfg config.Config) (store.Store, func()) {
	if cfg.StoreKind == "memory" {
		log.Printf("store=memory, data is lost on restart")
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
