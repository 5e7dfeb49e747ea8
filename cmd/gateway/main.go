package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/llm-meter/config"
	"github.com/vnmchuo/llm-meter/internal/billing"
	"github.com/vnmchuo/llm-meter/internal/client"
	"github.com/vnmchuo/llm-meter/internal/core"
	"github.com/vnmchuo/llm-meter/internal/gate"
	"github.com/vnmchuo/llm-meter/internal/pricing"
	"github.com/vnmchuo/llm-meter/internal/provider"
	"github.com/vnmchuo/llm-meter/internal/provider/claude"
	"github.com/vnmchuo/llm-meter/internal/provider/cohere"
	"github.com/vnmchuo/llm-meter/internal/provider/gemini"
	"github.com/vnmchuo/llm-meter/internal/provider/openai"
	"github.com/vnmchuo/llm-meter/internal/proxy"
	"github.com/vnmchuo/llm-meter/internal/seeder"
	"github.com/vnmchuo/llm-meter/internal/telemetry"
	"github.com/vnmchuo/llm-meter/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("llm-meter", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init client auth
	clientStore := client.NewPostgresStore(pool)
	authMiddleware := client.NewMiddleware(clientStore, rdb)

	// 6. Init billing ledger + background maintenance
	billingStore := billing.NewPostgresStore(pool)

	requeue := billing.NewRequeue(billingStore, 256)
	requeue.Start(ctx)
	defer requeue.Stop()

	aggregator := billing.NewAggregator(billingStore, billing.AggregatorConfig{
		RetentionDays:  cfg.RetentionDays,
		HourlyRefresh:  cfg.HourlyRefresh,
		DailyRefresh:   cfg.DailyRefresh,
		MonthlyRefresh: cfg.MonthlyRefresh,
		PurgeInterval:  cfg.PurgeInterval,
	})
	aggregator.Start(ctx)
	defer aggregator.Stop()

	// 7. Init pricing
	pricingStore := pricing.NewPostgresStore(pool)
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedPricing(ctx, pricingStore)
	}
	table, err := pricingStore.LoadEnabled(ctx)
	if err != nil {
		log.Fatalf("failed to load pricing table: %v", err)
	}
	catalog := pricing.NewCatalog(table)

	// 8. Init rate limiter + admission gate
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)
	admitGate := gate.New(limiter, billingStore, gate.Mode(cfg.BudgetEnforcement))

	// 9. Init providers
	builder := provider.NewBuilder()
	for _, a := range []provider.Adapter{
		claude.New(cfg.AnthropicAPIKey),
		openai.New(cfg.OpenAIAPIKey),
		gemini.New(cfg.GeminiAPIKey),
		cohere.New(cfg.CohereAPIKey),
	} {
		if err := builder.Register(a); err != nil {
			log.Fatalf("failed to register provider: %v", err)
		}
	}
	registry := builder.Build()

	// 10. Init call service
	routes := core.NewRouteTable(cfg.DefaultProvider, cfg.DefaultModel)
	tracer := otel.GetTracerProvider().Tracer("llm-meter")
	service := core.NewService(registry, routes, catalog, billingStore, requeue, tracer, core.Options{
		DefaultTimeout: cfg.DefaultTimeout,
		MaxRetries:     cfg.MaxRetries,
	})

	// 11. Init handler
	handler := proxy.NewHandler(service, admitGate, billingStore, registry, catalog, pricingStore)

	// 12. Seed test client if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestClient(ctx, clientStore)
	}

	// 13. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"llm-meter"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/chat/completions", handler.HandleComplete)
		r.Get("/v1/usage", handler.HandleUsage)
		r.Get("/v1/providers", handler.HandleProviders)
		r.Post("/v1/pricing/reload", handler.HandleReloadPricing)
	})

	// 14. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("LLM Meter starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
