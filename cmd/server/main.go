package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/api"
	"github.com/Priya8975/fastweigh-event-gateway/internal/config"
	"github.com/Priya8975/fastweigh-event-gateway/internal/connector"
	"github.com/Priya8975/fastweigh-event-gateway/internal/engine"
	"github.com/Priya8975/fastweigh-event-gateway/internal/enrichment"
	"github.com/Priya8975/fastweigh-event-gateway/internal/idempotency"
	"github.com/Priya8975/fastweigh-event-gateway/internal/intake"
	"github.com/Priya8975/fastweigh-event-gateway/internal/metrics"
	"github.com/Priya8975/fastweigh-event-gateway/internal/queue"
	"github.com/Priya8975/fastweigh-event-gateway/internal/reconcile"
	"github.com/Priya8975/fastweigh-event-gateway/internal/store"
	"github.com/Priya8975/fastweigh-event-gateway/internal/upstream"
	"github.com/Priya8975/fastweigh-event-gateway/internal/websocket"
	"github.com/Priya8975/fastweigh-event-gateway/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx := context.Background()

	redisClient, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	deps := connector.Dependencies{}
	if cfg.Connectors.PostgresURL != "" {
		pgPool, err := store.NewPostgresPool(ctx, cfg.Connectors.PostgresURL, int32(cfg.Queue.NumWorkers))
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()
		deps.Postgres = pgPool
		logger.Info("connected to PostgreSQL")
	}
	if len(cfg.Connectors.KafkaBrokers) > 0 {
		writer := connector.NewKafkaWriter(cfg.Connectors.KafkaBrokers, cfg.Connectors.KafkaTopic)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("failed to close kafka writer", "error", err)
			}
		}()
		deps.Kafka = writer
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry, cfg.MetricsEnabled)

	hub := websocket.NewHub(logger)
	history := store.NewHistoryStore(redisClient, cfg.EventHistoryLimit, hub, logger)
	events := store.NewEventStore(redisClient)
	ledger := store.NewLedger(redisClient)
	reports := store.NewReportStore(cfg.Reconcile.ReportPath, redisClient)
	claims := idempotency.NewEngine(redisClient, logger)
	breaker := engine.NewCircuitBreaker(redisClient, logger)

	q := queue.NewQueue(redisClient, queue.Options{
		Name:        cfg.Queue.Name,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.RetryBackoff,
		Lease:       cfg.Queue.JobLease,
	}, m, logger)

	verifier, err := intake.NewSignatureVerifier(cfg.Webhook.Secret, cfg.Webhook.PreviousSecret)
	if err != nil {
		logger.Error("invalid webhook signing secret", "error", err)
		os.Exit(1)
	}
	normalizer, err := intake.NewNormalizer()
	if err != nil {
		logger.Error("failed to build webhook normalizer", "error", err)
		os.Exit(1)
	}
	intakeService := intake.NewService(intake.ServiceDeps{
		Verifier:   verifier,
		Normalizer: normalizer,
		Claims:     claims,
		Audit:      intake.NewFileAuditWriter(cfg.AuditPath),
		Events:     events,
		Queue:      q,
		History:    history,
	}, logger)

	upstreamClient := upstream.NewClient(cfg.Upstream, nil, logger)
	connectors := connector.FromConfig(cfg.Connectors, deps, logger)

	processor := worker.NewProcessor(worker.ProcessorDeps{
		Claims:     claims,
		Events:     events,
		Enricher:   enrichment.NewEnricher(upstreamClient, cfg.Upstream.EnrichmentEnabled),
		Connectors: connectors,
		Breaker:    breaker,
		Ledger:     ledger,
		History:    history,
		Metrics:    m,
	}, logger)
	pool := worker.NewPool(cfg.Queue.NumWorkers, processor, q, history, m, logger)
	dispatcher := worker.NewDispatcher(q, pool, m, logger)

	reconciler := reconcile.NewEngine(reconcile.EngineDeps{
		Source:  upstreamClient,
		Ledger:  ledger,
		Events:  events,
		Queue:   q,
		Reports: reports,
		Metrics: m,
	}, cfg.Reconcile, logger)

	router, err := api.NewRouter(cfg, api.Deps{
		Intake:      intakeService,
		RateLimiter: engine.NewRateLimiter(redisClient, logger),
		Queue:       q,
		Events:      events,
		History:     history,
		Reports:     reports,
		Reconciler:  reconciler,
		Connectors:  connectors,
		Breaker:     breaker,
		Feed:        hub,
		Metrics:     m,
	}, logger)
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	// Workers keep their own context so in-flight jobs can finish after the
	// dispatcher and scheduler have stopped.
	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	go hub.Run(workCtx)
	pool.Start(workCtx)

	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		dispatcher.Start(loopCtx)
	}()

	if cfg.Reconcile.Enabled {
		scheduler, err := reconcile.NewScheduler(cfg.Reconcile.Schedule, reconciler, logger)
		if err != nil {
			logger.Error("invalid reconciliation schedule", "error", err)
			os.Exit(1)
		}
		loops.Add(1)
		go func() {
			defer loops.Done()
			scheduler.Start(loopCtx)
		}()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "webhook_route", cfg.Webhook.Route)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	cancelLoops()
	loops.Wait()
	pool.Stop()
	cancelWork()

	logger.Info("gateway stopped")
}
