package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Priya8975/fastweigh-event-gateway/internal/config"
	"github.com/Priya8975/fastweigh-event-gateway/internal/connector"
	"github.com/Priya8975/fastweigh-event-gateway/internal/metrics"
	"github.com/Priya8975/fastweigh-event-gateway/internal/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AdminQueue is the queue surface used by the admin routes.
type AdminQueue interface {
	QueueCounter
	DeadLetterQueue
}

// History is the event history surface used by the admin routes.
type History interface {
	HistoryReader
	HistoryRecorder
}

// Feed is the live admin event feed.
type Feed interface {
	ClientCounter
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

// Deps holds everything the HTTP surface needs.
type Deps struct {
	Intake      Acceptor
	RateLimiter Limiter
	Queue       AdminQueue
	Events      EventReader
	History     History
	Reports     ReportReader
	Reconciler  reconcile.Runner
	Connectors  *connector.Registry
	Breaker     BreakerReader
	Feed        Feed
	Metrics     *metrics.Metrics
}

// NewRouter builds the public webhook route and the /admin API.
func NewRouter(cfg *config.Config, deps Deps, logger *slog.Logger) (http.Handler, error) {
	webhookAllow, err := ipAllowlist(cfg.Webhook.IPAllowlist)
	if err != nil {
		return nil, fmt.Errorf("webhook allowlist: %w", err)
	}
	adminAllow, err := ipAllowlist(cfg.AdminIPAllowlist)
	if err != nil {
		return nil, fmt.Errorf("admin allowlist: %w", err)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	webhooks := NewWebhookHandler(deps.Intake, deps.RateLimiter, cfg.Webhook.RateLimitPerSecond, cfg.Webhook.MaxBodyBytes, deps.Metrics, logger)
	events := NewEventHandler(deps.History, logger)
	dlq := NewDeadLetterHandler(deps.Queue, deps.Events, deps.History, logger)
	dash := NewDashboardHandler(deps.Queue, deps.Connectors, deps.Breaker, deps.Feed, deps.Metrics, logger)
	recon := NewReconciliationHandler(deps.Reports, deps.Reconciler, logger)

	r.Get("/health", HealthHandler())
	r.With(webhookAllow).Post(cfg.Webhook.Route, webhooks.Receive)

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAllow)
		r.Use(adminAuth(cfg.AdminAPIKey))

		r.Get("/health", dash.AdminHealth)
		r.Get("/metrics", dash.Metrics)
		r.Handle("/metrics/prometheus", deps.Metrics.Handler())

		r.Get("/events", events.Recent)
		r.Get("/failures", events.Failures)

		r.Get("/dlq", dlq.List)
		r.Post("/dlq/replay", dlq.Replay)

		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/latest", recon.Latest)
			r.Get("/reports", recon.List)
			r.Post("/run", recon.Run)
		})

		if deps.Feed != nil {
			r.Get("/ws", deps.Feed.HandleWebSocket)
		}
	})

	return r, nil
}
