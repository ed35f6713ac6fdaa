package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Priya8975/fastweigh-event-gateway/internal/connector"
	"github.com/Priya8975/fastweigh-event-gateway/internal/engine"
	"github.com/Priya8975/fastweigh-event-gateway/internal/metrics"
	"github.com/Priya8975/fastweigh-event-gateway/internal/queue"
)

type QueueCounter interface {
	Counts(ctx context.Context) (queue.Counts, error)
}

type BreakerReader interface {
	States(ctx context.Context, connectors []string) []engine.BreakerState
}

type ClientCounter interface {
	ClientCount() int
}

type DashboardHandler struct {
	queue      QueueCounter
	connectors *connector.Registry
	breaker    BreakerReader
	feed       ClientCounter
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewDashboardHandler(q QueueCounter, connectors *connector.Registry, breaker BreakerReader, feed ClientCounter, m *metrics.Metrics, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		queue:      q,
		connectors: connectors,
		breaker:    breaker,
		feed:       feed,
		metrics:    m,
		logger:     logger,
	}
}

type queueSummary struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
}

type dlqSummary struct {
	Waiting int64 `json:"waiting"`
}

type metricsResponse struct {
	Queue            queueSummary          `json:"queue"`
	DLQ              dlqSummary            `json:"dlq"`
	Connectors       []string              `json:"connectors"`
	CircuitBreakers  []engine.BreakerState `json:"circuit_breakers"`
	WebSocketClients int                   `json:"websocket_clients"`
}

// Metrics returns queue depth, enabled connectors and their breaker states.
// Reading it also refreshes the queue depth gauges.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.queue.Counts(ctx)
	if err != nil {
		h.logger.Error("reading queue counts", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read queue counts")
		return
	}

	h.metrics.SetQueueDepth("waiting", counts.Waiting)
	h.metrics.SetQueueDepth("active", counts.Active)
	h.metrics.SetQueueDepth("failed", counts.Failed)
	h.metrics.SetQueueDepth("delayed", counts.Delayed)
	h.metrics.SetQueueDepth("completed", counts.Completed)
	h.metrics.SetQueueDepth("dlq", counts.DLQWaiting)

	names := h.connectors.Names()
	resp := metricsResponse{
		Queue: queueSummary{
			Waiting:   counts.Waiting,
			Active:    counts.Active,
			Failed:    counts.Failed,
			Delayed:   counts.Delayed,
			Completed: counts.Completed,
		},
		DLQ:             dlqSummary{Waiting: counts.DLQWaiting},
		Connectors:      names,
		CircuitBreakers: h.breaker.States(ctx, names),
	}
	if h.feed != nil {
		resp.WebSocketClients = h.feed.ClientCount()
	}
	respondJSON(w, http.StatusOK, resp)
}
