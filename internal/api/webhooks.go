package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/Priya8975/fastweigh-event-gateway/internal/intake"
	"github.com/Priya8975/fastweigh-event-gateway/internal/metrics"
)

type Acceptor interface {
	Accept(ctx context.Context, body []byte, header http.Header) (intake.Result, error)
}

type Limiter interface {
	Allow(ctx context.Context, source string, limit int) bool
}

type WebhookHandler struct {
	intake       Acceptor
	limiter      Limiter
	rateLimit    int
	maxBodyBytes int64
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func NewWebhookHandler(acceptor Acceptor, limiter Limiter, rateLimit int, maxBodyBytes int64, m *metrics.Metrics, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		intake:       acceptor,
		limiter:      limiter,
		rateLimit:    rateLimit,
		maxBodyBytes: maxBodyBytes,
		metrics:      m,
		logger:       logger,
	}
}

type webhookResponse struct {
	Accepted bool `json:"accepted"`
	intake.Result
}

// Receive handles a Fast-Weigh webhook delivery. Accepted events get 202,
// redeliveries of an already accepted event get 200.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if h.limiter != nil && !h.limiter.Allow(r.Context(), clientIP(r), h.rateLimit) {
		h.metrics.TrackWebhook("rate_limited", time.Since(start))
		respondErr(w, r, domain.NewRateLimitError("webhook rate limit exceeded"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.metrics.TrackWebhook("rejected", time.Since(start))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "webhook body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read webhook body")
		return
	}

	result, err := h.intake.Accept(r.Context(), body, r.Header)
	if err != nil {
		status := "error"
		switch {
		case domain.IsUnauthorized(err):
			status = "unauthorized"
		case domain.HTTPStatus(err) < http.StatusInternalServerError:
			status = "rejected"
		}
		h.metrics.TrackWebhook(status, time.Since(start))
		h.logger.Warn("webhook rejected", "status", status, "error", err)
		respondErr(w, r, err)
		return
	}

	h.metrics.TrackWebhook(result.Status, time.Since(start))

	code := http.StatusAccepted
	if result.Status == intake.StatusDuplicate {
		code = http.StatusOK
	}
	respondJSON(w, code, webhookResponse{Accepted: true, Result: result})
}
