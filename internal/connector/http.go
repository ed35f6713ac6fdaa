package connector

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
)

const TMSWebhookConnectorName = "tms-webhook"

// TMSWebhookConnector pushes dispatch and proof-of-delivery events to a
// transport management system over HTTP.
type TMSWebhookConnector struct {
	endpointURL string
	secret      string
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewTMSWebhookConnector(endpointURL, secret string, httpClient *http.Client, logger *slog.Logger) *TMSWebhookConnector {
	return &TMSWebhookConnector{
		endpointURL: endpointURL,
		secret:      secret,
		httpClient:  httpClient,
		logger:      logger,
	}
}

func (c *TMSWebhookConnector) Name() string {
	return TMSWebhookConnectorName
}

func (c *TMSWebhookConnector) Supports(event domain.NormalizedEvent) bool {
	return hasAnyPrefix(event.EventType, "dispatch.", "pod.")
}

func (c *TMSWebhookConnector) Transform(event domain.NormalizedEvent) (any, error) {
	body, err := envelopeJSON(event)
	if err != nil {
		return nil, fmt.Errorf("encoding tms payload: %w", err)
	}
	return body, nil
}

// Deliver posts the payload. A non-2xx response is an unsuccessful result;
// transport errors are returned as errors.
func (c *TMSWebhookConnector) Deliver(ctx context.Context, payload any, dc domain.DeliveryContext) (domain.DeliveryResult, error) {
	body, ok := payload.([]byte)
	if !ok {
		return domain.DeliveryResult{}, fmt.Errorf("tms connector: unexpected payload type %T", payload)
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("creating tms request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", dc.IdempotencyKey)
	req.Header.Set("X-Event-Id", dc.EventID)
	if c.secret != "" {
		req.Header.Set("X-Webhook-Signature", computeHMAC(body, c.secret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("tms delivery failed",
			"event_id", dc.EventID,
			"error", err,
			"response_time_ms", time.Since(start).Milliseconds(),
		)
		return domain.DeliveryResult{}, fmt.Errorf("posting to tms webhook: %w", err)
	}
	defer resp.Body.Close()

	// Read at most 1KB of the response for diagnostics
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	elapsed := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("tms delivery rejected",
			"event_id", dc.EventID,
			"status_code", resp.StatusCode,
			"response_body", string(respBody),
			"response_time_ms", elapsed,
		)
		return domain.DeliveryResult{
			Success: false,
			Details: fmt.Sprintf("TMS webhook delivery failed with status %d", resp.StatusCode),
		}, nil
	}

	c.logger.Info("tms delivery successful",
		"event_id", dc.EventID,
		"status_code", resp.StatusCode,
		"response_time_ms", elapsed,
	)
	return domain.DeliveryResult{Success: true, Details: fmt.Sprintf("status %d", resp.StatusCode)}, nil
}

// computeHMAC generates an HMAC-SHA256 signature for the payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
