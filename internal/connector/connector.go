package connector

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/config"
	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
)

// Connector is a downstream delivery target. Transform produces the payload
// shape that the same connector's Deliver expects.
type Connector interface {
	Name() string
	Supports(event domain.NormalizedEvent) bool
	Transform(event domain.NormalizedEvent) (any, error)
	Deliver(ctx context.Context, payload any, dc domain.DeliveryContext) (domain.DeliveryResult, error)
}

// IdempotencyKey is the key sent with every delivery of an event to a connector.
func IdempotencyKey(connectorName, eventID string) string {
	return connectorName + ":" + eventID
}

func hasAnyPrefix(eventType string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(eventType, p) {
			return true
		}
	}
	return false
}

// Registry is the fixed set of connectors assembled at startup.
type Registry struct {
	connectors []Connector
}

func NewRegistry(connectors ...Connector) *Registry {
	return &Registry{connectors: connectors}
}

// Dependencies carries the external handles optional connectors need.
// A nil handle leaves the corresponding connector disabled.
type Dependencies struct {
	HTTPClient *http.Client
	Postgres   Execer
	Kafka      MessageWriter
}

// FromConfig builds the registry. The CSV export is always on; the others
// activate only when their endpoint is configured.
func FromConfig(cfg config.ConnectorsConfig, deps Dependencies, logger *slog.Logger) *Registry {
	connectors := []Connector{NewCSVConnector(cfg.CSVPath)}

	if cfg.TMSWebhookURL != "" {
		client := deps.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 10 * time.Second}
		}
		connectors = append(connectors, NewTMSWebhookConnector(cfg.TMSWebhookURL, cfg.TMSSigningSecret, client, logger))
	}
	if deps.Postgres != nil {
		connectors = append(connectors, NewPostgresConnector(deps.Postgres, cfg.PostgresTable))
	}
	if deps.Kafka != nil {
		connectors = append(connectors, NewKafkaConnector(deps.Kafka))
	}

	names := make([]string, len(connectors))
	for i, c := range connectors {
		names[i] = c.Name()
	}
	logger.Info("connectors enabled", "connectors", names)

	return NewRegistry(connectors...)
}

func (r *Registry) Enabled() []Connector {
	return r.connectors
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.connectors))
	for i, c := range r.connectors {
		names[i] = c.Name()
	}
	return names
}

// Applicable returns the connectors whose Supports accepts the event, in registry order.
func (r *Registry) Applicable(event domain.NormalizedEvent) []Connector {
	var out []Connector
	for _, c := range r.connectors {
		if c.Supports(event) {
			out = append(out, c)
		}
	}
	return out
}

// eventEnvelope is the JSON document pushed by the HTTP and Kafka connectors.
type eventEnvelope struct {
	EventID    string             `json:"event_id"`
	EventType  string             `json:"event_type"`
	OccurredAt string             `json:"occurred_at"`
	TenantID   string             `json:"tenant_id"`
	ResourceID string             `json:"resource_id"`
	Source     domain.EventSource `json:"source"`
	Payload    map[string]any     `json:"payload"`
	Enrichment *domain.Enrichment `json:"enrichment,omitempty"`
}

func envelopeJSON(event domain.NormalizedEvent) ([]byte, error) {
	return json.Marshal(eventEnvelope{
		EventID:    event.EventID,
		EventType:  event.EventType,
		OccurredAt: event.OccurredAt,
		TenantID:   event.TenantID,
		ResourceID: event.ResourceID,
		Source:     event.Source,
		Payload:    event.Payload,
		Enrichment: event.Enrichment,
	})
}
