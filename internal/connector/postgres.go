package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const PostgresConnectorName = "postgres-warehouse"

// Execer is the subset of pgxpool.Pool the warehouse connector needs.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresConnector upserts every event into a warehouse sink table keyed by event id.
type PostgresConnector struct {
	db    Execer
	table string

	mu    sync.Mutex
	ready bool
}

func NewPostgresConnector(db Execer, table string) *PostgresConnector {
	if table == "" {
		table = "fastweigh_event_sink"
	}
	return &PostgresConnector{db: db, table: pgx.Identifier{table}.Sanitize()}
}

func (c *PostgresConnector) Name() string {
	return PostgresConnectorName
}

func (c *PostgresConnector) Supports(domain.NormalizedEvent) bool {
	return true
}

type sinkRow struct {
	EventID    string
	EventType  string
	OccurredAt time.Time
	TenantID   string
	ResourceID string
	Document   string
}

type sinkDocument struct {
	Payload    map[string]any     `json:"payload"`
	Enrichment *domain.Enrichment `json:"enrichment"`
}

func (c *PostgresConnector) Transform(event domain.NormalizedEvent) (any, error) {
	doc, err := json.Marshal(sinkDocument{Payload: event.Payload, Enrichment: event.Enrichment})
	if err != nil {
		return nil, fmt.Errorf("encoding sink document: %w", err)
	}
	return sinkRow{
		EventID:    event.EventID,
		EventType:  event.EventType,
		OccurredAt: event.OccurredTime(time.Now()),
		TenantID:   event.TenantID,
		ResourceID: event.ResourceID,
		Document:   string(doc),
	}, nil
}

// ensureTable creates the sink table once per process. A failed attempt is
// retried on the next delivery.
func (c *PostgresConnector) ensureTable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}

	_, err := c.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			tenant_id TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			payload JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, c.table))
	if err != nil {
		return fmt.Errorf("creating sink table: %w", err)
	}
	c.ready = true
	return nil
}

func (c *PostgresConnector) Deliver(ctx context.Context, payload any, _ domain.DeliveryContext) (domain.DeliveryResult, error) {
	row, ok := payload.(sinkRow)
	if !ok {
		return domain.DeliveryResult{}, fmt.Errorf("postgres connector: unexpected payload type %T", payload)
	}

	if err := c.ensureTable(ctx); err != nil {
		return domain.DeliveryResult{}, err
	}

	_, err := c.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (event_id, event_type, occurred_at, tenant_id, resource_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO UPDATE SET
			event_type = EXCLUDED.event_type,
			occurred_at = EXCLUDED.occurred_at,
			tenant_id = EXCLUDED.tenant_id,
			resource_id = EXCLUDED.resource_id,
			payload = EXCLUDED.payload,
			updated_at = NOW()
	`, c.table), row.EventID, row.EventType, row.OccurredAt, row.TenantID, row.ResourceID, row.Document)
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("upserting event %s: %w", row.EventID, err)
	}
	return domain.DeliveryResult{Success: true, Details: "upserted into " + c.table}, nil
}
