package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/connector"
	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/Priya8975/fastweigh-event-gateway/internal/engine"
	"github.com/Priya8975/fastweigh-event-gateway/internal/metrics"
)

type Claimer interface {
	ClaimEvent(ctx context.Context, eventID, resourceID, version string) (bool, error)
	ReleaseEvent(ctx context.Context, eventID, resourceID, version string) error
	ClaimConnectorDelivery(ctx context.Context, connector, eventID string) (bool, error)
	ReleaseConnectorDelivery(ctx context.Context, connector, eventID string) error
}

type CanonicalReader interface {
	Get(ctx context.Context, eventID string) (*domain.CanonicalEventRecord, error)
}

type Enricher interface {
	Enrich(ctx context.Context, event domain.NormalizedEvent) (*domain.Enrichment, error)
}

type LedgerWriter interface {
	MarkProcessed(ctx context.Context, entity domain.EntityType, resourceID string, at time.Time) error
}

type HistoryRecorder interface {
	RecordQuietly(ctx context.Context, record domain.EventHistoryRecord)
}

// ProcessorDeps bundles the collaborators of a Processor.
type ProcessorDeps struct {
	Claims     Claimer
	Events     CanonicalReader
	Enricher   Enricher
	Connectors *connector.Registry
	Breaker    *engine.CircuitBreaker
	Ledger     LedgerWriter
	History    HistoryRecorder
	Metrics    *metrics.Metrics
}

// Processor runs one queue job through the delivery pipeline: rehydrate,
// claim, enrich, deliver per connector, mark the ledger, record history.
type Processor struct {
	claims     Claimer
	events     CanonicalReader
	enricher   Enricher
	connectors *connector.Registry
	breaker    *engine.CircuitBreaker
	ledger     LedgerWriter
	history    HistoryRecorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewProcessor(deps ProcessorDeps, logger *slog.Logger) *Processor {
	return &Processor{
		claims:     deps.Claims,
		events:     deps.Events,
		enricher:   deps.Enricher,
		connectors: deps.Connectors,
		breaker:    deps.Breaker,
		ledger:     deps.Ledger,
		history:    deps.History,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Process handles one job. It returns the history status that was recorded,
// or an error that the queue should retry.
func (p *Processor) Process(ctx context.Context, job domain.QueueJob) (domain.HistoryStatus, error) {
	record, err := p.events.Get(ctx, job.EventID)
	if err != nil {
		p.logger.Error("canonical event unavailable",
			"event_id", job.EventID,
			"audit_id", job.AuditID,
			"error", err,
		)
		return "", fmt.Errorf("rehydrating event %s: %w", job.EventID, err)
	}
	event := record.Event

	won, err := p.claims.ClaimEvent(ctx, event.EventID, event.ResourceID, event.ResourceVersion)
	if err != nil {
		return "", err
	}
	if !won {
		p.logger.Info("duplicate job skipped", "event_id", event.EventID, "resource_id", event.ResourceID)
		p.history.RecordQuietly(ctx, domain.HistoryFor(event, domain.HistoryDuplicate, job.AuditID, "event already claimed", p.now()))
		return domain.HistoryDuplicate, nil
	}

	if err := p.deliver(ctx, event); err != nil {
		if relErr := p.claims.ReleaseEvent(ctx, event.EventID, event.ResourceID, event.ResourceVersion); relErr != nil {
			p.logger.Error("failed to release event claim", "event_id", event.EventID, "error", relErr)
		}
		p.history.RecordQuietly(ctx, domain.HistoryFor(event, domain.HistoryFailed, job.AuditID, err.Error(), p.now()))
		return "", err
	}

	status := domain.HistoryProcessed
	if job.ReplayReason != "" {
		status = domain.HistoryReplayed
	}
	p.history.RecordQuietly(ctx, domain.HistoryFor(event, status, job.AuditID, job.ReplayReason, p.now()))

	p.logger.Info("event processed",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"status", status,
	)
	return status, nil
}

// deliver covers enrichment through the ledger update.
func (p *Processor) deliver(ctx context.Context, event domain.NormalizedEvent) error {
	enrichment, err := p.enricher.Enrich(ctx, event)
	if err != nil {
		return err
	}
	event = event.WithEnrichment(enrichment)

	for _, c := range p.connectors.Applicable(event) {
		if err := p.deliverTo(ctx, c, event); err != nil {
			return err
		}
	}

	if entity, ok := domain.TrackedEntityForEvent(event); ok {
		at := event.OccurredTime(p.now())
		if err := p.ledger.MarkProcessed(ctx, entity, event.ResourceID, at); err != nil {
			return err
		}
	}
	return nil
}

// deliverTo delivers to one connector under its idempotency claim. A claim
// already held means an earlier attempt delivered; the connector is skipped.
func (p *Processor) deliverTo(ctx context.Context, c connector.Connector, event domain.NormalizedEvent) error {
	name := c.Name()

	claimed, err := p.claims.ClaimConnectorDelivery(ctx, name, event.EventID)
	if err != nil {
		return err
	}
	if !claimed {
		p.logger.Info("connector already delivered, skipping", "connector", name, "event_id", event.EventID)
		return nil
	}

	if err := p.attempt(ctx, c, event); err != nil {
		if relErr := p.claims.ReleaseConnectorDelivery(ctx, name, event.EventID); relErr != nil {
			p.logger.Error("failed to release connector claim", "connector", name, "event_id", event.EventID, "error", relErr)
		}
		p.metrics.TrackConnectorDelivery(name, "failure")
		return err
	}

	p.metrics.TrackConnectorDelivery(name, "success")
	return nil
}

func (p *Processor) attempt(ctx context.Context, c connector.Connector, event domain.NormalizedEvent) error {
	name := c.Name()

	if state, allowed := p.breaker.Allow(ctx, name); !allowed {
		return domain.NewDeliveryError(name, "circuit breaker "+state)
	}

	payload, err := c.Transform(event)
	if err != nil {
		return fmt.Errorf("transforming event %s for %s: %w", event.EventID, name, err)
	}

	result, err := c.Deliver(ctx, payload, domain.DeliveryContext{
		EventID:        event.EventID,
		IdempotencyKey: connector.IdempotencyKey(name, event.EventID),
	})
	if err == nil && !result.Success {
		err = domain.NewDeliveryError(name, result.Details)
	}
	if err != nil {
		p.breaker.RecordFailure(ctx, name)
		p.logger.Warn("connector delivery failed",
			"connector", name,
			"event_id", event.EventID,
			"error", err,
		)
		return err
	}

	p.breaker.RecordSuccess(ctx, name)
	p.logger.Debug("connector delivery succeeded",
		"connector", name,
		"event_id", event.EventID,
		"details", result.Details,
	)
	return nil
}
