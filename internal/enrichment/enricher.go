package enrichment

import (
	"context"
	"fmt"
	"strings"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/Priya8975/fastweigh-event-gateway/internal/upstream"
)

// Lookup is the upstream subset the enricher needs. *upstream.Client satisfies it.
type Lookup interface {
	FetchTicket(ctx context.Context, id string) (*domain.TicketSnapshot, error)
	FetchOrder(ctx context.Context, id string) (*domain.OrderSnapshot, error)
}

var _ Lookup = (*upstream.Client)(nil)

// Enricher attaches upstream snapshots to ticket and order events.
type Enricher struct {
	lookup  Lookup
	enabled bool
}

func NewEnricher(lookup Lookup, enabled bool) *Enricher {
	return &Enricher{lookup: lookup, enabled: enabled}
}

// Enrich returns nil when enrichment is disabled or the event type has no
// snapshot. Lookup errors are returned so the job is retried.
func (e *Enricher) Enrich(ctx context.Context, event domain.NormalizedEvent) (*domain.Enrichment, error) {
	if e == nil || !e.enabled || e.lookup == nil {
		return nil, nil
	}

	switch {
	case strings.HasPrefix(event.EventType, "ticket."):
		ticket, err := e.lookup.FetchTicket(ctx, event.ResourceID)
		if err != nil {
			return nil, fmt.Errorf("enriching %s: %w", event.EventID, err)
		}
		return &domain.Enrichment{Ticket: ticket}, nil

	case strings.HasPrefix(event.EventType, "order."):
		order, err := e.lookup.FetchOrder(ctx, event.ResourceID)
		if err != nil {
			return nil, fmt.Errorf("enriching %s: %w", event.EventID, err)
		}
		return &domain.Enrichment{Order: order}, nil
	}
	return nil, nil
}
