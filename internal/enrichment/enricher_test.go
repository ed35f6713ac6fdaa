package enrichment

import (
	"context"
	"errors"
	"testing"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
)

type fakeLookup struct {
	ticketCalls []string
	orderCalls  []string
	err         error
}

func (f *fakeLookup) FetchTicket(_ context.Context, id string) (*domain.TicketSnapshot, error) {
	f.ticketCalls = append(f.ticketCalls, id)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.TicketSnapshot{ID: id, Status: "COMPLETED"}, nil
}

func (f *fakeLookup) FetchOrder(_ context.Context, id string) (*domain.OrderSnapshot, error) {
	f.orderCalls = append(f.orderCalls, id)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.OrderSnapshot{ID: id, Status: "OPEN"}, nil
}

func event(eventType, resourceID string) domain.NormalizedEvent {
	return domain.NormalizedEvent{EventID: "evt_1", EventType: eventType, ResourceID: resourceID}
}

func TestEnrich_SelectsSnapshotByPrefix(t *testing.T) {
	lookup := &fakeLookup{}
	e := NewEnricher(lookup, true)
	ctx := context.Background()

	got, err := e.Enrich(ctx, event("ticket.updated", "ticket_1"))
	if err != nil {
		t.Fatalf("Enrich error: %v", err)
	}
	if got == nil || got.Ticket == nil || got.Ticket.ID != "ticket_1" || got.Order != nil {
		t.Errorf("ticket enrichment = %+v", got)
	}

	got, err = e.Enrich(ctx, event("order.created", "order_1"))
	if err != nil {
		t.Fatalf("Enrich error: %v", err)
	}
	if got == nil || got.Order == nil || got.Order.ID != "order_1" || got.Ticket != nil {
		t.Errorf("order enrichment = %+v", got)
	}

	got, err = e.Enrich(ctx, event("dispatch.created", "d1"))
	if err != nil || got != nil {
		t.Errorf("dispatch events have no snapshot, got %+v, %v", got, err)
	}

	if len(lookup.ticketCalls) != 1 || len(lookup.orderCalls) != 1 {
		t.Errorf("calls: tickets=%v orders=%v", lookup.ticketCalls, lookup.orderCalls)
	}
}

func TestEnrich_Disabled(t *testing.T) {
	lookup := &fakeLookup{}
	e := NewEnricher(lookup, false)

	got, err := e.Enrich(context.Background(), event("ticket.updated", "ticket_1"))
	if err != nil || got != nil {
		t.Errorf("disabled enricher returned %+v, %v", got, err)
	}
	if len(lookup.ticketCalls) != 0 {
		t.Error("disabled enricher should not call upstream")
	}
}

func TestEnrich_PropagatesLookupErrors(t *testing.T) {
	cause := errors.New("upstream timeout")
	e := NewEnricher(&fakeLookup{err: cause}, true)

	_, err := e.Enrich(context.Background(), event("order.updated", "order_1"))
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped lookup error, got %v", err)
	}
}
