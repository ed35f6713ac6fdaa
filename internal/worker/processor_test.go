package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/connector"
	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/Priya8975/fastweigh-event-gateway/internal/engine"
	"github.com/Priya8975/fastweigh-event-gateway/internal/idempotency"
	"github.com/Priya8975/fastweigh-event-gateway/internal/metrics"
	"github.com/Priya8975/fastweigh-event-gateway/internal/queue"
	"github.com/Priya8975/fastweigh-event-gateway/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubConnector supports event types with its prefix. respond decides the
// outcome of the n-th Deliver call (1-based).
type stubConnector struct {
	name    string
	prefix  string
	calls   atomic.Int32
	respond func(call int32) (domain.DeliveryResult, error)
}

func (s *stubConnector) Name() string { return s.name }

func (s *stubConnector) Supports(e domain.NormalizedEvent) bool {
	return strings.HasPrefix(e.EventType, s.prefix)
}

func (s *stubConnector) Transform(e domain.NormalizedEvent) (any, error) { return e, nil }

func (s *stubConnector) Deliver(_ context.Context, _ any, dc domain.DeliveryContext) (domain.DeliveryResult, error) {
	n := s.calls.Add(1)
	if dc.IdempotencyKey != s.name+":"+dc.EventID {
		return domain.DeliveryResult{}, errors.New("unexpected idempotency key " + dc.IdempotencyKey)
	}
	if s.respond == nil {
		return domain.DeliveryResult{Success: true}, nil
	}
	return s.respond(n)
}

type stubEnricher struct {
	err error
}

func (s *stubEnricher) Enrich(context.Context, domain.NormalizedEvent) (*domain.Enrichment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Enrichment{Ticket: &domain.TicketSnapshot{ID: "ticket_1"}}, nil
}

type fixture struct {
	client    *redis.Client
	processor *Processor
	events    *store.EventStore
	ledger    *store.Ledger
	history   *store.HistoryStore
	claims    *idempotency.Engine
	breaker   *engine.CircuitBreaker
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	enricher  *stubEnricher
}

func setup(t *testing.T, connectors ...connector.Connector) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := testLogger()

	f := &fixture{
		client:   client,
		events:   store.NewEventStore(client),
		ledger:   store.NewLedger(client),
		history:  store.NewHistoryStore(client, 100, nil, logger),
		claims:   idempotency.NewEngine(client, logger),
		breaker:  engine.NewCircuitBreaker(client, logger),
		registry: prometheus.NewRegistry(),
		enricher: &stubEnricher{},
	}
	f.metrics = metrics.New(f.registry, true)

	f.processor = NewProcessor(ProcessorDeps{
		Claims:     f.claims,
		Events:     f.events,
		Enricher:   f.enricher,
		Connectors: connector.NewRegistry(connectors...),
		Breaker:    f.breaker,
		Ledger:     f.ledger,
		History:    f.history,
		Metrics:    f.metrics,
	}, logger)
	return f
}

func ticketEvent(id string) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		EventID:    id,
		EventType:  "ticket.updated",
		OccurredAt: "2026-01-01T00:00:00.000Z",
		TenantID:   "tenant_1",
		ResourceID: "ticket_1",
		Payload:    map[string]any{"status": "COMPLETED"},
		Source:     domain.SourceWebhook,
	}
}

func (f *fixture) store(t *testing.T, event domain.NormalizedEvent) domain.QueueJob {
	t.Helper()
	_, err := f.events.Store(context.Background(), domain.CanonicalEventRecord{
		Event:      event,
		AuditID:    "audit-" + event.EventID,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("storing canonical event: %v", err)
	}
	return domain.QueueJob{EventID: event.EventID, AuditID: "audit-" + event.EventID}
}

func TestProcess_DeliversToApplicableConnectors(t *testing.T) {
	tickets := &stubConnector{name: "tickets", prefix: "ticket."}
	everything := &stubConnector{name: "everything", prefix: ""}
	orders := &stubConnector{name: "orders", prefix: "order."}
	f := setup(t, tickets, everything, orders)
	ctx := context.Background()

	status, err := f.processor.Process(ctx, f.store(t, ticketEvent("evt_1")))
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if status != domain.HistoryProcessed {
		t.Errorf("status = %q, want processed", status)
	}

	if tickets.calls.Load() != 1 || everything.calls.Load() != 1 {
		t.Errorf("calls: tickets=%d everything=%d", tickets.calls.Load(), everything.calls.Load())
	}
	if orders.calls.Load() != 0 {
		t.Error("orders connector should not receive ticket events")
	}

	at, ok, err := f.ledger.LastProcessed(ctx, domain.EntityTicket, "ticket_1")
	if err != nil || !ok {
		t.Fatalf("ledger entry missing: %v", err)
	}
	if want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC); !at.Equal(want) {
		t.Errorf("ledger timestamp = %v, want %v", at, want)
	}

	recent, _ := f.history.Recent(ctx, 10)
	if len(recent) != 1 || recent[0].Status != domain.HistoryProcessed || recent[0].AuditID != "audit-evt_1" {
		t.Errorf("history = %+v", recent)
	}
}

func TestProcess_DuplicateJobHasNoSideEffects(t *testing.T) {
	c := &stubConnector{name: "tickets", prefix: "ticket."}
	f := setup(t, c)
	ctx := context.Background()
	job := f.store(t, ticketEvent("evt_1"))

	if _, err := f.processor.Process(ctx, job); err != nil {
		t.Fatalf("first Process error: %v", err)
	}
	status, err := f.processor.Process(ctx, job)
	if err != nil {
		t.Fatalf("second Process error: %v", err)
	}
	if status != domain.HistoryDuplicate {
		t.Errorf("status = %q, want duplicate", status)
	}
	if c.calls.Load() != 1 {
		t.Errorf("connector delivered %d times, want 1", c.calls.Load())
	}
}

func TestProcess_SameResourceVersionUnderNewEventID(t *testing.T) {
	c := &stubConnector{name: "tickets", prefix: "ticket."}
	f := setup(t, c)
	ctx := context.Background()

	first := ticketEvent("evt_1")
	first.ResourceVersion = "7"
	second := ticketEvent("evt_regenerated")
	second.ResourceVersion = "7"

	f.processor.Process(ctx, f.store(t, first))
	status, err := f.processor.Process(ctx, f.store(t, second))
	if err != nil || status != domain.HistoryDuplicate {
		t.Errorf("second event for the same resource version = %q, %v", status, err)
	}
	if c.calls.Load() != 1 {
		t.Errorf("connector delivered %d times, want 1", c.calls.Load())
	}
}

func TestProcess_RetrySkipsDeliveredConnectors(t *testing.T) {
	a := &stubConnector{name: "a", prefix: "ticket."}
	b := &stubConnector{name: "b", prefix: "ticket.", respond: func(call int32) (domain.DeliveryResult, error) {
		if call == 1 {
			return domain.DeliveryResult{}, errors.New("connection reset")
		}
		return domain.DeliveryResult{Success: true}, nil
	}}
	f := setup(t, a, b)
	ctx := context.Background()
	job := f.store(t, ticketEvent("evt_1"))

	if _, err := f.processor.Process(ctx, job); err == nil {
		t.Fatal("first attempt should fail")
	}
	if _, ok, _ := f.ledger.LastProcessed(ctx, domain.EntityTicket, "ticket_1"); ok {
		t.Error("ledger must not be marked when a connector fails")
	}

	status, err := f.processor.Process(ctx, job)
	if err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if status != domain.HistoryProcessed {
		t.Errorf("status = %q", status)
	}
	if a.calls.Load() != 1 {
		t.Errorf("connector a delivered %d times, want 1", a.calls.Load())
	}
	if b.calls.Load() != 2 {
		t.Errorf("connector b delivered %d times, want 2", b.calls.Load())
	}

	failures, _ := f.history.Failures(ctx, 10)
	if len(failures) != 1 || !strings.Contains(failures[0].Detail, "connection reset") {
		t.Errorf("failure history = %+v", failures)
	}
}

func TestProcess_UnsuccessfulResultRetriesJob(t *testing.T) {
	tms := &stubConnector{name: "tms-webhook", prefix: "ticket.", respond: func(int32) (domain.DeliveryResult, error) {
		return domain.DeliveryResult{Success: false, Details: "status 500"}, nil
	}}
	f := setup(t, tms)
	ctx := context.Background()

	q := queue.NewQueue(f.client, queue.Options{Name: "test-events", MaxAttempts: 3, Backoff: time.Second}, f.metrics, testLogger())
	if _, err := q.Enqueue(ctx, f.store(t, ticketEvent("evt_1"))); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	jobs, err := q.Reserve(ctx, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Reserve = %v, %v", jobs, err)
	}

	if _, err := f.processor.Process(ctx, jobs[0].Data); err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("expected delivery error carrying details, got %v", err)
	}

	pool := NewPool(1, f.processor, q, f.history, f.metrics, testLogger())
	pool.handle(ctx, jobs[0], 0)

	counts, _ := q.Counts(ctx)
	if counts.Delayed != 1 || counts.Active != 0 || counts.DLQWaiting != 0 {
		t.Errorf("job should be retrying, counts = %+v", counts)
	}

	expected := `
# HELP fastweigh_gateway_connector_deliveries_total Connector deliveries by connector and outcome.
# TYPE fastweigh_gateway_connector_deliveries_total counter
fastweigh_gateway_connector_deliveries_total{connector="tms-webhook",status="failure"} 2
`
	if err := testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "fastweigh_gateway_connector_deliveries_total"); err != nil {
		t.Error(err)
	}
}

func TestProcess_MissingCanonicalRecordFails(t *testing.T) {
	c := &stubConnector{name: "tickets", prefix: "ticket."}
	f := setup(t, c)

	_, err := f.processor.Process(context.Background(), domain.QueueJob{EventID: "evt_gone"})
	if !domain.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
	if c.calls.Load() != 0 {
		t.Error("nothing should be delivered without a canonical record")
	}
}

func TestProcess_EnrichmentFailureReleasesClaim(t *testing.T) {
	c := &stubConnector{name: "tickets", prefix: "ticket."}
	f := setup(t, c)
	f.enricher.err = errors.New("upstream timeout")
	ctx := context.Background()
	job := f.store(t, ticketEvent("evt_1"))

	if _, err := f.processor.Process(ctx, job); err == nil {
		t.Fatal("expected enrichment error")
	}
	if c.calls.Load() != 0 {
		t.Error("connectors should not run when enrichment fails")
	}

	f.enricher.err = nil
	status, err := f.processor.Process(ctx, job)
	if err != nil || status != domain.HistoryProcessed {
		t.Errorf("retry after enrichment recovered = %q, %v", status, err)
	}
}

func TestProcess_OpenBreakerFailsWithoutDelivering(t *testing.T) {
	c := &stubConnector{name: "tickets", prefix: "ticket."}
	f := setup(t, c)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.breaker.RecordFailure(ctx, "tickets")
	}

	_, err := f.processor.Process(ctx, f.store(t, ticketEvent("evt_1")))
	if err == nil || !strings.Contains(err.Error(), "circuit breaker open") {
		t.Fatalf("expected breaker error, got %v", err)
	}
	if c.calls.Load() != 0 {
		t.Error("open breaker should block delivery")
	}

	won, _ := f.claims.ClaimConnectorDelivery(ctx, "tickets", "evt_1")
	if !won {
		t.Error("connector claim should be released when the breaker blocks delivery")
	}
}

func TestProcess_ReplayedJob(t *testing.T) {
	f := setup(t, &stubConnector{name: "tickets", prefix: "ticket."})
	ctx := context.Background()

	job := f.store(t, ticketEvent("evt_1"))
	job.ReplayReason = domain.ReplayReasonDLQ

	status, err := f.processor.Process(ctx, job)
	if err != nil || status != domain.HistoryReplayed {
		t.Fatalf("Process = %q, %v", status, err)
	}
	recent, _ := f.history.Recent(ctx, 1)
	if len(recent) != 1 || recent[0].Detail != domain.ReplayReasonDLQ {
		t.Errorf("history = %+v", recent)
	}
}
