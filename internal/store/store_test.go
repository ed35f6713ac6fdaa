package store

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleRecord(eventID string) domain.CanonicalEventRecord {
	return domain.CanonicalEventRecord{
		Event: domain.NormalizedEvent{
			EventID:    eventID,
			EventType:  "ticket.updated",
			OccurredAt: "2026-01-01T00:00:00.000Z",
			TenantID:   "tenant_1",
			ResourceID: "ticket_1",
			Payload:    map[string]any{"status": "COMPLETED"},
			Source:     domain.SourceWebhook,
		},
		AuditID:    "audit-1",
		ReceivedAt: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		RawBody:    `{"id":"` + eventID + `"}`,
		Headers:    map[string]string{"svix-id": "msg_1"},
	}
}

func TestEventStore_StoreAndGet(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewEventStore(client)
	ctx := context.Background()

	created, err := s.Store(ctx, sampleRecord("evt_1"))
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if !created {
		t.Fatal("first store should create the record")
	}
	if ttl := mr.TTL(canonicalKey("evt_1")); ttl != CanonicalTTL {
		t.Errorf("TTL = %v, want %v", ttl, CanonicalTTL)
	}

	got, err := s.Get(ctx, "evt_1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Event.ResourceID != "ticket_1" || got.AuditID != "audit-1" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Event.Payload["status"] != "COMPLETED" {
		t.Errorf("payload status = %v", got.Event.Payload["status"])
	}
}

func TestEventStore_WriteOnce(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewEventStore(client)
	ctx := context.Background()

	s.Store(ctx, sampleRecord("evt_1"))

	second := sampleRecord("evt_1")
	second.AuditID = "audit-2"
	created, err := s.Store(ctx, second)
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if created {
		t.Error("second store of the same event should not create")
	}

	got, _ := s.Get(ctx, "evt_1")
	if got.AuditID != "audit-1" {
		t.Errorf("record was overwritten: audit id %q", got.AuditID)
	}
}

func TestEventStore_GetExpiredIsNotFound(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewEventStore(client)
	ctx := context.Background()

	s.Store(ctx, sampleRecord("evt_old"))
	mr.FastForward(CanonicalTTL + time.Second)

	_, err := s.Get(ctx, "evt_old")
	if err == nil {
		t.Fatal("expected error for expired record")
	}
	if !domain.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestLedger_MissingProcessed(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := NewLedger(client)
	ctx := context.Background()

	since := time.Now().Add(-24 * time.Hour)
	l.MarkProcessed(ctx, domain.EntityTicket, "t1", time.Now())
	l.MarkProcessed(ctx, domain.EntityTicket, "t2", since.Add(-time.Minute))
	l.MarkProcessed(ctx, domain.EntityTicket, "t4", since)

	missing, err := l.MissingProcessed(ctx, domain.EntityTicket, []string{"t1", "t2", "t3", "t4"}, since)
	if err != nil {
		t.Fatalf("MissingProcessed error: %v", err)
	}

	want := []string{"t2", "t3"}
	if len(missing) != len(want) {
		t.Fatalf("missing = %v, want %v", missing, want)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Errorf("missing[%d] = %q, want %q", i, missing[i], want[i])
		}
	}
}

func TestLedger_MarkThenExcluded(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := NewLedger(client)
	ctx := context.Background()

	since := time.Now().Add(-time.Hour)
	missing, _ := l.MissingProcessed(ctx, domain.EntityOrder, []string{"o1"}, since)
	if len(missing) != 1 {
		t.Fatalf("unprocessed order should be missing, got %v", missing)
	}

	l.MarkProcessed(ctx, domain.EntityOrder, "o1", since.Add(time.Second))

	missing, _ = l.MissingProcessed(ctx, domain.EntityOrder, []string{"o1"}, since)
	if len(missing) != 0 {
		t.Errorf("processed order should be excluded, got %v", missing)
	}
}

func TestLedger_EntitiesAreSeparate(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := NewLedger(client)
	ctx := context.Background()

	l.MarkProcessed(ctx, domain.EntityTicket, "shared-id", time.Now())

	missing, _ := l.MissingProcessed(ctx, domain.EntityOrder, []string{"shared-id"}, time.Now().Add(-time.Hour))
	if len(missing) != 1 {
		t.Error("a ticket entry must not satisfy an order lookup")
	}
}

func TestLedger_PrunesPastRetention(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := NewLedger(client)
	ctx := context.Background()

	now := time.Now()
	l.MarkProcessed(ctx, domain.EntityTicket, "ancient", now.Add(-LedgerRetention-time.Hour))
	l.MarkProcessed(ctx, domain.EntityTicket, "fresh", now)

	members, err := mr.ZMembers(ledgerKey(domain.EntityTicket))
	if err != nil {
		t.Fatalf("ZMembers error: %v", err)
	}
	if len(members) != 1 || members[0] != "fresh" {
		t.Errorf("expected only fresh entry after pruning, got %v", members)
	}
}

func TestLedger_LastProcessed(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := NewLedger(client)
	ctx := context.Background()

	at := time.UnixMilli(time.Now().UnixMilli())
	l.MarkProcessed(ctx, domain.EntityTicket, "t1", at)

	got, ok, err := l.LastProcessed(ctx, domain.EntityTicket, "t1")
	if err != nil || !ok {
		t.Fatalf("LastProcessed = %v, %v, %v", got, ok, err)
	}
	if !got.Equal(at) {
		t.Errorf("LastProcessed = %v, want %v", got, at)
	}

	if _, ok, _ := l.LastProcessed(ctx, domain.EntityTicket, "nope"); ok {
		t.Error("unknown resource should not be found")
	}
}

func TestLedger_OlderMarkDoesNotRegress(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := NewLedger(client)
	ctx := context.Background()

	now := time.UnixMilli(time.Now().UnixMilli())
	if err := l.MarkProcessed(ctx, domain.EntityTicket, "t1", now); err != nil {
		t.Fatalf("MarkProcessed error: %v", err)
	}
	if err := l.MarkProcessed(ctx, domain.EntityTicket, "t1", now.Add(-72*time.Hour)); err != nil {
		t.Fatalf("MarkProcessed error: %v", err)
	}

	missing, err := l.MissingProcessed(ctx, domain.EntityTicket, []string{"t1"}, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("MissingProcessed error: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("older mark moved t1 out of the window: missing = %v", missing)
	}

	got, _, _ := l.LastProcessed(ctx, domain.EntityTicket, "t1")
	if !got.Equal(now) {
		t.Errorf("LastProcessed = %v, want %v", got, now)
	}

	later := now.Add(time.Hour)
	l.MarkProcessed(ctx, domain.EntityTicket, "t1", later)
	if got, _, _ := l.LastProcessed(ctx, domain.EntityTicket, "t1"); !got.Equal(later) {
		t.Errorf("newer mark not applied: LastProcessed = %v, want %v", got, later)
	}
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	records []domain.EventHistoryRecord
}

func (r *recordingBroadcaster) BroadcastHistory(record domain.EventHistoryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func TestHistoryStore_RecordAndList(t *testing.T) {
	client, _ := setupTestRedis(t)
	b := &recordingBroadcaster{}
	h := NewHistoryStore(client, 3, b, testLogger())
	ctx := context.Background()

	event := sampleRecord("evt_1").Event
	for i, status := range []domain.HistoryStatus{
		domain.HistoryAccepted, domain.HistoryProcessed, domain.HistoryFailed, domain.HistoryReplayed, domain.HistoryDuplicate,
	} {
		rec := domain.HistoryFor(event, status, "audit-1", "", time.Unix(int64(i), 0))
		if err := h.Record(ctx, rec); err != nil {
			t.Fatalf("Record error: %v", err)
		}
	}

	recent, err := h.Recent(ctx, 50)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("recent list should be capped at 3, got %d", len(recent))
	}
	if recent[0].Status != domain.HistoryDuplicate {
		t.Errorf("newest entry should come first, got %q", recent[0].Status)
	}

	failures, _ := h.Failures(ctx, 50)
	if len(failures) != 1 || failures[0].Status != domain.HistoryFailed {
		t.Errorf("failures = %+v", failures)
	}

	if len(b.records) != 5 {
		t.Errorf("broadcaster saw %d records, want 5", len(b.records))
	}
}

func TestHistoryStore_ListLimit(t *testing.T) {
	client, _ := setupTestRedis(t)
	h := NewHistoryStore(client, 500, nil, testLogger())
	ctx := context.Background()

	event := sampleRecord("evt_1").Event
	for i := 0; i < 10; i++ {
		h.Record(ctx, domain.HistoryFor(event, domain.HistoryProcessed, "", "", time.Now()))
	}

	got, _ := h.Recent(ctx, 4)
	if len(got) != 4 {
		t.Errorf("expected 4 records, got %d", len(got))
	}
}

func sampleReport(runID string, startedAt time.Time) domain.ReconciliationReport {
	return domain.ReconciliationReport{
		RunID:        runID,
		StartedAt:    startedAt,
		FinishedAt:   startedAt.Add(2 * time.Second),
		LookbackDays: 1,
		Status:       domain.ReportSuccess,
		Entities: []domain.EntityReconciliation{
			{Entity: domain.EntityTicket, ChangedResources: 3, MissingResources: 2, ReplayedResources: 2},
		},
		Errors: []string{},
	}
}

func TestReportStore_SaveLatestList(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewReportStore(t.TempDir(), client)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	// Run ids sort opposite to start times so ordering must come from the timestamp.
	for i, id := range []string{"zzz", "mmm", "aaa"} {
		if err := s.Save(ctx, sampleReport(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest error: %v", err)
	}
	if latest == nil || latest.RunID != "aaa" {
		t.Fatalf("latest = %+v, want run aaa", latest)
	}

	reports, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(reports) != 2 || reports[0].RunID != "aaa" || reports[1].RunID != "mmm" {
		t.Errorf("List order = %v", reports)
	}
	if reports[0].Entities[0].MissingResources != 2 {
		t.Errorf("report content not preserved: %+v", reports[0])
	}
}

func TestReportStore_LatestFallsBackToFiles(t *testing.T) {
	client, mr := setupTestRedis(t)
	s := NewReportStore(t.TempDir(), client)
	ctx := context.Background()

	s.Save(ctx, sampleReport("run-1", time.Now().UTC()))
	mr.Del(latestReportKey)

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest error: %v", err)
	}
	if latest == nil || latest.RunID != "run-1" {
		t.Errorf("expected file fallback, got %+v", latest)
	}
}

func TestReportStore_EmptyDirectory(t *testing.T) {
	client, _ := setupTestRedis(t)
	s := NewReportStore(t.TempDir()+"/missing", client)

	latest, err := s.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest error: %v", err)
	}
	if latest != nil {
		t.Errorf("expected no report, got %+v", latest)
	}
}
