// Package intake turns signed Fast-Weigh webhook requests into canonical
// events and queue jobs.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/Priya8975/fastweigh-event-gateway/internal/queue"
)

// Intake outcomes.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

type Claimer interface {
	ClaimIntake(ctx context.Context, eventID string) (bool, error)
	ReleaseIntake(ctx context.Context, eventID string) error
}

type AuditWriter interface {
	Write(ctx context.Context, rawBody string, headers map[string]string) (string, error)
}

type CanonicalStore interface {
	Store(ctx context.Context, record domain.CanonicalEventRecord) (bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, data domain.QueueJob) (*queue.Job, error)
}

type HistoryRecorder interface {
	RecordQuietly(ctx context.Context, record domain.EventHistoryRecord)
}

// Result is returned for every verified, well-formed webhook.
type Result struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
	AuditID string `json:"audit_id,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}

// Service runs the intake path: verify, normalize, claim, audit, store, enqueue.
type Service struct {
	verifier   *SignatureVerifier
	normalizer *Normalizer
	claims     Claimer
	audit      AuditWriter
	events     CanonicalStore
	queue      Enqueuer
	history    HistoryRecorder
	logger     *slog.Logger
	now        func() time.Time
}

type ServiceDeps struct {
	Verifier   *SignatureVerifier
	Normalizer *Normalizer
	Claims     Claimer
	Audit      AuditWriter
	Events     CanonicalStore
	Queue      Enqueuer
	History    HistoryRecorder
}

func NewService(deps ServiceDeps, logger *slog.Logger) *Service {
	return &Service{
		verifier:   deps.Verifier,
		normalizer: deps.Normalizer,
		claims:     deps.Claims,
		audit:      deps.Audit,
		events:     deps.Events,
		queue:      deps.Queue,
		history:    deps.History,
		logger:     logger,
		now:        time.Now,
	}
}

// Accept verifies and ingests one webhook. Signature failures are auth errors
// and malformed payloads validation errors; neither is enqueued. A redelivery
// of an already accepted event id returns StatusDuplicate and enqueues nothing.
func (s *Service) Accept(ctx context.Context, body []byte, header http.Header) (Result, error) {
	headers, err := SvixHeaders(header)
	if err != nil {
		return Result{}, err
	}
	if err := s.verifier.Verify(body, headers); err != nil {
		return Result{}, err
	}

	event, err := s.normalizer.Normalize(body)
	if err != nil {
		return Result{}, err
	}

	won, err := s.claims.ClaimIntake(ctx, event.EventID)
	if err != nil {
		return Result{}, fmt.Errorf("claiming intake for %s: %w", event.EventID, err)
	}
	if !won {
		s.logger.Info("duplicate webhook ignored", "event_id", event.EventID, "event_type", event.EventType)
		s.history.RecordQuietly(ctx, domain.HistoryFor(event, domain.HistoryDuplicate, "", "event id already accepted", s.now()))
		return Result{Status: StatusDuplicate, EventID: event.EventID}, nil
	}

	result, err := s.ingest(ctx, event, body, headers)
	if err != nil {
		if relErr := s.claims.ReleaseIntake(ctx, event.EventID); relErr != nil {
			s.logger.Error("failed to release intake claim", "event_id", event.EventID, "error", relErr)
		}
		return Result{}, err
	}
	return result, nil
}

func (s *Service) ingest(ctx context.Context, event domain.NormalizedEvent, body []byte, headers map[string]string) (Result, error) {
	auditID, err := s.audit.Write(ctx, string(body), headers)
	if err != nil {
		return Result{}, fmt.Errorf("writing audit for %s: %w", event.EventID, err)
	}

	receivedAt := s.now().UTC()
	stored, err := s.events.Store(ctx, domain.CanonicalEventRecord{
		Event:      event,
		AuditID:    auditID,
		ReceivedAt: receivedAt,
		RawBody:    string(body),
		Headers:    headers,
	})
	if err != nil {
		return Result{}, fmt.Errorf("storing canonical event %s: %w", event.EventID, err)
	}
	if !stored {
		s.logger.Warn("canonical event already stored, enqueuing existing record", "event_id", event.EventID)
	}

	job, err := s.queue.Enqueue(ctx, domain.QueueJob{EventID: event.EventID, AuditID: auditID})
	if err != nil {
		return Result{}, err
	}

	s.history.RecordQuietly(ctx, domain.HistoryFor(event, domain.HistoryAccepted, auditID, "", receivedAt))
	s.logger.Info("webhook accepted",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"tenant_id", event.TenantID,
		"audit_id", auditID,
		"job_id", job.ID,
	)
	return Result{Status: StatusAccepted, EventID: event.EventID, AuditID: auditID, JobID: job.ID}, nil
}
