package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/config"
	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/Priya8975/fastweigh-event-gateway/internal/metrics"
	"github.com/Priya8975/fastweigh-event-gateway/internal/queue"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	replayTenant  = "reconciliation"
	replayAuditID = "reconciliation"
	replayReason  = "resource_changed_in_fast_weigh_not_seen_by_gateway"
)

// ErrRunInProgress is returned when Run is called while another run in this
// process has not finished.
var ErrRunInProgress = errors.New("reconciliation run already in progress")

type ChangeSource interface {
	FetchChanged(ctx context.Context, entity domain.EntityType, since time.Time) ([]domain.ChangedResource, error)
}

type LedgerReader interface {
	MissingProcessed(ctx context.Context, entity domain.EntityType, ids []string, since time.Time) ([]string, error)
}

type CanonicalStore interface {
	Store(ctx context.Context, record domain.CanonicalEventRecord) (bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, data domain.QueueJob) (*queue.Job, error)
}

type ReportSaver interface {
	Save(ctx context.Context, report domain.ReconciliationReport) error
}

// EngineDeps bundles the collaborators of an Engine.
type EngineDeps struct {
	Source  ChangeSource
	Ledger  LedgerReader
	Events  CanonicalStore
	Queue   Enqueuer
	Reports ReportSaver
	Metrics *metrics.Metrics
}

// Engine compares what changed upstream within the lookback window against
// the processed-resource ledger and replays whatever the gateway never saw.
type Engine struct {
	source  ChangeSource
	ledger  LedgerReader
	events  CanonicalStore
	queue   Enqueuer
	reports ReportSaver
	metrics *metrics.Metrics
	cfg     config.ReconcileConfig
	logger  *slog.Logger
	now     func() time.Time
	running atomic.Bool
}

func NewEngine(deps EngineDeps, cfg config.ReconcileConfig, logger *slog.Logger) *Engine {
	return &Engine{
		source:  deps.Source,
		ledger:  deps.Ledger,
		events:  deps.Events,
		queue:   deps.Queue,
		reports: deps.Reports,
		metrics: deps.Metrics,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run performs one reconciliation pass and persists its report. Failures of
// the pass itself are recorded in the report; the returned error only covers
// a run that could not start or a report that could not be saved.
func (e *Engine) Run(ctx context.Context) (domain.ReconciliationReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return domain.ReconciliationReport{}, ErrRunInProgress
	}
	defer e.running.Store(false)

	started := e.now()
	since := started.Add(-time.Duration(e.cfg.LookbackDays) * 24 * time.Hour)
	report := domain.ReconciliationReport{
		RunID:        uuid.NewString(),
		StartedAt:    started.UTC(),
		LookbackDays: e.cfg.LookbackDays,
		Status:       domain.ReportSuccess,
		Entities:     []domain.EntityReconciliation{},
		Errors:       []string{},
	}

	e.logger.Info("starting reconciliation run",
		"run_id", report.RunID,
		"since", since.UTC().Format(domain.TimestampLayout),
		"lookback_days", e.cfg.LookbackDays,
	)

	entities, err := e.reconcile(ctx, since, started)
	report.FinishedAt = e.now().UTC()
	elapsed := report.FinishedAt.Sub(started)

	if err != nil {
		report.Status = domain.ReportFailure
		report.Errors = append(report.Errors, err.Error())
		e.metrics.TrackReconciliation(string(domain.ReportFailure), elapsed)
		e.logger.Error("reconciliation run failed", "run_id", report.RunID, "error", err)
	} else {
		report.Entities = entities
		e.metrics.TrackReconciliation(string(domain.ReportSuccess), elapsed)
		e.metrics.SetReconciliationDrift(report.Drift())
		e.logger.Info("reconciliation run completed",
			"run_id", report.RunID,
			"drift", report.Drift(),
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	if err := e.reports.Save(ctx, report); err != nil {
		e.logger.Error("failed to persist reconciliation report", "run_id", report.RunID, "error", err)
		return report, err
	}
	return report, nil
}

// reconcile fetches every tracked entity concurrently and only replays once
// all fetches succeeded, so a failed run enqueues nothing.
func (e *Engine) reconcile(ctx context.Context, since, runStart time.Time) ([]domain.EntityReconciliation, error) {
	changed := make([][]domain.ChangedResource, len(domain.TrackedEntities))

	g, gctx := errgroup.WithContext(ctx)
	for i, entity := range domain.TrackedEntities {
		g.Go(func() error {
			resources, err := e.source.FetchChanged(gctx, entity, since)
			if err != nil {
				return fmt.Errorf("fetching changed %ss: %w", entity, err)
			}
			changed[i] = resources
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	missing := make([][]string, len(domain.TrackedEntities))
	for i, entity := range domain.TrackedEntities {
		ids := make([]string, 0, len(changed[i]))
		for _, r := range changed[i] {
			ids = append(ids, r.ID)
		}
		m, err := e.ledger.MissingProcessed(ctx, entity, ids, since)
		if err != nil {
			return nil, err
		}
		missing[i] = m
	}

	results := make([]domain.EntityReconciliation, len(domain.TrackedEntities))
	for i, entity := range domain.TrackedEntities {
		results[i] = domain.EntityReconciliation{
			Entity:           entity,
			ChangedResources: len(changed[i]),
			MissingResources: len(missing[i]),
		}
		if !e.cfg.ReplayMissing {
			continue
		}
		for _, id := range missing[i] {
			if err := e.replay(ctx, entity, id, runStart); err != nil {
				return nil, err
			}
			results[i].ReplayedResources++
		}
	}
	return results, nil
}

// replay stores a synthetic canonical record for the resource and enqueues it
// so it runs through the same worker path as a webhook.
func (e *Engine) replay(ctx context.Context, entity domain.EntityType, resourceID string, runStart time.Time) error {
	now := e.now()
	event := domain.NormalizedEvent{
		EventID:    ReplayEventID(entity, resourceID, runStart),
		EventType:  string(entity) + ".reconciliation.missing",
		OccurredAt: now.UTC().Format(domain.TimestampLayout),
		TenantID:   replayTenant,
		ResourceID: resourceID,
		Payload: map[string]any{
			"source":     string(domain.SourceReconciliation),
			"reason":     replayReason,
			"entity":     string(entity),
			"resourceId": resourceID,
		},
		Source:            domain.SourceReconciliation,
		SignatureVerified: true,
	}

	if _, err := e.events.Store(ctx, domain.CanonicalEventRecord{
		Event:      event,
		AuditID:    replayAuditID,
		ReceivedAt: now.UTC(),
	}); err != nil {
		return fmt.Errorf("storing replay for %s %s: %w", entity, resourceID, err)
	}

	if _, err := e.queue.Enqueue(ctx, domain.QueueJob{
		EventID:      event.EventID,
		AuditID:      replayAuditID,
		ReplayReason: domain.ReplayReasonMissingResource,
	}); err != nil {
		return fmt.Errorf("enqueueing replay for %s %s: %w", entity, resourceID, err)
	}
	e.metrics.TrackQueueEvent(queue.EventReconciliationReplay)

	e.logger.Info("replayed missing resource",
		"entity", entity,
		"resource_id", resourceID,
		"event_id", event.EventID,
	)
	return nil
}

// ReplayEventID derives the synthetic event id for a missing resource. It is
// stable within one run.
func ReplayEventID(entity domain.EntityType, resourceID string, runStart time.Time) string {
	return fmt.Sprintf("recon_%s_%s_%d", entity, resourceID, runStart.UnixMilli())
}
