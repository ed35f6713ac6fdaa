package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/robfig/cron/v3"
)

// Runner is satisfied by *Engine.
type Runner interface {
	Run(ctx context.Context) (domain.ReconciliationReport, error)
}

// Scheduler triggers reconciliation runs on a standard five-field cron
// expression. Runs are sequential: a run that overlaps the next tick delays
// it rather than running twice.
type Scheduler struct {
	runner   Runner
	schedule cron.Schedule
	expr     string
	logger   *slog.Logger
	now      func() time.Time
}

func NewScheduler(expr string, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing reconciliation schedule %q: %w", expr, err)
	}
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		expr:     expr,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("reconciliation scheduler started", "schedule", s.expr)
	// Nothing coordinates schedulers across processes. Every running
	// instance replays independently; only the worker's event claim dedupes.
	s.logger.Warn("reconciliation assumes a single active scheduler instance")

	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(next.Sub(s.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("reconciliation scheduler stopping")
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	report, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Warn("skipping scheduled reconciliation, previous run still in progress")
	case err != nil:
		s.logger.Error("scheduled reconciliation failed", "error", err)
	default:
		s.logger.Debug("scheduled reconciliation finished", "run_id", report.RunID, "status", report.Status)
	}
}
