package domain

import "time"

type ReportStatus string

const (
	ReportSuccess ReportStatus = "success"
	ReportFailure ReportStatus = "failure"
)

// EntityReconciliation holds the per-entity counts of one reconciliation run.
type EntityReconciliation struct {
	Entity            EntityType `json:"entity"`
	ChangedResources  int        `json:"changed_resources"`
	MissingResources  int        `json:"missing_resources"`
	ReplayedResources int        `json:"replayed_resources"`
}

// ReconciliationReport is persisted once per run and cached as the latest report.
type ReconciliationReport struct {
	RunID        string                 `json:"run_id"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   time.Time              `json:"finished_at"`
	LookbackDays int                    `json:"lookback_days"`
	Status       ReportStatus           `json:"status"`
	Entities     []EntityReconciliation `json:"entities"`
	Errors       []string               `json:"errors"`
}

// Drift is the total number of missing resources across entities.
func (r ReconciliationReport) Drift() int {
	total := 0
	for _, e := range r.Entities {
		total += e.MissingResources
	}
	return total
}
