package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/Priya8975/fastweigh-event-gateway/internal/reconcile"
)

type ReportReader interface {
	Latest(ctx context.Context) (*domain.ReconciliationReport, error)
	List(ctx context.Context, limit int) ([]domain.ReconciliationReport, error)
}

type ReconciliationHandler struct {
	reports ReportReader
	runner  reconcile.Runner
	logger  *slog.Logger
}

func NewReconciliationHandler(reports ReportReader, runner reconcile.Runner, logger *slog.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{reports: reports, runner: runner, logger: logger}
}

type reportResponse struct {
	Report *domain.ReconciliationReport `json:"report"`
}

// Latest returns the most recent report, or a null report before the first run.
func (h *ReconciliationHandler) Latest(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.Latest(r.Context())
	if err != nil {
		h.logger.Error("reading latest reconciliation report", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read latest report")
		return
	}
	respondJSON(w, http.StatusOK, reportResponse{Report: report})
}

func (h *ReconciliationHandler) List(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.List(r.Context(), parseLimit(r, 10))
	if err != nil {
		h.logger.Error("listing reconciliation reports", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	respondJSON(w, http.StatusOK, itemsResponse[domain.ReconciliationReport]{Items: reports})
}

// Run triggers a reconciliation pass and waits for its report. The run is
// detached from the request so a disconnecting client does not abort it.
func (h *ReconciliationHandler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.Run(context.WithoutCancel(r.Context()))
	if errors.Is(err, reconcile.ErrRunInProgress) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("manual reconciliation run failed", "error", err)
		respondError(w, http.StatusInternalServerError, "reconciliation report could not be saved")
		return
	}
	respondJSON(w, http.StatusOK, reportResponse{Report: &report})
}
