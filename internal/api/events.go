package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
)

type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]domain.EventHistoryRecord, error)
	Failures(ctx context.Context, limit int) ([]domain.EventHistoryRecord, error)
}

type EventHandler struct {
	history HistoryReader
	logger  *slog.Logger
}

func NewEventHandler(history HistoryReader, logger *slog.Logger) *EventHandler {
	return &EventHandler{history: history, logger: logger}
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

func (h *EventHandler) Recent(w http.ResponseWriter, r *http.Request) {
	records, err := h.history.Recent(r.Context(), parseLimit(r, 50))
	if err != nil {
		h.logger.Error("listing recent events", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	respondJSON(w, http.StatusOK, itemsResponse[domain.EventHistoryRecord]{Items: records})
}

func (h *EventHandler) Failures(w http.ResponseWriter, r *http.Request) {
	records, err := h.history.Failures(r.Context(), parseLimit(r, 50))
	if err != nil {
		h.logger.Error("listing recent failures", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list failures")
		return
	}
	respondJSON(w, http.StatusOK, itemsResponse[domain.EventHistoryRecord]{Items: records})
}
