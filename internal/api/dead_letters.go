package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/Priya8975/fastweigh-event-gateway/internal/queue"
)

type DeadLetterQueue interface {
	DeadLetters(ctx context.Context, limit int) ([]queue.DeadLetter, error)
	ReplayDeadLetter(ctx context.Context, id, reason string) (*queue.Job, *queue.DeadLetter, error)
}

type EventReader interface {
	Get(ctx context.Context, eventID string) (*domain.CanonicalEventRecord, error)
}

type HistoryRecorder interface {
	RecordQuietly(ctx context.Context, record domain.EventHistoryRecord)
}

type DeadLetterHandler struct {
	queue   DeadLetterQueue
	events  EventReader
	history HistoryRecorder
	logger  *slog.Logger
}

func NewDeadLetterHandler(q DeadLetterQueue, events EventReader, history HistoryRecorder, logger *slog.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{queue: q, events: events, history: history, logger: logger}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	letters, err := h.queue.DeadLetters(r.Context(), parseLimit(r, 50))
	if err != nil {
		h.logger.Error("listing dead letters", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	respondJSON(w, http.StatusOK, itemsResponse[queue.DeadLetter]{Items: letters})
}

type replayResponse struct {
	Replayed int      `json:"replayed"`
	JobIDs   []string `json:"job_ids"`
}

// Replay re-enqueues dead letters with the dlq-replay reason. With ?id= it
// replays that single letter, otherwise every letter up to the list cap.
func (h *DeadLetterHandler) Replay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ids := []string{}
	if id := r.URL.Query().Get("id"); id != "" {
		ids = append(ids, id)
	} else {
		letters, err := h.queue.DeadLetters(ctx, maxListLimit)
		if err != nil {
			h.logger.Error("listing dead letters for replay", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to list dead letters")
			return
		}
		for _, l := range letters {
			ids = append(ids, l.ID)
		}
	}

	resp := replayResponse{JobIDs: []string{}}
	for _, id := range ids {
		job, _, err := h.queue.ReplayDeadLetter(ctx, id, domain.ReplayReasonDLQ)
		if err != nil {
			// A bulk replay racing another operator loses some letters; only
			// an explicitly requested id is reported.
			if domain.IsNotFound(err) && len(ids) > 1 {
				continue
			}
			respondErr(w, r, err)
			return
		}
		h.recordReplay(ctx, job.Data)
		resp.Replayed++
		resp.JobIDs = append(resp.JobIDs, job.ID)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *DeadLetterHandler) recordReplay(ctx context.Context, data domain.QueueJob) {
	record := domain.EventHistoryRecord{
		Timestamp: time.Now().UTC(),
		Status:    domain.HistoryReplayed,
		EventID:   data.EventID,
		AuditID:   data.AuditID,
		Detail:    "replay requested from dead-letter queue",
	}
	if canonical, err := h.events.Get(ctx, data.EventID); err == nil {
		record = domain.HistoryFor(canonical.Event, domain.HistoryReplayed, data.AuditID, record.Detail, record.Timestamp)
	}
	h.history.RecordQuietly(ctx, record)
}
