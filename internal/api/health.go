package api

import (
	"net/http"
)

const serviceName = "fast-weigh-event-gateway"

type healthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
}

// HealthHandler answers liveness checks without touching Redis.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, healthResponse{OK: true, Service: serviceName})
	}
}

type queueHealth struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
}

type adminHealthResponse struct {
	OK    bool        `json:"ok"`
	Queue queueHealth `json:"queue"`
}

// AdminHealth reports whether the queue is reachable and how busy it is.
func (h *DashboardHandler) AdminHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Counts(r.Context())
	if err != nil {
		h.logger.Error("admin health: reading queue counts", "error", err)
		respondError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	respondJSON(w, http.StatusOK, adminHealthResponse{
		OK:    true,
		Queue: queueHealth{Waiting: counts.Waiting, Active: counts.Active},
	})
}
