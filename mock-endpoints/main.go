// Command mock-endpoints runs local stand-ins for the downstream TMS webhook
// and the Fast-Weigh GraphQL API, for exercising the gateway end to end.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

var requestCount atomic.Int64

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	r := chi.NewRouter()

	r.Post("/tms/success", func(w http.ResponseWriter, r *http.Request) {
		logDelivery(logger, r, requestCount.Add(1), http.StatusOK)
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
	})

	r.Post("/tms/slow", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		time.Sleep(3 * time.Second)
		logDelivery(logger, r, count, http.StatusOK)
		writeJSON(w, http.StatusOK, map[string]string{"status": "received (slow)"})
	})

	r.Post("/tms/fail", func(w http.ResponseWriter, r *http.Request) {
		logDelivery(logger, r, requestCount.Add(1), http.StatusInternalServerError)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	})

	r.Post("/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid graphql request"})
			return
		}
		logger.Info("graphql request", "operation", operationName(req.Query), "variables", req.Variables)
		writeJSON(w, http.StatusOK, map[string]any{"data": resolve(req)})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int64{"total_requests": requestCount.Load()})
	})

	logger.Info("mock endpoint server starting", "port", port,
		"routes", []string{
			"POST /tms/success -> 200",
			"POST /tms/slow -> 200 after 3s",
			"POST /tms/fail -> 500",
			"POST /graphql -> canned tickets and orders",
			"GET /stats -> request count",
		},
	)

	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// resolve answers the handful of queries the gateway sends. Every resource
// reports an updatedAt of now, so each reconciliation run sees it as changed.
func resolve(req graphqlRequest) map[string]any {
	now := time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	id, _ := req.Variables["id"].(string)

	switch operationName(req.Query) {
	case "TicketById":
		return map[string]any{"ticket": map[string]any{
			"id":           id,
			"ticketNumber": "T-" + id,
			"status":       "COMPLETED",
			"updatedAt":    now,
			"netWeight":    21.5,
			"customer":     map[string]any{"id": "cust_1", "customerID": "C100", "customerName": "Acme Aggregates"},
			"order":        map[string]any{"id": "order_1", "status": "OPEN"},
		}}
	case "OrderById":
		return map[string]any{"order": map[string]any{
			"id":          id,
			"orderNumber": "O-" + id,
			"status":      "OPEN",
			"updatedAt":   now,
			"customer":    map[string]any{"id": "cust_1", "customerID": "C100", "customerName": "Acme Aggregates"},
		}}
	case "ChangedTickets":
		return map[string]any{"tickets": []map[string]any{
			{"id": "ticket_1", "updatedAt": now},
			{"id": "ticket_2", "updatedAt": now},
		}}
	case "ChangedOrders":
		return map[string]any{"orders": []map[string]any{
			{"id": "order_1", "updatedAt": now},
		}}
	}
	return map[string]any{}
}

func operationName(query string) string {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(query), "query"))
	if len(fields) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(fields[0], "(")
	return name
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func logDelivery(logger *slog.Logger, r *http.Request, count int64, status int) {
	logger.Info("tms delivery",
		"n", count,
		"path", r.URL.Path,
		"status", status,
		"event_id", r.Header.Get("X-Event-Id"),
		"idempotency_key", r.Header.Get("Idempotency-Key"),
		"signature", truncate(r.Header.Get("X-Webhook-Signature"), 16),
	)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
