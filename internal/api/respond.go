package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"
)

const maxListLimit = 500

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr writes a classified error as a go-errors response. Anything
// unclassified or server-side is reported without internal detail.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Code == 0 || rich.Code >= http.StatusInternalServerError {
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	rich.WithRequestID(middleware.GetReqID(r.Context()))
	respondJSON(w, rich.Code, rich.ToErrorResponse(false, nil))
}

// parseLimit reads ?limit=, falling back for missing or non-positive values
// and capping at maxListLimit.
func parseLimit(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	return min(n, maxListLimit)
}
