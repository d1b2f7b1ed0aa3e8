package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/quill-blog/apiserver/internal/apperror"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthResponse struct {
	Status string `json:"status"`
}

// Healthz reports whether the database answers within a second.
func Healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			writeError(w, apperror.Internal("database unavailable", err).WithStatus(http.StatusServiceUnavailable))
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}

// NotFound replies with the unmatched path.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, apperror.NotFound(fmt.Sprintf("Not Found - %s", r.URL.Path)))
}

// MethodNotAllowed replies 405 for a known path served under another method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, apperror.MethodNotAllowed(fmt.Sprintf("Method %s not allowed on %s", r.Method, r.URL.Path)))
}
