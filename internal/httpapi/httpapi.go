// Package httpapi implements the HTTP surfaces for both services: the
// cognition service's own endpoints (checkpoint, sleep/wake lifecycle,
// canned-response gate) and the orchestrator's endpoints (GPU ownership,
// handoff requests, HA status). Routing follows the gorilla/mux pattern
// the rest of the example pack reaches for path-variable routes; the
// request/response shape (Content-Type header, status code, then
// json.NewEncoder(w).Encode) and the Server wrapper's http.Server with
// explicit Read/Write/Idle timeouts are both taken directly from the
// teacher's pkg/api.HealthServer, generalized from one fixed ServeMux to
// any mux.Router this package builds.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gaia-project/gaia-core/internal/gaiaerr"
)

// Server wraps an http.Server over a pre-built handler, matching the
// teacher's pkg/api.HealthServer Start/Shutdown shape.
type Server struct {
	httpServer *http.Server
}

// NewServer constructs a Server listening on addr and serving handler.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start blocks serving until the listener errors or Shutdown is called.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

// statusFor maps the gaiaerr taxonomy onto HTTP status
// codes: contract violations the caller could have avoided are 4xx,
// unavailable collaborators are 503, anything else is 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gaiaerr.ErrUnknownWorker),
		errors.Is(err, gaiaerr.ErrUnknownHandoff),
		errors.Is(err, gaiaerr.ErrNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, gaiaerr.ErrNotOwner),
		errors.Is(err, gaiaerr.ErrCancelRefused),
		errors.Is(err, gaiaerr.ErrStateViolation):
		return http.StatusConflict
	case errors.Is(err, gaiaerr.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, gaiaerr.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
