// Package httpapi exposes the operational endpoints of the process. Session
// transitions are driven by workers through the service package, not over
// HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"idcheck/pkg/platform/middleware/requesttime"
	"idcheck/pkg/requestcontext"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether the session store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the thin HTTP layer over the session store's health.
type Handler struct {
	store  Pinger
	logger *slog.Logger
}

func NewHandler(store Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{store: store, logger: logger}
}

// NewRouter mounts /health and /metrics behind request id, panic recovery and
// request time middleware.
func NewRouter(h *Handler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestIDContext)
	r.Use(middleware.Recoverer)
	r.Use(requesttime.Middleware)

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	return r
}

// requestIDContext copies chi's request id into requestcontext so loggers
// below the transport can read it.
func requestIDContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.ErrorContext(ctx, "session store health check failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "store_unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
