package http

import (
	"net/http"

	"timed-dispatch/internal/dispatch"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// StatsProvider reports dispatcher counters.
type StatsProvider interface {
	Stats() dispatch.Stats
}

// DispatcherHandler serves GET /dispatcher.
type DispatcherHandler struct {
	stats  StatsProvider
	tracer trace.Tracer
}

func NewDispatcherHandler(stats StatsProvider) *DispatcherHandler {
	return &DispatcherHandler{
		stats:  stats,
		tracer: otel.Tracer("timed-dispatch-api"),
	}
}

func (h *DispatcherHandler) RegisterRoutes(mux *http.ServeMux) {
	route := func(*http.Request) string { return "/dispatcher" }
	mux.Handle("/dispatcher", instrument(h.tracer, route, http.HandlerFunc(h.handleStats)))
}

func (h *DispatcherHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Stats())
}
