package recorder

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler exposes the session's progress over HTTP for the optional status
// listener. It only ever reads tracker snapshots; the controller remains
// the sole writer.
type Handler struct {
	tracker *Tracker
	log     *slog.Logger
}

// NewHandler returns a Handler reading from the given tracker.
func NewHandler(tracker *Tracker, log *slog.Logger) *Handler {
	return &Handler{tracker: tracker, log: log}
}

// Status handles GET /status with a JSON progress snapshot.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snapshot := h.tracker.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.log.Error("status encode failed", slog.String("error", err.Error()))
	}
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
