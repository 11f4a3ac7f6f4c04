package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"decoywatch/internal/app"
	"decoywatch/internal/link"
	"decoywatch/internal/stats"
	"decoywatch/internal/store"
	"decoywatch/pkg/models"
)

// Source is the read side of the running application.
type Source interface {
	Store() *store.Store
	Stats() *stats.Aggregator
	Link() *link.Link
	Notices() []app.Notice
	Reload(ctx context.Context) error
}

type Handler struct {
	src    Source
	logger *zap.Logger
}

func NewHandler(src Source, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{src: src, logger: logger}
}

// GetEvents serves the in-memory window. It never reaches the backend.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{
		DecoyID:   q.Get("decoy_id"),
		EventType: models.EventType(q.Get("event_type")),
	}
	if filter.EventType != "" && !filter.EventType.Valid() {
		http.Error(w, "invalid event_type", http.StatusBadRequest)
		return
	}
	if since := q.Get("since"); since != "" {
		ts, err := models.ParseTimestamp(since)
		if err != nil {
			http.Error(w, "invalid since time", http.StatusBadRequest)
			return
		}
		filter.Since = ts.Time
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	window := h.src.Store().Snapshot()
	h.writeJSON(w, http.StatusOK, eventsResponse{
		Events:   window.Filter(filter),
		Total:    window.Len(),
		Capacity: window.Capacity,
		Version:  window.Version,
	})
}

type eventsResponse struct {
	Events   []models.EventRecord `json:"events"`
	Total    int                  `json:"total"`
	Capacity int                  `json:"capacity"`
	Version  uint64               `json:"version"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.src.Stats().View())
}

type statusResponse struct {
	Link    link.State   `json:"link"`
	Events  int          `json:"events"`
	Stale   bool         `json:"stats_stale"`
	Notices []app.Notice `json:"notices"`
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, statusResponse{
		Link:    h.src.Link().State(),
		Events:  h.src.Store().Len(),
		Stale:   h.src.Stats().Stale(),
		Notices: h.src.Notices(),
	})
}

func (h *Handler) GetNotices(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.src.Notices())
}

type reloadResponse struct {
	Failed []app.Subsystem `json:"failed"`
	Error  string          `json:"error,omitempty"`
}

// Reload refreshes stats and the event window. Partial failures are
// reported in the body; only a failure of every subsystem is a 502.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	err := h.src.Reload(ctx)
	resp := reloadResponse{Failed: []app.Subsystem{}}
	status := http.StatusOK

	var pf *app.PartialFailure
	switch {
	case err == nil:
	case errors.As(err, &pf):
		resp.Failed = pf.Failed
		resp.Error = pf.Error()
		if pf.Total() {
			status = http.StatusBadGateway
		}
	default:
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}
