package handler

import (
	"net/http"
	"strconv"
)

// ActionHandler serves the engine's ring of recently emitted actions.
type ActionHandler struct {
	engine EngineView
}

// NewActionHandler creates an ActionHandler.
func NewActionHandler(engine EngineView) *ActionHandler {
	return &ActionHandler{engine: engine}
}

// ListRecent returns the newest actions first.
// GET /api/actions/recent?limit=N
func (h *ActionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	actions := h.engine.RecentActions(limit)
	out := make([]actionView, 0, len(actions))
	for _, a := range actions {
		if v, ok := toActionView(a); ok {
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": out,
		"count":   len(out),
	})
}
