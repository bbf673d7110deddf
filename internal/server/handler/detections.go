package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// DetectionHandler replays detection events from the durable stream so a
// client can catch up on what it missed before opening /ws.
type DetectionHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewDetectionHandler creates a DetectionHandler.
func NewDetectionHandler(bus domain.SignalBus, logger *slog.Logger) *DetectionHandler {
	return &DetectionHandler{bus: bus, logger: logHandler(logger, "detections")}
}

type detectionView struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	At      string         `json:"at"`
	Payload map[string]any `json:"payload"`
}

// List returns stream entries after the given id, oldest first.
// GET /api/detections?after=<stream id>&limit=N
func (h *DetectionHandler) List(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}

	msgs, err := h.bus.StreamRead(r.Context(), domain.StreamDetections, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read detection stream", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to read detections")
		return
	}

	out := make([]detectionView, 0, len(msgs))
	last := after
	for _, m := range msgs {
		last = m.ID
		ev, err := domain.DecodeBusEvent(m.Payload)
		if err != nil {
			h.logger.WarnContext(r.Context(), "skip undecodable detection",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, detectionView{
			ID:      m.ID,
			Type:    ev.Type,
			At:      ev.At.Format("2006-01-02T15:04:05.000Z07:00"),
			Payload: ev.Payload,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"detections": out,
		"count":      len(out),
		"next":       last,
	})
}
