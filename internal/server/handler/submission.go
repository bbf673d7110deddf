package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// SubmissionHandler serves stored submission history.
type SubmissionHandler struct {
	store  domain.SubmissionStore
	logger *slog.Logger
}

// NewSubmissionHandler creates a SubmissionHandler.
func NewSubmissionHandler(store domain.SubmissionStore, logger *slog.Logger) *SubmissionHandler {
	return &SubmissionHandler{store: store, logger: logHandler(logger, "submission")}
}

// List returns stored submissions, newest first.
// GET /api/submissions?limit=&offset=&since=&until=
func (h *SubmissionHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	subs, err := h.store.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list submissions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}

	out := make([]submissionView, 0, len(subs))
	for _, s := range subs {
		out = append(out, toSubmissionView(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"submissions": out,
		"count":       len(out),
		"limit":       opts.Limit,
		"offset":      opts.Offset,
	})
}

// Get returns one submission by action ID.
// GET /api/submissions/{id}
func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing submission id")
		return
	}
	sub, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get submission",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get submission")
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionView(sub))
}
