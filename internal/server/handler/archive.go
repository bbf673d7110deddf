package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

// archivePrefix matches the object layout written by the S3 archiver.
const archivePrefix = "archive/submissions/"

// ArchiveHandler lists and serves daily submission archives.
type ArchiveHandler struct {
	reader domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, logger: logHandler(logger, "archive")}
}

type archiveView struct {
	Day          string    `json:"day"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// List returns the archived days.
// GET /api/archives
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	infos, err := h.reader.List(r.Context(), archivePrefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to list archives")
		return
	}
	out := make([]archiveView, 0, len(infos))
	for _, info := range infos {
		day := strings.TrimSuffix(strings.TrimPrefix(info.Path, archivePrefix), ".jsonl")
		out = append(out, archiveView{
			Day:          day,
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archives": out,
		"count":    len(out),
	})
}

// Get streams one day's JSONL file.
// GET /api/archives/{day}   day is YYYY-MM-DD
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	day := r.PathValue("day")
	if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}

	body, err := h.reader.Get(r.Context(), archivePrefix+day+".jsonl")
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get archive",
			slog.String("day", day),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to read archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "stream archive", slog.String("error", err.Error()))
	}
}
