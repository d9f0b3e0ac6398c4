package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/paperdesk/internal/domain"
)

// ArchiveLister lists archived history objects.
type ArchiveLister interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// ArchiveHandler serves the archive listing.
type ArchiveHandler struct {
	blobs  ArchiveLister
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs ArchiveLister, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: componentLogger(logger, "archive")}
}

// ListArchives lists archive files of one kind (positions or orders).
// GET /api/archive?kind=positions
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	switch kind {
	case "", "positions", "orders":
	default:
		writeBadRequest(w, "kind must be positions or orders")
		return
	}

	prefix := "archive/"
	if kind != "" {
		prefix += kind + "/"
	}
	files, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if files == nil {
		files = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}
