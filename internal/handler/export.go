package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/billing"
	"github.com/calebmorrow/hearthside/internal/export"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
)

const exportPageSize = 20

type ExportHandler struct {
	manager *export.Manager
	exports *store.ExportStore
	gate    *billing.Gate
	logger  *slog.Logger
}

func NewExportHandler(m *export.Manager, es *store.ExportStore, gate *billing.Gate, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{manager: m, exports: es, gate: gate, logger: logger}
}

// Request starts a space export. Admin only; the archive builds in the
// background and the client polls the list for completion.
func (h *ExportHandler) Request(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	if h.manager == nil || !h.manager.Enabled() {
		writeError(w, http.StatusBadRequest, "exports are not configured")
		return
	}

	now := time.Now().UTC()
	if err := h.gate.Allow(ac.SpaceID, model.MetricExportsRequested, now); err != nil {
		if errors.Is(err, billing.ErrLimitReached) {
			writeError(w, http.StatusForbidden, "plan limit reached")
			return
		}
		h.logger.Error("export gate", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to request export")
		return
	}

	record, err := h.manager.Request(ac.SpaceID, ac.UserID)
	if err != nil {
		if errors.Is(err, export.ErrExportPending) {
			writeError(w, http.StatusConflict, "an export is already in progress")
			return
		}
		h.logger.Error("request export", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to request export")
		return
	}
	h.gate.Record(ac.SpaceID, model.MetricExportsRequested, now)

	writeData(w, http.StatusAccepted, record)
}

func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	exports, err := h.exports.List(spaceID, exportPageSize)
	if err != nil {
		h.logger.Error("list exports", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list exports")
		return
	}
	if exports == nil {
		exports = []model.SpaceExport{}
	}

	writeData(w, http.StatusOK, exports)
}

// Download streams the encrypted archive. This is the one endpoint that
// doesn't wrap its response in the JSON envelope.
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if h.manager == nil || !h.manager.Enabled() {
		writeError(w, http.StatusBadRequest, "exports are not configured")
		return
	}

	body, size, filename, err := h.manager.Download(r.Context(), id, spaceID)
	if err != nil {
		if errors.Is(err, export.ErrNotFound) {
			writeError(w, http.StatusNotFound, "export not found or not ready")
			return
		}
		h.logger.Error("download export", "export_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "failed to download export")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Error("stream export", "export_id", id, "error", err)
	}
}

// Delete removes an export and its stored object. Admin only.
func (h *ExportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if h.manager == nil {
		writeError(w, http.StatusBadRequest, "exports are not configured")
		return
	}

	if err := h.manager.Delete(r.Context(), id, spaceID); err != nil {
		if errors.Is(err, export.ErrNotFound) {
			writeError(w, http.StatusNotFound, "export not found")
			return
		}
		h.logger.Error("delete export", "export_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete export")
		return
	}

	writeData(w, http.StatusOK, map[string]string{"message": "export deleted"})
}
