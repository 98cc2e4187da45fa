package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/store"
	"github.com/calebmorrow/hearthside/internal/websocket"
)

type SettingsHandler struct {
	settings *store.SettingsStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewSettingsHandler(ss *store.SettingsStore, hub *websocket.Hub, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: ss, hub: hub, logger: logger}
}

func (h *SettingsHandler) broadcast(spaceID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(spaceID, msg)
	}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	settings, err := h.settings.GetAll(spaceID)
	if err != nil {
		h.logger.Error("get settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}

	writeData(w, http.StatusOK, settings)
}

// Update sets space settings from a key/value map. Admin only; unknown
// keys are rejected so typos don't silently create dead settings.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	var req map[string]string
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req) == 0 {
		writeError(w, http.StatusBadRequest, "no settings provided")
		return
	}

	if err := validateSpaceSettings(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for key, value := range req {
		if err := h.settings.Set(spaceID, key, value); err != nil {
			h.logger.Error("save setting", "key", key, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}

	h.broadcast(spaceID, websocket.NewMessage("settings", "updated", 0, nil))

	settings, err := h.settings.GetAll(spaceID)
	if err != nil {
		h.logger.Error("get settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	writeData(w, http.StatusOK, settings)
}

func validateSpaceSettings(settings map[string]string) error {
	allowedKeys := map[string]bool{
		"week_start":            true,
		"currency":              true,
		"reminder_lead_minutes": true,
		"task_digest_hour":      true,
	}

	for key, value := range settings {
		if !allowedKeys[key] {
			return fmt.Errorf("unknown setting: %s", key)
		}

		switch key {
		case "week_start":
			if value != "monday" && value != "sunday" {
				return fmt.Errorf("week_start must be \"monday\" or \"sunday\"")
			}
		case "currency":
			if len(value) != 3 {
				return fmt.Errorf("currency must be a 3-letter code")
			}
		case "reminder_lead_minutes":
			n, err := strconv.Atoi(value)
			if err != nil || n < 5 || n > 240 {
				return fmt.Errorf("reminder_lead_minutes must be 5-240")
			}
		case "task_digest_hour":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 || n > 23 {
				return fmt.Errorf("task_digest_hour must be 0-23")
			}
		}
	}
	return nil
}
