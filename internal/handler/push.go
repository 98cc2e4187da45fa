package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/push"
	"github.com/calebmorrow/hearthside/internal/store"
)

type PushHandler struct {
	store   *store.PushStore
	service *push.Service
	logger  *slog.Logger
}

func NewPushHandler(ps *store.PushStore, svc *push.Service, logger *slog.Logger) *PushHandler {
	return &PushHandler{store: ps, service: svc, logger: logger}
}

// VAPIDKey hands the browser the public key it needs to subscribe.
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeError(w, http.StatusBadRequest, "push notifications are not configured")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"public_key": h.service.VAPIDPublicKey()})
}

type pushSubscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dhKey  string `json:"p256dh_key"`
	AuthKey    string `json:"auth_key"`
	DeviceName string `json:"device_name"`
}

// Subscribe registers a browser push subscription for the current user
// and space. Re-posting the same endpoint replaces the old row.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req pushSubscribeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var issues []Issue
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" {
		issues = append(issues, Issue{Field: "endpoint", Message: "endpoint is required"})
	}
	if req.P256dhKey == "" {
		issues = append(issues, Issue{Field: "p256dh_key", Message: "p256dh_key is required"})
	}
	if req.AuthKey == "" {
		issues = append(issues, Issue{Field: "auth_key", Message: "auth_key is required"})
	}
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	created, err := h.store.CreateSubscription(ac.UserID, ac.SpaceID, req.Endpoint, req.P256dhKey, req.AuthKey, req.DeviceName)
	if err != nil {
		h.logger.Error("create push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}

	writeData(w, http.StatusCreated, created)
}

func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	subs, err := h.store.ListByUser(ac.UserID, ac.SpaceID)
	if err != nil {
		h.logger.Error("list push subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}

	writeData(w, http.StatusOK, subs)
}

// Unsubscribe removes a push subscription by id. Only the owner may
// remove it.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	sub, err := h.store.GetByID(id, ac.SpaceID)
	if err != nil {
		h.logger.Error("get push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	if sub.UserID != ac.UserID {
		writeError(w, http.StatusForbidden, "not your subscription")
		return
	}

	if err := h.store.DeleteSubscription(id, ac.SpaceID); err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}

	writeData(w, http.StatusOK, map[string]string{"message": "unsubscribed"})
}

// Preferences returns the user's notification toggles for this space.
// Types without a stored row default to enabled.
func (h *PushHandler) Preferences(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	stored, err := h.store.GetPreferences(ac.UserID, ac.SpaceID)
	if err != nil {
		h.logger.Error("get notification preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}

	prefs := map[string]bool{
		model.NotifTypeTaskReminder:    true,
		model.NotifTypeEventReminder:   true,
		model.NotifTypeMessagePosted:   true,
		model.NotifTypeDeletionWarning: true,
	}
	for _, p := range stored {
		prefs[p.NotificationType] = p.Enabled
	}

	writeData(w, http.StatusOK, prefs)
}

type preferenceRequest struct {
	NotificationType string `json:"notification_type"`
	Enabled          bool   `json:"enabled"`
}

func (h *PushHandler) SetPreference(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req preferenceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	switch req.NotificationType {
	case model.NotifTypeTaskReminder, model.NotifTypeEventReminder,
		model.NotifTypeMessagePosted, model.NotifTypeDeletionWarning:
	default:
		writeIssues(w, "validation failed", []Issue{{Field: "notification_type", Message: "unknown notification type"}})
		return
	}

	if err := h.store.SetPreference(ac.UserID, ac.SpaceID, req.NotificationType, req.Enabled); err != nil {
		h.logger.Error("set notification preference", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save preference")
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"notification_type": req.NotificationType,
		"enabled":           req.Enabled,
	})
}
