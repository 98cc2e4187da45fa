package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/billing"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/push"
	"github.com/calebmorrow/hearthside/internal/store"
	"github.com/calebmorrow/hearthside/internal/websocket"
)

const (
	maxMessageLen      = 4000
	defaultMessagePage = 50
	maxMessagePage     = 200
)

type MessageHandler struct {
	messages *store.MessageStore
	users    *store.UserStore
	gate     *billing.Gate
	hub      *websocket.Hub
	notifier *push.Scheduler
	logger   *slog.Logger
}

func NewMessageHandler(ms *store.MessageStore, us *store.UserStore, gate *billing.Gate, hub *websocket.Hub, notifier *push.Scheduler, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{messages: ms, users: us, gate: gate, hub: hub, notifier: notifier, logger: logger}
}

func (h *MessageHandler) broadcast(spaceID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(spaceID, msg)
	}
}

type messageRequest struct {
	Body string `json:"body"`
}

func validateBody(body string) (string, []Issue) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", []Issue{{Field: "body", Message: "body is required"}}
	}
	if len(body) > maxMessageLen {
		return "", []Issue{{Field: "body", Message: "body is too long"}}
	}
	return body, nil
}

// List pages backwards through the space's messages. Pass before_id to
// fetch older messages than a previous page.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	q := r.URL.Query()

	var beforeID int64
	if v := q.Get("before_id"); v != "" {
		parsed, err := parseInt64(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before_id")
			return
		}
		beforeID = parsed
	}

	limit := defaultMessagePage
	if v := q.Get("limit"); v != "" {
		parsed, err := parseInt64(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = int(parsed)
		if limit > maxMessagePage {
			limit = maxMessagePage
		}
	}

	messages, err := h.messages.List(spaceID, beforeID, limit)
	if err != nil {
		h.logger.Error("list messages", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []model.MessageDetail{}
	}

	writeData(w, http.StatusOK, messages)
}

func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req messageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	body, issues := validateBody(req.Body)
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	now := time.Now().UTC()
	if err := h.gate.Allow(ac.SpaceID, model.MetricMessagesPosted, now); err != nil {
		if errors.Is(err, billing.ErrLimitReached) {
			writeError(w, http.StatusForbidden, "plan limit reached")
			return
		}
		h.logger.Error("message gate", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to post message")
		return
	}

	created, err := h.messages.Create(ac.SpaceID, ac.UserID, body)
	if err != nil {
		h.logger.Error("post message", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to post message")
		return
	}
	h.gate.Record(ac.SpaceID, model.MetricMessagesPosted, now)

	h.broadcast(ac.SpaceID, websocket.NewMessage("message", "created", created.ID, map[string]any{"user_id": ac.UserID}))

	if h.notifier != nil {
		authorName := ""
		if u, err := h.users.GetByID(ac.UserID); err == nil && u != nil {
			authorName = u.Name
		}
		h.notifier.NotifyMessagePosted(ac.SpaceID, ac.UserID, authorName, body)
	}

	writeData(w, http.StatusCreated, created)
}

// Edit rewrites a message body. Only the author may edit.
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.messages.GetByID(ac.SpaceID, id)
	if err != nil {
		h.logger.Error("get message", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to edit message")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if existing.UserID != ac.UserID {
		writeError(w, http.StatusForbidden, "only the author can edit a message")
		return
	}

	var req messageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	body, issues := validateBody(req.Body)
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	updated, err := h.messages.UpdateBody(ac.SpaceID, id, body)
	if err != nil {
		h.logger.Error("edit message", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to edit message")
		return
	}

	h.broadcast(ac.SpaceID, websocket.NewMessage("message", "updated", id, nil))
	writeData(w, http.StatusOK, updated)
}

// Delete removes a message. Authors delete their own; admins may delete
// anyone's.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.messages.GetByID(ac.SpaceID, id)
	if err != nil {
		h.logger.Error("get message", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if existing.UserID != ac.UserID && ac.Role != model.RoleAdmin {
		writeError(w, http.StatusForbidden, "only the author or an admin can delete a message")
		return
	}

	if err := h.messages.Delete(ac.SpaceID, id); err != nil {
		h.logger.Error("delete message", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	h.broadcast(ac.SpaceID, websocket.NewMessage("message", "deleted", id, nil))
	writeData(w, http.StatusOK, map[string]string{"message": "message deleted"})
}
