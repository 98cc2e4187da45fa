package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
	"github.com/calebmorrow/hearthside/internal/websocket"
)

type GoalHandler struct {
	goals  *store.GoalStore
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewGoalHandler(gs *store.GoalStore, hub *websocket.Hub, logger *slog.Logger) *GoalHandler {
	return &GoalHandler{goals: gs, hub: hub, logger: logger}
}

func (h *GoalHandler) broadcast(spaceID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(spaceID, msg)
	}
}

type goalRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	TargetDate  *string `json:"target_date"`
	Progress    *int    `json:"progress"`
}

func validateGoal(req *goalRequest) []Issue {
	var issues []Issue

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		issues = append(issues, Issue{Field: "title", Message: "title is required"})
	}

	if req.Status == "" {
		req.Status = model.GoalStatusActive
	}
	switch req.Status {
	case model.GoalStatusActive, model.GoalStatusCompleted, model.GoalStatusAbandoned:
	default:
		issues = append(issues, Issue{Field: "status", Message: "status must be active, completed, or abandoned"})
	}

	if req.TargetDate != nil && *req.TargetDate != "" {
		if _, err := parseDate(*req.TargetDate); err != nil {
			issues = append(issues, Issue{Field: "target_date", Message: "target_date must be YYYY-MM-DD"})
		}
	}

	if req.Progress != nil && (*req.Progress < 0 || *req.Progress > 100) {
		issues = append(issues, Issue{Field: "progress", Message: "progress must be between 0 and 100"})
	}

	return issues
}

func (h *GoalHandler) Create(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	var req goalRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if issues := validateGoal(&req); len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	targetDate, _ := parseDatePtr(req.TargetDate)
	created, err := h.goals.Create(spaceID, req.Title, req.Description, targetDate)
	if err != nil {
		h.logger.Error("create goal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create goal")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("goal", "created", created.ID, nil))
	writeData(w, http.StatusCreated, created)
}

func (h *GoalHandler) List(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	goals, err := h.goals.List(spaceID)
	if err != nil {
		h.logger.Error("list goals", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list goals")
		return
	}
	if goals == nil {
		goals = []model.Goal{}
	}

	writeData(w, http.StatusOK, goals)
}

func (h *GoalHandler) Get(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	goal, err := h.goals.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get goal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get goal")
		return
	}
	if goal == nil {
		writeError(w, http.StatusNotFound, "goal not found")
		return
	}

	writeData(w, http.StatusOK, goal)
}

func (h *GoalHandler) Update(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.goals.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get goal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update goal")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "goal not found")
		return
	}

	var req goalRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if issues := validateGoal(&req); len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	progress := existing.Progress
	if req.Progress != nil {
		progress = *req.Progress
	}

	targetDate, _ := parseDatePtr(req.TargetDate)
	updated, err := h.goals.Update(spaceID, id, req.Title, req.Description, req.Status, targetDate, progress)
	if err != nil {
		h.logger.Error("update goal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update goal")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("goal", "updated", id, nil))
	writeData(w, http.StatusOK, updated)
}

// UpdateProgress adjusts only the progress value. Hitting 100 marks the
// goal completed in the store.
func (h *GoalHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.goals.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get goal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update progress")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "goal not found")
		return
	}

	var req struct {
		Progress int `json:"progress"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Progress < 0 || req.Progress > 100 {
		writeIssues(w, "validation failed", []Issue{{Field: "progress", Message: "progress must be between 0 and 100"}})
		return
	}

	updated, err := h.goals.UpdateProgress(spaceID, id, req.Progress)
	if err != nil {
		h.logger.Error("update goal progress", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update progress")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("goal", "updated", id, nil))
	writeData(w, http.StatusOK, updated)
}

func (h *GoalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.goals.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get goal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete goal")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "goal not found")
		return
	}

	if err := h.goals.Delete(spaceID, id); err != nil {
		h.logger.Error("delete goal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete goal")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("goal", "deleted", id, nil))
	writeData(w, http.StatusOK, map[string]string{"message": "goal deleted"})
}
