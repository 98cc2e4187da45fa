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

type ProjectHandler struct {
	projects *store.ProjectStore
	tasks    *store.TaskStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewProjectHandler(ps *store.ProjectStore, ts *store.TaskStore, hub *websocket.Hub, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{projects: ps, tasks: ts, hub: hub, logger: logger}
}

func (h *ProjectHandler) broadcast(spaceID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(spaceID, msg)
	}
}

type projectRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	DueDate     *string `json:"due_date"`
}

func validateProject(req *projectRequest) []Issue {
	var issues []Issue

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		issues = append(issues, Issue{Field: "title", Message: "title is required"})
	}

	if req.Status == "" {
		req.Status = model.ProjectStatusActive
	}
	switch req.Status {
	case model.ProjectStatusActive, model.ProjectStatusOnHold, model.ProjectStatusDone:
	default:
		issues = append(issues, Issue{Field: "status", Message: "status must be active, on_hold, or done"})
	}

	if req.DueDate != nil && *req.DueDate != "" {
		if _, err := parseDate(*req.DueDate); err != nil {
			issues = append(issues, Issue{Field: "due_date", Message: "due_date must be YYYY-MM-DD"})
		}
	}

	return issues
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	var req projectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if issues := validateProject(&req); len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	dueDate, _ := parseDatePtr(req.DueDate)
	created, err := h.projects.Create(spaceID, req.Title, req.Description, req.Status, dueDate)
	if err != nil {
		h.logger.Error("create project", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("project", "created", created.ID, nil))
	writeData(w, http.StatusCreated, created)
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	projects, err := h.projects.List(spaceID)
	if err != nil {
		h.logger.Error("list projects", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	if projects == nil {
		projects = []model.ProjectSummary{}
	}

	writeData(w, http.StatusOK, projects)
}

// Get returns the project along with its tasks.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	project, err := h.projects.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get project", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get project")
		return
	}
	if project == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	tasks, err := h.tasks.ListByProject(spaceID, id)
	if err != nil {
		h.logger.Error("list project tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get project")
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}

	writeData(w, http.StatusOK, map[string]any{"project": project, "tasks": tasks})
}

func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.projects.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get project", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update project")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	var req projectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if issues := validateProject(&req); len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	dueDate, _ := parseDatePtr(req.DueDate)
	updated, err := h.projects.Update(spaceID, id, req.Title, req.Description, req.Status, dueDate)
	if err != nil {
		h.logger.Error("update project", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update project")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("project", "updated", id, nil))
	writeData(w, http.StatusOK, updated)
}

// Delete removes a project. Tasks under it survive with their project_id
// cleared by the schema's ON DELETE SET NULL.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.projects.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get project", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete project")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	if err := h.projects.Delete(spaceID, id); err != nil {
		h.logger.Error("delete project", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete project")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("project", "deleted", id, nil))
	writeData(w, http.StatusOK, map[string]string{"message": "project deleted"})
}
