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
	"github.com/calebmorrow/hearthside/internal/recurrence"
	"github.com/calebmorrow/hearthside/internal/store"
	"github.com/calebmorrow/hearthside/internal/task"
	"github.com/calebmorrow/hearthside/internal/websocket"
)

type TaskHandler struct {
	tasks  *store.TaskStore
	spaces *store.SpaceStore
	gate   *billing.Gate
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewTaskHandler(ts *store.TaskStore, sps *store.SpaceStore, gate *billing.Gate, hub *websocket.Hub, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: ts, spaces: sps, gate: gate, hub: hub, logger: logger}
}

func (h *TaskHandler) broadcast(spaceID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(spaceID, msg)
	}
}

type taskRequest struct {
	ProjectID      *int64  `json:"project_id"`
	Title          string  `json:"title"`
	Notes          string  `json:"notes"`
	AssignedTo     *int64  `json:"assigned_to"`
	DueDate        *string `json:"due_date"`
	Priority       string  `json:"priority"`
	RecurrenceRule string  `json:"recurrence_rule"`
}

// validate normalizes the request and returns issues for anything wrong.
// The assignee must be a member of the space.
func (h *TaskHandler) validate(spaceID int64, req *taskRequest) ([]Issue, error) {
	var issues []Issue

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		issues = append(issues, Issue{Field: "title", Message: "title is required"})
	}

	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}
	switch req.Priority {
	case model.PriorityLow, model.PriorityNormal, model.PriorityHigh:
	default:
		issues = append(issues, Issue{Field: "priority", Message: "priority must be low, normal, or high"})
	}

	if req.DueDate != nil && *req.DueDate != "" {
		if _, err := parseDate(*req.DueDate); err != nil {
			issues = append(issues, Issue{Field: "due_date", Message: "due_date must be YYYY-MM-DD"})
		}
	}

	if req.RecurrenceRule != "" {
		if _, err := recurrence.Parse(req.RecurrenceRule); err != nil {
			issues = append(issues, Issue{Field: "recurrence_rule", Message: "invalid recurrence rule"})
		}
	}

	if req.AssignedTo != nil {
		member, err := h.spaces.GetMember(spaceID, *req.AssignedTo)
		if err != nil {
			return nil, err
		}
		if member == nil {
			issues = append(issues, Issue{Field: "assigned_to", Message: "assignee is not a member of this space"})
		}
	}

	return issues, nil
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	var req taskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	issues, err := h.validate(spaceID, &req)
	if err != nil {
		h.logger.Error("validate task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	now := time.Now().UTC()
	if err := h.gate.Allow(spaceID, model.MetricTasksCreated, now); err != nil {
		if errors.Is(err, billing.ErrLimitReached) {
			writeError(w, http.StatusForbidden, "plan limit reached")
			return
		}
		h.logger.Error("task gate", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	dueDate, _ := parseDatePtr(req.DueDate)
	created, err := h.tasks.Create(spaceID, req.ProjectID, req.Title, req.Notes, req.AssignedTo, dueDate, req.Priority, req.RecurrenceRule)
	if err != nil {
		h.logger.Error("create task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	h.gate.Record(spaceID, model.MetricTasksCreated, now)

	h.broadcast(spaceID, websocket.NewMessage("task", "created", created.ID, nil))
	writeData(w, http.StatusCreated, h.toStatusView(*created, now))
}

// toStatusView decorates a task with its derived status. Lookup failures
// degrade to pending rather than failing the response.
func (h *TaskHandler) toStatusView(t model.Task, now time.Time) task.WithStatus {
	var last *time.Time
	comp, err := h.tasks.LastCompletionForTask(t.ID)
	if err != nil {
		h.logger.Error("last completion", "task_id", t.ID, "error", err)
	}
	if comp != nil {
		last = &comp.CompletedAt
	}
	status, due := task.ComputeStatus(t, last, now)
	return task.WithStatus{Task: t, Status: status, CurrentDue: due, LastCompletion: last}
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	q := r.URL.Query()

	var (
		tasks []model.Task
		err   error
	)
	switch {
	case q.Get("assigned_to") != "":
		assignee, perr := parseInt64(q.Get("assigned_to"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid assigned_to")
			return
		}
		tasks, err = h.tasks.ListByAssignee(spaceID, assignee)
	case q.Get("project_id") != "":
		projectID, perr := parseInt64(q.Get("project_id"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid project_id")
			return
		}
		tasks, err = h.tasks.ListByProject(spaceID, projectID)
	default:
		tasks, err = h.tasks.List(spaceID)
	}
	if err != nil {
		h.logger.Error("list tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	// Due-window bounds filter on the computed occurrence date, so recurring
	// tasks match on their current occurrence.
	var dueAfter, dueBefore *time.Time
	if s := q.Get("due_after"); s != "" {
		d, perr := parseDate(s)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "due_after must be YYYY-MM-DD")
			return
		}
		dueAfter = &d
	}
	if s := q.Get("due_before"); s != "" {
		d, perr := parseDate(s)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "due_before must be YYYY-MM-DD")
			return
		}
		dueBefore = &d
	}

	statusFilter := q.Get("status")
	now := time.Now().UTC()
	views := make([]task.WithStatus, 0, len(tasks))
	for _, t := range tasks {
		v := h.toStatusView(t, now)
		if statusFilter != "" && string(v.Status) != statusFilter {
			continue
		}
		if dueAfter != nil || dueBefore != nil {
			if v.CurrentDue == nil {
				continue
			}
			if dueAfter != nil && v.CurrentDue.Before(*dueAfter) {
				continue
			}
			if dueBefore != nil && v.CurrentDue.After(*dueBefore) {
				continue
			}
		}
		views = append(views, v)
	}

	writeData(w, http.StatusOK, views)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	t, err := h.tasks.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	writeData(w, http.StatusOK, h.toStatusView(*t, time.Now().UTC()))
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.tasks.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	var req taskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	issues, err := h.validate(spaceID, &req)
	if err != nil {
		h.logger.Error("validate task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	dueDate, _ := parseDatePtr(req.DueDate)
	updated, err := h.tasks.Update(spaceID, id, req.ProjectID, req.Title, req.Notes, req.AssignedTo, dueDate, req.Priority, req.RecurrenceRule)
	if err != nil {
		h.logger.Error("update task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("task", "updated", id, nil))
	writeData(w, http.StatusOK, h.toStatusView(*updated, time.Now().UTC()))
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.tasks.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	if err := h.tasks.Delete(spaceID, id); err != nil {
		h.logger.Error("delete task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("task", "deleted", id, nil))
	writeData(w, http.StatusOK, map[string]string{"message": "task deleted"})
}

func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.tasks.GetByID(ac.SpaceID, id)
	if err != nil {
		h.logger.Error("get task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to complete task")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	completion, err := h.tasks.CreateCompletion(id, &ac.UserID)
	if err != nil {
		h.logger.Error("complete task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to complete task")
		return
	}

	h.broadcast(ac.SpaceID, websocket.NewMessage("task", "completed", id, nil))
	writeData(w, http.StatusCreated, completion)
}

// UndoComplete removes the task's most recent completion, flipping the
// current occurrence back to pending.
func (h *TaskHandler) UndoComplete(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.tasks.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to undo completion")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	last, err := h.tasks.LastCompletionForTask(id)
	if err != nil {
		h.logger.Error("last completion", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to undo completion")
		return
	}
	if last == nil {
		writeError(w, http.StatusBadRequest, "task has no completion to undo")
		return
	}

	if err := h.tasks.DeleteCompletion(last.ID); err != nil {
		h.logger.Error("undo completion", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to undo completion")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("task", "completion_undone", id, nil))
	writeData(w, http.StatusOK, map[string]string{"message": "completion undone"})
}
