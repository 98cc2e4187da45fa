package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
	"github.com/calebmorrow/hearthside/internal/websocket"
)

type MealHandler struct {
	meals  *store.MealStore
	spaces *store.SpaceStore
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewMealHandler(ms *store.MealStore, sps *store.SpaceStore, hub *websocket.Hub, logger *slog.Logger) *MealHandler {
	return &MealHandler{meals: ms, spaces: sps, hub: hub, logger: logger}
}

func (h *MealHandler) broadcast(spaceID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(spaceID, msg)
	}
}

type mealRequest struct {
	PlanDate   string `json:"plan_date"`
	Slot       string `json:"slot"`
	Title      string `json:"title"`
	Notes      string `json:"notes"`
	AssignedTo *int64 `json:"assigned_to"`
}

func (h *MealHandler) validate(spaceID int64, req *mealRequest) ([]Issue, error) {
	var issues []Issue

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		issues = append(issues, Issue{Field: "title", Message: "title is required"})
	}

	if req.PlanDate == "" {
		issues = append(issues, Issue{Field: "plan_date", Message: "plan_date is required"})
	} else if _, err := parseDate(req.PlanDate); err != nil {
		issues = append(issues, Issue{Field: "plan_date", Message: "plan_date must be YYYY-MM-DD"})
	}

	switch req.Slot {
	case model.SlotBreakfast, model.SlotLunch, model.SlotDinner, model.SlotSnack:
	default:
		issues = append(issues, Issue{Field: "slot", Message: "slot must be breakfast, lunch, dinner, or snack"})
	}

	if req.AssignedTo != nil {
		member, err := h.spaces.GetMember(spaceID, *req.AssignedTo)
		if err != nil {
			return nil, err
		}
		if member == nil {
			issues = append(issues, Issue{Field: "assigned_to", Message: "cook is not a member of this space"})
		}
	}

	return issues, nil
}

func (h *MealHandler) Create(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	var req mealRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	issues, err := h.validate(spaceID, &req)
	if err != nil {
		h.logger.Error("validate meal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create meal")
		return
	}
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	created, err := h.meals.Create(spaceID, req.PlanDate, req.Slot, req.Title, req.Notes, req.AssignedTo)
	if err != nil {
		h.logger.Error("create meal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create meal")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("meal", "created", created.ID, nil))
	writeData(w, http.StatusCreated, created)
}

// List returns meal entries in a date range. Without params it covers the
// current week, Monday through Sunday.
func (h *MealHandler) List(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	q := r.URL.Query()

	start, end := weekBounds(time.Now().UTC())
	if v := q.Get("start"); v != "" {
		if _, err := parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
		start = v
	}
	if v := q.Get("end"); v != "" {
		if _, err := parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
			return
		}
		end = v
	}

	meals, err := h.meals.ListByDateRange(spaceID, start, end)
	if err != nil {
		h.logger.Error("list meals", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list meals")
		return
	}
	if meals == nil {
		meals = []model.MealEntry{}
	}

	writeData(w, http.StatusOK, map[string]any{
		"start": start,
		"end":   end,
		"meals": meals,
	})
}

// weekBounds returns the Monday and Sunday of t's week as plan dates.
func weekBounds(t time.Time) (string, string) {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	monday := t.AddDate(0, 0, 1-weekday)
	sunday := monday.AddDate(0, 0, 6)
	return monday.Format("2006-01-02"), sunday.Format("2006-01-02")
}

func (h *MealHandler) Get(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	meal, err := h.meals.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get meal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get meal")
		return
	}
	if meal == nil {
		writeError(w, http.StatusNotFound, "meal not found")
		return
	}

	writeData(w, http.StatusOK, meal)
}

func (h *MealHandler) Update(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.meals.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get meal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update meal")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "meal not found")
		return
	}

	var req mealRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	issues, err := h.validate(spaceID, &req)
	if err != nil {
		h.logger.Error("validate meal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update meal")
		return
	}
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	updated, err := h.meals.Update(spaceID, id, req.PlanDate, req.Slot, req.Title, req.Notes, req.AssignedTo)
	if err != nil {
		h.logger.Error("update meal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update meal")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("meal", "updated", id, nil))
	writeData(w, http.StatusOK, updated)
}

func (h *MealHandler) Delete(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.meals.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get meal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete meal")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "meal not found")
		return
	}

	if err := h.meals.Delete(spaceID, id); err != nil {
		h.logger.Error("delete meal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete meal")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("meal", "deleted", id, nil))
	writeData(w, http.StatusOK, map[string]string{"message": "meal deleted"})
}
