package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/billing"
	"github.com/calebmorrow/hearthside/internal/calendar"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
	"github.com/calebmorrow/hearthside/internal/websocket"
)

const syncLogPageSize = 20

type CalendarHandler struct {
	events      *store.EventStore
	connections *store.CalendarConnectionStore
	conflicts   *store.ConflictStore
	logs        *store.SyncLogStore
	spaces      *store.SpaceStore
	engine      *calendar.Engine
	gate        *billing.Gate
	hub         *websocket.Hub
	stateSecret string
	logger      *slog.Logger
}

func NewCalendarHandler(
	es *store.EventStore,
	cs *store.CalendarConnectionStore,
	cfs *store.ConflictStore,
	ls *store.SyncLogStore,
	sps *store.SpaceStore,
	engine *calendar.Engine,
	gate *billing.Gate,
	hub *websocket.Hub,
	stateSecret string,
	logger *slog.Logger,
) *CalendarHandler {
	return &CalendarHandler{
		events:      es,
		connections: cs,
		conflicts:   cfs,
		logs:        ls,
		spaces:      sps,
		engine:      engine,
		gate:        gate,
		hub:         hub,
		stateSecret: stateSecret,
		logger:      logger,
	}
}

func (h *CalendarHandler) broadcast(spaceID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(spaceID, msg)
	}
}

// provider resolves a configured provider client or reports why it can't.
func (h *CalendarHandler) provider(name string) (calendar.Provider, string) {
	if name != model.ProviderGoogle && name != model.ProviderOutlook {
		return nil, "unknown provider"
	}
	if h.engine == nil {
		return nil, "calendar sync is not configured"
	}
	p, ok := h.engine.ProviderFor(name)
	if !ok {
		return nil, "provider is not configured"
	}
	return p, ""
}

type eventRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	AllDay      bool   `json:"all_day"`
	AssignedTo  *int64 `json:"assigned_to"`
}

// validateEvent checks the request. The returned times are only valid
// when issues is empty.
func (h *CalendarHandler) validateEvent(spaceID int64, req *eventRequest) ([]Issue, time.Time, time.Time, error) {
	var issues []Issue
	var start, end time.Time

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		issues = append(issues, Issue{Field: "title", Message: "title is required"})
	}

	if req.StartTime == "" {
		issues = append(issues, Issue{Field: "start_time", Message: "start_time is required"})
	} else {
		var err error
		start, err = time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			issues = append(issues, Issue{Field: "start_time", Message: "start_time must be RFC 3339"})
		}
	}

	if req.EndTime == "" {
		issues = append(issues, Issue{Field: "end_time", Message: "end_time is required"})
	} else {
		var err error
		end, err = time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			issues = append(issues, Issue{Field: "end_time", Message: "end_time must be RFC 3339"})
		}
	}

	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		issues = append(issues, Issue{Field: "end_time", Message: "end_time must be after start_time"})
	}

	if req.AssignedTo != nil {
		member, err := h.spaces.GetMember(spaceID, *req.AssignedTo)
		if err != nil {
			return nil, start, end, err
		}
		if member == nil {
			issues = append(issues, Issue{Field: "assigned_to", Message: "assignee is not a member of this space"})
		}
	}

	return issues, start, end, nil
}

func (h *CalendarHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	var req eventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	issues, start, end, err := h.validateEvent(spaceID, &req)
	if err != nil {
		h.logger.Error("validate event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	now := time.Now().UTC()
	if err := h.gate.Allow(spaceID, model.MetricEventsCreated, now); err != nil {
		if errors.Is(err, billing.ErrLimitReached) {
			writeError(w, http.StatusForbidden, "plan limit reached")
			return
		}
		h.logger.Error("event gate", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	created, err := h.events.Create(spaceID, req.Title, req.Description, start, end, req.AllDay, req.AssignedTo, req.Location)
	if err != nil {
		h.logger.Error("create event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}
	h.gate.Record(spaceID, model.MetricEventsCreated, now)

	h.broadcast(spaceID, websocket.NewMessage("event", "created", created.ID, nil))
	writeData(w, http.StatusCreated, created)
}

// ListEvents returns events overlapping a date range, defaulting to the
// current month.
func (h *CalendarHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	q := r.URL.Query()

	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	if v := q.Get("start"); v != "" {
		parsed, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
		start = parsed
	}
	if v := q.Get("end"); v != "" {
		parsed, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
			return
		}
		end = parsed.AddDate(0, 0, 1)
	}

	events, err := h.events.ListByDateRange(spaceID, start, end)
	if err != nil {
		h.logger.Error("list events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.CalendarEvent{}
	}

	writeData(w, http.StatusOK, events)
}

func (h *CalendarHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	event, err := h.events.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if event == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	writeData(w, http.StatusOK, event)
}

func (h *CalendarHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.events.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update event")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	var req eventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	issues, start, end, err := h.validateEvent(spaceID, &req)
	if err != nil {
		h.logger.Error("validate event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update event")
		return
	}
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	updated, err := h.events.Update(spaceID, id, req.Title, req.Description, start, end, req.AllDay, req.AssignedTo, req.Location)
	if err != nil {
		h.logger.Error("update event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update event")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("event", "updated", id, nil))
	writeData(w, http.StatusOK, updated)
}

// DeleteEvent removes an event. Events that exist on a provider are
// soft-deleted so the next sync pass can push the deletion; purely local
// events go away immediately.
func (h *CalendarHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.events.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete event")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	if existing.ConnectionID != nil && existing.ProviderEventID != "" {
		err = h.events.MarkDeleted(spaceID, id)
	} else {
		err = h.events.Delete(spaceID, id)
	}
	if err != nil {
		h.logger.Error("delete event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete event")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("event", "deleted", id, nil))
	writeData(w, http.StatusOK, map[string]string{"message": "event deleted"})
}

// ConnectBegin starts the OAuth flow for a provider and returns the URL
// to send the member to. The state token carries who asked so the
// callback can't be replayed into another space.
func (h *CalendarHandler) ConnectBegin(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	providerName := r.PathValue("provider")

	p, reason := h.provider(providerName)
	if p == nil {
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	if ok, err := h.connectionCapacity(ac.SpaceID); err != nil {
		h.logger.Error("connection cap", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start connect flow")
		return
	} else if !ok {
		writeError(w, http.StatusForbidden, "plan limit reached")
		return
	}

	state, err := calendar.SignState(h.stateSecret, calendar.State{
		SpaceID:  ac.SpaceID,
		UserID:   ac.UserID,
		Provider: providerName,
	})
	if err != nil {
		h.logger.Error("sign oauth state", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start connect flow")
		return
	}

	writeData(w, http.StatusOK, map[string]string{"auth_url": p.AuthCodeURL(state)})
}

// connectionCapacity reports whether the space may add another calendar
// connection under its plan.
func (h *CalendarHandler) connectionCapacity(spaceID int64) (bool, error) {
	limit, err := h.gate.MaxConnections(spaceID)
	if err != nil {
		return false, err
	}
	count, err := h.connections.CountBySpace(spaceID)
	if err != nil {
		return false, err
	}
	return count < limit, nil
}

type callbackRequest struct {
	State      string `json:"state"`
	Code       string `json:"code"`
	CalendarID string `json:"calendar_id"`
}

// ConnectCallback finishes the OAuth flow. The browser lands on the app
// with state and code in the query; the app posts them here.
func (h *CalendarHandler) ConnectCallback(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req callbackRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.State == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "state and code are required")
		return
	}

	st, err := calendar.VerifyState(h.stateSecret, req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, "state is invalid or expired")
		return
	}
	if st.SpaceID != ac.SpaceID || st.UserID != ac.UserID {
		writeError(w, http.StatusForbidden, "state does not match this session")
		return
	}

	p, reason := h.provider(st.Provider)
	if p == nil {
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	// The cap is re-checked here: the redirect can sit for minutes and
	// another member may have connected in between.
	if ok, err := h.connectionCapacity(ac.SpaceID); err != nil {
		h.logger.Error("connection cap", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to connect calendar")
		return
	} else if !ok {
		writeError(w, http.StatusForbidden, "plan limit reached")
		return
	}

	token, err := p.ExchangeCode(r.Context(), req.Code)
	if err != nil {
		h.logger.Error("exchange oauth code", "provider", st.Provider, "error", err)
		writeError(w, http.StatusBadGateway, "provider rejected the authorization code")
		return
	}

	calendarID := req.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	conn, err := h.connections.Create(ac.SpaceID, ac.UserID, st.Provider, calendarID, token.AccessToken, token.RefreshToken, token.ExpiresAt)
	if err != nil {
		h.logger.Error("create calendar connection", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to connect calendar")
		return
	}

	h.broadcast(ac.SpaceID, websocket.NewMessage("calendar_connection", "created", conn.ID, nil))
	writeData(w, http.StatusCreated, conn)
}

func (h *CalendarHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	conns, err := h.connections.ListBySpace(spaceID)
	if err != nil {
		h.logger.Error("list calendar connections", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list connections")
		return
	}
	if conns == nil {
		conns = []model.CalendarConnection{}
	}

	writeData(w, http.StatusOK, conns)
}

// Disconnect removes a connection. Remote-origin events it imported stay
// local; their provider link is already scoped to the dead connection.
func (h *CalendarHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.connections.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get calendar connection", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}

	if err := h.connections.Delete(spaceID, id); err != nil {
		h.logger.Error("delete calendar connection", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("calendar_connection", "deleted", id, nil))
	writeData(w, http.StatusOK, map[string]string{"message": "calendar disconnected"})
}

// SyncNow runs a sync pass for one connection inline and returns its
// result counts.
func (h *CalendarHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if h.engine == nil {
		writeError(w, http.StatusBadRequest, "calendar sync is not configured")
		return
	}

	conn, err := h.connections.GetByID(spaceID, id)
	if err != nil {
		h.logger.Error("get calendar connection", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sync")
		return
	}
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}

	result, err := h.engine.SyncConnection(r.Context(), conn)
	if err != nil {
		h.logger.Error("sync connection", "connection_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "sync failed, the connection has been flagged")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("calendar", "synced", id, nil))
	writeData(w, http.StatusOK, result)
}

func (h *CalendarHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	conflicts, err := h.conflicts.ListOpen(spaceID)
	if err != nil {
		h.logger.Error("list conflicts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conflicts")
		return
	}
	if conflicts == nil {
		conflicts = []model.CalendarSyncConflict{}
	}

	writeData(w, http.StatusOK, conflicts)
}

// ResolveConflict picks a side for a parked conflict: keep the local
// copy or take the remote snapshot.
func (h *CalendarHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if h.engine == nil {
		writeError(w, http.StatusBadRequest, "calendar sync is not configured")
		return
	}

	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Resolution != model.ResolutionLocal && req.Resolution != model.ResolutionRemote {
		writeIssues(w, "validation failed", []Issue{{Field: "resolution", Message: "resolution must be local or remote"}})
		return
	}

	if err := h.engine.ResolveConflict(spaceID, id, req.Resolution); err != nil {
		switch {
		case errors.Is(err, calendar.ErrConflictNotFound):
			writeError(w, http.StatusNotFound, "conflict not found")
		case errors.Is(err, calendar.ErrConflictResolved):
			writeError(w, http.StatusBadRequest, "conflict is already resolved")
		default:
			h.logger.Error("resolve conflict", "conflict_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to resolve conflict")
		}
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("calendar_conflict", "resolved", id, nil))
	writeData(w, http.StatusOK, map[string]string{"message": "conflict resolved"})
}

func (h *CalendarHandler) ListSyncLogs(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	logs, err := h.logs.ListBySpace(spaceID, syncLogPageSize)
	if err != nil {
		h.logger.Error("list sync logs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sync logs")
		return
	}
	if logs == nil {
		logs = []model.CalendarSyncLog{}
	}

	writeData(w, http.StatusOK, logs)
}
