package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/billing"
	"github.com/calebmorrow/hearthside/internal/email"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
)

type SpaceHandler struct {
	spaces   *store.SpaceStore
	users    *store.UserStore
	sessions *store.SessionStore
	links    *store.MagicLinkStore
	email    *email.Client
	gate     *billing.Gate
	logger   *slog.Logger
}

func NewSpaceHandler(
	sps *store.SpaceStore,
	us *store.UserStore,
	ss *store.SessionStore,
	mls *store.MagicLinkStore,
	ec *email.Client,
	gate *billing.Gate,
	logger *slog.Logger,
) *SpaceHandler {
	return &SpaceHandler{
		spaces:   sps,
		users:    us,
		sessions: ss,
		links:    mls,
		email:    ec,
		gate:     gate,
		logger:   logger,
	}
}

type spaceRequest struct {
	Name string `json:"name"`
}

// Create opens a second (or third...) space for the signed-in user, who
// becomes its admin. Defaults are seeded like at registration.
func (h *SpaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req spaceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeIssues(w, "validation failed", []Issue{{Field: "name", Message: "name is required"}})
		return
	}

	space, err := h.spaces.Create(req.Name)
	if err != nil {
		h.logger.Error("create space", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create space")
		return
	}
	if _, err := h.spaces.AddMember(space.ID, userID, model.RoleAdmin); err != nil {
		h.logger.Error("add creator", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create space")
		return
	}
	if err := h.spaces.SeedDefaults(space.ID); err != nil {
		h.logger.Error("seed defaults", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create space")
		return
	}

	writeData(w, http.StatusCreated, space)
}

func (h *SpaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	space, err := h.spaces.GetByID(spaceID)
	if err != nil {
		h.logger.Error("get space", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get space")
		return
	}
	if space == nil {
		writeError(w, http.StatusNotFound, "space not found")
		return
	}
	writeData(w, http.StatusOK, space)
}

func (h *SpaceHandler) Update(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	var req spaceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeIssues(w, "validation failed", []Issue{{Field: "name", Message: "name is required"}})
		return
	}

	space, err := h.spaces.Update(spaceID, req.Name)
	if err != nil {
		h.logger.Error("update space", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update space")
		return
	}
	writeData(w, http.StatusOK, space)
}

// Delete removes the active space and everything in it. Admin only. The
// schema cascades, so members, tasks, budgets, and the rest go with it;
// sessions still pointing here fail their membership check on the next
// request and the client switches or re-registers.
func (h *SpaceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	space, err := h.spaces.GetByID(spaceID)
	if err != nil {
		h.logger.Error("get space", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete space")
		return
	}
	if space == nil {
		writeError(w, http.StatusNotFound, "space not found")
		return
	}

	if err := h.spaces.Delete(spaceID); err != nil {
		h.logger.Error("delete space", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete space")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"message": "space deleted"})
}

func (h *SpaceHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	spaces, err := h.spaces.ListSpacesForUser(userID)
	if err != nil {
		h.logger.Error("list spaces", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list spaces")
		return
	}
	if spaces == nil {
		spaces = []model.Space{}
	}
	writeData(w, http.StatusOK, spaces)
}

func (h *SpaceHandler) Members(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	members, err := h.spaces.ListMembers(spaceID)
	if err != nil {
		h.logger.Error("list members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	if members == nil {
		members = []model.SpaceMemberDetail{}
	}
	writeData(w, http.StatusOK, members)
}

// RemoveMember drops a member from the space. The last admin cannot be
// removed; a member may remove themself (leave).
func (h *SpaceHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	spaceID := ac.SpaceID

	targetID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if targetID != ac.UserID && ac.Role != model.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	member, err := h.spaces.GetMember(spaceID, targetID)
	if err != nil {
		h.logger.Error("get member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}
	if member == nil {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}

	if member.Role == model.RoleAdmin {
		admins, err := h.spaces.CountAdmins(spaceID)
		if err != nil {
			h.logger.Error("count admins", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to remove member")
			return
		}
		if admins <= 1 {
			writeError(w, http.StatusBadRequest, "cannot remove the last admin")
			return
		}
	}

	if err := h.spaces.RemoveMember(spaceID, targetID); err != nil {
		h.logger.Error("remove member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}

	// Sessions pinned to this space stop working at the membership
	// re-check; drop them outright so the user lands cleanly elsewhere.
	if err := h.sessions.DeleteByUserID(targetID); err != nil {
		h.logger.Error("revoke removed member sessions", "error", err)
	}

	writeData(w, http.StatusOK, map[string]string{"message": "member removed"})
}

func (h *SpaceHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	targetID, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Role != model.RoleAdmin && req.Role != model.RoleMember {
		writeError(w, http.StatusBadRequest, "role must be admin or member")
		return
	}

	member, err := h.spaces.GetMember(spaceID, targetID)
	if err != nil {
		h.logger.Error("get member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update role")
		return
	}
	if member == nil {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}

	if member.Role == model.RoleAdmin && req.Role == model.RoleMember {
		admins, err := h.spaces.CountAdmins(spaceID)
		if err != nil {
			h.logger.Error("count admins", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update role")
			return
		}
		if admins <= 1 {
			writeError(w, http.StatusBadRequest, "cannot demote the last admin")
			return
		}
	}

	updated, err := h.spaces.UpdateMemberRole(spaceID, targetID, req.Role)
	if err != nil {
		h.logger.Error("update member role", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update role")
		return
	}
	writeData(w, http.StatusOK, updated)
}

// Invite mails a join code for the active space. Free spaces are capped on
// invites per month.
func (h *SpaceHandler) Invite(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	var req struct {
		Email string `json:"email"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeIssues(w, "validation failed", []Issue{{Field: "email", Message: "a valid email is required"}})
		return
	}

	now := time.Now().UTC()
	if err := h.gate.Allow(spaceID, model.MetricMembersInvited, now); err != nil {
		if errors.Is(err, billing.ErrLimitReached) {
			writeError(w, http.StatusForbidden, "plan limit reached")
			return
		}
		h.logger.Error("invite gate", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send invitation")
		return
	}

	space, err := h.spaces.GetByID(spaceID)
	if err != nil || space == nil {
		h.logger.Error("invite space lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send invitation")
		return
	}

	ml, err := h.links.Create(req.Email, model.PurposeInvite, &spaceID)
	if err != nil {
		h.logger.Error("create invite token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send invitation")
		return
	}

	if h.email != nil && h.email.Configured() {
		if err := h.email.SendAuthToken(r.Context(), req.Email, ml.Token, model.PurposeInvite, space.Name); err != nil {
			h.logger.Error("send invite email", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to send invitation")
			return
		}
	}

	h.gate.Record(spaceID, model.MetricMembersInvited, now)
	writeData(w, http.StatusOK, map[string]string{"message": "invitation sent"})
}
