package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/deletion"
	"github.com/calebmorrow/hearthside/internal/email"
	"github.com/calebmorrow/hearthside/internal/store"
)

type AccountHandler struct {
	users     *store.UserStore
	sessions  *store.SessionStore
	deletions *store.DeletionStore
	email     *email.Client
	logger    *slog.Logger
}

func NewAccountHandler(us *store.UserStore, ss *store.SessionStore, ds *store.DeletionStore, ec *email.Client, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{users: us, sessions: ss, deletions: ds, email: ec, logger: logger}
}

// UpdateProfile changes the user's name and email. A changed email drops
// the verified flag until the next verification pass.
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var issues []Issue
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		issues = append(issues, Issue{Field: "email", Message: "a valid email is required"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		issues = append(issues, Issue{Field: "name", Message: "name is required"})
	}
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	existing, err := h.users.GetByID(userID)
	if err != nil || existing == nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	if req.Email != existing.Email {
		inUse, err := h.users.GetByEmail(req.Email)
		if err != nil {
			h.logger.Error("check email", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update profile")
			return
		}
		if inUse != nil {
			writeIssues(w, "validation failed", []Issue{{Field: "email", Message: "email is already in use"}})
			return
		}
	}

	updated, err := h.users.Update(userID, req.Email, req.Name)
	if err != nil {
		h.logger.Error("update profile", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	writeData(w, http.StatusOK, updated)
}

// ChangePassword swaps the password after checking the current one. All
// other sessions are revoked.
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.NewPassword) < minPasswordLen {
		writeIssues(w, "validation failed", []Issue{{Field: "new_password", Message: "password must be at least 8 characters"}})
		return
	}

	user, err := h.users.GetByID(ac.UserID)
	if err != nil || user == nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to change password")
		return
	}

	// Accounts created through magic links may not have a password yet;
	// those can set one without a current password.
	if user.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)) != nil {
			writeError(w, http.StatusUnauthorized, "current password is incorrect")
			return
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to change password")
		return
	}
	if err := h.users.UpdatePasswordHash(ac.UserID, string(hash)); err != nil {
		h.logger.Error("update password", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to change password")
		return
	}

	if err := h.sessions.DeleteByUserIDExcept(ac.UserID, ac.SessionID); err != nil {
		h.logger.Error("revoke other sessions", "error", err)
	}

	writeData(w, http.StatusOK, map[string]string{"message": "password changed"})
}

// RequestDeletion starts the 30-day grace period. The password is
// required for accounts that have one. All sessions are revoked; logging
// back in during the grace window is how the user cancels.
func (h *AccountHandler) RequestDeletion(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req struct {
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	user, err := h.users.GetByID(userID)
	if err != nil || user == nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to request deletion")
		return
	}

	if user.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
			writeError(w, http.StatusUnauthorized, "password is incorrect")
			return
		}
	}

	pending, err := h.deletions.GetByUserID(userID)
	if err != nil {
		h.logger.Error("get pending deletion", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to request deletion")
		return
	}
	if pending != nil {
		writeError(w, http.StatusBadRequest, "deletion is already scheduled")
		return
	}

	row, err := h.deletions.Create(userID, user.Email, deletion.DefaultGracePeriod)
	if err != nil {
		h.logger.Error("create deletion request", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to request deletion")
		return
	}

	if err := h.sessions.DeleteByUserID(userID); err != nil {
		h.logger.Error("revoke sessions", "error", err)
	}

	if h.email != nil && h.email.Configured() {
		go func() {
			if err := h.email.SendDeletionRequested(context.Background(), user.Email, row.PermanentDeletionAt); err != nil {
				h.logger.Error("send deletion email", "error", err)
			}
		}()
	}

	writeData(w, http.StatusOK, map[string]any{
		"message":               "account deletion scheduled",
		"permanent_deletion_at": row.PermanentDeletionAt,
	})
}

// CancelDeletion aborts a pending deletion during the grace period.
func (h *AccountHandler) CancelDeletion(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	pending, err := h.deletions.GetByUserID(userID)
	if err != nil {
		h.logger.Error("get pending deletion", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel deletion")
		return
	}
	if pending == nil {
		writeError(w, http.StatusNotFound, "no deletion is scheduled")
		return
	}

	if err := h.deletions.CancelByUserID(userID); err != nil {
		h.logger.Error("cancel deletion", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel deletion")
		return
	}

	writeData(w, http.StatusOK, map[string]string{"message": "account deletion canceled"})
}

// DeletionStatus reports whether a deletion is pending and when it lands.
func (h *AccountHandler) DeletionStatus(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	pending, err := h.deletions.GetByUserID(userID)
	if err != nil {
		h.logger.Error("get pending deletion", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load deletion status")
		return
	}
	if pending == nil {
		writeData(w, http.StatusOK, map[string]any{"pending": false})
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"pending":               true,
		"requested_at":          pending.RequestedAt,
		"permanent_deletion_at": pending.PermanentDeletionAt,
	})
}
