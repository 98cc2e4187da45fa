package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/email"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
)

const (
	sessionCookieName = "hearthside_session"
	maxCodeAttempts   = 5
	minPasswordLen    = 8
)

// checkEmailMsg is the enumeration-safe response for every flow that mails a
// token: the caller learns nothing about whether the address has an account.
const checkEmailMsg = "check your email"

type AuthHandler struct {
	users    *store.UserStore
	spaces   *store.SpaceStore
	sessions *store.SessionStore
	links    *store.MagicLinkStore
	email    *email.Client
	logger   *slog.Logger
}

func NewAuthHandler(
	us *store.UserStore,
	sps *store.SpaceStore,
	ss *store.SessionStore,
	mls *store.MagicLinkStore,
	ec *email.Client,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		users:    us,
		spaces:   sps,
		sessions: ss,
		links:    mls,
		email:    ec,
		logger:   logger,
	}
}

// sendToken mails a token without blocking the response. Failures are logged;
// the user can always request a fresh token.
func (h *AuthHandler) sendToken(toEmail, token, purpose, spaceName string) {
	if h.email == nil || !h.email.Configured() {
		return
	}
	go func() {
		if err := h.email.SendAuthToken(context.Background(), toEmail, token, purpose, spaceName); err != nil {
			h.logger.Error("send auth token", "purpose", purpose, "error", err)
		}
	}()
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(store.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	SpaceName string `json:"space_name"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.SpaceName = strings.TrimSpace(req.SpaceName)
	req.Name = strings.TrimSpace(req.Name)

	var issues []Issue
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		issues = append(issues, Issue{Field: "email", Message: "a valid email is required"})
	}
	if len(req.Password) < minPasswordLen {
		issues = append(issues, Issue{Field: "password", Message: "password must be at least 8 characters"})
	}
	if req.SpaceName == "" {
		issues = append(issues, Issue{Field: "space_name", Message: "space name is required"})
	}
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	existing, err := h.users.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("register lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing != nil {
		// Existing account: answer as if registration worked so the
		// address cannot be probed.
		writeData(w, http.StatusCreated, map[string]string{"message": checkEmailMsg})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	space, err := h.spaces.Create(req.SpaceName)
	if err != nil {
		h.logger.Error("create space", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	user, err := h.users.Create(req.Email, req.Name, string(hash))
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if _, err := h.spaces.AddMember(space.ID, user.ID, model.RoleAdmin); err != nil {
		h.logger.Error("add member", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.spaces.SeedDefaults(space.ID); err != nil {
		h.logger.Error("seed defaults", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ml, err := h.links.Create(req.Email, model.PurposeEmailVerify, &space.ID)
	if err != nil {
		h.logger.Error("create verify token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.sendToken(req.Email, ml.Token, model.PurposeEmailVerify, req.SpaceName)

	writeData(w, http.StatusCreated, map[string]string{"message": checkEmailMsg})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	ml, err := h.links.GetByToken(req.Token, model.PurposeEmailVerify)
	if err != nil {
		h.logger.Error("verify email lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ml == nil {
		writeError(w, http.StatusBadRequest, "token is invalid or expired")
		return
	}

	user, err := h.users.GetByEmail(ml.Email)
	if err != nil || user == nil {
		h.logger.Error("verify email user lookup", "error", err)
		writeError(w, http.StatusBadRequest, "token is invalid or expired")
		return
	}

	if err := h.users.MarkEmailVerified(user.ID); err != nil {
		h.logger.Error("mark email verified", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.links.MarkUsed(ml.ID); err != nil {
		h.logger.Error("mark token used", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeData(w, http.StatusOK, map[string]string{"message": "email verified"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.users.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil || user.PasswordHash == "" {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	h.startSession(w, r, user, nil)
}

// startSession picks the user's space (preferring the hint), creates a
// session, and writes the cookie plus the signed-in payload.
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user *model.User, spaceHint *int64) {
	spaces, err := h.spaces.ListSpacesForUser(user.ID)
	if err != nil {
		h.logger.Error("list spaces", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(spaces) == 0 {
		writeError(w, http.StatusForbidden, "not a member of any space")
		return
	}

	spaceID := spaces[0].ID
	if spaceHint != nil {
		for _, sp := range spaces {
			if sp.ID == *spaceHint {
				spaceID = sp.ID
				break
			}
		}
	}

	sess, err := h.sessions.Create(user.ID, spaceID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	setSessionCookie(w, r, sess.Token)

	writeData(w, http.StatusOK, map[string]any{
		"user":     user,
		"space_id": spaceID,
		"spaces":   spaces,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if sess, err := h.sessions.GetByToken(cookie.Value); err == nil && sess != nil {
			h.sessions.Delete(sess.ID)
		}
	}
	clearSessionCookie(w)
	writeData(w, http.StatusOK, map[string]string{"message": "signed out"})
}

func (h *AuthHandler) MagicLinkRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	// Same response whether or not the account exists.
	defer writeData(w, http.StatusOK, map[string]string{"message": checkEmailMsg})

	user, err := h.users.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("magic link lookup", "error", err)
		return
	}
	if user == nil {
		return
	}

	ml, err := h.links.Create(req.Email, model.PurposeLogin, nil)
	if err != nil {
		h.logger.Error("create login code", "error", err)
		return
	}
	h.sendToken(req.Email, ml.Token, model.PurposeLogin, "")
}

// validateCode checks a short code for the email, tracking attempts. Five
// wrong guesses burn the token. Returns the link on success or a message for
// the client on failure.
func (h *AuthHandler) validateCode(emailAddr, code, purpose string) (*model.MagicLink, string) {
	latest, err := h.links.GetLatestByEmail(emailAddr, purpose)
	if err != nil {
		h.logger.Error("validate code lookup", "error", err)
		return nil, "internal error"
	}
	if latest == nil {
		return nil, "code has expired or already been used"
	}

	if latest.Attempts >= maxCodeAttempts {
		h.links.MarkUsed(latest.ID)
		return nil, "too many incorrect attempts, request a new code"
	}

	if latest.Token != code {
		attempts, err := h.links.IncrementAttempts(latest.ID)
		if err != nil {
			h.logger.Error("increment attempts", "error", err)
		}
		if attempts >= maxCodeAttempts {
			h.links.MarkUsed(latest.ID)
			return nil, "too many incorrect attempts, request a new code"
		}
		return nil, "incorrect code"
	}

	if err := h.links.MarkUsed(latest.ID); err != nil {
		h.logger.Error("mark code used", "error", err)
		return nil, "internal error"
	}
	return latest, ""
}

func (h *AuthHandler) MagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Code = strings.TrimSpace(req.Code)
	if req.Email == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "email and code are required")
		return
	}

	ml, errMsg := h.validateCode(req.Email, req.Code, model.PurposeLogin)
	if errMsg != "" {
		writeError(w, http.StatusUnauthorized, errMsg)
		return
	}

	user, err := h.users.GetByEmail(ml.Email)
	if err != nil || user == nil {
		h.logger.Error("magic link user lookup", "error", err)
		writeError(w, http.StatusUnauthorized, "code has expired or already been used")
		return
	}

	h.startSession(w, r, user, ml.SpaceID)
}

func (h *AuthHandler) PasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	defer writeData(w, http.StatusOK, map[string]string{"message": checkEmailMsg})

	user, err := h.users.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("reset request lookup", "error", err)
		return
	}
	if user == nil {
		return
	}

	ml, err := h.links.Create(req.Email, model.PurposePasswordReset, nil)
	if err != nil {
		h.logger.Error("create reset token", "error", err)
		return
	}
	h.sendToken(req.Email, ml.Token, model.PurposePasswordReset, "")
}

func (h *AuthHandler) PasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeIssues(w, "validation failed", []Issue{
			{Field: "password", Message: "password must be at least 8 characters"},
		})
		return
	}

	ml, err := h.links.GetByToken(req.Token, model.PurposePasswordReset)
	if err != nil {
		h.logger.Error("reset token lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ml == nil {
		writeError(w, http.StatusBadRequest, "token is invalid or expired")
		return
	}

	user, err := h.users.GetByEmail(ml.Email)
	if err != nil || user == nil {
		h.logger.Error("reset user lookup", "error", err)
		writeError(w, http.StatusBadRequest, "token is invalid or expired")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.users.UpdatePasswordHash(user.ID, string(hash)); err != nil {
		h.logger.Error("update password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.links.MarkUsed(ml.ID); err != nil {
		h.logger.Error("mark reset used", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// A reset invalidates every open session for the account.
	if err := h.sessions.DeleteByUserID(user.ID); err != nil {
		h.logger.Error("revoke sessions", "error", err)
	}

	writeData(w, http.StatusOK, map[string]string{"message": "password updated, sign in again"})
}

func (h *AuthHandler) InviteAccept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if req.Password != "" && len(req.Password) < minPasswordLen {
		writeIssues(w, "validation failed", []Issue{
			{Field: "password", Message: "password must be at least 8 characters"},
		})
		return
	}

	ml, err := h.links.GetByToken(req.Token, model.PurposeInvite)
	if err != nil {
		h.logger.Error("invite token lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ml == nil || ml.SpaceID == nil {
		writeError(w, http.StatusBadRequest, "invitation is invalid or expired")
		return
	}

	user, err := h.users.GetByEmail(ml.Email)
	if err != nil {
		h.logger.Error("invite user lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		hash := ""
		if req.Password != "" {
			hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
			if err != nil {
				h.logger.Error("hash password", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			hash = string(hashed)
		}
		user, err = h.users.Create(ml.Email, strings.TrimSpace(req.Name), hash)
		if err != nil {
			h.logger.Error("create invited user", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	if _, err := h.spaces.AddMember(*ml.SpaceID, user.ID, model.RoleMember); err != nil {
		// Accepting twice is fine as long as the membership exists.
		existing, _ := h.spaces.GetMember(*ml.SpaceID, user.ID)
		if existing == nil {
			h.logger.Error("add invited member", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	if err := h.links.MarkUsed(ml.ID); err != nil {
		h.logger.Error("mark invite used", "error", err)
	}

	h.startSession(w, r, user, ml.SpaceID)
}

// Me returns the signed-in user with their active space and memberships.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := h.users.GetByID(ac.UserID)
	if err != nil || user == nil {
		h.logger.Error("me lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	spaces, err := h.spaces.ListSpacesForUser(ac.UserID)
	if err != nil {
		h.logger.Error("me spaces", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"user":     user,
		"space_id": ac.SpaceID,
		"role":     ac.Role,
		"spaces":   spaces,
	})
}

func (h *AuthHandler) SwitchSpace(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		SpaceID int64 `json:"space_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SpaceID == 0 {
		writeError(w, http.StatusBadRequest, "space_id is required")
		return
	}

	member, err := h.spaces.GetMember(req.SpaceID, ac.UserID)
	if err != nil {
		h.logger.Error("switch space member", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if member == nil {
		writeError(w, http.StatusForbidden, "not a member of this space")
		return
	}

	if err := h.sessions.UpdateSpaceID(ac.SessionID, req.SpaceID); err != nil {
		h.logger.Error("switch space", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeData(w, http.StatusOK, map[string]any{"space_id": req.SpaceID})
}
