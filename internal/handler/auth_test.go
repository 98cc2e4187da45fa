package handler

import (
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/calebmorrow/hearthside/internal/database"
	"github.com/calebmorrow/hearthside/internal/email"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postJSON(t *testing.T, h http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

// issueFields pulls the field names out of an error envelope's issues list.
func issueFields(t *testing.T, body map[string]any) []string {
	t.Helper()
	issues, ok := body["issues"].([]any)
	if !ok {
		t.Fatalf("issues = %v, want a list", body["issues"])
	}
	var fields []string
	for _, iss := range issues {
		m, ok := iss.(map[string]any)
		if !ok {
			t.Fatalf("issue = %v, want an object", iss)
		}
		fields = append(fields, m["field"].(string))
	}
	return fields
}

type authFixture struct {
	db       *sql.DB
	handler  *AuthHandler
	users    *store.UserStore
	spaces   *store.SpaceStore
	sessions *store.SessionStore
	links    *store.MagicLinkStore
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &authFixture{
		db:       db,
		users:    store.NewUserStore(db),
		spaces:   store.NewSpaceStore(db),
		sessions: store.NewSessionStore(db),
		links:    store.NewMagicLinkStore(db),
	}
	f.handler = NewAuthHandler(f.users, f.spaces, f.sessions, f.links, email.NewClient("", "", ""), testLogger())
	return f
}

// seedMember creates a user with the given password (empty for none) plus a
// space they belong to as admin.
func (f *authFixture) seedMember(t *testing.T, emailAddr, name, password string) (*model.User, *model.Space) {
	t.Helper()
	hash := ""
	if password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		hash = string(hashed)
	}
	u, err := f.users.Create(emailAddr, name, hash)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	sp, err := f.spaces.Create(name + "'s Space")
	if err != nil {
		t.Fatalf("create space: %v", err)
	}
	if _, err := f.spaces.AddMember(sp.ID, u.ID, model.RoleAdmin); err != nil {
		t.Fatalf("add member: %v", err)
	}
	return u, sp
}

func sessionCookieValue(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c.Value
		}
	}
	return ""
}

func TestRegisterCreatesUserAndSpace(t *testing.T) {
	f := newAuthFixture(t)

	rec := postJSON(t, f.handler.Register, "/api/auth/register",
		`{"email":"alice@example.com","password":"correct horse","name":"Alice","space_name":"The Kettle"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	body := decodeEnvelope(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}

	u, err := f.users.GetByEmail("alice@example.com")
	if err != nil || u == nil {
		t.Fatalf("user after register = %v, %v", u, err)
	}
	spaces, err := f.spaces.ListSpacesForUser(u.ID)
	if err != nil {
		t.Fatalf("list spaces: %v", err)
	}
	if len(spaces) != 1 || spaces[0].Name != "The Kettle" {
		t.Errorf("spaces = %v, want one named The Kettle", spaces)
	}

	// Registration seeds default budget categories for the new space.
	cats, err := store.NewBudgetStore(f.db).ListCategories(spaces[0].ID)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if len(cats) == 0 {
		t.Error("expected seeded budget categories")
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newAuthFixture(t)

	rec := postJSON(t, f.handler.Register, "/api/auth/register",
		`{"email":"not-an-email","password":"short","space_name":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	body := decodeEnvelope(t, rec)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}

	fields := issueFields(t, body)
	want := map[string]bool{"email": true, "password": true, "space_name": true}
	for _, fld := range fields {
		delete(want, fld)
	}
	if len(want) != 0 {
		t.Errorf("missing issues for %v, got %v", want, fields)
	}
}

func TestRegisterExistingEmailLooksIdentical(t *testing.T) {
	f := newAuthFixture(t)
	f.seedMember(t, "alice@example.com", "Alice", "correct horse")

	// Registering an address that already has an account answers exactly
	// like a fresh registration and changes nothing.
	rec := postJSON(t, f.handler.Register, "/api/auth/register",
		`{"email":"alice@example.com","password":"other password","name":"Mallory","space_name":"Probe"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	if data["message"] != checkEmailMsg {
		t.Errorf("message = %v, want %q", data["message"], checkEmailMsg)
	}

	u, err := f.users.GetByEmail("alice@example.com")
	if err != nil || u == nil {
		t.Fatalf("user lookup: %v, %v", u, err)
	}
	if u.Name != "Alice" {
		t.Errorf("name = %q, the probe must not overwrite the account", u.Name)
	}
}

func TestLoginSuccess(t *testing.T) {
	f := newAuthFixture(t)
	u, sp := f.seedMember(t, "alice@example.com", "Alice", "correct horse")

	rec := postJSON(t, f.handler.Login, "/api/auth/login",
		`{"email":"alice@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	token := sessionCookieValue(t, rec)
	if token == "" {
		t.Fatal("expected a session cookie")
	}
	sess, err := f.sessions.GetByToken(token)
	if err != nil || sess == nil {
		t.Fatalf("session lookup: %v, %v", sess, err)
	}
	if sess.UserID != u.ID || sess.SpaceID != sp.ID {
		t.Errorf("session = user %d space %d, want user %d space %d",
			sess.UserID, sess.SpaceID, u.ID, sp.ID)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAuthFixture(t)
	f.seedMember(t, "alice@example.com", "Alice", "correct horse")

	cases := []struct {
		name string
		body string
	}{
		{"wrong password", `{"email":"alice@example.com","password":"wrong password"}`},
		{"unknown email", `{"email":"nobody@example.com","password":"correct horse"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, f.handler.Login, "/api/auth/login", tc.body)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			// Same message either way, so callers cannot probe addresses.
			body := decodeEnvelope(t, rec)
			if body["error"] != "invalid email or password" {
				t.Errorf("error = %v, want %q", body["error"], "invalid email or password")
			}
		})
	}
}

func TestMagicLinkVerifySignsIn(t *testing.T) {
	f := newAuthFixture(t)
	u, _ := f.seedMember(t, "alice@example.com", "Alice", "")

	ml, err := f.links.Create("alice@example.com", model.PurposeLogin, nil)
	if err != nil {
		t.Fatalf("create login code: %v", err)
	}

	rec := postJSON(t, f.handler.MagicLinkVerify, "/api/auth/magic-link/verify",
		`{"email":"alice@example.com","code":"`+ml.Token+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	token := sessionCookieValue(t, rec)
	if token == "" {
		t.Fatal("expected a session cookie")
	}
	sess, err := f.sessions.GetByToken(token)
	if err != nil || sess == nil {
		t.Fatalf("session lookup: %v, %v", sess, err)
	}
	if sess.UserID != u.ID {
		t.Errorf("session user = %d, want %d", sess.UserID, u.ID)
	}
}

func TestMagicLinkVerifyCodeSingleUse(t *testing.T) {
	f := newAuthFixture(t)
	f.seedMember(t, "alice@example.com", "Alice", "")

	ml, err := f.links.Create("alice@example.com", model.PurposeLogin, nil)
	if err != nil {
		t.Fatalf("create login code: %v", err)
	}
	body := `{"email":"alice@example.com","code":"` + ml.Token + `"}`

	if rec := postJSON(t, f.handler.MagicLinkVerify, "/api/auth/magic-link/verify", body); rec.Code != http.StatusOK {
		t.Fatalf("first verify = %d, want %d", rec.Code, http.StatusOK)
	}

	// Replaying the code after it signed someone in must never work.
	rec := postJSON(t, f.handler.MagicLinkVerify, "/api/auth/magic-link/verify", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if token := sessionCookieValue(t, rec); token != "" {
		t.Error("replay must not set a session cookie")
	}
}

func TestMagicLinkVerifyExpiredCode(t *testing.T) {
	f := newAuthFixture(t)
	f.seedMember(t, "alice@example.com", "Alice", "")

	ml, err := f.links.Create("alice@example.com", model.PurposeLogin, nil)
	if err != nil {
		t.Fatalf("create login code: %v", err)
	}
	if _, err := f.db.Exec(
		`UPDATE magic_link_tokens SET expires_at = datetime('now', '-1 hour') WHERE id = ?`, ml.ID,
	); err != nil {
		t.Fatalf("expire token: %v", err)
	}

	rec := postJSON(t, f.handler.MagicLinkVerify, "/api/auth/magic-link/verify",
		`{"email":"alice@example.com","code":"`+ml.Token+`"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	body := decodeEnvelope(t, rec)
	if body["error"] != "code has expired or already been used" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestMagicLinkVerifyAttemptsBurnCode(t *testing.T) {
	f := newAuthFixture(t)
	f.seedMember(t, "alice@example.com", "Alice", "")

	ml, err := f.links.Create("alice@example.com", model.PurposeLogin, nil)
	if err != nil {
		t.Fatalf("create login code: %v", err)
	}
	wrong := "000000"
	if ml.Token == wrong {
		wrong = "000001"
	}
	wrongBody := `{"email":"alice@example.com","code":"` + wrong + `"}`

	for i := 0; i < 4; i++ {
		rec := postJSON(t, f.handler.MagicLinkVerify, "/api/auth/magic-link/verify", wrongBody)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("guess %d = %d, want %d", i+1, rec.Code, http.StatusUnauthorized)
		}
		body := decodeEnvelope(t, rec)
		if body["error"] != "incorrect code" {
			t.Fatalf("guess %d error = %v, want %q", i+1, body["error"], "incorrect code")
		}
	}

	rec := postJSON(t, f.handler.MagicLinkVerify, "/api/auth/magic-link/verify", wrongBody)
	body := decodeEnvelope(t, rec)
	if body["error"] != "too many incorrect attempts, request a new code" {
		t.Fatalf("fifth guess error = %v", body["error"])
	}

	// The real code is burned along with the guesses.
	rec = postJSON(t, f.handler.MagicLinkVerify, "/api/auth/magic-link/verify",
		`{"email":"alice@example.com","code":"`+ml.Token+`"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("correct code after burn = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMagicLinkVerifyUnknownEmail(t *testing.T) {
	f := newAuthFixture(t)

	rec := postJSON(t, f.handler.MagicLinkVerify, "/api/auth/magic-link/verify",
		`{"email":"nobody@example.com","code":"123456"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	body := decodeEnvelope(t, rec)
	if body["error"] != "code has expired or already been used" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestPasswordResetConfirm(t *testing.T) {
	f := newAuthFixture(t)
	u, sp := f.seedMember(t, "alice@example.com", "Alice", "old password")
	sess, err := f.sessions.Create(u.ID, sp.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ml, err := f.links.Create("alice@example.com", model.PurposePasswordReset, nil)
	if err != nil {
		t.Fatalf("create reset token: %v", err)
	}

	rec := postJSON(t, f.handler.PasswordResetConfirm, "/api/auth/password-reset/confirm",
		`{"token":"`+ml.Token+`","password":"brand new pass"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	// The reset revokes every open session for the account.
	if got, _ := f.sessions.GetByToken(sess.Token); got != nil {
		t.Error("old session should be revoked after reset")
	}

	// The hash actually changed.
	updated, err := f.users.GetByEmail("alice@example.com")
	if err != nil || updated == nil {
		t.Fatalf("user lookup: %v, %v", updated, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(updated.PasswordHash), []byte("brand new pass")); err != nil {
		t.Error("new password does not match stored hash")
	}

	// The token is single use.
	rec = postJSON(t, f.handler.PasswordResetConfirm, "/api/auth/password-reset/confirm",
		`{"token":"`+ml.Token+`","password":"another pass 99"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("replay = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
