package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
)

// rewriteTransport redirects all requests to a test server URL.
type rewriteTransport struct {
	base   http.RoundTripper
	target string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.target[len("http://"):]
	return t.base.RoundTrip(req)
}

func testClient(serverURL string) *Client {
	c := NewClient("test-token", "noreply@example.com", "https://hearthside.test", WithRetryBase(time.Millisecond))
	c.httpClient = &http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, target: serverURL}}
	return c
}

func TestSendAuthTokenLoginCode(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	err := client.SendAuthToken(context.Background(), "alice@example.com", "482913", model.PurposeLogin, "")
	if err != nil {
		t.Fatalf("send auth token: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", received.To, "alice@example.com")
	}
	if received.From != "noreply@example.com" {
		t.Errorf("From = %q, want %q", received.From, "noreply@example.com")
	}
	if received.Subject != "Your Hearthside sign-in code" {
		t.Errorf("Subject = %q, want sign-in subject", received.Subject)
	}
	if !strings.Contains(received.TextBody, "482913") {
		t.Errorf("text body missing code: %q", received.TextBody)
	}
	// Login codes are typed in, not clicked.
	if strings.Contains(received.TextBody, "https://") {
		t.Errorf("login email should not contain a link: %q", received.TextBody)
	}
}

func TestSendAuthTokenResetLink(t *testing.T) {
	var received postmarkEmail

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	err := client.SendAuthToken(context.Background(), "bob@example.com", "deadbeef", model.PurposePasswordReset, "")
	if err != nil {
		t.Fatalf("send auth token: %v", err)
	}

	if received.Subject != "Reset your Hearthside password" {
		t.Errorf("Subject = %q, want reset subject", received.Subject)
	}
	want := "https://hearthside.test/auth/reset?token=deadbeef"
	if !strings.Contains(received.TextBody, want) {
		t.Errorf("text body missing link %q: %q", want, received.TextBody)
	}
	if !strings.Contains(received.TextBody, "30 minutes") {
		t.Errorf("reset email should mention the longer expiry: %q", received.TextBody)
	}
}

func TestSendAuthTokenInvite(t *testing.T) {
	var received postmarkEmail

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	err := client.SendAuthToken(context.Background(), "carol@example.com", "xyz789", model.PurposeInvite, "Morrow Family")
	if err != nil {
		t.Fatalf("send auth token: %v", err)
	}

	if received.Subject != "You've been invited to Morrow Family on Hearthside" {
		t.Errorf("Subject = %q, want invite subject", received.Subject)
	}
}

func TestSendAuthTokenUnknownPurpose(t *testing.T) {
	client := NewClient("test-token", "noreply@example.com", "https://hearthside.test")

	err := client.SendAuthToken(context.Background(), "alice@example.com", "abc", "teleport", "")
	if err == nil {
		t.Fatal("expected error for unknown purpose")
	}
}

func TestSendNotConfigured(t *testing.T) {
	client := NewClient("", "noreply@example.com", "https://hearthside.test")

	err := client.SendAuthToken(context.Background(), "alice@example.com", "123456", model.PurposeLogin, "")
	if err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	err := client.SendFarewell(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("send after retries: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := testClient(server.URL)

	err := client.SendFarewell(context.Background(), "alice@example.com")
	if err == nil {
		t.Fatal("expected error for API failure")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 422)", got)
	}
}

func TestSendDeletionWarningMentionsDate(t *testing.T) {
	var received postmarkEmail

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	deleteAt := time.Date(2026, time.September, 12, 3, 0, 0, 0, time.UTC)
	if err := client.SendDeletionWarning(context.Background(), "alice@example.com", deleteAt); err != nil {
		t.Fatalf("send deletion warning: %v", err)
	}

	if !strings.Contains(received.TextBody, "September 12, 2026") {
		t.Errorf("warning missing deletion date: %q", received.TextBody)
	}
}

func TestConfigured(t *testing.T) {
	c1 := NewClient("token", "from@test.com", "https://test.com")
	if !c1.Configured() {
		t.Error("expected Configured() = true")
	}

	c2 := NewClient("", "from@test.com", "https://test.com")
	if c2.Configured() {
		t.Error("expected Configured() = false")
	}
}

func TestUpdateConfig(t *testing.T) {
	client := NewClient("", "", "")
	if client.Configured() {
		t.Error("expected Configured() = false initially")
	}

	client.UpdateConfig("new-token", "new@example.com", "https://new.example.com")
	if !client.Configured() {
		t.Error("expected Configured() = true after UpdateConfig")
	}

	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client.httpClient = &http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, target: server.URL}}
	if err := client.SendFarewell(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("send after update: %v", err)
	}
	if gotToken != "new-token" {
		t.Errorf("server token = %q, want %q", gotToken, "new-token")
	}

	client.UpdateConfig("", "", "")
	if client.Configured() {
		t.Error("expected Configured() = false after clearing")
	}
}
