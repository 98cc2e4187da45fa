package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStateRoundTrip(t *testing.T) {
	tok, err := SignState("s3cret", State{SpaceID: 42, UserID: 7, Provider: "google"})
	if err != nil {
		t.Fatalf("sign state: %v", err)
	}

	st, err := VerifyState("s3cret", tok)
	if err != nil {
		t.Fatalf("verify state: %v", err)
	}
	if st.SpaceID != 42 {
		t.Errorf("space_id = %d, want 42", st.SpaceID)
	}
	if st.UserID != 7 {
		t.Errorf("user_id = %d, want 7", st.UserID)
	}
	if st.Provider != "google" {
		t.Errorf("provider = %q, want %q", st.Provider, "google")
	}
}

func TestStateWrongSecret(t *testing.T) {
	tok, err := SignState("s3cret", State{SpaceID: 1, UserID: 2, Provider: "outlook"})
	if err != nil {
		t.Fatalf("sign state: %v", err)
	}

	if _, err := VerifyState("different", tok); err == nil {
		t.Fatal("expected verification to fail with the wrong secret")
	}
}

func TestStateExpired(t *testing.T) {
	claims := jwt.MapClaims{
		"jti":      "test",
		"space_id": int64(1),
		"user_id":  int64(2),
		"provider": "google",
		"exp":      time.Now().Add(-time.Minute).Unix(),
		"iat":      time.Now().Add(-11 * time.Minute).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign expired token: %v", err)
	}

	if _, err := VerifyState("s3cret", tok); err == nil {
		t.Fatal("expected expired state to fail verification")
	}
}

func TestStateTampered(t *testing.T) {
	tok, err := SignState("s3cret", State{SpaceID: 5, UserID: 6, Provider: "google"})
	if err != nil {
		t.Fatalf("sign state: %v", err)
	}

	tampered := tok[:len(tok)-1]
	if strings.HasSuffix(tok, "A") {
		tampered += "B"
	} else {
		tampered += "A"
	}

	if _, err := VerifyState("s3cret", tampered); err == nil {
		t.Fatal("expected tampered state to fail verification")
	}
}

func TestStateMissingClaims(t *testing.T) {
	claims := jwt.MapClaims{
		"jti": "test",
		"exp": time.Now().Add(time.Minute).Unix(),
		"iat": time.Now().Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := VerifyState("s3cret", tok); err == nil {
		t.Fatal("expected state without identifiers to fail verification")
	}
}

func TestSignStateRequiresSecret(t *testing.T) {
	if _, err := SignState("", State{SpaceID: 1, UserID: 2, Provider: "google"}); err == nil {
		t.Fatal("expected signing without a secret to fail")
	}
}
