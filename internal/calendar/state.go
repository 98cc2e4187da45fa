package calendar

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// stateTTL bounds how long a connect flow may sit between the redirect
// and the callback.
const stateTTL = 10 * time.Minute

// State is carried through the provider redirect as a signed JWT so the
// OAuth callback can trust who started the flow.
type State struct {
	SpaceID  int64
	UserID   int64
	Provider string
}

// SignState issues the redirect state token.
func SignState(secret string, st State) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("oauth state secret not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"jti":      uuid.NewString(),
		"space_id": st.SpaceID,
		"user_id":  st.UserID,
		"provider": st.Provider,
		"exp":      now.Add(stateTTL).Unix(),
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyState checks the signature and expiry and returns the carried
// identifiers. Expired or tampered tokens fail the parse.
func VerifyState(secret, tokenString string) (*State, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("parse state token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid state token")
	}

	st := &State{
		SpaceID: claimInt64(claims, "space_id"),
		UserID:  claimInt64(claims, "user_id"),
	}
	st.Provider, _ = claims["provider"].(string)

	if st.SpaceID == 0 || st.UserID == 0 || st.Provider == "" {
		return nil, fmt.Errorf("state token missing claims")
	}
	return st, nil
}

// claimInt64 reads a numeric claim. Parsed JSON numbers arrive as
// float64.
func claimInt64(claims jwt.MapClaims, key string) int64 {
	switch v := claims[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
