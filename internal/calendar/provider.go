// Package calendar syncs space calendars with external providers. Each
// provider speaks its own wire dialect behind the Provider interface;
// the sync engine only sees normalized events.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

var (
	// ErrEtagMismatch means the provider copy moved underneath a
	// conditional update.
	ErrEtagMismatch = errors.New("calendar: event changed upstream")

	// ErrNotFound means the provider no longer has the event.
	ErrNotFound = errors.New("calendar: event not found")
)

// Token is the result of an OAuth code exchange or refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// RemoteEvent is a provider event normalized to one shape. The JSON tags
// make it usable as a conflict payload snapshot.
type RemoteEvent struct {
	ID          string    `json:"id"`
	Etag        string    `json:"etag"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	Deleted     bool      `json:"deleted"`
	Updated     time.Time `json:"updated"`
}

// EventPayload is the outbound half: what a push writes to the provider.
type EventPayload struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// ChangeSet is one pull from a provider: the changed events and the
// token that resumes from here next time.
type ChangeSet struct {
	Events        []RemoteEvent
	NextSyncToken string

	// FullResync marks a pull that started from scratch, either a first
	// sync or a provider that expired our token. Events then covers the
	// whole calendar, unchanged entries included.
	FullResync bool
}

// Provider is one external calendar service. Implementations retry
// transient failures internally; callers see only final outcomes.
type Provider interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*Token, error)
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
	Changes(ctx context.Context, accessToken, calendarID, syncToken string) (*ChangeSet, error)
	CreateEvent(ctx context.Context, accessToken, calendarID string, p EventPayload) (*RemoteEvent, error)
	UpdateEvent(ctx context.Context, accessToken, calendarID, eventID, etag string, p EventPayload) (*RemoteEvent, error)
	DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error
}

// OAuthConfig holds one provider's app registration. The URLs are
// overridable for tests and default per provider in the constructors.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       string

	AuthURL  string
	TokenURL string
	APIBase  string
}

// Option adjusts a provider client.
type Option func(*apiClient)

// WithHTTPClient swaps the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(a *apiClient) {
		a.httpClient = c
	}
}

// WithRetryBase changes the first backoff delay. Mainly for tests.
func WithRetryBase(d time.Duration) Option {
	return func(a *apiClient) {
		a.retryBase = d
	}
}

// apiClient is the shared HTTP plumbing under both providers: bearer
// requests with retries on transport errors, 429s and 5xx.
type apiClient struct {
	httpClient *http.Client
	retryBase  time.Duration
}

func newAPIClient(opts ...Option) *apiClient {
	c := &apiClient{
		httpClient: http.DefaultClient,
		retryBase:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do runs the request with up to three retries and hands back the final
// status and body for the caller to interpret. The request is rebuilt on
// every attempt so its body reader is fresh.
func (c *apiClient) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (int, []byte, error) {
	var status int
	var body []byte

	backoff := retry.WithMaxRetries(3, retry.NewExponential(c.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("calendar request: %w", err))
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read calendar response: %w", err))
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("calendar API status %d", resp.StatusCode))
		}

		status = resp.StatusCode
		body = b
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return status, body, nil
}

// bearerRequest builds an authorized request. A non-nil body is sent as
// JSON.
func bearerRequest(ctx context.Context, method, endpoint, accessToken string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build calendar request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func apiError(op string, status int, body []byte) error {
	detail := string(body)
	if len(detail) > 256 {
		detail = detail[:256]
	}
	return fmt.Errorf("%s failed with status %d: %s", op, status, detail)
}

// oauthClient implements the RFC 6749 half both providers share: the
// consent URL, the code exchange and the refresh grant.
type oauthClient struct {
	cfg OAuthConfig
	api *apiClient
}

func (c *oauthClient) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {c.cfg.ClientID},
		"redirect_uri":  {c.cfg.RedirectURL},
		"response_type": {"code"},
		"scope":         {c.cfg.Scopes},
		"state":         {state},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
	}
	return c.cfg.AuthURL + "?" + params.Encode()
}

func (c *oauthClient) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"redirect_uri":  {c.cfg.RedirectURL},
		"grant_type":    {"authorization_code"},
	}
	return c.token(ctx, data)
}

func (c *oauthClient) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{
		"refresh_token": {refreshToken},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"refresh_token"},
	}
	tok, err := c.token(ctx, data)
	if err != nil {
		return nil, err
	}
	// Providers often omit the refresh token on refresh; keep the one
	// we have.
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

func (c *oauthClient) token(ctx context.Context, data url.Values) (*Token, error) {
	status, body, err := c.api.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
		if err != nil {
			return nil, fmt.Errorf("build token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError("token exchange", status, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	tok := &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		expires := time.Now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second)
		tok.ExpiresAt = &expires
	}
	return tok, nil
}

// NewProvider builds the client for a provider name from the model
// vocabulary.
func NewProvider(provider string, cfg OAuthConfig, opts ...Option) (Provider, error) {
	switch provider {
	case "google":
		return NewGoogleClient(cfg, opts...), nil
	case "outlook":
		return NewOutlookClient(cfg, opts...), nil
	default:
		return nil, fmt.Errorf("unknown calendar provider %q", provider)
	}
}
