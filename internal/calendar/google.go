package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
	googleAPIBase  = "https://www.googleapis.com/calendar/v3"
	googleScope    = "https://www.googleapis.com/auth/calendar"
)

// GoogleClient speaks the Google Calendar v3 dialect: events.list with
// sync tokens, insert, conditional patch and delete.
type GoogleClient struct {
	oauthClient
}

func NewGoogleClient(cfg OAuthConfig, opts ...Option) *GoogleClient {
	if cfg.AuthURL == "" {
		cfg.AuthURL = googleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = googleTokenURL
	}
	if cfg.APIBase == "" {
		cfg.APIBase = googleAPIBase
	}
	if cfg.Scopes == "" {
		cfg.Scopes = googleScope
	}
	return &GoogleClient{oauthClient{cfg: cfg, api: newAPIClient(opts...)}}
}

// googleDateTime is the two-faced start/end field: date for all-day
// events, dateTime otherwise.
type googleDateTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
}

type googleEvent struct {
	ID          string          `json:"id,omitempty"`
	Etag        string          `json:"etag,omitempty"`
	Status      string          `json:"status,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Description string          `json:"description,omitempty"`
	Location    string          `json:"location,omitempty"`
	Start       *googleDateTime `json:"start,omitempty"`
	End         *googleDateTime `json:"end,omitempty"`
	Updated     string          `json:"updated,omitempty"`
}

type googleEventList struct {
	Items         []googleEvent `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
	NextSyncToken string        `json:"nextSyncToken"`
}

func (e googleEvent) remote() RemoteEvent {
	r := RemoteEvent{
		ID:          e.ID,
		Etag:        e.Etag,
		Title:       e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Deleted:     e.Status == "cancelled",
	}
	if t, err := time.Parse(time.RFC3339, e.Updated); err == nil {
		r.Updated = t.UTC()
	}
	r.Start, r.AllDay = parseGoogleTime(e.Start)
	r.End, _ = parseGoogleTime(e.End)
	return r
}

func parseGoogleTime(dt *googleDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.Date != "" {
		t, err := time.Parse("2006-01-02", dt.Date)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), false
}

func googlePayload(p EventPayload) googleEvent {
	ev := googleEvent{
		Summary:     p.Title,
		Description: p.Description,
		Location:    p.Location,
	}
	if p.AllDay {
		ev.Start = &googleDateTime{Date: p.Start.UTC().Format("2006-01-02")}
		ev.End = &googleDateTime{Date: p.End.UTC().Format("2006-01-02")}
	} else {
		ev.Start = &googleDateTime{DateTime: p.Start.UTC().Format(time.RFC3339)}
		ev.End = &googleDateTime{DateTime: p.End.UTC().Format(time.RFC3339)}
	}
	return ev
}

// Changes pulls everything since the sync token, following pagination.
// A 410 means Google expired the token; the pull restarts from scratch
// as a full resync.
func (c *GoogleClient) Changes(ctx context.Context, accessToken, calendarID, syncToken string) (*ChangeSet, error) {
	cs := &ChangeSet{FullResync: syncToken == ""}
	pageToken := ""

	for {
		q := url.Values{
			"maxResults":   {"250"},
			"showDeleted":  {"true"},
			"singleEvents": {"true"},
		}
		if syncToken != "" {
			q.Set("syncToken", syncToken)
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", c.cfg.APIBase, url.PathEscape(calendarID), q.Encode())

		status, body, err := c.api.do(ctx, func(ctx context.Context) (*http.Request, error) {
			return bearerRequest(ctx, http.MethodGet, endpoint, accessToken, nil)
		})
		if err != nil {
			return nil, err
		}
		if status == http.StatusGone && syncToken != "" {
			syncToken = ""
			pageToken = ""
			cs = &ChangeSet{FullResync: true}
			continue
		}
		if status != http.StatusOK {
			return nil, apiError("list events", status, body)
		}

		var list googleEventList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("parse event list: %w", err)
		}
		for _, item := range list.Items {
			cs.Events = append(cs.Events, item.remote())
		}

		if list.NextPageToken != "" {
			pageToken = list.NextPageToken
			continue
		}
		cs.NextSyncToken = list.NextSyncToken
		return cs, nil
	}
}

func (c *GoogleClient) CreateEvent(ctx context.Context, accessToken, calendarID string, p EventPayload) (*RemoteEvent, error) {
	payload, err := json.Marshal(googlePayload(p))
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.cfg.APIBase, url.PathEscape(calendarID))

	status, body, err := c.api.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return bearerRequest(ctx, http.MethodPost, endpoint, accessToken, payload)
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, apiError("create event", status, body)
	}
	return parseGoogleEvent(body)
}

// UpdateEvent patches with If-Match so a concurrent provider-side edit
// surfaces as ErrEtagMismatch instead of being overwritten.
func (c *GoogleClient) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID, etag string, p EventPayload) (*RemoteEvent, error) {
	payload, err := json.Marshal(googlePayload(p))
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", c.cfg.APIBase, url.PathEscape(calendarID), url.PathEscape(eventID))

	status, body, err := c.api.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := bearerRequest(ctx, http.MethodPatch, endpoint, accessToken, payload)
		if err != nil {
			return nil, err
		}
		if etag != "" {
			req.Header.Set("If-Match", etag)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusPreconditionFailed:
		return nil, ErrEtagMismatch
	case status == http.StatusNotFound || status == http.StatusGone:
		return nil, ErrNotFound
	case status != http.StatusOK:
		return nil, apiError("update event", status, body)
	}
	return parseGoogleEvent(body)
}

// DeleteEvent removes the provider copy. An already-missing event counts
// as deleted.
func (c *GoogleClient) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", c.cfg.APIBase, url.PathEscape(calendarID), url.PathEscape(eventID))

	status, body, err := c.api.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return bearerRequest(ctx, http.MethodDelete, endpoint, accessToken, nil)
	})
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound, http.StatusGone:
		return nil
	default:
		return apiError("delete event", status, body)
	}
}

func parseGoogleEvent(body []byte) (*RemoteEvent, error) {
	var ev googleEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("event response missing id")
	}
	remote := ev.remote()
	return &remote, nil
}

var _ Provider = (*GoogleClient)(nil)
