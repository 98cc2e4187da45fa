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
	outlookAuthURL  = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	outlookTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	outlookAPIBase  = "https://graph.microsoft.com/v1.0/me"
	outlookScope    = "offline_access Calendars.ReadWrite"
)

// Graph tracks calendar deltas over a calendarView window, not the whole
// calendar. Events outside the window never appear in a pull.
const (
	outlookWindowPast   = 30 * 24 * time.Hour
	outlookWindowFuture = 365 * 24 * time.Hour
)

// Graph date-times carry no zone suffix; the Prefer header pins them to
// UTC.
const outlookTimeLayout = "2006-01-02T15:04:05.999999999"

// OutlookClient speaks the Microsoft Graph dialect: calendarView delta
// links for pulls, events CRUD with @odata.etag for pushes.
type OutlookClient struct {
	oauthClient
}

func NewOutlookClient(cfg OAuthConfig, opts ...Option) *OutlookClient {
	if cfg.AuthURL == "" {
		cfg.AuthURL = outlookAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = outlookTokenURL
	}
	if cfg.APIBase == "" {
		cfg.APIBase = outlookAPIBase
	}
	if cfg.Scopes == "" {
		cfg.Scopes = outlookScope
	}
	return &OutlookClient{oauthClient{cfg: cfg, api: newAPIClient(opts...)}}
}

type outlookDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type outlookBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type outlookLocation struct {
	DisplayName string `json:"displayName"`
}

type outlookRemoved struct {
	Reason string `json:"reason"`
}

type outlookEvent struct {
	ID           string           `json:"id,omitempty"`
	Etag         string           `json:"@odata.etag,omitempty"`
	Subject      string           `json:"subject,omitempty"`
	Body         *outlookBody     `json:"body,omitempty"`
	Location     *outlookLocation `json:"location,omitempty"`
	Start        *outlookDateTime `json:"start,omitempty"`
	End          *outlookDateTime `json:"end,omitempty"`
	IsAllDay     bool             `json:"isAllDay,omitempty"`
	LastModified string           `json:"lastModifiedDateTime,omitempty"`
	Removed      *outlookRemoved  `json:"@removed,omitempty"`
}

type outlookEventList struct {
	Value     []outlookEvent `json:"value"`
	NextLink  string         `json:"@odata.nextLink"`
	DeltaLink string         `json:"@odata.deltaLink"`
}

func (e outlookEvent) remote() RemoteEvent {
	r := RemoteEvent{
		ID:      e.ID,
		Etag:    e.Etag,
		Title:   e.Subject,
		AllDay:  e.IsAllDay,
		Deleted: e.Removed != nil,
	}
	if e.Body != nil {
		r.Description = e.Body.Content
	}
	if e.Location != nil {
		r.Location = e.Location.DisplayName
	}
	if t, err := time.Parse(time.RFC3339, e.LastModified); err == nil {
		r.Updated = t.UTC()
	}
	r.Start = parseOutlookTime(e.Start)
	r.End = parseOutlookTime(e.End)
	return r
}

func parseOutlookTime(dt *outlookDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	t, err := time.ParseInLocation(outlookTimeLayout, dt.DateTime, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func outlookPayload(p EventPayload) outlookEvent {
	return outlookEvent{
		Subject:  p.Title,
		Body:     &outlookBody{ContentType: "text", Content: p.Description},
		Location: &outlookLocation{DisplayName: p.Location},
		Start:    &outlookDateTime{DateTime: p.Start.UTC().Format("2006-01-02T15:04:05"), TimeZone: "UTC"},
		End:      &outlookDateTime{DateTime: p.End.UTC().Format("2006-01-02T15:04:05"), TimeZone: "UTC"},
		IsAllDay: p.AllDay,
	}
}

// Changes walks the delta feed. The sync token is the previous pull's
// deltaLink, a complete URL; an empty token opens a fresh window around
// now. A 410 means Graph wants a resync and the pull restarts.
func (c *OutlookClient) Changes(ctx context.Context, accessToken, calendarID, syncToken string) (*ChangeSet, error) {
	cs := &ChangeSet{FullResync: syncToken == ""}
	next := syncToken
	if next == "" {
		next = c.initialDeltaURL(calendarID)
	}

	for {
		endpoint := next
		status, body, err := c.api.do(ctx, func(ctx context.Context) (*http.Request, error) {
			req, err := bearerRequest(ctx, http.MethodGet, endpoint, accessToken, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Prefer", `outlook.timezone="UTC"`)
			return req, nil
		})
		if err != nil {
			return nil, err
		}
		if status == http.StatusGone && syncToken != "" {
			syncToken = ""
			next = c.initialDeltaURL(calendarID)
			cs = &ChangeSet{FullResync: true}
			continue
		}
		if status != http.StatusOK {
			return nil, apiError("delta pull", status, body)
		}

		var list outlookEventList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("parse delta response: %w", err)
		}
		for _, item := range list.Value {
			cs.Events = append(cs.Events, item.remote())
		}

		if list.NextLink != "" {
			next = list.NextLink
			continue
		}
		cs.NextSyncToken = list.DeltaLink
		return cs, nil
	}
}

func (c *OutlookClient) initialDeltaURL(calendarID string) string {
	now := time.Now().UTC()
	q := url.Values{
		"startDateTime": {now.Add(-outlookWindowPast).Format(time.RFC3339)},
		"endDateTime":   {now.Add(outlookWindowFuture).Format(time.RFC3339)},
	}
	return fmt.Sprintf("%s/calendars/%s/calendarView/delta?%s", c.cfg.APIBase, url.PathEscape(calendarID), q.Encode())
}

func (c *OutlookClient) CreateEvent(ctx context.Context, accessToken, calendarID string, p EventPayload) (*RemoteEvent, error) {
	payload, err := json.Marshal(outlookPayload(p))
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
	return parseOutlookEvent(body)
}

func (c *OutlookClient) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID, etag string, p EventPayload) (*RemoteEvent, error) {
	payload, err := json.Marshal(outlookPayload(p))
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
	return parseOutlookEvent(body)
}

func (c *OutlookClient) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
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

func parseOutlookEvent(body []byte) (*RemoteEvent, error) {
	var ev outlookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("event response missing id")
	}
	remote := ev.remote()
	return &remote, nil
}

var _ Provider = (*OutlookClient)(nil)
