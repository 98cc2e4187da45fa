package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testOutlookClient(serverURL string) *OutlookClient {
	return NewOutlookClient(OAuthConfig{APIBase: serverURL}, WithRetryBase(time.Millisecond))
}

func TestOutlookChangesInitialWindow(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendars/primary/calendarView/delta" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if prefer := r.Header.Get("Prefer"); prefer != `outlook.timezone="UTC"` {
			t.Errorf("Prefer = %q", prefer)
		}

		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		if q.Get("$skiptoken") == "" {
			for _, key := range []string{"startDateTime", "endDateTime"} {
				if _, err := time.Parse(time.RFC3339, q.Get(key)); err != nil {
					t.Errorf("%s = %q: %v", key, q.Get(key), err)
				}
			}
			fmt.Fprintf(w, `{
				"value": [{
					"id": "AAMk1", "@odata.etag": "W/\"o1\"",
					"subject": "Dentist",
					"body": {"contentType": "text", "content": "checkup"},
					"location": {"displayName": "12 Main St"},
					"start": {"dateTime": "2026-03-05T10:00:00.0000000", "timeZone": "UTC"},
					"end": {"dateTime": "2026-03-05T11:00:00.0000000", "timeZone": "UTC"},
					"lastModifiedDateTime": "2026-03-01T08:00:00Z"
				}],
				"@odata.nextLink": "%s/calendars/primary/calendarView/delta?$skiptoken=s1"
			}`, srv.URL)
			return
		}
		fmt.Fprintf(w, `{
			"value": [{"id": "AAMk2", "@removed": {"reason": "deleted"}}],
			"@odata.deltaLink": "%s/calendars/primary/calendarView/delta?$deltatoken=d1"
		}`, srv.URL)
	}))
	defer srv.Close()

	cs, err := testOutlookClient(srv.URL).Changes(context.Background(), "at-1", "primary", "")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}

	if !cs.FullResync {
		t.Error("expected full resync without a sync token")
	}
	if want := srv.URL + "/calendars/primary/calendarView/delta?$deltatoken=d1"; cs.NextSyncToken != want {
		t.Errorf("next sync token = %q, want the delta link", cs.NextSyncToken)
	}
	if len(cs.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(cs.Events))
	}

	ev := cs.Events[0]
	if ev.ID != "AAMk1" || ev.Title != "Dentist" || ev.Description != "checkup" || ev.Location != "12 Main St" {
		t.Errorf("unexpected first event: %+v", ev)
	}
	if ev.Etag != `W/"o1"` {
		t.Errorf("etag = %q", ev.Etag)
	}
	if want := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC); !ev.Start.Equal(want) {
		t.Errorf("start = %v, want %v", ev.Start, want)
	}

	if !cs.Events[1].Deleted {
		t.Error("expected removed entry to be deleted")
	}
}

func TestOutlookChangesResumesFromDeltaLink(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("$deltatoken"); got != "d1" {
			t.Errorf("$deltatoken = %q, want d1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"value": [{"id": "AAMk3", "@odata.etag": "W/\"o3\"", "subject": "Soccer practice",
				"start": {"dateTime": "2026-03-07T16:00:00.0000000", "timeZone": "UTC"},
				"end": {"dateTime": "2026-03-07T17:00:00.0000000", "timeZone": "UTC"}}],
			"@odata.deltaLink": "%s/calendars/primary/calendarView/delta?$deltatoken=d2"
		}`, srv.URL)
	}))
	defer srv.Close()

	syncToken := srv.URL + "/calendars/primary/calendarView/delta?$deltatoken=d1"
	cs, err := testOutlookClient(srv.URL).Changes(context.Background(), "at-1", "primary", syncToken)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if cs.FullResync {
		t.Error("delta resume should not be a full resync")
	}
	if len(cs.Events) != 1 || cs.Events[0].Title != "Soccer practice" {
		t.Errorf("events = %+v", cs.Events)
	}
	if want := srv.URL + "/calendars/primary/calendarView/delta?$deltatoken=d2"; cs.NextSyncToken != want {
		t.Errorf("next sync token = %q", cs.NextSyncToken)
	}
}

func TestOutlookChangesResyncRequired(t *testing.T) {
	var srv *httptest.Server
	requests := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Query().Get("$deltatoken") != "" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"value": [],
			"@odata.deltaLink": "%s/calendars/primary/calendarView/delta?$deltatoken=fresh"
		}`, srv.URL)
	}))
	defer srv.Close()

	syncToken := srv.URL + "/calendars/primary/calendarView/delta?$deltatoken=expired"
	cs, err := testOutlookClient(srv.URL).Changes(context.Background(), "at-1", "primary", syncToken)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if !cs.FullResync {
		t.Error("expected expired delta token to trigger a full resync")
	}
	if requests != 2 {
		t.Errorf("made %d requests, want 2", requests)
	}
}

func TestOutlookCreateEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/calendars/primary/events" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var ev outlookEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if ev.Subject != "Dinner with the Parks" {
			t.Errorf("subject = %q", ev.Subject)
		}
		if ev.Body == nil || ev.Body.ContentType != "text" {
			t.Errorf("body = %+v", ev.Body)
		}
		if ev.Start == nil || ev.Start.DateTime != "2026-04-01T18:30:00" || ev.Start.TimeZone != "UTC" {
			t.Errorf("start = %+v", ev.Start)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "AAMk9", "@odata.etag": "W/\"o9\"", "subject": "Dinner with the Parks",
			"start": {"dateTime": "2026-04-01T18:30:00.0000000", "timeZone": "UTC"},
			"end": {"dateTime": "2026-04-01T20:00:00.0000000", "timeZone": "UTC"}}`))
	}))
	defer srv.Close()

	remote, err := testOutlookClient(srv.URL).CreateEvent(context.Background(), "at-1", "primary", EventPayload{
		Title: "Dinner with the Parks",
		Start: time.Date(2026, 4, 1, 18, 30, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if remote.ID != "AAMk9" || remote.Etag != `W/"o9"` {
		t.Errorf("remote = %+v", remote)
	}
	if want := time.Date(2026, 4, 1, 18, 30, 0, 0, time.UTC); !remote.Start.Equal(want) {
		t.Errorf("start = %v, want %v", remote.Start, want)
	}
}

func TestOutlookUpdateEventEtagMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("If-Match"); got != `W/"stale"` {
			t.Errorf("If-Match = %q", got)
		}
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	_, err := testOutlookClient(srv.URL).UpdateEvent(context.Background(), "at-1", "primary", "AAMk1", `W/"stale"`, EventPayload{})
	if !errors.Is(err, ErrEtagMismatch) {
		t.Fatalf("err = %v, want ErrEtagMismatch", err)
	}
}

func TestOutlookDeleteEventToleratesMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if err := testOutlookClient(srv.URL).DeleteEvent(context.Background(), "at-1", "primary", "AAMk1"); err != nil {
		t.Fatalf("delete missing event: %v", err)
	}
}
