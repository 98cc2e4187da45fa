package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testGoogleClient(serverURL string) *GoogleClient {
	return NewGoogleClient(OAuthConfig{APIBase: serverURL}, WithRetryBase(time.Millisecond))
}

func TestGoogleChangesFullSync(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		q := r.URL.Query()
		if q.Get("syncToken") != "" {
			t.Errorf("unexpected syncToken %q on full sync", q.Get("syncToken"))
		}
		if q.Get("showDeleted") != "true" {
			t.Errorf("showDeleted = %q, want true", q.Get("showDeleted"))
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer at-1" {
			t.Errorf("authorization = %q", auth)
		}

		w.Header().Set("Content-Type", "application/json")
		if q.Get("pageToken") == "" {
			w.Write([]byte(`{
				"items": [{
					"id": "ev-1", "etag": "\"e1\"", "status": "confirmed",
					"summary": "Dentist", "description": "checkup", "location": "12 Main St",
					"start": {"dateTime": "2026-03-05T10:00:00Z"},
					"end": {"dateTime": "2026-03-05T11:00:00Z"},
					"updated": "2026-03-01T08:00:00Z"
				}],
				"nextPageToken": "p2"
			}`))
			return
		}
		if q.Get("pageToken") != "p2" {
			t.Errorf("pageToken = %q, want p2", q.Get("pageToken"))
		}
		w.Write([]byte(`{
			"items": [{
				"id": "ev-2", "etag": "\"e2\"", "status": "confirmed",
				"summary": "School trip",
				"start": {"date": "2026-03-09"},
				"end": {"date": "2026-03-10"}
			}],
			"nextSyncToken": "sync-1"
		}`))
	}))
	defer srv.Close()

	cs, err := testGoogleClient(srv.URL).Changes(context.Background(), "at-1", "primary", "")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}

	if !cs.FullResync {
		t.Error("expected full resync without a sync token")
	}
	if cs.NextSyncToken != "sync-1" {
		t.Errorf("next sync token = %q, want sync-1", cs.NextSyncToken)
	}
	if len(cs.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(cs.Events))
	}
	if len(paths) != 2 || paths[0] != "/calendars/primary/events" {
		t.Errorf("requests = %v", paths)
	}

	ev := cs.Events[0]
	if ev.ID != "ev-1" || ev.Title != "Dentist" || ev.Location != "12 Main St" {
		t.Errorf("unexpected first event: %+v", ev)
	}
	if ev.Etag != `"e1"` {
		t.Errorf("etag = %q", ev.Etag)
	}
	if want := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC); !ev.Start.Equal(want) {
		t.Errorf("start = %v, want %v", ev.Start, want)
	}
	if ev.AllDay || ev.Deleted {
		t.Errorf("flags = all_day %v deleted %v", ev.AllDay, ev.Deleted)
	}
	if want := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC); !ev.Updated.Equal(want) {
		t.Errorf("updated = %v, want %v", ev.Updated, want)
	}

	allDay := cs.Events[1]
	if !allDay.AllDay {
		t.Error("expected date-only event to be all-day")
	}
	if want := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC); !allDay.Start.Equal(want) {
		t.Errorf("all-day start = %v, want %v", allDay.Start, want)
	}
}

func TestGoogleChangesIncremental(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("syncToken"); got != "sync-1" {
			t.Errorf("syncToken = %q, want sync-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"items": [{"id": "ev-1", "etag": "\"e3\"", "status": "cancelled"}],
			"nextSyncToken": "sync-2"
		}`))
	}))
	defer srv.Close()

	cs, err := testGoogleClient(srv.URL).Changes(context.Background(), "at-1", "primary", "sync-1")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if cs.FullResync {
		t.Error("incremental pull should not be a full resync")
	}
	if len(cs.Events) != 1 || !cs.Events[0].Deleted {
		t.Fatalf("expected one cancelled event, got %+v", cs.Events)
	}
	if cs.NextSyncToken != "sync-2" {
		t.Errorf("next sync token = %q", cs.NextSyncToken)
	}
}

func TestGoogleChangesStaleSyncToken(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Query().Get("syncToken") != "" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"items": [{"id": "ev-1", "etag": "\"e1\"", "summary": "Dentist",
				"start": {"dateTime": "2026-03-05T10:00:00Z"}, "end": {"dateTime": "2026-03-05T11:00:00Z"}}],
			"nextSyncToken": "sync-fresh"
		}`))
	}))
	defer srv.Close()

	cs, err := testGoogleClient(srv.URL).Changes(context.Background(), "at-1", "primary", "sync-stale")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if !cs.FullResync {
		t.Error("expected expired sync token to trigger a full resync")
	}
	if cs.NextSyncToken != "sync-fresh" {
		t.Errorf("next sync token = %q", cs.NextSyncToken)
	}
	if len(cs.Events) != 1 {
		t.Errorf("got %d events, want 1", len(cs.Events))
	}
	if requests != 2 {
		t.Errorf("made %d requests, want 2", requests)
	}
}

func TestGoogleCreateEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/calendars/primary/events" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var ev googleEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if ev.Summary != "Dinner with the Parks" {
			t.Errorf("summary = %q", ev.Summary)
		}
		if ev.Start == nil || ev.Start.DateTime != "2026-04-01T18:30:00Z" {
			t.Errorf("start = %+v", ev.Start)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "ev-9", "etag": "\"e9\"", "summary": "Dinner with the Parks",
			"start": {"dateTime": "2026-04-01T18:30:00Z"}, "end": {"dateTime": "2026-04-01T20:00:00Z"}}`))
	}))
	defer srv.Close()

	remote, err := testGoogleClient(srv.URL).CreateEvent(context.Background(), "at-1", "primary", EventPayload{
		Title: "Dinner with the Parks",
		Start: time.Date(2026, 4, 1, 18, 30, 0, 0, time.UTC),
		End:   time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if remote.ID != "ev-9" || remote.Etag != `"e9"` {
		t.Errorf("remote = %+v", remote)
	}
}

func TestGoogleUpdateEventSendsEtag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		if r.URL.Path != "/calendars/primary/events/ev-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("If-Match"); got != `"e1"` {
			t.Errorf("If-Match = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "ev-1", "etag": "\"e2\"", "summary": "Dentist (moved)",
			"start": {"dateTime": "2026-03-06T10:00:00Z"}, "end": {"dateTime": "2026-03-06T11:00:00Z"}}`))
	}))
	defer srv.Close()

	remote, err := testGoogleClient(srv.URL).UpdateEvent(context.Background(), "at-1", "primary", "ev-1", `"e1"`, EventPayload{
		Title: "Dentist (moved)",
		Start: time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 6, 11, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("update event: %v", err)
	}
	if remote.Etag != `"e2"` {
		t.Errorf("etag = %q, want the new revision", remote.Etag)
	}
}

func TestGoogleUpdateEventEtagMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	_, err := testGoogleClient(srv.URL).UpdateEvent(context.Background(), "at-1", "primary", "ev-1", `"stale"`, EventPayload{})
	if !errors.Is(err, ErrEtagMismatch) {
		t.Fatalf("err = %v, want ErrEtagMismatch", err)
	}
}

func TestGoogleUpdateEventMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testGoogleClient(srv.URL).UpdateEvent(context.Background(), "at-1", "primary", "ev-1", `"e1"`, EventPayload{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGoogleDeleteEventToleratesGone(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusNotFound, http.StatusGone} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete {
				t.Errorf("method = %s, want DELETE", r.Method)
			}
			w.WriteHeader(status)
		}))

		err := testGoogleClient(srv.URL).DeleteEvent(context.Background(), "at-1", "primary", "ev-1")
		srv.Close()
		if err != nil {
			t.Errorf("delete with status %d: %v", status, err)
		}
	}
}

func TestGoogleDeleteEventFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if err := testGoogleClient(srv.URL).DeleteEvent(context.Background(), "at-1", "primary", "ev-1"); err == nil {
		t.Fatal("expected forbidden delete to fail")
	}
}
