package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/calebmorrow/hearthside/internal/database"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
)

// fakeProvider implements Provider in memory for engine tests.
type fakeProvider struct {
	mu sync.Mutex

	changes       []RemoteEvent
	nextSyncToken string
	seenTokens    []string
	failCalendars map[string]bool

	created   []EventPayload
	updated   []string
	deleted   []string
	updateErr error

	refreshCalls int
}

func (f *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.test/auth?state=" + state
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	return &Token{AccessToken: "at-exchanged", RefreshToken: "rt-exchanged"}, nil
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	expires := time.Now().UTC().Add(time.Hour)
	return &Token{AccessToken: "at-fresh", RefreshToken: refreshToken, ExpiresAt: &expires}, nil
}

func (f *fakeProvider) Changes(ctx context.Context, accessToken, calendarID, syncToken string) (*ChangeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCalendars[calendarID] {
		return nil, fmt.Errorf("calendar %s unavailable", calendarID)
	}
	f.seenTokens = append(f.seenTokens, syncToken)
	token := f.nextSyncToken
	if token == "" {
		token = "tok-1"
	}
	return &ChangeSet{Events: f.changes, NextSyncToken: token, FullResync: syncToken == ""}, nil
}

func (f *fakeProvider) CreateEvent(ctx context.Context, accessToken, calendarID string, p EventPayload) (*RemoteEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
	id := fmt.Sprintf("prov-%d", len(f.created))
	return &RemoteEvent{ID: id, Etag: `"v1"`, Title: p.Title, Start: p.Start, End: p.End, AllDay: p.AllDay}, nil
}

func (f *fakeProvider) UpdateEvent(ctx context.Context, accessToken, calendarID, eventID, etag string, p EventPayload) (*RemoteEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updated = append(f.updated, eventID)
	return &RemoteEvent{ID: eventID, Etag: `"v2"`, Title: p.Title, Start: p.Start, End: p.End, AllDay: p.AllDay}, nil
}

func (f *fakeProvider) DeleteEvent(ctx context.Context, accessToken, calendarID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, eventID)
	return nil
}

var _ Provider = (*fakeProvider)(nil)

type syncFixture struct {
	engine    *Engine
	fake      *fakeProvider
	conn      *model.CalendarConnection
	conns     *store.CalendarConnectionStore
	events    *store.EventStore
	conflicts *store.ConflictStore
	logs      *store.SyncLogStore
	spaceID   int64
	userID    int64
}

func setupSyncTest(t *testing.T) *syncFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sp, err := store.NewSpaceStore(db).Create("Sync Space")
	if err != nil {
		t.Fatalf("create space: %v", err)
	}
	u, err := store.NewUserStore(db).Create("cal@test.com", "Cal", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	conns := store.NewCalendarConnectionStore(db)
	expires := time.Now().UTC().Add(time.Hour)
	conn, err := conns.Create(sp.ID, u.ID, model.ProviderGoogle, "primary", "at-1", "rt-1", &expires)
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}

	fake := &fakeProvider{}
	events := store.NewEventStore(db)
	conflicts := store.NewConflictStore(db)
	logs := store.NewSyncLogStore(db)

	engine := NewEngine(conns, events, conflicts, logs,
		map[string]Provider{model.ProviderGoogle: fake}, slog.Default())

	return &syncFixture{
		engine:    engine,
		fake:      fake,
		conn:      conn,
		conns:     conns,
		events:    events,
		conflicts: conflicts,
		logs:      logs,
		spaceID:   sp.ID,
		userID:    u.ID,
	}
}

func TestSyncPullsNewRemoteEvents(t *testing.T) {
	f := setupSyncTest(t)
	f.fake.changes = []RemoteEvent{
		{ID: "r-1", Etag: `"e1"`, Title: "Dentist",
			Start: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC)},
		{ID: "r-2", Etag: `"e2"`, Title: "School trip", AllDay: true,
			Start: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
	}
	f.fake.nextSyncToken = "tok-2"

	res, err := f.engine.SyncConnection(context.Background(), f.conn)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Pulled != 2 || res.Pushed != 0 || res.Conflicts != 0 {
		t.Errorf("result = %+v, want 2 pulled", res)
	}

	ev, err := f.events.GetByProviderEventID(f.conn.ID, "r-1")
	if err != nil || ev == nil {
		t.Fatalf("pulled event not stored: %v", err)
	}
	if ev.Title != "Dentist" || ev.Origin != model.OriginRemote || ev.Dirty {
		t.Errorf("stored event = %+v", ev)
	}

	conn, err := f.conns.GetAnyByID(f.conn.ID)
	if err != nil {
		t.Fatalf("reload connection: %v", err)
	}
	if conn.SyncToken != "tok-2" {
		t.Errorf("sync token = %q, want tok-2", conn.SyncToken)
	}
	if conn.LastSyncedAt == nil {
		t.Error("expected last_synced_at to be set")
	}

	logs, err := f.logs.ListBySpace(f.spaceID, 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d sync logs, want 1", len(logs))
	}
	if logs[0].Status != model.SyncStatusSuccess || logs[0].Pulled != 2 {
		t.Errorf("log = %+v", logs[0])
	}
	if logs[0].FinishedAt == nil {
		t.Error("expected log to be finished")
	}
}

func TestSyncPushesLocalEvents(t *testing.T) {
	f := setupSyncTest(t)

	local, err := f.events.Create(f.spaceID, "Pack lunches", "",
		time.Date(2026, 3, 6, 7, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 6, 7, 30, 0, 0, time.UTC), false, nil, "")
	if err != nil {
		t.Fatalf("create local event: %v", err)
	}

	res, err := f.engine.SyncConnection(context.Background(), f.conn)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Pushed != 1 {
		t.Errorf("pushed = %d, want 1", res.Pushed)
	}
	if len(f.fake.created) != 1 || f.fake.created[0].Title != "Pack lunches" {
		t.Errorf("provider got %+v", f.fake.created)
	}

	ev, err := f.events.GetAnyByID(local.ID)
	if err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if ev.ProviderEventID != "prov-1" || ev.Etag != `"v1"` {
		t.Errorf("event after push = %+v", ev)
	}
	if ev.Dirty {
		t.Error("expected pushed event to be clean")
	}
	if ev.ConnectionID == nil || *ev.ConnectionID != f.conn.ID {
		t.Error("expected pushed event to be attached to the connection")
	}
}

func TestSyncConflictWhenBothSidesChanged(t *testing.T) {
	f := setupSyncTest(t)

	// An event both sides know about.
	seeded, err := f.events.CreateRemote(f.spaceID, f.conn.ID, "r-1", `"e1"`,
		"Dentist", "", "", time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC), false)
	if err != nil {
		t.Fatalf("seed remote event: %v", err)
	}

	// Edited locally...
	if _, err := f.events.Update(f.spaceID, seeded.ID, "Dentist (moved by us)", "",
		time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 6, 11, 0, 0, 0, time.UTC), false, nil, ""); err != nil {
		t.Fatalf("edit local event: %v", err)
	}

	// ...and changed remotely.
	f.fake.changes = []RemoteEvent{
		{ID: "r-1", Etag: `"e9"`, Title: "Dentist (moved by them)",
			Start: time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 7, 11, 0, 0, 0, time.UTC)},
	}

	res, err := f.engine.SyncConnection(context.Background(), f.conn)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Conflicts != 1 {
		t.Errorf("conflicts = %d, want 1", res.Conflicts)
	}

	// Neither side was clobbered.
	ev, err := f.events.GetAnyByID(seeded.ID)
	if err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if ev.Title != "Dentist (moved by us)" {
		t.Errorf("local title = %q, want the local edit kept", ev.Title)
	}
	if len(f.fake.updated) != 0 {
		t.Errorf("provider received %d updates, want none", len(f.fake.updated))
	}

	open, err := f.conflicts.ListOpen(f.spaceID)
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("got %d open conflicts, want 1", len(open))
	}
	c := open[0]
	if c.EventID != seeded.ID || c.ProviderEventID != "r-1" {
		t.Errorf("conflict = %+v", c)
	}
	if c.LocalPayload == "" || c.RemotePayload == "" {
		t.Error("expected both payload snapshots recorded")
	}

	// Running again with the same remote change must not duplicate the
	// conflict.
	if _, err := f.engine.SyncConnection(context.Background(), f.conn); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	open, err = f.conflicts.ListOpen(f.spaceID)
	if err != nil {
		t.Fatalf("list conflicts again: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("got %d open conflicts after resync, want still 1", len(open))
	}
}

func TestSyncAppliesRemoteEdit(t *testing.T) {
	f := setupSyncTest(t)

	seeded, err := f.events.CreateRemote(f.spaceID, f.conn.ID, "r-1", `"e1"`,
		"Dentist", "", "", time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC), false)
	if err != nil {
		t.Fatalf("seed remote event: %v", err)
	}

	f.fake.changes = []RemoteEvent{
		{ID: "r-1", Etag: `"e2"`, Title: "Dentist (rescheduled)",
			Start: time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 12, 11, 0, 0, 0, time.UTC)},
	}

	res, err := f.engine.SyncConnection(context.Background(), f.conn)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Pulled != 1 || res.Conflicts != 0 {
		t.Errorf("result = %+v", res)
	}

	ev, err := f.events.GetAnyByID(seeded.ID)
	if err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if ev.Title != "Dentist (rescheduled)" || ev.Etag != `"e2"` {
		t.Errorf("event = %+v, want the remote edit applied", ev)
	}
}

func TestSyncRemoteDeletionRemovesCleanLocal(t *testing.T) {
	f := setupSyncTest(t)

	seeded, err := f.events.CreateRemote(f.spaceID, f.conn.ID, "r-1", `"e1"`,
		"Dentist", "", "", time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC), false)
	if err != nil {
		t.Fatalf("seed remote event: %v", err)
	}

	f.fake.changes = []RemoteEvent{{ID: "r-1", Deleted: true}}

	res, err := f.engine.SyncConnection(context.Background(), f.conn)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Pulled != 1 {
		t.Errorf("pulled = %d, want 1", res.Pulled)
	}

	ev, err := f.events.GetAnyByID(seeded.ID)
	if err != nil {
		t.Fatalf("lookup event: %v", err)
	}
	if ev != nil {
		t.Errorf("expected event removed, still have %+v", ev)
	}
}

func TestSyncPushesLocalDeletion(t *testing.T) {
	f := setupSyncTest(t)

	local, err := f.events.Create(f.spaceID, "Old plans", "",
		time.Date(2026, 3, 6, 7, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 6, 8, 0, 0, 0, time.UTC), false, nil, "")
	if err != nil {
		t.Fatalf("create local event: %v", err)
	}
	// First sync pushes it out.
	if _, err := f.engine.SyncConnection(context.Background(), f.conn); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	if err := f.events.MarkDeleted(f.spaceID, local.ID); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	res, err := f.engine.SyncConnection(context.Background(), f.conn)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Pushed != 1 {
		t.Errorf("pushed = %d, want the deletion", res.Pushed)
	}

	if len(f.fake.deleted) != 1 || f.fake.deleted[0] != "prov-1" {
		t.Errorf("provider deletions = %v", f.fake.deleted)
	}
	ev, err := f.events.GetAnyByID(local.ID)
	if err != nil {
		t.Fatalf("lookup event: %v", err)
	}
	if ev != nil {
		t.Error("expected soft-deleted row purged after the push")
	}
}

func TestSyncRefreshesExpiringToken(t *testing.T) {
	f := setupSyncTest(t)

	soon := time.Now().UTC().Add(30 * time.Second)
	if err := f.conns.UpdateTokens(f.conn.ID, "at-stale", "rt-1", &soon); err != nil {
		t.Fatalf("age token: %v", err)
	}
	conn, err := f.conns.GetAnyByID(f.conn.ID)
	if err != nil {
		t.Fatalf("reload connection: %v", err)
	}

	if _, err := f.engine.SyncConnection(context.Background(), conn); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if f.fake.refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", f.fake.refreshCalls)
	}

	conn, err = f.conns.GetAnyByID(f.conn.ID)
	if err != nil {
		t.Fatalf("reload connection: %v", err)
	}
	if conn.AccessToken != "at-fresh" {
		t.Errorf("access token = %q, want the refreshed one", conn.AccessToken)
	}
}

func TestSyncFreshTokenSkipsRefresh(t *testing.T) {
	f := setupSyncTest(t)

	if _, err := f.engine.SyncConnection(context.Background(), f.conn); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if f.fake.refreshCalls != 0 {
		t.Errorf("refresh calls = %d, want 0", f.fake.refreshCalls)
	}
}

func TestSyncFailureFlagsConnection(t *testing.T) {
	f := setupSyncTest(t)
	f.fake.failCalendars = map[string]bool{"primary": true}

	if _, err := f.engine.SyncConnection(context.Background(), f.conn); err == nil {
		t.Fatal("expected sync to fail")
	}

	conn, err := f.conns.GetAnyByID(f.conn.ID)
	if err != nil {
		t.Fatalf("reload connection: %v", err)
	}
	if conn.Status != model.ConnectionStatusError {
		t.Errorf("status = %q, want error", conn.Status)
	}
	if conn.LastError == "" {
		t.Error("expected last_error recorded")
	}

	logs, err := f.logs.ListBySpace(f.spaceID, 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != model.SyncStatusFailed {
		t.Errorf("logs = %+v, want one failed entry", logs)
	}
}

func TestSyncEtagMismatchLeavesEventDirty(t *testing.T) {
	f := setupSyncTest(t)

	seeded, err := f.events.CreateRemote(f.spaceID, f.conn.ID, "r-1", `"e1"`,
		"Dentist", "", "", time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC), false)
	if err != nil {
		t.Fatalf("seed remote event: %v", err)
	}
	if _, err := f.events.Update(f.spaceID, seeded.ID, "Dentist (edited)", "",
		time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC), false, nil, ""); err != nil {
		t.Fatalf("edit event: %v", err)
	}

	f.fake.updateErr = ErrEtagMismatch

	res, err := f.engine.SyncConnection(context.Background(), f.conn)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Pushed != 0 {
		t.Errorf("pushed = %d, want 0", res.Pushed)
	}

	ev, err := f.events.GetAnyByID(seeded.ID)
	if err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if !ev.Dirty {
		t.Error("expected event to stay dirty for the next pass")
	}
}

func TestSyncAllSkipsFailingConnections(t *testing.T) {
	f := setupSyncTest(t)

	expires := time.Now().UTC().Add(time.Hour)
	if _, err := f.conns.Create(f.spaceID, f.userID, model.ProviderGoogle, "broken", "at-2", "rt-2", &expires); err != nil {
		t.Fatalf("create second connection: %v", err)
	}
	f.fake.failCalendars = map[string]bool{"broken": true}

	synced, err := f.engine.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if synced != 1 {
		t.Errorf("synced = %d, want 1", synced)
	}
}

func TestResolveConflictRemote(t *testing.T) {
	f := setupSyncTest(t)
	conflictID, eventID := seedConflict(t, f)

	if err := f.engine.ResolveConflict(f.spaceID, conflictID, model.ResolutionRemote); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	ev, err := f.events.GetAnyByID(eventID)
	if err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if ev.Title != "Dentist (moved by them)" {
		t.Errorf("title = %q, want the remote side applied", ev.Title)
	}
	if ev.Dirty {
		t.Error("expected event clean after taking the remote side")
	}

	open, err := f.conflicts.ListOpen(f.spaceID)
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("still %d open conflicts", len(open))
	}
	c, err := f.conflicts.GetByID(f.spaceID, conflictID)
	if err != nil {
		t.Fatalf("reload conflict: %v", err)
	}
	if c.Resolution != model.ResolutionRemote || c.ResolvedAt == nil {
		t.Errorf("conflict = %+v", c)
	}
}

func TestResolveConflictLocalPushesNextPass(t *testing.T) {
	f := setupSyncTest(t)
	conflictID, eventID := seedConflict(t, f)

	if err := f.engine.ResolveConflict(f.spaceID, conflictID, model.ResolutionLocal); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	ev, err := f.events.GetAnyByID(eventID)
	if err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if ev.Title != "Dentist (moved by us)" {
		t.Errorf("title = %q, want the local side kept", ev.Title)
	}
	if !ev.Dirty {
		t.Error("expected event still dirty so it pushes")
	}
	if ev.Etag != `"e9"` {
		t.Errorf("etag = %q, want repointed at the remote revision", ev.Etag)
	}

	// The next pass pushes the local content over the now-acknowledged
	// remote revision.
	f.fake.changes = nil
	if _, err := f.engine.SyncConnection(context.Background(), f.conn); err != nil {
		t.Fatalf("follow-up sync: %v", err)
	}
	if len(f.fake.updated) != 1 || f.fake.updated[0] != "r-1" {
		t.Errorf("provider updates = %v, want r-1 pushed", f.fake.updated)
	}
}

func TestResolveConflictTwice(t *testing.T) {
	f := setupSyncTest(t)
	conflictID, _ := seedConflict(t, f)

	if err := f.engine.ResolveConflict(f.spaceID, conflictID, model.ResolutionRemote); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	err := f.engine.ResolveConflict(f.spaceID, conflictID, model.ResolutionLocal)
	if err != ErrConflictResolved {
		t.Fatalf("second resolve err = %v, want ErrConflictResolved", err)
	}
}

func TestResolveConflictUnknown(t *testing.T) {
	f := setupSyncTest(t)

	if err := f.engine.ResolveConflict(f.spaceID, 9999, model.ResolutionRemote); err != ErrConflictNotFound {
		t.Fatalf("err = %v, want ErrConflictNotFound", err)
	}
}

// seedConflict creates an event edited on both sides and syncs once to
// record the conflict.
func seedConflict(t *testing.T, f *syncFixture) (conflictID, eventID int64) {
	t.Helper()

	seeded, err := f.events.CreateRemote(f.spaceID, f.conn.ID, "r-1", `"e1"`,
		"Dentist", "", "", time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC), false)
	if err != nil {
		t.Fatalf("seed remote event: %v", err)
	}
	if _, err := f.events.Update(f.spaceID, seeded.ID, "Dentist (moved by us)", "",
		time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 6, 11, 0, 0, 0, time.UTC), false, nil, ""); err != nil {
		t.Fatalf("edit local event: %v", err)
	}
	f.fake.changes = []RemoteEvent{
		{ID: "r-1", Etag: `"e9"`, Title: "Dentist (moved by them)",
			Start: time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 7, 11, 0, 0, 0, time.UTC)},
	}

	res, err := f.engine.SyncConnection(context.Background(), f.conn)
	if err != nil {
		t.Fatalf("seed sync: %v", err)
	}
	if res.Conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", res.Conflicts)
	}

	open, err := f.conflicts.ListOpen(f.spaceID)
	if err != nil || len(open) != 1 {
		t.Fatalf("open conflicts = %v (err %v)", open, err)
	}
	return open[0].ID, seeded.ID
}
