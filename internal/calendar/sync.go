package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
)

var (
	// ErrConflictNotFound means no such conflict exists in the space.
	ErrConflictNotFound = errors.New("calendar: conflict not found")

	// ErrConflictResolved means someone already picked a side.
	ErrConflictResolved = errors.New("calendar: conflict already resolved")
)

// tokenLeeway refreshes access tokens this close to expiry so a pass
// never starts with a token that dies mid-sync.
const tokenLeeway = 2 * time.Minute

// syncConcurrency caps parallel connections in a sweep.
const syncConcurrency = 4

// Result summarizes one sync pass.
type Result struct {
	Pulled    int `json:"pulled"`
	Pushed    int `json:"pushed"`
	Conflicts int `json:"conflicts"`
}

// Engine runs the two-way sync: pull remote changes, park conflicts,
// apply clean remote wins, push dirty local events, log the pass.
// Conflicts are never merged; they wait in calendar_sync_conflicts for a
// person to pick a side.
type Engine struct {
	connections *store.CalendarConnectionStore
	events      *store.EventStore
	conflicts   *store.ConflictStore
	logs        *store.SyncLogStore
	providers   map[string]Provider
	logger      *slog.Logger
}

func NewEngine(
	connections *store.CalendarConnectionStore,
	events *store.EventStore,
	conflicts *store.ConflictStore,
	logs *store.SyncLogStore,
	providers map[string]Provider,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		connections: connections,
		events:      events,
		conflicts:   conflicts,
		logs:        logs,
		providers:   providers,
		logger:      logger.With("component", "calendar_sync"),
	}
}

// ProviderFor returns the configured client for a provider name.
func (e *Engine) ProviderFor(name string) (Provider, bool) {
	p, ok := e.providers[name]
	return p, ok
}

// SyncConnection runs one full pass over a connection and records it in
// calendar_sync_logs. A failing connection is flagged with status error
// so it surfaces in the connection list.
func (e *Engine) SyncConnection(ctx context.Context, conn *model.CalendarConnection) (*Result, error) {
	provider, ok := e.providers[conn.Provider]
	if !ok {
		return nil, fmt.Errorf("no client configured for provider %q", conn.Provider)
	}

	logID, err := e.logs.Start(conn.ID, model.SyncDirectionFull)
	if err != nil {
		return nil, err
	}

	res, syncErr := e.run(ctx, provider, conn)

	status := model.SyncStatusSuccess
	errMsg := ""
	if syncErr != nil {
		errMsg = syncErr.Error()
		status = model.SyncStatusFailed
		if res.Pulled > 0 || res.Pushed > 0 {
			status = model.SyncStatusPartial
		}
	}
	if err := e.logs.Finish(logID, res.Pulled, res.Pushed, res.Conflicts, status, errMsg); err != nil {
		e.logger.Error("finish sync log", "connection_id", conn.ID, "error", err)
	}

	if syncErr != nil {
		if err := e.connections.SetStatus(conn.ID, model.ConnectionStatusError, errMsg); err != nil {
			e.logger.Error("flag connection error", "connection_id", conn.ID, "error", err)
		}
		return res, syncErr
	}

	e.logger.Info("synced connection",
		"connection_id", conn.ID,
		"provider", conn.Provider,
		"pulled", res.Pulled,
		"pushed", res.Pushed,
		"conflicts", res.Conflicts,
	)
	return res, nil
}

func (e *Engine) run(ctx context.Context, provider Provider, conn *model.CalendarConnection) (*Result, error) {
	res := &Result{}

	accessToken, err := e.freshAccessToken(ctx, provider, conn)
	if err != nil {
		return res, fmt.Errorf("refresh access token: %w", err)
	}

	changes, err := provider.Changes(ctx, accessToken, conn.ExternalCalendarID, conn.SyncToken)
	if err != nil {
		return res, fmt.Errorf("pull changes: %w", err)
	}

	for _, remote := range changes.Events {
		applied, conflicted, err := e.applyRemote(conn, remote)
		if err != nil {
			return res, fmt.Errorf("apply remote event %s: %w", remote.ID, err)
		}
		if applied {
			res.Pulled++
		}
		if conflicted {
			res.Conflicts++
		}
	}

	dirty, err := e.events.ListDirtyForConnection(conn.SpaceID, conn.ID)
	if err != nil {
		return res, fmt.Errorf("list dirty events: %w", err)
	}
	for _, ev := range dirty {
		pushed, err := e.pushLocal(ctx, provider, conn, accessToken, ev)
		if err != nil {
			return res, fmt.Errorf("push event %d: %w", ev.ID, err)
		}
		if pushed {
			res.Pushed++
		}
	}

	syncToken := changes.NextSyncToken
	if syncToken == "" {
		syncToken = conn.SyncToken
	}
	if err := e.connections.UpdateSyncState(conn.ID, syncToken); err != nil {
		return res, fmt.Errorf("record sync state: %w", err)
	}
	return res, nil
}

// applyRemote folds one pulled event into the local table. An event both
// sides changed is parked as a conflict and left untouched.
func (e *Engine) applyRemote(conn *model.CalendarConnection, remote RemoteEvent) (applied, conflicted bool, err error) {
	local, err := e.events.GetByProviderEventID(conn.ID, remote.ID)
	if err != nil {
		return false, false, err
	}

	if local == nil {
		if remote.Deleted {
			// Never had it locally.
			return false, false, nil
		}
		_, err := e.events.CreateRemote(conn.SpaceID, conn.ID, remote.ID, remote.Etag,
			remote.Title, remote.Description, remote.Location, remote.Start, remote.End, remote.AllDay)
		if err != nil {
			return false, false, err
		}
		return true, false, nil
	}

	if local.Etag == remote.Etag && !remote.Deleted && !local.Dirty {
		// Full resyncs echo unchanged events.
		return false, false, nil
	}

	if local.Dirty {
		open, err := e.conflicts.HasOpenForEvent(local.ID)
		if err != nil {
			return false, false, err
		}
		if open {
			return false, false, nil
		}
		localPayload, remotePayload := conflictPayloads(local, remote)
		if _, err := e.conflicts.Create(conn.ID, local.ID, remote.ID, localPayload, remotePayload); err != nil {
			return false, false, err
		}
		return false, true, nil
	}

	if remote.Deleted {
		if err := e.events.HardDelete(local.ID); err != nil {
			return false, false, err
		}
		return true, false, nil
	}

	if err := e.events.ApplyRemote(local.ID, remote.Etag,
		remote.Title, remote.Description, remote.Location, remote.Start, remote.End, remote.AllDay); err != nil {
		return false, false, err
	}
	return true, false, nil
}

// pushLocal sends one dirty event out. Events parked behind an open
// conflict stay put. An etag mismatch or a vanished remote copy means
// the provider side moved after our pull; the event stays dirty and the
// next pull records the competing change as a conflict.
func (e *Engine) pushLocal(ctx context.Context, provider Provider, conn *model.CalendarConnection, accessToken string, ev model.CalendarEvent) (bool, error) {
	open, err := e.conflicts.HasOpenForEvent(ev.ID)
	if err != nil {
		return false, err
	}
	if open {
		return false, nil
	}

	if ev.DeletedAt != nil {
		if ev.ProviderEventID != "" {
			if err := provider.DeleteEvent(ctx, accessToken, conn.ExternalCalendarID, ev.ProviderEventID); err != nil {
				return false, fmt.Errorf("delete remote copy: %w", err)
			}
		}
		if err := e.events.HardDelete(ev.ID); err != nil {
			return false, err
		}
		return true, nil
	}

	payload := EventPayload{
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       ev.StartTime,
		End:         ev.EndTime,
		AllDay:      ev.AllDay,
	}

	if ev.ProviderEventID == "" {
		remote, err := provider.CreateEvent(ctx, accessToken, conn.ExternalCalendarID, payload)
		if err != nil {
			return false, fmt.Errorf("create remote copy: %w", err)
		}
		if err := e.events.MarkPushed(ev.ID, conn.ID, remote.ID, remote.Etag); err != nil {
			return false, err
		}
		return true, nil
	}

	remote, err := provider.UpdateEvent(ctx, accessToken, conn.ExternalCalendarID, ev.ProviderEventID, ev.Etag, payload)
	if errors.Is(err, ErrEtagMismatch) || errors.Is(err, ErrNotFound) {
		e.logger.Info("push deferred, remote changed underneath",
			"event_id", ev.ID, "provider_event_id", ev.ProviderEventID, "error", err)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update remote copy: %w", err)
	}
	if err := e.events.MarkPushed(ev.ID, conn.ID, remote.ID, remote.Etag); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) freshAccessToken(ctx context.Context, provider Provider, conn *model.CalendarConnection) (string, error) {
	if conn.TokenExpiresAt == nil || time.Until(*conn.TokenExpiresAt) > tokenLeeway {
		return conn.AccessToken, nil
	}
	if conn.RefreshToken == "" {
		return "", fmt.Errorf("access token expired and no refresh token held")
	}

	tok, err := provider.Refresh(ctx, conn.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := e.connections.UpdateTokens(conn.ID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// SyncAll sweeps every active connection, a few at a time. One broken
// connection never blocks the rest; failures are logged and flagged on
// the connection itself. Returns how many connections synced cleanly.
func (e *Engine) SyncAll(ctx context.Context) (int, error) {
	conns, err := e.connections.ListActive()
	if err != nil {
		return 0, fmt.Errorf("list active connections: %w", err)
	}

	var mu sync.Mutex
	synced := 0

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(syncConcurrency)
	for _, conn := range conns {
		eg.Go(func() error {
			if _, err := e.SyncConnection(egCtx, &conn); err != nil {
				e.logger.Error("sync connection", "connection_id", conn.ID, "provider", conn.Provider, "error", err)
				return nil
			}
			mu.Lock()
			synced++
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return synced, err
	}
	return synced, nil
}

// ResolveConflict applies the chosen side and closes the conflict.
// Picking remote rewrites the local event from the recorded snapshot;
// picking local repoints the event at the provider's revision so the
// next pass pushes it.
func (e *Engine) ResolveConflict(spaceID, conflictID int64, resolution string) error {
	c, err := e.conflicts.GetByID(spaceID, conflictID)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrConflictNotFound
	}
	if c.ResolvedAt != nil {
		return ErrConflictResolved
	}

	var remote RemoteEvent
	if err := json.Unmarshal([]byte(c.RemotePayload), &remote); err != nil {
		return fmt.Errorf("parse remote payload: %w", err)
	}

	switch resolution {
	case model.ResolutionRemote:
		if remote.Deleted {
			err = e.events.HardDelete(c.EventID)
		} else {
			err = e.events.ApplyRemote(c.EventID, remote.Etag,
				remote.Title, remote.Description, remote.Location, remote.Start, remote.End, remote.AllDay)
		}
	case model.ResolutionLocal:
		if remote.Deleted {
			// The provider copy is gone; recreate it on the next push.
			err = e.events.ClearProviderLink(c.EventID)
		} else {
			err = e.events.UpdateEtag(c.EventID, remote.Etag)
		}
	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}
	if err != nil {
		return err
	}

	return e.conflicts.Resolve(c.ID, resolution)
}

func conflictPayloads(local *model.CalendarEvent, remote RemoteEvent) (string, string) {
	lp, err := json.Marshal(local)
	if err != nil {
		lp = []byte("{}")
	}
	rp, err := json.Marshal(remote)
	if err != nil {
		rp = []byte("{}")
	}
	return string(lp), string(rp)
}
