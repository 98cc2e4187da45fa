package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/calebmorrow/hearthside/internal/model"
)

type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func scanEvent(scanner interface{ Scan(...any) error }) (*model.CalendarEvent, error) {
	var e model.CalendarEvent
	var connectionID, assignedTo sql.NullInt64
	var deletedAt sql.NullTime
	var allDayInt, dirtyInt int

	err := scanner.Scan(
		&e.ID, &e.UID, &e.SpaceID, &connectionID, &e.ProviderEventID, &e.Etag,
		&e.Title, &e.Description, &e.Location, &e.StartTime, &e.EndTime,
		&allDayInt, &assignedTo, &e.Origin, &dirtyInt, &deletedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.AllDay = allDayInt != 0
	e.Dirty = dirtyInt != 0
	if connectionID.Valid {
		e.ConnectionID = &connectionID.Int64
	}
	if assignedTo.Valid {
		e.AssignedTo = &assignedTo.Int64
	}
	if deletedAt.Valid {
		e.DeletedAt = &deletedAt.Time
	}
	return &e, nil
}

const eventCols = `id, uid, space_id, connection_id, provider_event_id, etag, title, description, location, start_time, end_time, all_day, assigned_to, origin, dirty, deleted_at, created_at, updated_at`

// Create inserts a locally authored event. It starts dirty so the next
// sync pass pushes it out.
func (s *EventStore) Create(spaceID int64, title, description string, startTime, endTime time.Time, allDay bool, assignedTo *int64, location string) (*model.CalendarEvent, error) {
	result, err := s.db.Exec(
		`INSERT INTO calendar_events (uid, space_id, title, description, location, start_time, end_time, all_day, assigned_to, origin, dirty)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'local', 1)`,
		uuid.NewString(), spaceID, title, description, location, startTime.UTC(), endTime.UTC(), boolToInt(allDay), nullInt64(assignedTo),
	)
	if err != nil {
		return nil, fmt.Errorf("insert calendar event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetAnyByID(id)
}

func (s *EventStore) GetByID(spaceID, id int64) (*model.CalendarEvent, error) {
	row := s.db.QueryRow(
		`SELECT `+eventCols+` FROM calendar_events WHERE id = ? AND space_id = ? AND deleted_at IS NULL`,
		id, spaceID,
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar event: %w", err)
	}
	return e, nil
}

// GetAnyByID ignores the space filter and soft deletion, for the sync
// engine.
func (s *EventStore) GetAnyByID(id int64) (*model.CalendarEvent, error) {
	row := s.db.QueryRow(`SELECT `+eventCols+` FROM calendar_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar event: %w", err)
	}
	return e, nil
}

func (s *EventStore) GetByProviderEventID(connectionID int64, providerEventID string) (*model.CalendarEvent, error) {
	row := s.db.QueryRow(
		`SELECT `+eventCols+` FROM calendar_events WHERE connection_id = ? AND provider_event_id = ?`,
		connectionID, providerEventID,
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event by provider id: %w", err)
	}
	return e, nil
}

// ListByDateRange returns live events overlapping [start, end).
func (s *EventStore) ListByDateRange(spaceID int64, start, end time.Time) ([]model.CalendarEvent, error) {
	rows, err := s.db.Query(
		`SELECT `+eventCols+` FROM calendar_events
		 WHERE space_id = ? AND deleted_at IS NULL AND start_time < ? AND end_time > ?
		 ORDER BY all_day DESC, start_time ASC`,
		spaceID, end.UTC(), start.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}
	return collectEvents(rows)
}

// ListStartingBetween returns live events whose start falls in [start, end),
// ordered by start time. Reminder passes use this to find events entering
// their lead window.
func (s *EventStore) ListStartingBetween(spaceID int64, start, end time.Time) ([]model.CalendarEvent, error) {
	rows, err := s.db.Query(
		`SELECT `+eventCols+` FROM calendar_events
		 WHERE space_id = ? AND deleted_at IS NULL AND start_time >= ? AND start_time < ?
		 ORDER BY start_time ASC`,
		spaceID, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list events starting between: %w", err)
	}
	return collectEvents(rows)
}

// ListDirtyForConnection returns events awaiting a push through this
// connection: its own dirty events plus unattached local ones in the
// same space.
func (s *EventStore) ListDirtyForConnection(spaceID, connectionID int64) ([]model.CalendarEvent, error) {
	rows, err := s.db.Query(
		`SELECT `+eventCols+` FROM calendar_events
		 WHERE space_id = ? AND dirty = 1 AND (connection_id = ? OR connection_id IS NULL)
		 ORDER BY id ASC`,
		spaceID, connectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list dirty events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]model.CalendarEvent, error) {
	defer rows.Close()
	var events []model.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// Update edits a live event and marks it dirty for the next push.
func (s *EventStore) Update(spaceID, id int64, title, description string, startTime, endTime time.Time, allDay bool, assignedTo *int64, location string) (*model.CalendarEvent, error) {
	_, err := s.db.Exec(
		`UPDATE calendar_events
		 SET title = ?, description = ?, location = ?, start_time = ?, end_time = ?, all_day = ?, assigned_to = ?, dirty = 1, updated_at = datetime('now')
		 WHERE id = ? AND space_id = ? AND deleted_at IS NULL`,
		title, description, location, startTime.UTC(), endTime.UTC(), boolToInt(allDay), nullInt64(assignedTo), id, spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("update calendar event: %w", err)
	}
	return s.GetByID(spaceID, id)
}

// MarkDeleted soft-deletes an event that still has a provider copy, so
// the deletion can be pushed before the row is purged.
func (s *EventStore) MarkDeleted(spaceID, id int64) error {
	_, err := s.db.Exec(
		`UPDATE calendar_events SET deleted_at = datetime('now'), dirty = 1, updated_at = datetime('now')
		 WHERE id = ? AND space_id = ?`,
		id, spaceID,
	)
	if err != nil {
		return fmt.Errorf("mark calendar event deleted: %w", err)
	}
	return nil
}

func (s *EventStore) Delete(spaceID, id int64) error {
	_, err := s.db.Exec(`DELETE FROM calendar_events WHERE id = ? AND space_id = ?`, id, spaceID)
	if err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return nil
}

// HardDelete removes a row regardless of space, for the sync engine once
// a pushed deletion is acknowledged.
func (s *EventStore) HardDelete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM calendar_events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("hard delete calendar event: %w", err)
	}
	return nil
}

// CreateRemote inserts an event pulled from a provider. Remote rows start
// clean.
func (s *EventStore) CreateRemote(spaceID, connectionID int64, providerEventID, etag, title, description, location string, startTime, endTime time.Time, allDay bool) (*model.CalendarEvent, error) {
	result, err := s.db.Exec(
		`INSERT INTO calendar_events (uid, space_id, connection_id, provider_event_id, etag, title, description, location, start_time, end_time, all_day, origin, dirty)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'remote', 0)`,
		uuid.NewString(), spaceID, connectionID, providerEventID, etag, title, description, location, startTime.UTC(), endTime.UTC(), boolToInt(allDay),
	)
	if err != nil {
		return nil, fmt.Errorf("insert remote event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetAnyByID(id)
}

// ApplyRemote overwrites an event with the provider's copy and clears the
// dirty flag.
func (s *EventStore) ApplyRemote(id int64, etag, title, description, location string, startTime, endTime time.Time, allDay bool) error {
	_, err := s.db.Exec(
		`UPDATE calendar_events
		 SET etag = ?, title = ?, description = ?, location = ?, start_time = ?, end_time = ?, all_day = ?, dirty = 0, deleted_at = NULL, updated_at = datetime('now')
		 WHERE id = ?`,
		etag, title, description, location, startTime.UTC(), endTime.UTC(), boolToInt(allDay), id,
	)
	if err != nil {
		return fmt.Errorf("apply remote event: %w", err)
	}
	return nil
}

// MarkPushed records a successful push: the provider ids and a clean
// dirty flag.
func (s *EventStore) MarkPushed(id, connectionID int64, providerEventID, etag string) error {
	_, err := s.db.Exec(
		`UPDATE calendar_events SET connection_id = ?, provider_event_id = ?, etag = ?, dirty = 0, updated_at = datetime('now')
		 WHERE id = ?`,
		connectionID, providerEventID, etag, id,
	)
	if err != nil {
		return fmt.Errorf("mark event pushed: %w", err)
	}
	return nil
}

// UpdateEtag repoints an event at the provider's current revision without
// touching its content, so a local-side conflict resolution can still
// push.
func (s *EventStore) UpdateEtag(id int64, etag string) error {
	_, err := s.db.Exec(
		`UPDATE calendar_events SET etag = ?, dirty = 1, updated_at = datetime('now') WHERE id = ?`,
		etag, id,
	)
	if err != nil {
		return fmt.Errorf("update event etag: %w", err)
	}
	return nil
}

// ClearProviderLink detaches an event from its provider copy so the next
// push recreates it remotely.
func (s *EventStore) ClearProviderLink(id int64) error {
	_, err := s.db.Exec(
		`UPDATE calendar_events SET provider_event_id = '', etag = '', dirty = 1, updated_at = datetime('now') WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("clear event provider link: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
