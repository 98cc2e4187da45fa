package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/calebmorrow/hearthside/internal/model"
)

type SyncLogStore struct {
	db *sql.DB
}

func NewSyncLogStore(db *sql.DB) *SyncLogStore {
	return &SyncLogStore{db: db}
}

func scanSyncLog(scanner interface{ Scan(...any) error }) (*model.CalendarSyncLog, error) {
	var l model.CalendarSyncLog
	var finishedAt sql.NullTime

	err := scanner.Scan(
		&l.ID, &l.ConnectionID, &l.Direction, &l.Pulled, &l.Pushed,
		&l.Conflicts, &l.Status, &l.Error, &l.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		l.FinishedAt = &finishedAt.Time
	}
	return &l, nil
}

const syncLogCols = `id, connection_id, direction, pulled, pushed, conflicts, status, error, started_at, finished_at`

// Start opens a sync log row and returns its id.
func (s *SyncLogStore) Start(connectionID int64, direction string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO calendar_sync_logs (id, connection_id, direction, status, started_at)
		 VALUES (?, ?, ?, 'running', ?)`,
		id, connectionID, direction, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert sync log: %w", err)
	}
	return id, nil
}

// Finish closes a sync log row with its counts and outcome.
func (s *SyncLogStore) Finish(id string, pulled, pushed, conflicts int, status, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE calendar_sync_logs SET pulled = ?, pushed = ?, conflicts = ?, status = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		pulled, pushed, conflicts, status, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finish sync log: %w", err)
	}
	return nil
}

func (s *SyncLogStore) GetByID(id string) (*model.CalendarSyncLog, error) {
	row := s.db.QueryRow(`SELECT `+syncLogCols+` FROM calendar_sync_logs WHERE id = ?`, id)
	l, err := scanSyncLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync log: %w", err)
	}
	return l, nil
}

// ListBySpace returns recent sync logs for every connection in the space.
func (s *SyncLogStore) ListBySpace(spaceID int64, limit int) ([]model.CalendarSyncLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT l.id, l.connection_id, l.direction, l.pulled, l.pushed, l.conflicts, l.status, l.error, l.started_at, l.finished_at
		 FROM calendar_sync_logs l
		 JOIN calendar_connections c ON c.id = l.connection_id
		 WHERE c.space_id = ?
		 ORDER BY l.started_at DESC
		 LIMIT ?`,
		spaceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []model.CalendarSyncLog
	for rows.Next() {
		l, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

// DeleteOlderThan prunes finished logs older than the cutoff.
func (s *SyncLogStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM calendar_sync_logs WHERE finished_at IS NOT NULL AND finished_at < ?`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete old sync logs: %w", err)
	}
	return result.RowsAffected()
}

// --- Conflict methods ---

type ConflictStore struct {
	db *sql.DB
}

func NewConflictStore(db *sql.DB) *ConflictStore {
	return &ConflictStore{db: db}
}

func scanConflict(scanner interface{ Scan(...any) error }) (*model.CalendarSyncConflict, error) {
	var c model.CalendarSyncConflict
	var resolvedAt sql.NullTime

	err := scanner.Scan(
		&c.ID, &c.ConnectionID, &c.EventID, &c.ProviderEventID,
		&c.LocalPayload, &c.RemotePayload, &c.DetectedAt, &resolvedAt, &c.Resolution,
	)
	if err != nil {
		return nil, err
	}

	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	return &c, nil
}

const conflictCols = `id, connection_id, event_id, provider_event_id, local_payload, remote_payload, detected_at, resolved_at, resolution`

func (s *ConflictStore) Create(connectionID, eventID int64, providerEventID, localPayload, remotePayload string) (*model.CalendarSyncConflict, error) {
	result, err := s.db.Exec(
		`INSERT INTO calendar_sync_conflicts (connection_id, event_id, provider_event_id, local_payload, remote_payload)
		 VALUES (?, ?, ?, ?, ?)`,
		connectionID, eventID, providerEventID, localPayload, remotePayload,
	)
	if err != nil {
		return nil, fmt.Errorf("insert sync conflict: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+conflictCols+` FROM calendar_sync_conflicts WHERE id = ?`, id)
	return scanConflict(row)
}

// GetByID scopes through the connection's space so one space cannot read
// another's conflicts.
func (s *ConflictStore) GetByID(spaceID, id int64) (*model.CalendarSyncConflict, error) {
	row := s.db.QueryRow(
		`SELECT cf.id, cf.connection_id, cf.event_id, cf.provider_event_id, cf.local_payload, cf.remote_payload, cf.detected_at, cf.resolved_at, cf.resolution
		 FROM calendar_sync_conflicts cf
		 JOIN calendar_connections c ON c.id = cf.connection_id
		 WHERE cf.id = ? AND c.space_id = ?`,
		id, spaceID,
	)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync conflict: %w", err)
	}
	return c, nil
}

// ListOpen returns unresolved conflicts for the space, oldest first.
func (s *ConflictStore) ListOpen(spaceID int64) ([]model.CalendarSyncConflict, error) {
	rows, err := s.db.Query(
		`SELECT cf.id, cf.connection_id, cf.event_id, cf.provider_event_id, cf.local_payload, cf.remote_payload, cf.detected_at, cf.resolved_at, cf.resolution
		 FROM calendar_sync_conflicts cf
		 JOIN calendar_connections c ON c.id = cf.connection_id
		 WHERE c.space_id = ? AND cf.resolved_at IS NULL
		 ORDER BY cf.detected_at ASC`,
		spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list open conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []model.CalendarSyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync conflict: %w", err)
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}

// HasOpenForEvent reports whether the event is parked behind an
// unresolved conflict.
func (s *ConflictStore) HasOpenForEvent(eventID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM calendar_sync_conflicts WHERE event_id = ? AND resolved_at IS NULL`,
		eventID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check open conflict: %w", err)
	}
	return n > 0, nil
}

// Resolve stamps the chosen side. The caller applies the side's payload
// to the event.
func (s *ConflictStore) Resolve(id int64, resolution string) error {
	_, err := s.db.Exec(
		`UPDATE calendar_sync_conflicts SET resolved_at = datetime('now'), resolution = ? WHERE id = ? AND resolved_at IS NULL`,
		resolution, id,
	)
	if err != nil {
		return fmt.Errorf("resolve sync conflict: %w", err)
	}
	return nil
}
