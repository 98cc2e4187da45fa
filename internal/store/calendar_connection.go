package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
)

type CalendarConnectionStore struct {
	db *sql.DB
}

func NewCalendarConnectionStore(db *sql.DB) *CalendarConnectionStore {
	return &CalendarConnectionStore{db: db}
}

func scanCalendarConnection(scanner interface{ Scan(...any) error }) (*model.CalendarConnection, error) {
	var c model.CalendarConnection
	var tokenExpiresAt, lastSyncedAt sql.NullTime

	err := scanner.Scan(
		&c.ID, &c.SpaceID, &c.UserID, &c.Provider, &c.ExternalCalendarID,
		&c.AccessToken, &c.RefreshToken, &tokenExpiresAt, &c.SyncToken,
		&c.Status, &c.LastError, &lastSyncedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tokenExpiresAt.Valid {
		c.TokenExpiresAt = &tokenExpiresAt.Time
	}
	if lastSyncedAt.Valid {
		c.LastSyncedAt = &lastSyncedAt.Time
	}
	return &c, nil
}

const calendarConnectionCols = `id, space_id, user_id, provider, external_calendar_id, access_token, refresh_token, token_expires_at, sync_token, status, last_error, last_synced_at, created_at, updated_at`

func (s *CalendarConnectionStore) Create(spaceID, userID int64, provider, externalCalendarID, accessToken, refreshToken string, tokenExpiresAt *time.Time) (*model.CalendarConnection, error) {
	result, err := s.db.Exec(
		`INSERT INTO calendar_connections (space_id, user_id, provider, external_calendar_id, access_token, refresh_token, token_expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		spaceID, userID, provider, externalCalendarID, accessToken, refreshToken, nullTime(tokenExpiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert calendar connection: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetAnyByID(id)
}

func (s *CalendarConnectionStore) GetByID(spaceID, id int64) (*model.CalendarConnection, error) {
	row := s.db.QueryRow(
		`SELECT `+calendarConnectionCols+` FROM calendar_connections WHERE id = ? AND space_id = ?`,
		id, spaceID,
	)
	c, err := scanCalendarConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar connection: %w", err)
	}
	return c, nil
}

// GetAnyByID fetches without a space filter, for background jobs.
func (s *CalendarConnectionStore) GetAnyByID(id int64) (*model.CalendarConnection, error) {
	row := s.db.QueryRow(`SELECT `+calendarConnectionCols+` FROM calendar_connections WHERE id = ?`, id)
	c, err := scanCalendarConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar connection: %w", err)
	}
	return c, nil
}

func (s *CalendarConnectionStore) ListBySpace(spaceID int64) ([]model.CalendarConnection, error) {
	rows, err := s.db.Query(
		`SELECT `+calendarConnectionCols+` FROM calendar_connections WHERE space_id = ? ORDER BY created_at ASC`,
		spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list calendar connections: %w", err)
	}
	return collectCalendarConnections(rows)
}

// ListActive returns every active connection across all spaces, for the
// scheduled sync sweep.
func (s *CalendarConnectionStore) ListActive() ([]model.CalendarConnection, error) {
	rows, err := s.db.Query(
		`SELECT ` + calendarConnectionCols + ` FROM calendar_connections WHERE status = 'active' ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active calendar connections: %w", err)
	}
	return collectCalendarConnections(rows)
}

func collectCalendarConnections(rows *sql.Rows) ([]model.CalendarConnection, error) {
	defer rows.Close()
	var conns []model.CalendarConnection
	for rows.Next() {
		c, err := scanCalendarConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar connection: %w", err)
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (s *CalendarConnectionStore) UpdateTokens(id int64, accessToken, refreshToken string, tokenExpiresAt *time.Time) error {
	_, err := s.db.Exec(
		`UPDATE calendar_connections SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = datetime('now')
		 WHERE id = ?`,
		accessToken, refreshToken, nullTime(tokenExpiresAt), id,
	)
	if err != nil {
		return fmt.Errorf("update connection tokens: %w", err)
	}
	return nil
}

// UpdateSyncState records a completed sync: the provider's next sync token
// and the completion time.
func (s *CalendarConnectionStore) UpdateSyncState(id int64, syncToken string) error {
	_, err := s.db.Exec(
		`UPDATE calendar_connections SET sync_token = ?, last_synced_at = datetime('now'), last_error = '', status = 'active', updated_at = datetime('now')
		 WHERE id = ?`,
		syncToken, id,
	)
	if err != nil {
		return fmt.Errorf("update connection sync state: %w", err)
	}
	return nil
}

func (s *CalendarConnectionStore) SetStatus(id int64, status, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE calendar_connections SET status = ?, last_error = ?, updated_at = datetime('now') WHERE id = ?`,
		status, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("set connection status: %w", err)
	}
	return nil
}

func (s *CalendarConnectionStore) Delete(spaceID, id int64) error {
	_, err := s.db.Exec(`DELETE FROM calendar_connections WHERE id = ? AND space_id = ?`, id, spaceID)
	if err != nil {
		return fmt.Errorf("delete calendar connection: %w", err)
	}
	return nil
}

func (s *CalendarConnectionStore) CountBySpace(spaceID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM calendar_connections WHERE space_id = ?`, spaceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count calendar connections: %w", err)
	}
	return n, nil
}
