package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
)

type ExportStore struct {
	db *sql.DB
}

func NewExportStore(db *sql.DB) *ExportStore {
	return &ExportStore{db: db}
}

const exportCols = `id, space_id, requested_by, filename, s3_key, size_bytes, status, error_message, started_at, completed_at, created_at, updated_at`

func scanExport(scanner interface{ Scan(...any) error }) (*model.SpaceExport, error) {
	var e model.SpaceExport
	var startedAt, completedAt sql.NullTime

	err := scanner.Scan(&e.ID, &e.SpaceID, &e.RequestedBy, &e.Filename, &e.S3Key, &e.SizeBytes,
		&e.Status, &e.ErrorMessage, &startedAt, &completedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return &e, nil
}

func (s *ExportStore) Create(spaceID, requestedBy int64, filename string) (*model.SpaceExport, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO space_exports (space_id, requested_by, filename, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		spaceID, requestedBy, filename, model.ExportStatusPending, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create export: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+exportCols+` FROM space_exports WHERE id = ?`, id)
	return scanExport(row)
}

func (s *ExportStore) GetByID(id, spaceID int64) (*model.SpaceExport, error) {
	row := s.db.QueryRow(`SELECT `+exportCols+` FROM space_exports WHERE id = ? AND space_id = ?`, id, spaceID)
	e, err := scanExport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get export %d: %w", id, err)
	}
	return e, nil
}

func (s *ExportStore) List(spaceID int64, limit int) ([]model.SpaceExport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT `+exportCols+` FROM space_exports WHERE space_id = ? ORDER BY created_at DESC LIMIT ?`,
		spaceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()

	var exports []model.SpaceExport
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		exports = append(exports, *e)
	}
	return exports, rows.Err()
}

func (s *ExportStore) UpdateStatus(id int64, status model.ExportStatus, errorMsg string) error {
	_, err := s.db.Exec(
		`UPDATE space_exports SET status = ?, error_message = ?, updated_at = datetime('now') WHERE id = ?`,
		status, errorMsg, id,
	)
	if err != nil {
		return fmt.Errorf("update export status: %w", err)
	}
	return nil
}

func (s *ExportStore) UpdateCompleted(id, sizeBytes int64, s3Key string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE space_exports SET status = ?, size_bytes = ?, s3_key = ?, completed_at = ?, updated_at = datetime('now') WHERE id = ?`,
		model.ExportStatusCompleted, sizeBytes, s3Key, now, id,
	)
	if err != nil {
		return fmt.Errorf("update export completed: %w", err)
	}
	return nil
}

// HasPending reports whether the space already has an export in flight.
func (s *ExportStore) HasPending(spaceID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM space_exports WHERE space_id = ? AND status IN (?, ?)`,
		spaceID, model.ExportStatusPending, model.ExportStatusUploading,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count pending exports: %w", err)
	}
	return count > 0, nil
}

// DeleteOlderThan deletes export rows older than the given time and returns
// the S3 keys of deleted uploads so the objects can be removed too.
func (s *ExportStore) DeleteOlderThan(before time.Time) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT s3_key FROM space_exports WHERE created_at < ? AND s3_key != ''`,
		before.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("select old exports: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan s3 key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`DELETE FROM space_exports WHERE created_at < ?`, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("delete old exports: %w", err)
	}
	return keys, nil
}

func (s *ExportStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM space_exports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete export: %w", err)
	}
	return nil
}

func (s *ExportStore) DeleteBySpaceID(spaceID int64) error {
	_, err := s.db.Exec(`DELETE FROM space_exports WHERE space_id = ?`, spaceID)
	if err != nil {
		return fmt.Errorf("delete exports by space: %w", err)
	}
	return nil
}
