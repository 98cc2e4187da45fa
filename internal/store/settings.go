package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(spaceID int64, key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE space_id = ? AND key = ?`, spaceID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("setting %q not found", key)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

// GetOrDefault returns the stored value, or fallback when the key is unset.
func (s *SettingsStore) GetOrDefault(spaceID int64, key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE space_id = ? AND key = ?`, spaceID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) GetInt(spaceID int64, key string, fallback int) (int, error) {
	raw, err := s.GetOrDefault(spaceID, key, strconv.Itoa(fallback))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}

func (s *SettingsStore) GetAll(spaceID int64) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings WHERE space_id = ? ORDER BY key`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("get all settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

func (s *SettingsStore) Set(spaceID int64, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (space_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(space_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		spaceID, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func (s *SettingsStore) Delete(spaceID int64, key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE space_id = ? AND key = ?`, spaceID, key)
	if err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}
