package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
)

type UsageStore struct {
	db *sql.DB
}

func NewUsageStore(db *sql.DB) *UsageStore {
	return &UsageStore{db: db}
}

// CurrentPeriod formats a time as the YYYY-MM usage period key.
func CurrentPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Increment bumps the metric's counter for the current period and returns
// the new count.
func (s *UsageStore) Increment(spaceID int64, metric string, now time.Time) (int64, error) {
	period := CurrentPeriod(now)
	_, err := s.db.Exec(
		`INSERT INTO usage_counters (space_id, metric, period, count) VALUES (?, ?, ?, 1)
		 ON CONFLICT(space_id, metric, period) DO UPDATE SET count = count + 1, updated_at = datetime('now')`,
		spaceID, metric, period,
	)
	if err != nil {
		return 0, fmt.Errorf("increment usage counter: %w", err)
	}
	return s.Get(spaceID, metric, period)
}

// Get returns the count for a metric and period, zero when absent.
func (s *UsageStore) Get(spaceID int64, metric, period string) (int64, error) {
	var count int64
	err := s.db.QueryRow(
		`SELECT count FROM usage_counters WHERE space_id = ? AND metric = ? AND period = ?`,
		spaceID, metric, period,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get usage counter: %w", err)
	}
	return count, nil
}

// ListByPeriod returns every counter the space accrued in a period.
func (s *UsageStore) ListByPeriod(spaceID int64, period string) ([]model.UsageCounter, error) {
	rows, err := s.db.Query(
		`SELECT id, space_id, metric, period, count, updated_at
		 FROM usage_counters WHERE space_id = ? AND period = ?
		 ORDER BY metric ASC`,
		spaceID, period,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage counters: %w", err)
	}
	defer rows.Close()

	var counters []model.UsageCounter
	for rows.Next() {
		var c model.UsageCounter
		if err := rows.Scan(&c.ID, &c.SpaceID, &c.Metric, &c.Period, &c.Count, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan usage counter: %w", err)
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}

// DeleteOlderThan prunes counters from periods before the cutoff period
// key (YYYY-MM, lexically comparable).
func (s *UsageStore) DeleteOlderThan(period string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM usage_counters WHERE period < ?`, period)
	if err != nil {
		return 0, fmt.Errorf("delete old usage counters: %w", err)
	}
	return result.RowsAffected()
}
