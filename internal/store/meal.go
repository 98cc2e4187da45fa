package store

import (
	"database/sql"
	"fmt"

	"github.com/calebmorrow/hearthside/internal/model"
)

type MealStore struct {
	db *sql.DB
}

func NewMealStore(db *sql.DB) *MealStore {
	return &MealStore{db: db}
}

func scanMealEntry(scanner interface{ Scan(...any) error }) (*model.MealEntry, error) {
	var m model.MealEntry
	var assignedTo sql.NullInt64

	err := scanner.Scan(
		&m.ID, &m.SpaceID, &m.PlanDate, &m.Slot, &m.Title, &m.Notes,
		&assignedTo, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if assignedTo.Valid {
		m.AssignedTo = &assignedTo.Int64
	}
	return &m, nil
}

const mealEntryCols = `id, space_id, plan_date, slot, title, notes, assigned_to, created_at, updated_at`

func (s *MealStore) Create(spaceID int64, planDate, slot, title, notes string, assignedTo *int64) (*model.MealEntry, error) {
	result, err := s.db.Exec(
		`INSERT INTO meal_entries (space_id, plan_date, slot, title, notes, assigned_to) VALUES (?, ?, ?, ?, ?, ?)`,
		spaceID, planDate, slot, title, notes, nullInt64(assignedTo),
	)
	if err != nil {
		return nil, fmt.Errorf("insert meal entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(spaceID, id)
}

func (s *MealStore) GetByID(spaceID, id int64) (*model.MealEntry, error) {
	row := s.db.QueryRow(`SELECT `+mealEntryCols+` FROM meal_entries WHERE id = ? AND space_id = ?`, id, spaceID)
	m, err := scanMealEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meal entry: %w", err)
	}
	return m, nil
}

// ListByDateRange returns entries with plan_date inside [start, end],
// dates formatted YYYY-MM-DD.
func (s *MealStore) ListByDateRange(spaceID int64, start, end string) ([]model.MealEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+mealEntryCols+` FROM meal_entries
		 WHERE space_id = ? AND plan_date >= ? AND plan_date <= ?
		 ORDER BY plan_date ASC,
		          CASE slot WHEN 'breakfast' THEN 0 WHEN 'lunch' THEN 1 WHEN 'dinner' THEN 2 ELSE 3 END`,
		spaceID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("list meal entries: %w", err)
	}
	defer rows.Close()

	var entries []model.MealEntry
	for rows.Next() {
		m, err := scanMealEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meal entry: %w", err)
		}
		entries = append(entries, *m)
	}
	return entries, rows.Err()
}

func (s *MealStore) Update(spaceID, id int64, planDate, slot, title, notes string, assignedTo *int64) (*model.MealEntry, error) {
	_, err := s.db.Exec(
		`UPDATE meal_entries SET plan_date = ?, slot = ?, title = ?, notes = ?, assigned_to = ?, updated_at = datetime('now')
		 WHERE id = ? AND space_id = ?`,
		planDate, slot, title, notes, nullInt64(assignedTo), id, spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("update meal entry: %w", err)
	}
	return s.GetByID(spaceID, id)
}

func (s *MealStore) Delete(spaceID, id int64) error {
	_, err := s.db.Exec(`DELETE FROM meal_entries WHERE id = ? AND space_id = ?`, id, spaceID)
	if err != nil {
		return fmt.Errorf("delete meal entry: %w", err)
	}
	return nil
}
