package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
)

type GoalStore struct {
	db *sql.DB
}

func NewGoalStore(db *sql.DB) *GoalStore {
	return &GoalStore{db: db}
}

func scanGoal(scanner interface{ Scan(...any) error }) (*model.Goal, error) {
	var g model.Goal
	var targetDate sql.NullTime

	err := scanner.Scan(
		&g.ID, &g.SpaceID, &g.Title, &g.Description, &g.Status,
		&targetDate, &g.Progress, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if targetDate.Valid {
		g.TargetDate = &targetDate.Time
	}
	return &g, nil
}

const goalCols = `id, space_id, title, description, status, target_date, progress, created_at, updated_at`

func (s *GoalStore) Create(spaceID int64, title, description string, targetDate *time.Time) (*model.Goal, error) {
	result, err := s.db.Exec(
		`INSERT INTO goals (space_id, title, description, target_date) VALUES (?, ?, ?, ?)`,
		spaceID, title, description, nullTime(targetDate),
	)
	if err != nil {
		return nil, fmt.Errorf("insert goal: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(spaceID, id)
}

func (s *GoalStore) GetByID(spaceID, id int64) (*model.Goal, error) {
	row := s.db.QueryRow(`SELECT `+goalCols+` FROM goals WHERE id = ? AND space_id = ?`, id, spaceID)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get goal: %w", err)
	}
	return g, nil
}

func (s *GoalStore) List(spaceID int64) ([]model.Goal, error) {
	rows, err := s.db.Query(
		`SELECT `+goalCols+` FROM goals WHERE space_id = ? ORDER BY status ASC, target_date IS NULL, target_date ASC, title ASC`,
		spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var goals []model.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, *g)
	}
	return goals, rows.Err()
}

func (s *GoalStore) Update(spaceID, id int64, title, description, status string, targetDate *time.Time, progress int) (*model.Goal, error) {
	_, err := s.db.Exec(
		`UPDATE goals SET title = ?, description = ?, status = ?, target_date = ?, progress = ?, updated_at = datetime('now')
		 WHERE id = ? AND space_id = ?`,
		title, description, status, nullTime(targetDate), progress, id, spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("update goal: %w", err)
	}
	return s.GetByID(spaceID, id)
}

// UpdateProgress adjusts progress alone and completes the goal when it
// reaches 100. Other statuses are left untouched.
func (s *GoalStore) UpdateProgress(spaceID, id int64, progress int) (*model.Goal, error) {
	if progress > 100 {
		progress = 100
	}
	_, err := s.db.Exec(
		`UPDATE goals SET progress = ?,
		        status = CASE WHEN ? >= 100 AND status = 'active' THEN 'completed' ELSE status END,
		        updated_at = datetime('now')
		 WHERE id = ? AND space_id = ?`,
		progress, progress, id, spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("update goal progress: %w", err)
	}
	return s.GetByID(spaceID, id)
}

func (s *GoalStore) Delete(spaceID, id int64) error {
	_, err := s.db.Exec(`DELETE FROM goals WHERE id = ? AND space_id = ?`, id, spaceID)
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	return nil
}
