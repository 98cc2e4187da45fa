package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
)

type ProjectStore struct {
	db *sql.DB
}

func NewProjectStore(db *sql.DB) *ProjectStore {
	return &ProjectStore{db: db}
}

func scanProject(scanner interface{ Scan(...any) error }) (*model.Project, error) {
	var p model.Project
	var dueDate sql.NullTime

	err := scanner.Scan(
		&p.ID, &p.SpaceID, &p.Title, &p.Description, &p.Status,
		&dueDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if dueDate.Valid {
		p.DueDate = &dueDate.Time
	}
	return &p, nil
}

const projectCols = `id, space_id, title, description, status, due_date, created_at, updated_at`

func (s *ProjectStore) Create(spaceID int64, title, description, status string, dueDate *time.Time) (*model.Project, error) {
	result, err := s.db.Exec(
		`INSERT INTO projects (space_id, title, description, status, due_date) VALUES (?, ?, ?, ?, ?)`,
		spaceID, title, description, status, nullTime(dueDate),
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(spaceID, id)
}

func (s *ProjectStore) GetByID(spaceID, id int64) (*model.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectCols+` FROM projects WHERE id = ? AND space_id = ?`, id, spaceID)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// List returns the space's projects with task counts.
func (s *ProjectStore) List(spaceID int64) ([]model.ProjectSummary, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.space_id, p.title, p.description, p.status, p.due_date, p.created_at, p.updated_at,
		        COUNT(t.id),
		        COUNT(CASE WHEN EXISTS (SELECT 1 FROM task_completions c WHERE c.task_id = t.id) THEN 1 END)
		 FROM projects p
		 LEFT JOIN tasks t ON t.project_id = p.id
		 WHERE p.space_id = ?
		 GROUP BY p.id
		 ORDER BY p.created_at DESC`,
		spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []model.ProjectSummary
	for rows.Next() {
		var ps model.ProjectSummary
		var dueDate sql.NullTime
		if err := rows.Scan(
			&ps.ID, &ps.SpaceID, &ps.Title, &ps.Description, &ps.Status,
			&dueDate, &ps.CreatedAt, &ps.UpdatedAt, &ps.TaskCount, &ps.DoneCount,
		); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if dueDate.Valid {
			ps.DueDate = &dueDate.Time
		}
		projects = append(projects, ps)
	}
	return projects, rows.Err()
}

func (s *ProjectStore) Update(spaceID, id int64, title, description, status string, dueDate *time.Time) (*model.Project, error) {
	_, err := s.db.Exec(
		`UPDATE projects SET title = ?, description = ?, status = ?, due_date = ?, updated_at = datetime('now')
		 WHERE id = ? AND space_id = ?`,
		title, description, status, nullTime(dueDate), id, spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return s.GetByID(spaceID, id)
}

func (s *ProjectStore) Delete(spaceID, id int64) error {
	_, err := s.db.Exec(`DELETE FROM projects WHERE id = ? AND space_id = ?`, id, spaceID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}
