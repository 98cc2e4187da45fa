package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
)

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var projectID, assignedTo sql.NullInt64
	var dueDate sql.NullTime

	err := scanner.Scan(
		&t.ID, &t.SpaceID, &projectID, &t.Title, &t.Notes, &assignedTo,
		&dueDate, &t.Priority, &t.RecurrenceRule, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if projectID.Valid {
		t.ProjectID = &projectID.Int64
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.Int64
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	return &t, nil
}

const taskCols = `id, space_id, project_id, title, notes, assigned_to, due_date, priority, recurrence_rule, created_at, updated_at`

func (s *TaskStore) Create(spaceID int64, projectID *int64, title, notes string, assignedTo *int64, dueDate *time.Time, priority, recurrenceRule string) (*model.Task, error) {
	result, err := s.db.Exec(
		`INSERT INTO tasks (space_id, project_id, title, notes, assigned_to, due_date, priority, recurrence_rule)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		spaceID, nullInt64(projectID), title, notes, nullInt64(assignedTo), nullTime(dueDate), priority, recurrenceRule,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(spaceID, id)
}

// GetByID returns the task, or nil when the id does not exist in this
// space. Rows from other spaces are invisible.
func (s *TaskStore) GetByID(spaceID, id int64) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ? AND space_id = ?`, id, spaceID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) List(spaceID int64) ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskCols+` FROM tasks WHERE space_id = ? ORDER BY due_date IS NULL, due_date ASC, title ASC`,
		spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectTasks(rows)
}

func (s *TaskStore) ListByAssignee(spaceID, userID int64) ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskCols+` FROM tasks WHERE space_id = ? AND assigned_to = ? ORDER BY due_date IS NULL, due_date ASC, title ASC`,
		spaceID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks by assignee: %w", err)
	}
	return collectTasks(rows)
}

func (s *TaskStore) ListByProject(spaceID, projectID int64) ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskCols+` FROM tasks WHERE space_id = ? AND project_id = ? ORDER BY due_date IS NULL, due_date ASC, title ASC`,
		spaceID, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks by project: %w", err)
	}
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]model.Task, error) {
	defer rows.Close()
	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *TaskStore) Update(spaceID, id int64, projectID *int64, title, notes string, assignedTo *int64, dueDate *time.Time, priority, recurrenceRule string) (*model.Task, error) {
	_, err := s.db.Exec(
		`UPDATE tasks SET project_id = ?, title = ?, notes = ?, assigned_to = ?, due_date = ?, priority = ?, recurrence_rule = ?, updated_at = datetime('now')
		 WHERE id = ? AND space_id = ?`,
		nullInt64(projectID), title, notes, nullInt64(assignedTo), nullTime(dueDate), priority, recurrenceRule, id, spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return s.GetByID(spaceID, id)
}

func (s *TaskStore) Delete(spaceID, id int64) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ? AND space_id = ?`, id, spaceID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// --- Completion methods ---

func scanTaskCompletion(scanner interface{ Scan(...any) error }) (*model.TaskCompletion, error) {
	var c model.TaskCompletion
	var completedBy sql.NullInt64

	err := scanner.Scan(&c.ID, &c.TaskID, &completedBy, &c.CompletedAt)
	if err != nil {
		return nil, err
	}

	if completedBy.Valid {
		c.CompletedBy = &completedBy.Int64
	}
	return &c, nil
}

const taskCompletionCols = `id, task_id, completed_by, completed_at`

func (s *TaskStore) CreateCompletion(taskID int64, completedBy *int64) (*model.TaskCompletion, error) {
	result, err := s.db.Exec(
		`INSERT INTO task_completions (task_id, completed_by) VALUES (?, ?)`,
		taskID, nullInt64(completedBy),
	)
	if err != nil {
		return nil, fmt.Errorf("insert completion: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+taskCompletionCols+` FROM task_completions WHERE id = ?`, id)
	return scanTaskCompletion(row)
}

func (s *TaskStore) DeleteCompletion(id int64) error {
	_, err := s.db.Exec(`DELETE FROM task_completions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete completion: %w", err)
	}
	return nil
}

func (s *TaskStore) LastCompletionForTask(taskID int64) (*model.TaskCompletion, error) {
	row := s.db.QueryRow(
		`SELECT `+taskCompletionCols+` FROM task_completions WHERE task_id = ? ORDER BY completed_at DESC, id DESC LIMIT 1`,
		taskID,
	)
	c, err := scanTaskCompletion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last completion: %w", err)
	}
	return c, nil
}

func (s *TaskStore) ListCompletionsByTask(taskID int64) ([]model.TaskCompletion, error) {
	rows, err := s.db.Query(
		`SELECT `+taskCompletionCols+` FROM task_completions WHERE task_id = ? ORDER BY completed_at DESC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	var completions []model.TaskCompletion
	for rows.Next() {
		c, err := scanTaskCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		completions = append(completions, *c)
	}
	return completions, rows.Err()
}

func (s *TaskStore) ListCompletionsByDateRange(spaceID int64, start, end time.Time) ([]model.TaskCompletion, error) {
	rows, err := s.db.Query(
		`SELECT c.id, c.task_id, c.completed_by, c.completed_at
		 FROM task_completions c
		 JOIN tasks t ON t.id = c.task_id
		 WHERE t.space_id = ? AND c.completed_at >= ? AND c.completed_at < ?
		 ORDER BY c.completed_at DESC`,
		spaceID, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list completions by range: %w", err)
	}
	defer rows.Close()

	var completions []model.TaskCompletion
	for rows.Next() {
		c, err := scanTaskCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		completions = append(completions, *c)
	}
	return completions, rows.Err()
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}
