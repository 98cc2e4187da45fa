package store

import (
	"database/sql"
	"fmt"

	"github.com/calebmorrow/hearthside/internal/model"
)

type SpaceStore struct {
	db *sql.DB
}

func NewSpaceStore(db *sql.DB) *SpaceStore {
	return &SpaceStore{db: db}
}

func scanSpace(scanner interface{ Scan(...any) error }) (*model.Space, error) {
	var sp model.Space
	err := scanner.Scan(&sp.ID, &sp.Name, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func scanSpaceMember(scanner interface{ Scan(...any) error }) (*model.SpaceMember, error) {
	var m model.SpaceMember
	err := scanner.Scan(&m.ID, &m.SpaceID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const spaceCols = `id, name, created_at, updated_at`
const spaceMemberCols = `id, space_id, user_id, role, created_at, updated_at`

func (s *SpaceStore) Create(name string) (*model.Space, error) {
	result, err := s.db.Exec(`INSERT INTO spaces (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("insert space: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *SpaceStore) GetByID(id int64) (*model.Space, error) {
	row := s.db.QueryRow(`SELECT `+spaceCols+` FROM spaces WHERE id = ?`, id)
	sp, err := scanSpace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get space: %w", err)
	}
	return sp, nil
}

func (s *SpaceStore) Update(id int64, name string) (*model.Space, error) {
	_, err := s.db.Exec(`UPDATE spaces SET name = ?, updated_at = datetime('now') WHERE id = ?`, name, id)
	if err != nil {
		return nil, fmt.Errorf("update space: %w", err)
	}
	return s.GetByID(id)
}

func (s *SpaceStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM spaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete space: %w", err)
	}
	return nil
}

func (s *SpaceStore) AddMember(spaceID, userID int64, role string) (*model.SpaceMember, error) {
	result, err := s.db.Exec(
		`INSERT INTO space_members (space_id, user_id, role) VALUES (?, ?, ?)`,
		spaceID, userID, role,
	)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+spaceMemberCols+` FROM space_members WHERE id = ?`, id)
	return scanSpaceMember(row)
}

func (s *SpaceStore) RemoveMember(spaceID, userID int64) error {
	_, err := s.db.Exec(
		`DELETE FROM space_members WHERE space_id = ? AND user_id = ?`,
		spaceID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *SpaceStore) GetMember(spaceID, userID int64) (*model.SpaceMember, error) {
	row := s.db.QueryRow(
		`SELECT `+spaceMemberCols+` FROM space_members WHERE space_id = ? AND user_id = ?`,
		spaceID, userID,
	)
	m, err := scanSpaceMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *SpaceStore) ListMembers(spaceID int64) ([]model.SpaceMemberDetail, error) {
	rows, err := s.db.Query(
		`SELECT m.id, m.space_id, m.user_id, m.role, m.created_at, m.updated_at, u.email, u.name
		 FROM space_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.space_id = ?
		 ORDER BY m.created_at ASC`,
		spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.SpaceMemberDetail
	for rows.Next() {
		var d model.SpaceMemberDetail
		if err := rows.Scan(&d.ID, &d.SpaceID, &d.UserID, &d.Role, &d.CreatedAt, &d.UpdatedAt, &d.Email, &d.Name); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, d)
	}
	return members, rows.Err()
}

func (s *SpaceStore) ListSpacesForUser(userID int64) ([]model.Space, error) {
	rows, err := s.db.Query(
		`SELECT sp.id, sp.name, sp.created_at, sp.updated_at
		 FROM spaces sp
		 JOIN space_members m ON sp.id = m.space_id
		 WHERE m.user_id = ?
		 ORDER BY sp.name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list spaces for user: %w", err)
	}
	defer rows.Close()

	var spaces []model.Space
	for rows.Next() {
		sp, err := scanSpace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		spaces = append(spaces, *sp)
	}
	return spaces, rows.Err()
}

func (s *SpaceStore) UpdateMemberRole(spaceID, userID int64, role string) (*model.SpaceMember, error) {
	_, err := s.db.Exec(
		`UPDATE space_members SET role = ?, updated_at = datetime('now') WHERE space_id = ? AND user_id = ?`,
		role, spaceID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("update member role: %w", err)
	}
	return s.GetMember(spaceID, userID)
}

// CountAdmins reports how many admins a space has. Used to refuse removing
// or demoting the last one.
func (s *SpaceStore) CountAdmins(spaceID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM space_members WHERE space_id = ? AND role = 'admin'`,
		spaceID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

// CountMembers reports the member count for plan-limit checks.
func (s *SpaceStore) CountMembers(spaceID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM space_members WHERE space_id = ?`,
		spaceID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// SeedDefaults inserts default budget categories and settings for a new
// space in a single transaction.
func (s *SpaceStore) SeedDefaults(spaceID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	categories := []struct {
		name      string
		sortOrder int
	}{
		{"Groceries", 1}, {"Utilities", 2}, {"Home", 3}, {"Transport", 4},
		{"Health", 5}, {"Fun", 6}, {"Other", 7},
	}
	for _, c := range categories {
		if _, err := tx.Exec(
			`INSERT INTO budget_categories (space_id, name, sort_order) VALUES (?, ?, ?)`,
			spaceID, c.name, c.sortOrder,
		); err != nil {
			return fmt.Errorf("seed budget category %q: %w", c.name, err)
		}
	}

	settings := []struct {
		key   string
		value string
	}{
		{"week_start", "monday"},
		{"currency", "USD"},
		{"reminder_lead_minutes", "30"},
		{"task_digest_hour", "7"},
	}
	for _, st := range settings {
		if _, err := tx.Exec(
			`INSERT INTO settings (space_id, key, value) VALUES (?, ?, ?)`,
			spaceID, st.key, st.value,
		); err != nil {
			return fmt.Errorf("seed setting %q: %w", st.key, err)
		}
	}

	return tx.Commit()
}
