package store

import (
	"database/sql"
	"fmt"

	"github.com/calebmorrow/hearthside/internal/model"
)

type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func scanMessage(scanner interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	var editedAt sql.NullTime

	err := scanner.Scan(&m.ID, &m.SpaceID, &m.UserID, &m.Body, &editedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	if editedAt.Valid {
		m.EditedAt = &editedAt.Time
	}
	return &m, nil
}

const messageCols = `id, space_id, user_id, body, edited_at, created_at`

func (s *MessageStore) Create(spaceID, userID int64, body string) (*model.Message, error) {
	result, err := s.db.Exec(
		`INSERT INTO messages (space_id, user_id, body) VALUES (?, ?, ?)`,
		spaceID, userID, body,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(spaceID, id)
}

func (s *MessageStore) GetByID(spaceID, id int64) (*model.Message, error) {
	row := s.db.QueryRow(`SELECT `+messageCols+` FROM messages WHERE id = ? AND space_id = ?`, id, spaceID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// List returns up to limit messages, newest first. When beforeID > 0 only
// messages older than that id are returned, for cursor paging.
func (s *MessageStore) List(spaceID int64, beforeID int64, limit int) ([]model.MessageDetail, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT m.id, m.space_id, m.user_id, m.body, m.edited_at, m.created_at, u.name
	          FROM messages m
	          JOIN users u ON u.id = m.user_id
	          WHERE m.space_id = ?`
	args := []any{spaceID}
	if beforeID > 0 {
		query += ` AND m.id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY m.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.MessageDetail
	for rows.Next() {
		var d model.MessageDetail
		var editedAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.SpaceID, &d.UserID, &d.Body, &editedAt, &d.CreatedAt, &d.AuthorName); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if editedAt.Valid {
			d.EditedAt = &editedAt.Time
		}
		messages = append(messages, d)
	}
	return messages, rows.Err()
}

func (s *MessageStore) UpdateBody(spaceID, id int64, body string) (*model.Message, error) {
	_, err := s.db.Exec(
		`UPDATE messages SET body = ?, edited_at = datetime('now') WHERE id = ? AND space_id = ?`,
		body, id, spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return s.GetByID(spaceID, id)
}

func (s *MessageStore) Delete(spaceID, id int64) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE id = ? AND space_id = ?`, id, spaceID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}
