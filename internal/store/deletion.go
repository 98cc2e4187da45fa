package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
)

type DeletionStore struct {
	db *sql.DB
}

func NewDeletionStore(db *sql.DB) *DeletionStore {
	return &DeletionStore{db: db}
}

func scanDeletedAccount(scanner interface{ Scan(...any) error }) (*model.DeletedAccount, error) {
	var d model.DeletedAccount
	var warningSentAt sql.NullTime

	err := scanner.Scan(&d.ID, &d.UserID, &d.Email, &d.RequestedAt, &d.PermanentDeletionAt, &warningSentAt)
	if err != nil {
		return nil, err
	}

	if warningSentAt.Valid {
		d.WarningSentAt = &warningSentAt.Time
	}
	return &d, nil
}

const deletedAccountCols = `id, user_id, email, requested_at, permanent_deletion_at, warning_sent_at`

// Create opens the grace period for a user. The email is snapshotted for
// the warning and farewell mails.
func (s *DeletionStore) Create(userID int64, email string, gracePeriod time.Duration) (*model.DeletedAccount, error) {
	deadline := time.Now().UTC().Add(gracePeriod)
	result, err := s.db.Exec(
		`INSERT INTO deleted_accounts (user_id, email, permanent_deletion_at) VALUES (?, ?, ?)`,
		userID, email, deadline,
	)
	if err != nil {
		return nil, fmt.Errorf("insert deleted account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+deletedAccountCols+` FROM deleted_accounts WHERE id = ?`, id)
	return scanDeletedAccount(row)
}

func (s *DeletionStore) GetByUserID(userID int64) (*model.DeletedAccount, error) {
	row := s.db.QueryRow(`SELECT `+deletedAccountCols+` FROM deleted_accounts WHERE user_id = ?`, userID)
	d, err := scanDeletedAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deleted account: %w", err)
	}
	return d, nil
}

// CancelByUserID closes the grace period, restoring the account.
func (s *DeletionStore) CancelByUserID(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM deleted_accounts WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("cancel deleted account: %w", err)
	}
	return nil
}

// ListDueForWarning returns rows inside the warning window that have not
// been warned yet. The sweep re-reads this set each run, so sending the
// warning and stamping warning_sent_at keeps repeats out.
func (s *DeletionStore) ListDueForWarning(warningLead time.Duration) ([]model.DeletedAccount, error) {
	cutoff := time.Now().UTC().Add(warningLead)
	rows, err := s.db.Query(
		`SELECT `+deletedAccountCols+` FROM deleted_accounts
		 WHERE warning_sent_at IS NULL AND permanent_deletion_at <= ? AND permanent_deletion_at > datetime('now')
		 ORDER BY permanent_deletion_at ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list due for warning: %w", err)
	}
	return collectDeletedAccounts(rows)
}

// ListDueForPurge returns rows past their deadline.
func (s *DeletionStore) ListDueForPurge() ([]model.DeletedAccount, error) {
	rows, err := s.db.Query(
		`SELECT ` + deletedAccountCols + ` FROM deleted_accounts
		 WHERE permanent_deletion_at <= datetime('now')
		 ORDER BY permanent_deletion_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list due for purge: %w", err)
	}
	return collectDeletedAccounts(rows)
}

func collectDeletedAccounts(rows *sql.Rows) ([]model.DeletedAccount, error) {
	defer rows.Close()
	var accounts []model.DeletedAccount
	for rows.Next() {
		d, err := scanDeletedAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deleted account: %w", err)
		}
		accounts = append(accounts, *d)
	}
	return accounts, rows.Err()
}

func (s *DeletionStore) MarkWarningSent(id int64) error {
	_, err := s.db.Exec(
		`UPDATE deleted_accounts SET warning_sent_at = datetime('now') WHERE id = ? AND warning_sent_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark warning sent: %w", err)
	}
	return nil
}

func (s *DeletionStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM deleted_accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete deleted account row: %w", err)
	}
	return nil
}
