package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
)

type MagicLinkStore struct {
	db *sql.DB
}

func NewMagicLinkStore(db *sql.DB) *MagicLinkStore {
	return &MagicLinkStore{db: db}
}

func scanMagicLink(scanner interface{ Scan(...any) error }) (*model.MagicLink, error) {
	var ml model.MagicLink
	var spaceID sql.NullInt64
	var usedAt sql.NullTime

	err := scanner.Scan(
		&ml.ID, &ml.Token, &ml.Email, &ml.Purpose, &spaceID,
		&ml.ExpiresAt, &usedAt, &ml.Attempts, &ml.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if spaceID.Valid {
		ml.SpaceID = &spaceID.Int64
	}
	if usedAt.Valid {
		ml.UsedAt = &usedAt.Time
	}
	return &ml, nil
}

const magicLinkCols = `id, token, email, purpose, space_id, expires_at, used_at, attempts, created_at`

// generateCode returns a 6-digit numeric code (100000–999999) for flows
// where the user types the token by hand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	code := n.Int64() + 100000
	return fmt.Sprintf("%06d", code), nil
}

// generateLinkToken returns a 32-byte hex token for flows where the token
// travels inside a URL.
func generateLinkToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate link token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func tokenTTL(purpose string) time.Duration {
	if purpose == model.PurposePasswordReset {
		return 30 * time.Minute
	}
	return 15 * time.Minute
}

// Create issues a fresh token for the email and purpose. Login and register
// tokens are short numeric codes; the rest are hex link tokens.
//
// The new token is inserted before older pending tokens are invalidated, so
// a crash between the two statements leaves the user with a working token
// rather than none.
func (s *MagicLinkStore) Create(email, purpose string, spaceID *int64) (*model.MagicLink, error) {
	var token string
	var err error
	switch purpose {
	case model.PurposeLogin, model.PurposeRegister:
		token, err = generateCode()
	default:
		token, err = generateLinkToken()
	}
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(tokenTTL(purpose))

	var sID sql.NullInt64
	if spaceID != nil {
		sID = sql.NullInt64{Int64: *spaceID, Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO magic_link_tokens (token, email, purpose, space_id, expires_at) VALUES (?, ?, ?, ?, ?)`,
		token, email, purpose, sID, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert magic link token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	// Invalidate older pending tokens for the same email and purpose.
	_, err = s.db.Exec(
		`UPDATE magic_link_tokens SET used_at = datetime('now')
		 WHERE email = ? AND purpose = ? AND id != ? AND used_at IS NULL AND expires_at > datetime('now')`,
		email, purpose, id,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous tokens: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+magicLinkCols+` FROM magic_link_tokens WHERE id = ?`, id)
	return scanMagicLink(row)
}

// GetByEmailAndToken returns the pending token matching the email, token
// value, and purpose, or nil if not found, expired, or already used.
func (s *MagicLinkStore) GetByEmailAndToken(email, token, purpose string) (*model.MagicLink, error) {
	row := s.db.QueryRow(
		`SELECT `+magicLinkCols+` FROM magic_link_tokens
		 WHERE email = ? AND token = ? AND purpose = ? AND expires_at > datetime('now') AND used_at IS NULL`,
		email, token, purpose,
	)
	ml, err := scanMagicLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get magic link token by email: %w", err)
	}
	return ml, nil
}

// GetByToken looks a token up by value alone, for link-style flows where
// the email is not re-entered. Only pending tokens match.
func (s *MagicLinkStore) GetByToken(token, purpose string) (*model.MagicLink, error) {
	row := s.db.QueryRow(
		`SELECT `+magicLinkCols+` FROM magic_link_tokens
		 WHERE token = ? AND purpose = ? AND expires_at > datetime('now') AND used_at IS NULL`,
		token, purpose,
	)
	ml, err := scanMagicLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get magic link token: %w", err)
	}
	return ml, nil
}

// GetLatestByEmail returns the most recent pending token for an email and
// purpose.
func (s *MagicLinkStore) GetLatestByEmail(email, purpose string) (*model.MagicLink, error) {
	row := s.db.QueryRow(
		`SELECT `+magicLinkCols+` FROM magic_link_tokens
		 WHERE email = ? AND purpose = ? AND expires_at > datetime('now') AND used_at IS NULL
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		email, purpose,
	)
	ml, err := scanMagicLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest magic link token: %w", err)
	}
	return ml, nil
}

// IncrementAttempts increments the attempt count and returns the new value.
func (s *MagicLinkStore) IncrementAttempts(id int64) (int, error) {
	_, err := s.db.Exec(
		`UPDATE magic_link_tokens SET attempts = attempts + 1 WHERE id = ?`,
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}

	var attempts int
	err = s.db.QueryRow(`SELECT attempts FROM magic_link_tokens WHERE id = ?`, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("read attempts: %w", err)
	}
	return attempts, nil
}

func (s *MagicLinkStore) MarkUsed(id int64) error {
	_, err := s.db.Exec(
		`UPDATE magic_link_tokens SET used_at = datetime('now') WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark magic link token used: %w", err)
	}
	return nil
}

func (s *MagicLinkStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM magic_link_tokens WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, fmt.Errorf("delete expired magic link tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
