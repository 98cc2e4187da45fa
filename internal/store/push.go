package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
)

// PushStore persists web-push subscriptions, per-user notification
// preferences, and the dedup ledger of already-sent notifications.
type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := scanner.Scan(
		&sub.ID, &sub.UserID, &sub.SpaceID, &sub.Endpoint,
		&sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

const subscriptionCols = `id, user_id, space_id, endpoint, p256dh_key, auth_key, device_name, created_at`

// CreateSubscription registers a browser push endpoint. Endpoints are
// globally unique; re-registering one moves it to the given user and space
// and refreshes its keys, so a device that switches accounts does not leave
// a stale subscription behind.
func (s *PushStore) CreateSubscription(userID, spaceID int64, endpoint, p256dh, auth, deviceName string) (*model.PushSubscription, error) {
	result, err := s.db.Exec(
		`INSERT INTO push_subscriptions (user_id, space_id, endpoint, p256dh_key, auth_key, device_name)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET user_id = excluded.user_id, space_id = excluded.space_id,
		 p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, device_name = excluded.device_name`,
		userID, spaceID, endpoint, p256dh, auth, deviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("insert push subscription: %w", err)
	}

	// On the conflict path LastInsertId reports 0, so look the row up by
	// its endpoint instead.
	if id, _ := result.LastInsertId(); id != 0 {
		return s.GetByID(id, spaceID)
	}
	return s.getByEndpoint(endpoint)
}

func (s *PushStore) GetByID(id, spaceID int64) (*model.PushSubscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE id = ? AND space_id = ?`,
		id, spaceID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return sub, nil
}

func (s *PushStore) getByEndpoint(endpoint string) (*model.PushSubscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE endpoint = ?`,
		endpoint,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription by endpoint: %w", err)
	}
	return sub, nil
}

func (s *PushStore) ListByUser(userID, spaceID int64) ([]model.PushSubscription, error) {
	return s.listSubscriptions(
		`SELECT `+subscriptionCols+` FROM push_subscriptions
		 WHERE user_id = ? AND space_id = ? ORDER BY created_at DESC`,
		userID, spaceID,
	)
}

func (s *PushStore) ListBySpace(spaceID int64) ([]model.PushSubscription, error) {
	return s.listSubscriptions(
		`SELECT `+subscriptionCols+` FROM push_subscriptions
		 WHERE space_id = ? ORDER BY created_at DESC`,
		spaceID,
	)
}

// ListAllByUser returns a user's subscriptions across every space, for
// account-level notifications.
func (s *PushStore) ListAllByUser(userID int64) ([]model.PushSubscription, error) {
	return s.listSubscriptions(
		`SELECT `+subscriptionCols+` FROM push_subscriptions
		 WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
}

func (s *PushStore) listSubscriptions(query string, args ...any) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ListSpaceIDs returns the distinct space IDs that have at least one
// subscription, so schedulers can skip spaces with nothing to notify.
func (s *PushStore) ListSpaceIDs() ([]int64, error) {
	rows, err := s.db.Query(`SELECT DISTINCT space_id FROM push_subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("list push space ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan space id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PushStore) DeleteSubscription(id, spaceID int64) error {
	if _, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE id = ? AND space_id = ?`, id, spaceID); err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

// DeleteByEndpoint removes a subscription the push service reported as gone.
func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	if _, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint); err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}

// DeleteByUserID removes every subscription a user owns, used when the
// account is purged.
func (s *PushStore) DeleteByUserID(userID int64) error {
	if _, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete push subscriptions by user: %w", err)
	}
	return nil
}

// GetPreferences returns a user's notification preferences within a space.
// Types with no row are considered enabled.
func (s *PushStore) GetPreferences(userID, spaceID int64) ([]model.NotificationPreference, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, space_id, notification_type, enabled, created_at, updated_at
		 FROM notification_preferences WHERE user_id = ? AND space_id = ?`,
		userID, spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("get notification preferences: %w", err)
	}
	defer rows.Close()

	var prefs []model.NotificationPreference
	for rows.Next() {
		var p model.NotificationPreference
		var enabled int
		if err := rows.Scan(&p.ID, &p.UserID, &p.SpaceID, &p.NotificationType, &enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan notification preference: %w", err)
		}
		p.Enabled = enabled != 0
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// SetPreference upserts the enabled flag for one notification type.
func (s *PushStore) SetPreference(userID, spaceID int64, notifType string, enabled bool) error {
	flag := 0
	if enabled {
		flag = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO notification_preferences (user_id, space_id, notification_type, enabled)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, space_id, notification_type) DO UPDATE SET enabled = excluded.enabled, updated_at = datetime('now')`,
		userID, spaceID, notifType, flag,
	)
	if err != nil {
		return fmt.Errorf("set notification preference: %w", err)
	}
	return nil
}

// IsPreferenceEnabled reports whether the user receives the given
// notification type. Absent a stored preference the answer is yes.
func (s *PushStore) IsPreferenceEnabled(userID, spaceID int64, notifType string) (bool, error) {
	var enabled int
	err := s.db.QueryRow(
		`SELECT enabled FROM notification_preferences
		 WHERE user_id = ? AND space_id = ? AND notification_type = ?`,
		userID, spaceID, notifType,
	).Scan(&enabled)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("check notification preference: %w", err)
	}
	return enabled != 0, nil
}

// RecordSent marks a (user, type, reference) triple as delivered so the
// reminder pass never sends the same notification twice.
func (s *PushStore) RecordSent(userID int64, notifType, refID string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO notifications_sent (user_id, notification_type, reference_id)
		 VALUES (?, ?, ?)`,
		userID, notifType, refID,
	)
	if err != nil {
		return fmt.Errorf("record sent notification: %w", err)
	}
	return nil
}

// WasSent reports whether RecordSent already ran for this triple.
func (s *PushStore) WasSent(userID int64, notifType, refID string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM notifications_sent
		 WHERE user_id = ? AND notification_type = ? AND reference_id = ?`,
		userID, notifType, refID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check sent notification: %w", err)
	}
	return n > 0, nil
}

// CleanupSent trims ledger rows older than the cutoff.
func (s *PushStore) CleanupSent(before time.Time) error {
	if _, err := s.db.Exec(`DELETE FROM notifications_sent WHERE sent_at < ?`, before.UTC()); err != nil {
		return fmt.Errorf("cleanup sent notifications: %w", err)
	}
	return nil
}
