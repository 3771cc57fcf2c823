package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kalambet/missiond/internal/idgen"
)

// --- Notifications ---

const notificationColumns = `id, user_id, tier, title, body, entity_id, entity_type, data, push_sent, email_sent, read, created_at`

func scanNotification(row rowScanner) (Notification, error) {
	var n Notification
	var createdAt string
	err := row.Scan(&n.ID, &n.UserID, &n.Tier, &n.Title, &n.Body, &n.EntityID, &n.EntityType, &n.Data,
		&n.PushSent, &n.EmailSent, &n.Read, &createdAt)
	if err == sql.ErrNoRows {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, err
	}
	if n.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Notification{}, err
	}
	return n, nil
}

func (s *Store) InsertNotification(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = idgen.Must(idgen.PrefixNotification)
	}
	if n.Data == "" {
		n.Data = "{}"
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, tier, title, body, entity_id, entity_type, data, push_sent, email_sent, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Tier, n.Title, n.Body, n.EntityID, n.EntityType, n.Data,
		boolToInt(n.PushSent), boolToInt(n.EmailSent), boolToInt(n.Read), formatTime(n.CreatedAt),
	)
	if err != nil {
		return Notification{}, fmt.Errorf("inserting notification: %w", err)
	}
	return n, nil
}

// HasRecentNotification reports whether a notification about entityID was
// recorded for the user at or after since.
func (s *Store) HasRecentNotification(ctx context.Context, userID, entityID string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND entity_id = ? AND created_at >= ?`,
		userID, entityID, formatTime(since),
	).Scan(&n)
	return n > 0, err
}

// CountPushSince counts notifications that were pushed to the user at or after since.
func (s *Store) CountPushSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND push_sent = 1 AND created_at >= ?`,
		userID, formatTime(since),
	).Scan(&n)
	return n, err
}

// ListNotifications returns a user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- User settings ---

// GetUserSettings returns the stored settings for a user, or ErrNotFound.
func (s *Store) GetUserSettings(ctx context.Context, userID string) (UserSettings, error) {
	var u UserSettings
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, max_push_per_day, quiet_start, quiet_end, timezone, updated_at
		FROM user_settings WHERE user_id = ?`, userID,
	).Scan(&u.UserID, &u.MaxPushPerDay, &u.QuietStart, &u.QuietEnd, &u.Timezone, &updatedAt)
	if err == sql.ErrNoRows {
		return UserSettings{}, ErrNotFound
	}
	if err != nil {
		return UserSettings{}, err
	}
	if u.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return UserSettings{}, err
	}
	return u, nil
}

func (s *Store) SetUserSettings(ctx context.Context, u UserSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, max_push_per_day, quiet_start, quiet_end, timezone, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			max_push_per_day = excluded.max_push_per_day,
			quiet_start = excluded.quiet_start,
			quiet_end = excluded.quiet_end,
			timezone = excluded.timezone,
			updated_at = excluded.updated_at`,
		u.UserID, u.MaxPushPerDay, u.QuietStart, u.QuietEnd, u.Timezone, now(),
	)
	return err
}

// ListUserIDs returns every user that owns at least one client or has settings.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM clients
		UNION SELECT user_id FROM user_settings
		ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ConversationMomentum counts a user's conversations touched at or after
// activeSince and those idle since before idleBefore.
func (s *Store) ConversationMomentum(ctx context.Context, userID string, activeSince, idleBefore time.Time) (active, idle int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN last_message_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN last_message_at < ? THEN 1 ELSE 0 END), 0)
		FROM conversations WHERE user_id = ?`,
		formatTime(activeSince), formatTime(idleBefore), userID,
	).Scan(&active, &idle)
	return active, idle, err
}
