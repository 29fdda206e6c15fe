package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/models"
)

const inboxLimit = 50

// Inbox is a user's most recent notifications plus their unread count.
type Inbox struct {
	Notifications []models.Notification `json:"notificaciones"`
	Unread        int64                 `json:"no_leidas"`
}

// CreateNotifications inserts a batch of notifications in one transaction.
func (s *Store) CreateNotifications(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	return database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO notifications (user_id, type, title, message, link, read, created_at)
			 VALUES ($1, $2, $3, $4, $5, FALSE, NOW())`)
		if err != nil {
			return fmt.Errorf("prepare notification insert: %w", err)
		}
		defer stmt.Close()

		for _, n := range notifications {
			if _, err := stmt.ExecContext(ctx, n.UserID, n.Type, n.Title, n.Message, n.Link); err != nil {
				return fmt.Errorf("insert notification for user %d: %w", n.UserID, err)
			}
		}
		return nil
	})
}

// ListNotifications returns the inbox of userID, optionally unread only.
func (s *Store) ListNotifications(ctx context.Context, userID int64, unreadOnly bool) (*Inbox, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, title, message, link, read, created_at
		 FROM notifications
		 WHERE user_id = $1 AND (NOT $2 OR NOT read)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		userID, unreadOnly, inboxLimit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	inbox := &Inbox{Notifications: []models.Notification{}}
	for rows.Next() {
		var n models.Notification
		err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Link, &n.Read, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		inbox.Notifications = append(inbox.Notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT read`,
		userID).Scan(&inbox.Unread)
	if err != nil {
		return nil, fmt.Errorf("count unread notifications: %w", err)
	}

	return inbox, nil
}

// MarkNotificationRead marks one notification read. Notifications of other
// users are reported as not found.
func (s *Store) MarkNotificationRead(ctx context.Context, id, userID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`,
		id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrNotificationNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification of userID and
// returns how many changed.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE user_id = $1 AND NOT read`,
		userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected, nil
}
