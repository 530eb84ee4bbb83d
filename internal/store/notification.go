package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/agora/internal/thread"
)

// CreateNotification stores a notification, assigning id and created_at.
func (db *DB) CreateNotification(ctx context.Context, n thread.Notification) (thread.Notification, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return thread.Notification{}, fmt.Errorf("generate id: %w", err)
	}
	createdAt, ms := db.stamp()
	n.ID = id.String()
	n.CreatedAt = createdAt

	_, err = db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, content, related_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, n.Kind, n.Title, n.Body, string(n.RelatedKey), ms)
	if err != nil {
		return thread.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns the newest notifications for a recipient.
func (db *DB) ListNotifications(ctx context.Context, recipientID string, limit int) ([]thread.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, type, title, content, related_type, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []thread.Notification
	for rows.Next() {
		var n thread.Notification
		var related string
		var ms int64
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Kind, &n.Title, &n.Body, &related, &ms); err != nil {
			return nil, err
		}
		n.RelatedKey = thread.Key(related)
		n.CreatedAt = fromMillis(ms)
		out = append(out, n)
	}
	return out, rows.Err()
}
