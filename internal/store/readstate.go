package store

import (
	"context"
	"fmt"
	"strings"
)

// MarkRead flips is_read on the given direct messages addressed to viewerID.
// Only rows still unread are touched, so repeated or concurrent calls with
// overlapping ids never double-count and never reverse a receipt. It
// returns the number of rows that transitioned.
func (db *DB) MarkRead(ctx context.Context, viewerID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	_, ms := db.stamp()

	args := make([]any, 0, len(ids)+2)
	args = append(args, ms, viewerID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	res, err := db.ExecContext(ctx, `
		UPDATE direct_messages SET is_read = 1, read_at = ?
		WHERE recipient_id = ? AND is_read = 0 AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

// UnreadCount returns how many direct messages addressed to userID are unread.
func (db *DB) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM direct_messages WHERE recipient_id = ? AND is_read = 0`, userID).Scan(&n)
	return n, err
}
