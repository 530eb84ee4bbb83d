package store

import (
	"context"
	"time"

	"github.com/matheus3301/agora/internal/thread"
)

// Conversation summarizes one direct conversation from a user's side.
type Conversation struct {
	Key                thread.Key
	CounterpartID      string
	LastMessageAt      time.Time
	LastMessagePreview string
	UnreadCount        int
}

// ListDirectConversations returns the user's direct conversations, most
// recent first. SQLite fills bare columns of a MAX() aggregate from the row
// holding the maximum, so counterpart and preview come from the last message.
func (db *DB) ListDirectConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT conversation_key,
			CASE WHEN sender_id = ?1 THEN recipient_id ELSE sender_id END AS counterpart,
			substr(content, 1, 100) AS preview,
			MAX(created_at) AS last_at,
			SUM(CASE WHEN recipient_id = ?1 AND is_read = 0 THEN 1 ELSE 0 END) AS unread
		FROM direct_messages
		WHERE sender_id = ?1 OR recipient_id = ?1
		GROUP BY conversation_key
		ORDER BY last_at DESC
		LIMIT ?2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var key string
		var ms int64
		if err := rows.Scan(&key, &c.CounterpartID, &c.LastMessagePreview, &ms, &c.UnreadCount); err != nil {
			return nil, err
		}
		c.Key = thread.Key(key)
		c.LastMessageAt = fromMillis(ms)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ListInquiries returns the inquiry threads a participant takes part in,
// either as the inquirer or as the owning company.
func (db *DB) ListInquiries(ctx context.Context, participantID string, limit int) ([]thread.Inquiry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, inquirer_id, service_id, company_id, message, created_at
		FROM inquiries
		WHERE inquirer_id = ?1 OR company_id = ?1
		ORDER BY created_at DESC
		LIMIT ?2`, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []thread.Inquiry
	for rows.Next() {
		var i thread.Inquiry
		var ms int64
		if err := rows.Scan(&i.ID, &i.InquirerID, &i.ServiceID, &i.CompanyID, &i.Body, &ms); err != nil {
			return nil, err
		}
		i.CreatedAt = fromMillis(ms)
		out = append(out, i)
	}
	return out, rows.Err()
}
