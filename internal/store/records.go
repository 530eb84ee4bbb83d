package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/agora/internal/thread"
)

// Append writes a draft in a single transaction and returns the stored
// record carrying the server-assigned id and created_at. The draft's
// ClaimedAt is ignored. created_at is read after the write lock is taken,
// so commit order and created_at order agree. Committed records are passed
// to insert hooks.
func (db *DB) Append(ctx context.Context, d thread.Draft) (thread.Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, &AppendError{Kind: d.Kind, Err: fmt.Errorf("generate id: %w", err)}
	}

	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, &AppendError{Kind: d.Kind, Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()
	createdAt, ms := db.stamp()

	var rec thread.Record
	switch d.Kind {
	case thread.KindDirect:
		m := &thread.DirectMessage{
			ID: id.String(), SenderID: d.SenderID, RecipientID: d.RecipientID,
			Subject: d.Subject, Body: d.Body, CreatedAt: createdAt,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO direct_messages (id, conversation_key, sender_id, recipient_id, subject, content, is_read, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
			m.ID, string(m.ConversationKey()), m.SenderID, m.RecipientID, m.Subject, m.Body, ms)
		rec = m
	case thread.KindInquiry:
		i := &thread.Inquiry{
			ID: id.String(), InquirerID: d.SenderID, ServiceID: d.ServiceID,
			CompanyID: d.CompanyID, Body: d.Body, CreatedAt: createdAt,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inquiries (id, inquirer_id, service_id, company_id, message, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			i.ID, i.InquirerID, i.ServiceID, i.CompanyID, i.Body, ms)
		rec = i
	case thread.KindResponse:
		r := &thread.Response{
			ID: id.String(), InquiryID: d.InquiryID, CompanyID: d.SenderID,
			Body: d.Body, CreatedAt: createdAt,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inquiry_responses (id, inquiry_id, company_id, response_message, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.InquiryID, r.CompanyID, r.Body, ms)
		rec = r
	case thread.KindFollowup:
		f := &thread.Followup{
			ID: id.String(), InquiryID: d.InquiryID, SenderID: d.SenderID,
			SenderRole: d.SenderRole, Body: d.Body, CreatedAt: createdAt,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inquiry_followups (id, inquiry_id, sender_id, sender_type, message, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			f.ID, f.InquiryID, f.SenderID, string(f.SenderRole), f.Body, ms)
		rec = f
	default:
		return nil, &AppendError{Kind: d.Kind, Err: fmt.Errorf("unknown kind %q", d.Kind)}
	}
	if err != nil {
		return nil, &AppendError{Kind: d.Kind, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &AppendError{Kind: d.Kind, Err: fmt.Errorf("commit: %w", err)}
	}

	db.emit(rec)
	return rec, nil
}

// FetchSnapshot returns every record of a conversation ordered by
// (created_at, id). Inquiry threads are read inside one transaction so the
// inquiry, responses and followups come from the same point in time. A
// missing inquiry returns ErrNotFound; a direct conversation with no
// messages returns an empty slice.
func (db *DB) FetchSnapshot(ctx context.Context, key thread.Key) ([]thread.Record, error) {
	return db.fetch(ctx, key, 0)
}

// FetchSince returns the records of a conversation created at or after
// since. The feed uses it to replay what a dropped subscription missed.
func (db *DB) FetchSince(ctx context.Context, key thread.Key, since time.Time) ([]thread.Record, error) {
	return db.fetch(ctx, key, since.UnixMilli())
}

func (db *DB) fetch(ctx context.Context, key thread.Key, sinceMs int64) ([]thread.Record, error) {
	if key.IsDirect() {
		return db.fetchDirect(ctx, key, sinceMs)
	}
	inquiryID, ok := key.InquiryID()
	if !ok {
		return nil, fmt.Errorf("fetch %q: invalid conversation key", key)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inq, err := scanInquiry(tx.QueryRowContext(ctx, `
		SELECT id, inquirer_id, service_id, company_id, message, created_at
		FROM inquiries WHERE id = ?`, inquiryID))
	if err != nil {
		return nil, fmt.Errorf("fetch inquiry %s: %w", inquiryID, err)
	}

	var recs []thread.Record
	if inq.CreatedAt.UnixMilli() >= sinceMs {
		recs = append(recs, inq)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, inquiry_id, company_id, response_message, created_at
		FROM inquiry_responses
		WHERE inquiry_id = ? AND created_at >= ?
		ORDER BY created_at, id`, inquiryID, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("fetch responses: %w", err)
	}
	for rows.Next() {
		var r thread.Response
		var ms int64
		if err := rows.Scan(&r.ID, &r.InquiryID, &r.CompanyID, &r.Body, &ms); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r.CreatedAt = fromMillis(ms)
		recs = append(recs, &r)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("fetch responses: %w", err)
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT id, inquiry_id, sender_id, sender_type, message, created_at
		FROM inquiry_followups
		WHERE inquiry_id = ? AND created_at >= ?
		ORDER BY created_at, id`, inquiryID, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("fetch followups: %w", err)
	}
	for rows.Next() {
		var f thread.Followup
		var role string
		var ms int64
		if err := rows.Scan(&f.ID, &f.InquiryID, &f.SenderID, &role, &f.Body, &ms); err != nil {
			_ = rows.Close()
			return nil, err
		}
		f.SenderRole = thread.Role(role)
		f.CreatedAt = fromMillis(ms)
		recs = append(recs, &f)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("fetch followups: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("end snapshot: %w", err)
	}
	thread.SortRecords(recs)
	return recs, nil
}

func (db *DB) fetchDirect(ctx context.Context, key thread.Key, sinceMs int64) ([]thread.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, sender_id, recipient_id, subject, content, is_read, created_at
		FROM direct_messages
		WHERE conversation_key = ? AND created_at >= ?
		ORDER BY created_at, id`, string(key), sinceMs)
	if err != nil {
		return nil, fmt.Errorf("fetch direct messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []thread.Record
	for rows.Next() {
		var m thread.DirectMessage
		var ms int64
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Subject, &m.Body, &m.IsRead, &ms); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(ms)
		recs = append(recs, &m)
	}
	return recs, rows.Err()
}

// GetInquiry returns the inquiry with the given id.
func (db *DB) GetInquiry(ctx context.Context, id string) (*thread.Inquiry, error) {
	return scanInquiry(db.QueryRowContext(ctx, `
		SELECT id, inquirer_id, service_id, company_id, message, created_at
		FROM inquiries WHERE id = ?`, id))
}

func scanInquiry(row *sql.Row) (*thread.Inquiry, error) {
	var i thread.Inquiry
	var ms int64
	err := row.Scan(&i.ID, &i.InquirerID, &i.ServiceID, &i.CompanyID, &i.Body, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	i.CreatedAt = fromMillis(ms)
	return &i, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}
