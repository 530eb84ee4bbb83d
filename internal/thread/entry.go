package thread

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrMalformed is returned by Normalize for records that cannot be mapped
// onto an Entry.
var ErrMalformed = errors.New("malformed record")

// Entry is the normalized, kind-tagged form of any record after merging.
type Entry struct {
	ID          string
	Key         Key
	Kind        Kind
	AuthorID    string
	AuthorRole  Role
	RecipientID string // addressed viewer, direct entries only
	Subject     string
	Body        string
	CreatedAt   time.Time
	Read        bool
}

// Less orders entries by (CreatedAt, ID).
func (e Entry) Less(o Entry) bool {
	if !e.CreatedAt.Equal(o.CreatedAt) {
		return e.CreatedAt.Before(o.CreatedAt)
	}
	return e.ID < o.ID
}

// Normalize maps a raw record onto an Entry. It is the only place that
// branches on the concrete record type.
func Normalize(r Record) (Entry, error) {
	if r == nil {
		return Entry{}, fmt.Errorf("%w: nil record", ErrMalformed)
	}
	var e Entry
	switch rec := r.(type) {
	case *DirectMessage:
		if rec == nil || rec.SenderID == "" || rec.RecipientID == "" {
			return Entry{}, fmt.Errorf("%w: direct message without participants", ErrMalformed)
		}
		e = Entry{
			ID: rec.ID, Kind: KindDirect,
			AuthorID: rec.SenderID, AuthorRole: RoleUser, RecipientID: rec.RecipientID,
			Subject: rec.Subject, Body: rec.Body, CreatedAt: rec.CreatedAt, Read: rec.IsRead,
		}
	case *Inquiry:
		if rec == nil || rec.InquirerID == "" {
			return Entry{}, fmt.Errorf("%w: inquiry without inquirer", ErrMalformed)
		}
		e = Entry{
			ID: rec.ID, Kind: KindInquiry,
			AuthorID: rec.InquirerID, AuthorRole: RoleUser,
			Body: rec.Body, CreatedAt: rec.CreatedAt,
		}
	case *Response:
		if rec == nil || rec.InquiryID == "" {
			return Entry{}, fmt.Errorf("%w: response without inquiry", ErrMalformed)
		}
		e = Entry{
			ID: rec.ID, Kind: KindResponse,
			AuthorID: rec.CompanyID, AuthorRole: RoleCompany,
			Body: rec.Body, CreatedAt: rec.CreatedAt,
		}
	case *Followup:
		if rec == nil || rec.InquiryID == "" {
			return Entry{}, fmt.Errorf("%w: followup without inquiry", ErrMalformed)
		}
		if !rec.SenderRole.Valid() {
			return Entry{}, fmt.Errorf("%w: followup %s has sender role %q", ErrMalformed, rec.ID, rec.SenderRole)
		}
		e = Entry{
			ID: rec.ID, Kind: KindFollowup,
			AuthorID: rec.SenderID, AuthorRole: rec.SenderRole,
			Body: rec.Body, CreatedAt: rec.CreatedAt,
		}
	default:
		return Entry{}, fmt.Errorf("%w: unknown record type %T", ErrMalformed, r)
	}
	if e.ID == "" {
		return Entry{}, fmt.Errorf("%w: %s record without id", ErrMalformed, e.Kind)
	}
	if e.CreatedAt.IsZero() {
		return Entry{}, fmt.Errorf("%w: %s %s without created_at", ErrMalformed, e.Kind, e.ID)
	}
	e.Key = r.ConversationKey()
	return e, nil
}

// SortRecords orders raw records by (created_at, id) in place.
func SortRecords(recs []Record) {
	slices.SortStableFunc(recs, func(a, b Record) int {
		if c := a.recordTime().Compare(b.recordTime()); c != 0 {
			return c
		}
		return strings.Compare(a.RecordID(), b.RecordID())
	})
}
