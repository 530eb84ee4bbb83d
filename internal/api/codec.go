package api

import (
	"time"

	"github.com/matheus3301/agora/internal/status"
	"github.com/matheus3301/agora/internal/store"
	"github.com/matheus3301/agora/internal/thread"
	"google.golang.org/protobuf/types/known/structpb"
)

// Field names shared by server and client. Timestamps travel as Unix
// milliseconds.
const (
	FieldID          = "id"
	FieldKey         = "key"
	FieldKind        = "kind"
	FieldAuthorID    = "author_id"
	FieldAuthorRole  = "author_role"
	FieldSenderID    = "sender_id"
	FieldSenderRole  = "sender_role"
	FieldRecipientID = "recipient_id"
	FieldSubject     = "subject"
	FieldBody        = "body"
	FieldInquiryID   = "inquiry_id"
	FieldServiceID   = "service_id"
	FieldCompanyID   = "company_id"
	FieldInquirerID  = "inquirer_id"
	FieldClaimedAt   = "claimed_at_ms"
	FieldCreatedAt   = "created_at_ms"
	FieldRead        = "read"
	FieldViewerID    = "viewer_id"
	FieldUserID      = "user_id"
	FieldLimit       = "limit"
	FieldEntries     = "entries"
	FieldMarked      = "marked"
	FieldPhase       = "phase"
	FieldEntry       = "entry"
	FieldTitle       = "title"
	FieldUnread      = "unread"
	FieldCounterpart = "counterpart_id"
	FieldPreview     = "preview"
	FieldLastAt      = "last_message_at_ms"
	FieldState       = "state"

	FieldConversations = "conversations"
	FieldInquiries     = "inquiries"
	FieldNotifications = "notifications"
)

// Watch phases: entries present when the stream opened, then live ones.
// Status frames carry the subscription state instead of an entry.
const (
	PhaseSnapshot = "snapshot"
	PhaseLive     = "live"
	PhaseStatus   = "status"
)

// WatchFrame is one message of a Watch stream.
type WatchFrame struct {
	Phase string
	Entry thread.Entry
	State status.State
}

func EncodeFrame(f WatchFrame) *structpb.Struct {
	fields := map[string]*structpb.Value{FieldPhase: structpb.NewStringValue(f.Phase)}
	if f.Phase == PhaseStatus {
		fields[FieldState] = structpb.NewStringValue(string(f.State))
	} else {
		fields[FieldEntry] = structpb.NewStructValue(EncodeEntry(f.Entry))
	}
	return &structpb.Struct{Fields: fields}
}

func DecodeFrame(s *structpb.Struct) WatchFrame {
	f := WatchFrame{Phase: str(s, FieldPhase)}
	if f.Phase == PhaseStatus {
		f.State = status.State(str(s, FieldState))
		return f
	}
	f.Entry = DecodeEntry(s.GetFields()[FieldEntry].GetStructValue())
	return f
}

func str(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func num(s *structpb.Struct, name string) int64 {
	return int64(s.GetFields()[name].GetNumberValue())
}

func millis(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewNumberValue(0)
	}
	return structpb.NewNumberValue(float64(t.UnixMilli()))
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func list(items []*structpb.Struct) *structpb.Value {
	vals := make([]*structpb.Value, len(items))
	for i, it := range items {
		vals[i] = structpb.NewStructValue(it)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func structs(s *structpb.Struct, name string) []*structpb.Struct {
	var out []*structpb.Struct
	for _, v := range s.GetFields()[name].GetListValue().GetValues() {
		if st := v.GetStructValue(); st != nil {
			out = append(out, st)
		}
	}
	return out
}

// EncodeDraft renders a send request.
func EncodeDraft(d thread.Draft) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldKind:        structpb.NewStringValue(string(d.Kind)),
		FieldSenderID:    structpb.NewStringValue(d.SenderID),
		FieldSenderRole:  structpb.NewStringValue(string(d.SenderRole)),
		FieldRecipientID: structpb.NewStringValue(d.RecipientID),
		FieldSubject:     structpb.NewStringValue(d.Subject),
		FieldBody:        structpb.NewStringValue(d.Body),
		FieldInquiryID:   structpb.NewStringValue(d.InquiryID),
		FieldServiceID:   structpb.NewStringValue(d.ServiceID),
		FieldCompanyID:   structpb.NewStringValue(d.CompanyID),
		FieldClaimedAt:   millis(d.ClaimedAt),
	}}
}

// DecodeDraft reads a send request.
func DecodeDraft(s *structpb.Struct) thread.Draft {
	return thread.Draft{
		Kind:        thread.Kind(str(s, FieldKind)),
		SenderID:    str(s, FieldSenderID),
		SenderRole:  thread.Role(str(s, FieldSenderRole)),
		RecipientID: str(s, FieldRecipientID),
		Subject:     str(s, FieldSubject),
		Body:        str(s, FieldBody),
		InquiryID:   str(s, FieldInquiryID),
		ServiceID:   str(s, FieldServiceID),
		CompanyID:   str(s, FieldCompanyID),
		ClaimedAt:   fromMillis(num(s, FieldClaimedAt)),
	}
}

func EncodeEntry(e thread.Entry) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldID:          structpb.NewStringValue(e.ID),
		FieldKey:         structpb.NewStringValue(string(e.Key)),
		FieldKind:        structpb.NewStringValue(string(e.Kind)),
		FieldAuthorID:    structpb.NewStringValue(e.AuthorID),
		FieldAuthorRole:  structpb.NewStringValue(string(e.AuthorRole)),
		FieldRecipientID: structpb.NewStringValue(e.RecipientID),
		FieldSubject:     structpb.NewStringValue(e.Subject),
		FieldBody:        structpb.NewStringValue(e.Body),
		FieldCreatedAt:   millis(e.CreatedAt),
		FieldRead:        structpb.NewBoolValue(e.Read),
	}}
}

func DecodeEntry(s *structpb.Struct) thread.Entry {
	return thread.Entry{
		ID:          str(s, FieldID),
		Key:         thread.Key(str(s, FieldKey)),
		Kind:        thread.Kind(str(s, FieldKind)),
		AuthorID:    str(s, FieldAuthorID),
		AuthorRole:  thread.Role(str(s, FieldAuthorRole)),
		RecipientID: str(s, FieldRecipientID),
		Subject:     str(s, FieldSubject),
		Body:        str(s, FieldBody),
		CreatedAt:   fromMillis(num(s, FieldCreatedAt)),
		Read:        s.GetFields()[FieldRead].GetBoolValue(),
	}
}

func EncodeEntries(entries []thread.Entry) *structpb.Struct {
	items := make([]*structpb.Struct, len(entries))
	for i, e := range entries {
		items[i] = EncodeEntry(e)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{FieldEntries: list(items)}}
}

func DecodeEntries(s *structpb.Struct) []thread.Entry {
	items := structs(s, FieldEntries)
	out := make([]thread.Entry, len(items))
	for i, it := range items {
		out[i] = DecodeEntry(it)
	}
	return out
}

// Inbox is the ListConversations result.
type Inbox struct {
	Conversations []store.Conversation
	Inquiries     []thread.Inquiry
	Unread        int64 // unread direct messages across all conversations
}

func EncodeInbox(in Inbox) *structpb.Struct {
	convs := make([]*structpb.Struct, len(in.Conversations))
	for i, c := range in.Conversations {
		convs[i] = &structpb.Struct{Fields: map[string]*structpb.Value{
			FieldKey:         structpb.NewStringValue(string(c.Key)),
			FieldCounterpart: structpb.NewStringValue(c.CounterpartID),
			FieldPreview:     structpb.NewStringValue(c.LastMessagePreview),
			FieldLastAt:      millis(c.LastMessageAt),
			FieldUnread:      structpb.NewNumberValue(float64(c.UnreadCount)),
		}}
	}
	inqs := make([]*structpb.Struct, len(in.Inquiries))
	for i, q := range in.Inquiries {
		inqs[i] = &structpb.Struct{Fields: map[string]*structpb.Value{
			FieldID:         structpb.NewStringValue(q.ID),
			FieldInquirerID: structpb.NewStringValue(q.InquirerID),
			FieldServiceID:  structpb.NewStringValue(q.ServiceID),
			FieldCompanyID:  structpb.NewStringValue(q.CompanyID),
			FieldBody:       structpb.NewStringValue(q.Body),
			FieldCreatedAt:  millis(q.CreatedAt),
		}}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldConversations: list(convs),
		FieldInquiries:     list(inqs),
		FieldUnread:        structpb.NewNumberValue(float64(in.Unread)),
	}}
}

func DecodeInbox(s *structpb.Struct) Inbox {
	in := Inbox{Unread: int64(num(s, FieldUnread))}
	for _, c := range structs(s, FieldConversations) {
		in.Conversations = append(in.Conversations, store.Conversation{
			Key:                thread.Key(str(c, FieldKey)),
			CounterpartID:      str(c, FieldCounterpart),
			LastMessagePreview: str(c, FieldPreview),
			LastMessageAt:      fromMillis(num(c, FieldLastAt)),
			UnreadCount:        int(num(c, FieldUnread)),
		})
	}
	for _, q := range structs(s, FieldInquiries) {
		in.Inquiries = append(in.Inquiries, thread.Inquiry{
			ID:         str(q, FieldID),
			InquirerID: str(q, FieldInquirerID),
			ServiceID:  str(q, FieldServiceID),
			CompanyID:  str(q, FieldCompanyID),
			Body:       str(q, FieldBody),
			CreatedAt:  fromMillis(num(q, FieldCreatedAt)),
		})
	}
	return in
}

func EncodeNotifications(ns []thread.Notification) *structpb.Struct {
	items := make([]*structpb.Struct, len(ns))
	for i, n := range ns {
		items[i] = EncodeNotification(n)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{FieldNotifications: list(items)}}
}

func DecodeNotifications(s *structpb.Struct) []thread.Notification {
	var out []thread.Notification
	for _, n := range structs(s, FieldNotifications) {
		out = append(out, DecodeNotification(n))
	}
	return out
}

func EncodeNotification(n thread.Notification) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldID:        structpb.NewStringValue(n.ID),
		FieldUserID:    structpb.NewStringValue(n.RecipientID),
		FieldKind:      structpb.NewStringValue(n.Kind),
		FieldTitle:     structpb.NewStringValue(n.Title),
		FieldBody:      structpb.NewStringValue(n.Body),
		FieldKey:       structpb.NewStringValue(string(n.RelatedKey)),
		FieldCreatedAt: millis(n.CreatedAt),
	}}
}

func DecodeNotification(n *structpb.Struct) thread.Notification {
	return thread.Notification{
		ID:          str(n, FieldID),
		RecipientID: str(n, FieldUserID),
		Kind:        str(n, FieldKind),
		Title:       str(n, FieldTitle),
		Body:        str(n, FieldBody),
		RelatedKey:  thread.Key(str(n, FieldKey)),
		CreatedAt:   fromMillis(num(n, FieldCreatedAt)),
	}
}

// Request builds a request struct from string fields plus an optional limit.
func Request(fields map[string]string, limit int) *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(fields)+1)}
	for k, v := range fields {
		s.Fields[k] = structpb.NewStringValue(v)
	}
	if limit > 0 {
		s.Fields[FieldLimit] = structpb.NewNumberValue(float64(limit))
	}
	return s
}
