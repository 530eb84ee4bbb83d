package thread

import "time"

// Kind tags every message-like record and every normalized entry.
type Kind string

const (
	KindDirect   Kind = "direct"
	KindInquiry  Kind = "inquiry"
	KindResponse Kind = "response"
	KindFollowup Kind = "followup"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindDirect, KindInquiry, KindResponse, KindFollowup:
		return true
	}
	return false
}

// Role identifies which side of a conversation authored an entry.
type Role string

const (
	RoleUser    Role = "user"
	RoleCompany Role = "company"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleCompany
}

// Record is a raw row from one of the two message schemas. The set of
// implementations is closed: DirectMessage, Inquiry, Response, Followup.
type Record interface {
	RecordKind() Kind
	RecordID() string
	ConversationKey() Key
	recordTime() time.Time
}

// DirectMessage is a user-to-user message row.
type DirectMessage struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Subject     string    `json:"subject,omitempty"`
	Body        string    `json:"content"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Inquiry opens a service-inquiry thread. It is always the earliest entry.
type Inquiry struct {
	ID         string    `json:"id"`
	InquirerID string    `json:"inquirer_id"`
	ServiceID  string    `json:"service_id,omitempty"`
	CompanyID  string    `json:"company_id"`
	Body       string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// Response is a structured company answer to an inquiry.
type Response struct {
	ID        string    `json:"id"`
	InquiryID string    `json:"inquiry_id"`
	CompanyID string    `json:"company_id"`
	Body      string    `json:"response_message"`
	CreatedAt time.Time `json:"created_at"`
}

// Followup is a free-form message on an inquiry thread from either side.
type Followup struct {
	ID         string    `json:"id"`
	InquiryID  string    `json:"inquiry_id"`
	SenderID   string    `json:"sender_id"`
	SenderRole Role      `json:"sender_type"`
	Body       string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m *DirectMessage) RecordKind() Kind      { return KindDirect }
func (m *DirectMessage) RecordID() string      { return m.ID }
func (m *DirectMessage) ConversationKey() Key  { return DirectKey(m.SenderID, m.RecipientID) }
func (m *DirectMessage) recordTime() time.Time { return m.CreatedAt }

func (i *Inquiry) RecordKind() Kind      { return KindInquiry }
func (i *Inquiry) RecordID() string      { return i.ID }
func (i *Inquiry) ConversationKey() Key  { return InquiryKey(i.ID) }
func (i *Inquiry) recordTime() time.Time { return i.CreatedAt }

func (r *Response) RecordKind() Kind      { return KindResponse }
func (r *Response) RecordID() string      { return r.ID }
func (r *Response) ConversationKey() Key  { return InquiryKey(r.InquiryID) }
func (r *Response) recordTime() time.Time { return r.CreatedAt }

func (f *Followup) RecordKind() Kind      { return KindFollowup }
func (f *Followup) RecordID() string      { return f.ID }
func (f *Followup) ConversationKey() Key  { return InquiryKey(f.InquiryID) }
func (f *Followup) recordTime() time.Time { return f.CreatedAt }

// Draft is an unsent entry. ClaimedAt is the sender's clock and is never
// used for ordering; the store assigns the authoritative CreatedAt.
type Draft struct {
	Kind        Kind
	SenderID    string
	SenderRole  Role
	RecipientID string // direct only
	Subject     string // direct only
	Body        string
	InquiryID   string // response, followup
	ServiceID   string // inquiry
	CompanyID   string // inquiry
	ClaimedAt   time.Time
}

// Notification is the fan-out record created after a successful send.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"user_id"`
	Kind        string    `json:"type"`
	Title       string    `json:"title"`
	Body        string    `json:"content"`
	RelatedKey  Key       `json:"related_type"`
	CreatedAt   time.Time `json:"created_at"`
}
