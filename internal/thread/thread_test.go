package thread

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectKeyIsUnordered(t *testing.T) {
	assert.Equal(t, DirectKey("alice", "bob"), DirectKey("bob", "alice"))

	a, b, ok := DirectKey("bob", "alice").Pair()
	require.True(t, ok)
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)

	other, ok := DirectKey("alice", "bob").Counterpart("bob")
	require.True(t, ok)
	assert.Equal(t, "alice", other)

	_, ok = DirectKey("alice", "bob").Counterpart("carol")
	assert.False(t, ok)
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"dm:a|b", false},
		{"inquiry:42", false},
		{"dm:a", true},
		{"dm:|b", true},
		{"dm:a|b|c", true},
		{"dm:a||b", true},
		{"inquiry:", true},
		{"chat:1", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseKey(tt.in)
			assert.Equal(t, tt.wantErr, err != nil, "ParseKey(%q) err = %v", tt.in, err)
		})
	}
}

func TestNormalizeRoles(t *testing.T) {
	now := time.UnixMilli(1000)

	inq, err := Normalize(&Inquiry{ID: "i1", InquirerID: "u1", CompanyID: "c1", Body: "hi", CreatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, KindInquiry, inq.Kind)
	assert.Equal(t, RoleUser, inq.AuthorRole)
	assert.Equal(t, InquiryKey("i1"), inq.Key)

	resp, err := Normalize(&Response{ID: "r1", InquiryID: "i1", CompanyID: "c1", Body: "hello", CreatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, KindResponse, resp.Kind)
	assert.Equal(t, RoleCompany, resp.AuthorRole)
	assert.Equal(t, "c1", resp.AuthorID)

	fu, err := Normalize(&Followup{ID: "f1", InquiryID: "i1", SenderID: "c1", SenderRole: RoleCompany, Body: "x", CreatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, KindFollowup, fu.Kind)
	assert.Equal(t, RoleCompany, fu.AuthorRole)

	dm, err := Normalize(&DirectMessage{ID: "d1", SenderID: "u1", RecipientID: "u2", Body: "yo", IsRead: true, CreatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, KindDirect, dm.Kind)
	assert.Equal(t, "u2", dm.RecipientID)
	assert.True(t, dm.Read)
	assert.Equal(t, DirectKey("u1", "u2"), dm.Key)
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	now := time.UnixMilli(1000)
	var nilDM *DirectMessage

	cases := map[string]Record{
		"nil":            nil,
		"typed nil":      nilDM,
		"no id":          &DirectMessage{SenderID: "a", RecipientID: "b", CreatedAt: now},
		"no timestamp":   &Response{ID: "r", InquiryID: "i"},
		"bad role":       &Followup{ID: "f", InquiryID: "i", SenderID: "a", SenderRole: "admin", CreatedAt: now},
		"no inquirer":    &Inquiry{ID: "i", CreatedAt: now},
		"no participant": &DirectMessage{ID: "d", SenderID: "a", CreatedAt: now},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(rec)
			assert.True(t, errors.Is(err, ErrMalformed), "err = %v", err)
		})
	}
}

func TestEntryLessBreaksTiesByID(t *testing.T) {
	ts := time.UnixMilli(5000)
	a := Entry{ID: "a", CreatedAt: ts}
	b := Entry{ID: "b", CreatedAt: ts}
	c := Entry{ID: "0", CreatedAt: ts.Add(time.Millisecond)}

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, b.Less(c))
	assert.False(t, a.Less(a))
}

func TestEncodeDecode(t *testing.T) {
	in := &Followup{ID: "f1", InquiryID: "i1", SenderID: "u1", SenderRole: RoleUser, Body: "thanks", CreatedAt: time.UnixMilli(1234).UTC()}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"poll","row":{}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)
}
