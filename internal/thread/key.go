package thread

import (
	"fmt"
	"strings"
)

const (
	directPrefix  = "dm:"
	inquiryPrefix = "inquiry:"
	pairSep       = "|"
)

// Key identifies a conversation: an unordered participant pair for direct
// messages or an inquiry id for inquiry threads.
type Key string

// DirectKey returns the key for the direct conversation between a and b.
// The pair is unordered: DirectKey(a, b) == DirectKey(b, a).
func DirectKey(a, b string) Key {
	if b < a {
		a, b = b, a
	}
	return Key(directPrefix + a + pairSep + b)
}

// InquiryKey returns the key for the inquiry thread with the given id.
func InquiryKey(inquiryID string) Key {
	return Key(inquiryPrefix + inquiryID)
}

// Pair returns the two participants of a direct key. Participant ids never
// contain the separator, so a key with more than one is not a direct key.
func (k Key) Pair() (a, b string, ok bool) {
	rest, found := strings.CutPrefix(string(k), directPrefix)
	if !found {
		return "", "", false
	}
	a, b, ok = strings.Cut(rest, pairSep)
	if !ok || a == "" || b == "" || strings.Contains(b, pairSep) {
		return "", "", false
	}
	return a, b, true
}

// InquiryID returns the inquiry id of an inquiry key.
func (k Key) InquiryID() (string, bool) {
	id, ok := strings.CutPrefix(string(k), inquiryPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// IsDirect reports whether k names a direct conversation.
func (k Key) IsDirect() bool {
	_, _, ok := k.Pair()
	return ok
}

// Counterpart returns the other participant of a direct key.
func (k Key) Counterpart(userID string) (string, bool) {
	a, b, ok := k.Pair()
	switch {
	case !ok:
		return "", false
	case a == userID:
		return b, true
	case b == userID:
		return a, true
	}
	return "", false
}

// ParseKey validates a key received from outside the process.
func ParseKey(s string) (Key, error) {
	k := Key(s)
	if k.IsDirect() {
		return k, nil
	}
	if _, ok := k.InquiryID(); ok {
		return k, nil
	}
	return "", fmt.Errorf("invalid conversation key %q", s)
}

func (k Key) String() string { return string(k) }
