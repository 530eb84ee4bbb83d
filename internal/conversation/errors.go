package conversation

import (
	"errors"
	"fmt"

	"github.com/matheus3301/agora/internal/thread"
)

var (
	// ErrNotParticipant is returned when a user acts on a conversation they
	// are not part of.
	ErrNotParticipant = errors.New("not a participant of this conversation")

	// ErrInvalidDraft is returned for drafts rejected before reaching the store.
	ErrInvalidDraft = errors.New("invalid draft")
)

// SendError reports a draft that was not stored. Nothing from it is merged
// into any timeline.
type SendError struct {
	Kind thread.Kind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// FetchError reports a failed snapshot read. It is transient; the caller may
// retry.
type FetchError struct {
	Key thread.Key
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
