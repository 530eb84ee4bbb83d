// Package realtime carries insert events for conversations between the record
// store and live subscribers. Transports implement Publisher on the write side
// and Source on the read side.
package realtime

import (
	"context"
	"errors"

	"github.com/matheus3301/agora/internal/thread"
)

var (
	// ErrLagged is returned by Stream.Recv when the transport may have dropped
	// records. Callers resynchronize from the store.
	ErrLagged = errors.New("realtime stream lagged")

	// ErrStreamClosed is returned by Stream.Recv after Close or when the
	// underlying connection went away.
	ErrStreamClosed = errors.New("realtime stream closed")
)

// Publisher announces a committed record to subscribers of its conversation.
type Publisher interface {
	Publish(ctx context.Context, r thread.Record) error
}

// Source opens a stream of insert events for one conversation.
type Source interface {
	Open(ctx context.Context, key thread.Key) (Stream, error)
}

// Stream yields records in arrival order. Any error other than a context
// error means the stream is unusable and must be reopened.
type Stream interface {
	Recv(ctx context.Context) (thread.Record, error)
	Close() error
}
