package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/agora/internal/bus"
	"github.com/matheus3301/agora/internal/thread"
	"go.uber.org/zap"
)

// BusTransport delivers insert events through the in-process bus. It serves
// single-daemon deployments and tests.
type BusTransport struct {
	bus    *bus.Bus
	buffer int
	logger *zap.Logger
}

// NewBusTransport creates a transport whose streams buffer up to buffer
// events before they are flagged as lagged.
func NewBusTransport(b *bus.Bus, buffer int, logger *zap.Logger) *BusTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &BusTransport{bus: b, buffer: buffer, logger: logger}
}

// InsertKind is the bus event kind for a record inserted into key.
func InsertKind(key thread.Key, kind thread.Kind) string {
	return insertPrefix(key) + string(kind)
}

// "#" terminates the key so inquiry:1 does not match inquiry:10.
func insertPrefix(key thread.Key) string {
	return bus.NamespaceInsert + string(key) + "#"
}

// Publish never blocks; slow subscribers are flagged instead.
func (t *BusTransport) Publish(_ context.Context, r thread.Record) error {
	t.bus.Publish(bus.Event{
		Kind:      InsertKind(r.ConversationKey(), r.RecordKind()),
		Timestamp: time.Now(),
		Payload:   r,
	})
	return nil
}

func (t *BusTransport) Open(_ context.Context, key thread.Key) (Stream, error) {
	return &busStream{
		key:    key,
		sub:    t.bus.Subscribe(insertPrefix(key), t.buffer),
		done:   make(chan struct{}),
		logger: t.logger,
	}, nil
}

type busStream struct {
	key    thread.Key
	sub    *bus.Subscription
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func (s *busStream) Recv(ctx context.Context) (thread.Record, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrStreamClosed
		case <-s.sub.Lagged():
			return nil, ErrLagged
		case evt := <-s.sub.C:
			r, ok := evt.Payload.(thread.Record)
			if !ok {
				s.logger.Warn("unexpected insert payload",
					zap.String("key", string(s.key)),
					zap.String("kind", evt.Kind))
				continue
			}
			return r, nil
		}
	}
}

func (s *busStream) Close() error {
	s.once.Do(func() {
		s.sub.Close()
		close(s.done)
	})
	return nil
}
