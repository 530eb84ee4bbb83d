package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/agora/internal/thread"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// RedisTransport fans insert events out over Redis pub/sub so several
// daemons sharing a database see each other's writes. Payloads are the
// thread.Encode envelope.
type RedisTransport struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisTransport connects to url (redis://host:port/db). Channels are
// named prefix + conversation key.
func NewRedisTransport(url, prefix string, logger *zap.Logger) (*RedisTransport, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "agora:conv:"
	}
	return &RedisTransport{client: redis.NewClient(opt), prefix: prefix, logger: logger}, nil
}

// Ping checks connectivity.
func (t *RedisTransport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}

func (t *RedisTransport) channel(key thread.Key) string {
	return t.prefix + string(key)
}

func (t *RedisTransport) Publish(ctx context.Context, r thread.Record) error {
	data, err := thread.Encode(r)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := t.client.Publish(ctx, t.channel(r.ConversationKey()), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.RecordID(), err)
	}
	return nil
}

// Open subscribes and waits for the server to confirm the subscription, so
// a returned stream sees every record published afterwards.
func (t *RedisTransport) Open(ctx context.Context, key thread.Key) (Stream, error) {
	ps := t.client.Subscribe(ctx, t.channel(key))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", key, err)
	}
	return &redisStream{
		key:    key,
		ps:     ps,
		ch:     ps.ChannelWithSubscriptions(),
		logger: t.logger,
	}, nil
}

type redisStream struct {
	key    thread.Key
	ps     *redis.PubSub
	ch     <-chan any
	once   sync.Once
	logger *zap.Logger
}

func (s *redisStream) Recv(ctx context.Context) (thread.Record, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-s.ch:
			if !ok {
				return nil, ErrStreamClosed
			}
			switch m := msg.(type) {
			case *redis.Subscription:
				// go-redis resubscribes after a dropped connection; anything
				// published in between is gone.
				if m.Kind == "subscribe" {
					return nil, ErrLagged
				}
			case *redis.Message:
				r, err := thread.Decode([]byte(m.Payload))
				if err != nil {
					s.logger.Warn("dropping undecodable insert event",
						zap.String("key", string(s.key)),
						zap.Error(err))
					continue
				}
				return r, nil
			}
		}
	}
}

func (s *redisStream) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
