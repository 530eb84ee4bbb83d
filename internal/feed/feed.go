// Package feed keeps a conversation view live. A subscription delivers every
// record inserted into its conversation at least once: when the transport
// drops or lags, the feed reconnects with exponential backoff and replays
// from the record store whatever the stream may have missed. Subscriptions
// also re-read the store periodically and on request, which covers inserts
// whose publish never reached the transport.
package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/matheus3301/agora/internal/bus"
	"github.com/matheus3301/agora/internal/metrics"
	"github.com/matheus3301/agora/internal/realtime"
	"github.com/matheus3301/agora/internal/status"
	"github.com/matheus3301/agora/internal/thread"
	"go.uber.org/zap"
)

// Replayer reads the records of a conversation created at or after since.
// Mark returns a store time before which every record is committed.
// *store.DB implements it.
type Replayer interface {
	FetchSince(ctx context.Context, key thread.Key, since time.Time) ([]thread.Record, error)
	Mark(ctx context.Context) (time.Time, error)
}

// SubscribeError is returned when a subscription cannot be established. It
// is transient; the caller may retry.
type SubscribeError struct {
	Key thread.Key
	Err error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Key, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

// Options tunes reconnect and resync behavior.
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ResyncInterval time.Duration
}

// Feed opens subscriptions on a realtime source.
type Feed struct {
	src     realtime.Source
	replay  Replayer
	bus     *bus.Bus
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    Options

	mu   sync.Mutex
	open map[thread.Key]map[*Handle]struct{}
}

func New(src realtime.Source, replay Replayer, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics, opts Options) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = 30 * time.Second
	}
	return &Feed{
		src: src, replay: replay, bus: b, logger: logger, metrics: m, opts: opts,
		open: make(map[thread.Key]map[*Handle]struct{}),
	}
}

// Resync makes every open subscription on key re-read the store now instead
// of at its next periodic resync. Call it when an insert may not have been
// published.
func (f *Feed) Resync(key thread.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h := range f.open[key] {
		select {
		case h.resync <- struct{}{}:
		default:
		}
	}
}

func (f *Feed) track(h *Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open[h.key] == nil {
		f.open[h.key] = make(map[*Handle]struct{})
	}
	f.open[h.key][h] = struct{}{}
}

func (f *Feed) untrack(h *Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open[h.key], h)
	if len(f.open[h.key]) == 0 {
		delete(f.open, h.key)
	}
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*Handle)

// Since makes the subscription replay records created at or after t once
// the stream is open. It closes the gap between a snapshot read and the
// moment the stream starts listening; t should come from the store's Mark
// taken before the snapshot.
func Since(t time.Time) SubscribeOption {
	return func(h *Handle) {
		h.watermark = t
		h.replayFirst = !t.IsZero()
	}
}

// Subscribe starts delivering records of key to onRecord. Only failure to
// establish the first stream is returned; later interruptions are retried
// in the background. onRecord is called from one goroutine at a time and
// must not call Close on its own handle. ctx bounds establishment only.
func (f *Feed) Subscribe(ctx context.Context, key thread.Key, onRecord func(thread.Record), opts ...SubscribeOption) (*Handle, error) {
	stream, err := f.src.Open(ctx, key)
	if err != nil {
		f.logger.Warn("subscription failed", zap.String("key", string(key)), zap.Error(err))
		return nil, &SubscribeError{Key: key, Err: err}
	}
	// Everything committed after the stream opened is published to it.
	opened, err := f.replay.Mark(ctx)
	if err != nil {
		_ = stream.Close()
		f.logger.Warn("subscription failed", zap.String("key", string(key)), zap.Error(err))
		return nil, &SubscribeError{Key: key, Err: err}
	}

	id := uuid.NewString()
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		feed:      f,
		id:        id,
		key:       key,
		onRecord:  onRecord,
		state:     status.NewMachine(id, f.bus),
		logger:    f.logger.With(zap.String("key", string(key)), zap.String("subscription", id)),
		ctx:       hctx,
		cancel:    cancel,
		resync:    make(chan struct{}, 1),
		watermark: opened,
	}
	for _, opt := range opts {
		opt(h)
	}
	_ = h.state.Transition(status.Live)
	f.metrics.SubscriptionOpened()
	f.track(h)
	h.logger.Debug("subscribed")

	h.wg.Add(2)
	go h.run(stream, h.replayFirst)
	go h.resyncLoop()
	return h, nil
}

// Unsubscribe closes h. It is the same as h.Close.
func (f *Feed) Unsubscribe(h *Handle) {
	h.Close()
}

// Handle is one live subscription. It must be closed when the view that
// owns it is dismissed.
type Handle struct {
	feed     *Feed
	id       string
	key      thread.Key
	onRecord func(thread.Record)
	state    *status.Machine
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	resync chan struct{}

	mu     sync.Mutex
	closed bool
	// Every record created before watermark has been delivered.
	watermark   time.Time
	replayFirst bool

	closeOnce sync.Once
}

func (h *Handle) Key() thread.Key { return h.key }

// ID names the subscription. Its status changes are published with this
// subject.
func (h *Handle) ID() string { return h.id }

// State reports the subscription's lifecycle state.
func (h *Handle) State() status.State { return h.state.Current() }

// Close stops the subscription and waits for its goroutine to exit. No
// record reaches the callback after Close returns. Safe to call twice.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.cancel()
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		h.wg.Wait()
		h.feed.untrack(h)
		_ = h.state.Transition(status.Closed)
		h.feed.metrics.SubscriptionClosed()
		h.logger.Debug("unsubscribed")
	})
}

func (h *Handle) run(stream realtime.Stream, replay bool) {
	defer h.wg.Done()
	for {
		var err error
		if replay {
			err = h.replay()
		}
		if err == nil {
			err = h.pump(stream)
		}
		_ = stream.Close()
		if h.ctx.Err() != nil {
			return
		}

		h.logger.Warn("subscription interrupted", zap.Error(err))
		_ = h.state.Transition(status.Reconnecting)
		if stream, err = h.reopen(); err != nil {
			return
		}
		h.feed.metrics.Inc(metrics.FeedReconnects)
		_ = h.state.Transition(status.Live)
		h.logger.Info("subscription re-established")
		replay = true
	}
}

func (h *Handle) pump(stream realtime.Stream) error {
	for {
		r, err := stream.Recv(h.ctx)
		if err != nil {
			return err
		}
		h.deliver(r)
	}
}

func (h *Handle) reopen() (realtime.Stream, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = h.feed.opts.InitialBackoff
	eb.MaxInterval = h.feed.opts.MaxBackoff
	eb.MaxElapsedTime = 0

	var stream realtime.Stream
	err := backoff.RetryNotify(func() error {
		s, err := h.feed.src.Open(h.ctx, h.key)
		if err != nil {
			return err
		}
		stream = s
		return nil
	}, backoff.WithContext(eb, h.ctx), func(err error, next time.Duration) {
		h.logger.Warn("reconnect failed", zap.Error(err), zap.Duration("retry_in", next))
	})
	return stream, err
}

// resyncLoop re-reads the store on every tick and on Resync requests.
func (h *Handle) resyncLoop() {
	defer h.wg.Done()
	t := time.NewTicker(h.feed.opts.ResyncInterval)
	defer t.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-t.C:
		case <-h.resync:
		}
		if err := h.replay(); err != nil && h.ctx.Err() == nil {
			h.logger.Warn("resync failed", zap.Error(err))
		}
	}
}

// replay re-delivers everything at or after the watermark, then moves the
// watermark to a mark taken before the read: records created before the
// mark were committed in time to be read. Records already seen are
// delivered again and absorbed by the timeline's dedup.
func (h *Handle) replay() error {
	mark, err := h.feed.replay.Mark(h.ctx)
	if err != nil {
		return fmt.Errorf("replay mark: %w", err)
	}
	h.mu.Lock()
	since := h.watermark
	h.mu.Unlock()

	recs, err := h.feed.replay.FetchSince(h.ctx, h.key, since)
	if err != nil {
		return fmt.Errorf("replay since %s: %w", since.Format(time.RFC3339Nano), err)
	}
	for _, r := range recs {
		h.deliver(r)
	}
	h.feed.metrics.Add(metrics.FeedReplayed, float64(len(recs)))

	h.mu.Lock()
	if mark.After(h.watermark) {
		h.watermark = mark
	}
	h.mu.Unlock()
	return nil
}

func (h *Handle) deliver(r thread.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.onRecord(r)
	h.feed.metrics.Inc(metrics.FeedDeliveries)
}
