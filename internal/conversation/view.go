package conversation

import (
	"context"
	"sync"

	"github.com/matheus3301/agora/internal/feed"
	"github.com/matheus3301/agora/internal/readstate"
	"github.com/matheus3301/agora/internal/status"
	"github.com/matheus3301/agora/internal/thread"
	"github.com/matheus3301/agora/internal/timeline"
	"go.uber.org/zap"
)

// View is an open conversation: a merged timeline kept live by a feed
// subscription.
type View struct {
	key     thread.Key
	viewer  string
	tl      *timeline.Timeline
	tracker *readstate.Tracker
	handle  *feed.Handle
	logger  *zap.Logger

	mu      sync.Mutex
	live    bool // snapshot merged; new entries go to updates
	closed  bool
	updates chan thread.Entry
	gaps    chan struct{}

	closeOnce sync.Once
}

func (v *View) Key() thread.Key { return v.key }

// Entries returns the merged timeline in order.
func (v *View) Entries() []thread.Entry { return v.tl.Entries() }

// Updates yields entries merged after Open returned, in merge order. It is
// closed by Close. When the consumer falls behind, entries are still merged
// into the timeline but not sent here, and Gaps fires.
func (v *View) Updates() <-chan thread.Entry { return v.updates }

// Gaps receives a signal whenever Updates skipped an entry. A consumer that
// must see everything re-reads Entries when it fires.
func (v *View) Gaps() <-chan struct{} { return v.gaps }

// SubscriptionID names the view's feed subscription, the subject of its
// status change events.
func (v *View) SubscriptionID() string { return v.handle.ID() }

// State reports the subscription state.
func (v *View) State() status.State { return v.handle.State() }

// MarkRead marks the entries addressed to the viewer as read and returns how
// many transitioned.
func (v *View) MarkRead(ctx context.Context) (int64, error) {
	return v.tracker.MarkViewed(ctx, v.tl, v.viewer)
}

// Close unsubscribes synchronously. No entry is merged after it returns.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.handle.Close()
		v.mu.Lock()
		v.closed = true
		close(v.updates)
		v.mu.Unlock()
	})
}

func (v *View) onRecord(r thread.Record) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	added := v.tl.Apply(r)
	if !v.live {
		return
	}
	for _, e := range added {
		select {
		case v.updates <- e:
		default:
			v.logger.Warn("update dropped, consumer is behind", zap.String("id", e.ID))
			select {
			case v.gaps <- struct{}{}:
			default:
			}
		}
	}
}

func (v *View) ready(snap []thread.Record) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tl.Apply(snap...)
	v.live = true
}
