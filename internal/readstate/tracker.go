// Package readstate moves direct messages addressed to a viewer from unread
// to read. Transitions are one-way, so concurrent trackers need no
// coordination beyond the store's conditional update.
package readstate

import (
	"context"
	"fmt"

	"github.com/matheus3301/agora/internal/metrics"
	"github.com/matheus3301/agora/internal/thread"
	"go.uber.org/zap"
)

// Marker persists read receipts and reports how many rows changed.
// *store.DB implements it.
type Marker interface {
	MarkRead(ctx context.Context, viewerID string, ids []string) (int64, error)
}

// Timeline is the view the tracker reads unread entries from and flips
// local flags on.
type Timeline interface {
	Unread(viewerID string) []thread.Entry
	MarkRead(ids []string)
}

type Tracker struct {
	store   Marker
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(store Marker, logger *zap.Logger, m *metrics.Metrics) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, logger: logger, metrics: m}
}

// MarkViewed marks every unread direct entry of tl addressed to viewerID as
// read, in one batched store call, and returns how many entries actually
// transitioned. With nothing unread it returns 0 without touching the
// store.
func (t *Tracker) MarkViewed(ctx context.Context, tl Timeline, viewerID string) (int64, error) {
	unread := tl.Unread(viewerID)
	if len(unread) == 0 {
		return 0, nil
	}

	ids := make([]string, len(unread))
	for i, e := range unread {
		ids[i] = e.ID
	}
	n, err := t.store.MarkRead(ctx, viewerID, ids)
	if err != nil {
		return 0, fmt.Errorf("mark %d entries read: %w", len(ids), err)
	}

	// Rows another session already marked return 0 from the store but are
	// read all the same.
	tl.MarkRead(ids)
	t.metrics.Add(metrics.ReadStateMarked, float64(n))
	t.logger.Debug("entries marked read",
		zap.String("viewer", viewerID),
		zap.Int("candidates", len(ids)),
		zap.Int64("transitioned", n))
	return n, nil
}
