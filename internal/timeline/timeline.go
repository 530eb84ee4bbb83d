// Package timeline merges records from snapshots and live pushes into one
// ordered, duplicate-free view of a conversation.
package timeline

import (
	"errors"
	"slices"
	"sync"

	"github.com/matheus3301/agora/internal/metrics"
	"github.com/matheus3301/agora/internal/thread"
	"go.uber.org/zap"
)

var errKeyMismatch = errors.New("record belongs to another conversation")

// Timeline is the merged view of one conversation. Entries are kept sorted
// by (CreatedAt, ID) and each ID appears at most once, regardless of how
// often or in what order records are applied. Safe for concurrent use.
type Timeline struct {
	key     thread.Key
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries []thread.Entry
	index   map[string]struct{}
}

func New(key thread.Key, logger *zap.Logger, m *metrics.Metrics) *Timeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timeline{
		key:     key,
		logger:  logger.With(zap.String("key", string(key))),
		metrics: m,
		index:   make(map[string]struct{}),
	}
}

// Key returns the conversation this timeline belongs to.
func (t *Timeline) Key() thread.Key { return t.key }

// Apply merges records and returns the entries that were not present
// before, in timeline order. A record whose ID is already merged only
// upgrades the read flag. Malformed records are logged and skipped.
func (t *Timeline) Apply(records ...thread.Record) []thread.Entry {
	var added []thread.Entry

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range records {
		e, err := thread.Normalize(r)
		if err == nil && e.Key != t.key {
			err = errKeyMismatch
		}
		if err != nil {
			t.logger.Warn("dropping malformed record", zap.Error(err))
			t.metrics.Inc(metrics.TimelineMalformed)
			continue
		}

		if _, ok := t.index[e.ID]; ok {
			t.metrics.Inc(metrics.TimelineDuplicates)
			if e.Read {
				if i, found := t.find(e); found {
					t.entries[i].Read = true
				}
			}
			continue
		}

		i, _ := t.find(e)
		t.entries = slices.Insert(t.entries, i, e)
		t.index[e.ID] = struct{}{}
		added = append(added, e)
	}

	slices.SortFunc(added, compare)
	return added
}

// find returns the position of e, or where it would be inserted.
func (t *Timeline) find(e thread.Entry) (int, bool) {
	return slices.BinarySearchFunc(t.entries, e, compare)
}

func compare(a, b thread.Entry) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

// Entries returns a copy of the merged entries in order.
func (t *Timeline) Entries() []thread.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.entries)
}

// Len returns the number of merged entries.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Unread returns the direct entries addressed to viewerID that are not read.
func (t *Timeline) Unread(viewerID string) []thread.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []thread.Entry
	for _, e := range t.entries {
		if e.Kind == thread.KindDirect && e.RecipientID == viewerID && !e.Read {
			out = append(out, e)
		}
	}
	return out
}

// MarkRead sets the read flag on the given entries. Flags never go back to
// unread.
func (t *Timeline) MarkRead(ids []string) {
	if len(ids) == 0 {
		return
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if _, ok := set[t.entries[i].ID]; ok {
			t.entries[i].Read = true
		}
	}
}
