// Package conversation ties the record store, timeline, feed, read-state
// tracker and notification dispatcher together into the operations a client
// performs: send a message, open a live view of a conversation, and mark it
// read.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/agora/internal/feed"
	"github.com/matheus3301/agora/internal/metrics"
	"github.com/matheus3301/agora/internal/readstate"
	"github.com/matheus3301/agora/internal/thread"
	"github.com/matheus3301/agora/internal/timeline"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the subset of *store.DB the service needs.
type Store interface {
	Append(ctx context.Context, d thread.Draft) (thread.Record, error)
	FetchSnapshot(ctx context.Context, key thread.Key) ([]thread.Record, error)
	GetInquiry(ctx context.Context, id string) (*thread.Inquiry, error)
	Mark(ctx context.Context) (time.Time, error)
	readstate.Marker
}

// Dispatcher is notified once per stored record. *notify.Dispatcher
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, e thread.Entry, recipientID string)
}

type Service struct {
	store      Store
	feed       *feed.Feed
	tracker    *readstate.Tracker
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Metrics
	updateBuf  int
}

func NewService(st Store, f *feed.Feed, tracker *readstate.Tracker, d Dispatcher, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      st,
		feed:       f,
		tracker:    tracker,
		dispatcher: d,
		logger:     logger,
		metrics:    m,
		updateBuf:  256,
	}
}

// Send validates and stores a draft, then dispatches exactly one
// notification to the counterpart. Notification failures do not affect the
// result. On error nothing was stored.
func (s *Service) Send(ctx context.Context, d thread.Draft) (thread.Entry, error) {
	if err := validate(d); err != nil {
		return thread.Entry{}, &SendError{Kind: d.Kind, Err: err}
	}
	recipient, err := s.recipient(ctx, d)
	if err != nil {
		return thread.Entry{}, &SendError{Kind: d.Kind, Err: err}
	}

	rec, err := s.store.Append(ctx, d)
	if err != nil {
		s.logger.Warn("send rejected", zap.String("kind", string(d.Kind)), zap.Error(err))
		return thread.Entry{}, &SendError{Kind: d.Kind, Err: err}
	}
	e, err := thread.Normalize(rec)
	if err != nil {
		// The store produced it; this is a bug, but the row is committed.
		s.logger.Error("stored record does not normalize", zap.String("id", rec.RecordID()), zap.Error(err))
		return thread.Entry{}, &SendError{Kind: d.Kind, Err: err}
	}

	s.logger.Info("message stored",
		zap.String("id", e.ID),
		zap.String("key", string(e.Key)),
		zap.String("kind", string(e.Kind)))
	s.dispatcher.Dispatch(ctx, e, recipient)
	return e, nil
}

func validate(d thread.Draft) error {
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDraft, d.Kind)
	}
	if strings.TrimSpace(d.Body) == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidDraft)
	}
	if d.SenderID == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidDraft)
	}
	switch d.Kind {
	case thread.KindDirect:
		switch {
		case d.RecipientID == "":
			return fmt.Errorf("%w: missing recipient", ErrInvalidDraft)
		case d.RecipientID == d.SenderID:
			return fmt.Errorf("%w: sender and recipient are the same user", ErrInvalidDraft)
		case strings.Contains(d.SenderID+d.RecipientID, "|"):
			return fmt.Errorf("%w: user ids must not contain '|'", ErrInvalidDraft)
		}
	case thread.KindInquiry:
		if d.ServiceID == "" || d.CompanyID == "" {
			return fmt.Errorf("%w: inquiry needs service and company", ErrInvalidDraft)
		}
	case thread.KindResponse:
		if d.InquiryID == "" {
			return fmt.Errorf("%w: missing inquiry", ErrInvalidDraft)
		}
	case thread.KindFollowup:
		if d.InquiryID == "" {
			return fmt.Errorf("%w: missing inquiry", ErrInvalidDraft)
		}
		if !d.SenderRole.Valid() {
			return fmt.Errorf("%w: sender role %q", ErrInvalidDraft, d.SenderRole)
		}
	}
	return nil
}

// recipient resolves who is notified about d, checking along the way that
// the sender belongs to the inquiry thread it writes to.
func (s *Service) recipient(ctx context.Context, d thread.Draft) (string, error) {
	switch d.Kind {
	case thread.KindDirect:
		return d.RecipientID, nil
	case thread.KindInquiry:
		return d.CompanyID, nil
	}

	inq, err := s.store.GetInquiry(ctx, d.InquiryID)
	if err != nil {
		return "", fmt.Errorf("inquiry %s: %w", d.InquiryID, err)
	}
	role := d.SenderRole
	if d.Kind == thread.KindResponse {
		role = thread.RoleCompany
	}
	switch {
	case role == thread.RoleCompany && d.SenderID == inq.CompanyID:
		return inq.InquirerID, nil
	case role == thread.RoleUser && d.SenderID == inq.InquirerID:
		return inq.CompanyID, nil
	}
	return "", ErrNotParticipant
}

// authorize checks that viewerID takes part in key.
func (s *Service) authorize(ctx context.Context, key thread.Key, viewerID string) error {
	if key.IsDirect() {
		if _, ok := key.Counterpart(viewerID); !ok {
			return ErrNotParticipant
		}
		return nil
	}
	id, ok := key.InquiryID()
	if !ok {
		return fmt.Errorf("invalid conversation key %q", key)
	}
	inq, err := s.store.GetInquiry(ctx, id)
	if err != nil {
		return &FetchError{Key: key, Err: err}
	}
	if viewerID != inq.InquirerID && viewerID != inq.CompanyID {
		return ErrNotParticipant
	}
	return nil
}

// Snapshot returns the merged timeline of key as stored right now, without
// subscribing.
func (s *Service) Snapshot(ctx context.Context, key thread.Key, viewerID string) ([]thread.Entry, error) {
	if err := s.authorize(ctx, key, viewerID); err != nil {
		return nil, err
	}
	recs, err := s.store.FetchSnapshot(ctx, key)
	if err != nil {
		return nil, &FetchError{Key: key, Err: err}
	}
	tl := timeline.New(key, s.logger, s.metrics)
	tl.Apply(recs...)
	return tl.Entries(), nil
}

// Open fetches the snapshot of key and subscribes to it concurrently. Both
// paths feed one timeline, so records seen by both appear once. The
// returned view must be closed.
func (s *Service) Open(ctx context.Context, key thread.Key, viewerID string) (*View, error) {
	if err := s.authorize(ctx, key, viewerID); err != nil {
		return nil, err
	}

	v := &View{
		key:     key,
		viewer:  viewerID,
		tl:      timeline.New(key, s.logger, s.metrics),
		tracker: s.tracker,
		updates: make(chan thread.Entry, s.updateBuf),
		gaps:    make(chan struct{}, 1),
		logger:  s.logger.With(zap.String("key", string(key)), zap.String("viewer", viewerID)),
	}

	// Every record created before start is committed, so the snapshot reads
	// it. Anything created from start on is replayed by the feed once its
	// stream is open.
	start, err := s.store.Mark(ctx)
	if err != nil {
		return nil, &FetchError{Key: key, Err: err}
	}

	var snap []thread.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := s.store.FetchSnapshot(gctx, key)
		if err != nil {
			return &FetchError{Key: key, Err: err}
		}
		snap = recs
		return nil
	})
	g.Go(func() error {
		h, err := s.feed.Subscribe(gctx, key, v.onRecord, feed.Since(start))
		if err != nil {
			return err
		}
		v.handle = h
		return nil
	})
	if err := g.Wait(); err != nil {
		if v.handle != nil {
			v.handle.Close()
		}
		var fe *FetchError
		if errors.As(err, &fe) {
			s.logger.Warn("snapshot failed", zap.String("key", string(key)), zap.Error(err))
		}
		return nil, err
	}

	v.ready(snap)
	return v, nil
}

// WithConversation opens key for viewerID, runs fn, and closes the view on
// every path out of fn.
func (s *Service) WithConversation(ctx context.Context, key thread.Key, viewerID string, fn func(*View) error) error {
	v, err := s.Open(ctx, key, viewerID)
	if err != nil {
		return err
	}
	defer v.Close()
	return fn(v)
}

// MarkRead marks every unread direct message addressed to viewerID in key as
// read and returns how many transitioned. Inquiry threads carry no receipts
// and always return 0.
func (s *Service) MarkRead(ctx context.Context, key thread.Key, viewerID string) (int64, error) {
	if err := s.authorize(ctx, key, viewerID); err != nil {
		return 0, err
	}
	if !key.IsDirect() {
		return 0, nil
	}
	recs, err := s.store.FetchSnapshot(ctx, key)
	if err != nil {
		return 0, &FetchError{Key: key, Err: err}
	}
	tl := timeline.New(key, s.logger, s.metrics)
	tl.Apply(recs...)
	return s.tracker.MarkViewed(ctx, tl, viewerID)
}
