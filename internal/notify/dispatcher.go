// Package notify records a notification for the counterpart of every
// successful send. Dispatch is best effort: failures are logged and
// counted, but never reach the sender. Stored notifications are announced
// on the bus for live watchers.
package notify

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/agora/internal/bus"
	"github.com/matheus3301/agora/internal/metrics"
	"github.com/matheus3301/agora/internal/thread"
	"go.uber.org/zap"
)

// Notification kinds stored in the type column.
const (
	KindDirectMessage   = "direct_message"
	KindInquiry         = "inquiry"
	KindInquiryResponse = "inquiry_response"
	KindInquiryFollowup = "inquiry_followup"
)

const previewLen = 140

// EventDispatched is the bus event kind carrying a stored Notification.
const EventDispatched = bus.NamespaceNotify + "dispatched"

// DefaultTimeout bounds one dispatch when none is configured.
const DefaultTimeout = 3 * time.Second

var errNoRecipient = errors.New("no recipient")

// Store persists notifications. *store.DB implements it.
type Store interface {
	CreateNotification(ctx context.Context, n thread.Notification) (thread.Notification, error)
}

type Dispatcher struct {
	store   Store
	bus     *bus.Bus
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

func New(store Store, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{store: store, bus: b, logger: logger, metrics: m, timeout: timeout}
}

// Dispatch notifies recipientID about e. It returns nothing: a missed
// notification is an accepted degradation.
func (d *Dispatcher) Dispatch(ctx context.Context, e thread.Entry, recipientID string) {
	n := Build(e, recipientID)

	var err error
	if recipientID == "" {
		err = errNoRecipient
	} else {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		n, err = d.store.CreateNotification(ctx, n)
		cancel()
	}

	if err != nil {
		d.logger.Error("failed to dispatch notification",
			zap.Error(err),
			zap.String("entry_id", e.ID),
			zap.String("recipient", recipientID),
			zap.String("type", n.Kind))
		d.metrics.Inc(metrics.NotifyFailures)
		return
	}

	d.logger.Debug("notification dispatched",
		zap.String("notification_id", n.ID),
		zap.String("entry_id", e.ID),
		zap.String("recipient", recipientID))
	d.metrics.Inc(metrics.NotifyDispatched)
	if d.bus != nil {
		d.bus.Publish(bus.Event{Kind: EventDispatched, Timestamp: time.Now(), Payload: n})
	}
}

// Build returns the unsaved notification describing e for recipientID.
func Build(e thread.Entry, recipientID string) thread.Notification {
	n := thread.Notification{
		RecipientID: recipientID,
		Body:        preview(e.Body),
		RelatedKey:  e.Key,
	}
	switch e.Kind {
	case thread.KindDirect:
		n.Kind = KindDirectMessage
		n.Title = "New message"
		if e.Subject != "" {
			n.Title += ": " + e.Subject
		}
	case thread.KindInquiry:
		n.Kind = KindInquiry
		n.Title = "New inquiry about your service"
	case thread.KindResponse:
		n.Kind = KindInquiryResponse
		n.Title = "Your inquiry has a response"
	case thread.KindFollowup:
		n.Kind = KindInquiryFollowup
		n.Title = "New follow-up on an inquiry"
	}
	return n
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLen {
		return s
	}
	r := []rune(s)
	return string(r[:previewLen-1]) + "…"
}
