package api

import (
	"context"
	"errors"

	"github.com/matheus3301/agora/internal/bus"
	"github.com/matheus3301/agora/internal/conversation"
	"github.com/matheus3301/agora/internal/feed"
	"github.com/matheus3301/agora/internal/notify"
	"github.com/matheus3301/agora/internal/status"
	"github.com/matheus3301/agora/internal/store"
	"github.com/matheus3301/agora/internal/thread"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// InboxStore lists what a user has across conversations. *store.DB
// implements it.
type InboxStore interface {
	ListDirectConversations(ctx context.Context, userID string, limit int) ([]store.Conversation, error)
	ListInquiries(ctx context.Context, participantID string, limit int) ([]thread.Inquiry, error)
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]thread.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

// ConversationService implements ConversationServer on top of the
// conversation core. Status and notification streams are fed from the bus.
type ConversationService struct {
	svc    *conversation.Service
	inbox  InboxStore
	bus    *bus.Bus
	logger *zap.Logger
}

func NewConversationService(svc *conversation.Service, inbox InboxStore, b *bus.Bus, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{svc: svc, inbox: inbox, bus: b, logger: logger}
}

func (s *ConversationService) Send(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	e, err := s.svc.Send(ctx, DecodeDraft(req))
	if err != nil {
		return nil, toStatus(err)
	}
	return EncodeEntry(e), nil
}

func (s *ConversationService) Snapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := parseKey(req)
	if err != nil {
		return nil, err
	}
	entries, err := s.svc.Snapshot(ctx, key, str(req, FieldViewerID))
	if err != nil {
		return nil, toStatus(err)
	}
	return EncodeEntries(entries), nil
}

func (s *ConversationService) MarkRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := parseKey(req)
	if err != nil {
		return nil, err
	}
	n, err := s.svc.MarkRead(ctx, key, str(req, FieldViewerID))
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldMarked: structpb.NewNumberValue(float64(n)),
	}}, nil
}

func (s *ConversationService) ListConversations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	user := str(req, FieldUserID)
	if user == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user_id is required")
	}
	limit := int(num(req, FieldLimit))

	convs, err := s.inbox.ListDirectConversations(ctx, user, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list conversations: %v", err)
	}
	inqs, err := s.inbox.ListInquiries(ctx, user, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list inquiries: %v", err)
	}
	unread, err := s.inbox.UnreadCount(ctx, user)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "unread count: %v", err)
	}
	return EncodeInbox(Inbox{Conversations: convs, Inquiries: inqs, Unread: unread}), nil
}

func (s *ConversationService) ListNotifications(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	user := str(req, FieldUserID)
	if user == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user_id is required")
	}
	ns, err := s.inbox.ListNotifications(ctx, user, int(num(req, FieldLimit)))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list notifications: %v", err)
	}
	return EncodeNotifications(ns), nil
}

// Watch streams the conversation's current entries, then its subscription
// state, then every new entry and state change until the client goes away.
func (s *ConversationService) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	key, err := parseKey(req)
	if err != nil {
		return err
	}
	ctx := stream.Context()
	viewer := str(req, FieldViewerID)

	err = s.svc.WithConversation(ctx, key, viewer, func(v *conversation.View) error {
		var changes <-chan bus.Event
		var lagged <-chan struct{}
		if s.bus != nil {
			sub := s.bus.Subscribe(bus.NamespaceFeed, 64)
			defer sub.Close()
			changes, lagged = sub.C, sub.Lagged()
		}
		return streamView(ctx, v, changes, lagged, func(f WatchFrame) error {
			return stream.SendMsg(EncodeFrame(f))
		})
	})
	if err != nil {
		s.logger.Debug("watch ended", zap.String("key", string(key)), zap.Error(err))
	}
	return toStatus(err)
}

// watchedView is the part of *conversation.View a Watch stream reads.
type watchedView interface {
	Entries() []thread.Entry
	Updates() <-chan thread.Entry
	Gaps() <-chan struct{}
	State() status.State
	SubscriptionID() string
}

// streamView sends every entry of v exactly once: the snapshot, then live
// updates. When v reports that updates were skipped, the merged timeline is
// re-read and whatever was not sent yet goes out. State changes of v's
// subscription are forwarded from changes.
func streamView(ctx context.Context, v watchedView, changes <-chan bus.Event, lagged <-chan struct{}, send func(WatchFrame) error) error {
	seen := make(map[string]struct{})
	sendEntries := func(phase string, entries ...thread.Entry) error {
		for _, e := range entries {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			if err := send(WatchFrame{Phase: phase, Entry: e}); err != nil {
				return err
			}
		}
		return nil
	}
	sendState := func(st status.State) error {
		return send(WatchFrame{Phase: PhaseStatus, State: st})
	}

	if err := sendEntries(PhaseSnapshot, v.Entries()...); err != nil {
		return err
	}
	if err := sendState(v.State()); err != nil {
		return err
	}
	for {
		select {
		case e, ok := <-v.Updates():
			if !ok {
				return nil
			}
			if err := sendEntries(PhaseLive, e); err != nil {
				return err
			}
		case <-v.Gaps():
			if err := sendEntries(PhaseLive, v.Entries()...); err != nil {
				return err
			}
		case evt, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			change, ok := evt.Payload.(status.StatusChange)
			if !ok || change.Subject != v.SubscriptionID() {
				continue
			}
			if err := sendState(change.To); err != nil {
				return err
			}
		case <-lagged:
			// Some changes were missed; the current state is authoritative.
			lagged = nil
			if err := sendState(v.State()); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// WatchNotifications streams notifications stored for user_id from now on.
// A watcher that falls behind is ended with ResourceExhausted and should
// list notifications before watching again.
func (s *ConversationService) WatchNotifications(req *structpb.Struct, stream grpc.ServerStream) error {
	user := str(req, FieldUserID)
	if user == "" {
		return grpcstatus.Error(codes.InvalidArgument, "user_id is required")
	}
	if s.bus == nil {
		return grpcstatus.Error(codes.Unimplemented, "notification stream not available")
	}
	sub := s.bus.Subscribe(notify.EventDispatched, 64)
	defer sub.Close()

	ctx := stream.Context()
	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return nil
			}
			n, ok := evt.Payload.(thread.Notification)
			if !ok || n.RecipientID != user {
				continue
			}
			if err := stream.SendMsg(EncodeNotification(n)); err != nil {
				return err
			}
		case <-sub.Lagged():
			return grpcstatus.Error(codes.ResourceExhausted, "notification watcher fell behind")
		case <-ctx.Done():
			return nil
		}
	}
}

func parseKey(req *structpb.Struct) (thread.Key, error) {
	key, err := thread.ParseKey(str(req, FieldKey))
	if err != nil {
		return "", grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	return key, nil
}

// toStatus maps core errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	var (
		subErr    *feed.SubscribeError
		fetchErr  *conversation.FetchError
		appendErr *store.AppendError
	)
	switch {
	case errors.Is(err, conversation.ErrInvalidDraft):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, conversation.ErrNotParticipant):
		return grpcstatus.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case errors.As(err, &subErr), errors.As(err, &fetchErr):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.As(err, &appendErr):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	}
	return grpcstatus.Error(codes.Internal, err.Error())
}
