package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/agora/internal/api"
	"github.com/matheus3301/agora/internal/client"
	"github.com/matheus3301/agora/internal/lock"
	"github.com/matheus3301/agora/internal/notify"
	"github.com/matheus3301/agora/internal/status"
	"github.com/matheus3301/agora/internal/thread"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// startDaemon runs the full fx graph under a temporary AGORA_HOME.
func startDaemon(t *testing.T, opts ...fx.Option) (*client.Client, string) {
	t.Helper()
	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	home, err := os.MkdirTemp("/tmp", "agora-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(home) })
	t.Setenv("AGORA_HOME", home)

	socketPath := filepath.Join(home, "d.sock")
	app := fxtest.New(t, append([]fx.Option{
		fx.NopLogger,
		Module(Params{InstanceName: "test", SocketPath: socketPath}),
	}, opts...)...)
	app.RequireStart()
	t.Cleanup(app.RequireStop)

	c, err := client.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, home
}

func TestDaemonLifecycle(t *testing.T) {
	c, home := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A second daemon on the same instance must not start.
	if _, err := lock.Acquire(filepath.Join(home, "instances", "test")); err == nil {
		t.Fatal("instance lock not held by running daemon")
	}

	key := thread.DirectKey("alice", "bob")
	entries, err := c.Snapshot(ctx, key, "alice")
	if err != nil {
		t.Fatalf("Snapshot error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty snapshot, got %d entries", len(entries))
	}

	sent, err := c.Send(ctx, thread.Draft{
		Kind: thread.KindDirect, SenderID: "alice", SenderRole: thread.RoleUser,
		RecipientID: "bob", Subject: "Bike", Body: "is it still for sale?",
	})
	if err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if sent.ID == "" || sent.Key != key || sent.CreatedAt.IsZero() {
		t.Errorf("Send returned %+v", sent)
	}

	entries, err = c.Snapshot(ctx, key, "bob")
	if err != nil {
		t.Fatalf("Snapshot error = %v", err)
	}
	if len(entries) != 1 || entries[0].ID != sent.ID {
		t.Fatalf("Snapshot = %+v, want [%s]", entries, sent.ID)
	}

	inbox, err := c.ListConversations(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("ListConversations error = %v", err)
	}
	if len(inbox.Conversations) != 1 || inbox.Conversations[0].UnreadCount != 1 || inbox.Unread != 1 {
		t.Errorf("inbox = %+v, want one conversation with one unread", inbox)
	}

	n, err := c.MarkRead(ctx, key, "bob")
	if err != nil || n != 1 {
		t.Errorf("MarkRead = %d, %v; want 1, nil", n, err)
	}
	n, err = c.MarkRead(ctx, key, "bob")
	if err != nil || n != 0 {
		t.Errorf("second MarkRead = %d, %v; want 0, nil", n, err)
	}

	notes, err := c.ListNotifications(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("ListNotifications error = %v", err)
	}
	if len(notes) != 1 || notes[0].Kind != notify.KindDirectMessage || notes[0].RelatedKey != key {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestWatchStreamsSnapshotThenLive(t *testing.T) {
	c, _ := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inq, err := c.Send(ctx, thread.Draft{
		Kind: thread.KindInquiry, SenderID: "u1", SenderRole: thread.RoleUser,
		ServiceID: "svc-1", CompanyID: "c1", Body: "Do you work weekends?",
	})
	if err != nil {
		t.Fatalf("Send inquiry error = %v", err)
	}
	inquiryID, _ := inq.Key.InquiryID()

	events := watch(t, ctx, c, inq.Key, "c1")

	first := next(t, ctx, events)
	if first.Phase != api.PhaseSnapshot || first.Entry.ID != inq.ID {
		t.Fatalf("first event = %+v, want snapshot of inquiry", first)
	}
	if st := next(t, ctx, events); st.Phase != api.PhaseStatus || st.State != status.Live {
		t.Fatalf("second event = %+v, want LIVE status", st)
	}

	resp, err := c.Send(ctx, thread.Draft{
		Kind: thread.KindResponse, SenderID: "c1", SenderRole: thread.RoleCompany,
		InquiryID: inquiryID, Body: "Yes, Saturdays",
	})
	if err != nil {
		t.Fatalf("Send response error = %v", err)
	}

	if ev := next(t, ctx, events); ev.Phase != api.PhaseLive || ev.Entry.ID != resp.ID || ev.Entry.AuthorRole != thread.RoleCompany {
		t.Errorf("live event = %+v", ev)
	}
}

// watch streams frames of key into the returned channel until the test ends.
func watch(t *testing.T, ctx context.Context, c *client.Client, key thread.Key, viewer string) <-chan api.WatchFrame {
	t.Helper()
	frames := make(chan api.WatchFrame, 64)
	watchCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Watch(watchCtx, key, viewer, func(f api.WatchFrame) error {
			frames <- f
			return nil
		})
	}()
	t.Cleanup(func() {
		stop()
		wg.Wait()
	})
	return frames
}

func next(t *testing.T, ctx context.Context, frames <-chan api.WatchFrame) api.WatchFrame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-ctx.Done():
		t.Fatal("no watch frame")
	}
	return api.WatchFrame{}
}

// droppingTransport subscribes normally but loses every publish.
type droppingTransport struct {
	Transport
}

func (droppingTransport) Publish(context.Context, thread.Record) error {
	return errors.New("publish: i/o timeout")
}

func TestWatchRecoversFromFailedPublish(t *testing.T) {
	c, _ := startDaemon(t, fx.Decorate(func(tr Transport) Transport {
		return droppingTransport{tr}
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := thread.DirectKey("alice", "bob")
	events := watch(t, ctx, c, key, "bob")
	if st := next(t, ctx, events); st.Phase != api.PhaseStatus {
		t.Fatalf("first event = %+v, want status", st)
	}

	sent, err := c.Send(ctx, thread.Draft{Kind: thread.KindDirect, SenderID: "alice", SenderRole: thread.RoleUser, RecipientID: "bob", Body: "lost on the wire"})
	if err != nil {
		t.Fatalf("Send error = %v", err)
	}
	// The periodic resync is 30s away; only the resync triggered by the
	// failed publish can deliver within the deadline.
	if ev := next(t, ctx, events); ev.Phase != api.PhaseLive || ev.Entry.ID != sent.ID {
		t.Errorf("event = %+v, want live %s", ev, sent.ID)
	}
}

func TestWatchNotifications(t *testing.T) {
	c, _ := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan thread.Notification, 4)
	watchCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.WatchNotifications(watchCtx, "bob", func(n thread.Notification) error {
			got <- n
			return nil
		})
	}()
	defer func() {
		stop()
		wg.Wait()
	}()

	// The stream only carries what is stored after it opens; keep sending
	// until one arrives.
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := c.Send(ctx, thread.Draft{Kind: thread.KindDirect, SenderID: "alice", SenderRole: thread.RoleUser, RecipientID: "bob", Body: "ping"}); err != nil {
			t.Fatalf("Send error = %v", err)
		}
		select {
		case n := <-got:
			if n.RecipientID != "bob" || n.Kind != notify.KindDirectMessage {
				t.Errorf("notification = %+v, want direct message for bob", n)
			}
			return
		case <-tick.C:
		case <-ctx.Done():
			t.Fatal("no notification streamed")
		}
	}
}

func TestErrorCodes(t *testing.T) {
	c, _ := startDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Snapshot(ctx, thread.DirectKey("alice", "bob"), "mallory")
	if code := grpcstatus.Code(err); code != codes.PermissionDenied {
		t.Errorf("stranger Snapshot code = %v, want PermissionDenied", code)
	}

	_, err = c.Send(ctx, thread.Draft{Kind: thread.KindDirect, SenderID: "alice", RecipientID: "bob"})
	if code := grpcstatus.Code(err); code != codes.InvalidArgument {
		t.Errorf("empty body Send code = %v, want InvalidArgument", code)
	}

	_, err = c.Send(ctx, thread.Draft{
		Kind: thread.KindFollowup, SenderID: "u1", SenderRole: thread.RoleUser, InquiryID: "missing", Body: "hi",
	})
	if code := grpcstatus.Code(err); code != codes.NotFound {
		t.Errorf("missing inquiry Send code = %v, want NotFound", code)
	}

	_, err = c.Snapshot(ctx, thread.Key("bogus"), "alice")
	if code := grpcstatus.Code(err); code != codes.InvalidArgument {
		t.Errorf("bad key Snapshot code = %v, want InvalidArgument", code)
	}
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("unexpected error %v", err)
	}
}
