package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/agora/internal/bus"
	"github.com/matheus3301/agora/internal/conversation"
	"github.com/matheus3301/agora/internal/feed"
	"github.com/matheus3301/agora/internal/status"
	"github.com/matheus3301/agora/internal/store"
	"github.com/matheus3301/agora/internal/thread"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"invalid draft", &conversation.SendError{Kind: thread.KindDirect, Err: fmt.Errorf("%w: empty body", conversation.ErrInvalidDraft)}, codes.InvalidArgument},
		{"not participant", conversation.ErrNotParticipant, codes.PermissionDenied},
		{"missing inquiry", &conversation.FetchError{Key: thread.InquiryKey("x"), Err: store.ErrNotFound}, codes.NotFound},
		{"subscribe failed", &feed.SubscribeError{Key: thread.InquiryKey("x"), Err: errors.New("refused")}, codes.Unavailable},
		{"snapshot failed", &conversation.FetchError{Key: thread.InquiryKey("x"), Err: errors.New("disk I/O error")}, codes.Unavailable},
		{"append rejected", &conversation.SendError{Kind: thread.KindFollowup, Err: &store.AppendError{Kind: thread.KindFollowup, Err: errors.New("FOREIGN KEY constraint failed")}}, codes.FailedPrecondition},
		{"canceled", context.Canceled, codes.Canceled},
		{"other", errors.New("boom"), codes.Internal},
		{"already a status", grpcstatus.Error(codes.Aborted, "x"), codes.Aborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := grpcstatus.Code(toStatus(tt.err))
			if got != tt.want {
				t.Errorf("toStatus(%v) code = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
	if toStatus(nil) != nil {
		t.Error("toStatus(nil) != nil")
	}
}

func TestEntryCodec(t *testing.T) {
	e := thread.Entry{
		ID: "0190a1b2", Key: thread.DirectKey("alice", "bob"), Kind: thread.KindDirect,
		AuthorID: "alice", AuthorRole: thread.RoleUser, RecipientID: "bob",
		Subject: "Bike", Body: "still for sale?", CreatedAt: time.UnixMilli(1_700_000_000_123).UTC(), Read: true,
	}
	got := DecodeEntries(EncodeEntries([]thread.Entry{e}))
	if len(got) != 1 || got[0] != e {
		t.Errorf("DecodeEntries() = %+v, want [%+v]", got, e)
	}
}

func TestDraftCodecKeepsZeroClaimedAt(t *testing.T) {
	d := thread.Draft{Kind: thread.KindFollowup, SenderID: "c1", SenderRole: thread.RoleCompany, InquiryID: "q1", Body: "ok"}
	got := DecodeDraft(EncodeDraft(d))
	if got != d {
		t.Errorf("DecodeDraft() = %+v, want %+v", got, d)
	}
}

func TestServiceDesc(t *testing.T) {
	if FullMethod(MethodSend) != "/agora.v1.ConversationService/Send" {
		t.Errorf("FullMethod(Send) = %q", FullMethod(MethodSend))
	}
	if len(ServiceDesc.Methods) != 5 {
		t.Errorf("unary methods = %d, want 5", len(ServiceDesc.Methods))
	}
	for _, d := range []struct {
		name string
		ok   bool
	}{
		{MethodWatch, WatchStreamDesc.ServerStreams && !WatchStreamDesc.ClientStreams && WatchStreamDesc.StreamName == MethodWatch},
		{MethodWatchNotifications, WatchNotificationsStreamDesc.ServerStreams && !WatchNotificationsStreamDesc.ClientStreams && WatchNotificationsStreamDesc.StreamName == MethodWatchNotifications},
	} {
		if !d.ok {
			t.Errorf("%s must be a server-streaming method", d.name)
		}
	}
}

func TestFrameCodec(t *testing.T) {
	st := WatchFrame{Phase: PhaseStatus, State: status.Reconnecting}
	if got := DecodeFrame(EncodeFrame(st)); got != st {
		t.Errorf("DecodeFrame(status) = %+v, want %+v", got, st)
	}
	live := WatchFrame{Phase: PhaseLive, Entry: thread.Entry{
		ID: "m1", Key: thread.DirectKey("a", "b"), Kind: thread.KindDirect, AuthorID: "a",
		AuthorRole: thread.RoleUser, RecipientID: "b", Body: "hi", CreatedAt: time.UnixMilli(42).UTC(),
	}}
	if got := DecodeFrame(EncodeFrame(live)); got != live {
		t.Errorf("DecodeFrame(live) = %+v, want %+v", got, live)
	}
}

// fakeView is a view whose timeline and channels the test drives.
type fakeView struct {
	mu      sync.Mutex
	entries []thread.Entry
	updates chan thread.Entry
	gaps    chan struct{}
}

func (v *fakeView) Entries() []thread.Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]thread.Entry(nil), v.entries...)
}

func (v *fakeView) merge(es ...thread.Entry) {
	v.mu.Lock()
	v.entries = append(v.entries, es...)
	v.mu.Unlock()
}

func (v *fakeView) Updates() <-chan thread.Entry { return v.updates }
func (v *fakeView) Gaps() <-chan struct{}        { return v.gaps }
func (v *fakeView) State() status.State          { return status.Live }
func (v *fakeView) SubscriptionID() string       { return "sub-1" }

// frameLog collects frames sent by streamView.
type frameLog struct {
	mu     sync.Mutex
	frames []WatchFrame
}

func (l *frameLog) send(f WatchFrame) error {
	l.mu.Lock()
	l.frames = append(l.frames, f)
	l.mu.Unlock()
	return nil
}

func (l *frameLog) snapshot() []WatchFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]WatchFrame(nil), l.frames...)
}

func (l *frameLog) waitLen(t *testing.T, n int) []WatchFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fs := l.snapshot(); len(fs) >= n {
			return fs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("got %d frames, want %d", len(l.snapshot()), n)
	return nil
}

func entryIDs(frames []WatchFrame) []string {
	var out []string
	for _, f := range frames {
		if f.Phase != PhaseStatus {
			out = append(out, f.Entry.ID)
		}
	}
	return out
}

func TestStreamViewRecoversSkippedUpdates(t *testing.T) {
	e := func(id string) thread.Entry { return thread.Entry{ID: id, Kind: thread.KindDirect} }
	v := &fakeView{entries: []thread.Entry{e("m1")}, updates: make(chan thread.Entry), gaps: make(chan struct{}, 1)}
	log := &frameLog{}
	changes := make(chan bus.Event)

	done := make(chan error, 1)
	go func() { done <- streamView(context.Background(), v, changes, nil, log.send) }()

	log.waitLen(t, 2)
	v.merge(e("m2"))
	v.updates <- e("m2")
	log.waitLen(t, 3)

	// m3..m300 were merged while the watcher was behind; only a gap arrives.
	for i := 3; i <= 300; i++ {
		v.merge(e(fmt.Sprintf("m%d", i)))
	}
	v.gaps <- struct{}{}
	log.waitLen(t, 301)

	// A late duplicate of a recovered entry is not sent again.
	v.updates <- e("m150")
	changes <- bus.Event{Kind: bus.NamespaceFeed + "status_changed", Payload: status.StatusChange{Subject: "other", To: status.Closed}}
	changes <- bus.Event{Kind: bus.NamespaceFeed + "status_changed", Payload: status.StatusChange{Subject: "sub-1", From: status.Live, To: status.Reconnecting}}
	frames := log.waitLen(t, 302)

	close(v.updates)
	if err := <-done; err != nil {
		t.Fatalf("streamView error = %v", err)
	}

	if frames[0].Phase != PhaseSnapshot || frames[0].Entry.ID != "m1" {
		t.Errorf("first frame = %+v, want snapshot m1", frames[0])
	}
	if frames[1].Phase != PhaseStatus || frames[1].State != status.Live {
		t.Errorf("second frame = %+v, want LIVE status", frames[1])
	}
	ids := entryIDs(frames)
	if len(ids) != 300 {
		t.Fatalf("sent %d entries, want 300", len(ids))
	}
	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id] {
			t.Errorf("entry %s sent twice", id)
		}
		seen[id] = true
	}
	last := log.snapshot()[len(log.snapshot())-1]
	if last.Phase != PhaseStatus || last.State != status.Reconnecting {
		t.Errorf("last frame = %+v, want RECONNECTING for own subscription only", last)
	}
}
