package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("feed.", 10)
	defer sub.Close()

	b.Publish(Event{Kind: "feed.status_changed", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-sub.C:
		if evt.Kind != "feed.status_changed" {
			t.Errorf("got kind %q, want feed.status_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	sub := b.Subscribe("insert:inquiry:1#", 10)
	defer sub.Close()

	b.Publish(Event{Kind: "insert:inquiry:10#followup"})
	b.Publish(Event{Kind: "notify.dispatched"})
	b.Publish(Event{Kind: "insert:inquiry:1#response"})

	select {
	case evt := <-sub.C:
		if evt.Kind != "insert:inquiry:1#response" {
			t.Errorf("got kind %q, want insert:inquiry:1#response", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-sub.C:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose(t *testing.T) {
	b := New()
	sub := b.Subscribe("feed.", 10)
	sub.Close()
	sub.Close()

	b.Publish(Event{Kind: "feed.status_changed"})

	select {
	case evt := <-sub.C:
		t.Errorf("received event after close: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFullBufferMarksLagged(t *testing.T) {
	b := New()
	sub := b.Subscribe("test.", 1)
	defer sub.Close()

	select {
	case <-sub.Lagged():
		t.Fatal("fresh subscription reported lag")
	default:
	}

	b.Publish(Event{Kind: "test.one"})
	// Dropped: buffer is full.
	b.Publish(Event{Kind: "test.two"})
	b.Publish(Event{Kind: "test.three"})

	select {
	case <-sub.Lagged():
	case <-time.After(time.Second):
		t.Fatal("expected lag signal after dropped event")
	}

	evt := <-sub.C
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}
