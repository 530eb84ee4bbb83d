package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/matheus3301/agora/internal/bus"
	"github.com/matheus3301/agora/internal/thread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func followup(id, inquiryID string) *thread.Followup {
	return &thread.Followup{
		ID: id, InquiryID: inquiryID, SenderID: "u1", SenderRole: thread.RoleUser,
		Body: "hello", CreatedAt: time.UnixMilli(1000).UTC(),
	}
}

func recvTimeout(t *testing.T, s Stream) (thread.Record, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.Recv(ctx)
}

func TestBusTransportDeliversOnlyOwnConversation(t *testing.T) {
	tr := NewBusTransport(bus.New(), 8, nil)
	ctx := context.Background()

	s, err := tr.Open(ctx, thread.InquiryKey("1"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, tr.Publish(ctx, followup("a", "10")))
	require.NoError(t, tr.Publish(ctx, followup("b", "1")))

	r, err := recvTimeout(t, s)
	require.NoError(t, err)
	assert.Equal(t, "b", r.RecordID())
}

func TestBusTransportLagged(t *testing.T) {
	tr := NewBusTransport(bus.New(), 1, nil)
	ctx := context.Background()

	s, err := tr.Open(ctx, thread.InquiryKey("1"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, tr.Publish(ctx, followup("a", "1")))
	require.NoError(t, tr.Publish(ctx, followup("b", "1")))

	// The buffered record may be returned first; lag must surface next.
	var lagErr error
	for range 2 {
		if _, lagErr = recvTimeout(t, s); lagErr != nil {
			break
		}
	}
	assert.ErrorIs(t, lagErr, ErrLagged)
}

func TestBusStreamClose(t *testing.T) {
	tr := NewBusTransport(bus.New(), 8, nil)
	s, err := tr.Open(context.Background(), thread.DirectKey("a", "b"))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = recvTimeout(t, s)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestBusStreamContextCancel(t *testing.T) {
	tr := NewBusTransport(bus.New(), 8, nil)
	s, err := tr.Open(context.Background(), thread.DirectKey("a", "b"))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisTransportRoundTrip(t *testing.T) {
	url := os.Getenv("AGORA_TEST_REDIS_URL")
	if url == "" {
		t.Skip("AGORA_TEST_REDIS_URL not set")
	}
	tr, err := NewRedisTransport(url, "agora:test:"+t.Name()+":", nil)
	require.NoError(t, err)
	defer tr.Close()

	ctx := context.Background()
	require.NoError(t, tr.Ping(ctx))

	s, err := tr.Open(ctx, thread.InquiryKey("1"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, tr.Publish(ctx, followup("f1", "1")))
	r, err := recvTimeout(t, s)
	require.NoError(t, err)

	f, ok := r.(*thread.Followup)
	require.True(t, ok)
	assert.Equal(t, "f1", f.ID)
	assert.Equal(t, thread.RoleUser, f.SenderRole)
	assert.True(t, f.CreatedAt.Equal(time.UnixMilli(1000)))
}

func TestNewRedisTransportBadURL(t *testing.T) {
	_, err := NewRedisTransport("not a url", "", nil)
	assert.Error(t, err)
}
