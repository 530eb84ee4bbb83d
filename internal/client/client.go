// Package client talks to agorad over its unix socket.
package client

import (
	"context"
	"errors"
	"io"

	"github.com/matheus3301/agora/internal/api"
	"github.com/matheus3301/agora/internal/thread"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath. The connection is
// established lazily on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Send stores a draft and returns the resulting entry.
func (c *Client) Send(ctx context.Context, d thread.Draft) (thread.Entry, error) {
	resp, err := c.invoke(ctx, api.MethodSend, api.EncodeDraft(d))
	if err != nil {
		return thread.Entry{}, err
	}
	return api.DecodeEntry(resp), nil
}

// Snapshot returns the merged timeline of key as viewerID sees it.
func (c *Client) Snapshot(ctx context.Context, key thread.Key, viewerID string) ([]thread.Entry, error) {
	resp, err := c.invoke(ctx, api.MethodSnapshot, api.Request(map[string]string{
		api.FieldKey: string(key), api.FieldViewerID: viewerID,
	}, 0))
	if err != nil {
		return nil, err
	}
	return api.DecodeEntries(resp), nil
}

// MarkRead marks key as read by viewerID and returns how many messages
// transitioned.
func (c *Client) MarkRead(ctx context.Context, key thread.Key, viewerID string) (int64, error) {
	resp, err := c.invoke(ctx, api.MethodMarkRead, api.Request(map[string]string{
		api.FieldKey: string(key), api.FieldViewerID: viewerID,
	}, 0))
	if err != nil {
		return 0, err
	}
	return int64(resp.GetFields()[api.FieldMarked].GetNumberValue()), nil
}

func (c *Client) ListConversations(ctx context.Context, userID string, limit int) (api.Inbox, error) {
	resp, err := c.invoke(ctx, api.MethodListConversations, api.Request(map[string]string{
		api.FieldUserID: userID,
	}, limit))
	if err != nil {
		return api.Inbox{}, err
	}
	return api.DecodeInbox(resp), nil
}

func (c *Client) ListNotifications(ctx context.Context, userID string, limit int) ([]thread.Notification, error) {
	resp, err := c.invoke(ctx, api.MethodListNotifications, api.Request(map[string]string{
		api.FieldUserID: userID,
	}, limit))
	if err != nil {
		return nil, err
	}
	return api.DecodeNotifications(resp), nil
}

// Watch calls fn with every entry of key, first those already stored
// (phase api.PhaseSnapshot) and then new ones (api.PhaseLive), interleaved
// with subscription state frames (api.PhaseStatus), until ctx is done, the
// server ends the stream, or fn returns an error.
func (c *Client) Watch(ctx context.Context, key thread.Key, viewerID string, fn func(api.WatchFrame) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, api.WatchStreamDesc, api.FullMethod(api.MethodWatch))
	if err != nil {
		return err
	}
	req := api.Request(map[string]string{api.FieldKey: string(key), api.FieldViewerID: viewerID}, 0)
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(api.DecodeFrame(msg)); err != nil {
			return err
		}
	}
}

// WatchNotifications calls fn with every notification stored for userID
// after the stream opens.
func (c *Client) WatchNotifications(ctx context.Context, userID string, fn func(thread.Notification) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, api.WatchNotificationsStreamDesc, api.FullMethod(api.MethodWatchNotifications))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(api.Request(map[string]string{api.FieldUserID: userID}, 0)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(api.DecodeNotification(msg)); err != nil {
			return err
		}
	}
}
