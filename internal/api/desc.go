package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "agora.v1.ConversationService"

// Method names, as used in full method paths "/<ServiceName>/<Method>".
const (
	MethodSend               = "Send"
	MethodSnapshot           = "Snapshot"
	MethodMarkRead           = "MarkRead"
	MethodListConversations  = "ListConversations"
	MethodListNotifications  = "ListNotifications"
	MethodWatch              = "Watch"
	MethodWatchNotifications = "WatchNotifications"
)

// FullMethod returns the path a client invokes for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ConversationServer is the server API. Every message is a
// google.protobuf.Struct; field names are documented in codec.go.
type ConversationServer interface {
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Snapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListNotifications(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
	WatchNotifications(*structpb.Struct, grpc.ServerStream) error
}

// ServiceDesc describes ConversationService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodSend, ConversationServer.Send),
		unary(MethodSnapshot, ConversationServer.Snapshot),
		unary(MethodMarkRead, ConversationServer.MarkRead),
		unary(MethodListConversations, ConversationServer.ListConversations),
		unary(MethodListNotifications, ConversationServer.ListNotifications),
	},
	Streams: []grpc.StreamDesc{
		serverStream(MethodWatch, ConversationServer.Watch),
		serverStream(MethodWatchNotifications, ConversationServer.WatchNotifications),
	},
	Metadata: "agora/v1/conversation.proto",
}

// Client-side descriptors of the server streams.
var (
	WatchStreamDesc              = &ServiceDesc.Streams[0]
	WatchNotificationsStreamDesc = &ServiceDesc.Streams[1]
)

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv ConversationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryCall func(ConversationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ConversationServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

type streamCall func(ConversationServer, *structpb.Struct, grpc.ServerStream) error

func serverStream(name string, call streamCall) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName: name,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(ConversationServer), in, stream)
		},
		ServerStreams: true,
	}
}
