package messagingrpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "rentchat.messaging.v1.MessagingService"

const (
	SendMessageMethod              = "/" + ServiceName + "/SendMessage"
	GetConversationByListingMethod = "/" + ServiceName + "/GetConversationByListing"
	ListConversationsMethod        = "/" + ServiceName + "/ListConversations"
	MarkMessageReadMethod          = "/" + ServiceName + "/MarkMessageRead"
	MarkConversationReadMethod     = "/" + ServiceName + "/MarkConversationRead"
	UnreadTotalMethod              = "/" + ServiceName + "/UnreadTotal"
)

// MessagingServer is the server API of the messaging service.
type MessagingServer interface {
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	GetConversationByListing(context.Context, *GetConversationByListingRequest) (*ThreadResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	MarkMessageRead(context.Context, *MarkMessageReadRequest) (*MarkMessageReadResponse, error)
	MarkConversationRead(context.Context, *MarkConversationReadRequest) (*MarkConversationReadResponse, error)
	UnreadTotal(context.Context, *UnreadTotalRequest) (*UnreadTotalResponse, error)
}

func RegisterMessagingServer(s grpc.ServiceRegistrar, srv MessagingServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary adapts a typed method to the grpc.MethodDesc handler signature.
func unary[Req any, Resp any](fullMethod string, call func(MessagingServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MessagingServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MessagingServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessagingServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendMessage",
			Handler:    unary(SendMessageMethod, MessagingServer.SendMessage),
		},
		{
			MethodName: "GetConversationByListing",
			Handler:    unary(GetConversationByListingMethod, MessagingServer.GetConversationByListing),
		},
		{
			MethodName: "ListConversations",
			Handler:    unary(ListConversationsMethod, MessagingServer.ListConversations),
		},
		{
			MethodName: "MarkMessageRead",
			Handler:    unary(MarkMessageReadMethod, MessagingServer.MarkMessageRead),
		},
		{
			MethodName: "MarkConversationRead",
			Handler:    unary(MarkConversationReadMethod, MessagingServer.MarkConversationRead),
		},
		{
			MethodName: "UnreadTotal",
			Handler:    unary(UnreadTotalMethod, MessagingServer.UnreadTotal),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rentchat/messaging.v1",
}
