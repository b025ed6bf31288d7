package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// frameServer is what the hand-rolled service descriptor dispatches to.
// Implemented by *RPC.
type frameServer interface {
	deliver(ctx context.Context, f rawFrame) (rawFrame, error)
}

// sendHandler adapts the generated-stub shape gRPC expects (method,
// decode func, interceptor chain) to frameServer.deliver. Written by hand
// because vtrt has no .proto file and no protoc-gen-go step; there is
// nothing here for generated stubs to add.
func sendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req rawFrame
	if err := dec(&req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(frameServer).deliver(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Send"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(frameServer).deliver(ctx, req.(rawFrame))
	}
	return interceptor(ctx, req, info, handler)
}

const serviceName = "/vtrt.transport.Frame"

// desc is the hand-written equivalent of what protoc-gen-go-grpc would
// have produced for a one-method "Frame" service with a single unary RPC.
var desc = grpc.ServiceDesc{
	ServiceName: "vtrt.transport.Frame",
	HandlerType: (*frameServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: sendHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vtrt/transport/rpc/frame.proto",
}
