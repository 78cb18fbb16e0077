package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/dynamicpb"
)

func enableIndicationHandler(srv any, stream grpc.ServerStream) error {
	request := dynamicpb.NewMessage(emptyDescriptor)
	if err := stream.RecvMsg(request); err != nil {
		return err
	}
	return srv.(openoltServer).enableIndication(request, stream)
}

func onuPacketOutHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := dynamicpb.NewMessage(onuPacketDescriptor)
	if err := dec(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(openoltServer).onuPacketOut(ctx, request)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: onuPacketOutMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(openoltServer).onuPacketOut(ctx, req.(*dynamicpb.Message))
	}
	return interceptor(ctx, request, info, handler)
}

func uplinkPacketOutHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := dynamicpb.NewMessage(uplinkPacketDescriptor)
	if err := dec(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(openoltServer).uplinkPacketOut(ctx, request)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: uplinkPacketOutMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(openoltServer).uplinkPacketOut(ctx, req.(*dynamicpb.Message))
	}
	return interceptor(ctx, request, info, handler)
}

// Service description of the openolt methods implemented by the
// simulator.
var openoltServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*openoltServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "OnuPacketOut",
			Handler:    onuPacketOutHandler,
		},
		{
			MethodName: "UplinkPacketOut",
			Handler:    uplinkPacketOutHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "EnableIndication",
			Handler:       enableIndicationHandler,
			ServerStreams: true,
		},
	},
	Metadata: "voltha_protos/openolt.proto",
}
