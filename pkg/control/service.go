package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "hsu.startup.v1.StartupService"

// startupServiceServer is the server side of StartupService. Payloads are the
// JSON form of the domain DTOs carried in well-known protobuf types.
type startupServiceServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ComputeStartupPlan(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ApplyStartupPlan(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ApplyStartup(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	RecomputeLoadOrder(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetUnitPolicy(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	GetProfile(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetGroup(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	RemoveGroup(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

var startupServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*startupServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Status", startupServiceServer.Status),
		unaryMethod("ComputeStartupPlan", startupServiceServer.ComputeStartupPlan),
		unaryMethod("ApplyStartupPlan", startupServiceServer.ApplyStartupPlan),
		unaryMethod("ApplyStartup", startupServiceServer.ApplyStartup),
		unaryMethod("RecomputeLoadOrder", startupServiceServer.RecomputeLoadOrder),
		unaryMethod("SetUnitPolicy", startupServiceServer.SetUnitPolicy),
		unaryMethod("GetProfile", startupServiceServer.GetProfile),
		unaryMethod("SetGroup", startupServiceServer.SetGroup),
		unaryMethod("RemoveGroup", startupServiceServer.RemoveGroup),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/proto/startup.proto",
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

func unaryMethod[Req any, Resp any](name string, call func(startupServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(startupServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(server, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
