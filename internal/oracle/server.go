package oracle

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service
// serviceDesc describes the oracle service without generated stubs: both
// request and response travel as google.protobuf.Struct.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "citynav.oracle.v1.Oracle",
	HandlerType: (*Oracle)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: decideHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "citynav/oracle/v1/oracle.proto",
}

// RegisterOracleServer exposes o as a gRPC oracle service on s, so any
// decision-maker can be hosted out of process and reached with NewRemote.
func RegisterOracleServer(s grpc.ServiceRegistrar, o Oracle) {
	s.RegisterService(&serviceDesc, o)
}

func decideHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	o := srv.(Oracle)
	if interceptor == nil {
		return serveDecide(ctx, o, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: decideMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return serveDecide(ctx, o, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func serveDecide(ctx context.Context, o Oracle, in *structpb.Struct) (*structpb.Struct, error) {
	var w wireRequest
	if err := fromStruct(in, &w); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	d, err := o.Decide(ctx, w.request())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "decide: %v", err)
	}
	resp := wireDecision{
		Stop:                   d.Stop,
		Action:                 Letter(d.Action),
		Score:                  d.Score,
		Thought:                d.Thought,
		Observation:            d.Observation,
		PerspectiveObservation: d.PerspectiveObservation,
	}
	out, err := toStruct(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode decision: %v", err)
	}
	return out, nil
}

// #endregion service
