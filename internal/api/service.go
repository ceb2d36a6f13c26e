package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "leakscope.v1.RiskScanner"

// Method names of the RiskScanner service.
const (
	MethodScanRepository = "ScanRepository"
	MethodAssessCommit   = "AssessCommit"
	MethodTrainModel     = "TrainModel"
	MethodGetModel       = "GetModel"
	MethodGetSummary     = "GetSummary"
	MethodSubmitFeedback = "SubmitFeedback"
	MethodHealthCheck    = "HealthCheck"
)

// RiskScannerServer is the server API. Requests and replies are JSON-shaped
// structpb.Struct documents; the shapes are the types in handlers.go.
type RiskScannerServer interface {
	ScanRepository(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AssessCommit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TrainModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSummary(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitFeedback(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(RiskScannerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// methodHandler has the shape grpc.MethodDesc.Handler expects.
type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unaryHandler(name string, call unaryMethod) methodHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RiskScannerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RiskScannerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RiskScannerServiceDesc describes the service for grpc.ServiceRegistrar.
var RiskScannerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RiskScannerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodScanRepository, Handler: unaryHandler(MethodScanRepository, RiskScannerServer.ScanRepository)},
		{MethodName: MethodAssessCommit, Handler: unaryHandler(MethodAssessCommit, RiskScannerServer.AssessCommit)},
		{MethodName: MethodTrainModel, Handler: unaryHandler(MethodTrainModel, RiskScannerServer.TrainModel)},
		{MethodName: MethodGetModel, Handler: unaryHandler(MethodGetModel, RiskScannerServer.GetModel)},
		{MethodName: MethodGetSummary, Handler: unaryHandler(MethodGetSummary, RiskScannerServer.GetSummary)},
		{MethodName: MethodSubmitFeedback, Handler: unaryHandler(MethodSubmitFeedback, RiskScannerServer.SubmitFeedback)},
		{MethodName: MethodHealthCheck, Handler: unaryHandler(MethodHealthCheck, RiskScannerServer.HealthCheck)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "leakscope/v1/risk_scanner",
}

// RegisterRiskScannerServer registers srv on s.
func RegisterRiskScannerServer(s grpc.ServiceRegistrar, srv RiskScannerServer) {
	s.RegisterService(&RiskScannerServiceDesc, srv)
}

// RiskScannerClient calls the service over a client connection.
type RiskScannerClient struct {
	cc grpc.ClientConnInterface
}

// NewRiskScannerClient wraps cc.
func NewRiskScannerClient(cc grpc.ClientConnInterface) *RiskScannerClient {
	return &RiskScannerClient{cc: cc}
}

// Call invokes method with in. A nil in sends an empty document.
func (c *RiskScannerClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
