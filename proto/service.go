package proto

// Hand-written gRPC service for the simulation envelopes. Messages travel as
// JSON: JSONCodec is registered under "json" and the client forces it, so
// calls carry the json content-subtype and the server picks the codec per
// call. Other services on the same server (reflection) keep protobuf.

import (
	"bytes"
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"backtest-sandbox/services/engine"
)

const (
	SimulationServiceName  = "sandbox.v1.SimulationService"
	SimulateFullMethodName = "/" + SimulationServiceName + "/Simulate"
)

// JSONCodec marshals gRPC messages with encoding/json.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return Decode(bytes.NewReader(data), v) }

func (JSONCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

type SimulationServiceServer interface {
	Simulate(context.Context, *SimulateRequest) (*SimulateResponse, error)
}

type UnimplementedSimulationServiceServer struct{}

func (UnimplementedSimulationServiceServer) Simulate(context.Context, *SimulateRequest) (*SimulateResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Simulate not implemented")
}

func RegisterSimulationServiceServer(s grpc.ServiceRegistrar, srv SimulationServiceServer) {
	s.RegisterService(&SimulationService_ServiceDesc, srv)
}

func _SimulationService_Simulate_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SimulateRequest)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, status.Convert(err).Message())
	}
	if interceptor == nil {
		return srv.(SimulationServiceServer).Simulate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SimulateFullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SimulationServiceServer).Simulate(ctx, req.(*SimulateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var SimulationService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: SimulationServiceName,
	HandlerType: (*SimulationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Simulate",
			Handler:    _SimulationService_Simulate_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sandbox/v1/simulation.proto",
}

type SimulationServiceClient interface {
	Simulate(ctx context.Context, in *SimulateRequest, opts ...grpc.CallOption) (*SimulateResponse, error)
}

type simulationServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSimulationServiceClient(cc grpc.ClientConnInterface) SimulationServiceClient {
	return &simulationServiceClient{cc}
}

func (c *simulationServiceClient) Simulate(ctx context.Context, in *SimulateRequest, opts ...grpc.CallOption) (*SimulateResponse, error) {
	out := new(SimulateResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(JSONCodec{})}, opts...)
	if err := c.cc.Invoke(ctx, SimulateFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusError maps the error taxonomy onto gRPC status codes.
func StatusError(err error) error {
	if err == nil {
		return nil
	}
	apiErr := engine.ToAPIError(err)
	code := codes.Internal
	switch apiErr.Code {
	case engine.ErrCodeConfig.Code, engine.ErrCodeUnknownSignal.Code, engine.ErrCodeInvalidRequest.Code:
		code = codes.InvalidArgument
	case engine.ErrCodeMissingSignal.Code:
		code = codes.FailedPrecondition
	}
	return status.Error(code, apiErr.Error())
}
