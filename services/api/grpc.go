package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"backtest-sandbox/proto"
)

// SimulationServer serves proto.SimulationService on top of a Simulator.
type SimulationServer struct {
	proto.UnimplementedSimulationServiceServer
	sim Simulator
}

func NewSimulationServer(sim Simulator) *SimulationServer {
	return &SimulationServer{sim: sim}
}

func (s *SimulationServer) Simulate(ctx context.Context, req *proto.SimulateRequest) (*proto.SimulateResponse, error) {
	resp, err := s.sim.Simulate(ctx, req)
	if err != nil {
		return nil, proto.StatusError(err)
	}
	return resp, nil
}

// NewGRPCServer returns a server exposing SimulationService and reflection.
// Requests carry the json content-subtype per call, so the server keeps the
// default codec for everything else and reflection stays on protobuf.
func NewGRPCServer(sim Simulator, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	proto.RegisterSimulationServiceServer(s, NewSimulationServer(sim))
	reflection.Register(s)
	return s
}
