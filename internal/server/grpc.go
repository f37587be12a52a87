package server

import (
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Admin is the gRPC endpoint used by probes and grpcurl. It carries the
// standard health service plus reflection; no business RPCs live here.
type Admin struct {
	srv    *grpc.Server
	health *health.Server
	log    *zap.Logger
}

func NewAdmin(log *zap.Logger) *Admin {
	if log == nil {
		log = zap.NewNop()
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(srv)
	return &Admin{srv: srv, health: hs, log: log}
}

// Serve blocks on the listener until GracefulStop.
func (a *Admin) Serve(lis net.Listener) error {
	a.log.Info("grpc admin serving", zap.String("addr", lis.Addr().String()))
	return a.srv.Serve(lis)
}

// SetServing flips the health status reported to probes.
func (a *Admin) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	a.health.SetServingStatus("", status)
}

// GracefulStop drains in-flight RPCs and stops the server.
func (a *Admin) GracefulStop() {
	a.health.Shutdown()
	a.srv.GracefulStop()
}
