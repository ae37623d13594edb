package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the service reported by the gRPC health endpoint.
const HealthServiceName = "private-notes"

// GrpcServer serves grpc.health.v1 so Consul and orchestrators can probe
// the process without a bearer token.
type GrpcServer struct {
	Addr         string
	grpcServer   *grpc.Server
	healthServer *health.Server
	logger       *zap.Logger
}

func NewGrpcServer(port int, logger *zap.Logger) *GrpcServer {
	g := &GrpcServer{
		Addr:         fmt.Sprintf(":%d", port),
		grpcServer:   grpc.NewServer(),
		healthServer: health.NewServer(),
		logger:       logger,
	}
	grpc_health_v1.RegisterHealthServer(g.grpcServer, g.healthServer)
	g.healthServer.SetServingStatus(HealthServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return g
}

func (g *GrpcServer) Run(ctx context.Context) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", g.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", g.Addr, err)
	}
	return g.Serve(lis)
}

// Serve marks the service SERVING and blocks until End is called.
func (g *GrpcServer) Serve(lis net.Listener) error {
	g.SetServing(true)
	g.logger.Info("gRPC health server running", zap.String("addr", lis.Addr().String()))
	if err := g.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		g.SetServing(false)
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

func (g *GrpcServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	g.healthServer.SetServingStatus(HealthServiceName, status)
	g.healthServer.SetServingStatus("", status)
}

func (g *GrpcServer) End(ctx context.Context) error {
	g.logger.Info("stopping gRPC server")
	g.healthServer.Shutdown()

	done := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
	return nil
}
