package server

import (
	"context"
	"fmt"

	capi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// ServiceRegistry is the slice of the Consul agent API the registration
// needs.
type ServiceRegistry interface {
	ServiceRegister(reg *capi.AgentServiceRegistration) error
	ServiceDeregister(serviceID string) error
}

type RegisterServer struct {
	ServiceID   string
	ServiceName string
	Addr        string
	HTTPPort    int
	GRPCPort    int
	agent       ServiceRegistry
	logger      *zap.Logger
}

func NewRegisterServer(serviceID, serviceName, addr string, httpPort, grpcPort int, logger *zap.Logger) (*RegisterServer, error) {
	client, err := capi.NewClient(capi.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return newRegisterServer(serviceID, serviceName, addr, httpPort, grpcPort, client.Agent(), logger), nil
}

func newRegisterServer(serviceID, serviceName, addr string, httpPort, grpcPort int, agent ServiceRegistry, logger *zap.Logger) *RegisterServer {
	return &RegisterServer{
		ServiceID:   serviceID,
		ServiceName: serviceName,
		Addr:        addr,
		HTTPPort:    httpPort,
		GRPCPort:    grpcPort,
		agent:       agent,
		logger:      logger,
	}
}

// Registration describes the service with a gRPC health check when the
// health server runs, and an HTTP check on /health otherwise.
func (r *RegisterServer) Registration() *capi.AgentServiceRegistration {
	check := &capi.AgentServiceCheck{
		Interval:                       "10s",
		Timeout:                        "1s",
		DeregisterCriticalServiceAfter: "1m",
	}
	if r.GRPCPort > 0 {
		check.GRPC = fmt.Sprintf("%s:%d/%s", r.Addr, r.GRPCPort, HealthServiceName)
	} else {
		check.HTTP = fmt.Sprintf("http://%s:%d/health", r.Addr, r.HTTPPort)
	}
	return &capi.AgentServiceRegistration{
		ID:      r.ServiceID,
		Name:    r.ServiceName,
		Address: r.Addr,
		Port:    r.HTTPPort,
		Tags:    []string{"http", "notes"},
		Check:   check,
	}
}

// Run registers the service and then waits for shutdown.
func (r *RegisterServer) Run(ctx context.Context) error {
	if err := r.agent.ServiceRegister(r.Registration()); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	r.logger.Info("registered in Consul", zap.String("service_id", r.ServiceID))
	<-ctx.Done()
	return nil
}

func (r *RegisterServer) End(ctx context.Context) error {
	if err := r.agent.ServiceDeregister(r.ServiceID); err != nil {
		r.logger.Warn("failed to deregister", zap.String("service_id", r.ServiceID), zap.Error(err))
		return nil
	}
	r.logger.Info("deregistered from Consul", zap.String("service_id", r.ServiceID))
	return nil
}
