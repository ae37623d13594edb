package server

import (
	"context"
	"fmt"
	"time"

	"dovakin0007.com/private-notes/internal/auth"
	"dovakin0007.com/private-notes/internal/config"
	"dovakin0007.com/private-notes/internal/database"
	"dovakin0007.com/private-notes/internal/metrics"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// Server is one long-running part of the process. Run blocks until the
// part stops or ctx is cancelled; End stops it.
type Server interface {
	Run(ctx context.Context) error
	End(ctx context.Context) error
}

type servingMarker interface {
	SetServing(serving bool)
}

// RunAll runs every server until ctx is cancelled or one of them fails,
// then ends them in reverse order. Health is marked NOT_SERVING before
// anything is stopped.
func RunAll(ctx context.Context, logger *zap.Logger, servers ...Server) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			return s.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		for _, s := range servers {
			if m, ok := s.(servingMarker); ok {
				m.SetServing(false)
			}
		}
		var result *multierror.Error
		for i := len(servers) - 1; i >= 0; i-- {
			if err := servers[i].End(shutdownCtx); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	})
	return g.Wait()
}

// CreateAndStartServer wires the API from cfg and serves it until ctx is
// cancelled.
func CreateAndStartServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	factory, err := database.NewFactory(ctx, database.Config{
		URL:     cfg.Datastore.URL,
		AnonKey: cfg.Datastore.AnonKey,
		Migrate: cfg.Datastore.Migrate,
		Timeout: cfg.HTTP.ClientTimeout,
	}, logger.Named("database"))
	if err != nil {
		return fmt.Errorf("datastore: %w", err)
	}
	defer factory.Close()

	if cfg.Auth.URL == "" || cfg.Auth.AnonKey == "" {
		logger.Warn("AUTH_URL or AUTH_ANON_KEY is missing; protected routes will answer 500")
	}
	validator := auth.NewProviderValidator(auth.ProviderConfig{
		URL:     cfg.Auth.URL,
		AnonKey: cfg.Auth.AnonKey,
		Timeout: cfg.HTTP.ClientTimeout,
	})

	handler := NewHandler(HandlerOptions{
		Factory:        factory,
		Validator:      validator,
		Metrics:        metrics.New(),
		Logger:         logger.Named("http"),
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	servers := []Server{NewHTTPServer(cfg.HTTP.Port, handler, logger.Named("http"))}
	if cfg.GRPC.Port > 0 {
		servers = append(servers, NewGrpcServer(cfg.GRPC.Port, logger.Named("grpc")))
	}
	if cfg.Consul.Enabled {
		reg, err := NewRegisterServer(cfg.Consul.ServiceID, cfg.Consul.ServiceName, cfg.Consul.Address,
			cfg.HTTP.Port, cfg.GRPC.Port, logger.Named("consul"))
		if err != nil {
			return err
		}
		servers = append(servers, reg)
	}

	return RunAll(ctx, logger, servers...)
}
