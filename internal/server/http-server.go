package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type HTTPServer struct {
	Addr   string
	srv    *http.Server
	logger *zap.Logger
}

func NewHTTPServer(port int, handler http.Handler, logger *zap.Logger) *HTTPServer {
	addr := fmt.Sprintf(":%d", port)
	return &HTTPServer{
		Addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ErrorLog:          zap.NewStdLog(logger),
		},
		logger: logger,
	}
}

func (s *HTTPServer) Run(ctx context.Context) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("http listen on %s: %w", s.Addr, err)
	}
	return s.Serve(lis)
}

func (s *HTTPServer) Serve(lis net.Listener) error {
	s.logger.Info("HTTP server running", zap.String("addr", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

func (s *HTTPServer) End(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.srv.Shutdown(ctx)
}
