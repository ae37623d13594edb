package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dovakin0007.com/private-notes/internal/config"
	"dovakin0007.com/private-notes/internal/logging"
	"dovakin0007.com/private-notes/internal/server"
	"go.uber.org/zap"
)

func main() {
	if err := config.LoadEnvFile(); err != nil {
		log.Fatalf("error loading .env, the server hasn't been started: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading configuration: %v", err)
	}

	logger, err := logging.New("private-notes", cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("error building logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.CreateAndStartServer(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server exited")
}
