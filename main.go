package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/asistia/asistia/pkg/config"
	"github.com/asistia/asistia/pkg/utils"
)

func main() {
	// Local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	utils.InitLogger()
	logger := utils.GetLogger()

	if _, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("could not write default config", "error", err)
	}

	cfg, path, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "path", path, "error", err)
		os.Exit(1)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	server.Shutdown()
	logger.Info("server stopped")
}
