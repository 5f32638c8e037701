// Command worker consumes the shared synthesis queue so background work can
// scale apart from the API servers.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/app"
	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config/config.toml"
	}
	configPath := flag.String("config", defaultPath, "path to the TOML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Storage.Queue != "redis" {
		log.Fatalf("worker needs storage.queue = redis, got %q", cfg.Storage.Queue)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}

	logger.Info("synthesis worker started", zap.Int("workers", cfg.Synthesis.Workers), zap.String("queue", cfg.Redis.Queue))
	a.Brain.Scheduler.Start(ctx)
	a.Brain.Scheduler.Wait()

	logger.Info("synthesis worker stopped")
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Error("failed to close backends", zap.Error(err))
	}
}
