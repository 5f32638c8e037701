package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/umeshshetty/peoples-agent/internal/app"
	"github.com/umeshshetty/peoples-agent/internal/config"
	"github.com/umeshshetty/peoples-agent/internal/logging"
	"github.com/umeshshetty/peoples-agent/internal/server"
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
	workers := flag.Bool("workers", true, "run synthesis workers in this process")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
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

	background := make(chan struct{})
	go func() {
		defer close(background)
		if *workers {
			a.Brain.Run(ctx)
			return
		}
		a.Brain.Review.RunDueScan(ctx, cfg.Review.ScanInterval.Std())
	}()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.NewServer(a.Brain, a.Metrics, logger).SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port), zap.Bool("workers", *workers))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	<-background
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("failed to close backends", zap.Error(err))
	}
}
