package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mediaforge/assetstore/pkg/assetstore/config"
)

func main() {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.Environment)
	slog.SetDefault(logger)

	svc, err := cfg.BuildService(logger)
	if err != nil {
		logger.Error("failed to build storage service", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, closeStore, err := cfg.BuildStore(ctx)
	if err != nil {
		logger.Error("failed to build asset store", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	orch, err := cfg.BuildPipeline(svc, store, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}
	orch.Start()

	server := NewHTTPServer(cfg, svc, store, orch, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: server.Routes(),
	}

	go func() {
		logger.Info("asset store server starting",
			"port", cfg.Server.Port,
			"environment", cfg.Server.Environment,
			"primary_backend", svc.PrimaryBackend())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown failed", "err", err)
	}
	logger.Info("server exited")
}

func newLogger(environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
