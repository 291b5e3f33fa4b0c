package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adapterlogger "admin-console/internal/adapters/logger"
	"admin-console/internal/config"
	"admin-console/internal/platform/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		adapterlogger.New("admin-console", slog.LevelInfo).Error(ctx, "configuration error", "error", err)
		os.Exit(1)
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		adapterlogger.New("admin-console", slog.LevelInfo).Error(ctx, "configuration error", "error", err)
		os.Exit(1)
	}

	console, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "failed to build console", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := console.Close(); err != nil {
			logger.Warn(context.Background(), "shutdown", "error", err)
		}
	}()
	go console.Run(ctx)

	go func() {
		logger.Info(ctx, "starting http server", "port", cfg.Port, "store", cfg.StoreBackend, "auth_mode", cfg.AuthMode)
		if err := console.Echo.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := console.Echo.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "graceful shutdown failed", "error", err)
	}
}
