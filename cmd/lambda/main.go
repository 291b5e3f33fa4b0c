package main

import (
	"context"
	"log/slog"
	"os"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	adapterlogger "admin-console/internal/adapters/logger"
	"admin-console/internal/config"
	"admin-console/internal/platform/app"
	"admin-console/internal/platform/lambda"
)

func main() {
	ctx := context.Background()
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
	// Idle sessions are swept for the lifetime of the execution environment.
	go console.Run(ctx)

	awslambda.Start(lambda.NewHandler(console.Echo, os.Getenv("API_STAGE")))
}
