package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"batterymon/backend/libs/logging"
	"batterymon/backend/services/battery-service/internal/app"
	"batterymon/backend/services/battery-service/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger("battery-service")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := logging.BridgeMQTT(logger); err != nil {
		logger.Warn("mqtt client logging not bridged", zap.Error(err))
	}

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to init application", zap.Error(err))
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("application stopped with error", zap.Error(err))
	}
}
