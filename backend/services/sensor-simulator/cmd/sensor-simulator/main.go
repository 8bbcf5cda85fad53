package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"batterymon/backend/libs/logging"
	libmqtt "batterymon/backend/libs/mqtt"
	"batterymon/backend/services/sensor-simulator/internal/config"
	"batterymon/backend/services/sensor-simulator/internal/simulator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger("sensor-simulator")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := logging.BridgeMQTT(logger); err != nil {
		logger.Warn("mqtt client logging not bridged", zap.Error(err))
	}

	gen := simulator.NewGenerator(cfg.Ranges(), uint64(time.Now().UnixNano()))
	pub := simulator.NewPublisher(libmqtt.NewPahoDialer(cfg.MQTT, logger), cfg.MQTT, cfg.Interval, cfg.ConnectRetries, gen, logger)

	if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("simulator stopped with error", zap.Error(err))
	}
	logger.Info("simulator stopped")
}
