package app

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"go.uber.org/zap"

	libmqtt "batterymon/backend/libs/mqtt"
	"batterymon/backend/services/dplog-consumer/internal/config"
	"batterymon/backend/services/dplog-consumer/internal/consumer"
	"batterymon/backend/services/dplog-consumer/internal/db"
	httpserver "batterymon/backend/services/dplog-consumer/internal/http"
	"batterymon/backend/services/dplog-consumer/internal/repository"
)

// App wires dp log consumer dependencies.
type App struct {
	server   *httpserver.Server
	consumer *consumer.Consumer
	db       *sql.DB
	logger   *zap.Logger
}

// New constructs application components.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.NewPostgres(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	c := consumer.NewConsumer(
		libmqtt.NewPahoDialer(cfg.MQTT, logger),
		cfg.MQTT,
		repository.NewDPLogRepository(sqlDB),
		cfg.Database.Timeout(),
		logger.Named("consumer"),
	)

	server := httpserver.NewServer(cfg.HTTPAddress(), httpserver.NewRouter(c), logger)

	return &App{
		server:   server,
		consumer: c,
		db:       sqlDB,
		logger:   logger,
	}, nil
}

// Run consumes messages and serves health checks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("consumer stopped", zap.Error(err))
		}
	}()

	err := a.server.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
