package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libmqtt "batterymon/backend/libs/mqtt"
	libredis "batterymon/backend/libs/redis"
	"batterymon/backend/services/battery-service/internal/config"
	"batterymon/backend/services/battery-service/internal/db"
	httpserver "batterymon/backend/services/battery-service/internal/http"
	"batterymon/backend/services/battery-service/internal/http/handlers"
	"batterymon/backend/services/battery-service/internal/http/middleware"
	"batterymon/backend/services/battery-service/internal/ingest"
	redisstore "batterymon/backend/services/battery-service/internal/redis"
	"batterymon/backend/services/battery-service/internal/repository"
	"batterymon/backend/services/battery-service/internal/service"
	"batterymon/backend/services/battery-service/internal/ws"
)

const serviceName = "battery-service"

// App wires battery service dependencies.
type App struct {
	server      *httpserver.Server
	bridge      *ingest.Bridge
	hub         *ws.Hub
	guard       *service.SchemaGuard
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs application components.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.NewPostgres(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	var (
		redisClient *redis.Client
		latest      *redisstore.LatestStore
	)
	if cfg.Redis.Enabled() {
		redisClient, err = libredis.NewRedisClient(cfg.Redis)
		if err != nil {
			sqlDB.Close()
			return nil, err
		}
		latest = redisstore.NewLatestStore(redisClient, cfg.Redis.TTL)
	}

	cache := service.NewReadingCache()
	hub := ws.NewHub(cache, logger.Named("ws"))

	schemaRepo := repository.NewSchemaRepository(sqlDB)
	guard := service.NewSchemaGuard(schemaRepo, cfg.Database.Timeout(), logger)
	snapshots := service.NewSnapshotService(
		repository.NewSnapshotRepository(sqlDB),
		cache,
		guard,
		cfg.Database.Timeout(),
		logger,
	)

	var (
		bridgeOpts []ingest.Option
		mirror     handlers.LatestMirror
	)
	if latest != nil {
		bridgeOpts = append(bridgeOpts, ingest.WithMirror(latest, 0))
		mirror = latest
	}
	bridge := ingest.NewBridge(libmqtt.NewPahoDialer(cfg.MQTT, logger), cfg.MQTT, cache, hub, logger.Named("ingest"), bridgeOpts...)

	snapshotHandlers := handlers.NewSnapshotHandlers(snapshots, logger)

	routes := httpserver.Routes{
		DPLog:         handlers.NewDPLogHandler(repository.NewDPLogRepository(sqlDB), logger),
		SaveSnapshot:  http.HandlerFunc(snapshotHandlers.Save),
		ListSnapshots: http.HandlerFunc(snapshotHandlers.List),
		MQTTHealth:    handlers.NewMQTTHealthHandler(bridge, cache, hub, mirror, logger),
		Health:        handlers.NewHealthHandler(serviceName),
		Viewers:       http.HandlerFunc(ws.NewServer(hub, cfg.WS.PingInterval, cfg.WS.WriteTimeout, logger.Named("ws")).HandleWS),
	}

	router := httpserver.NewRouter(routes, middleware.Recover(logger), middleware.CORS(cfg.HTTP.CORSOrigin))
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:      server,
		bridge:      bridge,
		hub:         hub,
		guard:       guard,
		db:          sqlDB,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Run provisions schema, starts ingestion and the viewer hub, and serves HTTP until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.guard.Ensure(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := a.bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("ingestion stopped", zap.Error(err))
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
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
