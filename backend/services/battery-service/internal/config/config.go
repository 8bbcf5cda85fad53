package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "batterymon/backend/libs/config"
	libdb "batterymon/backend/libs/db"
	libmqtt "batterymon/backend/libs/mqtt"
	libredis "batterymon/backend/libs/redis"
)

const (
	defaultHTTPPort     = "5000"
	defaultClientID     = "battery_backend"
	defaultRedisTTL     = 10 * time.Minute
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// HTTPConfig holds REST listener settings.
type HTTPConfig struct {
	Port       string `yaml:"port" env:"BATTERY_HTTP_PORT"`
	CORSOrigin string `yaml:"corsOrigin" env:"BATTERY_CORS_ORIGIN"`
}

// WSConfig holds live viewer socket settings.
type WSConfig struct {
	PingInterval time.Duration `yaml:"pingInterval" env:"BATTERY_WS_PING_INTERVAL"`
	WriteTimeout time.Duration `yaml:"writeTimeout" env:"BATTERY_WS_WRITE_TIMEOUT"`
}

// Config defines battery service configuration.
type Config struct {
	HTTP     HTTPConfig      `yaml:"http"`
	WS       WSConfig        `yaml:"ws"`
	Database libdb.Config    `yaml:"database"`
	MQTT     libmqtt.Config  `yaml:"mqtt"`
	Redis    libredis.Config `yaml:"redis" env:"BATTERY_REDIS"`

	ClientID string `yaml:"-" env:"BATTERY_MQTT_CLIENT_ID"`
}

// Load configuration using shared helper.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{Port: defaultHTTPPort, CORSOrigin: "*"},
		WS: WSConfig{
			PingInterval: defaultPingInterval,
			WriteTimeout: defaultWriteTimeout,
		},
		MQTT:  libmqtt.DefaultConfig(defaultClientID),
		Redis: libredis.Config{TTL: defaultRedisTTL},
	}

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if id := strings.TrimSpace(cfg.ClientID); id != "" {
		cfg.MQTT.ClientID = id
	}

	if cfg.Database.ConnString() == "" {
		return nil, errors.New("config: database dsn or PG_HOST required")
	}
	if err := cfg.MQTT.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = defaultHTTPPort
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
