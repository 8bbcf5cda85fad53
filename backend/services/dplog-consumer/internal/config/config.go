package config

import (
	"errors"
	"fmt"
	"strings"

	libconfig "batterymon/backend/libs/config"
	libdb "batterymon/backend/libs/db"
	libmqtt "batterymon/backend/libs/mqtt"
)

const (
	defaultHTTPPort = "8085"
	defaultClientID = "dplog_consumer"
)

// Config defines dp log consumer configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"DPLOG_HTTP_PORT"`
	} `yaml:"http"`
	Database libdb.Config   `yaml:"database"`
	MQTT     libmqtt.Config `yaml:"mqtt"`

	ClientID string `yaml:"-" env:"DPLOG_MQTT_CLIENT_ID"`
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := &Config{MQTT: libmqtt.DefaultConfig(defaultClientID)}
	cfg.HTTP.Port = defaultHTTPPort

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

// HTTPAddress returns :port style string.
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
