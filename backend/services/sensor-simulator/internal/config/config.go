package config

import (
	"fmt"
	"strings"
	"time"

	libconfig "batterymon/backend/libs/config"
	libmqtt "batterymon/backend/libs/mqtt"
)

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func (r Range) validate(name string) error {
	if r.Min > r.Max {
		return fmt.Errorf("config: %s min %.3f > max %.3f", name, r.Min, r.Max)
	}
	return nil
}

// Config defines simulator configuration.
type Config struct {
	MQTT           libmqtt.Config `yaml:"mqtt"`
	Interval       time.Duration  `yaml:"interval" env:"SIM_INTERVAL"`
	ConnectRetries uint64         `yaml:"connectRetries" env:"SIM_CONNECT_RETRIES"`
	ClientID       string         `yaml:"-" env:"SIM_MQTT_CLIENT_ID"`

	Gravity struct {
		Min float64 `yaml:"min" env:"SIM_SG_MIN"`
		Max float64 `yaml:"max" env:"SIM_SG_MAX"`
	} `yaml:"gravity"`
	Level struct {
		Min float64 `yaml:"min" env:"SIM_LEVEL_MIN"`
		Max float64 `yaml:"max" env:"SIM_LEVEL_MAX"`
	} `yaml:"level"`
	Pressure struct {
		Min float64 `yaml:"min" env:"SIM_DP_MIN"`
		Max float64 `yaml:"max" env:"SIM_DP_MAX"`
	} `yaml:"pressure"`
	Samples struct {
		Min float64 `yaml:"min" env:"SIM_SAMPLES_MIN"`
		Max float64 `yaml:"max" env:"SIM_SAMPLES_MAX"`
	} `yaml:"samples"`
}

// Load configuration from file/env.
func Load() (*Config, error) {
	cfg := &Config{
		MQTT:           libmqtt.DefaultConfig("stm_simulator"),
		Interval:       5 * time.Second,
		ConnectRetries: 10,
	}
	cfg.Gravity.Min, cfg.Gravity.Max = 1.10, 1.30
	cfg.Level.Min, cfg.Level.Max = 0, 100
	cfg.Pressure.Min, cfg.Pressure.Max = 45, 50
	cfg.Samples.Min, cfg.Samples.Max = 5, 15

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if id := strings.TrimSpace(cfg.ClientID); id != "" {
		cfg.MQTT.ClientID = id
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and interval.
func (c *Config) Validate() error {
	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("config: interval must be positive")
	}
	for name, r := range c.Ranges() {
		if err := r.validate(name); err != nil {
			return err
		}
	}
	return nil
}

// Ranges returns the value ranges keyed by payload field.
func (c *Config) Ranges() map[string]Range {
	return map[string]Range{
		"sg":      {Min: c.Gravity.Min, Max: c.Gravity.Max},
		"level":   {Min: c.Level.Min, Max: c.Level.Max},
		"dp_pa":   {Min: c.Pressure.Min, Max: c.Pressure.Max},
		"samples": {Min: c.Samples.Min, Max: c.Samples.Max},
	}
}
