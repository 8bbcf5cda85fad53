package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	defaultPort           = 1883
	defaultKeepAlive      = 60 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultReconnectMin   = time.Second
	defaultReconnectMax   = 30 * time.Second
	defaultOpTimeout      = 10 * time.Second
	disconnectQuiesceMs   = 250
)

// Config describes the broker connection shared by publishers and subscribers.
type Config struct {
	Broker         string        `yaml:"broker" env:"MQTT_BROKER"`
	Port           int           `yaml:"port" env:"MQTT_PORT"`
	Topic          string        `yaml:"topic" env:"MQTT_TOPIC"`
	// ClientID has no shared env key. Each service reads its own so two
	// processes on one broker never present the same id.
	ClientID       string        `yaml:"clientId" env:"-"`
	Username       string        `yaml:"username" env:"MQTT_USERNAME"`
	Password       string        `yaml:"password" env:"MQTT_PASSWORD"`
	QoS            int           `yaml:"qos" env:"MQTT_QOS"`
	KeepAlive      time.Duration `yaml:"keepAlive" env:"MQTT_KEEPALIVE"`
	ConnectTimeout time.Duration `yaml:"connectTimeout" env:"MQTT_CONNECT_TIMEOUT"`
	ReconnectMin   time.Duration `yaml:"reconnectMin" env:"MQTT_RECONNECT_MIN"`
	ReconnectMax   time.Duration `yaml:"reconnectMax" env:"MQTT_RECONNECT_MAX"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig(clientID string) Config {
	return Config{
		Broker:         "mqtt",
		Port:           defaultPort,
		Topic:          "stm/dp",
		ClientID:       clientID,
		KeepAlive:      defaultKeepAlive,
		ConnectTimeout: defaultConnectTimeout,
		ReconnectMin:   defaultReconnectMin,
		ReconnectMax:   defaultReconnectMax,
	}
}

// Validate checks the fields a connection cannot work without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Broker) == "" {
		return errors.New("mqtt: broker is required")
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errors.New("mqtt: topic is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("mqtt: invalid port %d", c.Port)
	}
	if c.QoS < 0 || c.QoS > 2 {
		return fmt.Errorf("mqtt: invalid qos %d", c.QoS)
	}
	if c.ReconnectMin > 0 && c.ReconnectMax > 0 && c.ReconnectMin > c.ReconnectMax {
		return errors.New("mqtt: reconnect min exceeds max")
	}
	return nil
}

// Address returns host:port.
func (c Config) Address() string {
	port := c.Port
	if port <= 0 {
		port = defaultPort
	}
	return net.JoinHostPort(c.Broker, strconv.Itoa(port))
}

// BrokerURL returns the tcp:// URL paho expects.
func (c Config) BrokerURL() string {
	return "tcp://" + c.Address()
}

// Handler receives the raw payload of every inbound message.
type Handler func(topic string, payload []byte)

// Session is one established broker connection.
type Session interface {
	Subscribe(topic string, qos byte, handler Handler) error
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	// Lost yields once when the broker connection drops.
	Lost() <-chan error
	Connected() bool
	Close()
}

// Dialer opens broker sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// PahoDialer opens sessions with the Eclipse paho client. Reconnection is left to the caller.
type PahoDialer struct {
	cfg    Config
	logger *zap.Logger
}

// NewPahoDialer returns dialer for the configured broker.
func NewPahoDialer(cfg Config, logger *zap.Logger) *PahoDialer {
	return &PahoDialer{cfg: cfg, logger: logger}
}

// Dial connects to the broker and waits for CONNACK or ctx cancellation.
func (d *PahoDialer) Dial(ctx context.Context) (Session, error) {
	s := &pahoSession{lost: make(chan error, 1)}

	opts := paho.NewClientOptions()
	opts.AddBroker(d.cfg.BrokerURL())
	opts.SetClientID(d.cfg.ClientID)
	if d.cfg.Username != "" {
		opts.SetUsername(d.cfg.Username)
		opts.SetPassword(d.cfg.Password)
	}
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(orDefault(d.cfg.KeepAlive, defaultKeepAlive))
	opts.SetConnectTimeout(orDefault(d.cfg.ConnectTimeout, defaultConnectTimeout))
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.markLost(err)
	})

	client := paho.NewClient(opts)
	if err := waitToken(ctx, client.Connect(), orDefault(d.cfg.ConnectTimeout, defaultConnectTimeout)); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect %s: %w", d.cfg.Address(), err)
	}
	s.client = client

	d.logger.Debug("mqtt session established", zap.String("broker", d.cfg.Address()), zap.String("client_id", d.cfg.ClientID))
	return s, nil
}

type pahoSession struct {
	client paho.Client
	lost   chan error
}

func (s *pahoSession) Subscribe(topic string, qos byte, handler Handler) error {
	token := s.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	return waitToken(context.Background(), token, defaultOpTimeout)
}

func (s *pahoSession) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	return waitToken(ctx, s.client.Publish(topic, qos, false, payload), defaultOpTimeout)
}

func (s *pahoSession) Lost() <-chan error {
	return s.lost
}

func (s *pahoSession) Connected() bool {
	return s.client.IsConnectionOpen()
}

func (s *pahoSession) Close() {
	if s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiesceMs)
	}
}

func (s *pahoSession) markLost(err error) {
	if err == nil {
		err = errors.New("mqtt: connection lost")
	}
	select {
	case s.lost <- err:
	default:
	}
}

func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("mqtt: operation timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
