package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultConnLifetime = time.Hour
	defaultConnIdleTime = 30 * time.Minute
	defaultPingTimeout  = 5 * time.Second

	defaultConnectRetryWindow = 2 * time.Minute
)

// Config describes how to reach Postgres. DSN wins over the individual parts.
type Config struct {
	DSN          string        `yaml:"dsn" env:"POSTGRES_DSN"`
	Host         string        `yaml:"host" env:"PG_HOST"`
	Port         int           `yaml:"port" env:"PG_PORT"`
	Name         string        `yaml:"name" env:"PG_DB"`
	User         string        `yaml:"user" env:"PG_USER"`
	Password     string        `yaml:"password" env:"PG_PASS"`
	SSLMode      string        `yaml:"sslmode" env:"PG_SSLMODE"`
	QueryTimeout time.Duration `yaml:"queryTimeout" env:"PG_QUERY_TIMEOUT"`
}

// ConnString returns the DSN, assembling a postgres:// URL from the parts when DSN is empty.
func (c Config) ConnString() string {
	if dsn := strings.TrimSpace(c.DSN); dsn != "" {
		return dsn
	}
	if strings.TrimSpace(c.Host) == "" {
		return ""
	}

	port := c.Port
	if port <= 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

// Timeout returns the per-query timeout.
func (c Config) Timeout() time.Duration {
	if c.QueryTimeout <= 0 {
		return 5 * time.Second
	}
	return c.QueryTimeout
}

// NewPostgresDB creates a pgx/stdlib backed *sql.DB pool and validates the connection.
func NewPostgresDB(dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: empty DSN")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnLifetime)
	db.SetConnMaxIdleTime(defaultConnIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// ConnectWithRetry keeps calling NewPostgresDB with exponential backoff until the database
// answers, the retry window elapses or ctx is cancelled. Containers often start before Postgres.
func ConnectWithRetry(ctx context.Context, dsn string, logger *zap.Logger) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: empty DSN")
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = defaultConnectRetryWindow

	var sqlDB *sql.DB
	operation := func() error {
		conn, err := NewPostgresDB(dsn)
		if err != nil {
			return err
		}
		sqlDB = conn
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("postgres not ready, retrying", zap.Error(err), zap.Duration("retry_in", next))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	return sqlDB, nil
}
