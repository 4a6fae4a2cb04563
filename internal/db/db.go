package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the Postgres connection settings.
type Config struct {
	Host     string `env:"AUTHGUARD_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"AUTHGUARD_PG_PORT" env-default:"5432"`
	Database string `env:"AUTHGUARD_PG_DATABASE" env-default:"authguard_db"`
	User     string `env:"AUTHGUARD_PG_USER" env-default:"authguard"`
	Password string `env:"AUTHGUARD_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"AUTHGUARD_PG_SCHEMA" env-default:"public"`
}

// URL builds the pgx connection string.
func (c Config) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		c.User, c.Password, c.Host, c.Port, c.Database, c.Schema)
}

// NewPool opens a pgx connection pool and pings it.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
