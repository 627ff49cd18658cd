package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type poolSettings struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

type Option func(*poolSettings)

// WithMaxOpenConns caps the pool; idle connections are capped at half of it.
func WithMaxOpenConns(n int) Option {
	return func(p *poolSettings) {
		if n > 0 {
			p.maxOpen = n
			p.maxIdle = max(1, n/2)
		}
	}
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(p *poolSettings) {
		if d > 0 {
			p.maxLifetime = d
		}
	}
}

// Open parses databaseURL, opens a pgx-backed pool and pings it.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool := poolSettings{
		maxOpen:     20,
		maxIdle:     10,
		maxLifetime: 30 * time.Minute,
		maxIdleTime: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&pool)
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetConnMaxIdleTime(pool.maxIdleTime)
	db.SetConnMaxLifetime(pool.maxLifetime)
	db.SetMaxIdleConns(pool.maxIdle)
	db.SetMaxOpenConns(pool.maxOpen)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
