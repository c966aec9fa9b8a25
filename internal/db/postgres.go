// Package db opens the Postgres pool shared by the audit, session, user and policy stores
// and embeds their schema migrations.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrEmptyDSN is returned by Open when no connection string is configured.
var ErrEmptyDSN = errors.New("db: DATABASE_URL is empty")

// Pool sizes the connection pool. The zero value uses DefaultPool.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// DefaultPool fits a single API instance; audit appends and session updates are short transactions.
var DefaultPool = Pool{MaxOpen: 25, MaxIdle: 5, MaxLifetime: 30 * time.Minute}

const pingTimeout = 5 * time.Second

// Open opens a pgx-backed pool for dsn and pings it before returning.
// Caller must Close the pool.
func Open(ctx context.Context, dsn string, pool ...Pool) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrEmptyDSN
	}
	p := DefaultPool
	if len(pool) > 0 && pool[0] != (Pool{}) {
		p = pool[0]
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	conn.SetMaxOpenConns(p.MaxOpen)
	conn.SetMaxIdleConns(p.MaxIdle)
	conn.SetConnMaxLifetime(p.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return conn, nil
}
