package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool owns a pgxpool.Pool and the open/closed lifecycle around it. Created
// once per process and shared by Store; never create a Pool per request.
type Pool struct {
	pool   *pgxpool.Pool
	mu     sync.RWMutex
	closed bool
}

// NewPool parses cfg.DSN, applies pool tuning, and pings once to fail fast
// on a bad DSN or unreachable server.
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, &ConnectError{Op: "NewPool", Err: fmt.Errorf("DSN must not be empty")}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, &ConnectError{Op: "ParseConfig", Err: err}
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pgxPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &ConnectError{Op: "NewWithConfig", Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pgxPool.Ping(pingCtx); err != nil {
		pgxPool.Close()
		return nil, &ConnectError{Op: "Ping", Err: err}
	}

	return &Pool{pool: pgxPool}, nil
}

// Raw returns the underlying *pgxpool.Pool, or nil once Close has run.
func (p *Pool) Raw() *pgxpool.Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}
	return p.pool
}

// Ping verifies connectivity, respecting ctx's deadline.
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return &ConnectError{Op: "Ping", Err: fmt.Errorf("pool is closed")}
	}
	if err := p.pool.Ping(ctx); err != nil {
		return &ConnectError{Op: "Ping", Err: err}
	}
	return nil
}

// Close shuts the pool down. Idempotent and safe for concurrent use.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.pool.Close()
}
