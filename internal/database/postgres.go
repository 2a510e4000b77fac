// Package database owns the live Postgres session the bootstrap runs on.
package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/swisswing/microservice-users/internal/config"
	"github.com/swisswing/microservice-users/internal/orchestrator"
	"github.com/swisswing/microservice-users/internal/runner"
)

const probeName = "users-db"

// pgxPool abstracts the pgxpool.Pool methods used by Client so that tests can
// inject a fake without standing up a real database.
type pgxPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Client wraps a lazily-opened pgx connection pool. The circuit breaker is
// applied to health probes only: bootstrap script execution is never retried,
// so tripping a breaker around it would only mask the first real error.
type Client struct {
	cfg     config.PostgresConfig
	cb      *gobreaker.CircuitBreaker
	connect func(ctx context.Context, cfg config.PostgresConfig) (pgxPool, error)

	mu   sync.Mutex
	pool pgxPool
}

// NewClient creates a Client that opens its pool on first use. No connection
// is made at construction time.
func NewClient(cfg config.PostgresConfig, cb *gobreaker.CircuitBreaker) *Client {
	return &Client{
		cfg:     cfg,
		cb:      cb,
		connect: realConnect,
	}
}

// NewCircuitBreaker returns a gobreaker configured to trip after 3 consecutive
// failures and reset after 30 seconds in the open state.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// acquire opens the shared pool on first call. Later calls return the same
// pool until Close.
func (c *Client) acquire(ctx context.Context) (pgxPool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return c.pool, nil
	}

	pool, err := c.connect(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return pool, nil
}

// Begin starts one script's transaction on the shared session.
func (c *Client) Begin(ctx context.Context) (runner.Tx, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &clientTx{tx: tx}, nil
}

// SelectExists runs a single-row boolean query, as used by the catalog guard.
func (c *Client) SelectExists(ctx context.Context, query string, args ...any) (bool, error) {
	pool, err := c.acquire(ctx)
	if err != nil {
		return false, err
	}

	var exists bool
	if err := pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Probe pings the server inside the circuit breaker. After 3 consecutive
// failures the breaker opens and subsequent probes return "circuit open"
// immediately.
func (c *Client) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		pool, err := c.acquire(ctx)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		return nil, nil
	})

	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return orchestrator.ProbeResult{
			Name:      probeName,
			OK:        false,
			LatencyMs: latency,
			Error:     errMsg,
		}
	}

	return orchestrator.ProbeResult{
		Name:      probeName,
		OK:        true,
		LatencyMs: latency,
	}
}

// Close releases the pool. The Client reconnects on next use.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
}

// clientTx adapts pgx.Tx to the runner's transaction interface.
type clientTx struct {
	tx pgx.Tx
}

func (t *clientTx) Exec(ctx context.Context, sql string) error {
	_, err := t.tx.Exec(ctx, sql)
	return err
}

func (t *clientTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *clientTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// realConnect opens a pgxpool.Pool using the provided PostgresConfig.
func realConnect(ctx context.Context, cfg config.PostgresConfig) (pgxPool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}

	return pool, nil
}
