// Package redis holds the engine's hot shared state: cached order-book
// ladders and the cross-instance record locks. Everything in it is
// reconstructible from the venues or the database, so losing the instance
// costs at most one analysis pass, never money.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// keyspace prefixes every key this package writes, so the engine can share a
// Redis instance with other tenants without colliding.
const keyspace = "cryptobot:"

// ClientConfig holds the connection parameters for the engine's Redis
// instance.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client owns the go-redis connection shared by the book cache and the lock
// manager.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection with a ping. The engine
// refuses to start on a dead cache rather than silently trading without one.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
