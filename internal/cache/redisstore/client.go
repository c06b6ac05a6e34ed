// Package redisstore keeps raw upstream responses in Redis so several gateway replicas share them.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/wfs-ingest/internal/cache"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/observability"
)

const (
	fieldContentType = "ct"
	fieldBody        = "body"
	scanBatch        = 256
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

type Client struct {
	rdb    *redis.Client
	prefix string
}

var _ cache.ResponseStore = (*Client)(nil)

func New(ctx context.Context, addr, keyPrefix string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb, prefix: keyPrefix}, nil
}

func (c *Client) Get(ctx context.Context, key string) (cache.Response, bool, error) {
	start := time.Now()
	vals, err := c.rdb.HGetAll(ctx, c.prefix+key).Result()
	observability.ObserveCacheOp("hgetall", err, time.Since(start).Seconds())
	if err != nil {
		return cache.Response{}, false, fmt.Errorf("redis HGETALL %q: %w", key, err)
	}
	body, ok := vals[fieldBody]
	if !ok {
		return cache.Response{}, false, nil
	}
	return cache.Response{ContentType: vals[fieldContentType], Body: []byte(body)}, true, nil
}

func (c *Client) Set(ctx context.Context, key string, r cache.Response) error {
	start := time.Now()
	err := c.rdb.HSet(ctx, c.prefix+key, fieldContentType, r.ContentType, fieldBody, r.Body).Err()
	observability.ObserveCacheOp("hset", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis HSET %q: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every response whose key starts with prefix
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	return c.deleteMatching(ctx, c.prefix+escapeGlob(prefix)+"*")
}

// Clear drops all responses under this client's key prefix
func (c *Client) Clear(ctx context.Context) error {
	return c.deleteMatching(ctx, escapeGlob(c.prefix)+"*")
}

func (c *Client) deleteMatching(ctx context.Context, pattern string) error {
	start := time.Now()
	var cursor uint64
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			observability.ObserveCacheOp("scan", err, time.Since(start).Seconds())
			return fmt.Errorf("redis SCAN %q: %w", pattern, err)
		}
		if len(batch) > 0 {
			if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
				observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
				return fmt.Errorf("redis DEL %d keys: %w", len(batch), err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	observability.ObserveCacheOp("del", nil, time.Since(start).Seconds())
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
