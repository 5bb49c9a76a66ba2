// Package cache is an optional redis read-through layer for read-side results
// that do not change once computed.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yegors/fleetwatch/pkg/logger"
)

const keyPrefix = "fleetwatch:"

// Config holds connection and TTL settings
type Config struct {
	Addr         string
	Password     string
	DB           int
	ForecastTTL  time.Duration
	SnapshotTTL  time.Duration
	ImmutableAge time.Duration // snapshots older than this are cached
}

// RedisCache stores JSON-encoded results. A nil *RedisCache is a valid disabled cache.
type RedisCache struct {
	client *redis.Client
	cfg    Config
	logger *logger.Logger
}

// NewRedisCache connects and pings the server
func NewRedisCache(ctx context.Context, cfg Config, log *logger.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return &RedisCache{client: client, cfg: cfg, logger: log.Named("cache")}, nil
}

// Close releases the connection pool
func (c *RedisCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// ForecastKey names the forecast computed for a local hour start
func ForecastKey(hourStart time.Time) string {
	return keyPrefix + "forecast:" + hourStart.Format(time.RFC3339)
}

// SnapshotKey names the replay snapshot at ts, optionally for one aircraft
func SnapshotKey(ts time.Time, icao24 string) string {
	key := keyPrefix + "snapshot:" + ts.UTC().Format(time.RFC3339Nano)
	if icao24 != "" {
		key += ":" + strings.ToLower(icao24)
	}
	return key
}

// Forecast loads or computes the forecast for hourStart
func Forecast[T any](ctx context.Context, c *RedisCache, hourStart time.Time, compute func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return compute(ctx)
	}
	return readThrough(ctx, c, ForecastKey(hourStart), c.cfg.ForecastTTL, compute)
}

// Snapshot loads or computes a snapshot. Only snapshots far enough in the past are
// cached; anything newer may still gain rows.
func Snapshot[T any](ctx context.Context, c *RedisCache, at, now time.Time, icao24 string, compute func(context.Context) (T, error)) (T, error) {
	if c == nil || now.Sub(at) < c.cfg.ImmutableAge {
		return compute(ctx)
	}
	return readThrough(ctx, c, SnapshotKey(at, icao24), c.cfg.SnapshotTTL, compute)
}

func readThrough[T any](ctx context.Context, c *RedisCache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var v T
	hit, err := c.get(ctx, key, &v)
	if err != nil {
		// a broken cache degrades to direct reads
		c.logger.Warn("Cache read failed", logger.String("key", key), logger.Error(err))
	}
	if hit {
		return v, nil
	}

	v, err = compute(ctx)
	if err != nil {
		return v, err
	}
	if err := c.set(ctx, key, v, ttl); err != nil {
		c.logger.Warn("Cache write failed", logger.String("key", key), logger.Error(err))
	}
	return v, nil
}

func (c *RedisCache) get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) set(ctx context.Context, key string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
