package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/fleetwatch/pkg/logger"
)

type result struct {
	Total float64 `json:"total"`
}

func counter(calls *int, v float64) func(context.Context) (result, error) {
	return func(context.Context) (result, error) {
		*calls++
		return result{Total: v}, nil
	}
}

func TestKeys(t *testing.T) {
	art := time.FixedZone("ART", -3*3600)
	assert.Equal(t, "fleetwatch:forecast:2026-03-14T12:00:00-03:00", ForecastKey(time.Date(2026, 3, 14, 12, 0, 0, 0, art)))

	at := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "fleetwatch:snapshot:2026-03-14T15:00:00Z", SnapshotKey(at, ""))
	assert.Equal(t, "fleetwatch:snapshot:2026-03-14T15:00:00Z:e0659a", SnapshotKey(at.In(art), "E0659A"))
}

func TestNilCacheAlwaysComputes(t *testing.T) {
	ctx := context.Background()
	var c *RedisCache
	calls := 0

	for i := 0; i < 2; i++ {
		v, err := Forecast(ctx, c, time.Now(), counter(&calls, 1.5))
		require.NoError(t, err)
		assert.Equal(t, 1.5, v.Total)
	}
	_, err := Snapshot(ctx, c, time.Now().Add(-48*time.Hour), time.Now(), "", counter(&calls, 2))
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	assert.NoError(t, c.Close())
}

func TestComputeErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	_, err := Forecast(context.Background(), nil, time.Now(), func(context.Context) (result, error) {
		return result{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

// Runs against a real server when FLEETWATCH_TEST_REDIS is set, e.g. "localhost:6379"
func TestRedisReadThrough(t *testing.T) {
	addr := os.Getenv("FLEETWATCH_TEST_REDIS")
	if addr == "" {
		t.Skip("FLEETWATCH_TEST_REDIS not set")
	}
	ctx := context.Background()

	c, err := NewRedisCache(ctx, Config{
		Addr:         addr,
		DB:           15,
		ForecastTTL:  time.Minute,
		SnapshotTTL:  time.Minute,
		ImmutableAge: time.Hour,
	}, logger.NewNop())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.client.FlushDB(ctx).Err())

	hour := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	calls := 0
	first, err := Forecast(ctx, c, hour, counter(&calls, 0.35))
	require.NoError(t, err)
	second, err := Forecast(ctx, c, hour, counter(&calls, 99))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	calls = 0
	// recent snapshots are never cached
	for i := 0; i < 2; i++ {
		_, err := Snapshot(ctx, c, now.Add(-time.Minute), now, "", counter(&calls, 1))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)

	calls = 0
	for i := 0; i < 2; i++ {
		_, err := Snapshot(ctx, c, now.Add(-2*time.Hour), now, "e0659a", counter(&calls, 1))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
}
