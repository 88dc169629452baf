package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	c := New(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestDecodeRecoversTypeAfterJSONRoundTrip(t *testing.T) {
	type artifact struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}

	// A Redis-style backend hands values back as generic maps
	entry := Entry{Key: "k", Value: artifact{Name: "x", Score: 0.73}}
	data, err := json.Marshal(&entry)
	require.NoError(t, err)
	var roundTripped Entry
	require.NoError(t, json.Unmarshal(data, &roundTripped))

	_, directOK := roundTripped.Value.(artifact)
	require.False(t, directOK, "JSON round trip must lose the Go type")

	var got artifact
	require.NoError(t, Decode(roundTripped.Value, &got))
	assert.Equal(t, artifact{Name: "x", Score: 0.73}, got)
}

func TestGetMiss(t *testing.T) {
	c := New(DefaultConfig())
	_, ok := c.Get(context.Background(), "absent")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := New(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestDisabledCacheIsInert(t *testing.T) {
	c := New(&Config{Enabled: false})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestInvalidateByPrefix(t *testing.T) {
	c := New(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, PredictionKey("fix the bug", "m1"), 1, 0))
	require.NoError(t, c.Set(ctx, PredictionKey("run tests", "m1"), 2, 0))
	require.NoError(t, c.Set(ctx, AdaptationKey("investigate-and-fix", "tier1"), 3, 0))

	removed := c.InvalidateByPrefix(ctx, "predict:")
	assert.Equal(t, 2, removed)

	_, ok := c.Get(ctx, AdaptationKey("investigate-and-fix", "tier1"))
	assert.True(t, ok, "adaptation entries survive prediction invalidation")
}

func TestEvictionAtCapacity(t *testing.T) {
	config := DefaultConfig()
	config.MaxSize = 2
	config.CleanupPeriod = 0
	c := New(config)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, time.Minute))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Set(ctx, "b", 2, time.Minute))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Set(ctx, "c", 3, time.Minute))

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)

	stats := c.GetStats(ctx)
	assert.Equal(t, int64(1), stats.Evictions)
}

func TestStats(t *testing.T) {
	c := New(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	c.Get(ctx, "k")
	c.Get(ctx, "missing")

	stats := c.GetStats(ctx)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestKeyDerivation(t *testing.T) {
	assert.Equal(t, PredictionKey("task", "model"), PredictionKey("task", "model"))
	assert.NotEqual(t, PredictionKey("task", "model-a"), PredictionKey("task", "model-b"))
	assert.Equal(t, "adapt:p:tier1", AdaptationKey("p", "tier1"))
}
