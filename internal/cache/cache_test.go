package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence/memory"
)

func TestKeyShape(t *testing.T) {
	assert.Equal(t, "graph:entity:eth:0xabc:1h:raw", Key("entity", "eth:0xAbC:1h", ModeRaw, "v3"))
	assert.Equal(t, "graph:entity:eth:0xabc:1h:calibrated:v3", Key("entity", "eth:0xAbC:1h", ModeCalibrated, "v3"))
	assert.Equal(t, "graph:actor:binance:calibrated", Key("actor", "binance", ModeCalibrated, ""))
}

func TestLRUBasics(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lru := NewLRU(100).WithClock(func() time.Time { return clock })

	require.NoError(t, lru.Set(ctx, "a", []byte("1"), time.Minute))
	val, ok, err := lru.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), val)

	// Expired entries miss and are evicted.
	clock = clock.Add(2 * time.Minute)
	_, ok, err = lru.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, lru.Len())
}

func TestLRUEvictsOldest(t *testing.T) {
	ctx := context.Background()
	lru := NewLRU(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, lru.Set(ctx, fmt.Sprintf("k%d", i), []byte{byte(i)}, time.Minute))
	}
	// Touch k0 so k1 becomes the eviction candidate.
	_, ok, _ := lru.Get(ctx, "k0")
	require.True(t, ok)

	require.NoError(t, lru.Set(ctx, "k3", []byte{3}, time.Minute))
	assert.Equal(t, 3, lru.Len())

	_, ok, _ = lru.Get(ctx, "k1")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok, _ = lru.Get(ctx, "k0")
	assert.True(t, ok)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := NewRedis(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))

	require.NoError(t, store.Ping(ctx))

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	// TTL expiry.
	mr.FastForward(2 * time.Minute)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, _ = store.Get(ctx, "k")
	assert.False(t, ok)
}

func testSnap(at time.Time) domain.Snapshot {
	return domain.Snapshot{
		ID:          domain.StableID("snap", at.String()),
		Chain:       "eth",
		Token:       "0xtok",
		Window:      domain.Window1h,
		WindowStart: at.Truncate(time.Hour),
		SnapshotAt:  at,
		IsViable:    true,
	}
}

func TestSnapshotCacheFallsThroughAndCaches(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	lru := NewLRU(100)
	cfg := config.CacheConfig{RawTTLSec: 300, CalibratedTTLSec: 1800}

	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, repo.Snapshots.Insert(ctx, testSnap(at)))

	sc := NewSnapshotCache(lru, repo.Snapshots, cfg, func() string { return "v1" })

	snap, err := sc.Latest(ctx, "eth", "0xtok", domain.Window1h, ModeRaw)
	require.NoError(t, err)
	assert.Equal(t, "0xtok", snap.Token)
	assert.Equal(t, 1, lru.Len(), "miss populated the cache")

	// Second read is served from cache even if the repo row disappears.
	snap2, err := sc.Latest(ctx, "eth", "0xtok", domain.Window1h, ModeRaw)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, snap2.ID)
}

func TestSnapshotCacheCalibrationVersionSeparatesKeys(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	lru := NewLRU(100)
	cfg := config.CacheConfig{RawTTLSec: 300, CalibratedTTLSec: 1800}

	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, repo.Snapshots.Insert(ctx, testSnap(at)))

	version := "v1"
	sc := NewSnapshotCache(lru, repo.Snapshots, cfg, func() string { return version })

	_, err := sc.Latest(ctx, "eth", "0xtok", domain.Window1h, ModeCalibrated)
	require.NoError(t, err)
	assert.Equal(t, 1, lru.Len())

	// A version bump misses the old key and writes a new one.
	version = "v2"
	_, err = sc.Latest(ctx, "eth", "0xtok", domain.Window1h, ModeCalibrated)
	require.NoError(t, err)
	assert.Equal(t, 2, lru.Len())
}

func TestSnapshotCacheRebuildOnStorageMiss(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	lru := NewLRU(100)
	cfg := config.CacheConfig{RawTTLSec: 300, CalibratedTTLSec: 1800}

	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	built := testSnap(at)
	var rebuilds int

	sc := NewSnapshotCache(lru, repo.Snapshots, cfg, nil).
		WithRebuild(func(context.Context, string, string, domain.Window) (*domain.Snapshot, error) {
			rebuilds++
			return &built, nil
		})

	snap, err := sc.Latest(ctx, "eth", "0xtok", domain.Window1h, ModeRaw)
	require.NoError(t, err)
	assert.Equal(t, built.ID, snap.ID)
	assert.Equal(t, 1, rebuilds)

	// The rebuilt snapshot is now cached.
	_, err = sc.Latest(ctx, "eth", "0xtok", domain.Window1h, ModeRaw)
	require.NoError(t, err)
	assert.Equal(t, 1, rebuilds)
}
