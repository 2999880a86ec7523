package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

// RebuildFunc regenerates a missing snapshot from upstream data. It may
// return nil when nothing can be built yet.
type RebuildFunc func(ctx context.Context, chain, token string, window domain.Window) (*domain.Snapshot, error)

// SnapshotCache fronts the snapshot repo with a TTL'd store. Raw entries
// live 5 minutes by default, calibrated ones 30; calibrated keys embed
// the calibration version.
type SnapshotCache struct {
	store   Store
	repo    persistence.SnapshotsRepo
	cfg     config.CacheConfig
	version func() string
	rebuild RebuildFunc
	logger  zerolog.Logger
}

func NewSnapshotCache(store Store, repo persistence.SnapshotsRepo, cfg config.CacheConfig, version func() string) *SnapshotCache {
	if version == nil {
		version = func() string { return "" }
	}
	return &SnapshotCache{
		store:   store,
		repo:    repo,
		cfg:     cfg,
		version: version,
		logger:  log.With().Str("component", "cache").Logger(),
	}
}

// WithRebuild attaches the storage-miss rebuild hook.
func (c *SnapshotCache) WithRebuild(fn RebuildFunc) *SnapshotCache {
	c.rebuild = fn
	return c
}

func (c *SnapshotCache) entityID(chain, token string, window domain.Window) string {
	return fmt.Sprintf("%s:%s:%s", chain, token, window)
}

// Latest returns the newest snapshot for a stream, consulting the cache
// first, then the repo, then the rebuild hook.
func (c *SnapshotCache) Latest(ctx context.Context, chain, token string, window domain.Window, mode Mode) (*domain.Snapshot, error) {
	key := Key("entity", c.entityID(chain, token, window), mode, c.version())

	if raw, ok, err := c.store.Get(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, falling through")
	} else if ok {
		var snap domain.Snapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return &snap, nil
		}
		// A corrupt entry is dropped, not served.
		_ = c.store.Delete(ctx, key)
	}

	snap, err := c.repo.Latest(ctx, chain, token, window)
	if err == persistence.ErrNotFound && c.rebuild != nil {
		snap, err = c.rebuild(ctx, chain, token, window)
		if err == nil && snap == nil {
			return nil, persistence.ErrNotFound
		}
	}
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(snap); err == nil {
		ttl := c.cfg.RawTTL()
		if mode == ModeCalibrated {
			ttl = c.cfg.CalibratedTTL()
		}
		if err := c.store.Set(ctx, key, raw, ttl); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return snap, nil
}

// Invalidate drops both modes for a stream under the current version.
func (c *SnapshotCache) Invalidate(ctx context.Context, chain, token string, window domain.Window) {
	id := c.entityID(chain, token, window)
	_ = c.store.Delete(ctx, Key("entity", id, ModeRaw, ""))
	_ = c.store.Delete(ctx, Key("entity", id, ModeCalibrated, c.version()))
}
