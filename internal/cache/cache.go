// Package cache holds the snapshot read cache. Keys carry the subject,
// mode and, for calibrated reads, the calibration version, so a version
// bump naturally invalidates stale calibrated entries.
package cache

import (
	"context"
	"strings"
	"time"
)

// Mode selects the snapshot flavor a key names.
type Mode string

const (
	ModeRaw        Mode = "raw"
	ModeCalibrated Mode = "calibrated"
)

// Key builds the cache key: graph:<kind>:<id>:<mode>[:<calibrationVersion>].
// The id is lowercased so mixed-case addresses hit the same entry.
func Key(kind, id string, mode Mode, calibrationVersion string) string {
	parts := []string{"graph", kind, strings.ToLower(id), string(mode)}
	if mode == ModeCalibrated && calibrationVersion != "" {
		parts = append(parts, calibrationVersion)
	}
	return strings.Join(parts, ":")
}

// Store is a TTL'd byte cache. Get returns ok=false on miss; callers
// fall through to the snapshot repo.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
