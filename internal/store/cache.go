package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coincross/exchange/internal/model"
)

const snapshotKey = "market:snapshot"

// SnapshotCache keeps the shared market snapshot (best prices + charts) in
// Redis so the hot read path stays off PostgreSQL. It is only ever consulted
// outside the matching transaction; correctness reads always hit the store.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a Redis-backed snapshot cache.
func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached snapshot, or nil on miss or decode failure.
func (c *SnapshotCache) Get(ctx context.Context) *model.Snapshot {
	data, err := c.rdb.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		return nil
	}
	var snap model.Snapshot
	if json.Unmarshal(data, &snap) != nil {
		return nil
	}
	return &snap
}

// Set stores the snapshot with the configured TTL. Best-effort.
func (c *SnapshotCache) Set(ctx context.Context, snap *model.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, snapshotKey, data, c.ttl).Err(); err != nil {
		slog.Debug("snapshot cache set failed", "err", err)
	}
}

// Invalidate drops the cached snapshot. Called after every committed trade
// and order mutation.
func (c *SnapshotCache) Invalidate(ctx context.Context) {
	if err := c.rdb.Del(ctx, snapshotKey).Err(); err != nil {
		slog.Debug("snapshot cache invalidate failed", "err", err)
	}
}
