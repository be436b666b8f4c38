// Package store persists resolved vehicle results keyed by VIN.
package store

import (
	"context"
	"time"

	"github.com/sells-group/vehicle-resolver/internal/model"
)

// Store defines the persistence interface for the per-VIN result cache.
// Stores return rows as found; freshness is decided by the caller.
type Store interface {
	// GetVehicle returns the entry for vin, or nil when none exists.
	GetVehicle(ctx context.Context, vin string) (*model.CacheEntry, error)
	// UpsertVehicle inserts or replaces the entry for entry.VIN. The row id
	// and hit count of an existing entry are preserved.
	UpsertVehicle(ctx context.Context, entry model.CacheEntry) error
	// RecordHit increments hit_count and stamps last_verified_at.
	RecordHit(ctx context.Context, vin string, at time.Time) error
	// CacheStats aggregates entries relative to now.
	CacheStats(ctx context.Context, now time.Time) (*model.CacheStats, error)
	// DeleteExpired removes entries whose expires_at is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func newStats() *model.CacheStats {
	return &model.CacheStats{BySource: make(map[model.SearchSource]int)}
}
