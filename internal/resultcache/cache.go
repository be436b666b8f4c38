// Package resultcache serves and stores whole VIN resolutions, so repeat
// lookups cost no upstream calls.
package resultcache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/vehicle-resolver/internal/metrics"
	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/internal/store"
)

// Default TTLs. Live listings change quickly; historical and fallback data
// describe the vehicle itself and age slowly.
const (
	DefaultLiveTTL       = 7 * 24 * time.Hour
	DefaultHistoricalTTL = 30 * 24 * time.Hour
)

// Option configures a Cache.
type Option func(*Cache)

// WithTTLs overrides the live and historical TTLs.
func WithTTLs(live, historical time.Duration) Option {
	return func(c *Cache) {
		if live > 0 {
			c.liveTTL = live
		}
		if historical > 0 {
			c.historicalTTL = historical
		}
	}
}

// WithClock replaces the cache's time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.nowFunc = now
	}
}

// Cache wraps a Store with freshness rules. Failures never propagate: a
// broken store degrades to a miss on read and a no-op on write.
type Cache struct {
	store         store.Store
	liveTTL       time.Duration
	historicalTTL time.Duration
	nowFunc       func() time.Time
}

// New creates a Cache over st.
func New(st store.Store, opts ...Option) *Cache {
	c := &Cache{
		store:         st,
		liveTTL:       DefaultLiveTTL,
		historicalTTL: DefaultHistoricalTTL,
		nowFunc:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the lifetime of an entry produced by source.
func (c *Cache) TTL(source model.SearchSource) time.Duration {
	if source.IsLive() {
		return c.liveTTL
	}
	return c.historicalTTL
}

// Read returns a fresh entry for vin. Serving it counts as a hit: the hit
// counter and last_verified_at move, expires_at does not.
func (c *Cache) Read(ctx context.Context, vin string) (*model.CacheEntry, bool) {
	log := zap.L().With(zap.String("component", "resultcache"), zap.String("vin", vin))

	entry, err := c.store.GetVehicle(ctx, vin)
	if err != nil {
		metrics.ResultCacheTotal.WithLabelValues("error").Inc()
		log.Warn("resultcache: read failed, treating as miss", zap.Error(err))
		return nil, false
	}
	if entry == nil {
		metrics.ResultCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	now := c.nowFunc().UTC()
	if !entry.Fresh(now) {
		metrics.ResultCacheTotal.WithLabelValues("expired").Inc()
		log.Debug("resultcache: entry expired", zap.Time("expires_at", entry.ExpiresAt))
		return nil, false
	}

	if err := c.store.RecordHit(ctx, vin, now); err != nil {
		log.Warn("resultcache: record hit failed", zap.Error(err))
	} else {
		entry.HitCount++
		entry.LastVerifiedAt = now
	}
	metrics.ResultCacheTotal.WithLabelValues("hit").Inc()
	return entry, true
}

// Write upserts the response for vin with the TTL of source.
func (c *Cache) Write(ctx context.Context, vin string, response json.RawMessage, listingID string, source model.SearchSource) {
	now := c.nowFunc().UTC()
	entry := model.CacheEntry{
		VIN:            vin,
		Response:       response,
		ListingID:      listingID,
		SearchSource:   source,
		CachedAt:       now,
		LastVerifiedAt: now,
		ExpiresAt:      now.Add(c.TTL(source)),
		IsActive:       true,
	}
	if err := c.store.UpsertVehicle(ctx, entry); err != nil {
		zap.L().Warn("resultcache: write failed",
			zap.String("vin", vin),
			zap.String("search_source", string(source)),
			zap.Error(err),
		)
	}
}

// Lookup returns the stored entry for vin regardless of freshness, without
// counting a hit. Used by operator tooling.
func (c *Cache) Lookup(ctx context.Context, vin string) (*model.CacheEntry, error) {
	return c.store.GetVehicle(ctx, vin)
}

// Stats summarizes the cache at the current time.
func (c *Cache) Stats(ctx context.Context) (*model.CacheStats, error) {
	return c.store.CacheStats(ctx, c.nowFunc().UTC())
}

// Purge deletes expired entries.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	return c.store.DeleteExpired(ctx, c.nowFunc().UTC())
}
