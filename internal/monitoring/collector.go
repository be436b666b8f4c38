package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/pkg/httpcache"
)

// Snapshot is a point-in-time view of both cache tiers.
type Snapshot struct {
	// Durable per-VIN result cache.
	ResultCache *model.CacheStats `json:"result_cache"`

	// In-process HTTP response cache.
	ResponseEntries int     `json:"response_cache_entries"`
	ResponseHits    int64   `json:"response_cache_hits"`
	ResponseMisses  int64   `json:"response_cache_misses"`
	ResponseHitRate float64 `json:"response_cache_hit_rate"`

	CollectedAt time.Time `json:"collected_at"`
}

// StatsSource reports result cache statistics.
type StatsSource interface {
	Stats(ctx context.Context) (*model.CacheStats, error)
}

// Collector gathers cache statistics.
type Collector struct {
	results   StatsSource
	responses *httpcache.Cache
	nowFunc   func() time.Time
}

// NewCollector creates a collector. responses may be nil.
func NewCollector(results StatsSource, responses *httpcache.Cache) *Collector {
	return &Collector{results: results, responses: responses, nowFunc: time.Now}
}

// WithClock replaces the collector's time source.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.nowFunc = now
	return c
}

// Collect returns a snapshot of both caches.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	stats, err := c.results.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: result cache stats")
	}

	snap := &Snapshot{
		ResultCache: stats,
		CollectedAt: c.nowFunc().UTC(),
	}
	if c.responses != nil {
		snap.ResponseEntries = c.responses.Len()
		snap.ResponseHits, snap.ResponseMisses = c.responses.Stats()
		if total := snap.ResponseHits + snap.ResponseMisses; total > 0 {
			snap.ResponseHitRate = float64(snap.ResponseHits) / float64(total)
		}
	}
	return snap, nil
}
