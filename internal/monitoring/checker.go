package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/vehicle-resolver/internal/metrics"
)

// Checker periodically refreshes the cache gauges from a snapshot.
type Checker struct {
	collector *Collector
	interval  time.Duration
}

// NewChecker creates a background checker.
func NewChecker(collector *Collector, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{collector: collector, interval: interval}
}

// Run collects once immediately, then on every tick. It blocks until ctx
// is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting cache checker", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.check(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("cache checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect cache stats", zap.Error(err))
		return
	}

	metrics.ResultCacheEntries.WithLabelValues("fresh").Set(float64(snap.ResultCache.Fresh))
	metrics.ResultCacheEntries.WithLabelValues("expired").Set(float64(snap.ResultCache.Expired))
	metrics.ResponseCacheEntries.Set(float64(snap.ResponseEntries))

	log.Debug("monitoring: cache stats collected",
		zap.Int("entries", snap.ResultCache.Entries),
		zap.Int("expired", snap.ResultCache.Expired),
		zap.Int("total_hits", snap.ResultCache.TotalHits),
		zap.Int("response_entries", snap.ResponseEntries),
	)
}
