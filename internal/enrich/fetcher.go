// Package enrich fetches listing detail and the optional VIN-level summary,
// specs and history payloads.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/pkg/marketcheck"
)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout bounds each individual fetch.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithObserver receives the outcome of every fetch by source name.
func WithObserver(fn func(source string, err error)) Option {
	return func(f *Fetcher) {
		f.observe = fn
	}
}

// Fetcher performs best-effort reads. None of its methods fail: a source
// that errors is logged and left out.
type Fetcher struct {
	client  marketcheck.Client
	timeout time.Duration
	observe func(string, error)
}

// NewFetcher creates a fetcher over client.
func NewFetcher(client marketcheck.Client, opts ...Option) *Fetcher {
	f := &Fetcher{client: client, timeout: 15 * time.Second}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Detail returns the full listing for id, or nil on any failure.
func (f *Fetcher) Detail(ctx context.Context, id string) *marketcheck.Listing {
	if id == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	l, err := f.client.Listing(ctx, id)
	f.record("listing", err)
	if err != nil {
		zap.L().Warn("enrich: listing detail failed", zap.String("listing_id", id), zap.Error(err))
		return nil
	}
	return l
}

// Enrichment fetches summary, specs and history concurrently. Each source
// is independent; one failing never affects the others.
func (f *Fetcher) Enrichment(ctx context.Context, vin string) model.EnrichmentBundle {
	var bundle model.EnrichmentBundle
	log := zap.L().With(zap.String("component", "enrich"), zap.String("vin", vin))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		raw, err := f.raw(gctx, "summary", vin, f.client.Summary)
		if err != nil {
			log.Warn("enrich: summary failed", zap.Error(err))
			return nil
		}
		bundle.Summary = raw
		return nil
	})

	g.Go(func() error {
		raw, err := f.raw(gctx, "specs", vin, f.client.Specs)
		if err != nil {
			log.Warn("enrich: specs failed", zap.Error(err))
			return nil
		}
		bundle.Specs = raw
		return nil
	})

	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, f.timeout)
		defer cancel()
		records, err := f.client.History(cctx, vin)
		f.record("history", err)
		if err != nil {
			log.Warn("enrich: history failed", zap.Error(err))
			return nil
		}
		bundle.History = newestFirst(records)
		return nil
	})

	_ = g.Wait() // goroutines never return errors
	return bundle
}

func (f *Fetcher) raw(ctx context.Context, source, vin string, fn func(context.Context, string) (json.RawMessage, error)) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	raw, err := fn(ctx, vin)
	f.record(source, err)
	if err != nil {
		return nil, err
	}
	if isEmptyJSON(raw) {
		return nil, nil
	}
	return raw, nil
}

func (f *Fetcher) record(source string, err error) {
	if f.observe != nil {
		f.observe(source, err)
	}
}

// newestFirst orders history by last_seen_at descending; records without a
// timestamp go last in provider order.
func newestFirst(records []marketcheck.HistoryRecord) []marketcheck.HistoryRecord {
	out := make([]marketcheck.HistoryRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastSeenAt, out[j].LastSeenAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
	return out
}

func isEmptyJSON(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte("{}")) || bytes.Equal(t, []byte("[]"))
}
