// Package resolver runs the full VIN resolution: result cache, search,
// detail and enrichment, weight estimate, fallback payload and cache write.
package resolver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/vehicle-resolver/internal/enrich"
	"github.com/sells-group/vehicle-resolver/internal/metrics"
	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/internal/payload"
	"github.com/sells-group/vehicle-resolver/internal/resultcache"
	"github.com/sells-group/vehicle-resolver/internal/search"
	"github.com/sells-group/vehicle-resolver/internal/secrets"
	"github.com/sells-group/vehicle-resolver/pkg/marketcheck"
)

// ClientFactory builds a listing client for one API key. baseURL is empty
// unless the secret store overrides it.
type ClientFactory func(apiKey, baseURL string) marketcheck.Client

// WeightEstimator estimates curb weight for a VIN. It never fails.
type WeightEstimator interface {
	Estimate(ctx context.Context, vin string) model.WeightEstimate
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSearchOptions passes options to every search orchestrator.
func WithSearchOptions(opts ...search.Option) Option {
	return func(r *Resolver) {
		r.searchOpts = append(r.searchOpts, opts...)
	}
}

// WithEnrichOptions passes options to every enrichment fetcher.
func WithEnrichOptions(opts ...enrich.Option) Option {
	return func(r *Resolver) {
		r.enrichOpts = append(r.enrichOpts, opts...)
	}
}

// WithClock replaces the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.nowFunc = now
	}
}

// Resolver wires the resolution services. It holds no per-request state.
type Resolver struct {
	secrets    *secrets.Resolver
	cache      *resultcache.Cache
	weights    WeightEstimator
	builder    *payload.Builder
	newClient  ClientFactory
	searchOpts []search.Option
	enrichOpts []enrich.Option
	nowFunc    func() time.Time
}

// New creates a Resolver.
func New(sec *secrets.Resolver, cache *resultcache.Cache, weights WeightEstimator, builder *payload.Builder, newClient ClientFactory, opts ...Option) *Resolver {
	r := &Resolver{
		secrets:   sec,
		cache:     cache,
		weights:   weights,
		builder:   builder,
		newClient: newClient,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the resolution for req. Not found is a valid result with
// Found false. Errors are *CredentialError or *UpstreamError.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*model.Resolution, error) {
	log := zap.L().With(zap.String("component", "resolver"), zap.String("vin", req.VIN))

	if entry, ok := r.cache.Read(ctx, req.VIN); ok {
		res, err := fromCache(entry)
		if err == nil {
			metrics.ResolutionsTotal.WithLabelValues("cached", string(res.Extras.SearchSource)).Inc()
			log.Info("resolver: served from cache", zap.Int("hit_count", entry.HitCount))
			return res, nil
		}
		log.Warn("resolver: cached response unreadable, resolving again", zap.Error(err))
	}

	start := r.nowFunc()
	res, source, err := r.resolve(ctx, log, req)
	metrics.ResolutionDuration.Observe(r.nowFunc().Sub(start).Seconds())
	if err != nil {
		outcome := "upstream_error"
		if IsCredential(err) {
			outcome = "credential_error"
		}
		metrics.ResolutionsTotal.WithLabelValues(outcome, string(model.SourceNone)).Inc()
		return nil, err
	}

	outcome := "not_found"
	if res.Found {
		outcome = "found"
		r.store(ctx, log, res, source)
	}
	metrics.ResolutionsTotal.WithLabelValues(outcome, string(source)).Inc()
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, log *zap.Logger, req Request) (*model.Resolution, model.SearchSource, error) {
	client, apiKey, err := r.client(ctx, false)
	if err != nil {
		return nil, model.SourceNone, err
	}

	var estimate model.WeightEstimate
	// Lookups report their own failures; the group only joins them and
	// carries the request's cancellation.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		estimate = r.weights.Estimate(gctx, req.VIN)
		return nil
	})

	q := search.Query{VIN: req.VIN, Zip: req.Zip, Radius: req.Radius, Pick: req.Pick}
	outcome := search.NewOrchestrator(client, r.searchOpts...).Search(ctx, q)

	if !outcome.Found() && outcome.AuthRejected() {
		log.Warn("resolver: listing provider rejected credentials, refreshing key")
		refreshed, newKey, err := r.client(ctx, true)
		switch {
		case err != nil:
			log.Warn("resolver: key refresh failed", zap.Error(err))
		case newKey != apiKey:
			client = refreshed
			retry := search.NewOrchestrator(client, r.searchOpts...).Search(ctx, q)
			retry.Attempts = append(outcome.Attempts, retry.Attempts...)
			outcome = retry
		}
	}

	fetcher := enrich.NewFetcher(client, r.enrichOpts...)
	var detail *marketcheck.Listing
	var bundle model.EnrichmentBundle
	if outcome.Found() {
		g.Go(func() error {
			detail = fetcher.Detail(gctx, outcome.Candidate.ID)
			return nil
		})
	}
	g.Go(func() error {
		bundle = fetcher.Enrichment(gctx, req.VIN)
		return nil
	})
	_ = g.Wait()

	res := &model.Resolution{
		OK:           true,
		VIN:          req.VIN,
		VehicleSpecs: estimate,
		Extras: model.Extras{
			SearchSource:   outcome.Strategy,
			SearchAttempts: outcome.Attempts,
			PayloadSource:  model.PayloadNone,
		},
	}
	if !bundle.Empty() {
		res.Extras.Enrichment = &bundle
	}

	if outcome.Found() {
		id := outcome.Candidate.ID
		res.ListingID = &id
		res.Payload = r.builder.Normalize(req.VIN, detail, outcome.Candidate, bundle)
		res.Extras.PayloadSource = model.PayloadListing
		res.Found = true
		return res, outcome.Strategy, nil
	}

	listing, payloadSource := r.builder.Build(req.VIN, bundle)
	if listing != nil {
		res.Payload = listing
		res.Found = true
		res.Extras.SearchSource = model.SourceFallback
		res.Extras.PayloadSource = payloadSource
		log.Info("resolver: fallback payload built", zap.String("payload_source", string(payloadSource)))
		return res, model.SourceFallback, nil
	}

	if outcome.AllFailed() {
		return nil, model.SourceNone, &UpstreamError{
			StatusCode: outcome.UpstreamStatus(),
			Attempts:   outcome.Attempts,
		}
	}

	log.Info("resolver: vehicle not found", zap.Int("attempts", len(outcome.Attempts)))
	return res, model.SourceNone, nil
}

// client resolves credentials and builds a listing client. It also returns
// the key so callers can tell whether a forced refresh changed it.
func (r *Resolver) client(ctx context.Context, force bool) (marketcheck.Client, string, error) {
	var opts []secrets.ResolveOption
	if force {
		opts = append(opts, secrets.WithForce())
	}

	key, err := r.secrets.Resolve(ctx, secrets.MarketCheckAPIKey, opts...)
	if err != nil {
		return nil, "", &CredentialError{Name: secrets.MarketCheckAPIKey, Err: err}
	}
	if key == "" {
		return nil, "", &CredentialError{
			Name: secrets.MarketCheckAPIKey,
			Err:  eris.New("not configured; set it in the secret store"),
		}
	}

	baseURL, err := r.secrets.Resolve(ctx, secrets.MarketCheckBaseURL, opts...)
	if err != nil {
		zap.L().Warn("resolver: base url override unavailable, using default", zap.Error(err))
		baseURL = ""
	}
	return r.newClient(key, baseURL), key, nil
}

func (r *Resolver) store(ctx context.Context, log *zap.Logger, res *model.Resolution, source model.SearchSource) {
	body, err := json.Marshal(res)
	if err != nil {
		log.Warn("resolver: marshal response for cache", zap.Error(err))
		return
	}
	listingID := ""
	if res.ListingID != nil {
		listingID = *res.ListingID
	}
	r.cache.Write(context.WithoutCancel(ctx), res.VIN, body, listingID, source)
}

func fromCache(entry *model.CacheEntry) (*model.Resolution, error) {
	var res model.Resolution
	if err := json.Unmarshal(entry.Response, &res); err != nil {
		return nil, eris.Wrap(err, "resolver: decode cached response")
	}
	res.Extras.Cache = &model.CacheInfo{
		Hit:       true,
		CachedAt:  entry.CachedAt,
		ExpiresAt: entry.ExpiresAt,
		HitCount:  entry.HitCount,
	}
	return &res, nil
}
