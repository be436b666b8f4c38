package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/vehicle-resolver/internal/enrich"
	"github.com/sells-group/vehicle-resolver/internal/metrics"
	"github.com/sells-group/vehicle-resolver/internal/monitoring"
	"github.com/sells-group/vehicle-resolver/internal/payload"
	"github.com/sells-group/vehicle-resolver/internal/resilience"
	"github.com/sells-group/vehicle-resolver/internal/resolver"
	"github.com/sells-group/vehicle-resolver/internal/resultcache"
	"github.com/sells-group/vehicle-resolver/internal/search"
	"github.com/sells-group/vehicle-resolver/internal/secrets"
	"github.com/sells-group/vehicle-resolver/internal/store"
	"github.com/sells-group/vehicle-resolver/internal/weight"
	"github.com/sells-group/vehicle-resolver/pkg/httpcache"
	"github.com/sells-group/vehicle-resolver/pkg/marketcheck"
	"github.com/sells-group/vehicle-resolver/pkg/vpic"
)

// resolverEnv holds the services shared by the serve and resolve commands.
// Every cache is built once here and injected.
type resolverEnv struct {
	Store     store.Store
	Secrets   *secrets.Resolver
	Responses *httpcache.Cache
	Results   *resultcache.Cache
	Resolver  *resolver.Resolver
	Collector *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *resolverEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "vehicles.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initSecrets builds the secret resolver. Environment variables back up
// whichever store is configured.
func initSecrets(st store.Store) (*secrets.Resolver, error) {
	var primary secrets.Source
	switch cfg.Secrets.Source {
	case "", "config":
		primary = secrets.NewStaticSource(cfg.Secrets.Values)
	case "postgres":
		ps, ok := st.(*store.PostgresStore)
		if !ok {
			return nil, eris.New("secrets.source=postgres requires the postgres store")
		}
		primary = secrets.NewPostgresSource(ps.Pool())
	default:
		return nil, eris.Errorf("unsupported secrets source: %s", cfg.Secrets.Source)
	}

	src := secrets.ChainSource{primary, secrets.NewEnvSource()}
	return secrets.NewResolver(src, secrets.WithTTL(time.Duration(cfg.Secrets.TTLSecs)*time.Second)), nil
}

// initEnv opens and migrates the store and wires the resolution services.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*resolverEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	sec, err := initSecrets(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	responseTTL := time.Duration(cfg.Cache.HTTPTTLMins) * time.Minute
	responses := httpcache.New(responseTTL, httpcache.WithMaxEntries(cfg.Cache.HTTPMaxEntries))
	results := resultcache.New(st, resultcache.WithTTLs(
		time.Duration(cfg.Cache.ActiveTTLDays)*24*time.Hour,
		time.Duration(cfg.Cache.HistoricalTTLDays)*24*time.Hour,
	))

	vpicURL := cfg.VPIC.BaseURL
	if override, err := sec.Resolve(ctx, secrets.VPICBaseURL); err != nil {
		zap.L().Warn("vpic base url override unavailable, using config", zap.Error(err))
	} else if override != "" {
		vpicURL = override
	}
	decoder := vpic.NewClient(
		vpic.WithBaseURL(vpicURL),
		vpic.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.VPIC.TimeoutSecs) * time.Second}),
		vpic.WithCache(responses, responseTTL),
		vpic.WithLimiter(newLimiter(cfg.VPIC.RateLimit)),
	)
	estimator := weight.NewEstimator(decoder, weight.WithTimeout(time.Duration(cfg.VPIC.TimeoutSecs)*time.Second))

	builder, err := initBuilder()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	res := resolver.New(sec, results, estimator, builder, listingClientFactory(responses, responseTTL),
		resolver.WithSearchOptions(
			search.WithAttemptTimeout(time.Duration(cfg.Search.AttemptTimeoutSecs)*time.Second),
			search.WithObserver(metrics.ObserveAttempt),
		),
		resolver.WithEnrichOptions(
			enrich.WithTimeout(time.Duration(cfg.MarketCheck.TimeoutSecs)*time.Second),
			enrich.WithObserver(metrics.ObserveEnrichment),
		),
	)

	return &resolverEnv{
		Store:     st,
		Secrets:   sec,
		Responses: responses,
		Results:   results,
		Resolver:  res,
		Collector: monitoring.NewCollector(results, responses),
	}, nil
}

func initBuilder() (*payload.Builder, error) {
	if cfg.Fallback.RulesPath == "" {
		return payload.NewBuilder(nil), nil
	}
	rules, err := payload.LoadRules(cfg.Fallback.RulesPath)
	if err != nil {
		return nil, eris.Wrap(err, "load fallback rules")
	}
	return payload.NewBuilder(rules), nil
}

// listingClientFactory returns a factory whose clients share one HTTP
// client, response cache and rate limiter, so a rotated key costs only a
// new struct.
func listingClientFactory(responses *httpcache.Cache, ttl time.Duration) resolver.ClientFactory {
	hc := &http.Client{Timeout: time.Duration(cfg.MarketCheck.TimeoutSecs) * time.Second}
	limiter := newLimiter(cfg.MarketCheck.RateLimit)
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MarketCheck.MaxRetries + 1

	defaultURL := cfg.MarketCheck.BaseURL
	return func(apiKey, baseURL string) marketcheck.Client {
		if baseURL == "" {
			baseURL = defaultURL
		}
		return marketcheck.NewClient(apiKey,
			marketcheck.WithBaseURL(baseURL),
			marketcheck.WithHTTPClient(hc),
			marketcheck.WithCache(responses, ttl),
			marketcheck.WithLimiter(limiter),
			marketcheck.WithRetry(retry),
			marketcheck.WithRows(cfg.MarketCheck.Rows),
			marketcheck.WithRateLimitHook(metrics.ObserveRateLimit),
		)
	}
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}
