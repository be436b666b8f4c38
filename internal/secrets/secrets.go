// Package secrets resolves named credentials and endpoint overrides from a
// backing source, caching values for a short TTL.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Well-known secret names.
const (
	MarketCheckAPIKey  = "MARKETCHECK_API_KEY"
	MarketCheckBaseURL = "MARKETCHECK_BASE_URL"
	VPICBaseURL        = "VPIC_BASE_URL"
)

// DefaultTTL is how long a resolved value is served from memory.
const DefaultTTL = 5 * time.Minute

// DefaultLookupTimeout bounds a single shared source read.
const DefaultLookupTimeout = 10 * time.Second

// Source reads a secret value. found is false when the name is unknown.
type Source interface {
	Lookup(ctx context.Context, name string) (value string, found bool, err error)
}

// UnavailableError means the backing source could not be read.
type UnavailableError struct {
	Name string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("secrets: %s unavailable: %v", e.Name, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

type cached struct {
	value     string
	fetchedAt time.Time
}

// Resolver caches Source reads per name.
type Resolver struct {
	source        Source
	ttl           time.Duration
	lookupTimeout time.Duration
	nowFunc       func() time.Time

	mu    sync.RWMutex
	cache map[string]cached
	group singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithLookupTimeout overrides DefaultLookupTimeout.
func WithLookupTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

// WithClock replaces the resolver's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.nowFunc = now
	}
}

// NewResolver creates a resolver over source.
func NewResolver(source Source, opts ...Option) *Resolver {
	r := &Resolver{
		source:        source,
		ttl:           DefaultTTL,
		lookupTimeout: DefaultLookupTimeout,
		nowFunc:       time.Now,
		cache:         make(map[string]cached),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveOption tunes a single Resolve call.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	force bool
}

// WithForce bypasses the cached value, e.g. after an upstream rejected a key.
func WithForce() ResolveOption {
	return func(o *resolveOptions) {
		o.force = true
	}
}

// Resolve returns the value for name. Unknown names resolve to "" with no
// error. Concurrent callers for the same name share one source read; that
// read is detached from any single caller's cancellation and bounded by the
// lookup timeout instead.
func (r *Resolver) Resolve(ctx context.Context, name string, opts ...ResolveOption) (string, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !o.force {
		r.mu.RLock()
		c, ok := r.cache[name]
		r.mu.RUnlock()
		if ok && r.nowFunc().Sub(c.fetchedAt) < r.ttl {
			return c.value, nil
		}
	}

	key := name
	if o.force {
		key = "force:" + name
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
		defer cancel()
		value, found, err := r.source.Lookup(lookupCtx, name)
		if err != nil {
			return "", &UnavailableError{Name: name, Err: err}
		}
		if !found {
			zap.L().Debug("secrets: name not found", zap.String("name", name))
		}
		r.mu.Lock()
		r.cache[name] = cached{value: value, fetchedAt: r.nowFunc()}
		r.mu.Unlock()
		return value, nil
	})
	if err != nil {
		zap.L().Warn("secrets: resolve failed", zap.String("name", name), zap.Error(err))
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached value for name.
func (r *Resolver) Invalidate(name string) {
	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
}
