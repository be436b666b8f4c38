// Package search runs the ordered listing strategies for a VIN and selects
// one candidate from the first strategy that produces a match.
package search

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/pkg/marketcheck"
)

// Outcome is the result of one search: the winning candidate (if any) and
// a log of every strategy that ran.
type Outcome struct {
	Candidate *marketcheck.Listing
	Strategy  model.SearchSource
	Attempts  []model.Attempt
}

// Found reports whether a candidate was selected.
func (o Outcome) Found() bool {
	return o.Candidate != nil
}

// AllFailed reports whether every attempted strategy errored.
func (o Outcome) AllFailed() bool {
	if len(o.Attempts) == 0 {
		return false
	}
	for _, a := range o.Attempts {
		if a.Error == "" {
			return false
		}
	}
	return true
}

// UpstreamStatus returns the HTTP status of the last failed attempt that
// carried one, or 0.
func (o Outcome) UpstreamStatus() int {
	for i := len(o.Attempts) - 1; i >= 0; i-- {
		if o.Attempts[i].StatusCode != 0 {
			return o.Attempts[i].StatusCode
		}
	}
	return 0
}

// AuthRejected reports whether any attempt was refused for credentials.
func (o Outcome) AuthRejected() bool {
	for _, a := range o.Attempts {
		if a.StatusCode == 401 || a.StatusCode == 403 {
			return true
		}
	}
	return false
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAttemptTimeout bounds each strategy call.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

// WithStrategies replaces the default strategy list.
func WithStrategies(s []Strategy) Option {
	return func(o *Orchestrator) {
		o.strategies = s
	}
}

// WithObserver receives every attempt as it completes.
func WithObserver(fn func(model.Attempt, time.Duration)) Option {
	return func(o *Orchestrator) {
		o.observe = fn
	}
}

// Orchestrator executes strategies strictly in order. Each call may be
// billable, so strategies never run in parallel and the first match ends
// the search.
type Orchestrator struct {
	client         marketcheck.Client
	strategies     []Strategy
	attemptTimeout time.Duration
	observe        func(model.Attempt, time.Duration)
}

// NewOrchestrator creates an orchestrator over client.
func NewOrchestrator(client marketcheck.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:         client,
		strategies:     Strategies,
		attemptTimeout: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Search runs the strategies for q. Strategy failures are recorded in the
// attempt log and never abort the search.
func (o *Orchestrator) Search(ctx context.Context, q Query) Outcome {
	log := zap.L().With(zap.String("component", "search"), zap.String("vin", q.VIN))
	out := Outcome{Strategy: model.SourceNone, Attempts: []model.Attempt{}}

	for _, s := range o.strategies {
		if !s.Applies(q) {
			continue
		}
		if ctx.Err() != nil {
			log.Info("search: request cancelled, stopping", zap.Error(ctx.Err()))
			break
		}

		attempt := model.Attempt{
			Strategy:    string(s.Name),
			Endpoint:    string(s.Endpoint),
			Description: s.Describe(q),
		}

		start := time.Now()
		candidates, err := o.run(ctx, s, q)
		elapsed := time.Since(start)

		if err != nil {
			attempt.Error = err.Error()
			attempt.StatusCode = marketcheck.StatusCode(err)
			log.Warn("search: strategy failed",
				zap.String("strategy", string(s.Name)),
				zap.Int("status", attempt.StatusCode),
				zap.Error(err),
			)
		} else {
			n := len(candidates)
			attempt.ResultCount = &n
			log.Debug("search: strategy complete",
				zap.String("strategy", string(s.Name)),
				zap.Int("matches", n),
				zap.Duration("elapsed", elapsed),
			)
		}

		out.Attempts = append(out.Attempts, attempt)
		if o.observe != nil {
			o.observe(attempt, elapsed)
		}

		if err == nil && len(candidates) > 0 {
			out.Candidate = Select(candidates, q.Pick)
			out.Strategy = s.Name
			log.Info("search: candidate selected",
				zap.String("strategy", string(s.Name)),
				zap.String("listing_id", out.Candidate.ID),
			)
			return out
		}
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, s Strategy, q Query) ([]marketcheck.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	defer cancel()

	resp, err := o.client.Search(ctx, s.Endpoint, s.Params(q))
	if err != nil {
		return nil, err
	}
	return matching(resp.Listings, q.VIN), nil
}
