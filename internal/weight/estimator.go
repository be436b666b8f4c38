// Package weight estimates curb weight from decoded VIN attributes, deriving
// it from GVWR with body-aware payload factors when no exact figure exists.
package weight

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/internal/resilience"
	"github.com/sells-group/vehicle-resolver/pkg/vpic"
)

// Payload factors: the share of GVWR that is vehicle rather than payload.
const (
	factorPassenger  = 0.80
	factorHeavyDuty  = 0.65
	factorClass2B    = 0.68
	factorLightTruck = 0.74
)

// Option configures an Estimator.
type Option func(*Estimator)

// WithTimeout bounds each decode call.
func WithTimeout(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithBreaker replaces the decoder circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(e *Estimator) {
		e.breaker = cb
	}
}

// Estimator turns a VIN into a WeightEstimate.
type Estimator struct {
	decoder vpic.Client
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewEstimator creates an estimator backed by a vPIC decoder.
func NewEstimator(decoder vpic.Client, opts ...Option) *Estimator {
	e := &Estimator{
		decoder: decoder,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "vpic",
			FailureThreshold: 5,
			ResetTimeout:     time.Minute,
		}),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate never fails: any decode problem yields an unavailable estimate.
func (e *Estimator) Estimate(ctx context.Context, vin string) model.WeightEstimate {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	d, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*vpic.Decoded, error) {
		return e.decoder.Decode(ctx, vin)
	})
	if err != nil {
		zap.L().Warn("weight: decode failed", zap.String("vin", vin), zap.Error(err))
		return model.UnavailableWeight()
	}
	if d.Make == "" && d.Model == "" && d.ModelYear == "" {
		zap.L().Info("weight: vin not recognized by decoder", zap.String("vin", vin))
		return model.UnavailableWeight()
	}

	est := FromDecoded(d)
	zap.L().Debug("weight: estimated",
		zap.String("vin", vin),
		zap.String("source", string(est.Source)),
		zap.String("fee_schedule", string(est.FeeSchedule)),
	)
	return est
}

// FromDecoded applies the exact-then-GVWR rules to decoder output.
func FromDecoded(d *vpic.Decoded) model.WeightEstimate {
	est := model.UnavailableWeight()
	est.FeeSchedule = FeeSchedule(d.BodyClass, d.VehicleType)
	est.Detail.BodyClass = d.BodyClass
	est.Detail.VehicleType = d.VehicleType

	if w, ok := parseCurbWeight(d.CurbWeightLB); ok {
		est.Weight = &w
		est.Source = model.WeightExact
		est.Confidence = model.ConfidenceHigh
		est.Detail.Reasoning = "curb weight reported by decoder"
		return est
	}

	g, ok := ParseGVWR(d.GVWR)
	if !ok {
		return est
	}
	base, ok := g.Base()
	if !ok {
		return est
	}

	factor, reasoning := payloadFactor(g, base, TruckLike(d.BodyClass, d.VehicleType))
	w := int(math.Round(base * factor))

	est.Weight = &w
	est.Source = model.WeightDerived
	est.Confidence = model.ConfidenceMedium
	est.Detail.Factor = &factor
	est.Detail.Reasoning = reasoning
	est.Detail.GVWRClass = g.Class
	est.Detail.GVWRMin = g.Min
	est.Detail.GVWRMax = g.Max
	est.Detail.GVWRMidpoint = g.Midpoint()
	return est
}

func payloadFactor(g GVWR, base float64, truckLike bool) (float64, string) {
	switch {
	case !truckLike:
		return factorPassenger, "passenger payload ~20% of GVWR"
	case g.ClassNum >= 3 || base >= 10000:
		return factorHeavyDuty, fmt.Sprintf("heavy-duty truck (GVWR %s) payload ~35%% of GVWR", gvwrLabel(g, base))
	case g.Class == "2B" || base >= 8500:
		return factorClass2B, fmt.Sprintf("class 2B truck (GVWR %s) payload ~32%% of GVWR", gvwrLabel(g, base))
	default:
		return factorLightTruck, fmt.Sprintf("light truck (GVWR %s) payload ~26%% of GVWR", gvwrLabel(g, base))
	}
}

func gvwrLabel(g GVWR, base float64) string {
	if g.Class != "" {
		return "class " + g.Class
	}
	return strconv.FormatFloat(base, 'f', 0, 64) + " lb"
}

func parseCurbWeight(s string) (int, bool) {
	s = strings.ReplaceAll(strings.ToLower(s), ",", "")
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "lb"))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return int(math.Round(f)), true
}
