package httpcache

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// RateLimit is the quota telemetry an upstream reports in response headers.
type RateLimit struct {
	Limit     *int
	Remaining *int
	Reset     string
}

// RateLimitHook receives parsed telemetry, e.g. to update a gauge.
type RateLimitHook func(service string, rl RateLimit)

var (
	limitHeaders     = []string{"X-RateLimit-Limit", "RateLimit-Limit", "X-Ratelimit-Allotted"}
	remainingHeaders = []string{"X-RateLimit-Remaining", "RateLimit-Remaining", "X-Ratelimit-Remaining-Month"}
	resetHeaders     = []string{"X-RateLimit-Reset", "RateLimit-Reset", "Retry-After"}
)

// ParseRateLimit extracts quota headers. ok is false when none are present.
func ParseRateLimit(h http.Header) (RateLimit, bool) {
	var rl RateLimit
	rl.Limit = firstInt(h, limitHeaders)
	rl.Remaining = firstInt(h, remainingHeaders)
	for _, name := range resetHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			rl.Reset = v
			break
		}
	}
	return rl, rl.Limit != nil || rl.Remaining != nil || rl.Reset != ""
}

// Observe logs the rate-limit headers of an upstream response and forwards
// them to hook. Responses without such headers are ignored.
func Observe(service string, h http.Header, hook RateLimitHook) {
	rl, ok := ParseRateLimit(h)
	if !ok {
		return
	}

	fields := []zap.Field{zap.String("service", service)}
	if rl.Limit != nil {
		fields = append(fields, zap.Int("limit", *rl.Limit))
	}
	if rl.Remaining != nil {
		fields = append(fields, zap.Int("remaining", *rl.Remaining))
	}
	if rl.Reset != "" {
		fields = append(fields, zap.String("reset", rl.Reset))
	}
	if rl.Remaining != nil && *rl.Remaining <= 0 {
		zap.L().Warn("upstream rate limit exhausted", fields...)
	} else {
		zap.L().Info("upstream rate limit", fields...)
	}

	if hook != nil {
		hook(service, rl)
	}
}

func firstInt(h http.Header, names []string) *int {
	for _, name := range names {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		return &n
	}
	return nil
}
