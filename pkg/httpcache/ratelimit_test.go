package httpcache

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRateLimit(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("X-RateLimit-Limit", "1000")
	h.Set("X-RateLimit-Remaining", "998")
	h.Set("X-RateLimit-Reset", "3600")

	rl, ok := ParseRateLimit(h)
	require.True(t, ok)
	require.NotNil(t, rl.Limit)
	require.NotNil(t, rl.Remaining)
	assert.Equal(t, 1000, *rl.Limit)
	assert.Equal(t, 998, *rl.Remaining)
	assert.Equal(t, "3600", rl.Reset)
}

func TestParseRateLimit_UnprefixedAndGarbage(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("RateLimit-Remaining", "12")
	h.Set("X-RateLimit-Limit", "lots")

	rl, ok := ParseRateLimit(h)
	require.True(t, ok)
	assert.Nil(t, rl.Limit, "non-numeric values are skipped")
	assert.Equal(t, 12, *rl.Remaining)
}

func TestParseRateLimit_Absent(t *testing.T) {
	t.Parallel()

	_, ok := ParseRateLimit(http.Header{})
	assert.False(t, ok)
}

func TestObserve_CallsHookOnlyWithHeaders(t *testing.T) {
	t.Parallel()

	var calls int
	var got RateLimit
	hook := func(service string, rl RateLimit) {
		calls++
		got = rl
		assert.Equal(t, "marketcheck", service)
	}

	Observe("marketcheck", http.Header{}, hook)
	assert.Equal(t, 0, calls)

	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	Observe("marketcheck", h, hook)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, *got.Remaining)

	// nil hook is fine
	Observe("marketcheck", h, nil)
}
