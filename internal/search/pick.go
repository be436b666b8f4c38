package search

import (
	"math"
	"sort"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/pkg/marketcheck"
)

// matching keeps listings whose VIN equals vin. Providers occasionally
// return near matches; those are never substituted for the requested VIN.
func matching(listings []marketcheck.Listing, vin string) []marketcheck.Listing {
	out := make([]marketcheck.Listing, 0, len(listings))
	for _, l := range listings {
		if model.SameVIN(l.VIN, vin) {
			out = append(out, l)
		}
	}
	return out
}

// Select picks one candidate. nearest takes the minimum distance with
// unknown distances last; freshest takes the latest last_seen_at. Ties keep
// provider order.
func Select(candidates []marketcheck.Listing, pick model.Pick) *marketcheck.Listing {
	if len(candidates) == 0 {
		return nil
	}
	sorted := make([]marketcheck.Listing, len(candidates))
	copy(sorted, candidates)

	switch pick {
	case model.PickFreshest:
		sort.SliceStable(sorted, func(i, j int) bool {
			return lastSeen(sorted[i]) > lastSeen(sorted[j])
		})
	default:
		sort.SliceStable(sorted, func(i, j int) bool {
			return distance(sorted[i]) < distance(sorted[j])
		})
	}
	return &sorted[0]
}

func distance(l marketcheck.Listing) float64 {
	if l.Dist == nil {
		return math.Inf(1)
	}
	return *l.Dist
}

func lastSeen(l marketcheck.Listing) int64 {
	if l.LastSeenAt == nil {
		return math.MinInt64
	}
	return *l.LastSeenAt
}
