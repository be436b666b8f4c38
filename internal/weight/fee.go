package weight

import (
	"strings"

	"github.com/sells-group/vehicle-resolver/internal/model"
)

var (
	// Passenger vehicles built on truck platforms.
	passengerMarkers = []string{"sport utility", "suv", "minivan", "mini-van", "multipurpose passenger", "mpv", "crossover"}
	truckMarkers     = []string{"pickup", "truck", "van", "cargo", "chassis cab", "cab chassis", "incomplete"}
)

// TruckLike reports whether body or vehicle type describes a truck-schedule
// vehicle. Exclusions are checked first because "Minivan" contains "van"
// and vPIC reports SUVs with a vehicle type of "TRUCK".
func TruckLike(bodyClass, vehicleType string) bool {
	text := strings.ToLower(bodyClass + " " + vehicleType)
	if strings.TrimSpace(text) == "" {
		return false
	}
	if containsAny(text, passengerMarkers) {
		return false
	}
	return containsAny(text, truckMarkers)
}

// FeeSchedule classifies a vehicle onto the truck or auto fee table.
func FeeSchedule(bodyClass, vehicleType string) model.FeeSchedule {
	if TruckLike(bodyClass, vehicleType) {
		return model.FeeScheduleTruck
	}
	return model.FeeScheduleAuto
}
