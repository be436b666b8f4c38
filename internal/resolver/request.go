package resolver

import (
	"regexp"
	"strconv"

	"github.com/sells-group/vehicle-resolver/internal/model"
)

var zipPattern = regexp.MustCompile(`^\d{5}$`)

// Request is one resolution request.
type Request struct {
	VIN    string
	Zip    string
	Radius int
	Pick   model.Pick
}

// ParseRequest validates raw query values. An empty radius takes
// defaultRadius; a radius outside 1..maxRadius is rejected.
func ParseRequest(rawVIN, zip, radius, pick string, defaultRadius, maxRadius int) (Request, error) {
	vin := model.NormalizeVIN(rawVIN)
	if !model.ValidVIN(vin) {
		return Request{}, &ValidationError{Field: "vin", Reason: "must be 11-17 characters of A-Z and 0-9, excluding I, O and Q"}
	}
	if zip != "" && !zipPattern.MatchString(zip) {
		return Request{}, &ValidationError{Field: "zip", Reason: "must be 5 digits"}
	}

	r := defaultRadius
	if radius != "" {
		n, err := strconv.Atoi(radius)
		if err != nil || n < 1 || n > maxRadius {
			return Request{}, &ValidationError{Field: "radius", Reason: "must be an integer in 1.." + strconv.Itoa(maxRadius)}
		}
		r = n
	}

	p, ok := model.ParsePick(pick)
	if !ok {
		return Request{}, &ValidationError{Field: "pick", Reason: "must be nearest or freshest"}
	}

	return Request{VIN: vin, Zip: zip, Radius: r, Pick: p}, nil
}
