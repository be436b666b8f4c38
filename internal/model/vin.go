package model

import (
	"regexp"
	"strings"
)

// vinPattern matches a normalized VIN: 11-17 characters, I/O/Q excluded.
var vinPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{11,17}$`)

// NormalizeVIN uppercases raw and strips every character that cannot appear
// in a VIN, including I, O and Q.
func NormalizeVIN(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		switch {
		case r == 'I' || r == 'O' || r == 'Q':
			continue
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidVIN reports whether vin is already in normalized form.
func ValidVIN(vin string) bool {
	return vinPattern.MatchString(vin)
}

// SameVIN compares two VINs after normalization. An empty provider VIN never
// matches.
func SameVIN(a, b string) bool {
	na := NormalizeVIN(a)
	return na != "" && na == NormalizeVIN(b)
}
