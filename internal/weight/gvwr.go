package weight

import (
	"regexp"
	"strconv"
	"strings"
)

// GVWR is a parsed Gross Vehicle Weight Rating.
type GVWR struct {
	Class    string // e.g. "1C", "2H", "3"; empty when the text has no class
	ClassNum int    // leading digit of Class, 0 when unknown
	Min      *int
	Max      *int
}

// Midpoint returns the center of the range when both bounds are known.
func (g GVWR) Midpoint() *float64 {
	if g.Min == nil || g.Max == nil {
		return nil
	}
	m := float64(*g.Min+*g.Max) / 2
	return &m
}

// Base is the figure the payload factor applies to: the midpoint when both
// bounds are known, otherwise the single known bound.
func (g GVWR) Base() (float64, bool) {
	if m := g.Midpoint(); m != nil {
		return *m, true
	}
	if g.Max != nil {
		return float64(*g.Max), true
	}
	if g.Min != nil {
		return float64(*g.Min), true
	}
	return 0, false
}

var (
	classRe   = regexp.MustCompile(`(?i)class\s+(\d+)([a-z]?)\s*:?`)
	parenRe   = regexp.MustCompile(`\([^)]*\)`)
	numberRe  = regexp.MustCompile(`\d{1,3}(?:,\d{3})+|\d+`)
	upperOnly = []string{"or less", "and less", "and under", "or under", "up to", "max"}
	lowerOnly = []string{"and above", "or above", "and more", "or more", "and over", "or over", "+"}
)

// ParseGVWR extracts class and pound bounds from vPIC's free-text GVWR, such
// as "Class 1C: 4,001 - 5,000 lb (1,814 - 2,268 kg)", "6,000 lb or less" or
// "Class 8: 33,001 lb and above". ok is false when no bound can be read.
func ParseGVWR(text string) (GVWR, bool) {
	var g GVWR
	s := strings.TrimSpace(text)
	if s == "" {
		return g, false
	}

	if m := classRe.FindStringSubmatchIndex(s); m != nil {
		num := s[m[2]:m[3]]
		g.Class = strings.ToUpper(num + s[m[4]:m[5]])
		g.ClassNum, _ = strconv.Atoi(num)
		s = s[:m[0]] + s[m[1]:]
	}

	// Drop metric equivalents in parentheses.
	s = parenRe.ReplaceAllString(s, " ")
	lower := strings.ToLower(s)

	var nums []int
	for _, raw := range numberRe.FindAllString(s, -1) {
		n, err := strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
		if err != nil || n <= 0 {
			continue
		}
		nums = append(nums, n)
	}

	switch {
	case len(nums) >= 2:
		lo, hi := nums[0], nums[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		g.Min, g.Max = &lo, &hi
	case len(nums) == 1:
		n := nums[0]
		switch {
		case containsAny(lower, upperOnly):
			g.Max = &n
		case containsAny(lower, lowerOnly):
			g.Min = &n
		default:
			g.Min, g.Max = &n, &n
		}
	default:
		return g, false
	}
	return g, true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
