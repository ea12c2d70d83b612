package util

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	leadingIntPattern   = regexp.MustCompile(`^[+-]?\d+`)
	leadingFloatPattern = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`)
)

// LeadingInt parses the integer prefix of s after leading whitespace,
// so "12 boites" gives 12 and "abc" fails.
func LeadingInt(s string) (int, bool) {
	m := leadingIntPattern.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return v, true
}

// LeadingFloat parses the decimal prefix of s using '.' as the only
// decimal separator.
func LeadingFloat(s string) (float64, bool) {
	m := leadingFloatPattern.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
