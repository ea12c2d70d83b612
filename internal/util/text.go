package util

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var reUnsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

func StringPtr(v string) *string { return &v }

func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }

// OptionalString trims v and returns nil when nothing is left.
func OptionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func Deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func SanitizeFilename(name string) string {
	return reUnsafeFilename.ReplaceAllString(name, "_")
}

// StripSpaces removes every whitespace rune, including NBSP.
func StripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// NormalizeCode is the lookup form of a product code.
func NormalizeCode(input string) string {
	return strings.ToUpper(StripSpaces(input))
}

func IsAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
