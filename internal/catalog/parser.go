// Package catalog imports the pharmacy stock catalog and joins it onto
// extracted products.
package catalog

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"pharmatrack/internal"
	"pharmatrack/internal/util"
)

const (
	sampleLines   = 5
	minFields     = 4
	minCodeLength = 8
)

var reLineBreak = regexp.MustCompile(`\r?\n`)

// ParseResult holds the valid records in file order. ErrorCount only counts
// rows rejected for their code; short rows are dropped silently.
type ParseResult struct {
	Records       []internal.CatalogRecord
	ErrorCount    int
	Separator     rune
	HeaderSkipped bool
	Rejected      []RejectedRow
}

type RejectedRow struct {
	Line   int
	Code   string
	Reason string
}

func Parse(raw string) ParseResult {
	lines := splitLines(raw)
	res := ParseResult{Separator: DetectSeparator(lines)}
	if len(lines) == 0 {
		return res
	}
	sep := string(res.Separator)

	start := 0
	if isHeader(strings.Split(lines[0], sep)) {
		start = 1
		res.HeaderSkipped = true
	}

	for i := start; i < len(lines); i++ {
		raw := strings.Split(lines[i], sep)
		if len(raw) < minFields {
			continue
		}
		fields := make([]string, len(raw))
		for j, f := range raw {
			fields[j] = cleanField(f)
		}

		rotation := fields[3]
		if res.Separator == ',' && len(fields) > minFields && util.IsAllDigits(fields[3]) && util.IsAllDigits(fields[4]) {
			rotation = fields[3] + "," + fields[4]
		}

		code := fields[0]
		if code == "" || utf8.RuneCountInString(code) < minCodeLength {
			res.ErrorCount++
			res.Rejected = append(res.Rejected, RejectedRow{Line: i + 1, Code: code, Reason: "code too short"})
			continue
		}

		res.Records = append(res.Records, internal.CatalogRecord{
			Code:     code,
			Name:     fields[1],
			Stock:    parseStock(fields[2]),
			Rotation: parseRotation(rotation),
		})
	}

	return res
}

// DetectSeparator samples the first lines and picks ';' when there is at
// least one semicolon per sampled line on average, ',' otherwise.
func DetectSeparator(lines []string) rune {
	sample := lines
	if len(sample) > sampleLines {
		sample = sample[:sampleLines]
	}

	semicolons := 0
	for _, l := range sample {
		semicolons += strings.Count(l, ";")
	}
	if len(sample) > 0 && semicolons >= len(sample) {
		return ';'
	}
	return ','
}

func splitLines(raw string) []string {
	var out []string
	for _, l := range reLineBreak.Split(raw, -1) {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

func isHeader(first []string) bool {
	if len(first) == 0 {
		return false
	}
	f := cleanField(first[0])
	if isNumeric(f) {
		return false
	}
	lower := strings.ToLower(f)
	return strings.Contains(lower, "ean") || strings.Contains(lower, "code")
}

func isNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// cleanField trims and removes one leading and one trailing double quote.
func cleanField(f string) string {
	f = strings.TrimSpace(f)
	f = strings.TrimPrefix(f, `"`)
	f = strings.TrimSuffix(f, `"`)
	return f
}

func isMissing(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "n/a")
}

func parseStock(v string) int {
	if isMissing(v) {
		return 0
	}
	n, ok := util.LeadingInt(util.StripSpaces(v))
	if !ok {
		return 0
	}
	return n
}

func parseRotation(v string) float64 {
	if isMissing(v) {
		return 0
	}
	v = util.StripSpaces(strings.Replace(v, ",", ".", 1))
	f, ok := util.LeadingFloat(v)
	if !ok {
		return 0
	}
	return f
}
