// Package expiry turns raw expiration strings into dates and urgency levels.
package expiry

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Urgency string

const (
	Critical Urgency = "critical"
	Warning  Urgency = "warning"
	Good     Urgency = "good"
	Unknown  Urgency = "unknown"
)

// MonthYearDay controls which day a month/year-only date resolves to.
type MonthYearDay string

const (
	FirstOfMonth MonthYearDay = "first"
	EndOfMonth   MonthYearDay = "end"
)

var (
	reDisallowed = regexp.MustCompile(`[^\p{L}\p{N}/\-.\s]`)
	reSpaces     = regexp.MustCompile(`\s+`)
)

type layoutKind int

const (
	dayMonthYear layoutKind = iota
	monthYear
	yearMonthDay
	monthNameYear
)

type candidate struct {
	name      string
	re        *regexp.Regexp
	kind      layoutKind
	yearDigit int
}

// Tried in order; day/month/year forms come before month/year forms.
var candidates = []candidate{
	{name: "dd/MM/yyyy", re: regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`), kind: dayMonthYear, yearDigit: 4},
	{name: "dd/MM/yy", re: regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2})$`), kind: dayMonthYear, yearDigit: 2},
	{name: "MM/yyyy", re: regexp.MustCompile(`^(\d{1,2})/(\d{4})$`), kind: monthYear, yearDigit: 4},
	{name: "MM/yy", re: regexp.MustCompile(`^(\d{1,2})/(\d{2})$`), kind: monthYear, yearDigit: 2},
	{name: "yyyy-MM-dd", re: regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`), kind: yearMonthDay, yearDigit: 4},
	{name: "MMM yy", re: regexp.MustCompile(`^(\p{L}+\.?) (\d{2})$`), kind: monthNameYear, yearDigit: 2},
	{name: "MMM yyyy", re: regexp.MustCompile(`^(\p{L}+\.?) (\d{4})$`), kind: monthNameYear, yearDigit: 4},
}

// French month names and abbreviations, folded to upper case without
// accents. Three letter English forms are accepted as well since
// wholesalers print both.
var monthNames = map[string]time.Month{
	"JANVIER": time.January, "JANV": time.January, "JAN": time.January,
	"FEVRIER": time.February, "FEVR": time.February, "FEV": time.February, "FEB": time.February,
	"MARS": time.March, "MAR": time.March,
	"AVRIL": time.April, "AVR": time.April, "APR": time.April,
	"MAI": time.May, "MAY": time.May,
	"JUIN": time.June, "JUN": time.June,
	"JUILLET": time.July, "JUILL": time.July, "JUIL": time.July, "JUL": time.July,
	"AOUT": time.August, "AOU": time.August, "AUG": time.August,
	"SEPTEMBRE": time.September, "SEPT": time.September, "SEP": time.September,
	"OCTOBRE": time.October, "OCT": time.October,
	"NOVEMBRE": time.November, "NOV": time.November,
	"DECEMBRE": time.December, "DEC": time.December,
}

// Normalizer parses expiration dates and classifies urgency relative to Now.
type Normalizer struct {
	Now          func() time.Time
	Location     *time.Location
	MonthYearDay MonthYearDay
	CriticalDays int
	WarningDays  int
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		Now:          time.Now,
		Location:     time.Local,
		MonthYearDay: FirstOfMonth,
		CriticalDays: 30,
		WarningDays:  90,
	}
}

var defaultNormalizer = NewNormalizer()

func ParseExpirationDate(raw string) *time.Time {
	return defaultNormalizer.Parse(raw)
}

func DaysRemaining(date time.Time) int {
	return defaultNormalizer.DaysRemaining(date)
}

func UrgencyLevel(date *time.Time) Urgency {
	return defaultNormalizer.Urgency(date)
}

// Parse returns nil for empty input or when no candidate layout matches.
func (n *Normalizer) Parse(raw string) *time.Time {
	clean := cleanDate(raw)
	if clean == "" {
		return nil
	}

	now := n.now()
	for _, c := range candidates {
		m := c.re.FindStringSubmatch(clean)
		if m == nil {
			continue
		}
		if t, ok := n.build(c, m, now.Year()); ok {
			return &t
		}
	}
	return nil
}

// DaysRemaining is the signed number of whole days from now until date,
// truncated toward zero.
func (n *Normalizer) DaysRemaining(date time.Time) int {
	hours := date.Sub(n.now()).Hours()
	return int(math.Trunc(hours / 24))
}

func (n *Normalizer) Urgency(date *time.Time) Urgency {
	if date == nil {
		return Unknown
	}
	return n.UrgencyForDays(n.DaysRemaining(*date))
}

// UrgencyForDays buckets days remaining; both bounds are inclusive on the
// more urgent side.
func (n *Normalizer) UrgencyForDays(days int) Urgency {
	switch {
	case days <= n.criticalDays():
		return Critical
	case days <= n.warningDays():
		return Warning
	default:
		return Good
	}
}

func (n *Normalizer) build(c candidate, m []string, currentYear int) (time.Time, bool) {
	var day, month, year int
	var ok bool

	switch c.kind {
	case dayMonthYear:
		day, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
		year, _ = strconv.Atoi(m[3])
	case monthYear:
		month, _ = strconv.Atoi(m[1])
		year, _ = strconv.Atoi(m[2])
	case yearMonthDay:
		year, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
		day, _ = strconv.Atoi(m[3])
	case monthNameYear:
		var mon time.Month
		mon, ok = lookupMonth(m[1])
		if !ok {
			return time.Time{}, false
		}
		month = int(mon)
		year, _ = strconv.Atoi(m[2])
	}

	if c.yearDigit == 2 {
		year = twoDigitYear(year, currentYear)
	}
	if month < 1 || month > 12 {
		return time.Time{}, false
	}

	if day == 0 {
		if c.kind == dayMonthYear || c.kind == yearMonthDay {
			return time.Time{}, false
		}
		day = 1
		if n.MonthYearDay == EndOfMonth {
			day = daysIn(time.Month(month), year)
		}
	}
	if day > daysIn(time.Month(month), year) {
		return time.Time{}, false
	}

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, n.location()), true
}

// twoDigitYear picks the century that puts the year within 50 years ahead
// of the current year.
func twoDigitYear(yy, currentYear int) int {
	rangeEnd := currentYear + 50
	century := rangeEnd / 100 * 100
	if yy >= rangeEnd%100 {
		return yy + century - 100
	}
	return yy + century
}

func daysIn(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func cleanDate(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = reDisallowed.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func lookupMonth(token string) (time.Month, bool) {
	folded, _, err := transform.String(accentFolder, token)
	if err != nil {
		folded = token
	}
	folded = strings.ToUpper(strings.TrimSuffix(folded, "."))
	m, ok := monthNames[folded]
	return m, ok
}

func (n *Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

func (n *Normalizer) location() *time.Location {
	if n.Location == nil {
		return time.Local
	}
	return n.Location
}

func (n *Normalizer) criticalDays() int {
	if n.CriticalDays <= 0 {
		return 30
	}
	return n.CriticalDays
}

func (n *Normalizer) warningDays() int {
	if n.WarningDays <= 0 {
		return 90
	}
	return n.WarningDays
}
