package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNormalizer(now time.Time) *Normalizer {
	n := NewNormalizer()
	n.Now = func() time.Time { return now }
	n.Location = time.UTC
	return n
}

func TestParseKnownFormats(t *testing.T) {
	n := fixedNormalizer(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))

	cases := []struct {
		in   string
		want time.Time
	}{
		{"12/2026", time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)},
		{"31/01/2027", time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)},
		{"05/03/28", time.Date(2028, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"07/27", time.Date(2027, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"2027-04-30", time.Date(2027, 4, 30, 0, 0, 0, 0, time.UTC)},
		{"DEC 24", time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)},
		{"janv. 2028", time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"Février 2027", time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"AOÛT 27", time.Date(2027, 8, 1, 0, 0, 0, 0, time.UTC)},
		{"  EXP: 11/2027 ", time.Time{}},
	}

	for _, tc := range cases {
		got := n.Parse(tc.in)
		if tc.want.IsZero() {
			assert.Nil(t, got, tc.in)
			continue
		}
		require.NotNil(t, got, tc.in)
		assert.True(t, tc.want.Equal(*got), "%s: got %s want %s", tc.in, got, tc.want)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	n := fixedNormalizer(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))

	for _, in := range []string{"", "   ", "not a date", "31/02/2027", "13/2027", "FOO 27", "2027-13-01"} {
		assert.Nil(t, n.Parse(in), in)
	}
}

func TestParseStripsStrayPunctuation(t *testing.T) {
	n := fixedNormalizer(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))

	got := n.Parse("*DEC* 2027")
	require.NotNil(t, got)
	assert.Equal(t, time.December, got.Month())
	assert.Equal(t, 2027, got.Year())
}

func TestDayMonthYearWinsOverMonthYear(t *testing.T) {
	n := fixedNormalizer(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))

	got := n.Parse("01/12/2026")
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Day())
	assert.Equal(t, time.December, got.Month())
}

func TestMonthYearEndOfMonthPolicy(t *testing.T) {
	n := fixedNormalizer(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))
	n.MonthYearDay = EndOfMonth

	got := n.Parse("02/2028")
	require.NotNil(t, got)
	assert.Equal(t, 29, got.Day())

	full := n.Parse("10/02/2028")
	require.NotNil(t, full)
	assert.Equal(t, 10, full.Day())
}

func TestTwoDigitYearWindow(t *testing.T) {
	assert.Equal(t, 2024, twoDigitYear(24, 2026))
	assert.Equal(t, 2075, twoDigitYear(75, 2026))
	assert.Equal(t, 1976, twoDigitYear(76, 2026))
	assert.Equal(t, 1999, twoDigitYear(99, 2026))
}

func TestDaysRemainingTruncatesTowardZero(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	n := fixedNormalizer(now)

	assert.Equal(t, 0, n.DaysRemaining(now.Add(23*time.Hour)))
	assert.Equal(t, 1, n.DaysRemaining(now.Add(25*time.Hour)))
	assert.Equal(t, 0, n.DaysRemaining(now.Add(-23*time.Hour)))
	assert.Equal(t, -2, n.DaysRemaining(now.Add(-49*time.Hour)))
}

func TestUrgencyBoundaries(t *testing.T) {
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	n := fixedNormalizer(now)

	at := func(days int) *time.Time {
		d := now.AddDate(0, 0, days)
		return &d
	}

	assert.Equal(t, Critical, n.Urgency(at(-5)))
	assert.Equal(t, Critical, n.Urgency(at(30)))
	assert.Equal(t, Warning, n.Urgency(at(31)))
	assert.Equal(t, Warning, n.Urgency(at(90)))
	assert.Equal(t, Good, n.Urgency(at(91)))
	assert.Equal(t, Unknown, n.Urgency(nil))
}

func TestUrgencyCustomThresholds(t *testing.T) {
	n := fixedNormalizer(time.Now())
	n.CriticalDays = 7
	n.WarningDays = 14

	assert.Equal(t, Critical, n.UrgencyForDays(7))
	assert.Equal(t, Warning, n.UrgencyForDays(8))
	assert.Equal(t, Good, n.UrgencyForDays(15))
}

func TestPackageHelpers(t *testing.T) {
	got := ParseExpirationDate("12/2026")
	require.NotNil(t, got)
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, time.December, got.Month())
	assert.Equal(t, 1, got.Day())
	assert.Nil(t, ParseExpirationDate("not a date"))
	assert.Equal(t, Unknown, UrgencyLevel(nil))
}
