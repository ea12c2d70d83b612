package expiry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"pharmatrack/internal"
	"pharmatrack/internal/util"
)

type Mode string

const (
	ModeAll      Mode = "all"
	ModeCritical Mode = "critical"
	ModeWarning  Mode = "warning"
	ModeCustom   Mode = "custom"
)

func ParseMode(v string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(v))); m {
	case "", ModeAll:
		return ModeAll, nil
	case ModeCritical, ModeWarning, ModeCustom:
		return m, nil
	default:
		return "", fmt.Errorf("unknown report mode %q", v)
	}
}

// Filter selects dashboard rows. For ModeCustom, To includes the whole day.
type Filter struct {
	Mode   Mode
	From   *time.Time
	To     *time.Time
	Search string
}

type Row struct {
	internal.EnrichedProduct
	Expiration    *time.Time
	DaysRemaining *int
	Urgency       Urgency
}

type Summary struct {
	Total    int
	Critical int
	Warning  int
	Good     int
	Unknown  int
}

type Report struct {
	Rows    []Row
	Summary Summary
}

// BuildReport classifies every product, counts urgencies over the whole set
// and returns the filtered rows sorted by days remaining, undated rows last.
func BuildReport(products []internal.EnrichedProduct, f Filter, n *Normalizer) Report {
	if n == nil {
		n = defaultNormalizer
	}

	var out Report
	for _, p := range products {
		row := Row{EnrichedProduct: p, Urgency: Unknown}
		if exp := n.Parse(util.Deref(p.ExpirationDate)); exp != nil {
			days := n.DaysRemaining(*exp)
			row.Expiration = exp
			row.DaysRemaining = &days
			row.Urgency = n.UrgencyForDays(days)
		}

		out.Summary.add(row.Urgency)
		if f.keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}

	sort.SliceStable(out.Rows, func(i, j int) bool {
		a, b := out.Rows[i].DaysRemaining, out.Rows[j].DaysRemaining
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return out
}

func (s *Summary) add(u Urgency) {
	s.Total++
	switch u {
	case Critical:
		s.Critical++
	case Warning:
		s.Warning++
	case Good:
		s.Good++
	default:
		s.Unknown++
	}
}

func (f Filter) keep(r Row) bool {
	switch f.Mode {
	case ModeCritical:
		if r.Urgency != Critical {
			return false
		}
	case ModeWarning:
		if r.Urgency != Critical && r.Urgency != Warning {
			return false
		}
	case ModeCustom:
		if r.Expiration == nil {
			return false
		}
		if f.From != nil && r.Expiration.Before(*f.From) {
			return false
		}
		if f.To != nil && r.Expiration.After(endOfDay(*f.To)) {
			return false
		}
	}
	return matchesSearch(r, f.Search)
}

func matchesSearch(r Row, term string) bool {
	term = strings.TrimSpace(term)
	if term == "" {
		return true
	}
	if fuzzy.MatchNormalizedFold(term, r.Name) {
		return true
	}
	lower := strings.ToLower(term)
	if strings.Contains(strings.ToLower(util.Deref(r.Code13)), lower) {
		return true
	}
	return strings.Contains(strings.ToLower(util.Deref(r.LotNumber)), lower)
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}
