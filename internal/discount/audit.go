// Package discount checks that the discounted unit price on a delivery
// note matches the gross price and discount rate it was extracted with.
package discount

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"pharmatrack/internal"
)

type Status string

const (
	StatusOK         Status = "OK"
	StatusMismatch   Status = "MISMATCH"
	StatusIncomplete Status = "INCOMPLETE"
)

var (
	tolerance   = decimal.NewFromFloat(0.01)
	hundred     = decimal.NewFromInt(100)
	reNoise     = regexp.MustCompile(`(?i)[\s\x{00A0}\x{202F}€%]|eur(os?)?|ht`)
	reAmountish = regexp.MustCompile(`^-?[0-9.,]+$`)
)

// Result holds the parsed values. Expected and Delta are only set when
// every input parsed.
type Result struct {
	Status   Status
	Gross    *decimal.Decimal
	Rate     *decimal.Decimal
	Net      *decimal.Decimal
	Expected *decimal.Decimal
	Delta    *decimal.Decimal
}

type Line struct {
	internal.ProductWithInvoice
	Result
}

type Summary struct {
	OK         int
	Mismatch   int
	Incomplete int
}

// Audit compares gross*(1-rate/100) with the extracted net price.
func Audit(p internal.Product) Result {
	res := Result{
		Gross: ParseAmount(p.PrixSansRemise),
		Rate:  ParseAmount(p.Remise),
		Net:   ParseAmount(p.PrixRemisee),
	}
	if res.Gross == nil || res.Rate == nil || res.Net == nil {
		res.Status = StatusIncomplete
		return res
	}

	expected := res.Gross.Mul(decimal.NewFromInt(1).Sub(res.Rate.Div(hundred))).Round(4)
	delta := res.Net.Sub(expected)
	res.Expected = &expected
	res.Delta = &delta
	if delta.Abs().LessThanOrEqual(tolerance) {
		res.Status = StatusOK
	} else {
		res.Status = StatusMismatch
	}
	return res
}

// AuditAll keeps the input order.
func AuditAll(products []internal.ProductWithInvoice) ([]Line, Summary) {
	lines := make([]Line, 0, len(products))
	var sum Summary
	for _, p := range products {
		r := Audit(p.Product)
		switch r.Status {
		case StatusOK:
			sum.OK++
		case StatusMismatch:
			sum.Mismatch++
		default:
			sum.Incomplete++
		}
		lines = append(lines, Line{ProductWithInvoice: p, Result: r})
	}
	return lines, sum
}

// ParseAmount reads prices and rates written the French way: "12,50 €",
// "1 234,56", "10 %", "1.234,56". It returns nil for anything else.
func ParseAmount(raw *string) *decimal.Decimal {
	if raw == nil {
		return nil
	}
	s := reNoise.ReplaceAllString(*raw, "")
	if s == "" || !reAmountish.MatchString(s) {
		return nil
	}

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}
	if strings.Count(s, ".") > 1 || strings.Contains(s, ",") {
		return nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}
