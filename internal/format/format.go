// Package format converts numbers into the localized strings panels render.
package format

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Placeholder is rendered wherever a value is unavailable.
const Placeholder = "—"

var symbols = map[string]string{
	"BRL": "R$",
	"USD": "US$",
	"EUR": "€",
	"GBP": "£",
}

// Formatter formats values for a single locale. It is safe for concurrent use.
type Formatter struct {
	tag     language.Tag
	printer *message.Printer
	symbol  string
}

// New returns a Formatter for the BCP 47 locale. Unparseable locales fall
// back to Brazilian Portuguese.
func New(locale string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.BrazilianPortuguese
	}
	sym := "R$"
	if unit, conf := currency.FromTag(tag); conf != language.No {
		if s, ok := symbols[unit.String()]; ok {
			sym = s
		} else {
			sym = unit.String()
		}
	}
	return &Formatter{tag: tag, printer: message.NewPrinter(tag), symbol: sym}
}

// Locale returns the formatter's language tag.
func (f *Formatter) Locale() string {
	return f.tag.String()
}

// Currency formats v as money with two decimals, e.g. "R$ 1.234,56".
func (f *Formatter) Currency(v float64) string {
	if !finite(v) {
		return Placeholder
	}
	r := round(v, 2)
	s := f.symbol + " " + f.printer.Sprint(number.Decimal(math.Abs(r), number.Scale(2)))
	if r < 0 {
		return "-" + s
	}
	return s
}

// Percent formats v, expressed in percentage points, e.g. 12.345 -> "12,35%".
func (f *Formatter) Percent(v float64) string {
	if !finite(v) {
		return Placeholder
	}
	return f.printer.Sprint(number.Decimal(round(v, 2), number.Scale(2))) + "%"
}

// Ratio formats a fraction as a percentage, e.g. 0.125 -> "12,50%".
func (f *Formatter) Ratio(v float64) string {
	if !finite(v) {
		return Placeholder
	}
	return f.Percent(v * 100)
}

// Integer formats v rounded to the nearest integer with digit grouping.
func (f *Formatter) Integer(v float64) string {
	if !finite(v) {
		return Placeholder
	}
	return f.printer.Sprint(number.Decimal(round(v, 0), number.Scale(0)))
}

// Signed prefixes non-negative output of fn with "+" so deltas read as such.
func (f *Formatter) Signed(v float64, fn func(float64) string) string {
	s := fn(v)
	if s == Placeholder || strings.HasPrefix(s, "-") || v == 0 {
		return s
	}
	return "+" + s
}

// CurrencyPtr formats an optional value, rendering the placeholder for nil.
func (f *Formatter) CurrencyPtr(v *float64) string {
	if v == nil {
		return Placeholder
	}
	return f.Currency(*v)
}

// PercentPtr formats an optional percentage.
func (f *Formatter) PercentPtr(v *float64) string {
	if v == nil {
		return Placeholder
	}
	return f.Percent(*v)
}

// IntegerPtr formats an optional integer.
func (f *Formatter) IntegerPtr(v *float64) string {
	if v == nil {
		return Placeholder
	}
	return f.Integer(*v)
}

// round rounds half away from zero on the shortest decimal form of v, so
// 1.005 becomes 1.01.
func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
