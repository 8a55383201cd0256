// Package format renders amounts, percentages and hours for reports.
package format

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/iwvelando/margin-analysis/pkg/constants"
)

var printer = message.NewPrinter(language.English)

// Currency returns an amount with thousands separators and two decimals. USD
// amounts carry a dollar sign ("-$1,234.56"); other currencies are prefixed
// with their code ("AUD 1,234.56").
func Currency(amount float64, code string) string {
	abs := printer.Sprintf("%.2f", math.Abs(amount))
	sign := ""
	if amount < 0 {
		sign = "-"
	}
	if code == "" || code == constants.BaseCurrency {
		return sign + "$" + abs
	}
	return code + " " + sign + abs
}

// USD is Currency in the base currency.
func USD(amount float64) string {
	return Currency(amount, constants.BaseCurrency)
}

// Percent renders a percentage with two decimals ("74.00%").
func Percent(value float64) string {
	return printer.Sprintf("%.2f%%", value)
}

// Hours renders an hour count with separators ("1,080.00").
func Hours(value float64) string {
	return printer.Sprintf("%.2f", value)
}

// Signed prefixes non-negative values with a plus sign, for variance columns.
func Signed(s string, value float64) string {
	if value >= 0 {
		return "+" + s
	}
	return s
}
