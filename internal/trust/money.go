package trust

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var moneyPrinter = message.NewPrinter(language.English)

// Round2 rounds a money value to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// FormatMoney renders d rounded to cents with thousands separators, e.g. 68,450.00. Digits are
// taken from the decimal itself; only the grouping goes through the printer.
func FormatMoney(d decimal.Decimal) string {
	cents := Round2(d)
	whole, frac, _ := strings.Cut(cents.Abs().StringFixed(2), ".")
	if n, err := strconv.ParseInt(whole, 10, 64); err == nil {
		whole = moneyPrinter.Sprintf("%d", n)
	} else {
		whole = groupDigits(whole)
	}
	if cents.IsNegative() {
		return "-" + whole + "." + frac
	}
	return whole + "." + frac
}

// groupDigits inserts separators into a digit string too wide for int64.
func groupDigits(digits string) string {
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
