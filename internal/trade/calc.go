package trade

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Side maps a signal action to an order side.
func Side(action string) string {
	if action == "Long" || action == "Buy" {
		return "Buy"
	}
	return "Sell"
}

func precision(coin string) int32 {
	if coin == "BTC" || coin == "ETH" {
		return 3
	}
	return 2
}

// Quantity is margin*leverage/entry rounded to the coin's lot precision.
func Quantity(coin string, margin decimal.Decimal, leverage int, entry decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	return margin.Mul(decimal.NewFromInt(int64(leverage))).Div(entry).Round(precision(coin))
}

// ParsePrice reads a price from model text such as "$68,500" by dropping
// everything but digits and dots. It fails for non-positive values.
func ParsePrice(s string) (decimal.Decimal, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

func optionalPrice(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "N/A") {
		return ""
	}
	d, ok := ParsePrice(s)
	if !ok {
		return ""
	}
	return d.String()
}

// FormatAmount renders d with two decimals and thousands separators.
func FormatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + frac
}
