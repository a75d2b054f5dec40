// Package money converts between integer cents and the two-decimal strings
// shown to users. Amounts are stored and computed in cents everywhere else.
package money

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders cents as a decimal string with exactly two fraction digits,
// e.g. 1550 -> "15.50", 5 -> "0.05", -120 -> "-1.20".
func Format(cents int64) string {
	sign := ""
	u := uint64(cents)
	if cents < 0 {
		sign = "-"
		// Two's complement negation in uint64 also covers math.MinInt64.
		u = -u
	}
	return fmt.Sprintf("%s%d.%02d", sign, u/100, u%100)
}

// Parse reads a non-negative decimal amount with at most two fraction digits
// ("15", "15.5", "15.50") into cents.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("amount %q must have one or two decimal places", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 || strings.HasPrefix(whole, "+") {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 || strings.HasPrefix(frac, "+") || strings.HasPrefix(frac, "-") {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if w > (1<<62)/100 {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return w*100 + f, nil
}
