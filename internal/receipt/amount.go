package receipt

import (
	"strconv"
	"strings"
)

// ocrDigits maps characters OCR engines commonly confuse with digits
var ocrDigits = strings.NewReplacer(
	"O", "0", "o", "0", "D", "0",
	"l", "1", "I", "1", "|", "1",
	"S", "5", "B", "8",
)

// ParseAmount converts a display amount such as "$1,234.56", "1O.99" or "12,50" to cents.
// It is advisory: ok is false when the string does not look like an amount.
func ParseAmount(s string) (cents int64, ok bool) {
	s = strings.TrimSpace(s)
	trimmed := strings.TrimLeft(s, "-$€£¥₹ ")
	negative := strings.Contains(s[:len(s)-len(trimmed)], "-")
	s = trimmed
	s = ocrDigits.Replace(s)
	if s == "" {
		return 0, false
	}

	// The last separator followed by exactly two digits is the decimal point
	whole, frac := s, "00"
	if i := strings.LastIndexAny(s, ".,"); i >= 0 && len(s)-i-1 == 2 {
		whole, frac = s[:i], s[i+1:]
	}
	whole = strings.NewReplacer(",", "", ".", "", " ", "").Replace(whole)
	if whole == "" {
		whole = "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, false
	}

	cents = w*100 + f
	if negative {
		cents = -cents
	}
	return cents, true
}
