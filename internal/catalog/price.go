package catalog

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// currencyAmount matches amounts tagged KES, KSh, Ksh or $.
	currencyAmount = regexp.MustCompile(`(?i)(?:kes|ksh|\$)\.?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	bareAmount     = regexp.MustCompile(`[0-9][0-9,]*(?:\.[0-9]+)?`)
)

// ParsePrice extracts the first currency-tagged amount from text.
func ParsePrice(text string) (float64, bool) {
	m := currencyAmount.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseNumber(m[1])
}

// ParseAmount reads a price from loosely formatted text, preferring a
// currency-tagged amount and falling back to the first bare number.
func ParseAmount(text string) float64 {
	if v, ok := ParsePrice(text); ok {
		return v
	}
	if v, ok := parseNumber(bareAmount.FindString(text)); ok {
		return v
	}
	return 0
}

func parseNumber(raw string) (float64, bool) {
	raw = strings.ReplaceAll(raw, ",", "")
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
