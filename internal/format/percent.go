package format

import (
	"math"
	"strconv"
	"strings"
)

// CalculatePercentage renders part/total as a one-decimal percentage.
// A zero total yields "0%".
func CalculatePercentage(part, total float64) string {
	if total == 0 || math.IsNaN(part) || math.IsNaN(total) {
		return "0%"
	}
	return strconv.FormatFloat(Ratio(part, total), 'f', 1, 64) + "%"
}

// Ratio returns part/total*100, or zero when total is zero.
func Ratio(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total * 100
}

// Variation returns the percentage change from base to current. A zero base
// yields 100 when current moved and 0 otherwise.
func Variation(base, current float64) float64 {
	if almostZero(base) {
		if almostZero(current) {
			return 0
		}
		return 100
	}
	return (current - base) / math.Abs(base) * 100
}

// FormatPercent renders an already computed percentage value.
func FormatPercent(value float64, decimals int) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "0%"
	}
	out := strconv.FormatFloat(value, 'f', decimals, 64)
	if strings.HasPrefix(out, "-") && strings.Trim(out, "-0.") == "" {
		out = out[1:]
	}
	return out + "%"
}

func almostZero(v float64) bool {
	return v > -0.0001 && v < 0.0001
}
