package format

import "math"

// Color classes for adherence badges and chart bars.
const (
	ColorSuccess = "success"
	ColorWarning = "warning"
	ColorDanger  = "danger"
)

// Adherence thresholds in percent.
const (
	AdherenceGood    = 90.0
	AdherenceWarning = 70.0
)

// AdherenceColor maps an adherence percentage to a color class.
func AdherenceColor(pct float64) string {
	switch {
	case pct >= AdherenceGood:
		return ColorSuccess
	case pct >= AdherenceWarning:
		return ColorWarning
	default:
		return ColorDanger
	}
}

// AxisRange is a padded Y-axis domain.
type AxisRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PaddedAxis returns a Y range that contains every value plus padding (a
// fraction of the span) on both ends. Non-negative series keep a zero floor.
func PaddedAxis(values []float64, padding float64) AxisRange {
	if padding < 0 {
		padding = 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return AxisRange{Min: 0, Max: 1}
	}
	span := hi - lo
	if span == 0 {
		span = math.Abs(hi)
		if span == 0 {
			span = 1
		}
	}
	out := AxisRange{Min: lo - span*padding, Max: hi + span*padding}
	if lo >= 0 && out.Min < 0 {
		out.Min = 0
	}
	return out
}
