// Package format holds the stateless presentation helpers shared by the
// dashboard API, exports and the CLI.
package format

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidDuration is returned when a duration string cannot be parsed.
var ErrInvalidDuration = errors.New("format: invalid duration")

// HoursToHMS renders decimal hours as HH:MM:SS. Hours are not wrapped at 24.
func HoursToHMS(hours float64) string {
	if math.IsNaN(hours) || math.IsInf(hours, 0) || hours <= 0 {
		return "00:00:00"
	}
	return SecondsToHMS(int64(math.Round(hours * 3600)))
}

// SecondsToHMS renders a number of seconds as HH:MM:SS.
func SecondsToHMS(total int64) string {
	if total <= 0 {
		return "00:00:00"
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// HMSToSeconds parses HH:MM:SS, HH:MM or a plain number of hours.
func HMSToSeconds(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if !strings.Contains(value, ":") {
		hours, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
		}
		return int64(math.Round(hours * 3600)), nil
	}
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}
	var nums [3]int64
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
		}
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
		}
		nums[i] = n
	}
	return nums[0]*3600 + nums[1]*60 + nums[2], nil
}

// HMSToHours is the inverse of HoursToHMS.
func HMSToHours(value string) (float64, error) {
	seconds, err := HMSToSeconds(value)
	if err != nil {
		return 0, err
	}
	return float64(seconds) / 3600, nil
}
