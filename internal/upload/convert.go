package upload

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/format"
)

// ErrInvalidValue is returned when a cell cannot be coerced to its column type.
var ErrInvalidValue = errors.New("upload: invalid value")

var dateLayouts = []string{
	time.DateOnly,
	"02/01/2006",
	"2/1/2006",
	time.DateTime,
	"02/01/2006 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"01-02-06",
}

// Convert coerces a raw cell into the value stored for the column type.
// Empty cells become nil.
func Convert(raw string, typ ColumnType) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	switch typ {
	case TypeInt:
		return parseInt(raw)
	case TypeDecimal:
		return parseDecimal(raw)
	case TypeDate:
		return parseDate(raw)
	case TypeDuration:
		return parseDuration(raw)
	default:
		return raw, nil
	}
}

func parseInt(raw string) (int64, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	f, err := parseDecimal(raw)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, raw)
	}
	return int64(f), nil
}

// parseDecimal accepts "1234.5", "1234,5", "1.234,56" and "R$ 1.234,56".
func parseDecimal(raw string) (float64, error) {
	s := strings.TrimSpace(strings.TrimPrefix(raw, "R$"))
	s = strings.ReplaceAll(s, " ", "")
	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case dot >= 0 && comma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, raw)
	}
	return f, nil
}

// parseDate accepts ISO, dd/mm/yyyy and Excel serial dates and returns
// yyyy-mm-dd.
func parseDate(raw string) (string, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(time.DateOnly), nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return t.Format(time.DateOnly), nil
		}
	}
	return "", fmt.Errorf("%w: %q is not a date", ErrInvalidValue, raw)
}

// parseDuration returns HH:MM:SS. Numbers below one are Excel day
// fractions; larger numbers are decimal hours.
func parseDuration(raw string) (string, error) {
	if !strings.Contains(raw, ":") {
		v, err := parseDecimal(raw)
		if err != nil || v < 0 {
			return "", fmt.Errorf("%w: %q is not a duration", ErrInvalidValue, raw)
		}
		if v < 1 {
			return format.SecondsToHMS(int64(math.Round(v * 86400))), nil
		}
		return format.HoursToHMS(v), nil
	}
	seconds, err := format.HMSToSeconds(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a duration", ErrInvalidValue, raw)
	}
	return format.SecondsToHMS(seconds), nil
}
