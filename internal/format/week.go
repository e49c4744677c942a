package format

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidWeek is returned when a week string cannot be parsed.
var ErrInvalidWeek = errors.New("format: invalid week")

var (
	isoWeekRe    = regexp.MustCompile(`^(\d{4})-?W(\d{1,2})$`)
	slashWeekRe  = regexp.MustCompile(`^S(?:EMANA)?\s*(\d{1,2})\s*[/-]\s*(\d{4})$`)
	labelWeekRe  = regexp.MustCompile(`^(?:SEMANA|SEM|S)\s*(\d{1,2})$`)
	numberWeekRe = regexp.MustCompile(`^(\d{1,2})$`)
)

// Week identifies an ISO-8601 week.
type Week struct {
	Year   int `json:"ano"`
	Number int `json:"semana"`
}

// ParseWeek accepts "2024-W05", "2024W5", "S05/2024", "Semana 05" and bare
// numbers. Forms without a year use defaultYear.
func ParseWeek(value string, defaultYear int) (Week, error) {
	raw := strings.ToUpper(strings.TrimSpace(value))
	if raw == "" {
		return Week{}, fmt.Errorf("%w: empty", ErrInvalidWeek)
	}
	var year, number int
	switch {
	case isoWeekRe.MatchString(raw):
		m := isoWeekRe.FindStringSubmatch(raw)
		year, _ = strconv.Atoi(m[1])
		number, _ = strconv.Atoi(m[2])
	case slashWeekRe.MatchString(raw):
		m := slashWeekRe.FindStringSubmatch(raw)
		number, _ = strconv.Atoi(m[1])
		year, _ = strconv.Atoi(m[2])
	case labelWeekRe.MatchString(raw):
		m := labelWeekRe.FindStringSubmatch(raw)
		number, _ = strconv.Atoi(m[1])
		year = defaultYear
	case numberWeekRe.MatchString(raw):
		number, _ = strconv.Atoi(raw)
		year = defaultYear
	default:
		return Week{}, fmt.Errorf("%w: %q", ErrInvalidWeek, value)
	}
	w := Week{Year: year, Number: number}
	if err := w.Validate(); err != nil {
		return Week{}, err
	}
	return w, nil
}

// WeekOf returns the ISO week containing t.
func WeekOf(t time.Time) Week {
	y, n := t.ISOWeek()
	return Week{Year: y, Number: n}
}

// Validate checks that the week exists in its year.
func (w Week) Validate() error {
	if w.Year < 2000 || w.Year > 2100 {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidWeek, w.Year)
	}
	if w.Number < 1 || w.Number > WeeksInYear(w.Year) {
		return fmt.Errorf("%w: week %d not in %d", ErrInvalidWeek, w.Number, w.Year)
	}
	return nil
}

// Start returns the Monday of the week at 00:00 UTC.
func (w Week) Start() time.Time {
	jan4 := time.Date(w.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	firstMonday := jan4.AddDate(0, 0, -offset)
	return firstMonday.AddDate(0, 0, (w.Number-1)*7)
}

// End returns the Sunday of the week at 00:00 UTC.
func (w Week) End() time.Time {
	return w.Start().AddDate(0, 0, 6)
}

// Previous returns the week before w.
func (w Week) Previous() Week {
	return WeekOf(w.Start().AddDate(0, 0, -7))
}

// String renders the ISO form, e.g. 2024-W05.
func (w Week) String() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Number)
}

// Label renders the dashboard label, e.g. "Semana 05".
func (w Week) Label() string {
	return fmt.Sprintf("Semana %02d", w.Number)
}

// Before reports whether w precedes other.
func (w Week) Before(other Week) bool {
	if w.Year != other.Year {
		return w.Year < other.Year
	}
	return w.Number < other.Number
}

// WeeksInYear returns 52 or 53.
func WeeksInYear(year int) int {
	_, n := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return n
}
