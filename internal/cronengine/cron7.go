// Package cronengine normalises heterogeneous cron expressions into the
// canonical seven-field form and expands a timezone-local cron into the
// sequence of UTC firing instants, straddling daylight-saving transitions.
//
// robfig/cron is not used as the matcher: it has no seventh (year) field
// and numbers Sunday as 0, not 1 as Cron7 requires, and it
// offers no way to distinguish a non-existent local time from an
// ambiguous one during a DST transition. Its field-name tables are still
// reused here (see monthNames/dowNames) so the same aliases users expect
// from ordinary cron keep working.
package cronengine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCron is returned by Normalise when the input cannot be
// reduced to a well-formed seven-field expression.
var ErrInvalidCron = errors.New("invalid cron expression")

// Cron7 is the canonical seven-field cron: seconds minutes hours
// day-of-month month day-of-week year. Day-of-week is 1=Sunday..7=Saturday.
type Cron7 struct {
	Seconds fieldSpec
	Minutes fieldSpec
	Hours   fieldSpec
	Dom     fieldSpec
	Month   fieldSpec
	Dow     fieldSpec
	Year    fieldSpec

	// Canonical is the seven whitespace-separated fields this Cron7 was
	// built from, kept for logging.
	Canonical string
}

// Normalise accepts a 5-, 6-, or 7-field cron expression and reduces it to
// a Cron7, expanding missing seconds/year fields to their defaults.
func Normalise(expr string) (Cron7, error) {
	fields := strings.Fields(expr)

	switch len(fields) {
	case 5:
		expanded := make([]string, 0, 7)
		expanded = append(expanded, "0")
		expanded = append(expanded, fields...)
		expanded = append(expanded, "*")
		return build(expanded)
	case 6:
		secondsLed := make([]string, 0, 7)
		secondsLed = append(secondsLed, fields...)
		secondsLed = append(secondsLed, "*")
		if c, err := build(secondsLed); err == nil {
			return c, nil
		}
		yearTrailing := make([]string, 0, 7)
		yearTrailing = append(yearTrailing, "0")
		yearTrailing = append(yearTrailing, fields...)
		return build(yearTrailing)
	case 7:
		return build(fields)
	default:
		return Cron7{}, fmt.Errorf("%w: expected 5, 6 or 7 fields, got %d", ErrInvalidCron, len(fields))
	}
}

// build parses a fully-expanded seven-field slice into a Cron7.
func build(f []string) (Cron7, error) {
	if len(f) != 7 {
		return Cron7{}, fmt.Errorf("%w: expected 7 fields, got %d", ErrInvalidCron, len(f))
	}

	seconds, err := parseField(f[0], 0, 59, nil)
	if err != nil {
		return Cron7{}, fmt.Errorf("%w: seconds: %v", ErrInvalidCron, err)
	}
	minutes, err := parseField(f[1], 0, 59, nil)
	if err != nil {
		return Cron7{}, fmt.Errorf("%w: minutes: %v", ErrInvalidCron, err)
	}
	hours, err := parseField(f[2], 0, 23, nil)
	if err != nil {
		return Cron7{}, fmt.Errorf("%w: hours: %v", ErrInvalidCron, err)
	}
	dom, err := parseField(f[3], 1, 31, nil)
	if err != nil {
		return Cron7{}, fmt.Errorf("%w: day-of-month: %v", ErrInvalidCron, err)
	}
	month, err := parseField(f[4], 1, 12, monthNames)
	if err != nil {
		return Cron7{}, fmt.Errorf("%w: month: %v", ErrInvalidCron, err)
	}
	dow, err := parseField(f[5], 1, 7, dowNames)
	if err != nil {
		return Cron7{}, fmt.Errorf("%w: day-of-week: %v", ErrInvalidCron, err)
	}
	year, err := parseField(f[6], 1970, 2200, nil)
	if err != nil {
		return Cron7{}, fmt.Errorf("%w: year: %v", ErrInvalidCron, err)
	}

	return Cron7{
		Seconds:   seconds,
		Minutes:   minutes,
		Hours:     hours,
		Dom:       dom,
		Month:     month,
		Dow:       dow,
		Year:      year,
		Canonical: strings.Join(f, " "),
	}, nil
}
