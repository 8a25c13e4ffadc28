package domain

import (
	"fmt"
	"time"
)

// LocalDate is a calendar day in a user's timezone, stored as "YYYY-MM-DD".
// The zero value means "no date".
type LocalDate string

const dateLayout = "2006-01-02"

// DateOf returns the calendar day of t in loc.
func DateOf(t time.Time, loc *time.Location) LocalDate {
	if loc == nil {
		loc = time.UTC
	}
	return LocalDate(t.In(loc).Format(dateLayout))
}

// ParseDate validates s and returns it as a LocalDate.
func ParseDate(s string) (LocalDate, error) {
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", fmt.Errorf("%w: date %q", ErrInvalidInput, s)
	}
	return LocalDate(s), nil
}

// IsZero reports whether d is unset.
func (d LocalDate) IsZero() bool { return d == "" }

// Time returns midnight UTC of d. Only useful for calendar arithmetic.
func (d LocalDate) Time() time.Time {
	t, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays returns d shifted by n calendar days.
func (d LocalDate) AddDays(n int) LocalDate {
	return LocalDate(d.Time().AddDate(0, 0, n).Format(dateLayout))
}

// DaysSince returns the number of calendar days from other to d.
func (d LocalDate) DaysSince(other LocalDate) int {
	return int(d.Time().Sub(other.Time()).Hours() / 24)
}

// Before reports whether d is strictly earlier than other.
func (d LocalDate) Before(other LocalDate) bool { return d < other }

// WeekStart returns the Monday on or before d.
func (d LocalDate) WeekStart() LocalDate {
	wd := int(d.Time().Weekday())
	// Sunday is 0; shift so Monday is 0.
	offset := (wd + 6) % 7
	return d.AddDays(-offset)
}

// WeekEnd returns the Sunday on or after d.
func (d LocalDate) WeekEnd() LocalDate {
	return d.WeekStart().AddDays(6)
}

// MonthStart returns the first day of d's month.
func (d LocalDate) MonthStart() LocalDate {
	t := d.Time()
	return LocalDate(time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Format(dateLayout))
}

// MonthsSince returns the number of calendar months from other to d.
func (d LocalDate) MonthsSince(other LocalDate) int {
	a, b := d.Time(), other.Time()
	return (a.Year()-b.Year())*12 + int(a.Month()) - int(b.Month())
}

// String implements fmt.Stringer.
func (d LocalDate) String() string { return string(d) }
