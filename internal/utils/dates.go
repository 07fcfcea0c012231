package utils

import (
	"fmt"
	"time"
)

// DateLayout is the storage and config format for calendar days.
const DateLayout = "2006-01-02"

// Date represents a calendar date
type Date struct {
	Year  int
	Month int
	Day   int
}

// DateDifference is a span between two dates in whole months plus days
type DateDifference struct {
	Months int
	Days   int
}

// FromTime drops the clock part of t.
func FromTime(t time.Time) Date {
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// ParseDate converts a yyyy-mm-dd string into a day at UTC midnight
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected yyyy-mm-dd: %w", s, err)
	}
	return t, nil
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	return FromTime(t).Time()
}

// DaysInMonth returns the number of days in a given month
func DaysInMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// EndOfYear returns 31 December of the given year.
func EndOfYear(year int) time.Time {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
}

// CalculateDateDifference computes the difference between two dates.
// The end date is exclusive, so one full year between
// 2020-03-01 and 2021-03-01 is exactly 12 months.
func CalculateDateDifference(start, end Date) (DateDifference, error) {
	if end.Before(start) {
		return DateDifference{}, fmt.Errorf("end date must be >= start date")
	}

	years := end.Year - start.Year
	months := end.Month - start.Month
	days := end.Day - start.Day

	// borrow from the month before end
	if days < 0 {
		months--
		prevMonth := end.Month - 1
		prevYear := end.Year
		if prevMonth < 1 {
			prevMonth = 12
			prevYear--
		}
		days += DaysInMonth(prevYear, prevMonth)
	}
	if months < 0 {
		years--
		months += 12
	}

	return DateDifference{Months: months + 12*years, Days: days}, nil
}

// WholeYearsBetween returns completed years from start to end, 0 when end is
// before start.
func WholeYearsBetween(start, end time.Time) int {
	diff, err := CalculateDateDifference(FromTime(start), FromTime(end))
	if err != nil {
		return 0
	}
	return diff.Months / 12
}

// AgeOn returns the age in completed years on the given day.
func AgeOn(birthday, day time.Time) int {
	return WholeYearsBetween(birthday, day)
}
