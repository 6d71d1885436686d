package period

import (
	"errors"
	"fmt"
	"time"
)

// Granularity is the time-bucket size of a period key.
// The hierarchy is closed: Day < Month < Year < All.
type Granularity uint8

const (
	Day Granularity = iota
	Month
	Year
	All
)

// String returns the storage tag for the granularity
func (g Granularity) String() string {
	switch g {
	case Day:
		return "day"
	case Month:
		return "month"
	case Year:
		return "year"
	case All:
		return "all"
	default:
		return fmt.Sprintf("granularity(%d)", uint8(g))
	}
}

// ParseGranularity is the inverse of Granularity.String
func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "day":
		return Day, nil
	case "month":
		return Month, nil
	case "year":
		return Year, nil
	case "all":
		return All, nil
	}
	return 0, fmt.Errorf("unknown granularity %q", s)
}

// SentinelYear is used for unset key components in the anchor date.
// The anchor date is a storage key component only, never a real date.
const SentinelYear = 1900

// ErrInvalidKey is returned by Key.Validate for malformed selectors.
var ErrInvalidKey = errors.New("invalid period key")

// Key selects one summary period. Zero fields are unset.
// An empty Product selects the global, cross-product summary.
type Key struct {
	Product string
	Year    int
	Month   int
	Day     int
}

// Global returns a cross-product key.
func Global(year, month, day int) Key {
	return Key{Year: year, Month: month, Day: day}
}

// Resolve maps an optional (year, month, day) selector to its anchor date and granularity.
func Resolve(year, month, day int) (time.Time, Granularity) {
	g := All
	if year != 0 {
		g = Year
	}
	if month != 0 {
		g = Month
	}
	if day != 0 {
		g = Day
	}
	return time.Date(orDefault(year, SentinelYear), time.Month(orDefault(month, 1)), orDefault(day, 1), 0, 0, 0, 0, time.UTC), g
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// IsGlobal reports whether the key covers all products
func (k Key) IsGlobal() bool {
	return k.Product == ""
}

// Granularity of the key
func (k Key) Granularity() Granularity {
	_, g := Resolve(k.Year, k.Month, k.Day)
	return g
}

// Anchor returns the storage anchor date of the key.
func (k Key) Anchor() time.Time {
	a, _ := Resolve(k.Year, k.Month, k.Day)
	return a
}

// Validate checks that the selector names a real calendar period.
// A day requires a month and a month requires a year.
func (k Key) Validate() error {
	if k.Year < 0 || k.Month < 0 || k.Day < 0 {
		return fmt.Errorf("%w: negative component in %s", ErrInvalidKey, k)
	}
	if k.Month != 0 && k.Year == 0 {
		return fmt.Errorf("%w: month without year in %s", ErrInvalidKey, k)
	}
	if k.Day != 0 && k.Month == 0 {
		return fmt.Errorf("%w: day without month in %s", ErrInvalidKey, k)
	}
	if k.Month > 12 {
		return fmt.Errorf("%w: month %d out of range", ErrInvalidKey, k.Month)
	}
	if k.Day != 0 && k.Day > DaysIn(k.Year, time.Month(k.Month)) {
		return fmt.Errorf("%w: day %d out of range for %04d-%02d", ErrInvalidKey, k.Day, k.Year, k.Month)
	}
	return nil
}

// Range returns the half-open time range covered by the key.
// ok is false for the All granularity, whose range depends on the data.
func (k Key) Range() (r Range, ok bool) {
	switch k.Granularity() {
	case Day:
		start := time.Date(k.Year, time.Month(k.Month), k.Day, 0, 0, 0, 0, time.UTC)
		return Range{Start: start, End: start.AddDate(0, 0, 1)}, true
	case Month:
		start := time.Date(k.Year, time.Month(k.Month), 1, 0, 0, 0, 0, time.UTC)
		return Range{Start: start, End: start.AddDate(0, 1, 0)}, true
	case Year:
		start := time.Date(k.Year, 1, 1, 0, 0, 0, 0, time.UTC)
		return Range{Start: start, End: start.AddDate(1, 0, 0)}, true
	}
	return Range{}, false
}

// WithProduct returns a copy of the key for another product
func (k Key) WithProduct(product string) Key {
	k.Product = product
	return k
}

func (k Key) String() string {
	product := k.Product
	if product == "" {
		product = "*"
	}
	switch k.Granularity() {
	case Day:
		return fmt.Sprintf("%s/%04d-%02d-%02d", product, k.Year, k.Month, k.Day)
	case Month:
		return fmt.Sprintf("%s/%04d-%02d", product, k.Year, k.Month)
	case Year:
		return fmt.Sprintf("%s/%04d", product, k.Year)
	}
	return product + "/all"
}

// Range is a half-open [Start, End) interval.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Last returns the latest instant inside the range.
func (r Range) Last() time.Time {
	return r.End.Add(-time.Nanosecond)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Truncate returns the start of the g-sized bucket containing t, in UTC.
// All truncates to the sentinel anchor.
func Truncate(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	switch g {
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Year:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(SentinelYear, 1, 1, 0, 0, 0, 0, time.UTC)
}
