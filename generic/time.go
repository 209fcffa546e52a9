package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Day-granular date used by every capacity calculation
// =============================================================================

// TimePoint is a calendar day. The wrapped time is always UTC midnight so
// two TimePoints compare equal whenever they name the same day.
type TimePoint struct {
	Time time.Time
}

// DateLayout is the wire format for dates in the API and the store.
const DateLayout = "2006-01-02"

// FarFuture is the sentinel end date used when a range is unbounded.
// Callers must only rely on it being "far enough to mean unbounded".
var FarFuture = NewTimePoint(2030, time.December, 31)

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// TodayAt truncates an instant to the start of its calendar day.
// The calendar day is taken in the instant's own location.
func TodayAt(now time.Time) TimePoint {
	return NewTimePoint(now.Year(), now.Month(), now.Day())
}

func Today() TimePoint {
	return TodayAt(time.Now())
}

// ParseDate accepts YYYY-MM-DD or RFC 3339 and normalizes to the day.
func ParseDate(s string) (TimePoint, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return TodayAt(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("parse date %q: expected YYYY-MM-DD", s)
	}
	return TodayAt(t), nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return TodayAt(tp.Time.AddDate(0, 0, n)) }
func (tp TimePoint) AddMonths(n int) TimePoint { return TodayAt(tp.Time.AddDate(0, n, 0)) }

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	return tp.Time.Format(DateLayout)
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

func DaysBetween(from, to TimePoint) int { return int(to.Time.Sub(from.Time).Hours() / 24) }

// Later returns the later of two days.
func Later(a, b TimePoint) TimePoint {
	if a.After(b) {
		return a
	}
	return b
}

// Earlier returns the earlier of two days.
func Earlier(a, b TimePoint) TimePoint {
	if a.Before(b) {
		return a
	}
	return b
}
