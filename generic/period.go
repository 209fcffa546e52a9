package generic

// =============================================================================
// PERIOD - Closed date range used for allocation overlap
// =============================================================================

// Period is the closed range [Start, End]. Every overlap test in the engine
// goes through this type so the closed-interval rule is applied everywhere.
//
// Examples:
//   - Allocation Jan 15 - Jun 30
//   - Capacity query window Mar 1 - Mar 31
//   - Unbounded future: today - FarFuture
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod returns [start, end] or ErrInvalidPeriod when end is not after start.
func NewPeriod(start, end TimePoint) (Period, error) {
	p := Period{Start: start, End: end}
	if !p.Valid() {
		return Period{}, ErrInvalidPeriod
	}
	return p, nil
}

// Valid reports whether End is strictly after Start.
func (p Period) Valid() bool {
	return p.End.After(p.Start)
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Covers returns true if other lies entirely inside p.
func (p Period) Covers(other Period) bool {
	return other.Start.AfterOrEqual(p.Start) && other.End.BeforeOrEqual(p.End)
}

// Overlaps returns true if the two closed ranges share at least one day.
func (p Period) Overlaps(other Period) bool {
	return Overlaps(p.Start, p.End, other.Start, other.End)
}

// Clamp returns the intersection of p and other.
// The second result is false when they do not overlap.
func (p Period) Clamp(other Period) (Period, bool) {
	if !p.Overlaps(other) {
		return Period{}, false
	}
	return Period{Start: ClampStart(p.Start, other.Start), End: ClampEnd(p.End, other.End)}, true
}

// Days returns the number of calendar days in the period, both ends included.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// INTERVAL HELPERS
// =============================================================================

// Overlaps is the closed-interval test aStart <= bEnd && aEnd >= bStart.
func Overlaps(aStart, aEnd, bStart, bEnd TimePoint) bool {
	return aStart.BeforeOrEqual(bEnd) && aEnd.AfterOrEqual(bStart)
}

// ClampStart returns the later of two range starts.
func ClampStart(a, b TimePoint) TimePoint { return Later(a, b) }

// ClampEnd returns the earlier of two range ends.
func ClampEnd(a, b TimePoint) TimePoint { return Earlier(a, b) }
