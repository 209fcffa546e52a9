package capacity

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// AVAILABILITY WINDOWS
// =============================================================================

// WindowBuilder derives the future gaps in an engineer's allocation list.
//
// Windows are built from the allocations that end today or later, sorted
// by start date:
//
//	today ── leading ──▶ A1 ── gap ──▶ A2 ── trailing ──▶ FarFuture
//
// Every window carries the engineer's full MaxCapacity. Gaps are the space
// strictly between allocations, so no allocation overlaps a gap interior.
// Boundaries are shared with the neighbouring allocation's start or end day.
type WindowBuilder struct {
	Store generic.Store
	Now   func() time.Time
}

func NewWindowBuilder(store generic.Store) *WindowBuilder {
	return &WindowBuilder{Store: store, Now: time.Now}
}

// AvailabilityWindows returns the ordered windows for an engineer.
func (wb *WindowBuilder) AvailabilityWindows(ctx context.Context, engineerID generic.UserID) ([]generic.AvailabilityWindow, error) {
	engineer, err := lookupEngineer(ctx, wb.Store, engineerID)
	if err != nil {
		return nil, err
	}

	today := generic.Today()
	if wb.Now != nil {
		today = generic.TodayAt(wb.Now())
	}

	allocs, err := wb.Store.QueryAllocations(ctx, generic.AllocationFilter{
		EngineerID:      engineer.ID,
		EndingOnOrAfter: &today,
	})
	if err != nil {
		return nil, fmt.Errorf("query allocations for %s: %w", engineer.ID, err)
	}
	return BuildWindows(today, engineer.MaxCapacity, allocs), nil
}

// BuildWindows is the pure part of AvailabilityWindows. allocs must be
// sorted by StartDate.
func BuildWindows(today generic.TimePoint, maxCapacity int, allocs []generic.Allocation) []generic.AvailabilityWindow {
	window := func(start, end generic.TimePoint) generic.AvailabilityWindow {
		return generic.AvailabilityWindow{StartDate: start, EndDate: end, AvailableCapacity: maxCapacity}
	}

	var windows []generic.AvailabilityWindow
	if len(allocs) == 0 {
		windows = append(windows, window(today, generic.FarFuture))
	} else {
		if first := allocs[0]; first.StartDate.After(today) {
			windows = append(windows, window(today, first.StartDate))
		}
		// frontier is the latest end seen so far. A long allocation keeps
		// covering the calendar even when a shorter one sorts after it.
		frontier := allocs[0].EndDate
		for _, next := range allocs[1:] {
			if next.StartDate.After(frontier) {
				windows = append(windows, window(frontier, next.StartDate))
			}
			frontier = generic.Later(frontier, next.EndDate)
		}
		if frontier.Before(generic.FarFuture) {
			windows = append(windows, window(frontier, generic.FarFuture))
		}
	}

	result := windows[:0]
	for _, w := range windows {
		if w.AvailableCapacity > 0 {
			result = append(result, w)
		}
	}
	return result
}
