/*
accountant.go - Available capacity for an engineer over a date range

PURPOSE:
  Answers "how much of this engineer is still free between two dates?"
  by summing every allocation that overlaps the range.

FORMULA:
  available = max(0, MaxCapacity - sum(percentage of overlapping allocations))

COARSE OVERLAP:
  An allocation counts with its full percentage as soon as it overlaps the
  range by a single day. A 60% allocation ending Mar 2 consumes 60% of a
  Mar 1 - Mar 31 query. Downstream consumers assume this simple sum; do not
  weight by overlap duration here.

DEFAULT RANGE:
  Start defaults to today (start of day from the injected clock), End to
  generic.FarFuture.

EXCLUDE:
  ExcludeAllocationID drops one allocation from the sum. Updates use it so
  an allocation is not counted against itself.

EXAMPLE:
  acct := capacity.NewAccountant(store)
  mar1, mar31 := generic.NewTimePoint(2025, 3, 1), generic.NewTimePoint(2025, 3, 31)
  free, err := acct.AvailableCapacity(ctx, "eng-1", capacity.CapacityQuery{Start: &mar1, End: &mar31})

SEE ALSO:
  - validator.go: Capacity step of allocation validation
  - windows.go: Availability windows
*/
package capacity

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/capacity-engine/generic"
)

// CapacityQuery selects the range and exclusions for AvailableCapacity.
// Nil dates take the defaults.
type CapacityQuery struct {
	Start               *generic.TimePoint
	End                 *generic.TimePoint
	ExcludeAllocationID generic.AllocationID
}

// Accountant computes available and allocated capacity.
type Accountant struct {
	Store generic.Store
	Now   func() time.Time
}

func NewAccountant(store generic.Store) *Accountant {
	return &Accountant{Store: store, Now: time.Now}
}

func (a *Accountant) today() generic.TimePoint {
	if a.Now == nil {
		return generic.Today()
	}
	return generic.TodayAt(a.Now())
}

// AvailableCapacity returns the engineer's free percentage over the query range.
func (a *Accountant) AvailableCapacity(ctx context.Context, engineerID generic.UserID, q CapacityQuery) (int, error) {
	engineer, err := a.engineer(ctx, engineerID)
	if err != nil {
		return 0, err
	}

	period := generic.Period{Start: a.today(), End: generic.FarFuture}
	if q.Start != nil {
		period.Start = *q.Start
	}
	if q.End != nil {
		period.End = *q.End
	}
	return a.availableFor(ctx, engineer, period, q.ExcludeAllocationID)
}

// CapacityInfo summarizes capacity over today..FarFuture.
func (a *Accountant) CapacityInfo(ctx context.Context, engineerID generic.UserID) (generic.CapacityInfo, error) {
	engineer, err := a.engineer(ctx, engineerID)
	if err != nil {
		return generic.CapacityInfo{}, err
	}
	available, err := a.availableFor(ctx, engineer, generic.Period{Start: a.today(), End: generic.FarFuture}, "")
	if err != nil {
		return generic.CapacityInfo{}, err
	}
	return generic.NewCapacityInfo(engineer.MaxCapacity, available), nil
}

func (a *Accountant) availableFor(ctx context.Context, engineer generic.User, period generic.Period, exclude generic.AllocationID) (int, error) {
	allocs, err := a.Store.QueryAllocations(ctx, generic.AllocationFilter{
		EngineerID:  engineer.ID,
		Overlapping: &period,
		ExcludeID:   exclude,
	})
	if err != nil {
		return 0, fmt.Errorf("query allocations for %s: %w", engineer.ID, err)
	}
	return Available(engineer.MaxCapacity, allocs), nil
}

// engineer loads a user and requires the engineer role.
func (a *Accountant) engineer(ctx context.Context, id generic.UserID) (generic.User, error) {
	return lookupEngineer(ctx, a.Store, id)
}

func lookupEngineer(ctx context.Context, store generic.Store, id generic.UserID) (generic.User, error) {
	u, err := store.GetUser(ctx, id)
	if err != nil {
		return generic.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	if u == nil || !u.IsEngineer() {
		return generic.User{}, &generic.NotFoundError{Reason: generic.ReasonEngineerNotFound, Kind: "engineer", ID: string(id)}
	}
	return *u, nil
}

// Available applies the capacity formula to an already-filtered allocation set.
func Available(maxCapacity int, allocs []generic.Allocation) int {
	total := 0
	for _, al := range allocs {
		total += al.AllocationPercentage
	}
	if available := maxCapacity - total; available > 0 {
		return available
	}
	return 0
}
