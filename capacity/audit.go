package capacity

import (
	"context"
	"fmt"

	"github.com/warp/capacity-engine/generic"
)

// OverAllocation is a day on which an engineer's overlapping allocations
// add up to more than their MaxCapacity. Validated writes never produce
// one; lowering MaxCapacity or editing the store directly can.
type OverAllocation struct {
	Engineer      generic.User
	At            generic.TimePoint
	Allocated     int
	AllocationIDs []generic.AllocationID
}

// OverAllocations scans every engineer's current and future allocations.
// The load is sampled at each allocation start date (and today), which is
// where the sum of overlapping allocations can increase.
func (a *Accountant) OverAllocations(ctx context.Context) ([]OverAllocation, error) {
	engineers, err := a.Store.ListUsers(ctx, generic.UserFilter{Role: generic.RoleEngineer})
	if err != nil {
		return nil, fmt.Errorf("list engineers: %w", err)
	}
	today := a.today()

	var found []OverAllocation
	for _, eng := range engineers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		allocs, err := a.Store.QueryAllocations(ctx, generic.AllocationFilter{
			EngineerID:      eng.ID,
			EndingOnOrAfter: &today,
		})
		if err != nil {
			return nil, fmt.Errorf("query allocations for %s: %w", eng.ID, err)
		}
		if o, ok := firstOverload(eng, today, allocs); ok {
			found = append(found, o)
		}
	}
	return found, nil
}

// firstOverload returns the earliest sampled day on which eng is over capacity.
func firstOverload(eng generic.User, today generic.TimePoint, allocs []generic.Allocation) (OverAllocation, bool) {
	for _, probe := range allocs {
		at := generic.Later(probe.StartDate, today)
		total := 0
		var ids []generic.AllocationID
		for _, al := range allocs {
			if al.Period().Contains(at) {
				total += al.AllocationPercentage
				ids = append(ids, al.ID)
			}
		}
		if total > eng.MaxCapacity {
			return OverAllocation{Engineer: eng, At: at, Allocated: total, AllocationIDs: ids}, true
		}
	}
	return OverAllocation{}, false
}
