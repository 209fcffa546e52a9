package capacity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/generic"
	"github.com/warp/capacity-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fixedNow is 2025-01-01 09:30 UTC. Every test uses it as "today".
var fixedNow = time.Date(2025, time.January, 1, 9, 30, 0, 0, time.UTC)

func date(month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(2025, month, day)
}

func pct(n int) *int { return &n }

type fixture struct {
	ctx   context.Context
	store *store.Memory
	svc   *capacity.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	svc := capacity.NewService(mem)
	svc.SetClock(func() time.Time { return fixedNow })
	return &fixture{ctx: context.Background(), store: mem, svc: svc}
}

func (f *fixture) engineer(t *testing.T, id string, maxCapacity int, skills ...string) generic.User {
	t.Helper()
	u := generic.User{
		ID:          generic.UserID(id),
		Name:        "Engineer " + id,
		Role:        generic.RoleEngineer,
		MaxCapacity: maxCapacity,
		Skills:      generic.NewSkillSet(skills...),
	}
	require.NoError(t, f.store.SaveUser(f.ctx, u))
	return u
}

func (f *fixture) project(t *testing.T, id string, status generic.ProjectStatus, start, end generic.TimePoint, skills ...string) generic.Project {
	t.Helper()
	p := generic.Project{
		ID:             generic.ProjectID(id),
		Name:           "Project " + id,
		StartDate:      start,
		EndDate:        end,
		RequiredSkills: skills,
		Status:         status,
	}
	require.NoError(t, f.store.SaveProject(f.ctx, p))
	return p
}

// allocate inserts directly, bypassing validation.
func (f *fixture) allocate(t *testing.T, id, engineer, project string, percentage int, start, end generic.TimePoint) generic.Allocation {
	t.Helper()
	a := generic.Allocation{
		ID:                   generic.AllocationID(id),
		EngineerID:           generic.UserID(engineer),
		ProjectID:            generic.ProjectID(project),
		AllocationPercentage: percentage,
		StartDate:            start,
		EndDate:              end,
	}
	require.NoError(t, f.store.InsertAllocation(f.ctx, a))
	return a
}

func proposal(engineer, project string, percentage int, start, end string) generic.AllocationProposal {
	return generic.AllocationProposal{
		EngineerID:           generic.UserID(engineer),
		ProjectID:            generic.ProjectID(project),
		AllocationPercentage: pct(percentage),
		StartDate:            start,
		EndDate:              end,
	}
}

func available(t *testing.T, f *fixture, engineer string, start, end generic.TimePoint) int {
	t.Helper()
	free, err := f.svc.AvailableCapacity(f.ctx, generic.UserID(engineer), capacity.CapacityQuery{Start: &start, End: &end})
	require.NoError(t, err)
	return free
}

// =============================================================================
// AVAILABLE CAPACITY
// =============================================================================

func TestAvailableCapacity_OverlappingAllocationCounts(t *testing.T) {
	// GIVEN: An engineer at 100% with 60% on Jan 15 - Jun 30
	f := newFixture(t)
	f.engineer(t, "eng-1", 100)
	f.project(t, "proj-1", generic.ProjectActive, date(time.January, 1), date(time.December, 31))
	f.allocate(t, "a1", "eng-1", "proj-1", 60, date(time.January, 15), date(time.June, 30))

	// WHEN: Capacity is queried for March
	free := available(t, f, "eng-1", date(time.March, 1), date(time.March, 31))

	// THEN: 40% is left
	assert.Equal(t, 40, free)
}

func TestAvailableCapacity_SingleDayOverlapCountsInFull(t *testing.T) {
	f := newFixture(t)
	f.engineer(t, "eng-1", 100)
	f.allocate(t, "a1", "eng-1", "proj-1", 60, date(time.January, 15), date(time.March, 1))

	assert.Equal(t, 40, available(t, f, "eng-1", date(time.March, 1), date(time.March, 31)))
	assert.Equal(t, 100, available(t, f, "eng-1", date(time.March, 2), date(time.March, 31)))
}

func TestAvailableCapacity_SplitAllocationsSumTheSame(t *testing.T) {
	// GIVEN: Two engineers with 60% total in April, one record vs three records
	f := newFixture(t)
	f.engineer(t, "single", 100)
	f.engineer(t, "split", 100)
	f.allocate(t, "s1", "single", "proj-1", 60, date(time.April, 1), date(time.April, 30))
	f.allocate(t, "p1", "split", "proj-1", 20, date(time.April, 1), date(time.April, 10))
	f.allocate(t, "p2", "split", "proj-1", 20, date(time.April, 11), date(time.April, 20))
	f.allocate(t, "p3", "split", "proj-1", 20, date(time.April, 21), date(time.April, 30))

	// THEN: Both report M - A
	apr1, apr30 := date(time.April, 1), date(time.April, 30)
	assert.Equal(t, 40, available(t, f, "single", apr1, apr30))
	assert.Equal(t, 40, available(t, f, "split", apr1, apr30))
}

func TestAvailableCapacity_FloorsAtZero(t *testing.T) {
	// GIVEN: An engineer whose MaxCapacity was lowered below the booked load
	f := newFixture(t)
	f.engineer(t, "eng-1", 50)
	f.allocate(t, "a1", "eng-1", "proj-1", 40, date(time.February, 1), date(time.February, 28))
	f.allocate(t, "a2", "eng-1", "proj-1", 40, date(time.February, 1), date(time.February, 28))

	assert.Equal(t, 0, available(t, f, "eng-1", date(time.February, 1), date(time.February, 28)))
}

func TestAvailableCapacity_DefaultRangeIsTodayToFarFuture(t *testing.T) {
	f := newFixture(t)
	f.engineer(t, "eng-1", 100)
	f.allocate(t, "past", "eng-1", "proj-1", 50, generic.NewTimePoint(2024, time.March, 1), generic.NewTimePoint(2024, time.June, 30))
	f.allocate(t, "future", "eng-1", "proj-1", 30, generic.NewTimePoint(2029, time.March, 1), generic.NewTimePoint(2029, time.June, 30))

	free, err := f.svc.AvailableCapacity(f.ctx, "eng-1", capacity.CapacityQuery{})
	require.NoError(t, err)
	assert.Equal(t, 70, free)
}

func TestAvailableCapacity_ExcludeReproducesPreUpdateCapacity(t *testing.T) {
	// GIVEN: An engineer with two allocations
	f := newFixture(t)
	f.engineer(t, "eng-1", 100)
	f.allocate(t, "a1", "eng-1", "proj-1", 30, date(time.March, 1), date(time.March, 31))
	a2 := f.allocate(t, "a2", "eng-1", "proj-1", 25, date(time.March, 10), date(time.April, 30))

	start, end := date(time.March, 1), date(time.April, 30)
	before := available(t, f, "eng-1", start, end)

	// WHEN: a2 is excluded
	excluded, err := f.svc.AvailableCapacity(f.ctx, "eng-1", capacity.CapacityQuery{Start: &start, End: &end, ExcludeAllocationID: a2.ID})
	require.NoError(t, err)

	// THEN: Adding a2's percentage back gives the original figure
	assert.Equal(t, 45, before)
	assert.Equal(t, before, excluded-a2.AllocationPercentage)
}

func TestAvailableCapacity_UnknownOrManager(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveUser(f.ctx, generic.User{ID: "mgr-1", Name: "Manager", Role: generic.RoleManager, MaxCapacity: 100}))

	for _, id := range []generic.UserID{"missing", "mgr-1"} {
		_, err := f.svc.AvailableCapacity(f.ctx, id, capacity.CapacityQuery{})
		require.ErrorIs(t, err, generic.ErrNotFound)
		assert.Equal(t, generic.ReasonEngineerNotFound, generic.ReasonOf(err))
	}
}

func TestCapacityInfo(t *testing.T) {
	f := newFixture(t)
	f.engineer(t, "eng-1", 80)
	f.allocate(t, "a1", "eng-1", "proj-1", 30, date(time.February, 1), date(time.June, 30))

	info, err := f.svc.CapacityInfo(f.ctx, "eng-1")
	require.NoError(t, err)

	assert.Equal(t, 80, info.MaxCapacity)
	assert.Equal(t, 30, info.AllocatedCapacity)
	assert.Equal(t, 50, info.AvailableCapacity)
	assert.Equal(t, "37.5", info.UtilizationPercent.String())
}

func TestCapacityInfo_ZeroMaxCapacity(t *testing.T) {
	f := newFixture(t)
	f.engineer(t, "eng-1", 0)

	info, err := f.svc.CapacityInfo(f.ctx, "eng-1")
	require.NoError(t, err)
	assert.True(t, info.UtilizationPercent.IsZero())
	assert.Equal(t, 0, info.AvailableCapacity)
}

// =============================================================================
// OVER-ALLOCATION AUDIT
// =============================================================================

func TestOverAllocations_ReportsFirstOverloadedDay(t *testing.T) {
	// GIVEN: One engineer over capacity from Mar 10, one within capacity
	f := newFixture(t)
	f.engineer(t, "busy", 60)
	f.engineer(t, "fine", 100)
	f.allocate(t, "b1", "busy", "proj-1", 40, date(time.March, 1), date(time.March, 31))
	f.allocate(t, "b2", "busy", "proj-1", 40, date(time.March, 10), date(time.April, 30))
	f.allocate(t, "f1", "fine", "proj-1", 50, date(time.March, 1), date(time.March, 31))
	f.allocate(t, "f2", "fine", "proj-1", 50, date(time.March, 10), date(time.April, 30))

	// WHEN: The audit runs
	found, err := f.svc.Accountant.OverAllocations(f.ctx)
	require.NoError(t, err)

	// THEN: Only the busy engineer is reported, at the second start date
	require.Len(t, found, 1)
	assert.Equal(t, generic.UserID("busy"), found[0].Engineer.ID)
	assert.Equal(t, date(time.March, 10), found[0].At)
	assert.Equal(t, 80, found[0].Allocated)
	assert.ElementsMatch(t, []generic.AllocationID{"b1", "b2"}, found[0].AllocationIDs)
}

func TestOverAllocations_IgnoresPast(t *testing.T) {
	f := newFixture(t)
	f.engineer(t, "eng-1", 50)
	f.allocate(t, "a1", "eng-1", "proj-1", 50, generic.NewTimePoint(2024, time.May, 1), generic.NewTimePoint(2024, time.May, 31))
	f.allocate(t, "a2", "eng-1", "proj-1", 50, generic.NewTimePoint(2024, time.May, 1), generic.NewTimePoint(2024, time.May, 31))

	found, err := f.svc.Accountant.OverAllocations(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, found)
}

// =============================================================================
// PURE HELPERS
// =============================================================================

func TestAvailable(t *testing.T) {
	allocs := []generic.Allocation{{AllocationPercentage: 30}, {AllocationPercentage: 50}}

	assert.Equal(t, 20, capacity.Available(100, allocs))
	assert.Equal(t, 0, capacity.Available(70, allocs))
	assert.Equal(t, 100, capacity.Available(100, nil))
}

func TestMatchScore(t *testing.T) {
	assert.Equal(t, 100, capacity.MatchScore(0, 0))
	assert.Equal(t, 67, capacity.MatchScore(2, 3))
	assert.Equal(t, 33, capacity.MatchScore(1, 3))
	assert.Equal(t, 50, capacity.MatchScore(1, 2))
	assert.Equal(t, 0, capacity.MatchScore(0, 4))
}
