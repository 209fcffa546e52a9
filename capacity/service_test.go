package capacity_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/events"
	"github.com/warp/capacity-engine/generic"
)

type recordingMetrics struct {
	mu      sync.Mutex
	results map[string][]string
}

func (m *recordingMetrics) ObserveWrite(op, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = map[string][]string{}
	}
	m.results[op] = append(m.results[op], result)
}

func serviceFixture(t *testing.T) (*fixture, *events.Recorder) {
	t.Helper()
	f := newFixture(t)
	rec := &events.Recorder{}
	f.svc.Publisher = rec
	f.engineer(t, "eng-1", 100)
	f.project(t, "proj-1", generic.ProjectActive, date(time.January, 1), date(time.December, 31))
	return f, rec
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func TestCreateAllocation_PersistsAndPublishes(t *testing.T) {
	// GIVEN: A free engineer on an active project
	f, rec := serviceFixture(t)

	// WHEN: A 60% allocation is created
	p := proposal("eng-1", "proj-1", 60, "2025-01-15", "2025-06-30")
	p.Role = "Tech Lead"
	alloc, err := f.svc.CreateAllocation(f.ctx, p)
	require.NoError(t, err)

	// THEN: It is stored with a generated ID
	assert.NotEmpty(t, alloc.ID)
	stored, err := f.store.GetAllocation(f.ctx, alloc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Tech Lead", stored.Role)
	assert.Equal(t, 60, stored.AllocationPercentage)

	// AND: One created event went out
	evs := rec.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.AllocationCreated, evs[0].Type)
	assert.Equal(t, string(alloc.ID), evs[0].AllocationID)
	assert.Equal(t, "2025-01-15", evs[0].StartDate)
}

func TestCreateAllocation_RejectedWritesNothing(t *testing.T) {
	f, rec := serviceFixture(t)
	metrics := &recordingMetrics{}
	f.svc.Metrics = metrics

	_, err := f.svc.CreateAllocation(f.ctx, proposal("eng-1", "proj-1", 60, "2025-01-15", "2025-06-30"))
	require.NoError(t, err)

	_, err = f.svc.CreateAllocation(f.ctx, proposal("eng-1", "proj-1", 50, "2025-04-01", "2025-04-30"))
	require.ErrorIs(t, err, generic.ErrCapacityExceeded)

	allocs, err := f.store.QueryAllocations(f.ctx, generic.AllocationFilter{EngineerID: "eng-1"})
	require.NoError(t, err)
	assert.Len(t, allocs, 1)
	assert.Len(t, rec.Events(), 1)
	assert.Equal(t, []string{capacity.ResultAccepted, string(generic.ReasonInsufficientCapacity)}, metrics.results[capacity.OpCreateAllocation])
}

func TestCreateAllocation_ConcurrentRequestsCannotOverbook(t *testing.T) {
	// GIVEN: An engineer at 100% and twenty concurrent 10% requests
	f, _ := serviceFixture(t)
	const requests = 20

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.CreateAllocation(f.ctx, proposal("eng-1", "proj-1", 10, "2025-03-01", "2025-03-31")); err == nil {
				accepted.Add(1)
			} else {
				assert.ErrorIs(t, err, generic.ErrCapacityExceeded)
			}
		}()
	}
	wg.Wait()

	// THEN: Exactly ten fit and March is fully booked
	assert.Equal(t, int32(10), accepted.Load())
	assert.Equal(t, 0, available(t, f, "eng-1", date(time.March, 1), date(time.March, 31)))
}

func TestUpdateAllocation_ExcludesItselfAndMergesFields(t *testing.T) {
	// GIVEN: A 60% allocation
	f, rec := serviceFixture(t)
	alloc, err := f.svc.CreateAllocation(f.ctx, proposal("eng-1", "proj-1", 60, "2025-01-15", "2025-06-30"))
	require.NoError(t, err)

	// WHEN: Only the percentage is raised to 100
	updated, err := f.svc.UpdateAllocation(f.ctx, alloc.ID, generic.AllocationProposal{AllocationPercentage: pct(100)})

	// THEN: It fits because the old 60% is not counted, and the dates are kept
	require.NoError(t, err)
	assert.Equal(t, 100, updated.AllocationPercentage)
	assert.Equal(t, date(time.January, 15), updated.StartDate)
	assert.Equal(t, date(time.June, 30), updated.EndDate)
	assert.Equal(t, alloc.ID, updated.ID)

	evs := rec.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, events.AllocationUpdated, evs[1].Type)
}

func TestUpdateAllocation_NoOpUpdateIsAccepted(t *testing.T) {
	f, _ := serviceFixture(t)
	alloc, err := f.svc.CreateAllocation(f.ctx, proposal("eng-1", "proj-1", 100, "2025-02-01", "2025-02-28"))
	require.NoError(t, err)

	_, err = f.svc.UpdateAllocation(f.ctx, alloc.ID, proposal("eng-1", "proj-1", 100, "2025-02-01", "2025-02-28"))
	require.NoError(t, err)
}

func TestUpdateAllocation_MoveToAnotherEngineerChecksTheirCapacity(t *testing.T) {
	f, _ := serviceFixture(t)
	f.engineer(t, "eng-2", 50)
	alloc, err := f.svc.CreateAllocation(f.ctx, proposal("eng-1", "proj-1", 60, "2025-02-01", "2025-02-28"))
	require.NoError(t, err)

	_, err = f.svc.UpdateAllocation(f.ctx, alloc.ID, generic.AllocationProposal{EngineerID: "eng-2"})
	require.ErrorIs(t, err, generic.ErrCapacityExceeded)

	moved, err := f.svc.UpdateAllocation(f.ctx, alloc.ID, generic.AllocationProposal{EngineerID: "eng-2", AllocationPercentage: pct(50)})
	require.NoError(t, err)
	assert.Equal(t, generic.UserID("eng-2"), moved.EngineerID)
	assert.Equal(t, 100, available(t, f, "eng-1", date(time.February, 1), date(time.February, 28)))
}

func TestUpdateAllocation_NotFound(t *testing.T) {
	f, _ := serviceFixture(t)

	_, err := f.svc.UpdateAllocation(f.ctx, "missing", generic.AllocationProposal{AllocationPercentage: pct(10)})
	require.ErrorIs(t, err, generic.ErrNotFound)
	assert.Equal(t, generic.ReasonAllocationNotFound, generic.ReasonOf(err))
}

func TestDeleteAllocation(t *testing.T) {
	f, rec := serviceFixture(t)
	alloc, err := f.svc.CreateAllocation(f.ctx, proposal("eng-1", "proj-1", 60, "2025-01-15", "2025-06-30"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAllocation(f.ctx, alloc.ID))

	got, err := f.store.GetAllocation(f.ctx, alloc.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, events.AllocationDeleted, rec.Events()[1].Type)

	assert.ErrorIs(t, f.svc.DeleteAllocation(f.ctx, alloc.ID), generic.ErrNotFound)
}

// =============================================================================
// PROJECTS
// =============================================================================

func TestCreateProject_DefaultsToPlanning(t *testing.T) {
	f, _ := serviceFixture(t)

	p, err := f.svc.CreateProject(f.ctx, generic.Project{Name: "Apollo", StartDate: date(time.March, 1), EndDate: date(time.May, 31)})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, generic.ProjectPlanning, p.Status)
}

func TestUpdateProject_CannotStrandAllocations(t *testing.T) {
	// GIVEN: An allocation Jan 15 - Jun 30 on proj-1
	f, _ := serviceFixture(t)
	_, err := f.svc.CreateAllocation(f.ctx, proposal("eng-1", "proj-1", 60, "2025-01-15", "2025-06-30"))
	require.NoError(t, err)

	// WHEN: The project is shortened to end in May
	project, err := f.store.GetProject(f.ctx, "proj-1")
	require.NoError(t, err)
	shrunk := *project
	shrunk.EndDate = date(time.May, 31)
	_, err = f.svc.UpdateProject(f.ctx, shrunk)

	// THEN: Rejected and the stored project is unchanged
	require.ErrorIs(t, err, generic.ErrBoundsViolation)
	assert.Equal(t, generic.ReasonAssignmentsOutsideNewRange, generic.ReasonOf(err))
	stored, err := f.store.GetProject(f.ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, date(time.December, 31), stored.EndDate)

	// AND: A status-only change goes through
	paused := *project
	paused.Status = generic.ProjectOnHold
	_, err = f.svc.UpdateProject(f.ctx, paused)
	require.NoError(t, err)
}

func TestDeleteProject_ConflictWithDependentCount(t *testing.T) {
	f, rec := serviceFixture(t)
	_, err := f.svc.CreateAllocation(f.ctx, proposal("eng-1", "proj-1", 30, "2025-02-01", "2025-02-28"))
	require.NoError(t, err)
	_, err = f.svc.CreateAllocation(f.ctx, proposal("eng-1", "proj-1", 30, "2025-03-01", "2025-03-31"))
	require.NoError(t, err)

	err = f.svc.DeleteProject(f.ctx, "proj-1")
	var ce *generic.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Dependents)

	f.project(t, "empty", generic.ProjectPlanning, date(time.March, 1), date(time.March, 31))
	require.NoError(t, f.svc.DeleteProject(f.ctx, "empty"))
	assert.Equal(t, events.ProjectDeleted, rec.Events()[len(rec.Events())-1].Type)

	assert.ErrorIs(t, f.svc.DeleteProject(f.ctx, "empty"), generic.ErrNotFound)
}

// =============================================================================
// USERS
// =============================================================================

func TestCreateAndUpdateUser(t *testing.T) {
	f, _ := serviceFixture(t)

	u, err := f.svc.CreateUser(f.ctx, generic.User{Name: "Grace", Role: generic.RoleEngineer, MaxCapacity: 100})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)

	u.MaxCapacity = 50
	_, err = f.svc.UpdateUser(f.ctx, *u)
	require.NoError(t, err)

	stored, err := f.store.GetUser(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, stored.MaxCapacity)

	_, err = f.svc.UpdateUser(f.ctx, generic.User{ID: "ghost", Name: "Ghost", Role: generic.RoleEngineer})
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = f.svc.CreateUser(f.ctx, generic.User{ID: u.ID, Name: "Dup", Role: generic.RoleEngineer})
	assert.ErrorIs(t, err, generic.ErrDuplicateID)
}
