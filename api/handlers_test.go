package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/generic"
	"github.com/warp/capacity-engine/generic/store"
	"github.com/warp/capacity-engine/metrics"
)

// testServer wires a handler over an in-memory store with the clock fixed
// at 2025-01-01.
type testServer struct {
	t       *testing.T
	router  http.Handler
	handler *Handler
	store   *store.Memory
	reg     *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	svc := capacity.NewService(mem)
	svc.SetClock(func() time.Time { return time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC) })
	reg := prometheus.NewRegistry()
	svc.Metrics = metrics.New(reg, "")

	h := NewHandler(mem, svc, zaptest.NewLogger(t))
	return &testServer{t: t, router: NewRouter(h, reg), handler: h, store: mem, reg: reg}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed creates eng-1 (Go, React) and an active project covering 2025.
func (s *testServer) seed() {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/users", UserRequest{ID: "eng-1", Name: "Ada", Skills: []string{"Go", "React"}})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/projects", ProjectRequest{
		ID: "proj-1", Name: "Billing", StartDate: "2025-01-01", EndDate: "2025-12-31",
		RequiredSkills: []string{"Go"}, Status: "active",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func allocation(percentage int, start, end string) AllocationRequest {
	return AllocationRequest{EngineerID: "eng-1", ProjectID: "proj-1", AllocationPercentage: &percentage, StartDate: start, EndDate: end}
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func TestAllocationLifecycle(t *testing.T) {
	// GIVEN: An engineer and an active project
	s := newTestServer(t)
	s.seed()

	// WHEN: A 60% allocation is created
	rec := s.do(http.MethodPost, "/api/allocations", allocation(60, "2025-01-15", "2025-06-30"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[AllocationDTO](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "2025-06-30", created.EndDate)

	// THEN: March capacity shows 40% free
	rec = s.do(http.MethodGet, "/api/users/eng-1/capacity?start=2025-03-01&end=2025-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	capDTO := decode[CapacityDTO](t, rec)
	assert.Equal(t, 40, capDTO.AvailableCapacity)
	assert.Equal(t, 60, capDTO.AllocatedCapacity)

	// AND: The allocation can grow to 100% since it is not counted against itself
	rec = s.do(http.MethodPut, "/api/allocations/"+created.ID, AllocationRequest{AllocationPercentage: intPtr(100)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 100, decode[AllocationDTO](t, rec).AllocationPercentage)

	// AND: It is listed for the engineer and the project
	rec = s.do(http.MethodGet, "/api/users/eng-1/allocations", nil)
	assert.Len(t, decode[[]AllocationDTO](t, rec), 1)
	rec = s.do(http.MethodGet, "/api/projects/proj-1/allocations", nil)
	assert.Len(t, decode[[]AllocationDTO](t, rec), 1)

	// AND: Deleting it frees the engineer
	rec = s.do(http.MethodDelete, "/api/allocations/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/api/allocations/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAllocation_CapacityExceededBody(t *testing.T) {
	// GIVEN: 60% already allocated in March
	s := newTestServer(t)
	s.seed()
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/allocations", allocation(60, "2025-01-15", "2025-06-30")).Code)

	// WHEN: Another 50% is requested
	rec := s.do(http.MethodPost, "/api/allocations", allocation(50, "2025-03-01", "2025-03-31"))

	// THEN: 409 with the structured shortage
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, string(generic.ReasonInsufficientCapacity), resp.Reason)
	require.NotNil(t, resp.Available)
	require.NotNil(t, resp.Requested)
	assert.Equal(t, 40, *resp.Available)
	assert.Equal(t, 50, *resp.Requested)
	assert.Equal(t, "eng-1", resp.EngineerID)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		reason generic.Reason
	}{
		{
			name:   "missing fields",
			method: http.MethodPost, path: "/api/allocations",
			body:   AllocationRequest{EngineerID: "eng-1"},
			status: http.StatusBadRequest, reason: generic.ReasonMissingFields,
		},
		{
			name:   "bad date format",
			method: http.MethodPost, path: "/api/allocations",
			body:   allocation(10, "03/01/2025", "2025-03-31"),
			status: http.StatusBadRequest, reason: generic.ReasonInvalidDates,
		},
		{
			name:   "unknown engineer",
			method: http.MethodPost, path: "/api/allocations",
			body:   AllocationRequest{EngineerID: "ghost", ProjectID: "proj-1", AllocationPercentage: intPtr(10), StartDate: "2025-03-01", EndDate: "2025-03-31"},
			status: http.StatusNotFound, reason: generic.ReasonEngineerNotFound,
		},
		{
			name:   "outside project window",
			method: http.MethodPost, path: "/api/allocations",
			body:   allocation(10, "2025-12-01", "2026-01-31"),
			status: http.StatusUnprocessableEntity, reason: generic.ReasonOutOfProjectBounds,
		},
		{
			name:   "duplicate user",
			method: http.MethodPost, path: "/api/users",
			body:   UserRequest{ID: "eng-1", Name: "Again"},
			status: http.StatusConflict,
		},
		{
			name:   "unknown user update",
			method: http.MethodPut, path: "/api/users/ghost",
			body:   UserRequest{Name: "Ghost"},
			status: http.StatusNotFound, reason: generic.ReasonUserNotFound,
		},
		{
			name:   "project with bad status",
			method: http.MethodPost, path: "/api/projects",
			body:   ProjectRequest{Name: "X", StartDate: "2025-01-01", EndDate: "2025-02-01", Status: "cancelled"},
			status: http.StatusBadRequest, reason: generic.ReasonInvalidStatus,
		},
		{
			name:   "malformed json",
			method: http.MethodPost, path: "/api/allocations",
			body:   "not an object",
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.seed()

			rec := s.do(tt.method, tt.path, tt.body)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, string(tt.reason), resp.Reason)
		})
	}
}

// =============================================================================
// PROJECTS
// =============================================================================

func TestDeleteProject_WithAllocationsConflicts(t *testing.T) {
	// GIVEN: A project with one allocation
	s := newTestServer(t)
	s.seed()
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/allocations", allocation(10, "2025-03-01", "2025-03-31")).Code)

	// WHEN: The project is deleted
	rec := s.do(http.MethodDelete, "/api/projects/proj-1", nil)

	// THEN: 409 reports the dependent count
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, string(generic.ReasonHasAssignments), resp.Reason)
	assert.Equal(t, "proj-1", resp.ProjectID)
	require.NotNil(t, resp.Dependents)
	assert.Equal(t, 1, *resp.Dependents)
}

func TestUpdateProject_ShrinkStrandingAllocationRejected(t *testing.T) {
	s := newTestServer(t)
	s.seed()
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/allocations", allocation(10, "2025-03-01", "2025-09-30")).Code)

	rec := s.do(http.MethodPut, "/api/projects/proj-1", ProjectRequest{
		Name: "Billing", StartDate: "2025-01-01", EndDate: "2025-06-30", Status: "active",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(generic.ReasonAssignmentsOutsideNewRange), decode[ErrorResponse](t, rec).Reason)

	rec = s.do(http.MethodPut, "/api/projects/proj-1", ProjectRequest{
		Name: "Billing v2", StartDate: "2025-01-01", EndDate: "2025-10-31", Status: "active",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Billing v2", decode[ProjectDTO](t, rec).Name)
}

func TestProjects_CreateDefaultsAndList(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/projects", ProjectRequest{Name: "Portal", StartDate: "2025-02-01", EndDate: "2025-05-31"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[ProjectDTO](t, rec)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "planning", p.Status)
	assert.Equal(t, []string{}, p.RequiredSkills)

	rec = s.do(http.MethodGet, "/api/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/api/projects", nil)
	assert.Len(t, decode[[]ProjectDTO](t, rec), 1)
	rec = s.do(http.MethodGet, "/api/projects/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjectSuggestions(t *testing.T) {
	// GIVEN: Two engineers, one matching the project's Go requirement
	s := newTestServer(t)
	s.seed()
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/users", UserRequest{ID: "eng-2", Name: "Alan", Skills: []string{"Python"}}).Code)

	// WHEN: Suggestions are requested
	rec := s.do(http.MethodGet, "/api/projects/proj-1/suggestions?min_capacity=50", nil)

	// THEN: The Go engineer ranks first with a full score
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	matches := decode[[]MatchDTO](t, rec)
	require.Len(t, matches, 2)
	assert.Equal(t, "eng-1", matches[0].Engineer.ID)
	assert.Equal(t, 100, matches[0].MatchScore)
	assert.Equal(t, []string{"Go"}, matches[1].MissingSkills)

	rec = s.do(http.MethodGet, "/api/projects/proj-1/suggestions?min_capacity=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// USERS AND ENGINEERS
// =============================================================================

func TestUsers_CreateGetUpdate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/users", UserRequest{Name: "Grace", Role: "manager"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	mgr := decode[UserDTO](t, rec)
	assert.NotEmpty(t, mgr.ID)
	assert.Equal(t, 100, mgr.MaxCapacity)

	rec = s.do(http.MethodPut, "/api/users/"+mgr.ID, UserRequest{Name: "Grace Hopper", Role: "manager", MaxCapacity: intPtr(80)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 80, decode[UserDTO](t, rec).MaxCapacity)

	rec = s.do(http.MethodGet, "/api/users?role=engineer", nil)
	assert.Empty(t, decode[[]UserDTO](t, rec))
	rec = s.do(http.MethodGet, "/api/users/"+mgr.ID+"/capacity", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUserCapacity_DefaultRangeAndBadDates(t *testing.T) {
	s := newTestServer(t)
	s.seed()
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/allocations", allocation(25, "2025-02-01", "2025-03-31")).Code)

	rec := s.do(http.MethodGet, "/api/users/eng-1/capacity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[CapacityDTO](t, rec)
	assert.Equal(t, 75, info.AvailableCapacity)
	assert.Equal(t, "25", info.UtilizationPercent.String())

	rec = s.do(http.MethodGet, "/api/users/eng-1/capacity?start=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodGet, "/api/users/eng-1/capacity?start=2025-03-01&end=2025-02-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUserAvailability(t *testing.T) {
	// GIVEN: 60% from Jan 15 to Jun 30
	s := newTestServer(t)
	s.seed()
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/allocations", allocation(60, "2025-01-15", "2025-06-30")).Code)

	// WHEN: Windows are requested
	rec := s.do(http.MethodGet, "/api/users/eng-1/availability", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: Full-capacity gaps before and after the allocation
	windows := decode[[]WindowDTO](t, rec)
	require.Len(t, windows, 2)
	assert.Equal(t, WindowDTO{StartDate: "2025-01-01", EndDate: "2025-01-15", AvailableCapacity: 100}, windows[0])
	assert.Equal(t, WindowDTO{StartDate: "2025-06-30", EndDate: "2030-12-31", AvailableCapacity: 100}, windows[1])
}

func TestEngineers_FilterAndMatch(t *testing.T) {
	s := newTestServer(t)
	s.seed()
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/users", UserRequest{ID: "eng-2", Name: "Alan", Skills: []string{"React Native"}}).Code)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/users", UserRequest{ID: "eng-3", Name: "Edsger", Skills: []string{"Haskell"}}).Code)

	// Substring, case-insensitive
	rec := s.do(http.MethodGet, "/api/engineers?skills=react,%20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]UserDTO](t, rec), 2)

	rec = s.do(http.MethodGet, "/api/engineers", nil)
	assert.Len(t, decode[[]UserDTO](t, rec), 3)

	rec = s.do(http.MethodPost, "/api/engineers/match", MatchRequest{RequiredSkills: []string{"go", "react"}, MinCapacity: 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	matches := decode[[]MatchDTO](t, rec)
	require.NotEmpty(t, matches)
	assert.Equal(t, "eng-1", matches[0].Engineer.ID)
	assert.Equal(t, 100, matches[0].MatchScore)

	rec = s.do(http.MethodPost, "/api/engineers/match", MatchRequest{MinCapacity: 101})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// HEALTH AND METRICS
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	s.seed()
	s.do(http.MethodPost, "/api/allocations", allocation(150, "2025-03-01", "2025-03-31"))

	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `capacity_writes_total{op="create_allocation",result="invalid_percentage"} 1`), body)
	assert.Contains(t, body, `capacity_writes_total{op="create_project",result="accepted"} 1`)
}

func TestHealth_StorePingFailure(t *testing.T) {
	h := NewHandler(failingPingStore{store.NewMemory()}, capacity.NewService(store.NewMemory()), nil)
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingPingStore struct{ *store.Memory }

func (failingPingStore) Ping(context.Context) error { return context.DeadlineExceeded }

func intPtr(n int) *int { return &n }
