/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built rosters that populate the store with realistic
	engineers, projects and allocations. Dates are relative to today so a
	scenario always shows current and future capacity.

AVAILABLE SCENARIOS:

	balanced-team:  Three engineers with partial load on two projects
	overbooked:     Engineers fully booked for the next quarter
	skills-gap:     A project whose required skills nobody fully covers

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Build a factory.Roster relative to today
 3. Load it through capacity.Service, so every allocation is validated

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "overbooked"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Router-facing handlers
  - factory/roster.go: Roster schema and loader
*/
package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/capacity-engine/factory"
	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	roster func(today generic.TimePoint) *factory.Roster
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "balanced-team",
			Name:        "Balanced Team",
			Description: "Three engineers partially allocated across two projects",
		},
		roster: balancedTeamRoster,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "overbooked",
			Name:        "Overbooked",
			Description: "Engineers fully booked for the next quarter; new allocations are rejected",
		},
		roster: overbookedRoster,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "skills-gap",
			Name:        "Skills Gap",
			Description: "A project whose required skills no single engineer covers",
		},
		roster: skillsGapRoster,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	s, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}

	res, err := s.roster(h.today()).Load(ctx, h.Service)
	if err != nil {
		h.Logger.Error("load scenario", zap.String("scenario", s.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = s.ID
	h.Logger.Info("scenario loaded", zap.String("scenario", s.ID),
		zap.Int("users", res.Users), zap.Int("projects", res.Projects), zap.Int("allocations", len(res.Allocations)))

	writeJSON(w, http.StatusOK, ScenarioLoadedDTO{
		Scenario:    s.ScenarioDTO,
		Users:       res.Users,
		Projects:    res.Projects,
		Allocations: len(res.Allocations),
	})
}

func (h *Handler) today() generic.TimePoint {
	if h.Service.Now != nil {
		return generic.TodayAt(h.Service.Now())
	}
	return generic.TodayAt(time.Now())
}

// =============================================================================
// ROSTERS
// =============================================================================

func pct(n int) *int { return &n }

func balancedTeamRoster(today generic.TimePoint) *factory.Roster {
	d := func(days int) string { return today.AddDays(days).String() }
	return &factory.Roster{
		Users: []factory.UserYAML{
			{ID: "mgr-1", Name: "Grace Hopper", Email: "grace@example.com", Role: "manager"},
			{ID: "eng-ada", Name: "Ada Lovelace", Email: "ada@example.com", Skills: []string{"Go", "PostgreSQL", "Kubernetes"}, Seniority: "senior", Department: "Platform"},
			{ID: "eng-linus", Name: "Linus Torvalds", Email: "linus@example.com", Skills: []string{"React", "TypeScript", "Go"}, Seniority: "mid", Department: "Product"},
			{ID: "eng-katherine", Name: "Katherine Johnson", Email: "katherine@example.com", MaxCapacity: pct(50), Skills: []string{"Python", "Go"}, Seniority: "junior", Department: "Platform"},
		},
		Projects: []factory.ProjectYAML{
			{ID: "proj-billing", Name: "Billing Rewrite", StartDate: d(-30), EndDate: d(120), RequiredSkills: []string{"Go", "PostgreSQL"}, TeamSize: 3, Status: "active", ManagerID: "mgr-1"},
			{ID: "proj-portal", Name: "Customer Portal", StartDate: d(14), EndDate: d(180), RequiredSkills: []string{"React", "TypeScript"}, TeamSize: 2, Status: "planning", ManagerID: "mgr-1"},
		},
		Allocations: []factory.AllocationYAML{
			{EngineerID: "eng-ada", ProjectID: "proj-billing", AllocationPercentage: pct(60), StartDate: d(0), EndDate: d(90), Role: "Tech Lead"},
			{EngineerID: "eng-katherine", ProjectID: "proj-billing", AllocationPercentage: pct(30), StartDate: d(0), EndDate: d(60), Role: "Developer"},
			{EngineerID: "eng-linus", ProjectID: "proj-portal", AllocationPercentage: pct(50), StartDate: d(14), EndDate: d(180), Role: "Developer"},
		},
	}
}

func overbookedRoster(today generic.TimePoint) *factory.Roster {
	d := func(days int) string { return today.AddDays(days).String() }
	return &factory.Roster{
		Users: []factory.UserYAML{
			{ID: "mgr-1", Name: "Grace Hopper", Role: "manager"},
			{ID: "eng-ada", Name: "Ada Lovelace", Skills: []string{"Go", "gRPC"}, Seniority: "senior"},
			{ID: "eng-alan", Name: "Alan Turing", Skills: []string{"Go", "Python"}, Seniority: "senior"},
		},
		Projects: []factory.ProjectYAML{
			{ID: "proj-payments", Name: "Payments Gateway", StartDate: d(0), EndDate: d(90), RequiredSkills: []string{"Go", "gRPC"}, TeamSize: 2, Status: "active", ManagerID: "mgr-1"},
			{ID: "proj-migration", Name: "Datacenter Migration", StartDate: d(0), EndDate: d(90), RequiredSkills: []string{"Go"}, TeamSize: 2, Status: "active", ManagerID: "mgr-1"},
			{ID: "proj-ml", Name: "Fraud Model", StartDate: d(30), EndDate: d(120), RequiredSkills: []string{"Python"}, Status: "planning", ManagerID: "mgr-1"},
		},
		Allocations: []factory.AllocationYAML{
			{EngineerID: "eng-ada", ProjectID: "proj-payments", AllocationPercentage: pct(70), StartDate: d(0), EndDate: d(90), Role: "Tech Lead"},
			{EngineerID: "eng-ada", ProjectID: "proj-migration", AllocationPercentage: pct(30), StartDate: d(0), EndDate: d(90), Role: "Advisor"},
			{EngineerID: "eng-alan", ProjectID: "proj-migration", AllocationPercentage: pct(100), StartDate: d(0), EndDate: d(90), Role: "Developer"},
		},
	}
}

func skillsGapRoster(today generic.TimePoint) *factory.Roster {
	d := func(days int) string { return today.AddDays(days).String() }
	return &factory.Roster{
		Users: []factory.UserYAML{
			{ID: "mgr-1", Name: "Grace Hopper", Role: "manager"},
			{ID: "eng-ada", Name: "Ada Lovelace", Skills: []string{"Go", "Kafka"}, Seniority: "senior"},
			{ID: "eng-barbara", Name: "Barbara Liskov", Skills: []string{"Rust"}, Seniority: "senior"},
			{ID: "eng-margaret", Name: "Margaret Hamilton", Skills: []string{"Python", "Terraform"}, Seniority: "mid"},
		},
		Projects: []factory.ProjectYAML{
			{ID: "proj-streaming", Name: "Streaming Platform", StartDate: d(7), EndDate: d(200), RequiredSkills: []string{"Rust", "Kafka", "Go", "Kubernetes"}, TeamSize: 3, Status: "planning", ManagerID: "mgr-1"},
		},
		Allocations: []factory.AllocationYAML{
			{EngineerID: "eng-ada", ProjectID: "proj-streaming", AllocationPercentage: pct(40), StartDate: d(7), EndDate: d(100), Role: "Developer"},
		},
	}
}
