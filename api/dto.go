/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Defines the JSON shapes for requests and responses. DTOs decouple the
  wire format from the domain types in generic/, so internal renames do
  not break clients.

NAMING CONVENTION:
  *DTO      Response body (or element of one)
  *Request  Request body

DATES:
  Dates are YYYY-MM-DD strings on the wire. Request dates are passed to the
  validator unparsed so that format errors come back as invalid_dates.

SEE ALSO:
  - handlers.go: Uses these DTOs
  - generic/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents a user.
type UserDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role"`
	MaxCapacity int      `json:"max_capacity"`
	Skills      []string `json:"skills"`
	Seniority   string   `json:"seniority,omitempty"`
	Department  string   `json:"department,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// UserRequest creates or replaces a user. Role defaults to engineer and
// MaxCapacity to 100.
type UserRequest struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	MaxCapacity *int     `json:"max_capacity,omitempty"`
	Skills      []string `json:"skills,omitempty"`
	Seniority   string   `json:"seniority,omitempty"`
	Department  string   `json:"department,omitempty"`
}

func (req UserRequest) toUser() generic.User {
	u := generic.User{
		ID:          generic.UserID(req.ID),
		Name:        req.Name,
		Email:       req.Email,
		Role:        generic.Role(req.Role),
		MaxCapacity: generic.DefaultMaxCapacity,
		Skills:      generic.NewSkillSet(req.Skills...),
		Seniority:   req.Seniority,
		Department:  req.Department,
	}
	if u.Role == "" {
		u.Role = generic.RoleEngineer
	}
	if req.MaxCapacity != nil {
		u.MaxCapacity = *req.MaxCapacity
	}
	return u
}

// CapacityDTO is the capacity summary of one engineer over the default range.
type CapacityDTO struct {
	EngineerID         string          `json:"engineer_id"`
	MaxCapacity        int             `json:"max_capacity"`
	AllocatedCapacity  int             `json:"allocated_capacity"`
	AvailableCapacity  int             `json:"available_capacity"`
	UtilizationPercent decimal.Decimal `json:"utilization_percent"`
}

// WindowDTO is one availability window.
type WindowDTO struct {
	StartDate         string `json:"start_date"`
	EndDate           string `json:"end_date"`
	AvailableCapacity int    `json:"available_capacity"`
}

// =============================================================================
// ENGINEER MATCHING
// =============================================================================

// MatchRequest asks for engineers ranked against required skills.
type MatchRequest struct {
	RequiredSkills []string `json:"required_skills"`
	MinCapacity    int      `json:"min_capacity"`
}

// MatchDTO is one ranked candidate.
type MatchDTO struct {
	Engineer          UserDTO  `json:"engineer"`
	MatchingSkills    []string `json:"matching_skills"`
	MissingSkills     []string `json:"missing_skills"`
	AvailableCapacity int      `json:"available_capacity"`
	MatchScore        int      `json:"match_score"`
}

// =============================================================================
// PROJECTS
// =============================================================================

// ProjectDTO represents a project.
type ProjectDTO struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	RequiredSkills []string `json:"required_skills"`
	TeamSize       int      `json:"team_size,omitempty"`
	Status         string   `json:"status"`
	ManagerID      string   `json:"manager_id,omitempty"`
	CreatedAt      string   `json:"created_at,omitempty"`
	UpdatedAt      string   `json:"updated_at,omitempty"`
}

// ProjectRequest creates or replaces a project.
type ProjectRequest struct {
	ID             string   `json:"id,omitempty"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	RequiredSkills []string `json:"required_skills,omitempty"`
	TeamSize       int      `json:"team_size,omitempty"`
	Status         string   `json:"status,omitempty"`
	ManagerID      string   `json:"manager_id,omitempty"`
}

func (req ProjectRequest) toProject() (generic.Project, error) {
	var start, end generic.TimePoint
	for _, d := range []struct {
		field string
		raw   string
		dst   *generic.TimePoint
	}{{"start_date", req.StartDate, &start}, {"end_date", req.EndDate, &end}} {
		if d.raw == "" {
			continue // reported as missing by the validator
		}
		tp, err := generic.ParseDate(d.raw)
		if err != nil {
			return generic.Project{}, &generic.ValidationError{Reason: generic.ReasonInvalidDates, Field: d.field, Message: err.Error()}
		}
		*d.dst = tp
	}
	return generic.Project{
		ID:             generic.ProjectID(req.ID),
		Name:           req.Name,
		Description:    req.Description,
		StartDate:      start,
		EndDate:        end,
		RequiredSkills: req.RequiredSkills,
		TeamSize:       req.TeamSize,
		Status:         generic.ProjectStatus(req.Status),
		ManagerID:      generic.UserID(req.ManagerID),
	}, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

// AllocationDTO represents an allocation.
type AllocationDTO struct {
	ID                   string `json:"id"`
	EngineerID           string `json:"engineer_id"`
	ProjectID            string `json:"project_id"`
	AllocationPercentage int    `json:"allocation_percentage"`
	StartDate            string `json:"start_date"`
	EndDate              string `json:"end_date"`
	Role                 string `json:"role,omitempty"`
	CreatedAt            string `json:"created_at,omitempty"`
	UpdatedAt            string `json:"updated_at,omitempty"`
}

// AllocationRequest creates an allocation. On update, blank fields keep
// their current values.
type AllocationRequest struct {
	EngineerID           string `json:"engineer_id"`
	ProjectID            string `json:"project_id"`
	AllocationPercentage *int   `json:"allocation_percentage"`
	StartDate            string `json:"start_date"`
	EndDate              string `json:"end_date"`
	Role                 string `json:"role,omitempty"`
}

func (req AllocationRequest) toProposal() generic.AllocationProposal {
	return generic.AllocationProposal{
		EngineerID:           generic.UserID(req.EngineerID),
		ProjectID:            generic.ProjectID(req.ProjectID),
		AllocationPercentage: req.AllocationPercentage,
		StartDate:            req.StartDate,
		EndDate:              req.EndDate,
		Role:                 req.Role,
	}
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScenarioLoadedDTO reports what a scenario load created.
type ScenarioLoadedDTO struct {
	Scenario    ScenarioDTO `json:"scenario"`
	Users       int         `json:"users"`
	Projects    int         `json:"projects"`
	Allocations int         `json:"allocations"`
}

// ErrorResponse is the standard error response. The structured fields are
// filled from the domain error when one is available.
type ErrorResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	Details    any    `json:"details,omitempty"`
	Available  *int   `json:"available,omitempty"`
	Requested  *int   `json:"requested,omitempty"`
	EngineerID string `json:"engineer_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	Dependents *int   `json:"dependents,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toUserDTO(u generic.User) UserDTO {
	skills := u.Skills.Names()
	if skills == nil {
		skills = []string{}
	}
	return UserDTO{
		ID:          string(u.ID),
		Name:        u.Name,
		Email:       u.Email,
		Role:        string(u.Role),
		MaxCapacity: u.MaxCapacity,
		Skills:      skills,
		Seniority:   u.Seniority,
		Department:  u.Department,
		CreatedAt:   formatTime(u.CreatedAt),
		UpdatedAt:   formatTime(u.UpdatedAt),
	}
}

func toProjectDTO(p generic.Project) ProjectDTO {
	skills := p.RequiredSkills
	if skills == nil {
		skills = []string{}
	}
	return ProjectDTO{
		ID:             string(p.ID),
		Name:           p.Name,
		Description:    p.Description,
		StartDate:      p.StartDate.String(),
		EndDate:        p.EndDate.String(),
		RequiredSkills: skills,
		TeamSize:       p.TeamSize,
		Status:         string(p.Status),
		ManagerID:      string(p.ManagerID),
		CreatedAt:      formatTime(p.CreatedAt),
		UpdatedAt:      formatTime(p.UpdatedAt),
	}
}

func toAllocationDTO(a generic.Allocation) AllocationDTO {
	return AllocationDTO{
		ID:                   string(a.ID),
		EngineerID:           string(a.EngineerID),
		ProjectID:            string(a.ProjectID),
		AllocationPercentage: a.AllocationPercentage,
		StartDate:            a.StartDate.String(),
		EndDate:              a.EndDate.String(),
		Role:                 a.Role,
		CreatedAt:            formatTime(a.CreatedAt),
		UpdatedAt:            formatTime(a.UpdatedAt),
	}
}

func toAllocationDTOs(allocs []generic.Allocation) []AllocationDTO {
	dtos := make([]AllocationDTO, len(allocs))
	for i, a := range allocs {
		dtos[i] = toAllocationDTO(a)
	}
	return dtos
}

func toCapacityDTO(id generic.UserID, info generic.CapacityInfo) CapacityDTO {
	return CapacityDTO{
		EngineerID:         string(id),
		MaxCapacity:        info.MaxCapacity,
		AllocatedCapacity:  info.AllocatedCapacity,
		AvailableCapacity:  info.AvailableCapacity,
		UtilizationPercent: info.UtilizationPercent,
	}
}

func toWindowDTOs(windows []generic.AvailabilityWindow) []WindowDTO {
	dtos := make([]WindowDTO, len(windows))
	for i, w := range windows {
		dtos[i] = WindowDTO{
			StartDate:         w.StartDate.String(),
			EndDate:           w.EndDate.String(),
			AvailableCapacity: w.AvailableCapacity,
		}
	}
	return dtos
}

func toMatchDTOs(matches []generic.EngineerMatch) []MatchDTO {
	dtos := make([]MatchDTO, len(matches))
	for i, m := range matches {
		dtos[i] = MatchDTO{
			Engineer:          toUserDTO(m.Engineer),
			MatchingSkills:    nonNil(m.MatchingSkills),
			MissingSkills:     nonNil(m.MissingSkills),
			AvailableCapacity: m.AvailableCapacity,
			MatchScore:        m.MatchScore,
		}
	}
	return dtos
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
