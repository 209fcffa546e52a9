/*
Package factory provides YAML to Go roster conversion.

PURPOSE:
  Converts a YAML roster (engineers, managers, projects, allocations) into
  domain records and loads them through the capacity service. Seed data
  and the demo scenarios are written this way, so every seeded allocation
  passes the same validation as an API request.

YAML SCHEMA:
  users:
    - id: eng-1
      name: Ada Lovelace
      email: ada@example.com
      role: engineer            # engineer (default) or manager
      max_capacity: 100         # default 100
      skills: [Go, React]
      seniority: senior
      department: Platform
  projects:
    - id: proj-1
      name: Billing Rewrite
      start_date: 2025-01-01
      end_date: 2025-06-30
      required_skills: [Go, PostgreSQL]
      team_size: 3
      status: active            # default planning
      manager_id: mgr-1
  allocations:
    - engineer_id: eng-1
      project_id: proj-1
      allocation_percentage: 60
      start_date: 2025-01-15
      end_date: 2025-06-30
      role: Tech Lead

LOAD ORDER:
  Users, then projects, then allocations. The first rejected record stops
  the load and is reported with its position in the file.

SEE ALSO:
  - capacity/service.go: Validates every record
  - api/scenarios.go: Demo rosters
*/
package factory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// Roster is the YAML document.
type Roster struct {
	Users       []UserYAML       `yaml:"users"`
	Projects    []ProjectYAML    `yaml:"projects"`
	Allocations []AllocationYAML `yaml:"allocations"`
}

type UserYAML struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Email       string   `yaml:"email,omitempty"`
	Role        string   `yaml:"role,omitempty"`
	MaxCapacity *int     `yaml:"max_capacity,omitempty"`
	Skills      []string `yaml:"skills,omitempty"`
	Seniority   string   `yaml:"seniority,omitempty"`
	Department  string   `yaml:"department,omitempty"`
}

type ProjectYAML struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description,omitempty"`
	StartDate      string   `yaml:"start_date"`
	EndDate        string   `yaml:"end_date"`
	RequiredSkills []string `yaml:"required_skills,omitempty"`
	TeamSize       int      `yaml:"team_size,omitempty"`
	Status         string   `yaml:"status,omitempty"`
	ManagerID      string   `yaml:"manager_id,omitempty"`
}

type AllocationYAML struct {
	EngineerID           string `yaml:"engineer_id"`
	ProjectID            string `yaml:"project_id"`
	AllocationPercentage *int   `yaml:"allocation_percentage"`
	StartDate            string `yaml:"start_date"`
	EndDate              string `yaml:"end_date"`
	Role                 string `yaml:"role,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseRoster decodes a YAML roster. Unknown keys are rejected and an
// empty document is an empty roster.
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	return &r, nil
}

// ReadRoster parses the roster at path.
func ReadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	return ParseRoster(data)
}

// ToUser applies defaults (engineer role, 100% capacity).
func (u UserYAML) ToUser() generic.User {
	user := generic.User{
		ID:          generic.UserID(u.ID),
		Name:        u.Name,
		Email:       u.Email,
		Role:        generic.Role(u.Role),
		MaxCapacity: generic.DefaultMaxCapacity,
		Skills:      generic.NewSkillSet(u.Skills...),
		Seniority:   u.Seniority,
		Department:  u.Department,
	}
	if user.Role == "" {
		user.Role = generic.RoleEngineer
	}
	if u.MaxCapacity != nil {
		user.MaxCapacity = *u.MaxCapacity
	}
	return user
}

// ToProject parses dates. Status defaults to planning in the service.
func (p ProjectYAML) ToProject() (generic.Project, error) {
	start, err := generic.ParseDate(p.StartDate)
	if err != nil {
		return generic.Project{}, &generic.ValidationError{Reason: generic.ReasonInvalidDates, Field: "start_date", Message: err.Error()}
	}
	end, err := generic.ParseDate(p.EndDate)
	if err != nil {
		return generic.Project{}, &generic.ValidationError{Reason: generic.ReasonInvalidDates, Field: "end_date", Message: err.Error()}
	}
	return generic.Project{
		ID:             generic.ProjectID(p.ID),
		Name:           p.Name,
		Description:    p.Description,
		StartDate:      start,
		EndDate:        end,
		RequiredSkills: p.RequiredSkills,
		TeamSize:       p.TeamSize,
		Status:         generic.ProjectStatus(p.Status),
		ManagerID:      generic.UserID(p.ManagerID),
	}, nil
}

func (a AllocationYAML) ToProposal() generic.AllocationProposal {
	return generic.AllocationProposal{
		EngineerID:           generic.UserID(a.EngineerID),
		ProjectID:            generic.ProjectID(a.ProjectID),
		AllocationPercentage: a.AllocationPercentage,
		StartDate:            a.StartDate,
		EndDate:              a.EndDate,
		Role:                 a.Role,
	}
}

// =============================================================================
// LOADING
// =============================================================================

// LoadResult counts what a load created.
type LoadResult struct {
	Users       int
	Projects    int
	Allocations []generic.AllocationID
}

// Load writes the roster through svc.
func (r *Roster) Load(ctx context.Context, svc *capacity.Service) (LoadResult, error) {
	var res LoadResult
	for i, u := range r.Users {
		if _, err := svc.CreateUser(ctx, u.ToUser()); err != nil {
			return res, fmt.Errorf("users[%d] %s: %w", i, u.ID, err)
		}
		res.Users++
	}
	for i, p := range r.Projects {
		project, err := p.ToProject()
		if err == nil {
			_, err = svc.CreateProject(ctx, project)
		}
		if err != nil {
			return res, fmt.Errorf("projects[%d] %s: %w", i, p.ID, err)
		}
		res.Projects++
	}
	for i, a := range r.Allocations {
		alloc, err := svc.CreateAllocation(ctx, a.ToProposal())
		if err != nil {
			return res, fmt.Errorf("allocations[%d] %s on %s: %w", i, a.EngineerID, a.ProjectID, err)
		}
		res.Allocations = append(res.Allocations, alloc.ID)
	}
	return res, nil
}
