/*
types.go - Core domain types for engineer capacity tracking

PURPOSE:
  Defines the records the engine reasons about (users, projects,
  allocations) and the derived values it computes on demand (capacity
  info, availability windows, skill matches).

KEY CONCEPTS:
  User:        A person. Only users with RoleEngineer can be allocated.
  Project:     A time-bounded piece of work with required skills.
  Allocation:  A percentage commitment of one engineer to one project
               over [StartDate, EndDate].

  Capacity is an integer percent. An engineer with MaxCapacity 100 and two
  overlapping 40% allocations has 20% available in the overlap.

DERIVED VALUES:
  CapacityInfo and AvailabilityWindow are computed from the current
  allocation set every time they are requested. They are never stored.

SEE ALSO:
  - skills.go: Case-insensitive skill set
  - store.go: Persistence interfaces
  - capacity/: The engine that computes the derived values
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type ProjectID string
type AllocationID string

// DefaultMaxCapacity applies when a user is created without a capacity.
const DefaultMaxCapacity = 100

// =============================================================================
// USER
// =============================================================================

type Role string

const (
	RoleEngineer Role = "engineer"
	RoleManager  Role = "manager"
)

func (r Role) Valid() bool { return r == RoleEngineer || r == RoleManager }

type User struct {
	ID          UserID
	Name        string
	Email       string
	Role        Role
	MaxCapacity int // percent, 0-100
	Skills      SkillSet
	Seniority   string // junior, mid, senior
	Department  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (u User) IsEngineer() bool { return u.Role == RoleEngineer }

// =============================================================================
// PROJECT
// =============================================================================

type ProjectStatus string

const (
	ProjectPlanning  ProjectStatus = "planning"
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectOnHold    ProjectStatus = "on-hold"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectPlanning, ProjectActive, ProjectCompleted, ProjectOnHold:
		return true
	}
	return false
}

// Assignable reports whether new allocations may be created or extended.
func (s ProjectStatus) Assignable() bool {
	return s == ProjectPlanning || s == ProjectActive
}

type Project struct {
	ID             ProjectID
	Name           string
	Description    string
	StartDate      TimePoint
	EndDate        TimePoint
	RequiredSkills []string
	TeamSize       int // 0 = unspecified
	Status         ProjectStatus
	ManagerID      UserID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p Project) Period() Period { return Period{Start: p.StartDate, End: p.EndDate} }

// =============================================================================
// ALLOCATION
// =============================================================================

type Allocation struct {
	ID                   AllocationID
	EngineerID           UserID
	ProjectID            ProjectID
	AllocationPercentage int
	StartDate            TimePoint
	EndDate              TimePoint
	Role                 string // e.g. "Tech Lead", "Developer"
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (a Allocation) Period() Period { return Period{Start: a.StartDate, End: a.EndDate} }

// AllocationProposal is an unvalidated create or update request.
// Dates stay strings so that parse failures are reported by the validator.
type AllocationProposal struct {
	EngineerID           UserID
	ProjectID            ProjectID
	AllocationPercentage *int
	StartDate            string
	EndDate              string
	Role                 string

	// ExcludeAllocationID is set on updates so the allocation is not
	// counted against itself.
	ExcludeAllocationID AllocationID
}

// ValidatedAllocation is the outcome of a proposal that passed every check.
type ValidatedAllocation struct {
	Engineer          User
	Project           Project
	Percentage        int
	Period            Period
	Role              string
	AvailableCapacity int // capacity before this allocation
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

type CapacityInfo struct {
	MaxCapacity        int
	AllocatedCapacity  int
	AvailableCapacity  int
	UtilizationPercent decimal.Decimal
}

// NewCapacityInfo derives the allocated and utilization figures from the
// available capacity. Utilization is 0 when maxCapacity is 0.
func NewCapacityInfo(maxCapacity, available int) CapacityInfo {
	allocated := maxCapacity - available
	utilization := decimal.Zero
	if maxCapacity > 0 {
		utilization = decimal.NewFromInt(int64(allocated)).
			Div(decimal.NewFromInt(int64(maxCapacity))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	return CapacityInfo{
		MaxCapacity:        maxCapacity,
		AllocatedCapacity:  allocated,
		AvailableCapacity:  available,
		UtilizationPercent: utilization,
	}
}

type AvailabilityWindow struct {
	StartDate         TimePoint
	EndDate           TimePoint
	AvailableCapacity int
}

// EngineerMatch is one ranked candidate for a required skill set.
type EngineerMatch struct {
	Engineer          User
	MatchingSkills    []string
	MissingSkills     []string
	AvailableCapacity int
	MatchScore        int // 0-100
}
