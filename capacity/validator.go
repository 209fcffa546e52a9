/*
validator.go - Allocation and project write validation

PURPOSE:
  Decides whether a proposed write may be persisted. The validator only
  reads; it never writes. The caller (Service) persists on success.

ALLOCATION STATE MACHINE:
  Checks run in this order and stop at the first failure:

    1. MissingFields          engineer, project, percentage, start, end
    2. InvalidDates           both parse, end > start
    3. InvalidPercentage      1 <= percentage <= 100
    4. EngineerNotFound       user exists and has the engineer role
    5. ProjectNotAssignable   project exists, status planning or active
    6. OutOfProjectBounds     start >= project.start, end <= project.end
    7. InsufficientCapacity   available(engineer, start, end, excludeSelf) >= percentage
    8. Accepted

  The order matters for error messages: a request with bad dates against a
  missing project reports the dates.

PROJECT CHECKS:
  ValidateProjectDates:    new [start, end] must contain every allocation
  ValidateProjectDeletion: no allocation may reference the project
  ValidateProject:         field-level checks for create/update

SEE ALSO:
  - accountant.go: Capacity formula
  - service.go: Validate-then-write under a per-engineer lock
  - generic/errors.go: Error kinds and reasons
*/
package capacity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/capacity-engine/generic"
)

// Validator checks proposed writes against the current store state.
type Validator struct {
	Store      generic.Store
	Accountant *Accountant
}

func NewValidator(store generic.Store) *Validator {
	return &Validator{Store: store, Accountant: NewAccountant(store)}
}

// withStore returns a validator reading through another store view,
// keeping the accountant's clock.
func (v *Validator) withStore(store generic.Store) *Validator {
	acct := &Accountant{Store: store, Now: time.Now}
	if v.Accountant != nil {
		acct.Now = v.Accountant.Now
	}
	return &Validator{Store: store, Accountant: acct}
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

// ValidateAllocation runs the allocation state machine.
func (v *Validator) ValidateAllocation(ctx context.Context, p generic.AllocationProposal) (generic.ValidatedAllocation, error) {
	// 1. Required fields
	var missing []string
	if p.EngineerID == "" {
		missing = append(missing, "engineer_id")
	}
	if p.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if p.AllocationPercentage == nil {
		missing = append(missing, "allocation_percentage")
	}
	if strings.TrimSpace(p.StartDate) == "" {
		missing = append(missing, "start_date")
	}
	if strings.TrimSpace(p.EndDate) == "" {
		missing = append(missing, "end_date")
	}
	if len(missing) > 0 {
		return generic.ValidatedAllocation{}, &generic.ValidationError{
			Reason:  generic.ReasonMissingFields,
			Field:   strings.Join(missing, ","),
			Message: "required",
		}
	}

	// 2. Dates
	period, err := parsePeriod(p.StartDate, p.EndDate)
	if err != nil {
		return generic.ValidatedAllocation{}, err
	}

	// 3. Percentage
	pct := *p.AllocationPercentage
	if pct < 1 || pct > 100 {
		return generic.ValidatedAllocation{}, &generic.ValidationError{
			Reason:  generic.ReasonInvalidPercentage,
			Field:   "allocation_percentage",
			Message: fmt.Sprintf("must be between 1 and 100, got %d", pct),
		}
	}

	// 4. Engineer
	engineer, err := lookupEngineer(ctx, v.Store, p.EngineerID)
	if err != nil {
		return generic.ValidatedAllocation{}, err
	}

	// 5. Project
	project, err := v.assignableProject(ctx, p.ProjectID)
	if err != nil {
		return generic.ValidatedAllocation{}, err
	}

	// 6. Containment
	if !project.Period().Covers(period) {
		return generic.ValidatedAllocation{}, &generic.BoundsViolationError{
			Reason:     generic.ReasonOutOfProjectBounds,
			ProjectID:  project.ID,
			EngineerID: engineer.ID,
			Allowed:    project.Period(),
			Actual:     period,
		}
	}

	// 7. Capacity
	available, err := v.Accountant.availableFor(ctx, engineer, period, p.ExcludeAllocationID)
	if err != nil {
		return generic.ValidatedAllocation{}, err
	}
	if available < pct {
		return generic.ValidatedAllocation{}, &generic.CapacityExceededError{
			EngineerID: engineer.ID,
			Requested:  pct,
			Available:  available,
			Period:     period,
		}
	}

	// 8. Accepted
	return generic.ValidatedAllocation{
		Engineer:          engineer,
		Project:           project,
		Percentage:        pct,
		Period:            period,
		Role:              p.Role,
		AvailableCapacity: available,
	}, nil
}

func (v *Validator) assignableProject(ctx context.Context, id generic.ProjectID) (generic.Project, error) {
	project, err := v.Store.GetProject(ctx, id)
	if err != nil {
		return generic.Project{}, fmt.Errorf("get project %s: %w", id, err)
	}
	if project == nil {
		return generic.Project{}, &generic.NotFoundError{Reason: generic.ReasonProjectNotAssignable, Kind: "project", ID: string(id)}
	}
	if !project.Status.Assignable() {
		return generic.Project{}, &generic.ValidationError{
			Reason:  generic.ReasonProjectNotAssignable,
			Field:   "project_id",
			Message: fmt.Sprintf("project %s is %s; only planning or active projects accept allocations", id, project.Status),
		}
	}
	return *project, nil
}

func parsePeriod(start, end string) (generic.Period, error) {
	s, err := generic.ParseDate(start)
	if err != nil {
		return generic.Period{}, &generic.ValidationError{Reason: generic.ReasonInvalidDates, Field: "start_date", Message: err.Error()}
	}
	e, err := generic.ParseDate(end)
	if err != nil {
		return generic.Period{}, &generic.ValidationError{Reason: generic.ReasonInvalidDates, Field: "end_date", Message: err.Error()}
	}
	period, err := generic.NewPeriod(s, e)
	if err != nil {
		return generic.Period{}, &generic.ValidationError{Reason: generic.ReasonInvalidDates, Message: "end_date must be after start_date"}
	}
	return period, nil
}

// =============================================================================
// PROJECTS
// =============================================================================

// ValidateProject checks the fields of a project record.
func (v *Validator) ValidateProject(p generic.Project) error {
	if strings.TrimSpace(p.Name) == "" {
		return &generic.ValidationError{Reason: generic.ReasonMissingFields, Field: "name", Message: "required"}
	}
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return &generic.ValidationError{Reason: generic.ReasonMissingFields, Field: "start_date,end_date", Message: "required"}
	}
	if !p.Period().Valid() {
		return &generic.ValidationError{Reason: generic.ReasonInvalidDates, Message: "end_date must be after start_date"}
	}
	if !p.Status.Valid() {
		return &generic.ValidationError{
			Reason:  generic.ReasonInvalidStatus,
			Field:   "status",
			Message: fmt.Sprintf("unknown status %q", p.Status),
		}
	}
	if p.TeamSize < 0 {
		return &generic.ValidationError{
			Reason:  generic.ReasonInvalidTeamSize,
			Field:   "team_size",
			Message: fmt.Sprintf("must not be negative, got %d", p.TeamSize),
		}
	}
	return nil
}

// ValidateProjectDates checks that every allocation on the project fits
// inside the proposed new range.
func (v *Validator) ValidateProjectDates(ctx context.Context, projectID generic.ProjectID, newRange generic.Period) error {
	if !newRange.Valid() {
		return &generic.ValidationError{Reason: generic.ReasonInvalidDates, Message: "end_date must be after start_date"}
	}
	allocs, err := v.Store.QueryAllocations(ctx, generic.AllocationFilter{ProjectID: projectID})
	if err != nil {
		return fmt.Errorf("query allocations for project %s: %w", projectID, err)
	}
	for _, a := range allocs {
		if !newRange.Covers(a.Period()) {
			return &generic.BoundsViolationError{
				Reason:       generic.ReasonAssignmentsOutsideNewRange,
				ProjectID:    projectID,
				EngineerID:   a.EngineerID,
				AllocationID: a.ID,
				Allowed:      newRange,
				Actual:       a.Period(),
			}
		}
	}
	return nil
}

// ValidateProjectDeletion rejects deleting a project that still has allocations.
func (v *Validator) ValidateProjectDeletion(ctx context.Context, projectID generic.ProjectID) error {
	allocs, err := v.Store.QueryAllocations(ctx, generic.AllocationFilter{ProjectID: projectID})
	if err != nil {
		return fmt.Errorf("query allocations for project %s: %w", projectID, err)
	}
	if n := len(allocs); n > 0 {
		return &generic.ConflictError{Reason: generic.ReasonHasAssignments, ProjectID: projectID, Dependents: n}
	}
	return nil
}

// =============================================================================
// USERS
// =============================================================================

// ValidateUser checks the fields of a user record.
func (v *Validator) ValidateUser(u generic.User) error {
	if strings.TrimSpace(u.Name) == "" {
		return &generic.ValidationError{Reason: generic.ReasonMissingFields, Field: "name", Message: "required"}
	}
	if !u.Role.Valid() {
		return &generic.ValidationError{Reason: generic.ReasonInvalidRole, Field: "role", Message: fmt.Sprintf("unknown role %q", u.Role)}
	}
	if u.MaxCapacity < 0 || u.MaxCapacity > 100 {
		return &generic.ValidationError{
			Reason:  generic.ReasonInvalidCapacity,
			Field:   "max_capacity",
			Message: fmt.Sprintf("must be between 0 and 100, got %d", u.MaxCapacity),
		}
	}
	return nil
}
