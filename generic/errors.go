/*
errors.go - Centralized error types for the capacity engine

PURPOSE:
  All rejection kinds in one place for consistency and discoverability.
  Every rejection is a structured error that unwraps to one of five kind
  sentinels, so callers can branch with errors.Is and read details with
  errors.As.

ERROR KINDS:
  ErrNotFound          Engineer/project absent or wrong role
  ErrValidation        Missing fields, bad dates, bad percentage, bad team size
  ErrCapacityExceeded  Requested percentage above available capacity
  ErrBoundsViolation   Allocation outside project window, or project shrink
                       that would strand existing allocations
  ErrConflict          Deleting a project that still has allocations

REASONS:
  Each structured error also carries a Reason. The kind says how an API
  should answer; the reason says which validation step rejected the write.

USAGE:
  _, err := svc.CreateAllocation(ctx, proposal)
  var capErr *generic.CapacityExceededError
  if errors.As(err, &capErr) {
      fmt.Printf("only %d%% available\n", capErr.Available)
  }

SEE ALSO:
  - capacity/validator.go: Produces these errors
  - api/handlers.go: Maps kinds to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrBoundsViolation  = errors.New("bounds violation")
	ErrConflict         = errors.New("conflict")

	// ErrInvalidPeriod is returned when a period is malformed (end not after start).
	ErrInvalidPeriod = errors.New("invalid period: end must be after start")

	// ErrDuplicateID is returned by stores when inserting an existing ID.
	ErrDuplicateID = errors.New("duplicate id")
)

// Reason names the validation step that rejected a write.
type Reason string

const (
	ReasonMissingFields              Reason = "missing_fields"
	ReasonInvalidDates               Reason = "invalid_dates"
	ReasonInvalidPercentage          Reason = "invalid_percentage"
	ReasonInvalidCapacity            Reason = "invalid_capacity"
	ReasonInvalidTeamSize            Reason = "invalid_team_size"
	ReasonInvalidStatus              Reason = "invalid_status"
	ReasonInvalidRole                Reason = "invalid_role"
	ReasonEngineerNotFound           Reason = "engineer_not_found"
	ReasonProjectNotFound            Reason = "project_not_found"
	ReasonAllocationNotFound         Reason = "allocation_not_found"
	ReasonUserNotFound               Reason = "user_not_found"
	ReasonProjectNotAssignable       Reason = "project_not_assignable"
	ReasonOutOfProjectBounds         Reason = "out_of_project_bounds"
	ReasonInsufficientCapacity       Reason = "insufficient_capacity"
	ReasonAssignmentsOutsideNewRange Reason = "assignments_outside_new_range"
	ReasonHasAssignments             Reason = "has_assignments"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError reports a missing record, or a user without the engineer role.
type NotFoundError struct {
	Reason Reason
	Kind   string // "engineer", "project", "allocation", "user"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports malformed input.
type ValidationError struct {
	Reason  Reason
	Field   string // empty when the error spans several fields
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Reason, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// CapacityExceededError provides details about a capacity shortage.
type CapacityExceededError struct {
	EngineerID UserID
	Requested  int
	Available  int
	Period     Period
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("insufficient capacity for %s in %s: available %d%%, requested %d%%",
		e.EngineerID, e.Period, e.Available, e.Requested)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// BoundsViolationError reports an allocation that does not fit its project window.
type BoundsViolationError struct {
	Reason       Reason
	ProjectID    ProjectID
	EngineerID   UserID       // offending engineer, when known
	AllocationID AllocationID // offending allocation, when known
	Allowed      Period       // project window
	Actual       Period       // allocation range
}

func (e *BoundsViolationError) Error() string {
	if e.Reason == ReasonAssignmentsOutsideNewRange {
		return fmt.Sprintf("allocation %s of engineer %s %s falls outside new project range %s",
			e.AllocationID, e.EngineerID, e.Actual, e.Allowed)
	}
	return fmt.Sprintf("allocation %s is outside project %s window %s", e.Actual, e.ProjectID, e.Allowed)
}

func (e *BoundsViolationError) Unwrap() error { return ErrBoundsViolation }

// ConflictError reports a delete blocked by dependent records.
type ConflictError struct {
	Reason     Reason
	ProjectID  ProjectID
	Dependents int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("project %s has %d allocation(s); remove them first", e.ProjectID, e.Dependents)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// ReasonOf returns the rejection reason carried by err, or "" if none.
func ReasonOf(err error) Reason {
	var (
		nf  *NotFoundError
		ve  *ValidationError
		ce  *CapacityExceededError
		bv  *BoundsViolationError
		cfl *ConflictError
	)
	switch {
	case errors.As(err, &nf):
		return nf.Reason
	case errors.As(err, &ve):
		return ve.Reason
	case errors.As(err, &ce):
		return ReasonInsufficientCapacity
	case errors.As(err, &bv):
		return bv.Reason
	case errors.As(err, &cfl):
		return cfl.Reason
	}
	return ""
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrBoundsViolation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
