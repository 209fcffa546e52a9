/*
store.go - Persistence interface for users, projects and allocations

PURPOSE:
  Defines the interface between the capacity engine and the database.
  The engine only reads through Store and writes through the same
  interface inside WithTx; it never sees SQL or connection details.

KEY INTERFACES:
  Store:   Fetch-by-id, overlap queries and record writes
  TxStore: Store plus WithTx for atomic validate-then-write

NOT FOUND CONVENTION:
  Get* methods return (nil, nil) when the record does not exist. Whether
  an absent record is an error is a domain decision made by the caller.

ALLOCATION QUERIES:
  QueryAllocations takes an AllocationFilter. Every set field narrows the
  result; an empty filter returns every allocation. Results are ordered by
  StartDate, then ID, so callers can walk them chronologically.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for tests and development

EXAMPLE:
  overlap := generic.Period{Start: mar1, End: mar31}
  allocs, err := store.QueryAllocations(ctx, generic.AllocationFilter{
      EngineerID:  "eng-1",
      Overlapping: &overlap,
  })

SEE ALSO:
  - capacity/accountant.go: Main reader
  - capacity/service.go: Writes through WithTx
*/
package generic

import "context"

// =============================================================================
// FILTERS
// =============================================================================

// UserFilter narrows ListUsers. A zero Role lists everyone.
type UserFilter struct {
	Role Role
}

// AllocationFilter narrows QueryAllocations.
type AllocationFilter struct {
	EngineerID UserID
	ProjectID  ProjectID

	// Overlapping keeps allocations whose range overlaps the period
	// under the closed-interval rule.
	Overlapping *Period

	// EndingOnOrAfter keeps allocations with EndDate >= the given day.
	EndingOnOrAfter *TimePoint

	// ExcludeID drops one allocation, used when revalidating an update.
	ExcludeID AllocationID
}

// Matches applies the filter to a single allocation. Store
// implementations that filter in memory use it directly.
func (f AllocationFilter) Matches(a Allocation) bool {
	if f.EngineerID != "" && a.EngineerID != f.EngineerID {
		return false
	}
	if f.ProjectID != "" && a.ProjectID != f.ProjectID {
		return false
	}
	if f.ExcludeID != "" && a.ID == f.ExcludeID {
		return false
	}
	if f.Overlapping != nil && !a.Period().Overlaps(*f.Overlapping) {
		return false
	}
	if f.EndingOnOrAfter != nil && a.EndDate.Before(*f.EndingOnOrAfter) {
		return false
	}
	return true
}

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of users, projects and allocations.
type Store interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]User, error)
	SaveUser(ctx context.Context, user User) error

	GetProject(ctx context.Context, id ProjectID) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	SaveProject(ctx context.Context, project Project) error
	DeleteProject(ctx context.Context, id ProjectID) error

	GetAllocation(ctx context.Context, id AllocationID) (*Allocation, error)
	QueryAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error)
	InsertAllocation(ctx context.Context, a Allocation) error
	UpdateAllocation(ctx context.Context, a Allocation) error
	DeleteAllocation(ctx context.Context, id AllocationID) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic validate-then-write
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	// Reads made through the Store passed to fn see the transaction's writes.
	WithTx(ctx context.Context, fn func(Store) error) error
}
