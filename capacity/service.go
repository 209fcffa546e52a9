/*
service.go - Validate-then-write coordinator

PURPOSE:
  The only entry point that writes users, projects and allocations. Every
  write is validated and persisted as one unit so the capacity invariant
  cannot be broken by two requests racing each other.

SERIALIZATION:
  ┌──────────────────────────────────────────────────────────────────┐
  │  lock(engineer) ──▶ WithTx { validate via tx view ──▶ write }    │
  │                                     │                            │
  │                                     ▼                            │
  │                      unlock ──▶ metrics ──▶ publish event        │
  └──────────────────────────────────────────────────────────────────┘

  The per-engineer mutex covers stores whose transactions do not
  serialize writers. Validation reads through the transaction's Store so
  the capacity check and the insert see the same state.

  Updates that move an allocation to another engineer lock both engineers,
  in ID order.

EVENTS:
  Published after commit. A publish failure is logged, not returned.

EXAMPLE:
  svc := capacity.NewService(store)
  pct := 60
  alloc, err := svc.CreateAllocation(ctx, generic.AllocationProposal{
      EngineerID: "eng-1", ProjectID: "proj-1", AllocationPercentage: &pct,
      StartDate: "2025-01-15", EndDate: "2025-06-30",
  })

SEE ALSO:
  - validator.go: The checks run inside the transaction
  - locks.go: Per-engineer mutex table
*/
package capacity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/capacity-engine/events"
	"github.com/warp/capacity-engine/generic"
)

// Operation names used for metrics and logs.
const (
	OpCreateAllocation = "create_allocation"
	OpUpdateAllocation = "update_allocation"
	OpDeleteAllocation = "delete_allocation"
	OpCreateProject    = "create_project"
	OpUpdateProject    = "update_project"
	OpDeleteProject    = "delete_project"
	OpSaveUser         = "save_user"
)

// Write results reported to Metrics besides the rejection reasons.
const (
	ResultAccepted = "accepted"
	ResultError    = "error"
)

// Metrics receives write outcomes. result is ResultAccepted, ResultError
// or the generic.Reason that rejected the write.
type Metrics interface {
	ObserveWrite(op, result string, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveWrite(string, string, time.Duration) {}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store      generic.TxStore
	Validator  *Validator
	Accountant *Accountant
	Windows    *WindowBuilder
	Matcher    *Matcher

	Publisher events.Publisher
	Metrics   Metrics
	Logger    *zap.Logger

	// NewID generates record IDs; uuid by default.
	NewID func() string
	Now   func() time.Time

	locks *lockTable
}

func NewService(store generic.TxStore) *Service {
	acct := NewAccountant(store)
	return &Service{
		Store:      store,
		Validator:  &Validator{Store: store, Accountant: acct},
		Accountant: acct,
		Windows:    NewWindowBuilder(store),
		Matcher:    &Matcher{Store: store, Accountant: acct},
		Publisher:  events.Nop{},
		Metrics:    nopMetrics{},
		Logger:     zap.NewNop(),
		NewID:      uuid.NewString,
		Now:        time.Now,
		locks:      newLockTable(),
	}
}

// SetClock points every component at the same clock.
func (s *Service) SetClock(now func() time.Time) {
	s.Now = now
	s.Accountant.Now = now
	s.Validator.Accountant.Now = now
	s.Windows.Now = now
	s.Matcher.Accountant.Now = now
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) AvailableCapacity(ctx context.Context, engineerID generic.UserID, q CapacityQuery) (int, error) {
	return s.Accountant.AvailableCapacity(ctx, engineerID, q)
}

func (s *Service) CapacityInfo(ctx context.Context, engineerID generic.UserID) (generic.CapacityInfo, error) {
	return s.Accountant.CapacityInfo(ctx, engineerID)
}

func (s *Service) AvailabilityWindows(ctx context.Context, engineerID generic.UserID) ([]generic.AvailabilityWindow, error) {
	return s.Windows.AvailabilityWindows(ctx, engineerID)
}

func (s *Service) FindMatchingEngineers(ctx context.Context, requiredSkills []string, minCapacity int) ([]generic.EngineerMatch, error) {
	return s.Matcher.FindMatchingEngineers(ctx, requiredSkills, minCapacity)
}

func (s *Service) FilterEngineersBySkills(ctx context.Context, skills []string) ([]generic.User, error) {
	return s.Matcher.FilterEngineersBySkills(ctx, skills)
}

func (s *Service) SuggestForProject(ctx context.Context, projectID generic.ProjectID, minCapacity int) ([]generic.EngineerMatch, error) {
	return s.Matcher.SuggestForProject(ctx, projectID, minCapacity)
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

// CreateAllocation validates the proposal and inserts it atomically.
func (s *Service) CreateAllocation(ctx context.Context, p generic.AllocationProposal) (*generic.Allocation, error) {
	p.ExcludeAllocationID = ""
	unlock := s.locks.lock(p.EngineerID)
	defer unlock()

	var created generic.Allocation
	start := time.Now()
	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		va, err := s.Validator.withStore(tx).ValidateAllocation(ctx, p)
		if err != nil {
			return err
		}
		created = generic.Allocation{
			ID:                   generic.AllocationID(s.NewID()),
			EngineerID:           va.Engineer.ID,
			ProjectID:            va.Project.ID,
			AllocationPercentage: va.Percentage,
			StartDate:            va.Period.Start,
			EndDate:              va.Period.End,
			Role:                 va.Role,
		}
		if err := tx.InsertAllocation(ctx, created); err != nil {
			return err
		}
		return reload(ctx, tx.GetAllocation, created.ID, &created)
	})
	s.observe(OpCreateAllocation, err, start)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, allocationEvent(events.AllocationCreated, created, s.now()))
	return &created, nil
}

// UpdateAllocation re-validates an allocation against everything but itself.
// Blank proposal fields keep their stored values.
func (s *Service) UpdateAllocation(ctx context.Context, id generic.AllocationID, p generic.AllocationProposal) (*generic.Allocation, error) {
	existing, err := s.getAllocation(ctx, s.Store, id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(existing.EngineerID, p.EngineerID)
	defer unlock()

	var updated generic.Allocation
	start := time.Now()
	err = s.Store.WithTx(ctx, func(tx generic.Store) error {
		current, err := s.getAllocation(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.EngineerID != existing.EngineerID {
			return fmt.Errorf("allocation %s changed engineer during update: %w", id, generic.ErrConflict)
		}
		merged := mergeProposal(*current, p)
		va, err := s.Validator.withStore(tx).ValidateAllocation(ctx, merged)
		if err != nil {
			return err
		}
		updated = *current
		updated.EngineerID = va.Engineer.ID
		updated.ProjectID = va.Project.ID
		updated.AllocationPercentage = va.Percentage
		updated.StartDate = va.Period.Start
		updated.EndDate = va.Period.End
		updated.Role = va.Role
		if err := tx.UpdateAllocation(ctx, updated); err != nil {
			return err
		}
		return reload(ctx, tx.GetAllocation, id, &updated)
	})
	s.observe(OpUpdateAllocation, err, start)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, allocationEvent(events.AllocationUpdated, updated, s.now()))
	return &updated, nil
}

// DeleteAllocation removes an allocation. There are no dependents to check.
func (s *Service) DeleteAllocation(ctx context.Context, id generic.AllocationID) error {
	existing, err := s.getAllocation(ctx, s.Store, id)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(existing.EngineerID)
	defer unlock()

	start := time.Now()
	err = s.Store.WithTx(ctx, func(tx generic.Store) error {
		if _, err := s.getAllocation(ctx, tx, id); err != nil {
			return err
		}
		return tx.DeleteAllocation(ctx, id)
	})
	s.observe(OpDeleteAllocation, err, start)
	if err != nil {
		return err
	}

	s.publish(ctx, allocationEvent(events.AllocationDeleted, *existing, s.now()))
	return nil
}

func (s *Service) getAllocation(ctx context.Context, store generic.Store, id generic.AllocationID) (*generic.Allocation, error) {
	a, err := store.GetAllocation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get allocation %s: %w", id, err)
	}
	if a == nil {
		return nil, &generic.NotFoundError{Reason: generic.ReasonAllocationNotFound, Kind: "allocation", ID: string(id)}
	}
	return a, nil
}

func mergeProposal(current generic.Allocation, p generic.AllocationProposal) generic.AllocationProposal {
	merged := p
	merged.ExcludeAllocationID = current.ID
	if merged.EngineerID == "" {
		merged.EngineerID = current.EngineerID
	}
	if merged.ProjectID == "" {
		merged.ProjectID = current.ProjectID
	}
	if merged.AllocationPercentage == nil {
		pct := current.AllocationPercentage
		merged.AllocationPercentage = &pct
	}
	if merged.StartDate == "" {
		merged.StartDate = current.StartDate.String()
	}
	if merged.EndDate == "" {
		merged.EndDate = current.EndDate.String()
	}
	if merged.Role == "" {
		merged.Role = current.Role
	}
	return merged
}

// =============================================================================
// PROJECTS
// =============================================================================

// CreateProject validates and stores a new project. Status defaults to planning.
func (s *Service) CreateProject(ctx context.Context, p generic.Project) (*generic.Project, error) {
	if p.ID == "" {
		p.ID = generic.ProjectID(s.NewID())
	}
	if p.Status == "" {
		p.Status = generic.ProjectPlanning
	}
	start := time.Now()
	err := s.Validator.ValidateProject(p)
	if err == nil {
		err = s.Store.WithTx(ctx, func(tx generic.Store) error {
			existing, err := tx.GetProject(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("get project %s: %w", p.ID, err)
			}
			if existing != nil {
				return fmt.Errorf("project %s: %w", p.ID, generic.ErrDuplicateID)
			}
			if err := tx.SaveProject(ctx, p); err != nil {
				return err
			}
			return reload(ctx, tx.GetProject, p.ID, &p)
		})
	}
	s.observe(OpCreateProject, err, start)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProject replaces a project. A date change must keep every existing
// allocation inside the new range.
func (s *Service) UpdateProject(ctx context.Context, p generic.Project) (*generic.Project, error) {
	start := time.Now()
	err := s.Validator.ValidateProject(p)
	if err == nil {
		err = s.Store.WithTx(ctx, func(tx generic.Store) error {
			existing, err := tx.GetProject(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("get project %s: %w", p.ID, err)
			}
			if existing == nil {
				return &generic.NotFoundError{Reason: generic.ReasonProjectNotFound, Kind: "project", ID: string(p.ID)}
			}
			if !existing.StartDate.Equal(p.StartDate) || !existing.EndDate.Equal(p.EndDate) {
				if err := s.Validator.withStore(tx).ValidateProjectDates(ctx, p.ID, p.Period()); err != nil {
					return err
				}
			}
			if err := tx.SaveProject(ctx, p); err != nil {
				return err
			}
			return reload(ctx, tx.GetProject, p.ID, &p)
		})
	}
	s.observe(OpUpdateProject, err, start)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:       events.ProjectUpdated,
		ProjectID:  string(p.ID),
		StartDate:  p.StartDate.String(),
		EndDate:    p.EndDate.String(),
		OccurredAt: s.now(),
	})
	return &p, nil
}

// DeleteProject removes a project with no allocations.
func (s *Service) DeleteProject(ctx context.Context, id generic.ProjectID) error {
	start := time.Now()
	err := s.Store.WithTx(ctx, func(tx generic.Store) error {
		existing, err := tx.GetProject(ctx, id)
		if err != nil {
			return fmt.Errorf("get project %s: %w", id, err)
		}
		if existing == nil {
			return &generic.NotFoundError{Reason: generic.ReasonProjectNotFound, Kind: "project", ID: string(id)}
		}
		if err := s.Validator.withStore(tx).ValidateProjectDeletion(ctx, id); err != nil {
			return err
		}
		return tx.DeleteProject(ctx, id)
	})
	s.observe(OpDeleteProject, err, start)
	if err != nil {
		return err
	}

	s.publish(ctx, events.Event{Type: events.ProjectDeleted, ProjectID: string(id), OccurredAt: s.now()})
	return nil
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser stores a new user, generating an ID when none is given.
func (s *Service) CreateUser(ctx context.Context, u generic.User) (*generic.User, error) {
	if u.ID == "" {
		u.ID = generic.UserID(s.NewID())
	}
	return s.saveUser(ctx, u, false)
}

// UpdateUser replaces an existing user. Lowering MaxCapacity below the
// current load is allowed; the capacity audit reports the overrun.
func (s *Service) UpdateUser(ctx context.Context, u generic.User) (*generic.User, error) {
	return s.saveUser(ctx, u, true)
}

func (s *Service) saveUser(ctx context.Context, u generic.User, mustExist bool) (*generic.User, error) {
	unlock := s.locks.lock(u.ID)
	defer unlock()

	start := time.Now()
	err := s.Validator.ValidateUser(u)
	if err == nil {
		err = s.Store.WithTx(ctx, func(tx generic.Store) error {
			existing, err := tx.GetUser(ctx, u.ID)
			if err != nil {
				return fmt.Errorf("get user %s: %w", u.ID, err)
			}
			switch {
			case mustExist && existing == nil:
				return &generic.NotFoundError{Reason: generic.ReasonUserNotFound, Kind: "user", ID: string(u.ID)}
			case !mustExist && existing != nil:
				return fmt.Errorf("user %s: %w", u.ID, generic.ErrDuplicateID)
			}
			if err := tx.SaveUser(ctx, u); err != nil {
				return err
			}
			return reload(ctx, tx.GetUser, u.ID, &u)
		})
	}
	s.observe(OpSaveUser, err, start)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) observe(op string, err error, start time.Time) {
	elapsed := time.Since(start)
	reason := generic.ReasonOf(err)

	switch {
	case err == nil:
		s.Metrics.ObserveWrite(op, ResultAccepted, elapsed)
		s.Logger.Debug("write accepted", zap.String("op", op), zap.Duration("elapsed", elapsed))
	case reason != "":
		s.Metrics.ObserveWrite(op, string(reason), elapsed)
		s.Logger.Info("write rejected", zap.String("op", op), zap.String("reason", string(reason)), zap.Error(err))
	default:
		s.Metrics.ObserveWrite(op, ResultError, elapsed)
		s.Logger.Error("write failed", zap.String("op", op), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.Publisher.Publish(ctx, e); err != nil {
		s.Logger.Warn("publish event failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

// reload replaces *dst with the stored record so callers see the
// timestamps the store assigned.
func reload[ID any, T any](ctx context.Context, get func(context.Context, ID) (*T, error), id ID, dst *T) error {
	stored, err := get(ctx, id)
	if err != nil {
		return err
	}
	if stored != nil {
		*dst = *stored
	}
	return nil
}

func allocationEvent(t events.Type, a generic.Allocation, at time.Time) events.Event {
	return events.Event{
		Type:                 t,
		AllocationID:         string(a.ID),
		EngineerID:           string(a.EngineerID),
		ProjectID:            string(a.ProjectID),
		AllocationPercentage: a.AllocationPercentage,
		StartDate:            a.StartDate.String(),
		EndDate:              a.EndDate.String(),
		OccurredAt:           at,
	}
}
