// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.TxStore with maps guarded by a single RWMutex.
type Memory struct {
	mu          sync.RWMutex
	users       map[generic.UserID]generic.User
	projects    map[generic.ProjectID]generic.Project
	allocations map[generic.AllocationID]generic.Allocation

	now func() time.Time
}

var _ generic.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:       make(map[generic.UserID]generic.User),
		projects:    make(map[generic.ProjectID]generic.Project),
		allocations: make(map[generic.AllocationID]generic.Allocation),
		now:         time.Now,
	}
}

func (m *Memory) GetUser(_ context.Context, id generic.UserID) (*generic.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id), nil
}

func (m *Memory) ListUsers(_ context.Context, filter generic.UserFilter) ([]generic.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listUsersLocked(filter), nil
}

func (m *Memory) SaveUser(_ context.Context, user generic.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveUserLocked(user)
	return nil
}

func (m *Memory) GetProject(_ context.Context, id generic.ProjectID) (*generic.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProjectLocked(id), nil
}

func (m *Memory) ListProjects(_ context.Context) ([]generic.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listProjectsLocked(), nil
}

func (m *Memory) SaveProject(_ context.Context, project generic.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveProjectLocked(project)
	return nil
}

func (m *Memory) DeleteProject(_ context.Context, id generic.ProjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	return nil
}

func (m *Memory) GetAllocation(_ context.Context, id generic.AllocationID) (*generic.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAllocationLocked(id), nil
}

func (m *Memory) QueryAllocations(_ context.Context, filter generic.AllocationFilter) ([]generic.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryAllocationsLocked(filter), nil
}

func (m *Memory) InsertAllocation(_ context.Context, a generic.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertAllocationLocked(a)
}

func (m *Memory) UpdateAllocation(_ context.Context, a generic.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAllocationLocked(a)
}

func (m *Memory) DeleteAllocation(_ context.Context, id generic.AllocationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.allocations, id)
	return nil
}

// Reset clears every record.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = make(map[generic.UserID]generic.User)
	m.projects = make(map[generic.ProjectID]generic.Project)
	m.allocations = make(map[generic.AllocationID]generic.Allocation)
	return nil
}

// =============================================================================
// LOCKED HELPERS - Callers hold m.mu
// =============================================================================

func (m *Memory) getUserLocked(id generic.UserID) *generic.User {
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	return &u
}

func (m *Memory) listUsersLocked(filter generic.UserFilter) []generic.User {
	var result []generic.User
	for _, u := range m.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Memory) saveUserLocked(user generic.User) {
	now := m.now().UTC()
	if existing, ok := m.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	m.users[user.ID] = user
}

func (m *Memory) getProjectLocked(id generic.ProjectID) *generic.Project {
	p, ok := m.projects[id]
	if !ok {
		return nil
	}
	p.RequiredSkills = append([]string(nil), p.RequiredSkills...)
	return &p
}

func (m *Memory) listProjectsLocked() []generic.Project {
	result := make([]generic.Project, 0, len(m.projects))
	for _, p := range m.projects {
		p.RequiredSkills = append([]string(nil), p.RequiredSkills...)
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Memory) saveProjectLocked(project generic.Project) {
	now := m.now().UTC()
	if existing, ok := m.projects[project.ID]; ok {
		project.CreatedAt = existing.CreatedAt
	} else if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	project.RequiredSkills = append([]string(nil), project.RequiredSkills...)
	m.projects[project.ID] = project
}

func (m *Memory) getAllocationLocked(id generic.AllocationID) *generic.Allocation {
	a, ok := m.allocations[id]
	if !ok {
		return nil
	}
	return &a
}

func (m *Memory) queryAllocationsLocked(filter generic.AllocationFilter) []generic.Allocation {
	var result []generic.Allocation
	for _, a := range m.allocations {
		if filter.Matches(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (m *Memory) insertAllocationLocked(a generic.Allocation) error {
	if _, ok := m.allocations[a.ID]; ok {
		return fmt.Errorf("allocation %s: %w", a.ID, generic.ErrDuplicateID)
	}
	now := m.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	m.allocations[a.ID] = a
	return nil
}

func (m *Memory) updateAllocationLocked(a generic.Allocation) error {
	existing, ok := m.allocations[a.ID]
	if !ok {
		return &generic.NotFoundError{Reason: generic.ReasonAllocationNotFound, Kind: "allocation", ID: string(a.ID)}
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = m.now().UTC()
	m.allocations[a.ID] = a
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	defer func() {
		if r := recover(); r != nil {
			m.restore(snapshot)
			panic(r)
		}
	}()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users       map[generic.UserID]generic.User
	projects    map[generic.ProjectID]generic.Project
	allocations map[generic.AllocationID]generic.Allocation
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:       make(map[generic.UserID]generic.User, len(m.users)),
		projects:    make(map[generic.ProjectID]generic.Project, len(m.projects)),
		allocations: make(map[generic.AllocationID]generic.Allocation, len(m.allocations)),
	}
	for k, v := range m.users {
		s.users[k] = v
	}
	for k, v := range m.projects {
		s.projects[k] = v
	}
	for k, v := range m.allocations {
		s.allocations[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.users = s.users
	m.projects = s.projects
	m.allocations = s.allocations
}

// txMemoryView runs with the parent's write lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetUser(_ context.Context, id generic.UserID) (*generic.User, error) {
	return tv.parent.getUserLocked(id), nil
}

func (tv *txMemoryView) ListUsers(_ context.Context, filter generic.UserFilter) ([]generic.User, error) {
	return tv.parent.listUsersLocked(filter), nil
}

func (tv *txMemoryView) SaveUser(_ context.Context, user generic.User) error {
	tv.parent.saveUserLocked(user)
	return nil
}

func (tv *txMemoryView) GetProject(_ context.Context, id generic.ProjectID) (*generic.Project, error) {
	return tv.parent.getProjectLocked(id), nil
}

func (tv *txMemoryView) ListProjects(_ context.Context) ([]generic.Project, error) {
	return tv.parent.listProjectsLocked(), nil
}

func (tv *txMemoryView) SaveProject(_ context.Context, project generic.Project) error {
	tv.parent.saveProjectLocked(project)
	return nil
}

func (tv *txMemoryView) DeleteProject(_ context.Context, id generic.ProjectID) error {
	delete(tv.parent.projects, id)
	return nil
}

func (tv *txMemoryView) GetAllocation(_ context.Context, id generic.AllocationID) (*generic.Allocation, error) {
	return tv.parent.getAllocationLocked(id), nil
}

func (tv *txMemoryView) QueryAllocations(_ context.Context, filter generic.AllocationFilter) ([]generic.Allocation, error) {
	return tv.parent.queryAllocationsLocked(filter), nil
}

func (tv *txMemoryView) InsertAllocation(_ context.Context, a generic.Allocation) error {
	return tv.parent.insertAllocationLocked(a)
}

func (tv *txMemoryView) UpdateAllocation(_ context.Context, a generic.Allocation) error {
	return tv.parent.updateAllocationLocked(a)
}

func (tv *txMemoryView) DeleteAllocation(_ context.Context, id generic.AllocationID) error {
	delete(tv.parent.allocations, id)
	return nil
}
