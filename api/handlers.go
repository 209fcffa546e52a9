/*
handlers.go - HTTP API handlers for the capacity engine

PURPOSE:
  Exposes capacity accounting, availability windows, skill matching and
  validated writes over REST. Handles HTTP request/response and JSON
  serialization, and delegates every rule to capacity.Service.

ENDPOINTS:
  Users:
    GET    /api/users                     List users (?role=engineer)
    POST   /api/users                     Create user
    GET    /api/users/{id}                Get user
    PUT    /api/users/{id}                Replace user
    GET    /api/users/{id}/capacity       Capacity summary (?start=&end=)
    GET    /api/users/{id}/availability   Availability windows
    GET    /api/users/{id}/allocations    Allocations of an engineer

  Engineers:
    GET    /api/engineers                 Filter engineers (?skills=go,react)
    POST   /api/engineers/match           Rank engineers against skills

  Projects:
    GET    /api/projects                  List projects
    POST   /api/projects                  Create project
    GET    /api/projects/{id}             Get project
    PUT    /api/projects/{id}             Replace project
    DELETE /api/projects/{id}             Delete project with no allocations
    GET    /api/projects/{id}/allocations Allocations on a project
    GET    /api/projects/{id}/suggestions Engineers matching the project

  Allocations:
    GET    /api/allocations               List (?engineer_id=&project_id=)
    POST   /api/allocations               Create validated allocation
    GET    /api/allocations/{id}          Get allocation
    PUT    /api/allocations/{id}          Update validated allocation
    DELETE /api/allocations/{id}          Delete allocation

  Scenarios:
    GET    /api/scenarios                 List demo scenarios
    POST   /api/scenarios/load            Load a demo scenario

ERROR HANDLING:
  Domain errors are mapped by kind:
  - 400: Validation errors, invalid input
  - 404: Engineer, project, allocation or user not found
  - 409: Capacity exceeded, delete conflict, duplicate ID
  - 422: Allocation outside project window
  - 500: Internal errors
  The body carries the rejection reason and, when known, the structured
  fields of the error (available, requested, engineer_id, ...).

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/generic"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs beyond the service: scenario
// loads wipe it first.
type Store interface {
	generic.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   Store
	Service *capacity.Service
	Logger  *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over svc. The service must write to store.
func NewHandler(store Store, svc *capacity.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Store: store, Service: svc, Logger: logger}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all users, optionally filtered by role.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	filter := generic.UserFilter{Role: generic.Role(r.URL.Query().Get("role"))}
	users, err := h.Store.ListUsers(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUser returns a single user.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.loadUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// CreateUser creates a user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.Service.CreateUser(r.Context(), req.toUser())
	if err != nil {
		h.writeDomainError(w, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*user))
}

// UpdateUser replaces a user. The ID comes from the path.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")

	user, err := h.Service.UpdateUser(r.Context(), req.toUser())
	if err != nil {
		h.writeDomainError(w, "Failed to update user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// GetUserCapacity returns the capacity summary of an engineer. With start
// or end the available figure covers that range instead of today onward.
func (h *Handler) GetUserCapacity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := generic.UserID(chi.URLParam(r, "id"))

	q, err := capacityQuery(r)
	if err != nil {
		h.writeDomainError(w, "Invalid date range", err)
		return
	}

	info, err := h.Service.CapacityInfo(ctx, id)
	if err != nil {
		h.writeDomainError(w, "Failed to compute capacity", err)
		return
	}
	if q.Start != nil || q.End != nil {
		available, err := h.Service.AvailableCapacity(ctx, id, q)
		if err != nil {
			h.writeDomainError(w, "Failed to compute capacity", err)
			return
		}
		info = generic.NewCapacityInfo(info.MaxCapacity, available)
	}
	writeJSON(w, http.StatusOK, toCapacityDTO(id, info))
}

// GetUserAvailability returns the availability windows of an engineer.
func (h *Handler) GetUserAvailability(w http.ResponseWriter, r *http.Request) {
	windows, err := h.Service.AvailabilityWindows(r.Context(), generic.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to compute availability", err)
		return
	}
	writeJSON(w, http.StatusOK, toWindowDTOs(windows))
}

// GetUserAllocations returns every allocation of a user.
func (h *Handler) GetUserAllocations(w http.ResponseWriter, r *http.Request) {
	user, ok := h.loadUser(w, r)
	if !ok {
		return
	}
	allocs, err := h.Store.QueryAllocations(r.Context(), generic.AllocationFilter{EngineerID: user.ID})
	if err != nil {
		h.writeDomainError(w, "Failed to list allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTOs(allocs))
}

func (h *Handler) loadUser(w http.ResponseWriter, r *http.Request) (*generic.User, bool) {
	id := chi.URLParam(r, "id")
	user, err := h.Store.GetUser(r.Context(), generic.UserID(id))
	if err != nil {
		h.writeDomainError(w, "Failed to get user", err)
		return nil, false
	}
	if user == nil {
		h.writeDomainError(w, "User not found",
			&generic.NotFoundError{Reason: generic.ReasonUserNotFound, Kind: "user", ID: id})
		return nil, false
	}
	return user, true
}

// =============================================================================
// ENGINEER HANDLERS
// =============================================================================

// ListEngineers returns engineers having any skill like one of ?skills=.
func (h *Handler) ListEngineers(w http.ResponseWriter, r *http.Request) {
	engineers, err := h.Service.FilterEngineersBySkills(r.Context(), splitList(r.URL.Query().Get("skills")))
	if err != nil {
		h.writeDomainError(w, "Failed to list engineers", err)
		return
	}

	dtos := make([]UserDTO, len(engineers))
	for i, u := range engineers {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// MatchEngineers ranks engineers against a required skill list.
func (h *Handler) MatchEngineers(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MinCapacity < 0 || req.MinCapacity > 100 {
		h.writeDomainError(w, "Invalid min_capacity", &generic.ValidationError{
			Reason: generic.ReasonInvalidCapacity, Field: "min_capacity", Message: "must be between 0 and 100",
		})
		return
	}

	matches, err := h.Service.FindMatchingEngineers(r.Context(), req.RequiredSkills, req.MinCapacity)
	if err != nil {
		h.writeDomainError(w, "Failed to match engineers", err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchDTOs(matches))
}

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

// ListProjects returns all projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Store.ListProjects(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list projects", err)
		return
	}

	dtos := make([]ProjectDTO, len(projects))
	for i, p := range projects {
		dtos[i] = toProjectDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProject returns a single project.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(*project))
}

// CreateProject creates a project.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	project, err := req.toProject()
	if err != nil {
		h.writeDomainError(w, "Invalid project", err)
		return
	}

	created, err := h.Service.CreateProject(r.Context(), project)
	if err != nil {
		h.writeDomainError(w, "Failed to create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectDTO(*created))
}

// UpdateProject replaces a project. Shrinking the date range is refused
// while allocations fall outside it.
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	project, err := req.toProject()
	if err != nil {
		h.writeDomainError(w, "Invalid project", err)
		return
	}

	updated, err := h.Service.UpdateProject(r.Context(), project)
	if err != nil {
		h.writeDomainError(w, "Failed to update project", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(*updated))
}

// DeleteProject removes a project with no allocations.
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteProject(r.Context(), generic.ProjectID(chi.URLParam(r, "id"))); err != nil {
		h.writeDomainError(w, "Failed to delete project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetProjectAllocations returns the allocations on a project.
func (h *Handler) GetProjectAllocations(w http.ResponseWriter, r *http.Request) {
	project, ok := h.loadProject(w, r)
	if !ok {
		return
	}
	allocs, err := h.Store.QueryAllocations(r.Context(), generic.AllocationFilter{ProjectID: project.ID})
	if err != nil {
		h.writeDomainError(w, "Failed to list allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTOs(allocs))
}

// GetProjectSuggestions ranks engineers against the project's required
// skills (?min_capacity=).
func (h *Handler) GetProjectSuggestions(w http.ResponseWriter, r *http.Request) {
	minCapacity := 0
	if raw := r.URL.Query().Get("min_capacity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 100 {
			h.writeDomainError(w, "Invalid min_capacity", &generic.ValidationError{
				Reason: generic.ReasonInvalidCapacity, Field: "min_capacity", Message: "must be an integer between 0 and 100",
			})
			return
		}
		minCapacity = n
	}

	matches, err := h.Service.SuggestForProject(r.Context(), generic.ProjectID(chi.URLParam(r, "id")), minCapacity)
	if err != nil {
		h.writeDomainError(w, "Failed to suggest engineers", err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchDTOs(matches))
}

func (h *Handler) loadProject(w http.ResponseWriter, r *http.Request) (*generic.Project, bool) {
	id := chi.URLParam(r, "id")
	project, err := h.Store.GetProject(r.Context(), generic.ProjectID(id))
	if err != nil {
		h.writeDomainError(w, "Failed to get project", err)
		return nil, false
	}
	if project == nil {
		h.writeDomainError(w, "Project not found",
			&generic.NotFoundError{Reason: generic.ReasonProjectNotFound, Kind: "project", ID: id})
		return nil, false
	}
	return project, true
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// ListAllocations returns allocations, optionally filtered by engineer or project.
func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	allocs, err := h.Store.QueryAllocations(r.Context(), generic.AllocationFilter{
		EngineerID: generic.UserID(q.Get("engineer_id")),
		ProjectID:  generic.ProjectID(q.Get("project_id")),
	})
	if err != nil {
		h.writeDomainError(w, "Failed to list allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTOs(allocs))
}

// GetAllocation returns a single allocation.
func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	alloc, err := h.Store.GetAllocation(r.Context(), generic.AllocationID(id))
	if err != nil {
		h.writeDomainError(w, "Failed to get allocation", err)
		return
	}
	if alloc == nil {
		h.writeDomainError(w, "Allocation not found",
			&generic.NotFoundError{Reason: generic.ReasonAllocationNotFound, Kind: "allocation", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(*alloc))
}

// CreateAllocation validates and stores an allocation.
func (h *Handler) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	alloc, err := h.Service.CreateAllocation(r.Context(), req.toProposal())
	if err != nil {
		h.writeDomainError(w, "Allocation rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(*alloc))
}

// UpdateAllocation revalidates and replaces an allocation. The allocation
// is not counted against itself.
func (h *Handler) UpdateAllocation(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	alloc, err := h.Service.UpdateAllocation(r.Context(), generic.AllocationID(chi.URLParam(r, "id")), req.toProposal())
	if err != nil {
		h.writeDomainError(w, "Allocation rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(*alloc))
}

// DeleteAllocation removes an allocation.
func (h *Handler) DeleteAllocation(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteAllocation(r.Context(), generic.AllocationID(chi.URLParam(r, "id"))); err != nil {
		h.writeDomainError(w, "Failed to delete allocation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps err to a status and fills the structured fields
// of the response. Unclassified errors are logged and answered with 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}

	resp := ErrorResponse{
		Error:   message,
		Reason:  string(generic.ReasonOf(err)),
		Details: err.Error(),
	}

	var (
		nf  *generic.NotFoundError
		ce  *generic.CapacityExceededError
		bv  *generic.BoundsViolationError
		cfl *generic.ConflictError
	)
	switch {
	case errors.As(err, &ce):
		resp.Available = &ce.Available
		resp.Requested = &ce.Requested
		resp.EngineerID = string(ce.EngineerID)
	case errors.As(err, &bv):
		resp.ProjectID = string(bv.ProjectID)
		resp.EngineerID = string(bv.EngineerID)
	case errors.As(err, &cfl):
		resp.ProjectID = string(cfl.ProjectID)
		resp.Dependents = &cfl.Dependents
	case errors.As(err, &nf):
		switch nf.Kind {
		case "engineer", "user":
			resp.EngineerID = nf.ID
		case "project":
			resp.ProjectID = nf.ID
		}
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrValidation), errors.Is(err, generic.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrCapacityExceeded),
		errors.Is(err, generic.ErrConflict),
		errors.Is(err, generic.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, generic.ErrBoundsViolation):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// capacityQuery reads ?start= and ?end= as YYYY-MM-DD dates.
func capacityQuery(r *http.Request) (capacity.CapacityQuery, error) {
	var q capacity.CapacityQuery
	for _, p := range []struct {
		name string
		dst  **generic.TimePoint
	}{{"start", &q.Start}, {"end", &q.End}} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		tp, err := generic.ParseDate(raw)
		if err != nil {
			return q, &generic.ValidationError{Reason: generic.ReasonInvalidDates, Field: p.name, Message: err.Error()}
		}
		*p.dst = &tp
	}
	if q.Start != nil && q.End != nil && q.End.Before(*q.Start) {
		return q, &generic.ValidationError{Reason: generic.ReasonInvalidDates, Message: "end must not be before start"}
	}
	return q, nil
}

// splitList splits a comma-separated query value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
