/*
Package sqlite provides a SQLite-backed implementation of generic.TxStore.

PURPOSE:
  Persists users, projects and allocations. In production the same
  patterns apply to PostgreSQL with minor SQL dialect differences.

KEY TABLES:
  users:        People; skills stored as a JSON array of original spellings
  projects:     Work items; required_skills stored as a JSON array
  allocations:  Percentage commitments, dates as YYYY-MM-DD

  YYYY-MM-DD strings sort the same way as the dates they name, so the
  closed-interval overlap test runs in SQL:

    start_date <= :queryEnd AND end_date >= :queryStart

INDEXES:
  - idx_allocations_engineer_dates: capacity queries (hot path)
  - idx_allocations_project:        dependent counts, date-change checks

CONCURRENCY:
  Public methods take s.mu. WithTx holds the write lock for the whole
  transaction and hands fn a view that runs every statement on the
  *sql.Tx without locking again. The pool is limited to one connection so
  ":memory:" databases are shared by every statement.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/capacity.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := capacity.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/capacity-engine/generic"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ generic.TxStore = (*Store)(nil)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		role TEXT NOT NULL,
		max_capacity INTEGER NOT NULL DEFAULT 100,
		skills_json TEXT NOT NULL DEFAULT '[]',
		seniority TEXT,
		department TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		required_skills_json TEXT NOT NULL DEFAULT '[]',
		team_size INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		manager_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Allocations reference both sides; deleting a referenced project or
	-- engineer is refused by the database as a last line of defence.
	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		engineer_id TEXT NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE RESTRICT,
		allocation_percentage INTEGER NOT NULL CHECK (allocation_percentage BETWEEN 1 AND 100),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		role TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Capacity queries filter by engineer then by date range
	CREATE INDEX IF NOT EXISTS idx_allocations_engineer_dates
		ON allocations(engineer_id, start_date, end_date);

	CREATE INDEX IF NOT EXISTS idx_allocations_project
		ON allocations(project_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = "id, name, email, role, max_capacity, skills_json, seniority, department, created_at, updated_at"

func (s *Store) GetUser(ctx context.Context, id generic.UserID) (*generic.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUser(ctx, s.db, id)
}

func (s *Store) ListUsers(ctx context.Context, filter generic.UserFilter) ([]generic.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listUsers(ctx, s.db, filter)
}

func (s *Store) SaveUser(ctx context.Context, user generic.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveUser(ctx, s.db, user)
}

func getUser(ctx context.Context, q querier, id generic.UserID) (*generic.User, error) {
	row := q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func listUsers(ctx context.Context, q querier, filter generic.UserFilter) ([]generic.User, error) {
	query := "SELECT " + userColumns + " FROM users"
	var args []any
	if filter.Role != "" {
		query += " WHERE role = ?"
		args = append(args, filter.Role)
	}
	query += " ORDER BY name, id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []generic.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func saveUser(ctx context.Context, q querier, u generic.User) error {
	skills, err := json.Marshal(u.Skills.Names())
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO users (id, name, email, role, max_capacity, skills_json, seniority, department, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			max_capacity = excluded.max_capacity,
			skills_json = excluded.skills_json,
			seniority = excluded.seniority,
			department = excluded.department,
			updated_at = excluded.updated_at
	`
	_, err = q.ExecContext(ctx, query,
		u.ID, u.Name, u.Email, u.Role, u.MaxCapacity, string(skills),
		u.Seniority, u.Department, now, now,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (generic.User, error) {
	var (
		u                                generic.User
		email, seniority, department     sql.NullString
		skillsJSON, createdAt, updatedAt string
	)
	err := sc.Scan(&u.ID, &u.Name, &email, &u.Role, &u.MaxCapacity, &skillsJSON,
		&seniority, &department, &createdAt, &updatedAt)
	if err != nil {
		return generic.User{}, err
	}

	var skills []string
	if err := json.Unmarshal([]byte(skillsJSON), &skills); err != nil {
		return generic.User{}, fmt.Errorf("decode skills of user %s: %w", u.ID, err)
	}
	u.Skills = generic.NewSkillSet(skills...)
	u.Email = email.String
	u.Seniority = seniority.String
	u.Department = department.String
	if u.CreatedAt, u.UpdatedAt, err = parseTimestamps(createdAt, updatedAt); err != nil {
		return generic.User{}, fmt.Errorf("user %s: %w", u.ID, err)
	}
	return u, nil
}

// =============================================================================
// PROJECTS
// =============================================================================

const projectColumns = "id, name, description, start_date, end_date, required_skills_json, team_size, status, manager_id, created_at, updated_at"

func (s *Store) GetProject(ctx context.Context, id generic.ProjectID) (*generic.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProject(ctx, s.db, id)
}

func (s *Store) ListProjects(ctx context.Context) ([]generic.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listProjects(ctx, s.db)
}

func (s *Store) SaveProject(ctx context.Context, project generic.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveProject(ctx, s.db, project)
}

func (s *Store) DeleteProject(ctx context.Context, id generic.ProjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteProject(ctx, s.db, id)
}

func getProject(ctx context.Context, q querier, id generic.ProjectID) (*generic.Project, error) {
	row := q.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func listProjects(ctx context.Context, q querier) ([]generic.Project, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY start_date, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []generic.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func saveProject(ctx context.Context, q querier, p generic.Project) error {
	required := p.RequiredSkills
	if required == nil {
		required = []string{}
	}
	skills, err := json.Marshal(required)
	if err != nil {
		return fmt.Errorf("marshal required skills: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO projects (id, name, description, start_date, end_date, required_skills_json, team_size, status, manager_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			required_skills_json = excluded.required_skills_json,
			team_size = excluded.team_size,
			status = excluded.status,
			manager_id = excluded.manager_id,
			updated_at = excluded.updated_at
	`
	_, err = q.ExecContext(ctx, query,
		p.ID, p.Name, p.Description, p.StartDate.String(), p.EndDate.String(), string(skills),
		p.TeamSize, p.Status, nullString(string(p.ManagerID)), now, now,
	)
	return err
}

func deleteProject(ctx context.Context, q querier, id generic.ProjectID) error {
	_, err := q.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if !isForeignKeyError(err) {
		return err
	}
	var dependents int
	row := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM allocations WHERE project_id = ?", id)
	if err := row.Scan(&dependents); err != nil {
		return fmt.Errorf("count allocations of project %s: %w", id, err)
	}
	return &generic.ConflictError{Reason: generic.ReasonHasAssignments, ProjectID: id, Dependents: dependents}
}

func scanProject(sc scanner) (generic.Project, error) {
	var (
		p                      generic.Project
		description, managerID sql.NullString
		start, end, skillsJSON string
		createdAt, updatedAt   string
	)
	err := sc.Scan(&p.ID, &p.Name, &description, &start, &end, &skillsJSON,
		&p.TeamSize, &p.Status, &managerID, &createdAt, &updatedAt)
	if err != nil {
		return generic.Project{}, err
	}

	if err := json.Unmarshal([]byte(skillsJSON), &p.RequiredSkills); err != nil {
		return generic.Project{}, fmt.Errorf("decode required skills of project %s: %w", p.ID, err)
	}
	if p.StartDate, err = generic.ParseDate(start); err != nil {
		return generic.Project{}, err
	}
	if p.EndDate, err = generic.ParseDate(end); err != nil {
		return generic.Project{}, err
	}
	p.Description = description.String
	p.ManagerID = generic.UserID(managerID.String)
	if p.CreatedAt, p.UpdatedAt, err = parseTimestamps(createdAt, updatedAt); err != nil {
		return generic.Project{}, fmt.Errorf("project %s: %w", p.ID, err)
	}
	return p, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

const allocationColumns = "id, engineer_id, project_id, allocation_percentage, start_date, end_date, role, created_at, updated_at"

func (s *Store) GetAllocation(ctx context.Context, id generic.AllocationID) (*generic.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAllocation(ctx, s.db, id)
}

func (s *Store) QueryAllocations(ctx context.Context, filter generic.AllocationFilter) ([]generic.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAllocations(ctx, s.db, filter)
}

func (s *Store) InsertAllocation(ctx context.Context, a generic.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAllocation(ctx, s.db, a)
}

func (s *Store) UpdateAllocation(ctx context.Context, a generic.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAllocation(ctx, s.db, a)
}

func (s *Store) DeleteAllocation(ctx context.Context, id generic.AllocationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM allocations WHERE id = ?", id)
	return err
}

func getAllocation(ctx context.Context, q querier, id generic.AllocationID) (*generic.Allocation, error) {
	row := q.QueryRowContext(ctx, "SELECT "+allocationColumns+" FROM allocations WHERE id = ?", id)
	a, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// queryAllocations translates the filter to SQL. The WHERE clauses mirror
// generic.AllocationFilter.Matches.
func queryAllocations(ctx context.Context, q querier, f generic.AllocationFilter) ([]generic.Allocation, error) {
	var (
		where []string
		args  []any
	)
	if f.EngineerID != "" {
		where = append(where, "engineer_id = ?")
		args = append(args, f.EngineerID)
	}
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.ExcludeID != "" {
		where = append(where, "id <> ?")
		args = append(args, f.ExcludeID)
	}
	if f.Overlapping != nil {
		where = append(where, "start_date <= ? AND end_date >= ?")
		args = append(args, f.Overlapping.End.String(), f.Overlapping.Start.String())
	}
	if f.EndingOnOrAfter != nil {
		where = append(where, "end_date >= ?")
		args = append(args, f.EndingOnOrAfter.String())
	}

	query := "SELECT " + allocationColumns + " FROM allocations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date, id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocs []generic.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

func insertAllocation(ctx context.Context, q querier, a generic.Allocation) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO allocations
		(id, engineer_id, project_id, allocation_percentage, start_date, end_date, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		a.ID, a.EngineerID, a.ProjectID, a.AllocationPercentage,
		a.StartDate.String(), a.EndDate.String(), nullString(a.Role), now, now,
	)
	if isConstraintError(err, sqlite3.ErrConstraintPrimaryKey) || isConstraintError(err, sqlite3.ErrConstraintUnique) {
		return fmt.Errorf("allocation %s: %w", a.ID, generic.ErrDuplicateID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert allocation: %w", err)
	}
	return nil
}

func updateAllocation(ctx context.Context, q querier, a generic.Allocation) error {
	query := `
		UPDATE allocations SET
			engineer_id = ?, project_id = ?, allocation_percentage = ?,
			start_date = ?, end_date = ?, role = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := q.ExecContext(ctx, query,
		a.EngineerID, a.ProjectID, a.AllocationPercentage,
		a.StartDate.String(), a.EndDate.String(), nullString(a.Role),
		time.Now().UTC().Format(time.RFC3339), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update allocation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &generic.NotFoundError{Reason: generic.ReasonAllocationNotFound, Kind: "allocation", ID: string(a.ID)}
	}
	return nil
}

func scanAllocation(sc scanner) (generic.Allocation, error) {
	var (
		a                    generic.Allocation
		role                 sql.NullString
		start, end           string
		createdAt, updatedAt string
	)
	err := sc.Scan(&a.ID, &a.EngineerID, &a.ProjectID, &a.AllocationPercentage,
		&start, &end, &role, &createdAt, &updatedAt)
	if err != nil {
		return generic.Allocation{}, err
	}
	if a.StartDate, err = generic.ParseDate(start); err != nil {
		return generic.Allocation{}, err
	}
	if a.EndDate, err = generic.ParseDate(end); err != nil {
		return generic.Allocation{}, err
	}
	a.Role = role.String
	if a.CreatedAt, a.UpdatedAt, err = parseTimestamps(createdAt, updatedAt); err != nil {
		return generic.Allocation{}, fmt.Errorf("allocation %s: %w", a.ID, err)
	}
	return a, nil
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every statement on tx. The parent's lock is already held.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetUser(ctx context.Context, id generic.UserID) (*generic.User, error) {
	return getUser(ctx, ts.tx, id)
}

func (ts *txStore) ListUsers(ctx context.Context, filter generic.UserFilter) ([]generic.User, error) {
	return listUsers(ctx, ts.tx, filter)
}

func (ts *txStore) SaveUser(ctx context.Context, user generic.User) error {
	return saveUser(ctx, ts.tx, user)
}

func (ts *txStore) GetProject(ctx context.Context, id generic.ProjectID) (*generic.Project, error) {
	return getProject(ctx, ts.tx, id)
}

func (ts *txStore) ListProjects(ctx context.Context) ([]generic.Project, error) {
	return listProjects(ctx, ts.tx)
}

func (ts *txStore) SaveProject(ctx context.Context, project generic.Project) error {
	return saveProject(ctx, ts.tx, project)
}

func (ts *txStore) DeleteProject(ctx context.Context, id generic.ProjectID) error {
	return deleteProject(ctx, ts.tx, id)
}

func (ts *txStore) GetAllocation(ctx context.Context, id generic.AllocationID) (*generic.Allocation, error) {
	return getAllocation(ctx, ts.tx, id)
}

func (ts *txStore) QueryAllocations(ctx context.Context, filter generic.AllocationFilter) ([]generic.Allocation, error) {
	return queryAllocations(ctx, ts.tx, filter)
}

func (ts *txStore) InsertAllocation(ctx context.Context, a generic.Allocation) error {
	return insertAllocation(ctx, ts.tx, a)
}

func (ts *txStore) UpdateAllocation(ctx context.Context, a generic.Allocation) error {
	return updateAllocation(ctx, ts.tx, a)
}

func (ts *txStore) DeleteAllocation(ctx context.Context, id generic.AllocationID) error {
	_, err := ts.tx.ExecContext(ctx, "DELETE FROM allocations WHERE id = ?", id)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Children first so foreign keys are never violated.
	tables := []string{"allocations", "projects", "users"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isConstraintError(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}

// isForeignKeyError matches on the primary code and message: depending on
// how the constraint is enforced, SQLite reports FK violations under more
// than one extended code.
func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		sqliteErr.Code == sqlite3.ErrConstraint &&
		strings.Contains(sqliteErr.Error(), "FOREIGN KEY")
}

func parseTimestamps(createdAt, updatedAt string) (created, updated time.Time, err error) {
	if created, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse created_at: %w", err)
	}
	if updated, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return created, updated, nil
}
