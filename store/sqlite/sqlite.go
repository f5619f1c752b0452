/*
Package sqlite provides a SQLite-backed policy.Repository.

PURPOSE:
  Persists policies, their version history, approval requests, trigger
  engine executions and payroll adjustments. The same schema ports to
  PostgreSQL with minor dialect changes.

KEY TABLES:
  policies:            live policy rows (content, status, current_version)
  policy_versions:     insert-only snapshots, UNIQUE(policy_id, version)
  approval_requests:   one row per submission cycle
  executions:          written by the trigger engine, marker flipped here
  payroll_adjustments: UNIQUE(execution_id, payroll_run_id)
  employees:           employee/contract directory
  identities:          role and job title per user

INVARIANTS ENFORCED BY THE DATABASE:
  - idx_versions_unique:           no two versions share a number
  - idx_approval_one_pending:      at most one SUBMITTED request per policy
  - idx_adjustments_exec_run:      one adjustment per (execution, run)
  - UPDATE ... WHERE action = 'SUBMITTED' / applied_to_payroll = 0:
    compare-and-swap on approval resolution and the applied marker

CONCURRENCY:
  One open connection (SQLite has a single writer). WithTx additionally
  holds a mutex so transactions run one after the other.

USAGE:
  store, err := sqlite.New("./data/policies.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - policy/store.go: interface definitions
  - policy/store/memory.go: in-memory implementation for tests
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
	"github.com/shopspring/decimal"

	"github.com/warp/policy-engine/policy"
)

// timeLayout is fixed-width so that string comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements policy.Store on top of either *sql.DB or *sql.Tx.
type conn struct {
	q queryer
}

// Store implements policy.Repository using SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{conn: conn{q: db}, db: db}
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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		conditions_json TEXT NOT NULL,
		actions_json TEXT NOT NULL,
		status TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 0,
		current_version INTEGER NOT NULL DEFAULT 0,
		approved_by TEXT,
		approved_at TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policies_org_status
		ON policies(org_id, status);

	-- Insert-only snapshots. Rows are deleted only by retention pruning.
	CREATE TABLE IF NOT EXISTS policy_versions (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		description TEXT NOT NULL,
		conditions_json TEXT NOT NULL,
		actions_json TEXT NOT NULL,
		change_reason TEXT,
		author_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_unique
		ON policy_versions(policy_id, version);

	CREATE TABLE IF NOT EXISTS approval_requests (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		policy_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		submitted_by TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		required_level TEXT NOT NULL,
		action TEXT NOT NULL,
		acted_by TEXT,
		acted_at TEXT,
		rejection_reason TEXT,
		requested_changes TEXT,
		notes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_approval_policy
		ON approval_requests(policy_id, seq DESC);

	-- At most one pending request per policy
	CREATE UNIQUE INDEX IF NOT EXISTS idx_approval_one_pending
		ON approval_requests(policy_id) WHERE action = 'SUBMITTED';

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		action_value TEXT NOT NULL,
		reason TEXT,
		executed_at TEXT NOT NULL,
		is_success INTEGER NOT NULL,
		action_result_json TEXT,
		applied_to_payroll INTEGER NOT NULL DEFAULT 0,
		payroll_run_id TEXT,
		applied_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_executions_employee_date
		ON executions(org_id, employee_id, executed_at);

	CREATE TABLE IF NOT EXISTS payroll_adjustments (
		id TEXT PRIMARY KEY,
		payroll_run_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		policy_id TEXT,
		execution_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: an execution is applied to a payroll run at most once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_adjustments_exec_run
		ON payroll_adjustments(execution_id, payroll_run_id);

	CREATE INDEX IF NOT EXISTS idx_adjustments_run
		ON payroll_adjustments(payroll_run_id);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		department_id TEXT,
		department_name TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		salary TEXT NOT NULL DEFAULT '0',
		contract_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_employees_org_active
		ON employees(org_id, active);

	CREATE TABLE IF NOT EXISTS identities (
		user_id TEXT PRIMARY KEY,
		org_id TEXT,
		name TEXT,
		role TEXT,
		job_title TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (policy.Repository interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(policy.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// POLICY STORE
// =============================================================================

const policyColumns = `id, org_id, name, description, conditions_json, actions_json, status,
	enabled, current_version, approved_by, approved_at, created_by, created_at, updated_at`

func (c *conn) GetPolicy(ctx context.Context, id policy.PolicyID) (*policy.Policy, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+policyColumns+" FROM policies WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, &policy.NotFoundError{Entity: "policy", ID: string(id)}
	}
	p, err := scanPolicy(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *conn) SavePolicy(ctx context.Context, p policy.Policy) error {
	conditionsJSON, actionsJSON, err := marshalContent(p.Content)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO policies (` + policyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			conditions_json = excluded.conditions_json,
			actions_json = excluded.actions_json,
			status = excluded.status,
			enabled = excluded.enabled,
			current_version = excluded.current_version,
			approved_by = excluded.approved_by,
			approved_at = excluded.approved_at,
			updated_at = excluded.updated_at
	`
	_, err = c.q.ExecContext(ctx, query,
		p.ID, p.OrgID, p.Name, p.Content.Description, conditionsJSON, actionsJSON, p.Status,
		p.Enabled, p.CurrentVersion, nullString(string(p.ApprovedBy)), formatTimePtr(p.ApprovedAt),
		nullString(string(p.CreatedBy)), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (c *conn) ListPolicies(ctx context.Context, f policy.PolicyFilter) ([]policy.Policy, error) {
	var (
		where []string
		args  []any
	)
	if f.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, f.OrgID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	query := "SELECT " + policyColumns + " FROM policies"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func scanPolicy(rows *sql.Rows) (policy.Policy, error) {
	var (
		p                       policy.Policy
		conditionsJSON, actions string
		approvedBy, createdBy   sql.NullString
		approvedAt              sql.NullString
		createdAt, updatedAt    string
	)
	err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.Content.Description, &conditionsJSON, &actions,
		&p.Status, &p.Enabled, &p.CurrentVersion, &approvedBy, &approvedAt, &createdBy,
		&createdAt, &updatedAt)
	if err != nil {
		return p, fmt.Errorf("failed to scan policy: %w", err)
	}
	if err := unmarshalContent(conditionsJSON, actions, &p.Content); err != nil {
		return p, err
	}
	p.ApprovedBy = policy.UserID(approvedBy.String)
	p.ApprovedAt = parseTimePtr(approvedAt)
	p.CreatedBy = policy.UserID(createdBy.String)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// VERSION STORE
// =============================================================================

const versionColumns = `id, policy_id, version, description, conditions_json, actions_json,
	change_reason, author_id, created_at`

func (c *conn) InsertVersion(ctx context.Context, v policy.Version) error {
	conditionsJSON, actionsJSON, err := marshalContent(v.Content)
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx,
		"INSERT INTO policy_versions ("+versionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		v.ID, v.PolicyID, v.Version, v.Content.Description, conditionsJSON, actionsJSON,
		v.ChangeReason, nullString(string(v.AuthorID)), formatTime(v.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return policy.ErrDuplicateVersion
		}
		return fmt.Errorf("failed to insert version: %w", err)
	}
	return nil
}

func (c *conn) GetVersion(ctx context.Context, id policy.PolicyID, version int) (*policy.Version, error) {
	versions, err := c.queryVersions(ctx,
		"SELECT "+versionColumns+" FROM policy_versions WHERE policy_id = ? AND version = ?",
		id, version)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, &policy.NotFoundError{Entity: "version", PolicyID: id, Version: version}
	}
	return &versions[0], nil
}

func (c *conn) LatestVersionNumber(ctx context.Context, id policy.PolicyID) (int, error) {
	var latest int
	err := c.q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM policy_versions WHERE policy_id = ?", id,
	).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest version: %w", err)
	}
	return latest, nil
}

func (c *conn) ListVersions(ctx context.Context, id policy.PolicyID, offset, limit int) ([]policy.Version, int, error) {
	var total int
	if err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM policy_versions WHERE policy_id = ?", id,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count versions: %w", err)
	}
	if limit <= 0 {
		limit = -1
	}
	versions, err := c.queryVersions(ctx,
		"SELECT "+versionColumns+" FROM policy_versions WHERE policy_id = ? ORDER BY version DESC LIMIT ? OFFSET ?",
		id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if versions == nil {
		versions = []policy.Version{}
	}
	return versions, total, nil
}

func (c *conn) DeleteVersions(ctx context.Context, id policy.PolicyID, versions []int) (int, error) {
	if len(versions) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(versions)), ",")
	args := []any{id}
	for _, v := range versions {
		args = append(args, v)
	}
	res, err := c.q.ExecContext(ctx,
		"DELETE FROM policy_versions WHERE policy_id = ? AND version IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete versions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (c *conn) queryVersions(ctx context.Context, query string, args ...any) ([]policy.Version, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []policy.Version
	for rows.Next() {
		var (
			v                       policy.Version
			conditionsJSON, actions string
			reason, author          sql.NullString
			createdAt               string
		)
		if err := rows.Scan(&v.ID, &v.PolicyID, &v.Version, &v.Content.Description,
			&conditionsJSON, &actions, &reason, &author, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		if err := unmarshalContent(conditionsJSON, actions, &v.Content); err != nil {
			return nil, err
		}
		v.ChangeReason = reason.String
		v.AuthorID = policy.UserID(author.String)
		v.CreatedAt = parseTime(createdAt)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// =============================================================================
// APPROVAL STORE
// =============================================================================

const approvalColumns = `id, policy_id, org_id, submitted_by, submitted_at, required_level, action,
	acted_by, acted_at, rejection_reason, requested_changes, notes`

func (c *conn) InsertApprovalRequest(ctx context.Context, r policy.ApprovalRequest) error {
	_, err := c.q.ExecContext(ctx,
		"INSERT INTO approval_requests ("+approvalColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.PolicyID, r.OrgID, r.SubmittedBy, formatTime(r.SubmittedAt), r.RequiredLevel, r.Action,
		nullString(string(r.ActedBy)), formatTimePtr(r.ActedAt), nullString(r.RejectionReason),
		nullString(r.RequestedChanges), nullString(r.Notes),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return policy.ErrConcurrentModification
		}
		return fmt.Errorf("failed to insert approval request: %w", err)
	}
	return nil
}

func (c *conn) PendingApprovalRequest(ctx context.Context, id policy.PolicyID) (*policy.ApprovalRequest, error) {
	requests, err := c.queryApprovals(ctx,
		"SELECT "+approvalColumns+" FROM approval_requests WHERE policy_id = ? AND action = ? ORDER BY seq DESC LIMIT 1",
		id, policy.ApprovalSubmitted)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, &policy.NotFoundError{Entity: "pending approval request", PolicyID: id}
	}
	return &requests[0], nil
}

func (c *conn) ResolveApprovalRequest(ctx context.Context, r policy.ApprovalRequest) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE approval_requests
		SET action = ?, acted_by = ?, acted_at = ?, rejection_reason = ?, requested_changes = ?, notes = ?
		WHERE id = ? AND action = ?
	`,
		r.Action, nullString(string(r.ActedBy)), formatTimePtr(r.ActedAt), nullString(r.RejectionReason),
		nullString(r.RequestedChanges), nullString(r.Notes), r.ID, policy.ApprovalSubmitted,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve approval request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return policy.ErrConcurrentModification
	}
	return nil
}

func (c *conn) ListApprovalRequests(ctx context.Context, id policy.PolicyID) ([]policy.ApprovalRequest, error) {
	return c.queryApprovals(ctx,
		"SELECT "+approvalColumns+" FROM approval_requests WHERE policy_id = ? ORDER BY seq DESC", id)
}

func (c *conn) queryApprovals(ctx context.Context, query string, args ...any) ([]policy.ApprovalRequest, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval requests: %w", err)
	}
	defer rows.Close()

	var requests []policy.ApprovalRequest
	for rows.Next() {
		var (
			r                                  policy.ApprovalRequest
			submittedAt                        string
			actedBy, actedAt, rejection, notes sql.NullString
			changes                            sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.PolicyID, &r.OrgID, &r.SubmittedBy, &submittedAt,
			&r.RequiredLevel, &r.Action, &actedBy, &actedAt, &rejection, &changes, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		r.SubmittedAt = parseTime(submittedAt)
		r.ActedBy = policy.UserID(actedBy.String)
		r.ActedAt = parseTimePtr(actedAt)
		r.RejectionReason = rejection.String
		r.RequestedChanges = changes.String
		r.Notes = notes.String
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// =============================================================================
// EXECUTION STORE
// =============================================================================

const executionColumns = `id, policy_id, org_id, employee_id, action_type, action_value, reason,
	executed_at, is_success, action_result_json, applied_to_payroll, payroll_run_id, applied_at`

func (c *conn) InsertExecution(ctx context.Context, e policy.Execution) error {
	resultJSON, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal execution result: %w", err)
	}
	_, err = c.q.ExecContext(ctx,
		"INSERT INTO executions ("+executionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.PolicyID, e.OrgID, e.EmployeeID, e.ActionType, e.ActionValue.String(),
		nullString(e.Reason), formatTime(e.ExecutedAt), e.IsSuccess, string(resultJSON),
		e.Result.AppliedToPayroll, nullString(string(e.Result.PayrollRunID)), formatTimePtr(e.Result.AppliedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &policy.InvalidArgumentError{Field: "id", Reason: "execution already recorded"}
		}
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

func (c *conn) ListExecutions(ctx context.Context, f policy.ExecutionFilter) ([]policy.Execution, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		if arg != nil {
			args = append(args, arg)
		}
	}
	if f.OrgID != "" {
		add("org_id = ?", f.OrgID)
	}
	if f.EmployeeID != "" {
		add("employee_id = ?", f.EmployeeID)
	}
	if f.PolicyID != "" {
		add("policy_id = ?", f.PolicyID)
	}
	if !f.From.IsZero() {
		add("executed_at >= ?", formatTime(f.From))
	}
	if !f.To.IsZero() {
		add("executed_at < ?", formatTime(f.To))
	}
	if f.SuccessOnly {
		add("is_success = 1", nil)
	}
	if f.Unapplied {
		add("applied_to_payroll = 0", nil)
	}

	query := "SELECT " + executionColumns + " FROM executions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY executed_at ASC, id ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var executions []policy.Execution
	for rows.Next() {
		var (
			e                  policy.Execution
			value, executedAt  string
			reason, resultJSON sql.NullString
			runID, appliedAt   sql.NullString
			applied            bool
		)
		if err := rows.Scan(&e.ID, &e.PolicyID, &e.OrgID, &e.EmployeeID, &e.ActionType, &value,
			&reason, &executedAt, &e.IsSuccess, &resultJSON, &applied, &runID, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.ActionValue = parseDecimal(value)
		e.Reason = reason.String
		e.ExecutedAt = parseTime(executedAt)
		if resultJSON.Valid && resultJSON.String != "" {
			if err := json.Unmarshal([]byte(resultJSON.String), &e.Result); err != nil {
				return nil, fmt.Errorf("failed to decode execution result: %w", err)
			}
		}
		// Columns are authoritative over the JSON copy of the marker.
		e.Result.AppliedToPayroll = applied
		e.Result.PayrollRunID = policy.PayrollRunID(runID.String)
		e.Result.AppliedAt = parseTimePtr(appliedAt)
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

func (c *conn) MarkExecutionApplied(ctx context.Context, id policy.ExecutionID, run policy.PayrollRunID, at time.Time) (bool, error) {
	var resultJSON sql.NullString
	err := c.q.QueryRowContext(ctx,
		"SELECT action_result_json FROM executions WHERE id = ?", id).Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return false, &policy.NotFoundError{Entity: "execution", ID: string(id)}
	}
	if err != nil {
		return false, fmt.Errorf("failed to load execution: %w", err)
	}

	var result policy.ExecutionResult
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return false, fmt.Errorf("failed to decode execution result: %w", err)
		}
	}
	applied := at.UTC()
	result.AppliedToPayroll = true
	result.PayrollRunID = run
	result.AppliedAt = &applied
	encoded, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("failed to marshal execution result: %w", err)
	}

	res, err := c.q.ExecContext(ctx, `
		UPDATE executions
		SET applied_to_payroll = 1, payroll_run_id = ?, applied_at = ?, action_result_json = ?
		WHERE id = ? AND applied_to_payroll = 0
	`, run, formatTime(applied), string(encoded), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark execution applied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// =============================================================================
// ADJUSTMENT STORE
// =============================================================================

const adjustmentColumns = `id, payroll_run_id, org_id, employee_id, type, amount, description,
	policy_id, execution_id, created_at`

func (c *conn) InsertAdjustment(ctx context.Context, a policy.PayrollAdjustment) (bool, error) {
	res, err := c.q.ExecContext(ctx,
		"INSERT INTO payroll_adjustments ("+adjustmentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING",
		a.ID, a.PayrollRunID, a.OrgID, a.EmployeeID, a.Type, a.Amount.String(), a.Description,
		nullString(string(a.PolicyID)), a.ExecutionID, formatTime(a.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert adjustment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *conn) ListAdjustments(ctx context.Context, run policy.PayrollRunID) ([]policy.PayrollAdjustment, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+adjustmentColumns+" FROM payroll_adjustments WHERE payroll_run_id = ? ORDER BY employee_id, created_at, id",
		run)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []policy.PayrollAdjustment
	for rows.Next() {
		var (
			a                 policy.PayrollAdjustment
			amount, createdAt string
			description, pid  sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.PayrollRunID, &a.OrgID, &a.EmployeeID, &a.Type, &amount,
			&description, &pid, &a.ExecutionID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		a.Amount = parseDecimal(amount)
		a.Description = description.String
		a.PolicyID = policy.PolicyID(pid.String)
		a.CreatedAt = parseTime(createdAt)
		adjustments = append(adjustments, a)
	}
	return adjustments, rows.Err()
}

// =============================================================================
// DIRECTORY (employees + identities)
// =============================================================================

func (c *conn) SaveEmployee(ctx context.Context, e policy.Employee) error {
	var contractJSON sql.NullString
	if e.Contract != nil {
		b, err := json.Marshal(e.Contract)
		if err != nil {
			return fmt.Errorf("failed to marshal contract: %w", err)
		}
		contractJSON = sql.NullString{String: string(b), Valid: true}
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO employees (id, org_id, name, department_id, department_name, active, salary, contract_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			name = excluded.name,
			department_id = excluded.department_id,
			department_name = excluded.department_name,
			active = excluded.active,
			salary = excluded.salary,
			contract_json = excluded.contract_json
	`, e.ID, e.OrgID, e.Name, nullString(e.DepartmentID), nullString(e.DepartmentName),
		e.Active, e.Salary.String(), contractJSON)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (c *conn) GetEmployee(ctx context.Context, id policy.EmployeeID) (*policy.Employee, error) {
	employees, err := c.queryEmployees(ctx,
		"SELECT id, org_id, name, department_id, department_name, active, salary, contract_json FROM employees WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(employees) == 0 {
		return nil, &policy.NotFoundError{Entity: "employee", ID: string(id)}
	}
	return &employees[0], nil
}

func (c *conn) ListActiveEmployees(ctx context.Context, org policy.OrgID) ([]policy.Employee, error) {
	return c.queryEmployees(ctx,
		"SELECT id, org_id, name, department_id, department_name, active, salary, contract_json FROM employees WHERE org_id = ? AND active = 1 ORDER BY id",
		org)
}

func (c *conn) queryEmployees(ctx context.Context, query string, args ...any) ([]policy.Employee, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []policy.Employee
	for rows.Next() {
		var (
			e                policy.Employee
			deptID, deptName sql.NullString
			salary           string
			contractJSON     sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OrgID, &e.Name, &deptID, &deptName, &e.Active, &salary, &contractJSON); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		e.DepartmentID = deptID.String
		e.DepartmentName = deptName.String
		e.Salary = parseDecimal(salary)
		if contractJSON.Valid && contractJSON.String != "" {
			var contract policy.Contract
			if err := json.Unmarshal([]byte(contractJSON.String), &contract); err != nil {
				return nil, fmt.Errorf("failed to decode contract: %w", err)
			}
			e.Contract = &contract
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

func (c *conn) SaveIdentity(ctx context.Context, id policy.Identity) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO identities (user_id, org_id, name, role, job_title)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			org_id = excluded.org_id,
			name = excluded.name,
			role = excluded.role,
			job_title = excluded.job_title
	`, id.UserID, id.OrgID, id.Name, id.Role, id.JobTitle)
	if err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

func (c *conn) GetIdentity(ctx context.Context, id policy.UserID) (*policy.Identity, error) {
	var (
		ident                     policy.Identity
		org, name, role, jobTitle sql.NullString
	)
	err := c.q.QueryRowContext(ctx,
		"SELECT user_id, org_id, name, role, job_title FROM identities WHERE user_id = ?", id,
	).Scan(&ident.UserID, &org, &name, &role, &jobTitle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &policy.NotFoundError{Entity: "identity", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	ident.OrgID = policy.OrgID(org.String)
	ident.Name = name.String
	ident.Role = role.String
	ident.JobTitle = jobTitle.String
	return &ident, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payroll_adjustments", "executions", "approval_requests",
		"policy_versions", "policies", "employees", "identities"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func marshalContent(c policy.Content) (conditionsJSON, actionsJSON string, err error) {
	cond, err := json.Marshal(c.Conditions)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actions := c.Actions
	if actions == nil {
		actions = []policy.Action{}
	}
	acts, err := json.Marshal(actions)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal actions: %w", err)
	}
	return string(cond), string(acts), nil
}

func unmarshalContent(conditionsJSON, actionsJSON string, c *policy.Content) error {
	if err := json.Unmarshal([]byte(conditionsJSON), &c.Conditions); err != nil {
		return fmt.Errorf("failed to decode conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &c.Actions); err != nil {
		return fmt.Errorf("failed to decode actions: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Compile-time check
var _ policy.Repository = (*Store)(nil)
