/*
store.go - Persistence interfaces for policies, history and payroll records

PURPOSE:
  Defines the boundary between the services (versioning, approval, payroll)
  and the database. Implementations: store/sqlite (production) and
  policy/store (in-memory, tests).

KEY INTERFACES:
  PolicyStore:     live policy rows
  VersionStore:    insert-only snapshots (+ explicit pruning)
  ApprovalStore:   approval requests, resolved by compare-and-swap
  ExecutionStore:  executions from the trigger engine + the applied marker
  AdjustmentStore: payroll adjustments keyed by (execution, payroll run)
  Directory:       employees and identities (external collaborators)
  Repository:      all of the above + WithTx

APPEND-ONLY CONTRACT:
  - Versions have no update method. DeleteVersions exists only for retention.
  - Approval requests are stamped with a terminal action, never deleted.
  - Adjustments are inserted once; a second insert for the same
    (execution, payroll run) is a silent no-op.

ATOMICITY:
  WithTx runs fn against a transactional view. If fn returns an error
  everything written through the view is rolled back. Implementations
  serialize transactions, which is what makes "compute next version +
  insert" and "select unapplied + mark applied" atomic.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite implementation
  - policy/store/memory.go: in-memory implementation
*/
package policy

import (
	"context"
	"time"
)

type PolicyFilter struct {
	OrgID  OrgID
	Status Status
}

type PolicyStore interface {
	// GetPolicy returns a *NotFoundError if the policy does not exist.
	GetPolicy(ctx context.Context, id PolicyID) (*Policy, error)
	SavePolicy(ctx context.Context, p Policy) error
	ListPolicies(ctx context.Context, filter PolicyFilter) ([]Policy, error)
}

type VersionStore interface {
	// InsertVersion returns ErrDuplicateVersion if (policy, version) exists.
	InsertVersion(ctx context.Context, v Version) error
	GetVersion(ctx context.Context, id PolicyID, version int) (*Version, error)
	// LatestVersionNumber returns 0 when the policy has no version rows.
	LatestVersionNumber(ctx context.Context, id PolicyID) (int, error)
	// ListVersions returns versions newest first plus the total row count.
	ListVersions(ctx context.Context, id PolicyID, offset, limit int) ([]Version, int, error)
	// DeleteVersions removes the given version numbers and returns how many went.
	DeleteVersions(ctx context.Context, id PolicyID, versions []int) (int, error)
}

type ApprovalStore interface {
	InsertApprovalRequest(ctx context.Context, r ApprovalRequest) error
	// PendingApprovalRequest returns the most recent SUBMITTED request, or a
	// *NotFoundError when there is none.
	PendingApprovalRequest(ctx context.Context, id PolicyID) (*ApprovalRequest, error)
	// ResolveApprovalRequest stamps a terminal action onto r.ID only if it is
	// still SUBMITTED; otherwise it returns ErrConcurrentModification.
	ResolveApprovalRequest(ctx context.Context, r ApprovalRequest) error
	// ListApprovalRequests returns every request for the policy, newest first.
	ListApprovalRequests(ctx context.Context, id PolicyID) ([]ApprovalRequest, error)
}

type ExecutionStore interface {
	InsertExecution(ctx context.Context, e Execution) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error)
	// MarkExecutionApplied flips the applied marker. It returns false without
	// error when the execution was already applied.
	MarkExecutionApplied(ctx context.Context, id ExecutionID, run PayrollRunID, at time.Time) (bool, error)
}

type AdjustmentStore interface {
	// InsertAdjustment returns false without error when an adjustment for the
	// same (execution, payroll run) already exists.
	InsertAdjustment(ctx context.Context, a PayrollAdjustment) (bool, error)
	ListAdjustments(ctx context.Context, run PayrollRunID) ([]PayrollAdjustment, error)
}

// Directory serves the employee/contract and identity collaborators.
type Directory interface {
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListActiveEmployees(ctx context.Context, org OrgID) ([]Employee, error)
	SaveIdentity(ctx context.Context, id Identity) error
	GetIdentity(ctx context.Context, id UserID) (*Identity, error)
}

// Store is the full set of operations available inside and outside a transaction.
type Store interface {
	PolicyStore
	VersionStore
	ApprovalStore
	ExecutionStore
	AdjustmentStore
	Directory
}

// Repository is a Store that can run transactions.
type Repository interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
