/*
errors.go - Centralized error types for the policy engine

PURPOSE:
  All error kinds in one place. Service packages return the structured
  errors below; callers match on the sentinels with errors.Is.

ERROR KINDS:
  1. NotFound        - policy, pending approval request, or version absent
  2. InvalidState    - operation not allowed from the current status
  3. InvalidArgument - missing or malformed input (e.g. short rejection reason)
  4. Forbidden       - approver lacks authority for the required level

  None of these are retried internally: they are caller or business-rule
  violations, not transient failures. ErrDuplicateVersion and
  ErrConcurrentModification are the only retryable kinds.

SEE ALSO:
  - api/handlers.go: maps kinds onto HTTP status codes
*/
package policy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("forbidden")

	// ErrDuplicateVersion is returned by a store when (policy, version) already
	// exists. Version creation retries on it.
	ErrDuplicateVersion = errors.New("duplicate policy version")

	// ErrConcurrentModification is returned when a compare-and-swap update
	// finds the row already changed by someone else.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type NotFoundError struct {
	Entity   string // "policy", "version", "approval request", "employee", ...
	PolicyID PolicyID
	ID       string
	Version  int
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Version > 0:
		return fmt.Sprintf("%s %d of policy %s not found", e.Entity, e.Version, e.PolicyID)
	case e.PolicyID != "" && e.ID == "":
		return fmt.Sprintf("%s for policy %s not found", e.Entity, e.PolicyID)
	default:
		return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
	}
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type InvalidStateError struct {
	PolicyID PolicyID
	Status   Status
	Op       string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s policy %s in status %s", e.Op, e.PolicyID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

type ForbiddenError struct {
	PolicyID      PolicyID
	ApproverID    UserID
	RequiredLevel ApprovalLevel
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("user %s is not authorized to approve policy %s at level %s",
		e.ApproverID, e.PolicyID, e.RequiredLevel)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrDuplicateVersion)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError returns true if the error is due to the caller, not the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrForbidden)
}
