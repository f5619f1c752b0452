/*
Package payroll turns policy executions into payroll adjustments.

PURPOSE:
  The trigger engine records an Execution every time an active policy fires
  for an employee. This package:
    1. Reports the financial impact of those executions for a month
       (CalculateImpact), per employee, per policy and per department.
    2. Materializes them as PayrollAdjustment rows on a payroll run
       (ApplyToPayrollRecord), at most once per execution.
    3. Runs (2) for every active employee of an organization
       (SyncPoliciesWithPayroll), collecting per-employee failures.

AT-MOST-ONCE APPLICATION:
  Inside one transaction, for every successful unapplied execution:

    MarkExecutionApplied(exec, run)   ← compare-and-swap on the marker
        false? skip (someone else applied it)
    InsertAdjustment(id = uuidv5(exec, run))
        UNIQUE(execution_id, payroll_run_id), duplicate → no-op

  Marking first means a failed adjustment write rolls the marker back with
  it; there is never an adjustment without a marker or the reverse.
  Calling Apply again returns zero adjustments, never an error.

MONEY:
  All amounts are decimal.Decimal. Net impact = bonuses - deductions.
  Descriptions are formatted with a locale-aware printer.

SEE ALSO:
  - impact.go: CalculateImpact and its rollups
  - apply.go: ApplyToPayrollRecord, GetAdjustmentsForPayroll
  - sync.go: SyncPoliciesWithPayroll
*/
package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/warp/policy-engine/policy"
)

const DefaultSyncConcurrency = 4

// Service implements impact calculation and payroll application.
type Service struct {
	Store  policy.Repository
	Logger *slog.Logger

	// Concurrency bounds the per-employee fan-out of SyncPoliciesWithPayroll.
	Concurrency int

	Printer  *message.Printer
	Currency string

	Now func() time.Time
}

func NewService(store policy.Repository) *Service {
	return &Service{
		Store:       store,
		Logger:      slog.Default(),
		Concurrency: DefaultSyncConcurrency,
		Printer:     message.NewPrinter(language.English),
		Currency:    "USD",
		Now:         time.Now,
	}
}

// NewPrinter builds a printer for a BCP 47 locale such as "en" or "de-CH".
func NewPrinter(locale string) (*message.Printer, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	return message.NewPrinter(tag), nil
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) printer() *message.Printer {
	if s.Printer == nil {
		return message.NewPrinter(language.English)
	}
	return s.Printer
}

// =============================================================================
// EXECUTION INTAKE
// =============================================================================

// RecordExecution stores an execution reported by the trigger engine. The
// action alias is normalized, the organization is taken from the policy and
// a missing ID or timestamp is filled in.
func (s *Service) RecordExecution(ctx context.Context, e policy.Execution) (*policy.Execution, error) {
	if e.EmployeeID == "" {
		return nil, &policy.InvalidArgumentError{Field: "employee_id", Reason: "required"}
	}
	kind, ok := policy.NormalizeActionKind(string(e.ActionType))
	if !ok {
		return nil, &policy.InvalidArgumentError{Field: "action_type", Reason: fmt.Sprintf("unknown action type %q", e.ActionType)}
	}
	if e.ActionValue.IsNegative() {
		return nil, &policy.InvalidArgumentError{Field: "action_value", Reason: "must not be negative"}
	}

	p, err := s.Store.GetPolicy(ctx, e.PolicyID)
	if err != nil {
		return nil, err
	}
	if e.OrgID != "" && e.OrgID != p.OrgID {
		return nil, &policy.InvalidArgumentError{Field: "org_id", Reason: "does not match the policy's organization"}
	}

	e.OrgID = p.OrgID
	e.ActionType = kind
	if e.ID == "" {
		e.ID = policy.ExecutionID(uuid.NewString())
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = s.now()
	}
	e.ExecutedAt = e.ExecutedAt.UTC()
	// The marker belongs to this engine; never trust it from the caller.
	e.Result.AppliedToPayroll = false
	e.Result.PayrollRunID = ""
	e.Result.AppliedAt = nil

	if err := s.Store.InsertExecution(ctx, e); err != nil {
		return nil, err
	}

	s.logger().DebugContext(ctx, "execution recorded",
		"policy_id", e.PolicyID, "employee_id", e.EmployeeID, "execution_id", e.ID)
	return &e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// policyNames caches policy lookups for one operation.
type policyNames struct {
	store policy.PolicyStore
	cache map[policy.PolicyID]*policy.Policy
}

func newPolicyNames(store policy.PolicyStore) *policyNames {
	return &policyNames{store: store, cache: make(map[policy.PolicyID]*policy.Policy)}
}

// get returns nil for policies that no longer exist.
func (n *policyNames) get(ctx context.Context, id policy.PolicyID) (*policy.Policy, error) {
	if p, ok := n.cache[id]; ok {
		return p, nil
	}
	p, err := n.store.GetPolicy(ctx, id)
	if policy.IsNotFound(err) {
		p, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	n.cache[id] = p
	return p, nil
}

func (n *policyNames) name(ctx context.Context, id policy.PolicyID) (string, policy.Category, error) {
	p, err := n.get(ctx, id)
	if err != nil {
		return "", "", err
	}
	if p == nil {
		return "Policy " + string(id), policy.CategoryOther, nil
	}
	return p.Name, p.Content.Conditions.Category(), nil
}

func executionKind(e policy.Execution) (policy.ActionKind, error) {
	kind, ok := policy.NormalizeActionKind(string(e.ActionType))
	if !ok {
		return "", &policy.InvalidArgumentError{
			Field:  "action_type",
			Reason: fmt.Sprintf("execution %s has unknown action type %q", e.ID, e.ActionType),
		}
	}
	return kind, nil
}

// describe renders the human-readable adjustment line.
func (s *Service) describe(name string, kind policy.ActionKind, e policy.Execution) string {
	label := "Deduction"
	if kind == policy.ActionBonus {
		label = "Bonus"
	}
	text := s.printer().Sprintf("%s: %s (%s %s)", label, name, e.ActionValue.StringFixed(2), s.Currency)
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		text += " - " + reason
	}
	return text
}
