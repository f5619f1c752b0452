package policy

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EXECUTION - A single firing of a policy against one employee
// =============================================================================

// Execution is produced by the trigger engine. This engine only reads it and,
// once applied to a payroll run, flips Result.AppliedToPayroll.
type Execution struct {
	ID          ExecutionID
	PolicyID    PolicyID
	OrgID       OrgID
	EmployeeID  EmployeeID
	ActionType  ActionKind
	ActionValue decimal.Decimal
	Reason      string
	ExecutedAt  time.Time
	IsSuccess   bool
	Result      ExecutionResult
}

// ExecutionResult is the free-form result payload plus the payroll marker.
// AppliedToPayroll is the source of truth for "applied at most once".
type ExecutionResult struct {
	Payload          map[string]any `json:"payload,omitempty"`
	AppliedToPayroll bool           `json:"applied_to_payroll"`
	PayrollRunID     PayrollRunID   `json:"payroll_run_id,omitempty"`
	AppliedAt        *time.Time     `json:"applied_at,omitempty"`
}

// ExecutionFilter selects executions. Zero-valued fields do not filter.
type ExecutionFilter struct {
	OrgID       OrgID
	EmployeeID  EmployeeID
	PolicyID    PolicyID
	From        time.Time // inclusive
	To          time.Time // exclusive
	SuccessOnly bool
	Unapplied   bool
}

// =============================================================================
// PAYROLL ADJUSTMENT - Materialized line item on a payroll run
// =============================================================================

type AdjustmentType string

const (
	AdjustmentDeduction AdjustmentType = "DEDUCTION"
	AdjustmentAddition  AdjustmentType = "ADDITION"
)

// AdjustmentTypeFor maps an action kind onto the payroll line type.
func AdjustmentTypeFor(kind ActionKind) AdjustmentType {
	if kind == ActionBonus {
		return AdjustmentAddition
	}
	return AdjustmentDeduction
}

type PayrollAdjustment struct {
	ID           string          `json:"id"`
	PayrollRunID PayrollRunID    `json:"payroll_run_id"`
	OrgID        OrgID           `json:"org_id"`
	EmployeeID   EmployeeID      `json:"employee_id"`
	Type         AdjustmentType  `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	PolicyID     PolicyID        `json:"policy_id"`
	ExecutionID  ExecutionID     `json:"execution_id"`
	CreatedAt    time.Time       `json:"created_at"`
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

// Contract carries the salary figures of an employment contract.
type Contract struct {
	Active         bool
	BasicSalary    decimal.Decimal
	Housing        decimal.Decimal
	Transport      decimal.Decimal
	OtherAllowance decimal.Decimal
}

// Gross is basic salary plus all allowances.
func (c Contract) Gross() decimal.Decimal {
	return c.BasicSalary.Add(c.Housing).Add(c.Transport).Add(c.OtherAllowance)
}

type Employee struct {
	ID             EmployeeID
	OrgID          OrgID
	Name           string
	DepartmentID   string
	DepartmentName string
	Active         bool
	Salary         decimal.Decimal
	Contract       *Contract
}

// BaselineSalary prefers an active contract over the generic salary field.
func (e Employee) BaselineSalary() decimal.Decimal {
	if e.Contract != nil && e.Contract.Active {
		return e.Contract.Gross()
	}
	return e.Salary
}
