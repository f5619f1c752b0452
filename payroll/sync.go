package payroll

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/policy-engine/policy"
)

type EmployeeSync struct {
	EmployeeID   policy.EmployeeID `json:"employee_id"`
	EmployeeName string            `json:"employee_name"`
	Result       ApplyResult       `json:"result"`
}

type SyncError struct {
	EmployeeID   policy.EmployeeID `json:"employee_id"`
	EmployeeName string            `json:"employee_name"`
	Error        string            `json:"error"`
}

type SyncResult struct {
	PayrollRunID       policy.PayrollRunID `json:"payroll_run_id"`
	Success            bool                `json:"success"`
	EmployeesProcessed int                 `json:"employees_processed"`
	TotalAdjustments   int                 `json:"total_adjustments"`
	TotalDeductions    decimal.Decimal     `json:"total_deductions"`
	TotalBonuses       decimal.Decimal     `json:"total_bonuses"`
	Results            []EmployeeSync      `json:"results"`
	Errors             []SyncError         `json:"errors"`
}

// SyncPoliciesWithPayroll applies policy adjustments for every active
// employee of org. Employees are processed in parallel and independently: a
// failure (or panic) for one is recorded in Errors and the rest carry on.
// Success is false when any employee failed; EmployeesProcessed counts only
// the ones that succeeded.
func (s *Service) SyncPoliciesWithPayroll(
	ctx context.Context,
	run policy.PayrollRunID,
	org policy.OrgID,
	period policy.Period,
) (*SyncResult, error) {
	if run == "" {
		return nil, &policy.InvalidArgumentError{Field: "payroll_run_id", Reason: "required"}
	}
	if org == "" {
		return nil, &policy.InvalidArgumentError{Field: "org_id", Reason: "required"}
	}

	employees, err := s.Store.ListActiveEmployees(ctx, org)
	if err != nil {
		return nil, err
	}

	out := &SyncResult{
		PayrollRunID:    run,
		TotalDeductions: decimal.Zero,
		TotalBonuses:    decimal.Zero,
		Results:         []EmployeeSync{},
		Errors:          []SyncError{},
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	limit := s.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, emp := range employees {
		emp := emp
		g.Go(func() error {
			res, err := s.applyOne(ctx, run, emp, org, period)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger().ErrorContext(ctx, "payroll sync failed for employee",
					"payroll_run_id", run, "employee_id", emp.ID, "error", err)
				out.Errors = append(out.Errors, SyncError{
					EmployeeID:   emp.ID,
					EmployeeName: emp.Name,
					Error:        err.Error(),
				})
				return nil
			}
			out.Results = append(out.Results, EmployeeSync{EmployeeID: emp.ID, EmployeeName: emp.Name, Result: *res})
			out.EmployeesProcessed++
			out.TotalAdjustments += res.AdjustmentsCreated
			out.TotalDeductions = out.TotalDeductions.Add(res.TotalDeductions)
			out.TotalBonuses = out.TotalBonuses.Add(res.TotalBonuses)
			return nil
		})
	}
	// Workers never return errors; failures live in out.Errors.
	_ = g.Wait()

	sort.Slice(out.Results, func(i, j int) bool { return out.Results[i].EmployeeID < out.Results[j].EmployeeID })
	sort.Slice(out.Errors, func(i, j int) bool { return out.Errors[i].EmployeeID < out.Errors[j].EmployeeID })
	out.Success = len(out.Errors) == 0

	s.logger().InfoContext(ctx, "payroll sync finished",
		"payroll_run_id", run, "org_id", org, "period", period.String(),
		"employees_processed", out.EmployeesProcessed,
		"adjustments", out.TotalAdjustments,
		"errors", len(out.Errors))
	return out, nil
}

func (s *Service) applyOne(
	ctx context.Context,
	run policy.PayrollRunID,
	emp policy.Employee,
	org policy.OrgID,
	period policy.Period,
) (res *ApplyResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("panic while applying adjustments: %v", r)
		}
	}()
	return s.ApplyToPayrollRecord(ctx, run, emp.ID, org, period)
}
