package payroll

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/policy-engine/policy"
)

// adjustmentNamespace seeds the deterministic adjustment IDs.
var adjustmentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:policy-engine:payroll-adjustment"))

// AdjustmentID is the same for every attempt to apply exec to run.
func AdjustmentID(exec policy.ExecutionID, run policy.PayrollRunID) string {
	return uuid.NewSHA1(adjustmentNamespace, []byte(string(exec)+"/"+string(run))).String()
}

// =============================================================================
// APPLY
// =============================================================================

type ApplyResult struct {
	AdjustmentsCreated int             `json:"adjustments_created"`
	TotalDeductions    decimal.Decimal `json:"total_deductions"`
	TotalBonuses       decimal.Decimal `json:"total_bonuses"`
}

// ApplyToPayrollRecord writes one adjustment per successful, unapplied
// execution of employee in period and marks each execution applied. A
// repeated call creates nothing and returns zero counts.
func (s *Service) ApplyToPayrollRecord(
	ctx context.Context,
	run policy.PayrollRunID,
	employee policy.EmployeeID,
	org policy.OrgID,
	period policy.Period,
) (*ApplyResult, error) {
	if run == "" {
		return nil, &policy.InvalidArgumentError{Field: "payroll_run_id", Reason: "required"}
	}
	if employee == "" {
		return nil, &policy.InvalidArgumentError{Field: "employee_id", Reason: "required"}
	}

	result := &ApplyResult{TotalDeductions: decimal.Zero, TotalBonuses: decimal.Zero}
	err := s.Store.WithTx(ctx, func(tx policy.Store) error {
		// Reset in case an earlier attempt of this closure partially filled it.
		*result = ApplyResult{TotalDeductions: decimal.Zero, TotalBonuses: decimal.Zero}

		executions, err := tx.ListExecutions(ctx, policy.ExecutionFilter{
			OrgID:       org,
			EmployeeID:  employee,
			From:        period.Start(),
			To:          period.End(),
			SuccessOnly: true,
			Unapplied:   true,
		})
		if err != nil {
			return err
		}

		names := newPolicyNames(tx)
		now := s.now()
		for _, e := range executions {
			kind, err := executionKind(e)
			if err != nil {
				return err
			}

			marked, err := tx.MarkExecutionApplied(ctx, e.ID, run, now)
			if err != nil {
				return err
			}
			if !marked {
				continue
			}

			name, _, err := names.name(ctx, e.PolicyID)
			if err != nil {
				return err
			}
			adj := policy.PayrollAdjustment{
				ID:           AdjustmentID(e.ID, run),
				PayrollRunID: run,
				OrgID:        e.OrgID,
				EmployeeID:   e.EmployeeID,
				Type:         policy.AdjustmentTypeFor(kind),
				Amount:       e.ActionValue,
				Description:  s.describe(name, kind, e),
				PolicyID:     e.PolicyID,
				ExecutionID:  e.ID,
				CreatedAt:    now,
			}
			inserted, err := tx.InsertAdjustment(ctx, adj)
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}

			result.AdjustmentsCreated++
			if adj.Type == policy.AdjustmentAddition {
				result.TotalBonuses = result.TotalBonuses.Add(adj.Amount)
			} else {
				result.TotalDeductions = result.TotalDeductions.Add(adj.Amount)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.AdjustmentsCreated > 0 {
		s.logger().InfoContext(ctx, "policy adjustments applied",
			"payroll_run_id", run, "employee_id", employee,
			"adjustments", result.AdjustmentsCreated,
			"deductions", result.TotalDeductions.String(),
			"bonuses", result.TotalBonuses.String())
	}
	return result, nil
}

// =============================================================================
// READ
// =============================================================================

type RunAdjustments struct {
	PayrollRunID    policy.PayrollRunID        `json:"payroll_run_id"`
	Deductions      []policy.PayrollAdjustment `json:"deductions"`
	Bonuses         []policy.PayrollAdjustment `json:"bonuses"`
	TotalDeductions decimal.Decimal            `json:"total_deductions"`
	TotalBonuses    decimal.Decimal            `json:"total_bonuses"`
	Net             decimal.Decimal            `json:"net"`
}

// GetAdjustmentsForPayroll reads the adjustments of a run. Executions are
// not touched.
func (s *Service) GetAdjustmentsForPayroll(ctx context.Context, run policy.PayrollRunID) (*RunAdjustments, error) {
	adjustments, err := s.Store.ListAdjustments(ctx, run)
	if err != nil {
		return nil, err
	}

	out := &RunAdjustments{
		PayrollRunID:    run,
		Deductions:      []policy.PayrollAdjustment{},
		Bonuses:         []policy.PayrollAdjustment{},
		TotalDeductions: decimal.Zero,
		TotalBonuses:    decimal.Zero,
	}
	for _, a := range adjustments {
		if a.Type == policy.AdjustmentAddition {
			out.Bonuses = append(out.Bonuses, a)
			out.TotalBonuses = out.TotalBonuses.Add(a.Amount)
		} else {
			out.Deductions = append(out.Deductions, a)
			out.TotalDeductions = out.TotalDeductions.Add(a.Amount)
		}
	}
	out.Net = out.TotalBonuses.Sub(out.TotalDeductions)
	return out, nil
}
