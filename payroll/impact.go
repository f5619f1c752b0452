package payroll

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/policy-engine/policy"
)

// =============================================================================
// REPORT SHAPES
// =============================================================================

// ImpactItem is one execution as it affects an employee's pay.
type ImpactItem struct {
	ExecutionID policy.ExecutionID `json:"execution_id"`
	PolicyID    policy.PolicyID    `json:"policy_id"`
	PolicyName  string             `json:"policy_name"`
	Amount      decimal.Decimal    `json:"amount"`
	Reason      string             `json:"reason"`
	Category    policy.Category    `json:"category"`
	ExecutedAt  time.Time          `json:"executed_at"`
	Applied     bool               `json:"applied"`
}

type EmployeeImpact struct {
	EmployeeID     policy.EmployeeID `json:"employee_id"`
	EmployeeName   string            `json:"employee_name"`
	DepartmentID   string            `json:"department_id"`
	DepartmentName string            `json:"department_name"`

	BaselineSalary   decimal.Decimal `json:"baseline_salary"`
	PolicyDeductions []ImpactItem    `json:"policy_deductions"`
	PolicyBonuses    []ImpactItem    `json:"policy_bonuses"`

	TotalPolicyDeductions decimal.Decimal `json:"total_policy_deductions"`
	TotalPolicyBonuses    decimal.Decimal `json:"total_policy_bonuses"`
	NetPolicyImpact       decimal.Decimal `json:"net_policy_impact"`
	FinalTotalSalary      decimal.Decimal `json:"final_total_salary"`
}

// Affected reports whether any execution touched the employee.
func (e EmployeeImpact) Affected() bool {
	return len(e.PolicyDeductions)+len(e.PolicyBonuses) > 0
}

type PolicyRollup struct {
	PolicyID          policy.PolicyID `json:"policy_id"`
	PolicyName        string          `json:"policy_name"`
	Category          policy.Category `json:"category"`
	TotalDeductions   decimal.Decimal `json:"total_deductions"`
	TotalBonuses      decimal.Decimal `json:"total_bonuses"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Executions        int             `json:"executions"`
	AffectedEmployees int             `json:"affected_employees"`
}

type DepartmentRollup struct {
	DepartmentID      string          `json:"department_id"`
	DepartmentName    string          `json:"department_name"`
	TotalDeductions   decimal.Decimal `json:"total_deductions"`
	TotalBonuses      decimal.Decimal `json:"total_bonuses"`
	AffectedEmployees int             `json:"affected_employees"`
}

type ImpactSummary struct {
	TotalEmployees    int                `json:"total_employees"`
	AffectedEmployees int                `json:"affected_employees"`
	TotalBaseline     decimal.Decimal    `json:"total_baseline"`
	TotalDeductions   decimal.Decimal    `json:"total_deductions"`
	TotalBonuses      decimal.Decimal    `json:"total_bonuses"`
	NetImpact         decimal.Decimal    `json:"net_impact"`
	TotalFinalSalary  decimal.Decimal    `json:"total_final_salary"`
	ByPolicy          []PolicyRollup     `json:"by_policy"`
	ByDepartment      []DepartmentRollup `json:"by_department"`
}

type ImpactReport struct {
	OrgID     policy.OrgID     `json:"org_id"`
	Period    policy.Period    `json:"period"`
	Employees []EmployeeImpact `json:"employees"`
	Summary   ImpactSummary    `json:"summary"`
}

// UnassignedDepartment names the rollup bucket for employees without one.
const UnassignedDepartment = "Unassigned"

// =============================================================================
// CALCULATE IMPACT
// =============================================================================

// CalculateImpact aggregates the successful executions of period for every
// active employee of org. It only reads; applied and unapplied executions
// both count.
func (s *Service) CalculateImpact(ctx context.Context, org policy.OrgID, period policy.Period) (*ImpactReport, error) {
	if org == "" {
		return nil, &policy.InvalidArgumentError{Field: "org_id", Reason: "required"}
	}

	employees, err := s.Store.ListActiveEmployees(ctx, org)
	if err != nil {
		return nil, err
	}
	executions, err := s.Store.ListExecutions(ctx, policy.ExecutionFilter{
		OrgID:       org,
		From:        period.Start(),
		To:          period.End(),
		SuccessOnly: true,
	})
	if err != nil {
		return nil, err
	}

	byEmployee := make(map[policy.EmployeeID][]policy.Execution)
	for _, e := range executions {
		byEmployee[e.EmployeeID] = append(byEmployee[e.EmployeeID], e)
	}

	names := newPolicyNames(s.Store)
	report := &ImpactReport{OrgID: org, Period: period}
	agg := newRollups()

	for _, emp := range employees {
		impact := EmployeeImpact{
			EmployeeID:            emp.ID,
			EmployeeName:          emp.Name,
			DepartmentID:          emp.DepartmentID,
			DepartmentName:        emp.DepartmentName,
			BaselineSalary:        emp.BaselineSalary(),
			PolicyDeductions:      []ImpactItem{},
			PolicyBonuses:         []ImpactItem{},
			TotalPolicyDeductions: decimal.Zero,
			TotalPolicyBonuses:    decimal.Zero,
		}
		if impact.DepartmentName == "" && impact.DepartmentID == "" {
			impact.DepartmentName = UnassignedDepartment
		}

		for _, e := range byEmployee[emp.ID] {
			kind, err := executionKind(e)
			if err != nil {
				s.logger().WarnContext(ctx, "skipping execution with unknown action type",
					"execution_id", e.ID, "employee_id", emp.ID, "action_type", e.ActionType)
				continue
			}
			name, category, err := names.name(ctx, e.PolicyID)
			if err != nil {
				return nil, err
			}
			item := ImpactItem{
				ExecutionID: e.ID,
				PolicyID:    e.PolicyID,
				PolicyName:  name,
				Amount:      e.ActionValue,
				Reason:      e.Reason,
				Category:    category,
				ExecutedAt:  e.ExecutedAt,
				Applied:     e.Result.AppliedToPayroll,
			}
			if kind == policy.ActionBonus {
				impact.PolicyBonuses = append(impact.PolicyBonuses, item)
				impact.TotalPolicyBonuses = impact.TotalPolicyBonuses.Add(item.Amount)
			} else {
				impact.PolicyDeductions = append(impact.PolicyDeductions, item)
				impact.TotalPolicyDeductions = impact.TotalPolicyDeductions.Add(item.Amount)
			}
			agg.addItem(impact, kind, item)
		}

		impact.NetPolicyImpact = impact.TotalPolicyBonuses.Sub(impact.TotalPolicyDeductions)
		impact.FinalTotalSalary = impact.BaselineSalary.Add(impact.NetPolicyImpact)
		report.Employees = append(report.Employees, impact)
	}

	sort.SliceStable(report.Employees, func(i, j int) bool {
		a, b := report.Employees[i], report.Employees[j]
		if a.EmployeeName != b.EmployeeName {
			return a.EmployeeName < b.EmployeeName
		}
		return a.EmployeeID < b.EmployeeID
	})

	report.Summary = summarize(report.Employees, agg)
	return report, nil
}

// =============================================================================
// ROLLUPS
// =============================================================================

type deptKey struct{ id, name string }

type rollups struct {
	policies      map[policy.PolicyID]*PolicyRollup
	policyEmps    map[policy.PolicyID]map[policy.EmployeeID]bool
	departments   map[deptKey]*DepartmentRollup
	departmentEmp map[deptKey]map[policy.EmployeeID]bool
}

func newRollups() *rollups {
	return &rollups{
		policies:      make(map[policy.PolicyID]*PolicyRollup),
		policyEmps:    make(map[policy.PolicyID]map[policy.EmployeeID]bool),
		departments:   make(map[deptKey]*DepartmentRollup),
		departmentEmp: make(map[deptKey]map[policy.EmployeeID]bool),
	}
}

func (r *rollups) addItem(emp EmployeeImpact, kind policy.ActionKind, item ImpactItem) {
	pr, ok := r.policies[item.PolicyID]
	if !ok {
		pr = &PolicyRollup{
			PolicyID:        item.PolicyID,
			PolicyName:      item.PolicyName,
			Category:        item.Category,
			TotalDeductions: decimal.Zero,
			TotalBonuses:    decimal.Zero,
			TotalAmount:     decimal.Zero,
		}
		r.policies[item.PolicyID] = pr
		r.policyEmps[item.PolicyID] = make(map[policy.EmployeeID]bool)
	}
	pr.Executions++
	pr.TotalAmount = pr.TotalAmount.Add(item.Amount)
	if kind == policy.ActionBonus {
		pr.TotalBonuses = pr.TotalBonuses.Add(item.Amount)
	} else {
		pr.TotalDeductions = pr.TotalDeductions.Add(item.Amount)
	}
	r.policyEmps[item.PolicyID][emp.EmployeeID] = true

	key := deptKey{id: emp.DepartmentID, name: emp.DepartmentName}
	dr, ok := r.departments[key]
	if !ok {
		dr = &DepartmentRollup{
			DepartmentID:    key.id,
			DepartmentName:  key.name,
			TotalDeductions: decimal.Zero,
			TotalBonuses:    decimal.Zero,
		}
		r.departments[key] = dr
		r.departmentEmp[key] = make(map[policy.EmployeeID]bool)
	}
	if kind == policy.ActionBonus {
		dr.TotalBonuses = dr.TotalBonuses.Add(item.Amount)
	} else {
		dr.TotalDeductions = dr.TotalDeductions.Add(item.Amount)
	}
	r.departmentEmp[key][emp.EmployeeID] = true
}

func summarize(employees []EmployeeImpact, r *rollups) ImpactSummary {
	sum := ImpactSummary{
		TotalEmployees:   len(employees),
		TotalBaseline:    decimal.Zero,
		TotalDeductions:  decimal.Zero,
		TotalBonuses:     decimal.Zero,
		TotalFinalSalary: decimal.Zero,
		ByPolicy:         []PolicyRollup{},
		ByDepartment:     []DepartmentRollup{},
	}
	for _, e := range employees {
		if e.Affected() {
			sum.AffectedEmployees++
		}
		sum.TotalBaseline = sum.TotalBaseline.Add(e.BaselineSalary)
		sum.TotalDeductions = sum.TotalDeductions.Add(e.TotalPolicyDeductions)
		sum.TotalBonuses = sum.TotalBonuses.Add(e.TotalPolicyBonuses)
		sum.TotalFinalSalary = sum.TotalFinalSalary.Add(e.FinalTotalSalary)
	}
	sum.NetImpact = sum.TotalBonuses.Sub(sum.TotalDeductions)

	for id, pr := range r.policies {
		pr.AffectedEmployees = len(r.policyEmps[id])
		sum.ByPolicy = append(sum.ByPolicy, *pr)
	}
	sort.Slice(sum.ByPolicy, func(i, j int) bool {
		a, b := sum.ByPolicy[i], sum.ByPolicy[j]
		if a.PolicyName != b.PolicyName {
			return a.PolicyName < b.PolicyName
		}
		return a.PolicyID < b.PolicyID
	})

	for key, dr := range r.departments {
		dr.AffectedEmployees = len(r.departmentEmp[key])
		sum.ByDepartment = append(sum.ByDepartment, *dr)
	}
	sort.Slice(sum.ByDepartment, func(i, j int) bool {
		a, b := sum.ByDepartment[i], sum.ByDepartment[j]
		if a.DepartmentName != b.DepartmentName {
			return a.DepartmentName < b.DepartmentName
		}
		return a.DepartmentID < b.DepartmentID
	})
	return sum
}
