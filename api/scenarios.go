/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario creates employees, approver identities,
	policies in various lifecycle states and policy executions.

AVAILABLE SCENARIOS:

	approval-queue:   Policies waiting for HR and CEO approval, plus a draft with history
	monthly-impact:   Active policies with this month's executions, nothing applied yet
	payroll-applied:  monthly-impact with one employee already applied to run-demo

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Seed the directory (employees, identities)
 3. Create policies from factory presets through the versioning service
 4. Drive them through the approval workflow
 5. Record executions through the payroll service

Everything goes through the same services as the API, so a scenario is also
a smoke test of the whole engine.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "monthly-impact"}

NOTE:

	Scenarios reset the store. Routes are only mounted when the server runs
	with --demo.

SEE ALSO:
  - factory/presets.go: Policy definitions
  - server.go: Route registration
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/policy-engine/approval"
	"github.com/warp/policy-engine/factory"
	"github.com/warp/policy-engine/policy"
)

// DemoOrg owns all scenario data.
const DemoOrg policy.OrgID = "org-demo"

// DemoPayrollRun is the run the payroll-applied scenario writes to.
const DemoPayrollRun policy.PayrollRunID = "run-demo"

// resetter is implemented by stores that can drop all data.
type resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(h *Handler, ctx context.Context) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "approval-queue",
			Name:        "Approval Queue",
			Description: "One policy waiting for HR, one above the CEO threshold, one draft with edit history",
			Category:    "approval",
		},
		load: (*Handler).loadApprovalQueueScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "monthly-impact",
			Name:        "Monthly Impact",
			Description: "Active attendance and KPI policies with executions in the current month",
			Category:    "payroll",
		},
		load: (*Handler).loadMonthlyImpactScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "payroll-applied",
			Name:        "Payroll Applied",
			Description: "Monthly impact with one employee already applied to run-demo",
			Category:    "payroll",
		},
		load: (*Handler).loadPayrollAppliedScenario,
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	var found *scenario
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			found = &scenarios[i]
			break
		}
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.LoadScenarioByID(r.Context(), found.ID); err != nil {
		h.writeServiceError(w, r, "Failed to load scenario", err)
		return
	}
	h.currentScenario = found.ID

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": found.ScenarioDTO,
	})
}

// LoadScenarioByID resets the store and runs one scenario loader.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	for _, s := range scenarios {
		if s.ID != id {
			continue
		}
		rs, ok := h.Store.(resetter)
		if !ok {
			return fmt.Errorf("store %T cannot be reset", h.Store)
		}
		if err := rs.Reset(ctx); err != nil {
			return fmt.Errorf("reset store: %w", err)
		}
		if err := s.load(h, ctx); err != nil {
			return fmt.Errorf("scenario %s: %w", id, err)
		}
		h.logger().InfoContext(ctx, "scenario loaded", "scenario", id)
		return nil
	}
	return &policy.NotFoundError{Entity: "scenario", ID: id}
}

// =============================================================================
// SHARED SEED DATA
// =============================================================================

const (
	demoAdmin policy.UserID = "admin-001"
	demoHR    policy.UserID = "hr-001"
	demoCEO   policy.UserID = "ceo-001"
)

func (h *Handler) seedDirectory(ctx context.Context) error {
	employees := []policy.Employee{
		{
			ID: "emp-001", OrgID: DemoOrg, Name: "Alice Johnson",
			DepartmentID: "dep-ops", DepartmentName: "Operations", Active: true,
			Salary: decimal.NewFromInt(4500),
			Contract: &policy.Contract{
				Active:      true,
				BasicSalary: decimal.NewFromInt(4000),
				Housing:     decimal.NewFromInt(800),
				Transport:   decimal.NewFromInt(300),
			},
		},
		{
			ID: "emp-002", OrgID: DemoOrg, Name: "Bob Smith",
			DepartmentID: "dep-ops", DepartmentName: "Operations", Active: true,
			Salary: decimal.NewFromInt(3500),
		},
		{
			ID: "emp-003", OrgID: DemoOrg, Name: "Carla Diaz",
			DepartmentID: "dep-eng", DepartmentName: "Engineering", Active: true,
			Salary: decimal.NewFromInt(5200),
		},
		{
			ID: "emp-004", OrgID: DemoOrg, Name: "Dan Lee", Active: true,
			Salary: decimal.NewFromInt(2800),
		},
	}
	for _, e := range employees {
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}

	identities := []policy.Identity{
		{UserID: demoAdmin, OrgID: DemoOrg, Name: "Ada Admin", Role: "admin"},
		{UserID: demoHR, OrgID: DemoOrg, Name: "Hana Rossi", Role: "HR Manager"},
		{UserID: demoCEO, OrgID: DemoOrg, Name: "Chris Ode", Role: "Executive", JobTitle: "CEO"},
	}
	for _, id := range identities {
		if err := h.Store.SaveIdentity(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) createFromPreset(ctx context.Context, definition string) (*policy.Policy, error) {
	def, err := factory.NewPolicyFactory().ParsePolicy(definition)
	if err != nil {
		return nil, err
	}
	return h.Versions.CreatePolicy(ctx, DemoOrg, demoAdmin, def.Name, def.Content)
}

func (h *Handler) activate(ctx context.Context, p *policy.Policy, approver policy.UserID) error {
	if _, err := h.Approvals.SubmitForApproval(ctx, p.ID, demoAdmin, "Ready for review"); err != nil {
		return err
	}
	_, err := h.Approvals.Approve(ctx, p.ID, approver, approval.ApproveOptions{ActivateNow: true})
	return err
}

type demoPolicies struct {
	late, kpi, perfect *policy.Policy
}

func (h *Handler) seedActivePolicies(ctx context.Context) (*demoPolicies, error) {
	var (
		out demoPolicies
		err error
	)
	if out.late, err = h.createFromPreset(ctx, factory.LateArrivalJSON("Late arrival deduction", 3, "50")); err != nil {
		return nil, err
	}
	if out.kpi, err = h.createFromPreset(ctx, factory.KPIBonusJSON("Quarterly KPI bonus", 90, "750")); err != nil {
		return nil, err
	}
	if out.perfect, err = h.createFromPreset(ctx, factory.PerfectAttendanceJSON("Perfect attendance", "25")); err != nil {
		return nil, err
	}

	if err := h.activate(ctx, out.late, demoHR); err != nil {
		return nil, err
	}
	// 750 is above the default CEO threshold.
	if err := h.activate(ctx, out.kpi, demoCEO); err != nil {
		return nil, err
	}
	if err := h.activate(ctx, out.perfect, demoHR); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadApprovalQueueScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}

	late, err := h.createFromPreset(ctx, factory.LateArrivalJSON("Late arrival deduction", 3, "50"))
	if err != nil {
		return err
	}
	if _, err := h.Approvals.SubmitForApproval(ctx, late.ID, demoAdmin, "Attendance rules for Q3"); err != nil {
		return err
	}

	kpi, err := h.createFromPreset(ctx, factory.KPIBonusJSON("Quarterly KPI bonus", 90, "750"))
	if err != nil {
		return err
	}
	if _, err := h.Approvals.SubmitForApproval(ctx, kpi.ID, demoAdmin, "Needs CEO sign-off"); err != nil {
		return err
	}

	absence, err := h.createFromPreset(ctx, factory.AbsenceDeductionJSON("Unexcused absence", "100"))
	if err != nil {
		return err
	}
	for _, amount := range []string{"120", "150"} {
		content := absence.Content.Clone()
		content.Actions[0].Value = decimal.RequireFromString(amount)
		absence, err = h.Versions.EditPolicy(ctx, absence.ID, demoAdmin, content, "Raised deduction to "+amount)
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadMonthlyImpactScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}
	pols, err := h.seedActivePolicies(ctx)
	if err != nil {
		return err
	}

	period := policy.PeriodOf(h.now())
	at := func(hours int) time.Time { return period.Start().Add(time.Duration(hours) * time.Hour) }

	executions := []policy.Execution{
		{PolicyID: pols.late.ID, EmployeeID: "emp-001", ActionType: policy.ActionDeduction,
			ActionValue: decimal.NewFromInt(50), Reason: "3 late arrivals (week 1)", ExecutedAt: at(9), IsSuccess: true},
		{PolicyID: pols.late.ID, EmployeeID: "emp-001", ActionType: policy.ActionDeduction,
			ActionValue: decimal.NewFromInt(50), Reason: "3 late arrivals (week 2)", ExecutedAt: at(10), IsSuccess: true},
		{PolicyID: pols.kpi.ID, EmployeeID: "emp-002", ActionType: policy.ActionBonus,
			ActionValue: decimal.NewFromInt(750), Reason: "KPI score 94", ExecutedAt: at(11), IsSuccess: true},
		{PolicyID: pols.perfect.ID, EmployeeID: "emp-003", ActionType: policy.ActionBonus,
			ActionValue: decimal.NewFromInt(25), ExecutedAt: at(12), IsSuccess: true},
		// Failed executions never reach payroll.
		{PolicyID: pols.late.ID, EmployeeID: "emp-004", ActionType: policy.ActionDeduction,
			ActionValue: decimal.NewFromInt(50), Reason: "Attendance feed timeout", ExecutedAt: at(13), IsSuccess: false},
	}
	for _, e := range executions {
		if _, err := h.Payroll.RecordExecution(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadPayrollAppliedScenario(ctx context.Context) error {
	if err := h.loadMonthlyImpactScenario(ctx); err != nil {
		return err
	}
	_, err := h.Payroll.ApplyToPayrollRecord(ctx, DemoPayrollRun, "emp-001", DemoOrg, policy.PeriodOf(h.now()))
	return err
}
