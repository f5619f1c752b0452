/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal.Decimal and serialize as JSON strings ("110.50") so
  clients never round-trip money through float64.

TYPES:
  Policy:     PolicyDTO, CreatePolicyRequest, UpdatePolicyRequest
  Versions:   VersionDTO, VersionHistoryDTO, ComparisonDTO, RevertRequest, PruneRequest
  Approval:   SubmitRequest, ApproveRequest, RejectRequest, RequestChangesRequest,
              ApprovalRequestDTO, QueueItemDTO
  Payroll:    ExecutionRequest, ImpactReportDTO, PeriodRequest, ApplyResultDTO,
              RunAdjustmentsDTO, SyncResultDTO
  Directory:  EmployeeDTO, IdentityDTO

VALIDATION:
  Validation is done by the services, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/policy-engine/approval"
	"github.com/warp/policy-engine/payroll"
	"github.com/warp/policy-engine/policy"
	"github.com/warp/policy-engine/versioning"
)

// =============================================================================
// POLICIES
// =============================================================================

type ActionDTO struct {
	Kind   string          `json:"kind"`
	Value  decimal.Decimal `json:"value"`
	Reason string          `json:"reason,omitempty"`
}

type PolicyDTO struct {
	ID             string            `json:"id"`
	OrgID          string            `json:"org_id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Conditions     policy.Conditions `json:"conditions"`
	Category       string            `json:"category"`
	Actions        []ActionDTO       `json:"actions"`
	Status         string            `json:"status"`
	Enabled        bool              `json:"enabled"`
	CurrentVersion int               `json:"current_version"`
	ApprovedBy     string            `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time        `json:"approved_at,omitempty"`
	CreatedBy      string            `json:"created_by,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type CreatePolicyRequest struct {
	OrgID       string            `json:"org_id"`
	Name        string            `json:"name"`
	AuthorID    string            `json:"author_id"`
	Description string            `json:"description"`
	Conditions  policy.Conditions `json:"conditions"`
	Actions     []ActionDTO       `json:"actions"`
}

type UpdatePolicyRequest struct {
	AuthorID     string            `json:"author_id"`
	Description  string            `json:"description"`
	Conditions   policy.Conditions `json:"conditions"`
	Actions      []ActionDTO       `json:"actions"`
	ChangeReason string            `json:"change_reason"`
}

func toActions(in []ActionDTO) []policy.Action {
	out := make([]policy.Action, len(in))
	for i, a := range in {
		out[i] = policy.Action{Kind: policy.ActionKind(a.Kind), Value: a.Value, Reason: a.Reason}
	}
	return out
}

func toActionDTOs(in []policy.Action) []ActionDTO {
	out := make([]ActionDTO, len(in))
	for i, a := range in {
		out[i] = ActionDTO{Kind: string(a.Kind), Value: a.Value, Reason: a.Reason}
	}
	return out
}

func toPolicyDTO(p policy.Policy) PolicyDTO {
	return PolicyDTO{
		ID:             string(p.ID),
		OrgID:          string(p.OrgID),
		Name:           p.Name,
		Description:    p.Content.Description,
		Conditions:     p.Content.Conditions,
		Category:       string(p.Content.Conditions.Category()),
		Actions:        toActionDTOs(p.Content.Actions),
		Status:         string(p.Status),
		Enabled:        p.Enabled,
		CurrentVersion: p.CurrentVersion,
		ApprovedBy:     string(p.ApprovedBy),
		ApprovedAt:     p.ApprovedAt,
		CreatedBy:      string(p.CreatedBy),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// =============================================================================
// VERSIONS
// =============================================================================

type VersionDTO struct {
	ID           string            `json:"id"`
	PolicyID     string            `json:"policy_id"`
	Version      int               `json:"version"`
	Description  string            `json:"description"`
	Conditions   policy.Conditions `json:"conditions"`
	Actions      []ActionDTO       `json:"actions"`
	ChangeReason string            `json:"change_reason,omitempty"`
	AuthorID     string            `json:"author_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func toVersionDTO(v policy.Version) VersionDTO {
	return VersionDTO{
		ID:           v.ID,
		PolicyID:     string(v.PolicyID),
		Version:      v.Version,
		Description:  v.Content.Description,
		Conditions:   v.Content.Conditions,
		Actions:      toActionDTOs(v.Content.Actions),
		ChangeReason: v.ChangeReason,
		AuthorID:     string(v.AuthorID),
		CreatedAt:    v.CreatedAt,
	}
}

type VersionHistoryDTO struct {
	Versions   []VersionDTO `json:"versions"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	TotalPages int          `json:"total_pages"`
}

func toHistoryDTO(h *versioning.HistoryPage) VersionHistoryDTO {
	out := VersionHistoryDTO{
		Versions:   make([]VersionDTO, len(h.Versions)),
		Total:      h.Total,
		Page:       h.Page,
		Limit:      h.Limit,
		TotalPages: h.TotalPages,
	}
	for i, v := range h.Versions {
		out.Versions[i] = toVersionDTO(v)
	}
	return out
}

type CreateVersionRequest struct {
	AuthorID     string `json:"author_id"`
	ChangeReason string `json:"change_reason"`
}

type ComparisonDTO struct {
	PolicyID          string     `json:"policy_id"`
	From              VersionDTO `json:"from"`
	To                VersionDTO `json:"to"`
	TextChanged       bool       `json:"text_changed"`
	ConditionsChanged bool       `json:"conditions_changed"`
	ActionsChanged    bool       `json:"actions_changed"`
}

func toComparisonDTO(c *versioning.Comparison) ComparisonDTO {
	return ComparisonDTO{
		PolicyID:          string(c.PolicyID),
		From:              toVersionDTO(c.From),
		To:                toVersionDTO(c.To),
		TextChanged:       c.Diff.TextChanged,
		ConditionsChanged: c.Diff.ConditionsChanged,
		ActionsChanged:    c.Diff.ActionsChanged,
	}
}

type RevertRequest struct {
	ActorID string `json:"actor_id"`
}

type PruneRequest struct {
	Keep int `json:"keep"`
}

type PruneResponse struct {
	Deleted int `json:"deleted"`
}

// =============================================================================
// APPROVAL
// =============================================================================

type SubmitRequest struct {
	SubmitterID string `json:"submitter_id"`
	Notes       string `json:"notes"`
}

type ApproveRequest struct {
	ApproverID  string `json:"approver_id"`
	Notes       string `json:"notes"`
	ActivateNow bool   `json:"activate_now"`
}

type RejectRequest struct {
	RejecterID string `json:"rejecter_id"`
	Reason     string `json:"reason"`
}

type RequestChangesRequest struct {
	ReviewerID       string `json:"reviewer_id"`
	RequestedChanges string `json:"requested_changes"`
}

type PauseRequest struct {
	ActorID string `json:"actor_id"`
}

type ApprovalRequestDTO struct {
	ID               string     `json:"id"`
	PolicyID         string     `json:"policy_id"`
	SubmittedBy      string     `json:"submitted_by"`
	SubmittedAt      time.Time  `json:"submitted_at"`
	RequiredLevel    string     `json:"required_level"`
	Action           string     `json:"action"`
	ActedBy          string     `json:"acted_by,omitempty"`
	ActedAt          *time.Time `json:"acted_at,omitempty"`
	RejectionReason  string     `json:"rejection_reason,omitempty"`
	RequestedChanges string     `json:"requested_changes,omitempty"`
	Notes            string     `json:"notes,omitempty"`
}

func toApprovalRequestDTO(r policy.ApprovalRequest) ApprovalRequestDTO {
	return ApprovalRequestDTO{
		ID:               r.ID,
		PolicyID:         string(r.PolicyID),
		SubmittedBy:      string(r.SubmittedBy),
		SubmittedAt:      r.SubmittedAt,
		RequiredLevel:    string(r.RequiredLevel),
		Action:           string(r.Action),
		ActedBy:          string(r.ActedBy),
		ActedAt:          r.ActedAt,
		RejectionReason:  r.RejectionReason,
		RequestedChanges: r.RequestedChanges,
		Notes:            r.Notes,
	}
}

type QueueItemDTO struct {
	Policy        PolicyDTO `json:"policy"`
	RequestID     string    `json:"request_id"`
	SubmittedBy   string    `json:"submitted_by"`
	SubmittedAt   time.Time `json:"submitted_at"`
	RequiredLevel string    `json:"required_level"`
}

func toQueueItemDTO(q approval.QueueItem) QueueItemDTO {
	return QueueItemDTO{
		Policy:        toPolicyDTO(q.Policy),
		RequestID:     q.Request.ID,
		SubmittedBy:   string(q.Request.SubmittedBy),
		SubmittedAt:   q.Request.SubmittedAt,
		RequiredLevel: string(q.Request.RequiredLevel),
	}
}

// =============================================================================
// EXECUTIONS
// =============================================================================

type ExecutionRequest struct {
	ID          string          `json:"id"`
	PolicyID    string          `json:"policy_id"`
	EmployeeID  string          `json:"employee_id"`
	ActionType  string          `json:"action_type"`
	ActionValue decimal.Decimal `json:"action_value"`
	Reason      string          `json:"reason"`
	ExecutedAt  *time.Time      `json:"executed_at"`
	IsSuccess   *bool           `json:"is_success"`
	Payload     map[string]any  `json:"payload"`
}

type ExecutionDTO struct {
	ID               string          `json:"id"`
	PolicyID         string          `json:"policy_id"`
	OrgID            string          `json:"org_id"`
	EmployeeID       string          `json:"employee_id"`
	ActionType       string          `json:"action_type"`
	ActionValue      decimal.Decimal `json:"action_value"`
	Reason           string          `json:"reason,omitempty"`
	ExecutedAt       time.Time       `json:"executed_at"`
	IsSuccess        bool            `json:"is_success"`
	AppliedToPayroll bool            `json:"applied_to_payroll"`
	PayrollRunID     string          `json:"payroll_run_id,omitempty"`
}

func toExecutionDTO(e policy.Execution) ExecutionDTO {
	return ExecutionDTO{
		ID:               string(e.ID),
		PolicyID:         string(e.PolicyID),
		OrgID:            string(e.OrgID),
		EmployeeID:       string(e.EmployeeID),
		ActionType:       string(e.ActionType),
		ActionValue:      e.ActionValue,
		Reason:           e.Reason,
		ExecutedAt:       e.ExecutedAt,
		IsSuccess:        e.IsSuccess,
		AppliedToPayroll: e.Result.AppliedToPayroll,
		PayrollRunID:     string(e.Result.PayrollRunID),
	}
}

// =============================================================================
// PAYROLL
// =============================================================================

// PeriodRequest identifies the organization and month for apply and sync.
type PeriodRequest struct {
	OrgID string `json:"org_id"`
	Month int    `json:"month"`
	Year  int    `json:"year"`
}

type ImpactItemDTO struct {
	ExecutionID string          `json:"execution_id"`
	PolicyID    string          `json:"policy_id"`
	PolicyName  string          `json:"policy_name"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason,omitempty"`
	Category    string          `json:"category"`
	ExecutedAt  time.Time       `json:"executed_at"`
	Applied     bool            `json:"applied"`
}

type EmployeeImpactDTO struct {
	EmployeeID            string          `json:"employee_id"`
	EmployeeName          string          `json:"employee_name"`
	DepartmentID          string          `json:"department_id,omitempty"`
	DepartmentName        string          `json:"department_name"`
	BaselineSalary        decimal.Decimal `json:"baseline_salary"`
	PolicyDeductions      []ImpactItemDTO `json:"policy_deductions"`
	PolicyBonuses         []ImpactItemDTO `json:"policy_bonuses"`
	TotalPolicyDeductions decimal.Decimal `json:"total_policy_deductions"`
	TotalPolicyBonuses    decimal.Decimal `json:"total_policy_bonuses"`
	NetPolicyImpact       decimal.Decimal `json:"net_policy_impact"`
	FinalTotalSalary      decimal.Decimal `json:"final_total_salary"`
}

type PolicyRollupDTO struct {
	PolicyID          string          `json:"policy_id"`
	PolicyName        string          `json:"policy_name"`
	Category          string          `json:"category"`
	TotalDeductions   decimal.Decimal `json:"total_deductions"`
	TotalBonuses      decimal.Decimal `json:"total_bonuses"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Executions        int             `json:"executions"`
	AffectedEmployees int             `json:"affected_employees"`
}

type DepartmentRollupDTO struct {
	DepartmentID      string          `json:"department_id,omitempty"`
	DepartmentName    string          `json:"department_name"`
	TotalDeductions   decimal.Decimal `json:"total_deductions"`
	TotalBonuses      decimal.Decimal `json:"total_bonuses"`
	AffectedEmployees int             `json:"affected_employees"`
}

type ImpactSummaryDTO struct {
	TotalEmployees    int                   `json:"total_employees"`
	AffectedEmployees int                   `json:"affected_employees"`
	TotalBaseline     decimal.Decimal       `json:"total_baseline"`
	TotalDeductions   decimal.Decimal       `json:"total_deductions"`
	TotalBonuses      decimal.Decimal       `json:"total_bonuses"`
	NetImpact         decimal.Decimal       `json:"net_impact"`
	TotalFinalSalary  decimal.Decimal       `json:"total_final_salary"`
	ByPolicy          []PolicyRollupDTO     `json:"by_policy"`
	ByDepartment      []DepartmentRollupDTO `json:"by_department"`
}

type ImpactReportDTO struct {
	OrgID     string              `json:"org_id"`
	Period    string              `json:"period"`
	Employees []EmployeeImpactDTO `json:"employees"`
	Summary   ImpactSummaryDTO    `json:"summary"`
}

func toImpactItemDTOs(items []payroll.ImpactItem) []ImpactItemDTO {
	out := make([]ImpactItemDTO, len(items))
	for i, it := range items {
		out[i] = ImpactItemDTO{
			ExecutionID: string(it.ExecutionID),
			PolicyID:    string(it.PolicyID),
			PolicyName:  it.PolicyName,
			Amount:      it.Amount,
			Reason:      it.Reason,
			Category:    string(it.Category),
			ExecutedAt:  it.ExecutedAt,
			Applied:     it.Applied,
		}
	}
	return out
}

func toImpactReportDTO(r *payroll.ImpactReport) ImpactReportDTO {
	out := ImpactReportDTO{
		OrgID:     string(r.OrgID),
		Period:    r.Period.String(),
		Employees: make([]EmployeeImpactDTO, len(r.Employees)),
		Summary: ImpactSummaryDTO{
			TotalEmployees:    r.Summary.TotalEmployees,
			AffectedEmployees: r.Summary.AffectedEmployees,
			TotalBaseline:     r.Summary.TotalBaseline,
			TotalDeductions:   r.Summary.TotalDeductions,
			TotalBonuses:      r.Summary.TotalBonuses,
			NetImpact:         r.Summary.NetImpact,
			TotalFinalSalary:  r.Summary.TotalFinalSalary,
			ByPolicy:          make([]PolicyRollupDTO, len(r.Summary.ByPolicy)),
			ByDepartment:      make([]DepartmentRollupDTO, len(r.Summary.ByDepartment)),
		},
	}
	for i, e := range r.Employees {
		out.Employees[i] = EmployeeImpactDTO{
			EmployeeID:            string(e.EmployeeID),
			EmployeeName:          e.EmployeeName,
			DepartmentID:          e.DepartmentID,
			DepartmentName:        e.DepartmentName,
			BaselineSalary:        e.BaselineSalary,
			PolicyDeductions:      toImpactItemDTOs(e.PolicyDeductions),
			PolicyBonuses:         toImpactItemDTOs(e.PolicyBonuses),
			TotalPolicyDeductions: e.TotalPolicyDeductions,
			TotalPolicyBonuses:    e.TotalPolicyBonuses,
			NetPolicyImpact:       e.NetPolicyImpact,
			FinalTotalSalary:      e.FinalTotalSalary,
		}
	}
	for i, p := range r.Summary.ByPolicy {
		out.Summary.ByPolicy[i] = PolicyRollupDTO{
			PolicyID:          string(p.PolicyID),
			PolicyName:        p.PolicyName,
			Category:          string(p.Category),
			TotalDeductions:   p.TotalDeductions,
			TotalBonuses:      p.TotalBonuses,
			TotalAmount:       p.TotalAmount,
			Executions:        p.Executions,
			AffectedEmployees: p.AffectedEmployees,
		}
	}
	for i, d := range r.Summary.ByDepartment {
		out.Summary.ByDepartment[i] = DepartmentRollupDTO{
			DepartmentID:      d.DepartmentID,
			DepartmentName:    d.DepartmentName,
			TotalDeductions:   d.TotalDeductions,
			TotalBonuses:      d.TotalBonuses,
			AffectedEmployees: d.AffectedEmployees,
		}
	}
	return out
}

type ApplyResultDTO struct {
	AdjustmentsCreated int             `json:"adjustments_created"`
	TotalDeductions    decimal.Decimal `json:"total_deductions"`
	TotalBonuses       decimal.Decimal `json:"total_bonuses"`
}

func toApplyResultDTO(r payroll.ApplyResult) ApplyResultDTO {
	return ApplyResultDTO{
		AdjustmentsCreated: r.AdjustmentsCreated,
		TotalDeductions:    r.TotalDeductions,
		TotalBonuses:       r.TotalBonuses,
	}
}

type AdjustmentDTO struct {
	ID           string          `json:"id"`
	PayrollRunID string          `json:"payroll_run_id"`
	EmployeeID   string          `json:"employee_id"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	PolicyID     string          `json:"policy_id,omitempty"`
	ExecutionID  string          `json:"execution_id"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toAdjustmentDTOs(in []policy.PayrollAdjustment) []AdjustmentDTO {
	out := make([]AdjustmentDTO, len(in))
	for i, a := range in {
		out[i] = AdjustmentDTO{
			ID:           a.ID,
			PayrollRunID: string(a.PayrollRunID),
			EmployeeID:   string(a.EmployeeID),
			Type:         string(a.Type),
			Amount:       a.Amount,
			Description:  a.Description,
			PolicyID:     string(a.PolicyID),
			ExecutionID:  string(a.ExecutionID),
			CreatedAt:    a.CreatedAt,
		}
	}
	return out
}

type RunAdjustmentsDTO struct {
	PayrollRunID    string          `json:"payroll_run_id"`
	Deductions      []AdjustmentDTO `json:"deductions"`
	Bonuses         []AdjustmentDTO `json:"bonuses"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	TotalBonuses    decimal.Decimal `json:"total_bonuses"`
	Net             decimal.Decimal `json:"net"`
}

type SyncEmployeeDTO struct {
	EmployeeID   string         `json:"employee_id"`
	EmployeeName string         `json:"employee_name"`
	Result       ApplyResultDTO `json:"result"`
}

type SyncErrorDTO struct {
	EmployeeID   string `json:"employee_id"`
	EmployeeName string `json:"employee_name"`
	Error        string `json:"error"`
}

type SyncResultDTO struct {
	PayrollRunID       string            `json:"payroll_run_id"`
	Success            bool              `json:"success"`
	EmployeesProcessed int               `json:"employees_processed"`
	TotalAdjustments   int               `json:"total_adjustments"`
	TotalDeductions    decimal.Decimal   `json:"total_deductions"`
	TotalBonuses       decimal.Decimal   `json:"total_bonuses"`
	Results            []SyncEmployeeDTO `json:"results"`
	Errors             []SyncErrorDTO    `json:"errors"`
}

func toSyncResultDTO(r *payroll.SyncResult) SyncResultDTO {
	out := SyncResultDTO{
		PayrollRunID:       string(r.PayrollRunID),
		Success:            r.Success,
		EmployeesProcessed: r.EmployeesProcessed,
		TotalAdjustments:   r.TotalAdjustments,
		TotalDeductions:    r.TotalDeductions,
		TotalBonuses:       r.TotalBonuses,
		Results:            make([]SyncEmployeeDTO, len(r.Results)),
		Errors:             make([]SyncErrorDTO, len(r.Errors)),
	}
	for i, res := range r.Results {
		out.Results[i] = SyncEmployeeDTO{
			EmployeeID:   string(res.EmployeeID),
			EmployeeName: res.EmployeeName,
			Result:       toApplyResultDTO(res.Result),
		}
	}
	for i, e := range r.Errors {
		out.Errors[i] = SyncErrorDTO{EmployeeID: string(e.EmployeeID), EmployeeName: e.EmployeeName, Error: e.Error}
	}
	return out
}

// =============================================================================
// DIRECTORY
// =============================================================================

type ContractDTO struct {
	Active         bool            `json:"active"`
	BasicSalary    decimal.Decimal `json:"basic_salary"`
	Housing        decimal.Decimal `json:"housing"`
	Transport      decimal.Decimal `json:"transport"`
	OtherAllowance decimal.Decimal `json:"other_allowance"`
}

type EmployeeDTO struct {
	ID             string          `json:"id"`
	OrgID          string          `json:"org_id"`
	Name           string          `json:"name"`
	DepartmentID   string          `json:"department_id,omitempty"`
	DepartmentName string          `json:"department_name,omitempty"`
	Active         bool            `json:"active"`
	Salary         decimal.Decimal `json:"salary"`
	Contract       *ContractDTO    `json:"contract,omitempty"`
}

func (e EmployeeDTO) toDomain() policy.Employee {
	out := policy.Employee{
		ID:             policy.EmployeeID(e.ID),
		OrgID:          policy.OrgID(e.OrgID),
		Name:           e.Name,
		DepartmentID:   e.DepartmentID,
		DepartmentName: e.DepartmentName,
		Active:         e.Active,
		Salary:         e.Salary,
	}
	if e.Contract != nil {
		out.Contract = &policy.Contract{
			Active:         e.Contract.Active,
			BasicSalary:    e.Contract.BasicSalary,
			Housing:        e.Contract.Housing,
			Transport:      e.Contract.Transport,
			OtherAllowance: e.Contract.OtherAllowance,
		}
	}
	return out
}

func toEmployeeDTO(e policy.Employee) EmployeeDTO {
	out := EmployeeDTO{
		ID:             string(e.ID),
		OrgID:          string(e.OrgID),
		Name:           e.Name,
		DepartmentID:   e.DepartmentID,
		DepartmentName: e.DepartmentName,
		Active:         e.Active,
		Salary:         e.Salary,
	}
	if e.Contract != nil {
		out.Contract = &ContractDTO{
			Active:         e.Contract.Active,
			BasicSalary:    e.Contract.BasicSalary,
			Housing:        e.Contract.Housing,
			Transport:      e.Contract.Transport,
			OtherAllowance: e.Contract.OtherAllowance,
		}
	}
	return out
}

type IdentityDTO struct {
	UserID   string `json:"user_id"`
	OrgID    string `json:"org_id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	JobTitle string `json:"job_title"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is returned for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
