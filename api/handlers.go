/*
handlers.go - HTTP API handlers for the policy engine

PURPOSE:
  Exposes policy versioning, the approval workflow and payroll impact via
  REST API. Handles HTTP request/response, JSON serialization, and delegates
  to the service packages.

ENDPOINTS:
  Policies:
    GET    /api/policies                         List policies (?org_id, ?status)
    POST   /api/policies                         Create a DRAFT policy
    GET    /api/policies/{id}                    Get policy
    PUT    /api/policies/{id}                    Edit (snapshots the old content)

  Versions:
    GET    /api/policies/{id}/versions           Paginated history (?page, ?limit)
    POST   /api/policies/{id}/versions           Snapshot current content
    GET    /api/policies/{id}/versions/compare   Compare ?v1 and ?v2
    POST   /api/policies/{id}/versions/prune     Keep the newest N versions
    GET    /api/policies/{id}/versions/{version} Get one version
    POST   /api/policies/{id}/versions/{version}/revert

  Approval:
    POST   /api/policies/{id}/submit
    POST   /api/policies/{id}/approve
    POST   /api/policies/{id}/reject
    POST   /api/policies/{id}/request-changes
    POST   /api/policies/{id}/pause
    GET    /api/policies/{id}/approvals          Approval history
    GET    /api/approvals/queue                  Pending requests (?org_id)

  Payroll:
    POST   /api/executions                       Record a policy execution
    GET    /api/payroll/impact                   Impact report (?org_id, ?month, ?year)
    POST   /api/payroll/runs/{runID}/employees/{employeeID}/apply
    GET    /api/payroll/runs/{runID}/adjustments
    POST   /api/payroll/runs/{runID}/sync

  Directory:
    POST   /api/employees, GET /api/employees/{id}
    POST   /api/identities, GET /api/identities/{id}

ACTING USER:
  Mutating endpoints take the acting user from the request body
  (author_id, approver_id, ...). When the body leaves it empty the
  X-User-ID header is used instead.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Approver lacks authority for the required level
  - 404: Policy, version or pending approval request not found
  - 409: Operation not allowed in the current status, concurrent update
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The acting user is trusted as sent; authority checks
  only decide what that user may approve.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/policy-engine/approval"
	"github.com/warp/policy-engine/payroll"
	"github.com/warp/policy-engine/policy"
	"github.com/warp/policy-engine/versioning"
)

// UserHeader carries the acting user when a request body does not name one.
const UserHeader = "X-User-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     policy.Repository
	Versions  *versioning.Service
	Approvals *approval.Workflow
	Payroll   *payroll.Service
	Logger    *slog.Logger
	Now       func() time.Time

	// EnableScenarios mounts the demo scenario routes, which reset the store.
	EnableScenarios bool

	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over already configured services.
func NewHandler(store policy.Repository, versions *versioning.Service, approvals *approval.Workflow, payrollSvc *payroll.Service) *Handler {
	return &Handler{
		Store:     store,
		Versions:  versions,
		Approvals: approvals,
		Payroll:   payrollSvc,
		Logger:    slog.Default(),
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns policies, optionally filtered by org and status.
// GET /api/policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := policy.Status(strings.ToUpper(q.Get("status")))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
		return
	}

	policies, err := h.Versions.ListPolicies(r.Context(), policy.OrgID(q.Get("org_id")), status)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy creates a policy in DRAFT.
// POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	content := policy.Content{
		Description: req.Description,
		Conditions:  req.Conditions,
		Actions:     toActions(req.Actions),
	}
	p, err := h.Versions.CreatePolicy(r.Context(), policy.OrgID(req.OrgID), actor(r, req.AuthorID), req.Name, content)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(*p))
}

// GetPolicy returns a single policy.
// GET /api/policies/{id}
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Versions.GetPolicy(r.Context(), policyID(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// UpdatePolicy replaces the policy content after snapshotting the old one.
// PUT /api/policies/{id}
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req UpdatePolicyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	content := policy.Content{
		Description: req.Description,
		Conditions:  req.Conditions,
		Actions:     toActions(req.Actions),
	}
	p, err := h.Versions.EditPolicy(r.Context(), policyID(r), actor(r, req.AuthorID), content, req.ChangeReason)
	if err != nil {
		h.writeServiceError(w, r, "Failed to update policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// =============================================================================
// VERSION HANDLERS
// =============================================================================

// ListVersions returns one page of version history, newest first.
// GET /api/policies/{id}/versions?page=1&limit=20
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page", err)
		return
	}
	limit, err := queryInt(r, "limit", versioning.DefaultHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	history, err := h.Versions.GetVersionHistory(r.Context(), policyID(r), page, limit)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get version history", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTO(history))
}

// CreateVersion snapshots the current content without changing it.
// POST /api/policies/{id}/versions
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	var req CreateVersionRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	v, err := h.Versions.CreateVersion(r.Context(), policyID(r), actor(r, req.AuthorID), req.ChangeReason)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create version", err)
		return
	}
	writeJSON(w, http.StatusCreated, toVersionDTO(*v))
}

// GetVersion returns one snapshot.
// GET /api/policies/{id}/versions/{version}
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	number, ok := versionParam(w, r)
	if !ok {
		return
	}

	v, err := h.Versions.GetVersion(r.Context(), policyID(r), number)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get version", err)
		return
	}
	writeJSON(w, http.StatusOK, toVersionDTO(*v))
}

// RevertToVersion restores an older snapshot as the current content.
// POST /api/policies/{id}/versions/{version}/revert
func (h *Handler) RevertToVersion(w http.ResponseWriter, r *http.Request) {
	number, ok := versionParam(w, r)
	if !ok {
		return
	}
	var req RevertRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	p, err := h.Versions.RevertToVersion(r.Context(), policyID(r), number, actor(r, req.ActorID))
	if err != nil {
		h.writeServiceError(w, r, "Failed to revert policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// CompareVersions reports which parts differ between two versions.
// GET /api/policies/{id}/versions/compare?v1=1&v2=3
func (h *Handler) CompareVersions(w http.ResponseWriter, r *http.Request) {
	v1, err1 := strconv.Atoi(r.URL.Query().Get("v1"))
	v2, err2 := strconv.Atoi(r.URL.Query().Get("v2"))
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, "v1 and v2 must be version numbers", err)
		return
	}

	cmp, err := h.Versions.CompareVersions(r.Context(), policyID(r), v1, v2)
	if err != nil {
		h.writeServiceError(w, r, "Failed to compare versions", err)
		return
	}
	writeJSON(w, http.StatusOK, toComparisonDTO(cmp))
}

// PruneVersions deletes all but the newest keep versions.
// POST /api/policies/{id}/versions/prune
func (h *Handler) PruneVersions(w http.ResponseWriter, r *http.Request) {
	var req PruneRequest
	if !decodeBody(w, r, &req) {
		return
	}

	deleted, err := h.Versions.PruneOldVersions(r.Context(), policyID(r), req.Keep)
	if err != nil {
		h.writeServiceError(w, r, "Failed to prune versions", err)
		return
	}
	writeJSON(w, http.StatusOK, PruneResponse{Deleted: deleted})
}

// =============================================================================
// APPROVAL HANDLERS
// =============================================================================

// SubmitForApproval moves a DRAFT or PAUSED policy to PENDING.
// POST /api/policies/{id}/submit
func (h *Handler) SubmitForApproval(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	request, err := h.Approvals.SubmitForApproval(r.Context(), policyID(r), actor(r, req.SubmitterID), req.Notes)
	if err != nil {
		h.writeServiceError(w, r, "Failed to submit policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toApprovalRequestDTO(*request))
}

// ApprovePolicy approves the pending request.
// POST /api/policies/{id}/approve
func (h *Handler) ApprovePolicy(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	p, err := h.Approvals.Approve(r.Context(), policyID(r), actor(r, req.ApproverID), approval.ApproveOptions{
		Notes:       req.Notes,
		ActivateNow: req.ActivateNow,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to approve policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// RejectPolicy rejects the pending request and returns the policy to DRAFT.
// POST /api/policies/{id}/reject
func (h *Handler) RejectPolicy(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.Approvals.Reject(r.Context(), policyID(r), actor(r, req.RejecterID), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "Failed to reject policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// RequestChanges sends the policy back to DRAFT with reviewer notes.
// POST /api/policies/{id}/request-changes
func (h *Handler) RequestChanges(w http.ResponseWriter, r *http.Request) {
	var req RequestChangesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.Approvals.RequestChanges(r.Context(), policyID(r), actor(r, req.ReviewerID), req.RequestedChanges)
	if err != nil {
		h.writeServiceError(w, r, "Failed to request changes", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// PausePolicy takes an ACTIVE policy out of service.
// POST /api/policies/{id}/pause
func (h *Handler) PausePolicy(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	p, err := h.Approvals.Pause(r.Context(), policyID(r), actor(r, req.ActorID))
	if err != nil {
		h.writeServiceError(w, r, "Failed to pause policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// GetApprovalHistory lists every approval request of a policy.
// GET /api/policies/{id}/approvals
func (h *Handler) GetApprovalHistory(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Approvals.GetApprovalHistory(r.Context(), policyID(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get approval history", err)
		return
	}

	dtos := make([]ApprovalRequestDTO, len(requests))
	for i, req := range requests {
		dtos[i] = toApprovalRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetApprovalQueue lists pending requests of an org, oldest first.
// GET /api/approvals/queue?org_id=...
func (h *Handler) GetApprovalQueue(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org_id")
	if org == "" {
		writeError(w, http.StatusBadRequest, "org_id is required", nil)
		return
	}

	items, err := h.Approvals.GetApprovalQueue(r.Context(), policy.OrgID(org))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get approval queue", err)
		return
	}

	dtos := make([]QueueItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toQueueItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// RecordExecution stores one execution reported by the trigger engine.
// POST /api/executions
func (h *Handler) RecordExecution(w http.ResponseWriter, r *http.Request) {
	var req ExecutionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	exec := policy.Execution{
		ID:          policy.ExecutionID(req.ID),
		PolicyID:    policy.PolicyID(req.PolicyID),
		EmployeeID:  policy.EmployeeID(req.EmployeeID),
		ActionType:  policy.ActionKind(req.ActionType),
		ActionValue: req.ActionValue,
		Reason:      req.Reason,
		IsSuccess:   true,
		Result:      policy.ExecutionResult{Payload: req.Payload},
	}
	if req.ExecutedAt != nil {
		exec.ExecutedAt = *req.ExecutedAt
	}
	if req.IsSuccess != nil {
		exec.IsSuccess = *req.IsSuccess
	}

	saved, err := h.Payroll.RecordExecution(r.Context(), exec)
	if err != nil {
		h.writeServiceError(w, r, "Failed to record execution", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExecutionDTO(*saved))
}

// GetPayrollImpact computes the impact report for one month.
// GET /api/payroll/impact?org_id=...&month=3&year=2025
func (h *Handler) GetPayrollImpact(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	org := q.Get("org_id")
	if org == "" {
		writeError(w, http.StatusBadRequest, "org_id is required", nil)
		return
	}
	month, err1 := strconv.Atoi(q.Get("month"))
	year, err2 := strconv.Atoi(q.Get("year"))
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, "month and year are required", err)
		return
	}
	period, err := policy.NewPeriod(month, year)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	report, err := h.Payroll.CalculateImpact(r.Context(), policy.OrgID(org), period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to calculate payroll impact", err)
		return
	}
	writeJSON(w, http.StatusOK, toImpactReportDTO(report))
}

// ApplyToPayrollRecord materializes one employee's adjustments on a run.
// POST /api/payroll/runs/{runID}/employees/{employeeID}/apply
func (h *Handler) ApplyToPayrollRecord(w http.ResponseWriter, r *http.Request) {
	var req PeriodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	period, err := policy.NewPeriod(req.Month, req.Year)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	res, err := h.Payroll.ApplyToPayrollRecord(r.Context(),
		policy.PayrollRunID(chi.URLParam(r, "runID")),
		policy.EmployeeID(chi.URLParam(r, "employeeID")),
		policy.OrgID(req.OrgID), period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to apply payroll adjustments", err)
		return
	}
	writeJSON(w, http.StatusOK, toApplyResultDTO(*res))
}

// GetAdjustmentsForPayroll lists the adjustments of a run split by type.
// GET /api/payroll/runs/{runID}/adjustments
func (h *Handler) GetAdjustmentsForPayroll(w http.ResponseWriter, r *http.Request) {
	adj, err := h.Payroll.GetAdjustmentsForPayroll(r.Context(), policy.PayrollRunID(chi.URLParam(r, "runID")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get payroll adjustments", err)
		return
	}
	writeJSON(w, http.StatusOK, RunAdjustmentsDTO{
		PayrollRunID:    string(adj.PayrollRunID),
		Deductions:      toAdjustmentDTOs(adj.Deductions),
		Bonuses:         toAdjustmentDTOs(adj.Bonuses),
		TotalDeductions: adj.TotalDeductions,
		TotalBonuses:    adj.TotalBonuses,
		Net:             adj.Net,
	})
}

// SyncPayroll applies adjustments for every active employee of the org.
// Per-employee failures are reported in the body with status 200.
// POST /api/payroll/runs/{runID}/sync
func (h *Handler) SyncPayroll(w http.ResponseWriter, r *http.Request) {
	var req PeriodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	period, err := policy.NewPeriod(req.Month, req.Year)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	res, err := h.Payroll.SyncPoliciesWithPayroll(r.Context(),
		policy.PayrollRunID(chi.URLParam(r, "runID")), policy.OrgID(req.OrgID), period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to sync payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncResultDTO(res))
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// SaveEmployee creates or replaces a directory employee.
// POST /api/employees
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeDTO
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" || req.OrgID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id, org_id and name are required", nil)
		return
	}

	if err := h.Store.SaveEmployee(r.Context(), req.toDomain()); err != nil {
		h.writeServiceError(w, r, "Failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// GetEmployee returns one directory employee.
// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), policy.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// SaveIdentity creates or replaces a user's role and job title.
// POST /api/identities
func (h *Handler) SaveIdentity(w http.ResponseWriter, r *http.Request) {
	var req IdentityDTO
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	ident := policy.Identity{
		UserID:   policy.UserID(req.UserID),
		OrgID:    policy.OrgID(req.OrgID),
		Name:     req.Name,
		Role:     req.Role,
		JobTitle: req.JobTitle,
	}
	if err := h.Store.SaveIdentity(r.Context(), ident); err != nil {
		h.writeServiceError(w, r, "Failed to save identity", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// GetIdentity returns one user's identity record.
// GET /api/identities/{id}
func (h *Handler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	ident, err := h.Store.GetIdentity(r.Context(), policy.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get identity", err)
		return
	}
	writeJSON(w, http.StatusOK, IdentityDTO{
		UserID:   string(ident.UserID),
		OrgID:    string(ident.OrgID),
		Name:     ident.Name,
		Role:     ident.Role,
		JobTitle: ident.JobTitle,
	})
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   h.now().Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps service error kinds onto HTTP status codes. Anything that
// is neither a client error nor retryable is a 500.
func statusFor(err error) int {
	switch {
	case policy.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, policy.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, policy.ErrInvalidArgument):
		return http.StatusBadRequest
	case policy.IsClientError(err), policy.IsRetryable(err):
		// InvalidState, or a lost race the caller may retry
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if !policy.IsClientError(err) && !policy.IsRetryable(err) {
		h.logger().ErrorContext(r.Context(), message, "path", r.URL.Path, "error", err)
		// Internal details stay in the log.
		writeError(w, status, message, nil)
		return
	}
	writeError(w, status, message, err)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body and leaves dst zero-valued.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func actor(r *http.Request, fromBody string) policy.UserID {
	if fromBody != "" {
		return policy.UserID(fromBody)
	}
	return policy.UserID(r.Header.Get(UserHeader))
}

func policyID(r *http.Request) policy.PolicyID {
	return policy.PolicyID(chi.URLParam(r, "id"))
}

func versionParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "Invalid version number", err)
		return 0, false
	}
	return n, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
