/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Policy lifecycle over HTTP (create, edit, submit, approve)
- Version history, compare, revert and prune endpoints
- Error kind to status code mapping
- Payroll impact, apply, adjustments and sync endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-engine/approval"
	"github.com/warp/policy-engine/payroll"
	"github.com/warp/policy-engine/policy"
	"github.com/warp/policy-engine/store/sqlite"
	"github.com/warp/policy-engine/versioning"
)

var testNow = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

func setupTestServer(t *testing.T) (*Handler, http.Handler) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	authority, err := approval.NewAuthority(approval.DefaultRoles())
	require.NoError(t, err)

	h := NewHandler(store,
		versioning.NewService(store),
		approval.NewWorkflow(store, authority),
		payroll.NewService(store))
	h.Now = func() time.Time { return testNow }
	h.EnableScenarios = true
	return h, NewRouter(h)
}

// do sends a JSON request and decodes the response into out when non-nil.
func do(t *testing.T, srv http.Handler, method, path string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func seedIdentities(t *testing.T, srv http.Handler) {
	for _, ident := range []IdentityDTO{
		{UserID: "hr-1", OrgID: "org-1", Name: "Hana", Role: "HR Manager"},
		{UserID: "ceo-1", OrgID: "org-1", Name: "Cole", JobTitle: "CEO"},
		{UserID: "dev-1", OrgID: "org-1", Name: "Dev", Role: "employee"},
	} {
		require.Equal(t, http.StatusCreated, do(t, srv, "POST", "/api/identities", ident, nil))
	}
}

func createLatePolicy(t *testing.T, srv http.Handler, amount string) PolicyDTO {
	var created PolicyDTO
	code := do(t, srv, "POST", "/api/policies", CreatePolicyRequest{
		OrgID:       "org-1",
		Name:        "Late arrival",
		AuthorID:    "admin-1",
		Description: "Deduct after three late arrivals",
		Conditions:  policy.Conditions{Trigger: "late_arrival", Count: 3, Window: "month"},
		Actions:     []ActionDTO{{Kind: "penalty", Value: decimal.RequireFromString(amount)}},
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	return created
}

// =============================================================================
// POLICY LIFECYCLE
// =============================================================================

func TestPolicyLifecycle_OverHTTP(t *testing.T) {
	// GIVEN: A server with an HR approver
	_, srv := setupTestServer(t)
	seedIdentities(t, srv)

	// WHEN: Creating a policy
	p := createLatePolicy(t, srv, "50")

	// THEN: It starts as a DRAFT with its alias normalized and no versions
	assert.Equal(t, "DRAFT", p.Status)
	assert.Equal(t, "DEDUCTION", p.Actions[0].Kind)
	assert.Equal(t, "attendance", p.Category)
	assert.Equal(t, 0, p.CurrentVersion)

	// WHEN: Editing it
	var edited PolicyDTO
	code := do(t, srv, "PUT", "/api/policies/"+p.ID, UpdatePolicyRequest{
		AuthorID:     "admin-1",
		Description:  "Deduct 60 after three late arrivals",
		Conditions:   p.Conditions,
		Actions:      []ActionDTO{{Kind: "deduction", Value: decimal.NewFromInt(60)}},
		ChangeReason: "Raised amount",
	}, &edited)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, edited.CurrentVersion)

	// WHEN: Submitting and approving with immediate activation
	var request ApprovalRequestDTO
	require.Equal(t, http.StatusCreated, do(t, srv, "POST", "/api/policies/"+p.ID+"/submit",
		SubmitRequest{SubmitterID: "admin-1"}, &request))
	assert.Equal(t, "HR", request.RequiredLevel)

	// THEN: Pending content cannot be edited
	assert.Equal(t, http.StatusConflict, do(t, srv, "PUT", "/api/policies/"+p.ID, UpdatePolicyRequest{
		AuthorID:    "admin-1",
		Description: "Deduct 900",
		Conditions:  p.Conditions,
		Actions:     []ActionDTO{{Kind: "deduction", Value: decimal.NewFromInt(900)}},
	}, nil))

	var approved PolicyDTO
	require.Equal(t, http.StatusOK, do(t, srv, "POST", "/api/policies/"+p.ID+"/approve",
		ApproveRequest{ApproverID: "hr-1", ActivateNow: true}, &approved))

	// THEN: The policy is active and the history shows the approval
	assert.Equal(t, "ACTIVE", approved.Status)
	assert.True(t, approved.Enabled)
	assert.Equal(t, "hr-1", approved.ApprovedBy)

	var history []ApprovalRequestDTO
	require.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/policies/"+p.ID+"/approvals", nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "APPROVED", history[0].Action)

	var active []PolicyDTO
	require.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/policies?org_id=org-1&status=active", nil, &active))
	assert.Len(t, active, 1)
}

func TestActingUser_FromHeader(t *testing.T) {
	// GIVEN: A draft policy
	_, srv := setupTestServer(t)
	seedIdentities(t, srv)
	p := createLatePolicy(t, srv, "50")

	// WHEN: Submitting without a body, naming the user in the header
	req := httptest.NewRequest("POST", "/api/policies/"+p.ID+"/submit", nil)
	req.Header.Set(UserHeader, "admin-7")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	// THEN: The header user is recorded as submitter
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var request ApprovalRequestDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &request))
	assert.Equal(t, "admin-7", request.SubmittedBy)
}

func TestApprovalQueue_OverHTTP(t *testing.T) {
	_, srv := setupTestServer(t)
	first := createLatePolicy(t, srv, "50")
	second := createLatePolicy(t, srv, "900")

	require.Equal(t, http.StatusCreated, do(t, srv, "POST", "/api/policies/"+first.ID+"/submit", SubmitRequest{SubmitterID: "a"}, nil))
	require.Equal(t, http.StatusCreated, do(t, srv, "POST", "/api/policies/"+second.ID+"/submit", SubmitRequest{SubmitterID: "a"}, nil))

	var queue []QueueItemDTO
	require.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/approvals/queue?org_id=org-1", nil, &queue))
	require.Len(t, queue, 2)
	assert.Equal(t, "HR", queue[0].RequiredLevel)
	assert.Equal(t, "CEO", queue[1].RequiredLevel)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, "GET", "/api/approvals/queue", nil, nil))
}

// =============================================================================
// VERSIONS
// =============================================================================

func TestVersions_HistoryCompareRevertPrune(t *testing.T) {
	// GIVEN: A policy edited three times
	_, srv := setupTestServer(t)
	p := createLatePolicy(t, srv, "10")
	for _, amount := range []int64{20, 30, 40} {
		require.Equal(t, http.StatusOK, do(t, srv, "PUT", "/api/policies/"+p.ID, UpdatePolicyRequest{
			AuthorID:    "admin-1",
			Description: p.Description,
			Conditions:  p.Conditions,
			Actions:     []ActionDTO{{Kind: "deduction", Value: decimal.NewFromInt(amount)}},
		}, nil))
	}

	// WHEN: Listing the first page of two
	var page VersionHistoryDTO
	require.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/policies/"+p.ID+"/versions?page=1&limit=2", nil, &page))

	// THEN: Newest first, with paging totals
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Versions, 2)
	assert.Equal(t, 3, page.Versions[0].Version)

	// WHEN: Comparing version 1 and 3
	var cmp ComparisonDTO
	require.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/policies/"+p.ID+"/versions/compare?v1=1&v2=3", nil, &cmp))
	assert.True(t, cmp.ActionsChanged)
	assert.False(t, cmp.ConditionsChanged)

	// WHEN: Reverting to version 1
	var reverted PolicyDTO
	require.Equal(t, http.StatusOK, do(t, srv, "POST", "/api/policies/"+p.ID+"/versions/1/revert",
		RevertRequest{ActorID: "admin-1"}, &reverted))

	// THEN: Content matches version 1, the pre-revert content is v4 and the
	// restored content is the new v5
	assert.True(t, decimal.NewFromInt(10).Equal(reverted.Actions[0].Value))
	assert.Equal(t, 5, reverted.CurrentVersion)

	var v5 VersionDTO
	require.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/policies/"+p.ID+"/versions/5", nil, &v5))
	assert.True(t, decimal.NewFromInt(10).Equal(v5.Actions[0].Value))

	// WHEN: Pruning down to two versions
	var pruned PruneResponse
	require.Equal(t, http.StatusOK, do(t, srv, "POST", "/api/policies/"+p.ID+"/versions/prune", PruneRequest{Keep: 2}, &pruned))
	assert.Equal(t, 3, pruned.Deleted)

	// THEN: Pruned versions are gone
	assert.Equal(t, http.StatusNotFound, do(t, srv, "GET", "/api/policies/"+p.ID+"/versions/1", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, srv, "GET", "/api/policies/"+p.ID+"/versions/3", nil, nil))
	assert.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/policies/"+p.ID+"/versions/4", nil, nil))
}

func TestCreateVersion_EmptyBody(t *testing.T) {
	_, srv := setupTestServer(t)
	p := createLatePolicy(t, srv, "10")

	var v VersionDTO
	require.Equal(t, http.StatusCreated, do(t, srv, "POST", "/api/policies/"+p.ID+"/versions", nil, &v))
	assert.Equal(t, 1, v.Version)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorMapping(t *testing.T) {
	_, srv := setupTestServer(t)
	seedIdentities(t, srv)
	draft := createLatePolicy(t, srv, "50")
	big := createLatePolicy(t, srv, "5000")
	require.Equal(t, http.StatusCreated, do(t, srv, "POST", "/api/policies/"+big.ID+"/submit", SubmitRequest{SubmitterID: "a"}, nil))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown policy", "GET", "/api/policies/missing", nil, http.StatusNotFound},
		{"approve without pending request", "POST", "/api/policies/" + draft.ID + "/approve", ApproveRequest{ApproverID: "hr-1"}, http.StatusNotFound},
		{"submit pending policy", "POST", "/api/policies/" + big.ID + "/submit", SubmitRequest{SubmitterID: "a"}, http.StatusConflict},
		{"pause a draft", "POST", "/api/policies/" + draft.ID + "/pause", PauseRequest{ActorID: "a"}, http.StatusConflict},
		{"hr above threshold", "POST", "/api/policies/" + big.ID + "/approve", ApproveRequest{ApproverID: "hr-1"}, http.StatusForbidden},
		{"unknown approver", "POST", "/api/policies/" + big.ID + "/approve", ApproveRequest{ApproverID: "ghost"}, http.StatusForbidden},
		{"short rejection reason", "POST", "/api/policies/" + big.ID + "/reject", RejectRequest{RejecterID: "ceo-1", Reason: "no"}, http.StatusBadRequest},
		{"empty requested changes", "POST", "/api/policies/" + big.ID + "/request-changes", RequestChangesRequest{ReviewerID: "ceo-1"}, http.StatusBadRequest},
		{"bad status filter", "GET", "/api/policies?status=archived", nil, http.StatusBadRequest},
		{"bad compare params", "GET", "/api/policies/" + draft.ID + "/versions/compare?v1=x", nil, http.StatusBadRequest},
		{"bad version number", "GET", "/api/policies/" + draft.ID + "/versions/0", nil, http.StatusBadRequest},
		{"prune keep zero", "POST", "/api/policies/" + draft.ID + "/versions/prune", PruneRequest{Keep: 0}, http.StatusBadRequest},
		{"invalid content", "POST", "/api/policies", CreatePolicyRequest{OrgID: "org-1", Name: "x", Description: "d"}, http.StatusBadRequest},
		{"impact bad month", "GET", "/api/payroll/impact?org_id=org-1&month=13&year=2025", nil, http.StatusBadRequest},
		{"impact missing org", "GET", "/api/payroll/impact?month=3&year=2025", nil, http.StatusBadRequest},
		{"edit pending policy", "PUT", "/api/policies/" + big.ID, UpdatePolicyRequest{AuthorID: "a", Description: "d",
			Conditions: big.Conditions, Actions: []ActionDTO{{Kind: "deduction", Value: decimal.NewFromInt(1)}}}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			code := do(t, srv, tt.method, tt.path, tt.body, &resp)
			assert.Equal(t, tt.want, code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &policy.NotFoundError{Entity: "policy", ID: "p"}, http.StatusNotFound},
		{"forbidden", &policy.ForbiddenError{PolicyID: "p"}, http.StatusForbidden},
		{"invalid argument", &policy.InvalidArgumentError{Field: "f"}, http.StatusBadRequest},
		{"invalid state", &policy.InvalidStateError{PolicyID: "p"}, http.StatusConflict},
		{"lost race", fmt.Errorf("save: %w", policy.ErrConcurrentModification), http.StatusConflict},
		{"version retries exhausted", fmt.Errorf("giving up: %w", policy.ErrDuplicateVersion), http.StatusConflict},
		{"infrastructure", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.name)
	}
}

func TestMalformedBody(t *testing.T) {
	_, srv := setupTestServer(t)

	req := httptest.NewRequest("POST", "/api/policies", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PAYROLL
// =============================================================================

func TestRecordExecution_OverHTTP(t *testing.T) {
	_, srv := setupTestServer(t)
	p := createLatePolicy(t, srv, "50")

	var exec ExecutionDTO
	code := do(t, srv, "POST", "/api/executions", ExecutionRequest{
		PolicyID:    p.ID,
		EmployeeID:  "emp-1",
		ActionType:  "penalty",
		ActionValue: decimal.NewFromInt(50),
	}, &exec)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "DEDUCTION", exec.ActionType)
	assert.Equal(t, "org-1", exec.OrgID)
	assert.True(t, exec.IsSuccess)
	assert.False(t, exec.AppliedToPayroll)

	assert.Equal(t, http.StatusNotFound, do(t, srv, "POST", "/api/executions", ExecutionRequest{
		PolicyID: "missing", EmployeeID: "emp-1", ActionType: "bonus",
	}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "POST", "/api/executions", ExecutionRequest{
		PolicyID: p.ID, EmployeeID: "emp-1", ActionType: "gift",
	}, nil))
}

func TestPayrollFlow_OverHTTP(t *testing.T) {
	// GIVEN: The monthly-impact scenario
	_, srv := setupTestServer(t)
	require.Equal(t, http.StatusOK, do(t, srv, "POST", "/api/scenarios/load",
		map[string]string{"scenario_id": "monthly-impact"}, nil))

	// WHEN: Reading the impact report
	var report ImpactReportDTO
	require.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/payroll/impact?org_id=org-demo&month=3&year=2025", nil, &report))

	// THEN: Totals reflect successful executions only
	assert.Equal(t, "2025-03", report.Period)
	assert.Equal(t, 4, report.Summary.TotalEmployees)
	assert.Equal(t, 3, report.Summary.AffectedEmployees)
	assert.True(t, decimal.NewFromInt(100).Equal(report.Summary.TotalDeductions))
	assert.True(t, decimal.NewFromInt(775).Equal(report.Summary.TotalBonuses))
	require.Len(t, report.Employees, 4)
	alice := report.Employees[0]
	assert.Equal(t, "Alice Johnson", alice.EmployeeName)
	assert.True(t, decimal.NewFromInt(5100).Equal(alice.BaselineSalary))
	assert.True(t, decimal.NewFromInt(5000).Equal(alice.FinalTotalSalary))

	// WHEN: Applying Alice twice
	applyPath := "/api/payroll/runs/run-1/employees/emp-001/apply"
	period := PeriodRequest{OrgID: "org-demo", Month: 3, Year: 2025}
	var first, second ApplyResultDTO
	require.Equal(t, http.StatusOK, do(t, srv, "POST", applyPath, period, &first))
	require.Equal(t, http.StatusOK, do(t, srv, "POST", applyPath, period, &second))

	// THEN: Only the first call creates adjustments
	assert.Equal(t, 2, first.AdjustmentsCreated)
	assert.True(t, decimal.NewFromInt(100).Equal(first.TotalDeductions))
	assert.Equal(t, 0, second.AdjustmentsCreated)

	// WHEN: Syncing the whole org on the same run
	var sync SyncResultDTO
	require.Equal(t, http.StatusOK, do(t, srv, "POST", "/api/payroll/runs/run-1/sync", period, &sync))

	// THEN: The remaining bonuses are applied, Alice adds nothing
	assert.True(t, sync.Success)
	assert.Equal(t, 4, sync.EmployeesProcessed)
	assert.Equal(t, 2, sync.TotalAdjustments)
	assert.True(t, decimal.NewFromInt(775).Equal(sync.TotalBonuses))

	// THEN: The run lists every adjustment
	var adj RunAdjustmentsDTO
	require.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/payroll/runs/run-1/adjustments", nil, &adj))
	assert.Len(t, adj.Deductions, 2)
	assert.Len(t, adj.Bonuses, 2)
	assert.True(t, decimal.NewFromInt(675).Equal(adj.Net))

	// THEN: The impact report now flags the items as applied
	require.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/payroll/impact?org_id=org-demo&month=3&year=2025", nil, &report))
	for _, item := range report.Employees[0].PolicyDeductions {
		assert.True(t, item.Applied)
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestDirectory_OverHTTP(t *testing.T) {
	_, srv := setupTestServer(t)

	emp := EmployeeDTO{
		ID: "emp-9", OrgID: "org-1", Name: "Nia", Active: true,
		Salary:   decimal.NewFromInt(3000),
		Contract: &ContractDTO{Active: true, BasicSalary: decimal.NewFromInt(2500), Housing: decimal.NewFromInt(400)},
	}
	require.Equal(t, http.StatusCreated, do(t, srv, "POST", "/api/employees", emp, nil))

	var got EmployeeDTO
	require.Equal(t, http.StatusOK, do(t, srv, "GET", "/api/employees/emp-9", nil, &got))
	assert.Equal(t, "Nia", got.Name)
	require.NotNil(t, got.Contract)
	assert.True(t, decimal.NewFromInt(400).Equal(got.Contract.Housing))

	assert.Equal(t, http.StatusNotFound, do(t, srv, "GET", "/api/employees/nobody", nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, srv, "POST", "/api/employees", EmployeeDTO{Name: "x"}, nil))
	assert.Equal(t, http.StatusNotFound, do(t, srv, "GET", "/api/identities/nobody", nil, nil))
}

func TestHealth(t *testing.T) {
	_, srv := setupTestServer(t)

	var body map[string]any
	require.Equal(t, http.StatusOK, do(t, srv, "GET", "/healthz", nil, &body))
	assert.Equal(t, "ok", body["status"])
}
