package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-engine/approval"
	"github.com/warp/policy-engine/factory"
	"github.com/warp/policy-engine/payroll"
	"github.com/warp/policy-engine/policy"
	"github.com/warp/policy-engine/store/sqlite"
	"github.com/warp/policy-engine/versioning"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seedDatabase writes one employee with two March executions.
func seedDatabase(t *testing.T, path string) {
	store, err := sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveEmployee(ctx, policy.Employee{
		ID: "emp-1", OrgID: "org-1", Name: "Ana", DepartmentName: "Ops",
		Active: true, Salary: decimal.NewFromInt(1000),
	}))

	p, err := versioning.NewService(store).CreatePolicy(ctx, "org-1", "admin-1", "Late arrival", policy.Content{
		Description: "Deduct after lateness",
		Conditions:  policy.Conditions{Trigger: "late_arrival"},
		Actions:     []policy.Action{{Kind: policy.ActionDeduction, Value: decimal.NewFromInt(40)}},
	})
	require.NoError(t, err)

	pay := payroll.NewService(store)
	for _, day := range []int{3, 10} {
		_, err := pay.RecordExecution(ctx, policy.Execution{
			PolicyID: p.ID, EmployeeID: "emp-1", ActionType: policy.ActionDeduction,
			ActionValue: decimal.NewFromInt(40), IsSuccess: true,
			ExecutedAt: time.Date(2025, time.March, day, 9, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}
}

const importBook = `
policies:
  - name: Late arrival
    description: Deduct after three late arrivals
    conditions: {trigger: late_arrival, count: 3, window: month}
    actions: [{type: deduction, amount: 50}]
  - name: KPI bonus
    description: Pay when the KPI target is met
    conditions: {trigger: kpi_target_met, expression: "score >= 90.0"}
    actions: [{type: bonus, amount: 900}]
`

func TestImportCommand(t *testing.T) {
	// GIVEN: A rule book with two policies
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "policies.db")
	book := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(book, []byte(importBook), 0o600))

	// WHEN: Importing and submitting them
	out, err := runCommand(t, "import", book, "--db", dbPath, "--org", "org-1", "--author", "admin-1", "--submit")

	// THEN: Both are created and pending
	require.NoError(t, err)
	assert.Contains(t, out, "PENDING\tLate arrival")
	assert.Contains(t, out, "PENDING\tKPI bonus")

	store, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer store.Close()
	pending, err := store.ListPolicies(context.Background(), policy.PolicyFilter{OrgID: "org-1", Status: policy.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestImportCommand_InvalidBookCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "policies.db")
	book := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(book, []byte(`
policies:
  - name: Broken
    description: unknown action
    actions: [{type: gift, amount: 1}]
`), 0o600))

	_, err := runCommand(t, "import", book, "--db", dbPath, "--org", "org-1", "--author", "admin-1")
	assert.Error(t, err)

	// The rule book is parsed before the database is opened
	_, statErr := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestImportCommand_SubmitFailureCreatesNothing(t *testing.T) {
	// GIVEN: A valid rule book
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "policies.db")
	book := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(book, []byte(importBook), 0o600))

	// WHEN: The database refuses the second approval request of the batch
	store, err := sqlite.New(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TRIGGER refuse_second_submit BEFORE INSERT ON approval_requests
		WHEN (SELECT COUNT(*) FROM approval_requests) >= 1
		BEGIN SELECT RAISE(ABORT, 'approval queue full'); END`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = runCommand(t, "import", book, "--db", dbPath, "--org", "org-1", "--author", "admin-1", "--submit")

	// THEN: The command fails and neither policy exists
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KPI bonus")

	store, err = sqlite.New(dbPath)
	require.NoError(t, err)
	defer store.Close()
	all, err := store.ListPolicies(context.Background(), policy.PolicyFilter{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestExportCommand_RoundTrip(t *testing.T) {
	// GIVEN: Two imported policies
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "policies.db")
	book := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(book, []byte(importBook), 0o600))
	_, err := runCommand(t, "import", book, "--db", dbPath, "--org", "org-1", "--author", "admin-1")
	require.NoError(t, err)

	// WHEN: Exporting the organization
	out, err := runCommand(t, "export", "--db", dbPath, "--org", "org-1")
	require.NoError(t, err)

	// THEN: The output parses back into the same definitions
	defs, err := factory.NewPolicyFactory().ParseRuleBook([]byte(out))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	byName := map[string]factory.Definition{}
	for _, d := range defs {
		byName[d.Name] = d
	}
	assert.True(t, decimal.NewFromInt(900).Equal(byName["KPI bonus"].Content.Actions[0].Value))
	assert.Equal(t, "score >= 90.0", byName["KPI bonus"].Content.Conditions.Expression)
	assert.Equal(t, 3, byName["Late arrival"].Content.Conditions.Count)

	// A status filter narrows it; nothing is PENDING
	out, err = runCommand(t, "export", "--db", dbPath, "--org", "org-1", "--status", "pending")
	require.NoError(t, err)
	assert.NotContains(t, out, "Late arrival")

	_, err = runCommand(t, "export", "--db", dbPath, "--org", "org-1", "--status", "archived")
	assert.Error(t, err)
}

func TestTransitionsCommand(t *testing.T) {
	out, err := runCommand(t, "transitions")
	require.NoError(t, err)
	assert.Equal(t, approval.RenderTable(), out)
	assert.Contains(t, out, "DRAFT submit -> PENDING")
	assert.Contains(t, out, "ACTIVE approve -> -")
}

func TestImpactCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "policies.db")
	seedDatabase(t, dbPath)

	// JSON output carries the exact totals
	out, err := runCommand(t, "impact", "--db", dbPath, "--org", "org-1", "--month", "3", "--year", "2025", "--format", "json")
	require.NoError(t, err)
	var report struct {
		Period  policy.Period `json:"period"`
		Summary struct {
			TotalDeductions  decimal.Decimal `json:"total_deductions"`
			TotalFinalSalary decimal.Decimal `json:"total_final_salary"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, decimal.NewFromInt(80).Equal(report.Summary.TotalDeductions))
	assert.True(t, decimal.NewFromInt(920).Equal(report.Summary.TotalFinalSalary))
	assert.Equal(t, "2025-03", report.Period.String())

	// Keys are snake_case
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	assert.Contains(t, raw, "org_id")
	assert.Contains(t, string(raw["summary"]), `"total_final_salary"`)

	// Text output keeps exact cents
	out, err = runCommand(t, "impact", "--db", dbPath, "--org", "org-1", "--month", "3", "--year", "2025")
	require.NoError(t, err)
	assert.Contains(t, out, "920.00")

	// Text output is a table with a totals line
	assert.Contains(t, out, "Payroll impact 2025-03 for org-1 (USD)")
	assert.Contains(t, out, "Total (1 of 1 affected)")

	_, err = runCommand(t, "impact", "--db", dbPath, "--org", "org-1", "--format", "xml")
	assert.Error(t, err)
}

func TestSyncCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "policies.db")
	seedDatabase(t, dbPath)

	args := []string{"sync", "--db", dbPath, "--run", "run-1", "--org", "org-1", "--month", "3", "--year", "2025"}
	out, err := runCommand(t, args...)
	require.NoError(t, err)

	var res payroll.SyncResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.TotalAdjustments)
	assert.Contains(t, out, `"total_adjustments": 2`)

	// A second run of the same command is a no-op
	out, err = runCommand(t, args...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 0, res.TotalAdjustments)
}

func TestSyncCommand_RequiresRun(t *testing.T) {
	_, err := runCommand(t, "sync", "--db", ":memory:", "--org", "org-1")
	assert.Error(t, err)
}
