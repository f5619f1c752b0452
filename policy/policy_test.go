package policy_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-engine/policy"
)

func lateContent() policy.Content {
	return policy.Content{
		Description: "  Deduct after three late arrivals ",
		Conditions:  policy.Conditions{Trigger: "late_arrival", Operator: ">=", Count: 3, Window: "month"},
		Actions:     []policy.Action{{Kind: "deduct-salary", Value: decimal.NewFromInt(50)}},
	}
}

// =============================================================================
// ACTION KINDS
// =============================================================================

func TestNormalizeActionKind(t *testing.T) {
	tests := []struct {
		raw  string
		want policy.ActionKind
		ok   bool
	}{
		{"DEDUCTION", policy.ActionDeduction, true},
		{"penalty", policy.ActionDeduction, true},
		{"Deduct Salary", policy.ActionDeduction, true},
		{" bonus ", policy.ActionBonus, true},
		{"add-bonus", policy.ActionBonus, true},
		{"reward", policy.ActionBonus, true},
		{"gift", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := policy.NormalizeActionKind(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdjustmentTypeFor(t *testing.T) {
	assert.Equal(t, policy.AdjustmentAddition, policy.AdjustmentTypeFor(policy.ActionBonus))
	assert.Equal(t, policy.AdjustmentDeduction, policy.AdjustmentTypeFor(policy.ActionDeduction))
}

// =============================================================================
// CATEGORY
// =============================================================================

func TestConditions_Category(t *testing.T) {
	tests := map[string]policy.Category{
		"late_arrival":      policy.CategoryAttendance,
		"Unexcused_Absence": policy.CategoryAttendance,
		"sick_leave_taken":  policy.CategoryLeave,
		"kpi_target_met":    policy.CategoryPerformance,
		"salary_review":     policy.CategoryPerformance,
		"payroll_closed":    policy.CategoryPayroll,
		"manual":            policy.CategoryManual,
		"birthday":          policy.CategoryOther,
		"":                  policy.CategoryOther,
	}
	for trigger, want := range tests {
		assert.Equal(t, want, policy.Conditions{Trigger: trigger}.Category(), trigger)
	}
}

// =============================================================================
// CONTENT
// =============================================================================

func TestNormalizeContent(t *testing.T) {
	// GIVEN: Content with padded text and an alias action kind
	in := lateContent()

	// WHEN: Normalizing
	out, err := policy.NormalizeContent(in)

	// THEN: Text is trimmed and the kind is canonical, input untouched
	require.NoError(t, err)
	assert.Equal(t, "Deduct after three late arrivals", out.Description)
	assert.Equal(t, policy.ActionDeduction, out.Actions[0].Kind)
	assert.Equal(t, policy.ActionKind("deduct-salary"), in.Actions[0].Kind)
}

func TestNormalizeContent_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *policy.Content)
		field  string
	}{
		{"empty description", func(c *policy.Content) { c.Description = "   " }, "description"},
		{"no actions", func(c *policy.Content) { c.Actions = nil }, "actions"},
		{"unknown kind", func(c *policy.Content) { c.Actions[0].Kind = "gift" }, "actions[0].kind"},
		{"negative value", func(c *policy.Content) { c.Actions[0].Value = decimal.NewFromInt(-1) }, "actions[0].value"},
		{"bad expression", func(c *policy.Content) { c.Conditions.Expression = "count >=" }, "conditions.expression"},
		{"non-bool expression", func(c *policy.Content) { c.Conditions.Expression = "count + 1" }, "conditions.expression"},
		{"unknown variable", func(c *policy.Content) { c.Conditions.Expression = "salary > 10" }, "conditions.expression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := lateContent()
			tt.mutate(&c)

			_, err := policy.NormalizeContent(c)

			require.ErrorIs(t, err, policy.ErrInvalidArgument)
			var argErr *policy.InvalidArgumentError
			require.True(t, errors.As(err, &argErr))
			assert.Equal(t, tt.field, argErr.Field)
		})
	}
}

func TestValidateExpression(t *testing.T) {
	assert.NoError(t, policy.ValidateExpression(`count >= 3 && event == "late_arrival"`))
	assert.NoError(t, policy.ValidateExpression("score >= 90.0"))
	assert.Error(t, policy.ValidateExpression(`event + 1`))
}

func TestDiffContent(t *testing.T) {
	a, err := policy.NormalizeContent(lateContent())
	require.NoError(t, err)

	// Identical content has no diff
	assert.False(t, policy.DiffContent(a, a.Clone()).Any())
	assert.True(t, a.Equal(a.Clone()))

	// Only the action value changed
	b := a.Clone()
	b.Actions[0].Value = decimal.NewFromInt(75)
	d := policy.DiffContent(a, b)
	assert.Equal(t, policy.Diff{ActionsChanged: true}, d)

	// 50.0 and 50 are the same amount
	c := a.Clone()
	c.Actions[0].Value = decimal.RequireFromString("50.00")
	assert.True(t, a.Equal(c))

	// Text and conditions
	c.Description = "other"
	c.Conditions.Count = 4
	d = policy.DiffContent(a, c)
	assert.True(t, d.TextChanged)
	assert.True(t, d.ConditionsChanged)
	assert.False(t, d.ActionsChanged)
}

func TestContent_CloneSharesNoActions(t *testing.T) {
	a := lateContent()
	b := a.Clone()
	b.Actions[0].Value = decimal.NewFromInt(1)
	assert.True(t, decimal.NewFromInt(50).Equal(a.Actions[0].Value))
}

func TestContent_MaxActionValue(t *testing.T) {
	c := policy.Content{Actions: []policy.Action{
		{Kind: policy.ActionBonus, Value: decimal.NewFromInt(300)},
		{Kind: policy.ActionBonus, Value: decimal.RequireFromString("1000.50")},
	}}
	assert.True(t, decimal.RequireFromString("1000.50").Equal(c.MaxActionValue()))
	assert.True(t, policy.Content{}.MaxActionValue().IsZero())
}

// =============================================================================
// PERIOD
// =============================================================================

func TestNewPeriod(t *testing.T) {
	p, err := policy.NewPeriod(2, 2024)
	require.NoError(t, err)
	assert.Equal(t, "2024-02", p.String())
	assert.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), p.Start())
	assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), p.End())

	for _, bad := range [][2]int{{0, 2024}, {13, 2024}, {1, 1969}} {
		_, err := policy.NewPeriod(bad[0], bad[1])
		assert.ErrorIs(t, err, policy.ErrInvalidArgument, "%v", bad)
	}
}

func TestPeriod_Contains(t *testing.T) {
	p, err := policy.NewPeriod(3, 2025)
	require.NoError(t, err)

	assert.True(t, p.Contains(time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, p.Contains(time.Date(2025, time.March, 31, 23, 59, 59, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2025, time.February, 28, 23, 0, 0, 0, time.UTC)))

	// Compared in UTC: 01:00 on April 1st in UTC+2 is still March
	plus2 := time.FixedZone("UTC+2", 2*60*60)
	assert.True(t, p.Contains(time.Date(2025, time.April, 1, 1, 0, 0, 0, plus2)))
}

func TestPeriodOf(t *testing.T) {
	p := policy.PeriodOf(time.Date(2025, time.December, 31, 22, 0, 0, 0, time.UTC))
	assert.Equal(t, policy.Period{Month: time.December, Year: 2025}, p)
}

// =============================================================================
// EMPLOYEE
// =============================================================================

func TestEmployee_BaselineSalary(t *testing.T) {
	e := policy.Employee{Salary: decimal.NewFromInt(3000)}
	assert.True(t, decimal.NewFromInt(3000).Equal(e.BaselineSalary()))

	// An active contract wins over the salary field
	e.Contract = &policy.Contract{
		Active:         true,
		BasicSalary:    decimal.NewFromInt(4000),
		Housing:        decimal.NewFromInt(800),
		Transport:      decimal.NewFromInt(300),
		OtherAllowance: decimal.NewFromInt(50),
	}
	assert.True(t, decimal.NewFromInt(5150).Equal(e.BaselineSalary()))

	// An inactive one does not
	e.Contract.Active = false
	assert.True(t, decimal.NewFromInt(3000).Equal(e.BaselineSalary()))
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrorKinds(t *testing.T) {
	notFound := &policy.NotFoundError{Entity: "version", PolicyID: "pol-1", Version: 3}
	assert.Equal(t, "version 3 of policy pol-1 not found", notFound.Error())
	assert.True(t, policy.IsNotFound(notFound))
	assert.True(t, policy.IsClientError(notFound))

	pending := &policy.NotFoundError{Entity: "pending approval request", PolicyID: "pol-1"}
	assert.Equal(t, "pending approval request for policy pol-1 not found", pending.Error())

	state := &policy.InvalidStateError{PolicyID: "pol-1", Status: policy.StatusActive, Op: "submit"}
	assert.ErrorIs(t, state, policy.ErrInvalidState)
	assert.Equal(t, "cannot submit policy pol-1 in status ACTIVE", state.Error())

	forbidden := &policy.ForbiddenError{PolicyID: "pol-1", ApproverID: "dev-1", RequiredLevel: policy.LevelCEO}
	assert.ErrorIs(t, forbidden, policy.ErrForbidden)
	assert.False(t, policy.IsRetryable(forbidden))

	assert.True(t, policy.IsRetryable(policy.ErrDuplicateVersion))
	assert.True(t, policy.IsRetryable(policy.ErrConcurrentModification))
	assert.False(t, policy.IsClientError(policy.ErrConcurrentModification))
}

func TestApprovalAction_Terminal(t *testing.T) {
	assert.False(t, policy.ApprovalSubmitted.Terminal())
	for _, a := range []policy.ApprovalAction{policy.ApprovalApproved, policy.ApprovalRejected, policy.ApprovalChangesRequested} {
		assert.True(t, a.Terminal(), a)
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range policy.Statuses {
		assert.True(t, s.Valid())
	}
	assert.False(t, policy.Status("ARCHIVED").Valid())
}
