/*
Package policy holds the domain model of the compensation policy engine.

PURPOSE:
  A Policy is a conditional compensation rule owned by an organization:
  "if an employee is late 3 times in a month, deduct 50". This package
  defines the rule itself, its immutable Version snapshots, the
  ApprovalRequest rows of the approval workflow, and the payroll-side
  records (Execution, PayrollAdjustment) the engine reads and writes.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status: DRAFT, PENDING, ACTIVE, PAUSED
  - Action: {kind: DEDUCTION|BONUS, value: amount}
  - Content: the versioned part of a policy (description, conditions, actions)
  - Version: an immutable snapshot of Content

DESIGN PRINCIPLES:
  1. Money is decimal.Decimal, never float64
  2. Identifiers are distinct string types so they cannot be mixed up
  3. History rows (Version, ApprovalRequest) are written once and never edited

SEE ALSO:
  - execution.go: Execution, PayrollAdjustment, Employee
  - store.go: persistence interfaces
  - errors.go: error kinds
*/
package policy

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PolicyID string
type OrgID string
type EmployeeID string
type UserID string
type ExecutionID string
type PayrollRunID string

// =============================================================================
// STATUS - Closed set of lifecycle states
// =============================================================================

type Status string

const (
	StatusDraft   Status = "DRAFT"
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusPaused  Status = "PAUSED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusDraft, StatusPending, StatusActive, StatusPaused}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusActive, StatusPaused:
		return true
	}
	return false
}

// =============================================================================
// ACTIONS
// =============================================================================

type ActionKind string

const (
	ActionDeduction ActionKind = "DEDUCTION"
	ActionBonus     ActionKind = "BONUS"
)

var actionAliases = map[string]ActionKind{
	"deduction":        ActionDeduction,
	"deduct":           ActionDeduction,
	"penalty":          ActionDeduction,
	"salary_deduction": ActionDeduction,
	"deduct_salary":    ActionDeduction,
	"bonus":            ActionBonus,
	"reward":           ActionBonus,
	"addition":         ActionBonus,
	"add_bonus":        ActionBonus,
}

// NormalizeActionKind maps the spellings used by rule authors and the trigger
// engine onto the two canonical kinds.
func NormalizeActionKind(raw string) (ActionKind, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	kind, ok := actionAliases[key]
	return kind, ok
}

// Action is the financial effect of a policy when it fires.
type Action struct {
	Kind   ActionKind      `json:"kind"`
	Value  decimal.Decimal `json:"value"`
	Reason string          `json:"reason,omitempty"`
}

func (a Action) Equal(b Action) bool {
	return a.Kind == b.Kind && a.Value.Equal(b.Value) && a.Reason == b.Reason
}

// =============================================================================
// CONDITIONS
// =============================================================================

// Conditions describe when the trigger engine fires the policy. This engine
// only stores, versions and validates them; matching happens elsewhere.
type Conditions struct {
	Trigger    string `json:"trigger"`
	Operator   string `json:"operator,omitempty"`
	Count      int    `json:"count,omitempty"`
	Window     string `json:"window,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// Category classifies the trigger for reporting rollups.
type Category string

const (
	CategoryAttendance  Category = "attendance"
	CategoryLeave       Category = "leave"
	CategoryPerformance Category = "performance"
	CategoryPayroll     Category = "payroll"
	CategoryManual      Category = "manual"
	CategoryOther       Category = "other"
)

var categoryKeywords = []struct {
	keyword  string
	category Category
}{
	{"attendance", CategoryAttendance},
	{"late", CategoryAttendance},
	{"absen", CategoryAttendance},
	{"overtime", CategoryAttendance},
	{"early_leave", CategoryAttendance},
	{"check_in", CategoryAttendance},
	{"leave", CategoryLeave},
	{"vacation", CategoryLeave},
	{"sick", CategoryLeave},
	{"performance", CategoryPerformance},
	{"review", CategoryPerformance},
	{"kpi", CategoryPerformance},
	{"target", CategoryPerformance},
	{"payroll", CategoryPayroll},
	{"salary", CategoryPayroll},
	{"manual", CategoryManual},
}

// Category derives the reporting category from the trigger name.
// Unknown triggers fall into CategoryOther.
func (c Conditions) Category() Category {
	trigger := strings.ToLower(c.Trigger)
	if trigger == "" {
		return CategoryOther
	}
	for _, kw := range categoryKeywords {
		if strings.Contains(trigger, kw.keyword) {
			return kw.category
		}
	}
	return CategoryOther
}

// =============================================================================
// CONTENT - The versioned part of a policy
// =============================================================================

type Content struct {
	Description string     `json:"description"`
	Conditions  Conditions `json:"conditions"`
	Actions     []Action   `json:"actions"`
}

// Clone returns a copy that shares no slice storage with c.
func (c Content) Clone() Content {
	out := c
	out.Actions = append([]Action(nil), c.Actions...)
	return out
}

func actionsEqual(a, b []Action) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Equal reports whether two contents are structurally identical.
func (c Content) Equal(o Content) bool {
	return c.Description == o.Description &&
		c.Conditions == o.Conditions &&
		actionsEqual(c.Actions, o.Actions)
}

// Diff flags which parts changed between two contents.
type Diff struct {
	TextChanged       bool `json:"text_changed"`
	ConditionsChanged bool `json:"conditions_changed"`
	ActionsChanged    bool `json:"actions_changed"`
}

func (d Diff) Any() bool { return d.TextChanged || d.ConditionsChanged || d.ActionsChanged }

func DiffContent(a, b Content) Diff {
	return Diff{
		TextChanged:       a.Description != b.Description,
		ConditionsChanged: a.Conditions != b.Conditions,
		ActionsChanged:    !actionsEqual(a.Actions, b.Actions),
	}
}

// MaxActionValue returns the largest action value, or zero for no actions.
func (c Content) MaxActionValue() decimal.Decimal {
	max := decimal.Zero
	for _, a := range c.Actions {
		if a.Value.GreaterThan(max) {
			max = a.Value
		}
	}
	return max
}

// =============================================================================
// POLICY
// =============================================================================

type Policy struct {
	ID      PolicyID
	OrgID   OrgID
	Name    string
	Content Content

	Status  Status
	Enabled bool

	// CurrentVersion equals the number of the most recent Version row, even
	// after older rows were pruned. Zero means no snapshot exists yet.
	CurrentVersion int

	ApprovedBy UserID
	ApprovedAt *time.Time

	CreatedBy UserID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// VERSION - Immutable snapshot
// =============================================================================

type Version struct {
	ID           string
	PolicyID     PolicyID
	Version      int
	Content      Content
	ChangeReason string
	AuthorID     UserID
	CreatedAt    time.Time
}

// =============================================================================
// APPROVAL REQUEST
// =============================================================================

type ApprovalLevel string

const (
	LevelHR  ApprovalLevel = "HR"
	LevelCEO ApprovalLevel = "CEO"
)

type ApprovalAction string

const (
	ApprovalSubmitted        ApprovalAction = "SUBMITTED"
	ApprovalApproved         ApprovalAction = "APPROVED"
	ApprovalRejected         ApprovalAction = "REJECTED"
	ApprovalChangesRequested ApprovalAction = "CHANGES_REQUESTED"
)

// Terminal reports whether no further action may be recorded on the request.
func (a ApprovalAction) Terminal() bool { return a != ApprovalSubmitted }

// ApprovalRequest is one submission-to-resolution cycle. Resolved requests are
// stamped, never deleted.
type ApprovalRequest struct {
	ID            string
	PolicyID      PolicyID
	OrgID         OrgID
	SubmittedBy   UserID
	SubmittedAt   time.Time
	RequiredLevel ApprovalLevel
	Action        ApprovalAction

	ActedBy          UserID
	ActedAt          *time.Time
	RejectionReason  string
	RequestedChanges string
	Notes            string
}

// Identity is what the identity collaborator knows about a user.
type Identity struct {
	UserID   UserID
	OrgID    OrgID
	Name     string
	Role     string
	JobTitle string
}
