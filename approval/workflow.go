/*
Package approval implements the policy approval workflow.

PURPOSE:
  A policy may only run once it has been approved. The workflow moves it
  through its statuses and records every submission cycle as an
  ApprovalRequest that is stamped, never deleted.

STATE MACHINE (see transitions.go for the table):

  DRAFT ──submit──▶ PENDING ──approve──▶ ACTIVE
    ▲                  │
    └──reject──────────┤
    └──request_changes─┘
  PAUSED ──submit──▶ PENDING

  ACTIVE ──pause──▶ PAUSED is an operational switch, outside the table.

REQUIRED LEVEL:
  Computed at submission from the largest action value:
    value <= threshold  → HR
    value >  threshold  → CEO
  The threshold defaults to 500 and can be overridden per organization.
  Approve recomputes it from the live content and uses the higher of the
  two, so the recorded level can never be undercut.

EDITS:
  PENDING content is frozen (versioning rejects the edit). Editing an
  ACTIVE policy sends it back to DRAFT, so new amounts always go through
  another submission.

AUTHORITY:
  Approvers are matched by explicit role sets (authority.go). Only approve
  checks authority; reject and request-changes are open to any reviewer.

CONCURRENCY:
  Every operation reads and writes inside one store transaction. Resolving
  a request is a compare-and-swap on its SUBMITTED state, so when two
  approvals race the loser sees NotFound.

SEE ALSO:
  - transitions.go: the table and its golden rendering
  - authority.go: RequiredLevel, Authority
*/
package approval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/warp/policy-engine/policy"
)

// MinRejectionReason is the minimum length of a rejection reason, in runes.
const MinRejectionReason = 5

// Workflow runs approval transitions against a repository.
type Workflow struct {
	Store      policy.Repository
	Authority  *Authority
	Thresholds Thresholds
	Logger     *slog.Logger
	Now        func() time.Time
}

func NewWorkflow(store policy.Repository, authority *Authority) *Workflow {
	return &Workflow{
		Store:      store,
		Authority:  authority,
		Thresholds: DefaultThresholds(),
		Logger:     slog.Default(),
		Now:        time.Now,
	}
}

func (w *Workflow) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now().UTC()
}

func (w *Workflow) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

// =============================================================================
// SUBMIT
// =============================================================================

func (w *Workflow) SubmitForApproval(ctx context.Context, id policy.PolicyID, submitter policy.UserID, notes string) (*policy.ApprovalRequest, error) {
	var req *policy.ApprovalRequest
	err := w.Store.WithTx(ctx, func(tx policy.Store) error {
		var err error
		req, err = w.SubmitInTx(ctx, tx, id, submitter, notes)
		return err
	})
	if err != nil {
		return nil, err
	}

	w.logger().InfoContext(ctx, "policy submitted for approval",
		"policy_id", id, "required_level", req.RequiredLevel, "submitted_by", submitter)
	return req, nil
}

// SubmitInTx is SubmitForApproval against a transaction the caller already
// holds. Nothing is logged; the caller owns the commit.
func (w *Workflow) SubmitInTx(ctx context.Context, tx policy.Store, id policy.PolicyID, submitter policy.UserID, notes string) (*policy.ApprovalRequest, error) {
	p, err := tx.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	next, ok := Next(p.Status, TransitionSubmit)
	if !ok {
		return nil, &policy.InvalidStateError{PolicyID: id, Status: p.Status, Op: string(TransitionSubmit)}
	}

	now := w.now()
	req := policy.ApprovalRequest{
		ID:            uuid.NewString(),
		PolicyID:      id,
		OrgID:         p.OrgID,
		SubmittedBy:   submitter,
		SubmittedAt:   now,
		RequiredLevel: RequiredLevel(p.Content, w.Thresholds.For(p.OrgID)),
		Action:        policy.ApprovalSubmitted,
		Notes:         strings.TrimSpace(notes),
	}
	if err := tx.InsertApprovalRequest(ctx, req); err != nil {
		return nil, err
	}

	p.Status = next
	p.UpdatedAt = now
	if err := tx.SavePolicy(ctx, *p); err != nil {
		return nil, err
	}
	return &req, nil
}

// =============================================================================
// RESOLVE (approve / reject / request changes)
// =============================================================================

// ApproveOptions are the optional inputs to Approve.
type ApproveOptions struct {
	Notes       string
	ActivateNow bool
}

func (w *Workflow) Approve(ctx context.Context, id policy.PolicyID, approver policy.UserID, opts ApproveOptions) (*policy.Policy, error) {
	var approved *policy.Policy
	err := w.resolve(ctx, id, TransitionApprove, func(tx policy.Store, p *policy.Policy, req *policy.ApprovalRequest, now time.Time) error {
		// The level recorded at submission is a floor. Content or thresholds
		// may have moved since, so the live content can only raise it.
		level := HigherLevel(req.RequiredLevel, RequiredLevel(p.Content, w.Thresholds.For(p.OrgID)))
		if level != req.RequiredLevel {
			w.logger().WarnContext(ctx, "required level raised at approval",
				"policy_id", id, "submitted_level", req.RequiredLevel, "required_level", level)
		}
		if err := w.checkAuthority(ctx, tx, id, approver, level); err != nil {
			return err
		}
		req.Action = policy.ApprovalApproved
		req.ActedBy = approver
		req.ActedAt = &now
		if notes := strings.TrimSpace(opts.Notes); notes != "" {
			req.Notes = notes
		}

		p.ApprovedBy = approver
		p.ApprovedAt = &now
		if opts.ActivateNow {
			p.Enabled = true
		}
		approved = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger().InfoContext(ctx, "policy approved",
		"policy_id", id, "approved_by", approver, "enabled", approved.Enabled)
	return approved, nil
}

func (w *Workflow) Reject(ctx context.Context, id policy.PolicyID, rejecter policy.UserID, reason string) (*policy.Policy, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) < MinRejectionReason {
		return nil, &policy.InvalidArgumentError{Field: "reason", Reason: "must be at least 5 characters"}
	}

	var rejected *policy.Policy
	err := w.resolve(ctx, id, TransitionReject, func(_ policy.Store, p *policy.Policy, req *policy.ApprovalRequest, now time.Time) error {
		req.Action = policy.ApprovalRejected
		req.ActedBy = rejecter
		req.ActedAt = &now
		req.RejectionReason = reason
		rejected = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger().InfoContext(ctx, "policy rejected", "policy_id", id, "rejected_by", rejecter)
	return rejected, nil
}

func (w *Workflow) RequestChanges(ctx context.Context, id policy.PolicyID, reviewer policy.UserID, changes string) (*policy.Policy, error) {
	changes = strings.TrimSpace(changes)
	if changes == "" {
		return nil, &policy.InvalidArgumentError{Field: "requested_changes", Reason: "required"}
	}

	var returned *policy.Policy
	err := w.resolve(ctx, id, TransitionRequestChanges, func(_ policy.Store, p *policy.Policy, req *policy.ApprovalRequest, now time.Time) error {
		req.Action = policy.ApprovalChangesRequested
		req.ActedBy = reviewer
		req.ActedAt = &now
		req.RequestedChanges = changes
		returned = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger().InfoContext(ctx, "policy changes requested", "policy_id", id, "reviewer", reviewer)
	return returned, nil
}

// resolve loads the policy and its pending request, lets stamp fill in the
// terminal action, then writes the request (compare-and-swap) and the new
// status in one transaction.
func (w *Workflow) resolve(
	ctx context.Context,
	id policy.PolicyID,
	t Transition,
	stamp func(tx policy.Store, p *policy.Policy, req *policy.ApprovalRequest, now time.Time) error,
) error {
	return w.Store.WithTx(ctx, func(tx policy.Store) error {
		p, err := tx.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		req, err := tx.PendingApprovalRequest(ctx, id)
		if err != nil {
			return err
		}
		next, ok := Next(p.Status, t)
		if !ok {
			return &policy.InvalidStateError{PolicyID: id, Status: p.Status, Op: string(t)}
		}

		now := w.now()
		if err := stamp(tx, p, req, now); err != nil {
			return err
		}
		if err := tx.ResolveApprovalRequest(ctx, *req); err != nil {
			if errors.Is(err, policy.ErrConcurrentModification) {
				return &policy.NotFoundError{Entity: "pending approval request", PolicyID: id}
			}
			return err
		}

		p.Status = next
		p.UpdatedAt = now
		return tx.SavePolicy(ctx, *p)
	})
}

func (w *Workflow) checkAuthority(ctx context.Context, tx policy.Store, id policy.PolicyID, approver policy.UserID, level policy.ApprovalLevel) error {
	forbidden := &policy.ForbiddenError{PolicyID: id, ApproverID: approver, RequiredLevel: level}

	ident, err := tx.GetIdentity(ctx, approver)
	if policy.IsNotFound(err) {
		return forbidden
	}
	if err != nil {
		return err
	}
	ok, err := w.Authority.CanApprove(*ident, level)
	if err != nil {
		return err
	}
	if !ok {
		w.logger().WarnContext(ctx, "approval denied",
			"policy_id", id, "approver", approver, "required_level", level)
		return forbidden
	}
	return nil
}

// =============================================================================
// PAUSE - Operational switch outside the approval table
// =============================================================================

// Pause takes an ACTIVE policy out of service. Bringing it back requires a
// new submission.
func (w *Workflow) Pause(ctx context.Context, id policy.PolicyID, actor policy.UserID) (*policy.Policy, error) {
	var paused *policy.Policy
	err := w.Store.WithTx(ctx, func(tx policy.Store) error {
		p, err := tx.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != policy.StatusActive {
			return &policy.InvalidStateError{PolicyID: id, Status: p.Status, Op: "pause"}
		}
		p.Status = policy.StatusPaused
		p.Enabled = false
		p.UpdatedAt = w.now()
		paused = p
		return tx.SavePolicy(ctx, *p)
	})
	if err != nil {
		return nil, err
	}

	w.logger().InfoContext(ctx, "policy paused", "policy_id", id, "actor", actor)
	return paused, nil
}

// =============================================================================
// READ VIEWS
// =============================================================================

// QueueItem is a pending policy with its current request.
type QueueItem struct {
	Policy  policy.Policy
	Request policy.ApprovalRequest
}

// GetApprovalQueue lists PENDING policies of org, oldest submission first.
func (w *Workflow) GetApprovalQueue(ctx context.Context, org policy.OrgID) ([]QueueItem, error) {
	pending, err := w.Store.ListPolicies(ctx, policy.PolicyFilter{OrgID: org, Status: policy.StatusPending})
	if err != nil {
		return nil, err
	}

	queue := make([]QueueItem, 0, len(pending))
	for _, p := range pending {
		req, err := w.Store.PendingApprovalRequest(ctx, p.ID)
		if policy.IsNotFound(err) {
			w.logger().WarnContext(ctx, "pending policy without approval request", "policy_id", p.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		queue = append(queue, QueueItem{Policy: p, Request: *req})
	}
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Request.SubmittedAt.Before(queue[j].Request.SubmittedAt)
	})
	return queue, nil
}

// GetApprovalHistory returns every request for the policy, newest first.
func (w *Workflow) GetApprovalHistory(ctx context.Context, id policy.PolicyID) ([]policy.ApprovalRequest, error) {
	if _, err := w.Store.GetPolicy(ctx, id); err != nil {
		return nil, err
	}
	return w.Store.ListApprovalRequests(ctx, id)
}
