// Package store provides an in-memory policy.Repository.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/policy-engine/policy"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes every call behind one mutex; WithTx holds it for the
// whole callback, so transactions never interleave.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

type versionKey struct {
	PolicyID policy.PolicyID
	Version  int
}

type adjustmentKey struct {
	ExecutionID policy.ExecutionID
	Run         policy.PayrollRunID
}

type memState struct {
	policies    map[policy.PolicyID]policy.Policy
	versions    map[versionKey]policy.Version
	approvals   []policy.ApprovalRequest
	executions  []policy.Execution
	adjustments []policy.PayrollAdjustment
	adjByKey    map[adjustmentKey]bool
	employees   map[policy.EmployeeID]policy.Employee
	identities  map[policy.UserID]policy.Identity
}

func newMemState() *memState {
	return &memState{
		policies:   make(map[policy.PolicyID]policy.Policy),
		versions:   make(map[versionKey]policy.Version),
		adjByKey:   make(map[adjustmentKey]bool),
		employees:  make(map[policy.EmployeeID]policy.Employee),
		identities: make(map[policy.UserID]policy.Identity),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.policies {
		c.policies[k] = v
	}
	for k, v := range s.versions {
		c.versions[k] = v
	}
	c.approvals = append(c.approvals, s.approvals...)
	c.executions = append(c.executions, s.executions...)
	c.adjustments = append(c.adjustments, s.adjustments...)
	for k, v := range s.adjByKey {
		c.adjByKey[k] = v
	}
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.identities {
		c.identities[k] = v
	}
	return c
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot, restored on error or panic.
func (m *Memory) WithTx(_ context.Context, fn func(policy.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	committed := false
	defer func() {
		if !committed {
			m.state = snapshot
		}
	}()

	if err := fn(m.state); err != nil {
		return err
	}
	committed = true
	return nil
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	defer m.locked()()
	m.state = newMemState()
	return nil
}

func (m *Memory) locked() func() {
	m.mu.Lock()
	return m.mu.Unlock
}

// =============================================================================
// LOCKED WRAPPERS (policy.Store outside a transaction)
// =============================================================================

func (m *Memory) GetPolicy(ctx context.Context, id policy.PolicyID) (*policy.Policy, error) {
	defer m.locked()()
	return m.state.GetPolicy(ctx, id)
}

func (m *Memory) SavePolicy(ctx context.Context, p policy.Policy) error {
	defer m.locked()()
	return m.state.SavePolicy(ctx, p)
}

func (m *Memory) ListPolicies(ctx context.Context, f policy.PolicyFilter) ([]policy.Policy, error) {
	defer m.locked()()
	return m.state.ListPolicies(ctx, f)
}

func (m *Memory) InsertVersion(ctx context.Context, v policy.Version) error {
	defer m.locked()()
	return m.state.InsertVersion(ctx, v)
}

func (m *Memory) GetVersion(ctx context.Context, id policy.PolicyID, version int) (*policy.Version, error) {
	defer m.locked()()
	return m.state.GetVersion(ctx, id, version)
}

func (m *Memory) LatestVersionNumber(ctx context.Context, id policy.PolicyID) (int, error) {
	defer m.locked()()
	return m.state.LatestVersionNumber(ctx, id)
}

func (m *Memory) ListVersions(ctx context.Context, id policy.PolicyID, offset, limit int) ([]policy.Version, int, error) {
	defer m.locked()()
	return m.state.ListVersions(ctx, id, offset, limit)
}

func (m *Memory) DeleteVersions(ctx context.Context, id policy.PolicyID, versions []int) (int, error) {
	defer m.locked()()
	return m.state.DeleteVersions(ctx, id, versions)
}

func (m *Memory) InsertApprovalRequest(ctx context.Context, r policy.ApprovalRequest) error {
	defer m.locked()()
	return m.state.InsertApprovalRequest(ctx, r)
}

func (m *Memory) PendingApprovalRequest(ctx context.Context, id policy.PolicyID) (*policy.ApprovalRequest, error) {
	defer m.locked()()
	return m.state.PendingApprovalRequest(ctx, id)
}

func (m *Memory) ResolveApprovalRequest(ctx context.Context, r policy.ApprovalRequest) error {
	defer m.locked()()
	return m.state.ResolveApprovalRequest(ctx, r)
}

func (m *Memory) ListApprovalRequests(ctx context.Context, id policy.PolicyID) ([]policy.ApprovalRequest, error) {
	defer m.locked()()
	return m.state.ListApprovalRequests(ctx, id)
}

func (m *Memory) InsertExecution(ctx context.Context, e policy.Execution) error {
	defer m.locked()()
	return m.state.InsertExecution(ctx, e)
}

func (m *Memory) ListExecutions(ctx context.Context, f policy.ExecutionFilter) ([]policy.Execution, error) {
	defer m.locked()()
	return m.state.ListExecutions(ctx, f)
}

func (m *Memory) MarkExecutionApplied(ctx context.Context, id policy.ExecutionID, run policy.PayrollRunID, at time.Time) (bool, error) {
	defer m.locked()()
	return m.state.MarkExecutionApplied(ctx, id, run, at)
}

func (m *Memory) InsertAdjustment(ctx context.Context, a policy.PayrollAdjustment) (bool, error) {
	defer m.locked()()
	return m.state.InsertAdjustment(ctx, a)
}

func (m *Memory) ListAdjustments(ctx context.Context, run policy.PayrollRunID) ([]policy.PayrollAdjustment, error) {
	defer m.locked()()
	return m.state.ListAdjustments(ctx, run)
}

func (m *Memory) SaveEmployee(ctx context.Context, e policy.Employee) error {
	defer m.locked()()
	return m.state.SaveEmployee(ctx, e)
}

func (m *Memory) GetEmployee(ctx context.Context, id policy.EmployeeID) (*policy.Employee, error) {
	defer m.locked()()
	return m.state.GetEmployee(ctx, id)
}

func (m *Memory) ListActiveEmployees(ctx context.Context, org policy.OrgID) ([]policy.Employee, error) {
	defer m.locked()()
	return m.state.ListActiveEmployees(ctx, org)
}

func (m *Memory) SaveIdentity(ctx context.Context, id policy.Identity) error {
	defer m.locked()()
	return m.state.SaveIdentity(ctx, id)
}

func (m *Memory) GetIdentity(ctx context.Context, id policy.UserID) (*policy.Identity, error) {
	defer m.locked()()
	return m.state.GetIdentity(ctx, id)
}

// =============================================================================
// STATE (unlocked; callers hold Memory.mu)
// =============================================================================

func (s *memState) GetPolicy(_ context.Context, id policy.PolicyID) (*policy.Policy, error) {
	p, ok := s.policies[id]
	if !ok {
		return nil, &policy.NotFoundError{Entity: "policy", ID: string(id)}
	}
	p.Content = p.Content.Clone()
	return &p, nil
}

func (s *memState) SavePolicy(_ context.Context, p policy.Policy) error {
	p.Content = p.Content.Clone()
	s.policies[p.ID] = p
	return nil
}

func (s *memState) ListPolicies(_ context.Context, f policy.PolicyFilter) ([]policy.Policy, error) {
	var out []policy.Policy
	for _, p := range s.policies {
		if f.OrgID != "" && p.OrgID != f.OrgID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		p.Content = p.Content.Clone()
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memState) InsertVersion(_ context.Context, v policy.Version) error {
	k := versionKey{PolicyID: v.PolicyID, Version: v.Version}
	if _, exists := s.versions[k]; exists {
		return policy.ErrDuplicateVersion
	}
	v.Content = v.Content.Clone()
	s.versions[k] = v
	return nil
}

func (s *memState) GetVersion(_ context.Context, id policy.PolicyID, version int) (*policy.Version, error) {
	v, ok := s.versions[versionKey{PolicyID: id, Version: version}]
	if !ok {
		return nil, &policy.NotFoundError{Entity: "version", PolicyID: id, Version: version}
	}
	v.Content = v.Content.Clone()
	return &v, nil
}

func (s *memState) LatestVersionNumber(_ context.Context, id policy.PolicyID) (int, error) {
	latest := 0
	for k := range s.versions {
		if k.PolicyID == id && k.Version > latest {
			latest = k.Version
		}
	}
	return latest, nil
}

func (s *memState) ListVersions(_ context.Context, id policy.PolicyID, offset, limit int) ([]policy.Version, int, error) {
	var all []policy.Version
	for k, v := range s.versions {
		if k.PolicyID == id {
			v.Content = v.Content.Clone()
			all = append(all, v)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Version > all[j].Version })
	total := len(all)
	if offset >= total {
		return []policy.Version{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (s *memState) DeleteVersions(_ context.Context, id policy.PolicyID, versions []int) (int, error) {
	deleted := 0
	for _, n := range versions {
		k := versionKey{PolicyID: id, Version: n}
		if _, ok := s.versions[k]; ok {
			delete(s.versions, k)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memState) InsertApprovalRequest(_ context.Context, r policy.ApprovalRequest) error {
	if r.Action == policy.ApprovalSubmitted {
		for _, existing := range s.approvals {
			if existing.PolicyID == r.PolicyID && existing.Action == policy.ApprovalSubmitted {
				return policy.ErrConcurrentModification
			}
		}
	}
	s.approvals = append(s.approvals, r)
	return nil
}

func (s *memState) PendingApprovalRequest(_ context.Context, id policy.PolicyID) (*policy.ApprovalRequest, error) {
	for i := len(s.approvals) - 1; i >= 0; i-- {
		r := s.approvals[i]
		if r.PolicyID == id && r.Action == policy.ApprovalSubmitted {
			return &r, nil
		}
	}
	return nil, &policy.NotFoundError{Entity: "pending approval request", PolicyID: id}
}

func (s *memState) ResolveApprovalRequest(_ context.Context, r policy.ApprovalRequest) error {
	for i := range s.approvals {
		if s.approvals[i].ID != r.ID {
			continue
		}
		if s.approvals[i].Action != policy.ApprovalSubmitted {
			return policy.ErrConcurrentModification
		}
		s.approvals[i].Action = r.Action
		s.approvals[i].ActedBy = r.ActedBy
		s.approvals[i].ActedAt = r.ActedAt
		s.approvals[i].RejectionReason = r.RejectionReason
		s.approvals[i].RequestedChanges = r.RequestedChanges
		s.approvals[i].Notes = r.Notes
		return nil
	}
	return &policy.NotFoundError{Entity: "approval request", ID: r.ID}
}

func (s *memState) ListApprovalRequests(_ context.Context, id policy.PolicyID) ([]policy.ApprovalRequest, error) {
	var out []policy.ApprovalRequest
	for i := len(s.approvals) - 1; i >= 0; i-- {
		if s.approvals[i].PolicyID == id {
			out = append(out, s.approvals[i])
		}
	}
	return out, nil
}

func (s *memState) InsertExecution(_ context.Context, e policy.Execution) error {
	for _, existing := range s.executions {
		if existing.ID == e.ID {
			return &policy.InvalidArgumentError{Field: "id", Reason: "execution already recorded"}
		}
	}
	s.executions = append(s.executions, e)
	return nil
}

func (s *memState) ListExecutions(_ context.Context, f policy.ExecutionFilter) ([]policy.Execution, error) {
	var out []policy.Execution
	for _, e := range s.executions {
		if f.OrgID != "" && e.OrgID != f.OrgID {
			continue
		}
		if f.EmployeeID != "" && e.EmployeeID != f.EmployeeID {
			continue
		}
		if f.PolicyID != "" && e.PolicyID != f.PolicyID {
			continue
		}
		if !f.From.IsZero() && e.ExecutedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !e.ExecutedAt.Before(f.To) {
			continue
		}
		if f.SuccessOnly && !e.IsSuccess {
			continue
		}
		if f.Unapplied && e.Result.AppliedToPayroll {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

func (s *memState) MarkExecutionApplied(_ context.Context, id policy.ExecutionID, run policy.PayrollRunID, at time.Time) (bool, error) {
	for i := range s.executions {
		if s.executions[i].ID != id {
			continue
		}
		if s.executions[i].Result.AppliedToPayroll {
			return false, nil
		}
		applied := at
		s.executions[i].Result.AppliedToPayroll = true
		s.executions[i].Result.PayrollRunID = run
		s.executions[i].Result.AppliedAt = &applied
		return true, nil
	}
	return false, &policy.NotFoundError{Entity: "execution", ID: string(id)}
}

func (s *memState) InsertAdjustment(_ context.Context, a policy.PayrollAdjustment) (bool, error) {
	k := adjustmentKey{ExecutionID: a.ExecutionID, Run: a.PayrollRunID}
	if s.adjByKey[k] {
		return false, nil
	}
	s.adjByKey[k] = true
	s.adjustments = append(s.adjustments, a)
	return true, nil
}

func (s *memState) ListAdjustments(_ context.Context, run policy.PayrollRunID) ([]policy.PayrollAdjustment, error) {
	var out []policy.PayrollAdjustment
	for _, a := range s.adjustments {
		if a.PayrollRunID == run {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (s *memState) SaveEmployee(_ context.Context, e policy.Employee) error {
	s.employees[e.ID] = e
	return nil
}

func (s *memState) GetEmployee(_ context.Context, id policy.EmployeeID) (*policy.Employee, error) {
	e, ok := s.employees[id]
	if !ok {
		return nil, &policy.NotFoundError{Entity: "employee", ID: string(id)}
	}
	return &e, nil
}

func (s *memState) ListActiveEmployees(_ context.Context, org policy.OrgID) ([]policy.Employee, error) {
	var out []policy.Employee
	for _, e := range s.employees {
		if e.OrgID == org && e.Active {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) SaveIdentity(_ context.Context, id policy.Identity) error {
	s.identities[id.UserID] = id
	return nil
}

func (s *memState) GetIdentity(_ context.Context, id policy.UserID) (*policy.Identity, error) {
	ident, ok := s.identities[id]
	if !ok {
		return nil, &policy.NotFoundError{Entity: "identity", ID: string(id)}
	}
	return &ident, nil
}

// Compile-time check
var _ policy.Repository = (*Memory)(nil)
