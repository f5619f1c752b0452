/*
Package versioning keeps the immutable history of a policy's content.

PURPOSE:
  Every change to a policy's description, conditions or actions is preceded
  by a snapshot of the content being replaced. History is never rewritten:
  a revert copies old content into a brand-new version.

  v1        v2        v3 (revert to v1)  v4
  ────────  ────────  ─────────────────  ─────────────────
  content A content B content B          content A (live)

VERSION NUMBERS:
  next = max(latest version row, policy.CurrentVersion) + 1

  The read and the insert happen inside one transaction. The store also
  rejects a duplicate (policy, version) pair; we retry on that error so
  writers in other processes cannot produce gaps or duplicates.

  CurrentVersion is the pointer to the newest row. Pruning never deletes it.

AUTHORING:
  CreatePolicy writes a DRAFT with CurrentVersion 0 and no version row.
  CreatePolicies does the same for a batch inside one transaction.
  EditPolicy snapshots the live content, then replaces it. PENDING policies
  cannot be edited; an edited ACTIVE policy drops back to DRAFT and has to
  be approved again.

SEE ALSO:
  - approval/: status transitions
  - policy/store.go: VersionStore
*/
package versioning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warp/policy-engine/policy"
)

const (
	maxVersionAttempts = 3

	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Service implements the version store and policy authoring.
type Service struct {
	Store  policy.Repository
	Logger *slog.Logger

	// Retain > 0 prunes history to that many versions after each snapshot.
	Retain int

	Now func() time.Time
}

func NewService(store policy.Repository) *Service {
	return &Service{
		Store:  store,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// =============================================================================
// AUTHORING
// =============================================================================

func (s *Service) CreatePolicy(ctx context.Context, org policy.OrgID, author policy.UserID, name string, content policy.Content) (*policy.Policy, error) {
	p, err := s.newDraft(org, author, name, content)
	if err != nil {
		return nil, err
	}
	if err := s.Store.SavePolicy(ctx, p); err != nil {
		return nil, err
	}

	s.logger().InfoContext(ctx, "policy created", "policy_id", p.ID, "org_id", org)
	return &p, nil
}

// NewPolicy is one entry of a CreatePolicies batch.
type NewPolicy struct {
	Name    string
	Content policy.Content
}

// CreatePolicies creates every entry in one transaction. after, when not nil,
// runs on each saved policy inside the same transaction; any error from it or
// from a create rolls the whole batch back.
func (s *Service) CreatePolicies(ctx context.Context, org policy.OrgID, author policy.UserID, defs []NewPolicy, after func(tx policy.Store, p *policy.Policy) error) ([]policy.Policy, error) {
	drafts := make([]policy.Policy, 0, len(defs))
	for i, def := range defs {
		p, err := s.newDraft(org, author, def.Name, def.Content)
		if err != nil {
			return nil, fmt.Errorf("policies[%d] %q: %w", i, def.Name, err)
		}
		drafts = append(drafts, p)
	}

	created := make([]policy.Policy, 0, len(drafts))
	err := s.Store.WithTx(ctx, func(tx policy.Store) error {
		created = created[:0]
		for _, p := range drafts {
			p := p
			if err := tx.SavePolicy(ctx, p); err != nil {
				return fmt.Errorf("create %q: %w", p.Name, err)
			}
			if after != nil {
				if err := after(tx, &p); err != nil {
					return fmt.Errorf("%q: %w", p.Name, err)
				}
				latest, err := tx.GetPolicy(ctx, p.ID)
				if err != nil {
					return err
				}
				p = *latest
			}
			created = append(created, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger().InfoContext(ctx, "policies created", "org_id", org, "count", len(created))
	return created, nil
}

func (s *Service) newDraft(org policy.OrgID, author policy.UserID, name string, content policy.Content) (policy.Policy, error) {
	name = strings.TrimSpace(name)
	if org == "" {
		return policy.Policy{}, &policy.InvalidArgumentError{Field: "org_id", Reason: "required"}
	}
	if name == "" {
		return policy.Policy{}, &policy.InvalidArgumentError{Field: "name", Reason: "required"}
	}
	normalized, err := policy.NormalizeContent(content)
	if err != nil {
		return policy.Policy{}, err
	}

	now := s.now()
	return policy.Policy{
		ID:        policy.PolicyID(uuid.NewString()),
		OrgID:     org,
		Name:      name,
		Content:   normalized,
		Status:    policy.StatusDraft,
		CreatedBy: author,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// EditPolicy snapshots the current content and then replaces it.
//
// PENDING content is frozen until the request is resolved. Editing an ACTIVE
// policy returns it to DRAFT, disabled and without its approval, so the new
// content cannot run before it is approved. DRAFT and PAUSED keep their status.
func (s *Service) EditPolicy(ctx context.Context, id policy.PolicyID, author policy.UserID, content policy.Content, reason string) (*policy.Policy, error) {
	normalized, err := policy.NormalizeContent(content)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "Policy updated"
	}

	var updated *policy.Policy
	err = s.withVersionRetry(ctx, func(tx policy.Store) error {
		p, err := tx.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == policy.StatusPending {
			return &policy.InvalidStateError{PolicyID: id, Status: p.Status, Op: "edit"}
		}
		if _, err := s.snapshot(ctx, tx, p, author, reason); err != nil {
			return err
		}
		if p.Status == policy.StatusActive {
			p.Status = policy.StatusDraft
			p.Enabled = false
			p.ApprovedBy = ""
			p.ApprovedAt = nil
		}
		p.Content = normalized
		p.UpdatedAt = s.now()
		if err := tx.SavePolicy(ctx, *p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger().InfoContext(ctx, "policy edited",
		"policy_id", id, "version", updated.CurrentVersion, "status", updated.Status)
	return updated, nil
}

func (s *Service) GetPolicy(ctx context.Context, id policy.PolicyID) (*policy.Policy, error) {
	return s.Store.GetPolicy(ctx, id)
}

func (s *Service) ListPolicies(ctx context.Context, org policy.OrgID, status policy.Status) ([]policy.Policy, error) {
	if status != "" && !status.Valid() {
		return nil, &policy.InvalidArgumentError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return s.Store.ListPolicies(ctx, policy.PolicyFilter{OrgID: org, Status: status})
}

// =============================================================================
// VERSIONS
// =============================================================================

// CreateVersion snapshots the policy's live content as the next version.
func (s *Service) CreateVersion(ctx context.Context, id policy.PolicyID, author policy.UserID, reason string) (*policy.Version, error) {
	var created *policy.Version
	err := s.withVersionRetry(ctx, func(tx policy.Store) error {
		p, err := tx.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		v, err := s.snapshot(ctx, tx, p, author, reason)
		if err != nil {
			return err
		}
		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// snapshot writes the next version row for p, moves p.CurrentVersion and
// persists p. Must run inside a transaction.
func (s *Service) snapshot(ctx context.Context, tx policy.Store, p *policy.Policy, author policy.UserID, reason string) (*policy.Version, error) {
	latest, err := tx.LatestVersionNumber(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	next := max(latest, p.CurrentVersion) + 1

	now := s.now()
	v := policy.Version{
		ID:           uuid.NewString(),
		PolicyID:     p.ID,
		Version:      next,
		Content:      p.Content.Clone(),
		ChangeReason: reason,
		AuthorID:     author,
		CreatedAt:    now,
	}
	if err := tx.InsertVersion(ctx, v); err != nil {
		return nil, err
	}

	p.CurrentVersion = next
	p.UpdatedAt = now
	if err := tx.SavePolicy(ctx, *p); err != nil {
		return nil, err
	}

	if s.Retain > 0 {
		if _, err := prune(ctx, tx, p, s.Retain); err != nil {
			return nil, err
		}
	}

	s.logger().InfoContext(ctx, "policy version created",
		"policy_id", p.ID, "version", next, "author_id", author)
	return &v, nil
}

// withVersionRetry runs fn in a transaction, retrying when another writer
// took the version number first or changed a row underneath us.
func (s *Service) withVersionRetry(ctx context.Context, fn func(policy.Store) error) error {
	var err error
	for attempt := 1; attempt <= maxVersionAttempts; attempt++ {
		err = s.Store.WithTx(ctx, fn)
		if !policy.IsRetryable(err) {
			return err
		}
		s.logger().WarnContext(ctx, "version number conflict, retrying", "attempt", attempt)
	}
	return fmt.Errorf("giving up after %d attempts: %w", maxVersionAttempts, err)
}

// HistoryPage is one page of a policy's version history, newest first.
type HistoryPage struct {
	Versions   []policy.Version
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// GetVersionHistory pages through history. Page is 1-based.
func (s *Service) GetVersionHistory(ctx context.Context, id policy.PolicyID, page, limit int) (*HistoryPage, error) {
	if _, err := s.Store.GetPolicy(ctx, id); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	versions, total, err := s.Store.ListVersions(ctx, id, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{
		Versions:   versions,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

func (s *Service) GetVersion(ctx context.Context, id policy.PolicyID, version int) (*policy.Version, error) {
	return s.Store.GetVersion(ctx, id, version)
}

// RevertToVersion snapshots the live content, then copies the content of the
// given version into a brand-new version and onto the live policy. The old
// version row is left untouched and status does not change.
//
//	v1 A, v2 B, live C  --revert to 1-->  v3 C, v4 A, live A, CurrentVersion 4
func (s *Service) RevertToVersion(ctx context.Context, id policy.PolicyID, version int, actor policy.UserID) (*policy.Policy, error) {
	var reverted *policy.Policy
	err := s.withVersionRetry(ctx, func(tx policy.Store) error {
		p, err := tx.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		target, err := tx.GetVersion(ctx, id, version)
		if err != nil {
			return err
		}
		before := fmt.Sprintf("Snapshot before revert to version %d", version)
		if _, err := s.snapshot(ctx, tx, p, actor, before); err != nil {
			return err
		}
		p.Content = target.Content.Clone()
		if _, err := s.snapshot(ctx, tx, p, actor, fmt.Sprintf("Reverted to version %d", version)); err != nil {
			return err
		}
		reverted = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger().InfoContext(ctx, "policy reverted", "policy_id", id, "version", version)
	return reverted, nil
}

// Comparison is the result of CompareVersions.
type Comparison struct {
	PolicyID policy.PolicyID
	From     policy.Version
	To       policy.Version
	Diff     policy.Diff
}

func (s *Service) CompareVersions(ctx context.Context, id policy.PolicyID, v1, v2 int) (*Comparison, error) {
	from, err := s.Store.GetVersion(ctx, id, v1)
	if err != nil {
		return nil, err
	}
	to, err := s.Store.GetVersion(ctx, id, v2)
	if err != nil {
		return nil, err
	}
	return &Comparison{
		PolicyID: id,
		From:     *from,
		To:       *to,
		Diff:     policy.DiffContent(from.Content, to.Content),
	}, nil
}

// PruneOldVersions keeps the newest keep versions and returns how many rows
// were deleted. Having fewer than keep versions is not an error.
func (s *Service) PruneOldVersions(ctx context.Context, id policy.PolicyID, keep int) (int, error) {
	if keep < 1 {
		return 0, &policy.InvalidArgumentError{Field: "keep", Reason: "must be at least 1"}
	}

	var deleted int
	err := s.Store.WithTx(ctx, func(tx policy.Store) error {
		p, err := tx.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		deleted, err = prune(ctx, tx, p, keep)
		return err
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger().InfoContext(ctx, "policy versions pruned", "policy_id", id, "deleted", deleted, "kept", keep)
	}
	return deleted, nil
}

func prune(ctx context.Context, tx policy.Store, p *policy.Policy, keep int) (int, error) {
	versions, total, err := tx.ListVersions(ctx, p.ID, 0, 0)
	if err != nil {
		return 0, err
	}
	if total <= keep {
		return 0, nil
	}

	var doomed []int
	for _, v := range versions[keep:] {
		if v.Version == p.CurrentVersion {
			continue
		}
		doomed = append(doomed, v.Version)
	}
	return tx.DeleteVersions(ctx, p.ID, doomed)
}
