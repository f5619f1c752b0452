package versioning_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/policy-engine/policy"
	memstore "github.com/warp/policy-engine/policy/store"
	"github.com/warp/policy-engine/store/sqlite"
	"github.com/warp/policy-engine/versioning"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) *versioning.Service {
	return versioning.NewService(memstore.NewMemory())
}

func content(description string, deduct int64) policy.Content {
	return policy.Content{
		Description: description,
		Conditions:  policy.Conditions{Trigger: "late_arrival", Operator: ">=", Count: 3, Window: "month"},
		Actions:     []policy.Action{{Kind: policy.ActionDeduction, Value: decimal.NewFromInt(deduct)}},
	}
}

func createPolicy(t *testing.T, svc *versioning.Service) *policy.Policy {
	p, err := svc.CreatePolicy(context.Background(), "org-1", "hr-1", "Late arrivals", content("Deduct after lateness", 50))
	require.NoError(t, err)
	return p
}

// =============================================================================
// AUTHORING
// =============================================================================

func TestCreatePolicy_DraftWithoutVersions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p := createPolicy(t, svc)

	assert.Equal(t, policy.StatusDraft, p.Status)
	assert.Equal(t, 0, p.CurrentVersion)

	history, err := svc.GetVersionHistory(ctx, p.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, history.Total)
}

func TestCreatePolicy_NormalizesActionAliases(t *testing.T) {
	svc := newTestService(t)

	c := content("Reward punctuality", 10)
	c.Actions[0].Kind = "reward"
	p, err := svc.CreatePolicy(context.Background(), "org-1", "hr-1", "Punctual", c)

	require.NoError(t, err)
	assert.Equal(t, policy.ActionBonus, p.Content.Actions[0].Kind)
}

func TestCreatePolicy_InvalidContentRejected(t *testing.T) {
	svc := newTestService(t)

	c := content("Bad expression", 10)
	c.Conditions.Expression = "count + 1"
	_, err := svc.CreatePolicy(context.Background(), "org-1", "hr-1", "Broken", c)

	assert.ErrorIs(t, err, policy.ErrInvalidArgument)
}

func TestCreatePolicies_AllOrNothing(t *testing.T) {
	for name, newStore := range map[string]func(t *testing.T) policy.Repository{
		"memory": func(t *testing.T) policy.Repository { return memstore.NewMemory() },
		"sqlite": func(t *testing.T) policy.Repository {
			s, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	} {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A batch of two valid policies
			store := newStore(t)
			svc := versioning.NewService(store)
			ctx := context.Background()
			batch := []versioning.NewPolicy{
				{Name: "Late arrivals", Content: content("Deduct after lateness", 50)},
				{Name: "No shows", Content: content("Deduct after absence", 80)},
			}

			// WHEN: The per-policy step fails on the second entry
			calls := 0
			_, err := svc.CreatePolicies(ctx, "org-1", "hr-1", batch, func(tx policy.Store, p *policy.Policy) error {
				calls++
				if p.Name == "No shows" {
					return policy.ErrConcurrentModification
				}
				return nil
			})

			// THEN: The first policy is rolled back too
			require.ErrorIs(t, err, policy.ErrConcurrentModification)
			assert.Contains(t, err.Error(), "No shows")
			assert.Equal(t, 2, calls)
			all, err := store.ListPolicies(ctx, policy.PolicyFilter{OrgID: "org-1"})
			require.NoError(t, err)
			assert.Empty(t, all)

			// Without a failure both are written as drafts
			created, err := svc.CreatePolicies(ctx, "org-1", "hr-1", batch, nil)
			require.NoError(t, err)
			require.Len(t, created, 2)
			for _, p := range created {
				assert.Equal(t, policy.StatusDraft, p.Status)
			}
			all, err = store.ListPolicies(ctx, policy.PolicyFilter{OrgID: "org-1"})
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestCreatePolicies_InvalidEntryWritesNothing(t *testing.T) {
	store := memstore.NewMemory()
	svc := versioning.NewService(store)
	ctx := context.Background()

	bad := content("Bad expression", 10)
	bad.Conditions.Expression = "count + 1"
	_, err := svc.CreatePolicies(ctx, "org-1", "hr-1", []versioning.NewPolicy{
		{Name: "Good", Content: content("Deduct after lateness", 50)},
		{Name: "Broken", Content: bad},
	}, nil)

	require.ErrorIs(t, err, policy.ErrInvalidArgument)
	assert.Contains(t, err.Error(), `policies[1] "Broken"`)
	all, err := store.ListPolicies(ctx, policy.PolicyFilter{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEditPolicy_SnapshotsPreviousContent(t *testing.T) {
	// GIVEN: A policy with content A
	// WHEN: It is edited to content B
	// THEN: Version 1 holds A, the live policy holds B, status is unchanged

	svc := newTestService(t)
	ctx := context.Background()
	p := createPolicy(t, svc)
	original := p.Content

	edited, err := svc.EditPolicy(ctx, p.ID, "hr-2", content("Deduct more", 75), "raise deduction")
	require.NoError(t, err)

	assert.Equal(t, 1, edited.CurrentVersion)
	assert.Equal(t, policy.StatusDraft, edited.Status)
	assert.True(t, decimal.NewFromInt(75).Equal(edited.Content.Actions[0].Value))

	v1, err := svc.GetVersion(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.True(t, original.Equal(v1.Content))
	assert.Equal(t, "raise deduction", v1.ChangeReason)
	assert.Equal(t, policy.UserID("hr-2"), v1.AuthorID)
}

// =============================================================================
// VERSION MONOTONICITY
// =============================================================================

func TestCreateVersion_SequentialNumbers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createPolicy(t, svc)

	for want := 1; want <= 4; want++ {
		v, err := svc.CreateVersion(ctx, p.ID, "hr-1", "")
		require.NoError(t, err)
		assert.Equal(t, want, v.Version)
	}

	got, err := svc.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CurrentVersion)
}

func TestCreateVersion_ConcurrentWritersGetUniqueNumbers(t *testing.T) {
	// GIVEN: One policy and 20 concurrent snapshot writers
	// WHEN: They all call CreateVersion at once
	// THEN: Versions 1..20 each exist exactly once and CurrentVersion = 20

	for name, repo := range map[string]func(t *testing.T) policy.Repository{
		"memory": func(t *testing.T) policy.Repository { return memstore.NewMemory() },
		"sqlite": func(t *testing.T) policy.Repository {
			s, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	} {
		t.Run(name, func(t *testing.T) {
			svc := versioning.NewService(repo(t))
			ctx := context.Background()
			p := createPolicy(t, svc)

			const writers = 20
			var wg sync.WaitGroup
			numbers := make(chan int, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					v, err := svc.CreateVersion(ctx, p.ID, "hr-1", "concurrent")
					if assert.NoError(t, err) {
						numbers <- v.Version
					}
				}()
			}
			wg.Wait()
			close(numbers)

			seen := map[int]bool{}
			for n := range numbers {
				assert.False(t, seen[n], "version %d handed out twice", n)
				seen[n] = true
			}
			assert.Len(t, seen, writers)
			for n := 1; n <= writers; n++ {
				assert.True(t, seen[n], "version %d missing", n)
			}

			got, err := svc.GetPolicy(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, writers, got.CurrentVersion)
		})
	}
}

// =============================================================================
// REVERT
// =============================================================================

func TestRevertToVersion_PreservesHistory(t *testing.T) {
	// GIVEN: v1 = content A, v2 = content B, live = content C
	svc := newTestService(t)
	ctx := context.Background()
	p := createPolicy(t, svc)
	contentA := p.Content

	_, err := svc.EditPolicy(ctx, p.ID, "hr-1", content("Content B", 80), "")
	require.NoError(t, err)
	_, err = svc.EditPolicy(ctx, p.ID, "hr-1", content("Content C", 90), "")
	require.NoError(t, err)

	// WHEN: Reverting to v1
	reverted, err := svc.RevertToVersion(ctx, p.ID, 1, "hr-2")
	require.NoError(t, err)

	// THEN: v3 holds C, v4 holds A and is current, live content is A
	assert.True(t, contentA.Equal(reverted.Content), "live content restored from v1")
	assert.Equal(t, 4, reverted.CurrentVersion)
	assert.Equal(t, policy.StatusDraft, reverted.Status)

	v3, err := svc.GetVersion(ctx, p.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, "Content C", v3.Content.Description)
	assert.Equal(t, "Snapshot before revert to version 1", v3.ChangeReason)

	v4, err := svc.GetVersion(ctx, p.ID, 4)
	require.NoError(t, err)
	assert.True(t, contentA.Equal(v4.Content), "the revert is a new version with v1's content")
	assert.Equal(t, "Reverted to version 1", v4.ChangeReason)
	assert.Equal(t, policy.UserID("hr-2"), v4.AuthorID)

	// AND: The original v1 and v2 are untouched
	v1, err := svc.GetVersion(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.True(t, contentA.Equal(v1.Content), "v1 must be unchanged")
	v2, err := svc.GetVersion(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "Content B", v2.Content.Description)

	history, err := svc.GetVersionHistory(ctx, p.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, history.Versions, 4)
	assert.Equal(t, 4, history.Versions[0].Version, "newest first")

	// AND: The current version always matches the live content
	live, err := svc.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	current, err := svc.GetVersion(ctx, p.ID, live.CurrentVersion)
	require.NoError(t, err)
	assert.True(t, live.Content.Equal(current.Content))
}

func TestRevertToVersion_IsUndoable(t *testing.T) {
	// GIVEN: A policy reverted from B back to A
	svc := newTestService(t)
	ctx := context.Background()
	p := createPolicy(t, svc)
	_, err := svc.EditPolicy(ctx, p.ID, "hr-1", content("Content B", 80), "")
	require.NoError(t, err)
	_, err = svc.RevertToVersion(ctx, p.ID, 1, "hr-1")
	require.NoError(t, err)

	// WHEN: Reverting to the snapshot taken before that revert
	undone, err := svc.RevertToVersion(ctx, p.ID, 2, "hr-1")

	// THEN: B is live again as version 5
	require.NoError(t, err)
	assert.Equal(t, "Content B", undone.Content.Description)
	assert.Equal(t, 5, undone.CurrentVersion)
}

func TestRevertToVersion_PrunedVersionNotFound(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createPolicy(t, svc)

	for i := 0; i < 3; i++ {
		_, err := svc.CreateVersion(ctx, p.ID, "hr-1", "")
		require.NoError(t, err)
	}
	_, err := svc.PruneOldVersions(ctx, p.ID, 1)
	require.NoError(t, err)

	_, err = svc.RevertToVersion(ctx, p.ID, 1, "hr-1")

	assert.ErrorIs(t, err, policy.ErrNotFound)
	got, err := svc.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentVersion, "failed revert must not write a version")
}

// =============================================================================
// COMPARE + PRUNE
// =============================================================================

func TestCompareVersions_FlagsChangedParts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createPolicy(t, svc)

	_, err := svc.EditPolicy(ctx, p.ID, "hr-1", content("Deduct after lateness", 90), "")
	require.NoError(t, err)
	_, err = svc.CreateVersion(ctx, p.ID, "hr-1", "")
	require.NoError(t, err)

	cmp, err := svc.CompareVersions(ctx, p.ID, 1, 2)
	require.NoError(t, err)

	assert.False(t, cmp.Diff.TextChanged)
	assert.False(t, cmp.Diff.ConditionsChanged)
	assert.True(t, cmp.Diff.ActionsChanged)

	_, err = svc.CompareVersions(ctx, p.ID, 1, 9)
	assert.ErrorIs(t, err, policy.ErrNotFound)
}

func TestPruneOldVersions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createPolicy(t, svc)

	for i := 0; i < 5; i++ {
		_, err := svc.CreateVersion(ctx, p.ID, "hr-1", "")
		require.NoError(t, err)
	}

	// Fewer than keep: silent no-op
	deleted, err := svc.PruneOldVersions(ctx, p.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	deleted, err = svc.PruneOldVersions(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	history, err := svc.GetVersionHistory(ctx, p.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, history.Versions, 2)
	assert.Equal(t, 5, history.Versions[0].Version)
	assert.Equal(t, 4, history.Versions[1].Version)

	// Numbering continues after pruning
	v, err := svc.CreateVersion(ctx, p.ID, "hr-1", "")
	require.NoError(t, err)
	assert.Equal(t, 6, v.Version)

	_, err = svc.PruneOldVersions(ctx, p.ID, 0)
	assert.ErrorIs(t, err, policy.ErrInvalidArgument)
}

func TestAutomaticRetention(t *testing.T) {
	svc := newTestService(t)
	svc.Retain = 3
	ctx := context.Background()
	p := createPolicy(t, svc)

	for i := 0; i < 6; i++ {
		_, err := svc.CreateVersion(ctx, p.ID, "hr-1", "")
		require.NoError(t, err)
	}

	history, err := svc.GetVersionHistory(ctx, p.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, history.Total)
	assert.Equal(t, 6, history.Versions[0].Version)
}

func TestGetVersionHistory_Paging(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createPolicy(t, svc)

	for i := 0; i < 5; i++ {
		_, err := svc.CreateVersion(ctx, p.ID, "hr-1", "")
		require.NoError(t, err)
	}

	page2, err := svc.GetVersionHistory(ctx, p.ID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page2.Total)
	assert.Equal(t, 3, page2.TotalPages)
	require.Len(t, page2.Versions, 2)
	assert.Equal(t, 3, page2.Versions[0].Version)

	_, err = svc.GetVersionHistory(ctx, "missing", 1, 10)
	assert.ErrorIs(t, err, policy.ErrNotFound)
}
