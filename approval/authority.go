package approval

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/shopspring/decimal"

	"github.com/warp/policy-engine/policy"
)

// =============================================================================
// REQUIRED LEVEL
// =============================================================================

// DefaultCEOThreshold is the action value above which CEO approval is needed.
var DefaultCEOThreshold = decimal.NewFromInt(500)

// Thresholds resolves the CEO threshold per organization.
type Thresholds struct {
	Default decimal.Decimal
	PerOrg  map[policy.OrgID]decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{Default: DefaultCEOThreshold}
}

// For returns the threshold for org, falling back to the default.
func (t Thresholds) For(org policy.OrgID) decimal.Decimal {
	if v, ok := t.PerOrg[org]; ok {
		return v
	}
	return t.Default
}

// RequiredLevel returns CEO when any action value is strictly above threshold.
func RequiredLevel(c policy.Content, threshold decimal.Decimal) policy.ApprovalLevel {
	for _, a := range c.Actions {
		if a.Value.GreaterThan(threshold) {
			return policy.LevelCEO
		}
	}
	return policy.LevelHR
}

// HigherLevel returns the stricter of two approval levels.
func HigherLevel(a, b policy.ApprovalLevel) policy.ApprovalLevel {
	if a == policy.LevelCEO || b == policy.LevelCEO {
		return policy.LevelCEO
	}
	return policy.LevelHR
}

// =============================================================================
// AUTHORITY - Explicit role sets per approval level
// =============================================================================

const authorityModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

// Roles lists the role slugs allowed to approve at each level.
type Roles struct {
	HR  []string
	CEO []string
}

func DefaultRoles() Roles {
	return Roles{
		HR:  []string{"admin", "hr", "hr_manager", "manager", "ceo", "owner"},
		CEO: []string{"ceo", "owner", "admin"},
	}
}

// Authority decides whether an identity may approve at a level. A role or job
// title must equal one of the configured slugs after normalization; "Senior
// HR Partner" does not qualify as "hr".
type Authority struct {
	enforcer *casbin.SyncedEnforcer
}

func NewAuthority(roles Roles) (*Authority, error) {
	m, err := model.NewModelFromString(authorityModel)
	if err != nil {
		return nil, fmt.Errorf("authority model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authority enforcer: %w", err)
	}

	grant := func(level policy.ApprovalLevel, slugs []string) error {
		for _, slug := range slugs {
			slug = RoleSlug(slug)
			if slug == "" {
				continue
			}
			if _, err := enforcer.AddPolicy(subject(slug), object(level), "approve"); err != nil {
				return fmt.Errorf("grant %s to %s: %w", level, slug, err)
			}
		}
		return nil
	}
	if err := grant(policy.LevelHR, roles.HR); err != nil {
		return nil, err
	}
	if err := grant(policy.LevelCEO, roles.CEO); err != nil {
		return nil, err
	}
	return &Authority{enforcer: enforcer}, nil
}

// RoleSlug normalizes a role or job title: "HR Manager" -> "hr_manager".
func RoleSlug(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return s
}

func subject(slug string) string               { return "role:" + slug }
func object(level policy.ApprovalLevel) string { return "level:" + string(level) }

// CanApprove checks both the role and the job title of the identity.
func (a *Authority) CanApprove(id policy.Identity, level policy.ApprovalLevel) (bool, error) {
	for _, raw := range []string{id.Role, id.JobTitle} {
		slug := RoleSlug(raw)
		if slug == "" {
			continue
		}
		ok, err := a.enforcer.Enforce(subject(slug), object(level), "approve")
		if err != nil {
			return false, fmt.Errorf("authority check: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
