/*
Package factory provides JSON/YAML to Go policy conversion.

PURPOSE:
  Converts policy definitions into policy.Content ready for the versioning
  service. This enables policy configuration without code changes - HR
  can keep rule books in YAML, and the factory creates the proper Go structs.

JSON SCHEMA:
  {
    "name": "Late arrival deduction",
    "description": "Deduct 50 after three late arrivals in a month",
    "conditions": {
      "trigger": "late_arrival",
      "operator": ">=",
      "count": 3,
      "window": "month",
      "expression": "count >= 3"
    },
    "actions": [
      {"type": "deduction", "amount": "50", "reason": "Repeated lateness"}
    ]
  }

YAML FILES:
  A rule book is a list under "policies:" using the same field names.

KEY FEATURES:
  - Accepts amounts as JSON numbers, JSON strings or YAML scalars
  - Accepts every action alias policy.NormalizeActionKind knows
  - Validates through policy.NormalizeContent (CEL expressions included)

USAGE:
  f := factory.NewPolicyFactory()

  // From a preset (recommended)
  def, err := f.ParsePolicy(factory.LateArrivalJSON("Late arrival", 3, "50"))

  // From a rule book
  defs, err := f.ParseRuleBook(yamlBytes)

  // Use in system
  versions.CreatePolicy(ctx, org, author, def.Name, def.Content)

SEE ALSO:
  - presets.go: Ready-made definitions
  - policy/validate.go: Content validation
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/policy-engine/policy"
)

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// PolicyJSON is the serialized form of a policy definition.
type PolicyJSON struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Conditions  ConditionsJSON `json:"conditions" yaml:"conditions"`
	Actions     []ActionJSON   `json:"actions" yaml:"actions"`
}

// ConditionsJSON mirrors policy.Conditions.
type ConditionsJSON struct {
	Trigger    string `json:"trigger" yaml:"trigger"`
	Operator   string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Count      int    `json:"count,omitempty" yaml:"count,omitempty"`
	Window     string `json:"window,omitempty" yaml:"window,omitempty"`
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// ActionJSON is one action. Type takes any known alias ("deduct", "reward").
type ActionJSON struct {
	Type   string `json:"type" yaml:"type"`
	Amount Amount `json:"amount" yaml:"amount"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Amount decodes from JSON numbers, JSON strings and YAML scalars without
// passing through float64.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", n.Line)
	}
	d, err := decimal.NewFromString(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid amount %q: %w", n.Line, n.Value, err)
	}
	a.Decimal = d
	return nil
}

func (a Amount) MarshalYAML() (any, error) {
	return a.String(), nil
}

// RuleBook is the top-level document of a YAML policy file.
type RuleBook struct {
	Policies []PolicyJSON `yaml:"policies"`
}

// Definition is a parsed, validated policy ready to be created.
type Definition struct {
	Name    string
	Content policy.Content
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts serialized definitions to domain content.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a Definition.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (*Definition, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// ParseRuleBook parses a YAML rule book. The first invalid entry fails the
// whole book so nothing is half-imported.
func (f *PolicyFactory) ParseRuleBook(data []byte) ([]Definition, error) {
	var book RuleBook
	if err := yaml.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("failed to parse rule book: %w", err)
	}
	if len(book.Policies) == 0 {
		return nil, fmt.Errorf("rule book has no policies")
	}

	defs := make([]Definition, 0, len(book.Policies))
	for i, pj := range book.Policies {
		def, err := f.FromJSON(pj)
		if err != nil {
			return nil, fmt.Errorf("policies[%d] %q: %w", i, pj.Name, err)
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// FromJSON converts PolicyJSON to a validated Definition.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (*Definition, error) {
	if pj.Name == "" {
		return nil, &policy.InvalidArgumentError{Field: "name", Reason: "required"}
	}

	content := policy.Content{
		Description: pj.Description,
		Conditions: policy.Conditions{
			Trigger:    pj.Conditions.Trigger,
			Operator:   pj.Conditions.Operator,
			Count:      pj.Conditions.Count,
			Window:     pj.Conditions.Window,
			Expression: pj.Conditions.Expression,
		},
	}
	for _, aj := range pj.Actions {
		content.Actions = append(content.Actions, policy.Action{
			Kind:   policy.ActionKind(aj.Type),
			Value:  aj.Amount.Decimal,
			Reason: aj.Reason,
		})
	}

	normalized, err := policy.NormalizeContent(content)
	if err != nil {
		return nil, err
	}
	return &Definition{Name: pj.Name, Content: normalized}, nil
}

// ToJSON converts a stored policy back to its definition form.
func (f *PolicyFactory) ToJSON(p policy.Policy) PolicyJSON {
	pj := PolicyJSON{
		Name:        p.Name,
		Description: p.Content.Description,
		Conditions: ConditionsJSON{
			Trigger:    p.Content.Conditions.Trigger,
			Operator:   p.Content.Conditions.Operator,
			Count:      p.Content.Conditions.Count,
			Window:     p.Content.Conditions.Window,
			Expression: p.Content.Conditions.Expression,
		},
	}
	for _, a := range p.Content.Actions {
		pj.Actions = append(pj.Actions, ActionJSON{
			Type:   string(a.Kind),
			Amount: Amount{a.Value},
			Reason: a.Reason,
		})
	}
	return pj
}
