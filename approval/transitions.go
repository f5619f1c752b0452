package approval

import (
	"fmt"
	"strings"

	"github.com/warp/policy-engine/policy"
)

// Transition is a workflow action that moves a policy between statuses.
type Transition string

const (
	TransitionSubmit         Transition = "submit"
	TransitionApprove        Transition = "approve"
	TransitionReject         Transition = "reject"
	TransitionRequestChanges Transition = "request_changes"
)

// Transitions lists every workflow action in table order.
var Transitions = []Transition{
	TransitionSubmit,
	TransitionApprove,
	TransitionReject,
	TransitionRequestChanges,
}

// table is the complete set of legal moves. Anything missing is rejected.
// ACTIVE has no outgoing transitions here; pausing happens outside approval.
var table = map[policy.Status]map[Transition]policy.Status{
	policy.StatusDraft: {
		TransitionSubmit: policy.StatusPending,
	},
	policy.StatusPending: {
		TransitionApprove:        policy.StatusActive,
		TransitionReject:         policy.StatusDraft,
		TransitionRequestChanges: policy.StatusDraft,
	},
	policy.StatusActive: {},
	policy.StatusPaused: {
		TransitionSubmit: policy.StatusPending,
	},
}

// Next returns the status reached by applying t in from.
func Next(from policy.Status, t Transition) (policy.Status, bool) {
	to, ok := table[from][t]
	return to, ok
}

// RenderTable prints every (status, transition) pair, one per line, with "-"
// for rejected moves.
func RenderTable() string {
	var b strings.Builder
	for _, from := range policy.Statuses {
		for _, t := range Transitions {
			to := "-"
			if next, ok := Next(from, t); ok {
				to = string(next)
			}
			fmt.Fprintf(&b, "%s %s -> %s\n", from, t, to)
		}
	}
	return b.String()
}
