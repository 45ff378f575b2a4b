package workflow

import (
	"context"
	"fmt"

	"github.com/songzhibin97/eventflow/rules"
	"github.com/songzhibin97/eventflow/types"
)

// Branch pairs a boolean expression over the workflow state with the event
// returned when it holds.
type Branch struct {
	Condition string
	Event     types.Event
}

// BranchNode routes on rule expressions. Branches are evaluated in order
// against the state; the first match wins. Expressions see the state values
// by key plus the incoming event kind as "event".
type BranchNode struct {
	BaseNode
	branches  []Branch
	fallback  types.Event
	evaluator rules.Evaluator
}

// BranchOption configures a BranchNode.
type BranchOption func(*BranchNode)

// WithFallback sets the event returned when no branch matches. Without it
// the node fails with ErrNoBranchMatched.
func WithFallback(ev types.Event) BranchOption {
	return func(n *BranchNode) {
		n.fallback = ev
	}
}

// WithEvaluator replaces the default expr evaluator.
func WithEvaluator(evaluator rules.Evaluator) BranchOption {
	return func(n *BranchNode) {
		if evaluator != nil {
			n.evaluator = evaluator
		}
	}
}

// NewBranchNode creates a branch node.
func NewBranchNode(name string, branches []Branch, opts ...BranchOption) *BranchNode {
	n := &BranchNode{
		branches:  branches,
		evaluator: rules.NewExprEvaluator(),
	}
	for _, opt := range opts {
		opt(n)
	}

	var emits []string
	seen := make(map[string]bool)
	for _, b := range n.branches {
		if b.Event != nil && !seen[b.Event.Kind()] {
			seen[b.Event.Kind()] = true
			emits = append(emits, b.Event.Kind())
		}
	}
	if n.fallback != nil && !seen[n.fallback.Kind()] {
		emits = append(emits, n.fallback.Kind())
	}
	n.BaseNode = NewBaseNode(name, emits...)
	return n
}

// Run implements Node.
func (n *BranchNode) Run(ctx context.Context, ev types.Event, state *types.WorkflowState) (types.Event, error) {
	env := state.ToMap()
	env["event"] = ev.Kind()

	for _, b := range n.branches {
		ok, err := n.evaluator.Evaluate(b.Condition, env)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate condition '%s': %w", b.Condition, err)
		}
		if ok {
			return b.Event, nil
		}
	}
	if n.fallback != nil {
		return n.fallback, nil
	}
	return nil, fmt.Errorf("%w: node %s", ErrNoBranchMatched, n.Name())
}
