package workflow

import (
	"context"

	"github.com/songzhibin97/eventflow/types"
)

// Node consumes one event plus the shared state and produces the next
// event. A node suspends the run by returning an *Interrupt error.
type Node interface {
	// Name identifies the node. Resume feedback is keyed by it, so it must
	// be stable across processes.
	Name() string

	// SetContext is called by the engine immediately before Run.
	SetContext(wctx *Context)

	// Run executes the node.
	Run(ctx context.Context, ev types.Event, state *types.WorkflowState) (types.Event, error)
}

// Emitter is implemented by nodes that declare the event kinds they may
// return. The declaration is used for validation and diagram export only;
// routing follows the event actually returned.
type Emitter interface {
	Emits() []string
}

// BaseNode provides the context plumbing shared by most nodes. Embed it and
// implement Run.
type BaseNode struct {
	name  string
	emits []string
	wctx  *Context
}

// NewBaseNode creates a BaseNode that declares the given event kinds.
func NewBaseNode(name string, emits ...string) BaseNode {
	return BaseNode{name: name, emits: emits}
}

func (n *BaseNode) Name() string { return n.name }

func (n *BaseNode) Emits() []string { return n.emits }

func (n *BaseNode) SetContext(wctx *Context) { n.wctx = wctx }

// Context returns the context of the current execution.
func (n *BaseNode) Context() *Context { return n.wctx }

// Interrupt suspends the run, or returns the resume feedback for this node.
func (n *BaseNode) Interrupt(req *types.InterruptRequest) (interface{}, error) {
	if n.wctx == nil {
		return nil, ErrNoContext
	}
	return n.wctx.Interrupt(req)
}

// Emit streams a progress event to the handler consuming this run.
func (n *BaseNode) Emit(ev types.Event) {
	if n.wctx != nil {
		n.wctx.Emit(ev)
	}
}

// RunFunc is the body of a FuncNode.
type RunFunc func(ctx context.Context, wctx *Context, ev types.Event, state *types.WorkflowState) (types.Event, error)

// FuncNode adapts a function to the Node interface.
type FuncNode struct {
	BaseNode
	fn RunFunc
}

// NewFuncNode creates a node running fn.
func NewFuncNode(name string, fn RunFunc, emits ...string) *FuncNode {
	return &FuncNode{BaseNode: NewBaseNode(name, emits...), fn: fn}
}

// Run implements Node.
func (n *FuncNode) Run(ctx context.Context, ev types.Event, state *types.WorkflowState) (types.Event, error) {
	return n.fn(ctx, n.Context(), ev, state)
}

// Route binds the kind of a prototype event to the node handling it. The
// prototype's concrete type is also used to decode the event when a
// suspended run is resumed.
type Route struct {
	Event types.Event
	Node  Node
}

// On creates a Route.
func On(ev types.Event, node Node) Route {
	return Route{Event: ev, Node: node}
}

// NodeInfo describes a route for introspection.
type NodeInfo struct {
	Event string
	Node  string
	Emits []string
}
