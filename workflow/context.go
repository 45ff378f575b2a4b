package workflow

import (
	"sync"

	"github.com/songzhibin97/eventflow/storage"
	"github.com/songzhibin97/eventflow/types"
)

// Context is handed to a node before each execution. It is rebuilt for
// every step and never persisted.
type Context struct {
	RunID    string
	Node     string
	Storage  storage.Storage
	State    *types.WorkflowState
	Event    types.Event
	Resuming bool
	Feedback map[string]interface{}

	emitMu   sync.Mutex
	emit     func(types.Event)
	consumed bool
}

// Interrupt asks the engine to suspend the run with req. When the run is
// being resumed and feedback was supplied for this node, the feedback is
// returned instead, so nodes can call Interrupt unconditionally.
//
// Feedback is handed out once per execution: a second Interrupt call in the
// same execution suspends again. Nodes asking for several approvals in
// sequence keep track of the answered steps in the workflow state.
func (c *Context) Interrupt(req *types.InterruptRequest) (interface{}, error) {
	if c.Resuming && !c.consumed {
		if fb, ok := c.Feedback[c.Node]; ok {
			c.consumed = true
			return fb, nil
		}
	}
	return nil, &Interrupt{
		RunID:   c.RunID,
		Node:    c.Node,
		Request: req,
		State:   c.State,
		Event:   c.Event,
	}
}

// Emit forwards a progress event to the handler stream, if any. Emitted
// events are not routed.
//
// Emit is meant for the duration of the node's Run. Calls from helper
// goroutines are serialized with the stream, and the consumer's loop body
// then runs on the emitting goroutine. Events emitted after Run returned
// are dropped.
func (c *Context) Emit(ev types.Event) {
	if ev == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.emit != nil {
		c.emit(ev)
	}
}

// detach stops forwarding emitted events once the node has returned.
func (c *Context) detach() {
	c.emitMu.Lock()
	c.emit = nil
	c.emitMu.Unlock()
}
