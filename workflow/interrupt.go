package workflow

import (
	"errors"
	"fmt"

	"github.com/songzhibin97/eventflow/types"
)

// Interrupt suspends a run. Nodes return it as their error; the engine
// persists it and hands it back to the caller of Run or Resume, who may
// resume the run later with feedback.
type Interrupt struct {
	RunID   string
	Node    string
	Request *types.InterruptRequest
	State   *types.WorkflowState
	Event   types.Event
}

func (i *Interrupt) Error() string {
	msg := ""
	if i.Request != nil {
		msg = i.Request.Message
	}
	return fmt.Sprintf("workflow %s interrupted at node %s: %s", i.RunID, i.Node, msg)
}

// AsInterrupt reports whether err carries an Interrupt and returns it.
func AsInterrupt(err error) (*Interrupt, bool) {
	var intr *Interrupt
	if errors.As(err, &intr) {
		return intr, true
	}
	return nil, false
}
