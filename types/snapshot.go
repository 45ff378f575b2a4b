package types

import "time"

// Snapshot is the durable record of a suspended run. It holds everything
// needed to resume the run in another process.
type Snapshot struct {
	RunID     string            `json:"run_id"`
	Node      string            `json:"node"`
	Request   *InterruptRequest `json:"request,omitempty"`
	State     *WorkflowState    `json:"state"`
	Event     EventEnvelope     `json:"event"`
	CreatedAt int64             `json:"created_at"`
}

// NewSnapshot builds a snapshot for the given run, encoding ev.
func NewSnapshot(runID, node string, req *InterruptRequest, state *WorkflowState, ev Event) (*Snapshot, error) {
	env, err := EncodeEvent(ev)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		RunID:     runID,
		Node:      node,
		Request:   req,
		State:     state,
		Event:     env,
		CreatedAt: time.Now().UnixMilli(),
	}, nil
}
