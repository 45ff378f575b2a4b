package types

import (
	"errors"
	"fmt"
)

// Decision is the resolution state of an Action.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionEdit     Decision = "edit"
)

var (
	ErrDuplicateAction = errors.New("duplicate action id")
	ErrActionNotFound  = errors.New("action not found")
	ErrActionResolved  = errors.New("action already resolved")
	ErrEmptyActionID   = errors.New("action id cannot be empty")
)

// Action is one decision a human has to take before a run can continue.
type Action struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Decision    Decision `json:"decision"`
	Feedback    string   `json:"feedback,omitempty"`
}

// IsPending reports whether the action still waits for a decision.
func (a *Action) IsPending() bool {
	return a.Decision == "" || a.Decision == DecisionPending
}

// InterruptRequest describes why a node suspended the run.
type InterruptRequest struct {
	Message string    `json:"message"`
	Actions []*Action `json:"actions,omitempty"`
}

// ApprovalRequest is an InterruptRequest whose actions need approval.
type ApprovalRequest = InterruptRequest

// NewInterruptRequest creates a request with the given message and actions.
func NewInterruptRequest(message string, actions ...*Action) (*InterruptRequest, error) {
	req := &InterruptRequest{Message: message}
	for _, a := range actions {
		if err := req.AddAction(a); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// AddAction appends a pending action. Action ids are unique per request.
func (r *InterruptRequest) AddAction(a *Action) error {
	if a == nil || a.ID == "" {
		return ErrEmptyActionID
	}
	if r.Action(a.ID) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, a.ID)
	}
	if a.Decision == "" {
		a.Decision = DecisionPending
	}
	r.Actions = append(r.Actions, a)
	return nil
}

// Action returns the action with the given id, or nil.
func (r *InterruptRequest) Action(id string) *Action {
	for _, a := range r.Actions {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Approve marks a pending action approved.
func (r *InterruptRequest) Approve(id, feedback string) error {
	return r.decide(id, DecisionApproved, feedback)
}

// Reject marks a pending action rejected.
func (r *InterruptRequest) Reject(id, feedback string) error {
	return r.decide(id, DecisionRejected, feedback)
}

// Edit marks a pending action as edited, feedback carrying the edit.
func (r *InterruptRequest) Edit(id, feedback string) error {
	return r.decide(id, DecisionEdit, feedback)
}

func (r *InterruptRequest) decide(id string, d Decision, feedback string) error {
	a := r.Action(id)
	if a == nil {
		return fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	if !a.IsPending() {
		return fmt.Errorf("%w: %s is %s", ErrActionResolved, id, a.Decision)
	}
	a.Decision = d
	a.Feedback = feedback
	return nil
}

// PendingActions returns the actions still waiting for a decision.
func (r *InterruptRequest) PendingActions() []*Action {
	return r.filter(func(a *Action) bool { return a.IsPending() })
}

// ApprovedActions returns the approved actions.
func (r *InterruptRequest) ApprovedActions() []*Action {
	return r.filter(func(a *Action) bool { return a.Decision == DecisionApproved })
}

// RejectedActions returns the rejected actions.
func (r *InterruptRequest) RejectedActions() []*Action {
	return r.filter(func(a *Action) bool { return a.Decision == DecisionRejected })
}

// EditedActions returns the actions resolved with an edit.
func (r *InterruptRequest) EditedActions() []*Action {
	return r.filter(func(a *Action) bool { return a.Decision == DecisionEdit })
}

// IsResolved reports whether no action is pending. Deciding when a request
// is complete enough to resume is up to the caller.
func (r *InterruptRequest) IsResolved() bool {
	return len(r.PendingActions()) == 0
}

func (r *InterruptRequest) filter(keep func(*Action) bool) []*Action {
	var out []*Action
	for _, a := range r.Actions {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}
