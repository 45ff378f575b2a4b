package workflow

import (
	"errors"
	"fmt"
)

// Standard error definitions
var (
	// Configuration errors
	ErrNoStartNode    = errors.New("no node registered for the start event")
	ErrDuplicateRoute = errors.New("duplicate route for event kind")
	ErrInvalidRoute   = errors.New("invalid route")
	ErrDanglingEvent  = errors.New("declared event has no registered node")
	ErrNodeMismatch   = errors.New("snapshot node does not match the routing table")

	// Routing errors
	ErrNoRoute  = errors.New("no node registered for event")
	ErrNilEvent = errors.New("node returned a nil event")

	// Run errors
	ErrNothingToResume = errors.New("nothing to resume")
	ErrRunInProgress   = errors.New("workflow run already in progress")
	ErrRunSuspended    = errors.New("run is suspended, resume it instead")
	ErrNoContext       = errors.New("node has no workflow context")
	ErrStreamAborted   = errors.New("event stream consumer aborted the run")
	ErrNoBranchMatched = errors.New("no branch condition matched")
)

// RoutingError reports an event kind that no node handles. It indicates a
// malformed graph and is never retried.
type RoutingError struct {
	Kind string // event kind without a route
	From string // node that produced the event, empty for the initial event
}

func (e *RoutingError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("%s: %q", ErrNoRoute, e.Kind)
	}
	return fmt.Sprintf("%s: %q (emitted by %s)", ErrNoRoute, e.Kind, e.From)
}

func (e *RoutingError) Unwrap() error {
	return ErrNoRoute
}
