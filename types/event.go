package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Built-in event kinds.
const (
	KindStart = "start"
	KindStop  = "stop"
)

// ErrInvalidEvent is returned when an event cannot be encoded.
var ErrInvalidEvent = errors.New("invalid event")

// Event is an immutable value routed between nodes. Routing is keyed by
// Kind, never by the event instance.
type Event interface {
	Kind() string
}

// StartEvent begins every run.
type StartEvent struct{}

// Kind implements Event.
func (StartEvent) Kind() string { return KindStart }

// StopEvent ends a run. Result, when set, is stored in the final state.
type StopEvent struct {
	Result interface{} `json:"result,omitempty"`
}

// Kind implements Event.
func (StopEvent) Kind() string { return KindStop }

// IsStop reports whether ev terminates a run.
func IsStop(ev Event) bool {
	return ev != nil && ev.Kind() == KindStop
}

// EventEnvelope is the persisted form of an event.
type EventEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeEvent wraps ev into an envelope tagged with its kind.
func EncodeEvent(ev Event) (EventEnvelope, error) {
	if ev == nil {
		return EventEnvelope{}, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("%w: kind=%s: %v", ErrInvalidEvent, ev.Kind(), err)
	}
	return EventEnvelope{Kind: ev.Kind(), Payload: data}, nil
}
