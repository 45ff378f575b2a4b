package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/songzhibin97/eventflow/types"
)

// decodeEvent rebuilds a persisted event using the prototype registered for
// its kind, so the node receives the same concrete type it was routed before
// the run was suspended.
func (w *Workflow) decodeEvent(env types.EventEnvelope) (types.Event, error) {
	if env.Kind == "" {
		return nil, fmt.Errorf("%w: snapshot event has no kind", types.ErrInvalidEvent)
	}
	r, ok := w.route(env.Kind)
	if !ok {
		return nil, &RoutingError{Kind: env.Kind}
	}
	return decodeAs(r.proto, env)
}

func decodeAs(proto types.Event, env types.EventEnvelope) (types.Event, error) {
	t := reflect.TypeOf(proto)
	isPtr := t.Kind() == reflect.Ptr
	if isPtr {
		t = t.Elem()
	}

	v := reflect.New(t)
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, v.Interface()); err != nil {
			return nil, fmt.Errorf("%w: failed to decode %q: %v", types.ErrInvalidEvent, env.Kind, err)
		}
	}

	var out interface{}
	if isPtr {
		out = v.Interface()
	} else {
		out = v.Elem().Interface()
	}
	ev, ok := out.(types.Event)
	if !ok || ev.Kind() != env.Kind {
		return nil, fmt.Errorf("%w: %T does not decode kind %q", types.ErrInvalidEvent, proto, env.Kind)
	}
	return ev, nil
}
