package types

import (
	"encoding/json"
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ResultKey holds the payload of the StopEvent that ended a run.
const ResultKey = "_result"

// WorkflowState is the ordered key/value bag shared by every node of a run.
// A single instance lives for the whole run, including suspend/resume
// cycles, and must never be shared between runs. The zero value is an empty
// state ready to use.
type WorkflowState struct {
	mu     sync.RWMutex
	values *orderedmap.OrderedMap[string, interface{}]
}

// NewWorkflowState creates a state seeded with the given values. Map
// iteration order is not stable, so use Set for ordered seeding.
func NewWorkflowState(initial map[string]interface{}) *WorkflowState {
	s := &WorkflowState{values: orderedmap.New[string, interface{}]()}
	for k, v := range initial {
		s.values.Set(k, v)
	}
	return s
}

// Get returns the value stored under key, or def when absent.
func (s *WorkflowState) Get(key string, def interface{}) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.values == nil {
		return def
	}
	if v, ok := s.values.Get(key); ok {
		return v
	}
	return def
}

// Set stores value under key, keeping the original position of existing keys.
func (s *WorkflowState) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = orderedmap.New[string, interface{}]()
	}
	s.values.Set(key, value)
}

// Has reports whether key is present.
func (s *WorkflowState) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.values == nil {
		return false
	}
	_, ok := s.values.Get(key)
	return ok
}

// Delete removes key. Missing keys are ignored.
func (s *WorkflowState) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values != nil {
		s.values.Delete(key)
	}
}

// Len returns the number of keys.
func (s *WorkflowState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.values == nil {
		return 0
	}
	return s.values.Len()
}

// Keys returns the keys in insertion order.
func (s *WorkflowState) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.values == nil {
		return []string{}
	}
	keys := make([]string, 0, s.values.Len())
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// ToMap returns a shallow copy of the state as a plain map.
func (s *WorkflowState) ToMap() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.values == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, s.values.Len())
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

// Result returns the payload of the StopEvent that completed the run.
func (s *WorkflowState) Result() interface{} {
	return s.Get(ResultKey, nil)
}

// MarshalJSON encodes the state as a JSON object in insertion order.
func (s *WorkflowState) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.values == nil {
		return []byte("{}"), nil
	}
	return s.values.MarshalJSON()
}

// UnmarshalJSON replaces the state with the decoded JSON object.
func (s *WorkflowState) UnmarshalJSON(data []byte) error {
	values := orderedmap.New[string, interface{}]()
	if err := values.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("failed to decode workflow state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = values
	return nil
}

// Value returns the value under key converted to T. Values restored from a
// snapshot come back as generic JSON, so they are re-decoded into T.
func Value[T any](s *WorkflowState, key string) (T, bool) {
	var zero T
	raw := s.Get(key, nil)
	if raw == nil {
		return zero, false
	}
	if v, ok := raw.(T); ok {
		return v, true
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, false
	}
	return out, true
}
