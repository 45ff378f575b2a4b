package types

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	ID    string   `json:"id"`
	Total float64  `json:"total"`
	Items []string `json:"items"`
}

func TestWorkflowState(t *testing.T) {
	t.Run("GetSetHas", func(t *testing.T) {
		s := NewWorkflowState(nil)
		assert.False(t, s.Has("missing"))
		assert.Equal(t, "fallback", s.Get("missing", "fallback"))

		s.Set("count", 1)
		assert.True(t, s.Has("count"))
		assert.Equal(t, 1, s.Get("count", 0))

		s.Delete("count")
		assert.False(t, s.Has("count"))
		s.Delete("count")
	})

	t.Run("InsertionOrder", func(t *testing.T) {
		s := NewWorkflowState(nil)
		s.Set("c", 3)
		s.Set("a", 1)
		s.Set("b", 2)
		s.Set("c", 30)
		assert.Equal(t, []string{"c", "a", "b"}, s.Keys())
		assert.Equal(t, 3, s.Len())

		data, err := json.Marshal(s)
		require.NoError(t, err)
		assert.JSONEq(t, `{"c":30,"a":1,"b":2}`, string(data))
		assert.Less(t, strings.Index(string(data), `"c"`), strings.Index(string(data), `"a"`))
		assert.Less(t, strings.Index(string(data), `"a"`), strings.Index(string(data), `"b"`))
	})

	t.Run("RoundTrip", func(t *testing.T) {
		s := NewWorkflowState(nil)
		s.Set("order", order{ID: "o-1", Total: 12.5, Items: []string{"a", "b"}})
		s.Set("attempts", 2)
		s.Set("approved", true)

		data, err := json.Marshal(s)
		require.NoError(t, err)

		restored := NewWorkflowState(nil)
		require.NoError(t, json.Unmarshal(data, restored))
		assert.Equal(t, s.Keys(), restored.Keys())

		o, ok := Value[order](restored, "order")
		require.True(t, ok)
		assert.Equal(t, order{ID: "o-1", Total: 12.5, Items: []string{"a", "b"}}, o)

		n, ok := Value[int](restored, "attempts")
		require.True(t, ok)
		assert.Equal(t, 2, n)

		_, ok = Value[int](restored, "missing")
		assert.False(t, ok)
	})

	t.Run("ZeroValue", func(t *testing.T) {
		var s WorkflowState
		assert.Equal(t, "fallback", s.Get("missing", "fallback"))
		assert.False(t, s.Has("missing"))
		assert.Zero(t, s.Len())
		assert.Empty(t, s.Keys())
		assert.Empty(t, s.ToMap())
		s.Delete("missing")

		data, err := json.Marshal(&s)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(data))

		s.Set("a", 1)
		assert.Equal(t, 1, s.Get("a", 0))
		assert.Equal(t, []string{"a"}, s.Keys())
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		s := NewWorkflowState(nil)
		assert.Error(t, json.Unmarshal([]byte(`[1,2]`), s))
	})

	t.Run("Result", func(t *testing.T) {
		s := NewWorkflowState(nil)
		assert.Nil(t, s.Result())
		s.Set(ResultKey, "done")
		assert.Equal(t, "done", s.Result())
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		s := NewWorkflowState(nil)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s.Set("k", i)
				_ = s.Get("k", nil)
				_ = s.ToMap()
			}(i)
		}
		wg.Wait()
		assert.True(t, s.Has("k"))
	})
}

func TestEncodeEvent(t *testing.T) {
	env, err := EncodeEvent(StopEvent{Result: "done"})
	require.NoError(t, err)
	assert.Equal(t, KindStop, env.Kind)
	assert.JSONEq(t, `{"result":"done"}`, string(env.Payload))

	_, err = EncodeEvent(nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)

	assert.True(t, IsStop(StopEvent{}))
	assert.False(t, IsStop(StartEvent{}))
	assert.False(t, IsStop(nil))
}
