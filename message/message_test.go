package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type AddArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func TestCallArgument(t *testing.T) {
	call := NewCall(NewInvocation("1", "Arith.Add", []json.RawMessage{
		json.RawMessage(`{"a":1,"b":2}`),
		json.RawMessage(`"label"`),
	}), nil)

	var args AddArgs
	require.NoError(t, call.Argument(0, &args))
	assert.Equal(t, AddArgs{A: 1, B: 2}, args)

	var label string
	require.NoError(t, call.Argument(1, &label))
	assert.Equal(t, "label", label)

	assert.Error(t, call.Argument(2, &label))
	assert.Error(t, call.Argument(-1, &label))

	var wrong int
	assert.Error(t, call.Argument(1, &wrong))
}

func TestCallWithoutArguments(t *testing.T) {
	call := NewCall(NewInvocation("", "Notify", nil), nil)
	assert.True(t, call.FireAndForget())
	assert.Equal(t, 0, call.NumArguments())

	var v any
	assert.ErrorContains(t, call.Argument(0, &v), "no arguments")
}

func TestCallEmit(t *testing.T) {
	unary := NewCall(NewInvocation("1", "Get", nil), func(any) error { return nil })
	assert.ErrorIs(t, unary.Emit(1), ErrNotStreaming)

	var got []any
	streaming := NewCall(NewStreamInvocation("2", "Count", nil), func(item any) error {
		got = append(got, item)
		return nil
	})
	assert.True(t, streaming.Streaming())
	require.NoError(t, streaming.Emit(1))
	require.NoError(t, streaming.Emit(2))
	assert.Equal(t, []any{1, 2}, got)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "Completion", TypeCompletion.String())
	assert.Equal(t, "Type(9)", Type(9).String())
}
