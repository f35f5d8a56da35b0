package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotStreaming is returned by Call.Emit when the call is not a StreamInvocation.
var ErrNotStreaming = errors.New("call is not a stream invocation")

// Call is the view of an inbound Invocation or StreamInvocation handed to a
// locally registered handler.
type Call struct {
	Message *Message
	emit    func(item any) error
}

// NewCall wraps an inbound frame. emit is used by Emit to send StreamItems back
// to the caller and may be nil for unary invocations.
func NewCall(msg *Message, emit func(item any) error) *Call {
	return &Call{Message: msg, emit: emit}
}

func (c *Call) Target() string {
	return c.Message.Target
}

func (c *Call) InvocationID() string {
	return c.Message.InvocationID
}

// Streaming reports whether the peer expects StreamItems before the completion.
func (c *Call) Streaming() bool {
	return c.Message.Type == TypeStreamInvocation
}

// FireAndForget reports whether the peer expects no completion at all.
func (c *Call) FireAndForget() bool {
	return c.Message.Type == TypeInvocation && c.Message.InvocationID == ""
}

// NumArguments returns the number of arguments sent by the peer.
func (c *Call) NumArguments() int {
	return len(c.Message.Arguments)
}

// Argument decodes the zero-based index-th argument into v.
func (c *Call) Argument(index int, v any) error {
	if len(c.Message.Arguments) == 0 {
		return fmt.Errorf("there are no arguments for the invocation of %q", c.Message.Target)
	}
	if index < 0 || index >= len(c.Message.Arguments) {
		return fmt.Errorf("argument index %d out of range, invocation has %d arguments", index, len(c.Message.Arguments))
	}
	if err := json.Unmarshal(c.Message.Arguments[index], v); err != nil {
		return fmt.Errorf("argument %d cannot be decoded into %T: %w", index, v, err)
	}
	return nil
}

// Emit sends one StreamItem to the caller of a StreamInvocation. Items are
// delivered in the order Emit is called.
func (c *Call) Emit(item any) error {
	if !c.Streaming() || c.emit == nil {
		return ErrNotStreaming
	}
	return c.emit(item)
}
