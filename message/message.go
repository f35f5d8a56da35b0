// Package message defines the protocol frames exchanged between two peers.
//
// Message is the tagged variant for every frame after the handshake. Type
// selects which fields are meaningful:
//
//   - Invocation / StreamInvocation: InvocationID (optional for Invocation), Target, Arguments
//   - StreamItem:                    InvocationID, Item
//   - Completion:                    InvocationID, Result or Error (mutually exclusive)
//   - CancelInvocation:              InvocationID
//   - Ping:                          no fields
//   - Close:                         Error, AllowReconnect
//
// The handshake records are not Messages: they carry no type discriminator.
package message

import (
	"encoding/json"
	"strconv"
)

// Type is the stable wire discriminator of a Message.
type Type int

const (
	TypeInvocation       Type = 1
	TypeStreamItem       Type = 2
	TypeCompletion       Type = 3
	TypeStreamInvocation Type = 4
	TypeCancelInvocation Type = 5
	TypePing             Type = 6
	TypeClose            Type = 7
)

func (t Type) String() string {
	switch t {
	case TypeInvocation:
		return "Invocation"
	case TypeStreamItem:
		return "StreamItem"
	case TypeCompletion:
		return "Completion"
	case TypeStreamInvocation:
		return "StreamInvocation"
	case TypeCancelInvocation:
		return "CancelInvocation"
	case TypePing:
		return "Ping"
	case TypeClose:
		return "Close"
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// Message is a single decoded protocol frame.
type Message struct {
	Type         Type
	Headers      map[string]string
	InvocationID string // empty for fire-and-forget invocations and for Ping/Close
	Target       string
	Arguments    []json.RawMessage
	Item         json.RawMessage
	Result       json.RawMessage // nil when the completion carries no result
	Error        string
	// AllowReconnect is only meaningful on Close frames.
	AllowReconnect bool
}

// HasResult reports whether a Completion carries a result value.
func (m *Message) HasResult() bool {
	return m.Result != nil
}

// NewInvocation builds an Invocation frame. An empty id makes it fire-and-forget.
func NewInvocation(id, target string, args []json.RawMessage) *Message {
	return &Message{Type: TypeInvocation, InvocationID: id, Target: target, Arguments: args}
}

// NewStreamInvocation builds a StreamInvocation frame.
func NewStreamInvocation(id, target string, args []json.RawMessage) *Message {
	return &Message{Type: TypeStreamInvocation, InvocationID: id, Target: target, Arguments: args}
}

// NewStreamItem builds a StreamItem frame.
func NewStreamItem(id string, item json.RawMessage) *Message {
	return &Message{Type: TypeStreamItem, InvocationID: id, Item: item}
}

// NewResult builds a successful Completion. A nil result means a void completion.
func NewResult(id string, result json.RawMessage) *Message {
	return &Message{Type: TypeCompletion, InvocationID: id, Result: result}
}

// NewError builds a failed Completion.
func NewError(id string, errMsg string) *Message {
	return &Message{Type: TypeCompletion, InvocationID: id, Error: errMsg}
}

// NewCancelInvocation builds a CancelInvocation frame.
func NewCancelInvocation(id string) *Message {
	return &Message{Type: TypeCancelInvocation, InvocationID: id}
}

// NewPing builds a Ping frame.
func NewPing() *Message {
	return &Message{Type: TypePing}
}

// NewClose builds a Close frame. An empty errMsg is a clean close.
func NewClose(errMsg string, allowReconnect bool) *Message {
	return &Message{Type: TypeClose, Error: errMsg, AllowReconnect: allowReconnect}
}

// HandshakeRequest is sent once by the initiating peer before any Message.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse acknowledges a HandshakeRequest. A non-empty Error means
// the handshake failed.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}
