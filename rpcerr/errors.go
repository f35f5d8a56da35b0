// Package rpcerr defines the error taxonomy shared by every layer of the engine.
//
// Connection-level failures are sentinels so callers can test them with
// errors.Is. Errors that carry a peer-supplied reason are typed and wrap the
// matching sentinel:
//
//	*HandshakeError → ErrHandshakeFailed
//	*CloseError     → ErrConnectionClosed
//	*RemoteError    (delivered to exactly one caller, never fatal)
package rpcerr

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeFailed is returned by every operation on a connection whose
	// handshake ack carried an error.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrHandshakeTimeout is returned when no handshake ack arrives in time.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrConnectionClosed is surfaced to every pending call and active stream
	// when the connection terminates.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrProtocolViolation marks malformed frames and frames that do not
	// correlate to any pending call. Such frames are dropped.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUnknownTarget is reported back to the peer when it invokes a method
	// that has no local handler.
	ErrUnknownTarget = errors.New("Unknown target")

	// ErrInvocationCanceled is the error of the final Completion sent for an
	// invocation the peer cancelled.
	ErrInvocationCanceled = errors.New("Invocation canceled")
)

// RemoteError carries the error string of a Completion frame sent by the peer.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote invocation error: " + e.Message
}

// CloseError describes why a connection was closed. Reason is empty for a
// clean close.
type CloseError struct {
	Reason         string
	AllowReconnect bool
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return ErrConnectionClosed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrConnectionClosed, e.Reason)
}

func (e *CloseError) Unwrap() error {
	return ErrConnectionClosed
}

// HandshakeError carries the error string of a failed handshake ack.
type HandshakeError struct {
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrHandshakeFailed, e.Reason)
}

func (e *HandshakeError) Unwrap() error {
	return ErrHandshakeFailed
}

// Violation wraps a description of a malformed or uncorrelated frame.
func Violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}
