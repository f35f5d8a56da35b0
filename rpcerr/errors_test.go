package rpcerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsWrapSentinels(t *testing.T) {
	closeErr := fmt.Errorf("read loop: %w", &CloseError{Reason: "Timeout"})
	assert.ErrorIs(t, closeErr, ErrConnectionClosed)

	var ce *CloseError
	assert.True(t, errors.As(closeErr, &ce))
	assert.Equal(t, "Timeout", ce.Reason)

	hsErr := &HandshakeError{Reason: "bad version"}
	assert.ErrorIs(t, hsErr, ErrHandshakeFailed)
	assert.Contains(t, hsErr.Error(), "bad version")

	assert.False(t, errors.Is(&RemoteError{Message: "boom"}, ErrConnectionClosed))
}

func TestCloseErrorMessage(t *testing.T) {
	assert.Equal(t, "connection closed", (&CloseError{}).Error())
	assert.Equal(t, "connection closed: Timeout", (&CloseError{Reason: "Timeout"}).Error())
}

func TestViolation(t *testing.T) {
	err := Violation("completion for unknown id %q", "7")
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Contains(t, err.Error(), `"7"`)
}
