// Package codec serializes protocol frames to and from their wire records.
//
// A codec only produces and consumes records; adding and stripping the frame
// terminator is the protocol package's job.
package codec

import (
	"encoding/json"
	"fmt"

	"hubrpc/message"
)

// ProtocolJSON is the only encoding this engine speaks.
const ProtocolJSON = "json"

// Codec encodes Messages and handshake records.
type Codec interface {
	// Name is the protocol name announced in the handshake, e.g. "json".
	Name() string
	// Version is the protocol version announced in the handshake.
	Version() int

	Encode(msg *message.Message) ([]byte, error)
	// Decode parses one record. Malformed records and records missing fields
	// required by their type fail with rpcerr.ErrProtocolViolation.
	Decode(record []byte) (*message.Message, error)

	EncodeHandshakeRequest(req *message.HandshakeRequest) ([]byte, error)
	DecodeHandshakeRequest(record []byte) (*message.HandshakeRequest, error)
	EncodeHandshakeResponse(resp *message.HandshakeResponse) ([]byte, error)
	DecodeHandshakeResponse(record []byte) (*message.HandshakeResponse, error)

	// MarshalValue encodes an argument, item, or result value.
	MarshalValue(v any) (json.RawMessage, error)
}

// GetCodec returns the codec registered under the handshake protocol name.
func GetCodec(name string) (Codec, error) {
	if name == ProtocolJSON {
		return &JSONCodec{}, nil
	}
	return nil, fmt.Errorf("the protocol '%s' is not supported", name)
}

// Arguments marshals each argument with c. A nil result is never returned, so
// the wire record always carries an arguments array.
func Arguments(c Codec, args ...any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		raw, err := c.MarshalValue(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}
