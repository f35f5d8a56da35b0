package codec

import (
	"encoding/json"
	"fmt"

	"hubrpc/message"
	"hubrpc/rpcerr"
)

// JSONCodec encodes frames as JSON records with camelCase field names and a
// numeric "type" discriminator.
type JSONCodec struct{}

func (c *JSONCodec) Name() string { return ProtocolJSON }

func (c *JSONCodec) Version() int { return 1 }

// Outbound shapes, one per message type, so each record carries exactly the
// fields its type defines.
type (
	invocationRecord struct {
		Type         message.Type      `json:"type"`
		Headers      map[string]string `json:"headers,omitempty"`
		InvocationID string            `json:"invocationId,omitempty"`
		Target       string            `json:"target"`
		Arguments    []json.RawMessage `json:"arguments"`
	}
	streamItemRecord struct {
		Type         message.Type      `json:"type"`
		Headers      map[string]string `json:"headers,omitempty"`
		InvocationID string            `json:"invocationId"`
		Item         json.RawMessage   `json:"item"`
	}
	completionRecord struct {
		Type         message.Type      `json:"type"`
		Headers      map[string]string `json:"headers,omitempty"`
		InvocationID string            `json:"invocationId"`
		Result       json.RawMessage   `json:"result,omitempty"`
		Error        string            `json:"error,omitempty"`
	}
	cancelRecord struct {
		Type         message.Type      `json:"type"`
		Headers      map[string]string `json:"headers,omitempty"`
		InvocationID string            `json:"invocationId"`
	}
	pingRecord struct {
		Type    message.Type      `json:"type"`
		Headers map[string]string `json:"headers,omitempty"`
	}
	closeRecord struct {
		Type           message.Type      `json:"type"`
		Headers        map[string]string `json:"headers,omitempty"`
		Error          string            `json:"error,omitempty"`
		AllowReconnect bool              `json:"allowReconnect,omitempty"`
	}
)

// inboundRecord is the union of every field; pointers distinguish absent from empty.
type inboundRecord struct {
	Type           message.Type      `json:"type"`
	Headers        map[string]string `json:"headers"`
	InvocationID   *string           `json:"invocationId"`
	Target         *string           `json:"target"`
	Arguments      []json.RawMessage `json:"arguments"`
	Item           json.RawMessage   `json:"item"`
	Result         json.RawMessage   `json:"result"`
	Error          *string           `json:"error"`
	AllowReconnect *bool             `json:"allowReconnect"`
}

func (c *JSONCodec) Encode(msg *message.Message) ([]byte, error) {
	switch msg.Type {
	case message.TypeInvocation, message.TypeStreamInvocation:
		if msg.Target == "" {
			return nil, fmt.Errorf("%s without target", msg.Type)
		}
		if msg.Type == message.TypeStreamInvocation && msg.InvocationID == "" {
			return nil, fmt.Errorf("%s without invocation id", msg.Type)
		}
		args := msg.Arguments
		if args == nil {
			args = []json.RawMessage{}
		}
		return json.Marshal(&invocationRecord{
			Type:         msg.Type,
			Headers:      msg.Headers,
			InvocationID: msg.InvocationID,
			Target:       msg.Target,
			Arguments:    args,
		})
	case message.TypeStreamItem:
		item := msg.Item
		if item == nil {
			item = json.RawMessage("null")
		}
		return json.Marshal(&streamItemRecord{
			Type:         msg.Type,
			Headers:      msg.Headers,
			InvocationID: msg.InvocationID,
			Item:         item,
		})
	case message.TypeCompletion:
		if msg.Result != nil && msg.Error != "" {
			return nil, fmt.Errorf("completion %s carries both result and error", msg.InvocationID)
		}
		return json.Marshal(&completionRecord{
			Type:         msg.Type,
			Headers:      msg.Headers,
			InvocationID: msg.InvocationID,
			Result:       msg.Result,
			Error:        msg.Error,
		})
	case message.TypeCancelInvocation:
		return json.Marshal(&cancelRecord{Type: msg.Type, Headers: msg.Headers, InvocationID: msg.InvocationID})
	case message.TypePing:
		return json.Marshal(&pingRecord{Type: msg.Type, Headers: msg.Headers})
	case message.TypeClose:
		return json.Marshal(&closeRecord{
			Type:           msg.Type,
			Headers:        msg.Headers,
			Error:          msg.Error,
			AllowReconnect: msg.AllowReconnect,
		})
	}
	return nil, fmt.Errorf("cannot encode message of type %s", msg.Type)
}

func (c *JSONCodec) Decode(record []byte) (*message.Message, error) {
	var in inboundRecord
	if err := json.Unmarshal(record, &in); err != nil {
		return nil, rpcerr.Violation("malformed record: %v", err)
	}

	msg := &message.Message{
		Type:      in.Type,
		Headers:   in.Headers,
		Arguments: in.Arguments,
		Item:      in.Item,
		Result:    in.Result,
	}
	if in.InvocationID != nil {
		msg.InvocationID = *in.InvocationID
	}
	if in.Target != nil {
		msg.Target = *in.Target
	}
	if in.Error != nil {
		msg.Error = *in.Error
	}
	if in.AllowReconnect != nil {
		msg.AllowReconnect = *in.AllowReconnect
	}

	switch msg.Type {
	case message.TypeInvocation:
		if msg.Target == "" {
			return nil, rpcerr.Violation("invocation without target")
		}
	case message.TypeStreamInvocation:
		if msg.Target == "" || msg.InvocationID == "" {
			return nil, rpcerr.Violation("stream invocation requires target and invocationId")
		}
	case message.TypeStreamItem:
		if msg.InvocationID == "" {
			return nil, rpcerr.Violation("stream item without invocationId")
		}
		if msg.Item == nil {
			msg.Item = json.RawMessage("null")
		}
	case message.TypeCompletion:
		if msg.InvocationID == "" {
			return nil, rpcerr.Violation("completion without invocationId")
		}
		if in.Result != nil && in.Error != nil {
			return nil, rpcerr.Violation("completion %s carries both result and error", msg.InvocationID)
		}
	case message.TypeCancelInvocation:
		if msg.InvocationID == "" {
			return nil, rpcerr.Violation("cancel invocation without invocationId")
		}
	case message.TypePing, message.TypeClose:
	default:
		return nil, rpcerr.Violation("unknown message type %d", int(msg.Type))
	}
	return msg, nil
}

func (c *JSONCodec) EncodeHandshakeRequest(req *message.HandshakeRequest) ([]byte, error) {
	return json.Marshal(req)
}

func (c *JSONCodec) DecodeHandshakeRequest(record []byte) (*message.HandshakeRequest, error) {
	var req message.HandshakeRequest
	if err := json.Unmarshal(record, &req); err != nil {
		return nil, rpcerr.Violation("malformed handshake request: %v", err)
	}
	if req.Protocol == "" {
		return nil, rpcerr.Violation("handshake request without protocol")
	}
	return &req, nil
}

func (c *JSONCodec) EncodeHandshakeResponse(resp *message.HandshakeResponse) ([]byte, error) {
	return json.Marshal(resp)
}

func (c *JSONCodec) DecodeHandshakeResponse(record []byte) (*message.HandshakeResponse, error) {
	var resp message.HandshakeResponse
	if err := json.Unmarshal(record, &resp); err != nil {
		return nil, rpcerr.Violation("malformed handshake response: %v", err)
	}
	return &resp, nil
}

func (c *JSONCodec) MarshalValue(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
