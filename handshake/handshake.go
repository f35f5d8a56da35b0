// Package handshake performs the one-time exchange that precedes all
// application frames on a connection.
//
//	initiator                         acceptor
//	    │ {"protocol":"json","version":1}␞ │
//	    │ ───────────────────────────────▶ │
//	    │            {}␞  or {"error":…}␞  │
//	    │ ◀─────────────────────────────── │
//
// Handshake records use the JSON encoding regardless of the negotiated protocol.
package handshake

import (
	"context"
	"fmt"
	"time"

	"hubrpc/codec"
	"hubrpc/message"
	"hubrpc/protocol"
	"hubrpc/rpcerr"
	"hubrpc/transport"
)

var records = &codec.JSONCodec{}

// Initiate sends the handshake request for c and waits for the ack. It returns
// a *rpcerr.HandshakeError if the ack carries an error or the peer hangs up,
// and rpcerr.ErrHandshakeTimeout if no ack arrives within timeout. A zero
// timeout waits until ctx is done.
//
// On timeout the read started here may still be pending; the caller must close
// the transport to release it.
func Initiate(ctx context.Context, t transport.Transport, r *protocol.Reader, c codec.Codec, timeout time.Duration) error {
	record, err := records.EncodeHandshakeRequest(&message.HandshakeRequest{Protocol: c.Name(), Version: c.Version()})
	if err != nil {
		return err
	}
	if err := t.Send(ctx, protocol.AppendFrame(nil, record)); err != nil {
		return &rpcerr.HandshakeError{Reason: err.Error()}
	}

	frame, err := readFrame(ctx, r, timeout)
	if err != nil {
		return err
	}
	resp, err := records.DecodeHandshakeResponse(frame)
	if err != nil {
		return &rpcerr.HandshakeError{Reason: err.Error()}
	}
	if resp.Error != "" {
		return &rpcerr.HandshakeError{Reason: resp.Error}
	}
	return nil
}

// Accept waits for the peer's handshake request and answers it. Protocols are
// resolved with codec.GetCodec; an unknown protocol or version is rejected
// with an error ack and a *rpcerr.HandshakeError is returned.
func Accept(ctx context.Context, t transport.Transport, r *protocol.Reader, timeout time.Duration) (codec.Codec, error) {
	frame, err := readFrame(ctx, r, timeout)
	if err != nil {
		return nil, err
	}
	req, err := records.DecodeHandshakeRequest(frame)
	if err != nil {
		return nil, reject(ctx, t, err.Error())
	}
	c, err := codec.GetCodec(req.Protocol)
	if err != nil {
		return nil, reject(ctx, t, err.Error())
	}
	if req.Version != c.Version() {
		return nil, reject(ctx, t, fmt.Sprintf("the server does not support version %d of the '%s' protocol", req.Version, req.Protocol))
	}

	ack, err := records.EncodeHandshakeResponse(&message.HandshakeResponse{})
	if err != nil {
		return nil, err
	}
	if err := t.Send(ctx, protocol.AppendFrame(nil, ack)); err != nil {
		return nil, &rpcerr.HandshakeError{Reason: err.Error()}
	}
	return c, nil
}

func reject(ctx context.Context, t transport.Transport, reason string) error {
	if ack, err := records.EncodeHandshakeResponse(&message.HandshakeResponse{Error: reason}); err == nil {
		_ = t.Send(ctx, protocol.AppendFrame(nil, ack))
	}
	return &rpcerr.HandshakeError{Reason: reason}
}

type frameResult struct {
	frame []byte
	err   error
}

func readFrame(ctx context.Context, r *protocol.Reader, timeout time.Duration) ([]byte, error) {
	ch := make(chan frameResult, 1)
	go func() {
		f, err := r.ReadFrame()
		ch <- frameResult{f, err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, &rpcerr.HandshakeError{Reason: res.err.Error()}
		}
		return res.frame, nil
	case <-expired:
		return nil, rpcerr.ErrHandshakeTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
