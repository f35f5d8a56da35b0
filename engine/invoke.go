package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"hubrpc/codec"
	"hubrpc/message"
	"hubrpc/stream"
)

// Invoke calls target on the peer and waits for its Completion. It returns
// the raw result, which is nil for a void completion. A Completion carrying an
// error yields a *rpcerr.RemoteError; termination of the connection yields an
// error matching rpcerr.ErrConnectionClosed.
//
// Invocations have no intrinsic timeout. When ctx ends first, the call is
// abandoned: its registry entry is dropped and the peer is asked to cancel.
func (c *Connection) Invoke(ctx context.Context, target string, args ...any) (json.RawMessage, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	raw, err := codec.Arguments(c.codec, args...)
	if err != nil {
		return nil, err
	}

	id := c.ids.Next()
	pending, err := c.calls.Register(id)
	if err != nil {
		return nil, err
	}
	if err := c.SendMessage(ctx, message.NewInvocation(id, target, raw)); err != nil {
		c.calls.Remove(id)
		return nil, err
	}

	result, err := c.calls.Wait(ctx, pending)
	if err != nil && err == ctx.Err() {
		_ = c.SendMessage(c.ctx, message.NewCancelInvocation(id))
	}
	return result, err
}

// Call invokes target and decodes the result into reply. reply may be nil,
// and is left untouched by a void completion.
func (c *Connection) Call(ctx context.Context, target string, reply any, args ...any) error {
	raw, err := c.Invoke(ctx, target, args...)
	if err != nil {
		return err
	}
	if reply == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, reply); err != nil {
		return fmt.Errorf("decode result of %s: %w", target, err)
	}
	return nil
}

// Send invokes target without waiting for, or expecting, any answer.
func (c *Connection) Send(ctx context.Context, target string, args ...any) error {
	if err := c.usable(); err != nil {
		return err
	}
	raw, err := codec.Arguments(c.codec, args...)
	if err != nil {
		return err
	}
	return c.SendMessage(ctx, message.NewInvocation("", target, raw))
}

// InvokeStreaming starts a streaming call. Items are queued as they arrive
// until the consumer pulls them; closing the Stream early cancels the call on
// the peer.
func (c *Connection) InvokeStreaming(ctx context.Context, target string, args ...any) (*stream.Stream, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	raw, err := codec.Arguments(c.codec, args...)
	if err != nil {
		return nil, err
	}

	id := c.ids.Next()
	s, err := c.streams.Open(id)
	if err != nil {
		return nil, err
	}
	if err := c.SendMessage(ctx, message.NewStreamInvocation(id, target, raw)); err != nil {
		c.streams.Remove(id)
		return nil, err
	}
	return s, nil
}

// Recv pulls the next item of s and decodes it as T.
func Recv[T any](ctx context.Context, s *stream.Stream) (T, error) {
	var v T
	raw, err := s.Next(ctx)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode stream item: %w", err)
	}
	return v, nil
}
