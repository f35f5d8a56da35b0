// Package middleware wraps local invocation handlers (onion model).
package middleware

import (
	"context"

	"hubrpc/message"
)

// HandlerFunc serves one inbound invocation. The returned value becomes the
// Completion result; a nil value produces a void Completion. A returned error
// becomes the Completion error. Streaming handlers emit items through
// call.Emit before returning.
type HandlerFunc func(ctx context.Context, call *message.Call) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
