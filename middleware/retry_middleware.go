package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"hubrpc/message"
)

// RetryMiddleware re-runs a unary handler that failed with a transient error,
// backing off exponentially from baseDelay. Streaming calls are never retried
// since their items may already be on the wire.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			result, err := next(ctx, call)
			if call.Streaming() {
				return result, err
			}
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(err) {
					return result, err
				}
				logrus.WithFields(logrus.Fields{
					"target":  call.Target(),
					"attempt": i + 1,
				}).WithError(err).Warn("retrying invocation")

				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				result, err = next(ctx, call)
			}
			return result, err
		}
	}
}

func retryable(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused")
}
