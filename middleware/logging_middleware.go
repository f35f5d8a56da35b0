package middleware

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"hubrpc/message"
)

// LoggingMiddleware logs the target, duration and outcome of every call.
func LoggingMiddleware(logger *logrus.Entry) Middleware {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (any, error) {
			start := time.Now()
			result, err := next(ctx, call)
			entry := logger.WithFields(logrus.Fields{
				"target":       call.Target(),
				"invocationId": call.InvocationID(),
				"duration":     time.Since(start),
			})
			if err != nil {
				entry.WithError(err).Error("invocation failed")
			} else {
				entry.Debug("invocation served")
			}
			return result, err
		}
	}
}
