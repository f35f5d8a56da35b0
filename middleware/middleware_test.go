package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubrpc/message"
)

func newCall() *message.Call {
	return message.NewCall(message.NewInvocation("1", "Arith.Add", []json.RawMessage{json.RawMessage(`1`)}), nil)
}

// echoHandler answers immediately.
func echoHandler(ctx context.Context, call *message.Call) (any, error) {
	return "ok", nil
}

// slowHandler sleeps 200ms or until cancelled.
func slowHandler(ctx context.Context, call *message.Call) (any, error) {
	select {
	case <-time.After(200 * time.Millisecond):
		return "ok", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(logrus.NewEntry(logrus.New()))(echoHandler)

	result, err := handler(context.Background(), newCall())
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestLoggingPassesErrorThrough(t *testing.T) {
	boom := errors.New("boom")
	handler := LoggingMiddleware(nil)(func(ctx context.Context, call *message.Call) (any, error) {
		return nil, boom
	})

	_, err := handler(context.Background(), newCall())
	assert.ErrorIs(t, err, boom)
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	result, err := handler(context.Background(), newCall())
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), newCall())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.EqualError(t, err, "invocation timed out")
}

func TestRateLimit(t *testing.T) {
	// rate=1/s, burst=2: the first two pass, the third is rejected.
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		_, err := handler(context.Background(), newCall())
		require.NoError(t, err, "call %d", i)
	}
	_, err := handler(context.Background(), newCall())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestRetryTransient(t *testing.T) {
	var attempts atomic.Int32
	flaky := func(ctx context.Context, call *message.Call) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return "ok", nil
	}

	result, err := RetryMiddleware(3, time.Millisecond)(flaky)(context.Background(), newCall())
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	var attempts atomic.Int32
	failing := func(ctx context.Context, call *message.Call) (any, error) {
		attempts.Add(1)
		return nil, errors.New("invalid argument")
	}

	_, err := RetryMiddleware(3, time.Millisecond)(failing)(context.Background(), newCall())
	assert.EqualError(t, err, "invalid argument")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRetrySkipsStreaming(t *testing.T) {
	var attempts atomic.Int32
	failing := func(ctx context.Context, call *message.Call) (any, error) {
		attempts.Add(1)
		return nil, errors.New("timeout")
	}
	call := message.NewCall(message.NewStreamInvocation("1", "Counter", nil), func(any) error { return nil })

	_, err := RetryMiddleware(3, time.Millisecond)(failing)(context.Background(), call)
	assert.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, call *message.Call) (any, error) {
				order = append(order, name)
				return next(ctx, call)
			}
		}
	}

	handler := Chain(mark("outer"), LoggingMiddleware(nil), TimeOutMiddleware(500*time.Millisecond), mark("inner"))(echoHandler)
	result, err := handler(context.Background(), newCall())
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, []string{"outer", "inner"}, order)
}
