package stream

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubrpc/invocation"
	"hubrpc/rpcerr"
)

type cancelRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (c *cancelRecorder) send(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	return nil
}

func (c *cancelRecorder) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func item(i int) json.RawMessage {
	return json.RawMessage(strconv.Itoa(i))
}

func TestStreamDeliversInOrder(t *testing.T) {
	for _, n := range []int{1, 100, 100000} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			d := NewDispatcher((&cancelRecorder{}).send)
			s, err := d.Open("1")
			require.NoError(t, err)

			go func() {
				for i := 0; i < n; i++ {
					d.Push("1", item(i))
				}
				d.Complete("1", "")
			}()

			got := 0
			for it, err := range s.All(context.Background()) {
				require.NoError(t, err)
				require.Equal(t, strconv.Itoa(got), string(it))
				got++
			}
			assert.Equal(t, n, got)
			assert.Zero(t, d.Len())
		})
	}
}

func TestStreamRemoteError(t *testing.T) {
	d := NewDispatcher((&cancelRecorder{}).send)
	s, err := d.Open("7")
	require.NoError(t, err)

	assert.Equal(t, Delivered, d.Push("7", item(1)))
	assert.Equal(t, Delivered, d.Complete("7", "boom"))

	// Queued items come first.
	it, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", string(it))

	_, err = s.Next(context.Background())
	var remote *rpcerr.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "boom", remote.Message)
}

func TestStreamCancelAfterK(t *testing.T) {
	rec := &cancelRecorder{}
	d := NewDispatcher(rec.send)
	s, err := d.Open("3")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		d.Push("3", item(i))
	}

	const k = 4
	got := 0
	for _, err := range s.All(context.Background()) {
		require.NoError(t, err)
		got++
		if got == k {
			break
		}
	}
	assert.Equal(t, k, got)
	assert.Equal(t, []string{"3"}, rec.sent())

	// Late traffic is discarded silently; the final Completion clears the id.
	assert.Equal(t, 1, d.Cancelled())
	assert.Equal(t, Discarded, d.Push("3", item(11)))
	assert.Equal(t, Discarded, d.Complete("3", ""))
	assert.Zero(t, d.Cancelled())
	assert.Equal(t, Unknown, d.Push("3", item(12)))

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, s.Close())
	assert.Len(t, rec.sent(), 1)
}

func TestStreamCloseAfterCompletionSendsNothing(t *testing.T) {
	rec := &cancelRecorder{}
	d := NewDispatcher(rec.send)
	s, err := d.Open("1")
	require.NoError(t, err)

	d.Complete("1", "")
	require.NoError(t, s.Close())
	assert.Empty(t, rec.sent())
}

func TestStreamNextBlocksUntilItem(t *testing.T) {
	d := NewDispatcher((&cancelRecorder{}).send)
	s, err := d.Open("1")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		d.Push("1", item(5))
	}()
	it, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5", string(it))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDrainEndsStreams(t *testing.T) {
	d := NewDispatcher((&cancelRecorder{}).send)
	s, err := d.Open("1")
	require.NoError(t, err)
	d.Push("1", item(1))

	closeErr := &rpcerr.CloseError{Reason: "Timeout"}
	assert.Equal(t, 1, d.Drain(closeErr))
	assert.Equal(t, 0, d.Drain(closeErr))

	_, err = s.Next(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, rpcerr.ErrConnectionClosed)
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, rpcerr.ErrConnectionClosed)

	_, err = d.Open("2")
	assert.ErrorIs(t, err, rpcerr.ErrConnectionClosed)
}

func TestUnknownIDs(t *testing.T) {
	d := NewDispatcher((&cancelRecorder{}).send)
	assert.Equal(t, Unknown, d.Push("nope", item(1)))
	assert.Equal(t, Unknown, d.Complete("nope", ""))

	_, err := d.Open("1")
	require.NoError(t, err)
	_, err = d.Open("1")
	assert.Error(t, err)
}

func TestNormalEndIsEOF(t *testing.T) {
	d := NewDispatcher((&cancelRecorder{}).send)
	s, err := d.Open("1")
	require.NoError(t, err)
	d.Complete("1", "")

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestCancelledStreamsStayBounded(t *testing.T) {
	rec := &cancelRecorder{}
	d := NewDispatcher(rec.send)

	// The peer never completes these streams.
	n := invocation.DefaultTombstoneLimit + 100
	for i := 0; i < n; i++ {
		s, err := d.Open(strconv.Itoa(i))
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
	assert.Len(t, rec.sent(), n)
	assert.Equal(t, invocation.DefaultTombstoneLimit, d.Cancelled())
	assert.Zero(t, d.Len())

	// The newest ids are still recognised, the oldest are forgotten.
	assert.Equal(t, Discarded, d.Push(strconv.Itoa(n-1), item(0)))
	assert.Equal(t, Unknown, d.Push("0", item(0)))

	d.Drain(rpcerr.ErrConnectionClosed)
	assert.Zero(t, d.Cancelled())
}
