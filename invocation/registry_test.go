package invocation

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubrpc/rpcerr"
)

func TestIDGeneratorUnique(t *testing.T) {
	var g IDGenerator
	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				id := g.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8000)
}

func TestResolveDeliversToOwnWaiter(t *testing.T) {
	r := NewRegistry()
	var g IDGenerator

	// Register 50 calls, then resolve them in reverse order.
	const n = 50
	pending := make([]*Pending, n)
	for i := range pending {
		p, err := r.Register(g.Next())
		require.NoError(t, err)
		pending[i] = p
	}
	for i := n - 1; i >= 0; i-- {
		id := pending[i].ID()
		require.True(t, r.Resolve(id, Outcome{Result: json.RawMessage(id)}))
	}

	for _, p := range pending {
		res, err := r.Wait(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, p.ID(), string(res))
	}
	assert.Zero(t, r.Len())
}

func TestDuplicateResolutionIsNoop(t *testing.T) {
	r := NewRegistry()
	p, err := r.Register("1")
	require.NoError(t, err)

	assert.True(t, r.Resolve("1", Outcome{Result: json.RawMessage(`1`)}))
	assert.False(t, r.Resolve("1", Outcome{Result: json.RawMessage(`2`)}))
	assert.False(t, r.Resolve("unknown", Outcome{}))

	res, err := r.Wait(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "1", string(res))
}

func TestRegisterDuplicateID(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("1")
	require.NoError(t, err)
	_, err = r.Register("1")
	assert.Error(t, err)
}

func TestDrainFailsEveryWaiterOnce(t *testing.T) {
	r := NewRegistry()
	var waiters []*Pending
	for i := 0; i < 3; i++ {
		p, err := r.Register(strconv.Itoa(i))
		require.NoError(t, err)
		waiters = append(waiters, p)
	}

	closeErr := &rpcerr.CloseError{Reason: "Timeout"}
	assert.Equal(t, 3, r.Drain(closeErr))
	assert.Equal(t, 0, r.Drain(closeErr))

	for _, p := range waiters {
		_, err := r.Wait(context.Background(), p)
		assert.ErrorIs(t, err, rpcerr.ErrConnectionClosed)
		// Nothing else is ever delivered.
		select {
		case <-p.done:
			t.Fatal("second outcome delivered")
		default:
		}
	}

	_, err := r.Register("late")
	assert.ErrorIs(t, err, rpcerr.ErrConnectionClosed)
	assert.ErrorIs(t, r.Closed(), rpcerr.ErrConnectionClosed)
}

func TestWaitAbandonedRemovesEntry(t *testing.T) {
	r := NewRegistry()
	p, err := r.Register("1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Wait(ctx, p)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, r.Len())
	assert.False(t, r.Resolve("1", Outcome{}))

	// The late Completion is recognised once, then the id is forgotten.
	assert.Equal(t, 1, r.Abandoned())
	assert.True(t, r.Discard("1"))
	assert.False(t, r.Discard("1"))
	assert.Zero(t, r.Abandoned())
}

func TestDrainForgetsAbandonedCalls(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, id := range []string{"1", "2", "3"} {
		p, err := r.Register(id)
		require.NoError(t, err)
		_, err = r.Wait(ctx, p)
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, 3, r.Abandoned())

	r.Drain(rpcerr.ErrConnectionClosed)
	assert.Zero(t, r.Abandoned())
}

func TestTombstonesEvictOldestPastLimit(t *testing.T) {
	ts := NewTombstones(3)
	for i := 1; i <= 5; i++ {
		ts.Add(strconv.Itoa(i))
	}
	assert.Equal(t, 3, ts.Len())
	assert.False(t, ts.Has("1"))
	assert.False(t, ts.Has("2"))
	assert.True(t, ts.Has("5"))

	assert.True(t, ts.Take("3"))
	ts.Add("6")
	ts.Add("6")
	assert.Equal(t, 3, ts.Len())
	assert.True(t, ts.Has("4"))

	ts.Reset()
	assert.Zero(t, ts.Len())
	assert.False(t, ts.Take("5"))
}

func TestRemoteOutcome(t *testing.T) {
	o := RemoteOutcome(nil, "boom")
	var remote *rpcerr.RemoteError
	require.ErrorAs(t, o.Err, &remote)
	assert.Equal(t, "boom", remote.Message)

	o = RemoteOutcome(json.RawMessage(`42`), "")
	assert.NoError(t, o.Err)
	assert.Equal(t, "42", string(o.Result))
}
