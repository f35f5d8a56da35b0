// Package invocation tracks locally issued unary calls until their Completion
// arrives.
//
// Every outstanding call owns one buffered channel in the pending map, keyed
// by its correlation id. The read loop resolves entries by id; the caller
// blocks on its own channel:
//
//	caller-1 ── Register(id=1) ──┐
//	caller-2 ── Register(id=2) ──┼──▶ one connection ──▶ peer
//	caller-3 ── Register(id=3) ──┘
//
//	read loop: ◀── Completion(id=2) ─▶ pending["2"] ─▶ caller-2 wakes up
package invocation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"hubrpc/rpcerr"
)

// IDGenerator hands out correlation ids. Ids come from a monotonically
// increasing counter, so an id is never reused on the same connection, not
// even after its call completed.
type IDGenerator struct {
	n atomic.Uint64
}

// Next returns a fresh id.
func (g *IDGenerator) Next() string {
	return strconv.FormatUint(g.n.Add(1), 10)
}

// Outcome is the single resolution of a pending invocation.
type Outcome struct {
	Result json.RawMessage // nil for a void completion
	Err    error
}

// Pending is one outstanding call.
type Pending struct {
	id   string
	done chan Outcome // buffered, receives exactly one Outcome
}

// ID returns the correlation id of the call.
func (p *Pending) ID() string {
	return p.id
}

// Registry maps correlation ids to waiting callers.
type Registry struct {
	mu        sync.Mutex
	pending   map[string]*Pending
	abandoned *Tombstones // calls given up through ctx, awaiting the peer's Completion
	closed    error       // non-nil once drained; further registrations fail with it
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending:   make(map[string]*Pending),
		abandoned: NewTombstones(DefaultTombstoneLimit),
	}
}

// Register adds a waiter for id. Register must happen before the invocation is
// written, so a fast Completion always finds its waiter.
func (r *Registry) Register(id string) (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed != nil {
		return nil, r.closed
	}
	if _, ok := r.pending[id]; ok {
		return nil, fmt.Errorf("invocation id %s is already pending", id)
	}
	p := &Pending{id: id, done: make(chan Outcome, 1)}
	r.pending[id] = p
	return p, nil
}

// Resolve delivers outcome to the waiter of id and removes the entry. It
// returns false when no such entry exists (a stale or duplicate completion);
// the caller decides how to report that.
func (r *Registry) Resolve(id string, outcome Outcome) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	p.done <- outcome // never blocks: buffered and sent at most once
	return true
}

// Remove forgets id without resolving it. Used when the caller gave up waiting.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// abandon turns the pending entry of id into a tombstone. It reports false
// when the entry is already gone, i.e. a resolution won the race.
func (r *Registry) abandon(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; !ok {
		return false
	}
	delete(r.pending, id)
	if r.closed == nil {
		r.abandoned.Add(id)
	}
	return true
}

// Discard clears the tombstone of an abandoned call. It reports whether id
// belonged to such a call, in which case its late Completion should be
// dropped quietly.
func (r *Registry) Discard(id string) bool {
	return r.abandoned.Take(id)
}

// Abandoned returns the number of abandoned calls whose Completion has not
// arrived yet.
func (r *Registry) Abandoned() int {
	return r.abandoned.Len()
}

// Len returns the number of outstanding calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Drain fails every outstanding call with err and rejects future
// registrations. Only the first Drain has an effect. It returns the number of
// calls that were failed.
func (r *Registry) Drain(err error) int {
	r.mu.Lock()
	if r.closed != nil {
		r.mu.Unlock()
		return 0
	}
	r.closed = err
	drained := r.pending
	r.pending = make(map[string]*Pending)
	r.abandoned.Reset()
	r.mu.Unlock()

	for _, p := range drained {
		p.done <- Outcome{Err: err}
	}
	return len(drained)
}

// Wait blocks until the call is resolved or ctx is done. A call abandoned
// through ctx leaves the pending map and is remembered as a tombstone until
// the peer's Completion for it arrives.
func (r *Registry) Wait(ctx context.Context, p *Pending) (json.RawMessage, error) {
	select {
	case o := <-p.done:
		return o.Result, o.Err
	case <-ctx.Done():
		if !r.abandon(p.id) {
			// A resolution or a drain raced with the cancellation.
			o := <-p.done
			return o.Result, o.Err
		}
		return nil, ctx.Err()
	}
}

// Closed reports the drain error, or nil while the registry is open.
func (r *Registry) Closed() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// RemoteOutcome converts a Completion's result and error fields into an Outcome.
func RemoteOutcome(result json.RawMessage, errMsg string) Outcome {
	if errMsg != "" {
		return Outcome{Err: &rpcerr.RemoteError{Message: errMsg}}
	}
	return Outcome{Result: result}
}
