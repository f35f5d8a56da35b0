package invocation

import (
	"container/list"
	"sync"
)

// DefaultTombstoneLimit caps how many given-up ids a connection remembers.
const DefaultTombstoneLimit = 1024

// Tombstones remembers ids the local side gave up on, so frames the peer
// still sends for them are recognised and dropped quietly instead of being
// reported as protocol violations.
//
// A tombstone is cleared by the peer's final Completion. Peers that never
// send one cannot grow the set past its limit: the oldest id is evicted
// first, and a frame for an evicted id is reported as unknown.
type Tombstones struct {
	limit int

	mu    sync.Mutex
	order *list.List // oldest at the front
	ids   map[string]*list.Element
}

// NewTombstones creates a set holding at most limit ids. A non-positive
// limit selects DefaultTombstoneLimit.
func NewTombstones(limit int) *Tombstones {
	if limit <= 0 {
		limit = DefaultTombstoneLimit
	}
	return &Tombstones{
		limit: limit,
		order: list.New(),
		ids:   make(map[string]*list.Element),
	}
}

// Add records id, evicting the oldest entry when the set is full.
func (t *Tombstones) Add(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.ids[id]; ok {
		return
	}
	t.ids[id] = t.order.PushBack(id)
	for t.order.Len() > t.limit {
		oldest := t.order.Front()
		t.order.Remove(oldest)
		delete(t.ids, oldest.Value.(string))
	}
}

// Has reports whether id is recorded.
func (t *Tombstones) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

// Take removes id and reports whether it was recorded.
func (t *Tombstones) Take(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.ids[id]
	if ok {
		t.order.Remove(e)
		delete(t.ids, id)
	}
	return ok
}

// Len returns the number of recorded ids.
func (t *Tombstones) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

// Reset forgets every id.
func (t *Tombstones) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order.Init()
	t.ids = make(map[string]*list.Element)
}
