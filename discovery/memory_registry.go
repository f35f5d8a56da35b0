package discovery

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is a process-local Registry for single-host setups and tests.
// TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	hubs     map[string]map[string]Instance
	watchers map[string][]chan []Instance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		hubs:     make(map[string]map[string]Instance),
		watchers: make(map[string][]chan []Instance),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, hub string, instance Instance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hubs[hub] == nil {
		r.hubs[hub] = make(map[string]Instance)
	}
	r.hubs[hub][instance.Addr] = instance
	r.notify(hub)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, hub string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hubs[hub], addr)
	r.notify(hub)
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, hub string) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(hub), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, hub string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	r.mu.Lock()
	r.watchers[hub] = append(r.watchers[hub], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[hub]
		for i, w := range ws {
			if w == ch {
				r.watchers[hub] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *MemoryRegistry) list(hub string) []Instance {
	instances := make([]Instance, 0, len(r.hubs[hub]))
	for _, inst := range r.hubs[hub] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Addr < instances[j].Addr })
	return instances
}

// notify replaces any undelivered snapshot with the latest one. r.mu is held.
func (r *MemoryRegistry) notify(hub string) {
	snapshot := r.list(hub)
	for _, ch := range r.watchers[hub] {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
