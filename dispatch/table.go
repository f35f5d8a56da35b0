package dispatch

import (
	"errors"
	"sort"
	"sync"

	"hubrpc/middleware"
)

// Table maps method names to locally registered handlers.
type Table struct {
	mu       sync.RWMutex
	handlers map[string]*entry
}

type entry struct {
	handler middleware.HandlerFunc
}

// Registration is the handle returned by Register.
type Registration struct {
	table *Table
	name  string
	entry *entry
}

// Unregister removes the handler. It does nothing if the name was registered
// again since.
func (r *Registration) Unregister() {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	if r.table.handlers[r.name] == r.entry {
		delete(r.table.handlers, r.name)
	}
}

func NewTable() *Table {
	return &Table{handlers: make(map[string]*entry)}
}

// Register binds name to h, replacing any previous handler for name.
func (t *Table) Register(name string, h middleware.HandlerFunc) (*Registration, error) {
	if name == "" {
		return nil, errors.New("handler name is empty")
	}
	if h == nil {
		return nil, errors.New("handler for " + name + " is nil")
	}
	e := &entry{handler: h}
	t.mu.Lock()
	t.handlers[name] = e
	t.mu.Unlock()
	return &Registration{table: t, name: name, entry: e}, nil
}

// Lookup returns the handler bound to name.
func (t *Table) Lookup(name string) (middleware.HandlerFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.handlers[name]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// Names lists the registered method names in sorted order.
func (t *Table) Names() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	t.mu.RUnlock()
	sort.Strings(names)
	return names
}
