package provider

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/veyra/stitchd/errors"
)

// Registry binds provider names to implementations.
//
// Register atomically replaces any existing binding under the same name
// (hot reload, no restart). Readers dereference an immutable snapshot, so
// lookups never observe a half-updated binding and proceed unblocked by
// writes. A dispatch already holding the prior instance completes
// unaffected by a concurrent replacement.
type Registry struct {
	writeMu  sync.Mutex
	snapshot atomic.Pointer[map[string]Provider]
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]Provider)
	r.snapshot.Store(&empty)
	return r
}

// Register binds name to p, replacing any existing binding as a single
// atomic step.
func (r *Registry) Register(name string, p Provider) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := *r.snapshot.Load()
	next := make(map[string]Provider, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[name] = p
	r.snapshot.Store(&next)
}

// Lookup resolves a provider by name, returning ErrNotFound when absent.
func (r *Registry) Lookup(name string) (Provider, error) {
	m := *r.snapshot.Load()
	p, ok := m[name]
	if !ok {
		return nil, errors.NewNotFound("unknown provider %q", name)
	}
	return p, nil
}

// Has reports whether a provider is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := (*r.snapshot.Load())[name]
	return ok
}

// List returns all registered provider names in sorted order
func (r *Registry) List() []string {
	m := *r.snapshot.Load()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns descriptors for all registered providers, sorted
// by name.
func (r *Registry) Descriptors() []Descriptor {
	m := *r.snapshot.Load()
	out := make([]Descriptor, 0, len(m))
	for name, p := range m {
		d := Describe(p)
		d.Name = name // registry alias wins over the self-reported name
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
