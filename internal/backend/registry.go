package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps backend identifiers to implementations.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns a registry holding bs.
func NewRegistry(bs ...Backend) (*Registry, error) {
	r := &Registry{backends: make(map[string]Backend)}
	for _, b := range bs {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds b under its descriptor id.
func (r *Registry) Register(b Backend) error {
	id := b.Descriptor().ID
	if id == "" {
		return fmt.Errorf("backend has no id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[id]; ok {
		return fmt.Errorf("backend %q already registered", id)
	}
	r.backends[id] = b
	return nil
}

// Get returns the backend registered under id.
func (r *Registry) Get(id string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, id)
	}
	return b, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Descriptors returns every registered descriptor, sorted by id.
func (r *Registry) Descriptors() []Descriptor {
	ids := r.IDs()
	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		if b, err := r.Get(id); err == nil {
			out = append(out, b.Descriptor())
		}
	}
	return out
}
