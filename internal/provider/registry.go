package provider

import (
	"fmt"

	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

// Registry selects an Adapter by the stream's provider tag.
type Registry struct {
	adapters map[stream.Provider]Adapter
}

// NewRegistry creates a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[stream.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Name()] = a
		}
	}
	return r
}

// Get returns the adapter for p.
func (r *Registry) Get(p stream.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured: %w", p, stream.ErrInvalid)
	}
	return a, nil
}

// Providers lists the configured provider tags.
func (r *Registry) Providers() []stream.Provider {
	out := make([]stream.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
