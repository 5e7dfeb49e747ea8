package provider

import (
	"fmt"
	"sort"
)

// Builder collects adapters during startup. Registration is a one-time,
// process-lifetime operation: Build freezes the set and the resulting
// Registry is safe for unlimited concurrent readers without locking.
type Builder struct {
	adapters map[string]Adapter
	order    []string
}

func NewBuilder() *Builder {
	return &Builder{adapters: make(map[string]Adapter)}
}

func (b *Builder) Register(a Adapter) error {
	key := a.Key()
	if key == "" {
		return fmt.Errorf("adapter has empty key")
	}
	if _, exists := b.adapters[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, key)
	}
	b.adapters[key] = a
	b.order = append(b.order, key)
	return nil
}

func (b *Builder) Build() *Registry {
	adapters := make(map[string]Adapter, len(b.adapters))
	for k, v := range b.adapters {
		adapters[k] = v
	}
	order := make([]string, len(b.order))
	copy(order, b.order)
	sort.Strings(order)
	return &Registry{adapters: adapters, order: order}
}

// Registry resolves provider keys to adapters. Read-only after Build.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

func (r *Registry) Resolve(key string) (Adapter, error) {
	a, ok := r.adapters[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, key)
	}
	return a, nil
}

// ListAll returns every registered provider regardless of configuration
// state, so unconfigured providers stay visible with Configured=false.
func (r *Registry) ListAll() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, key := range r.order {
		a := r.adapters[key]
		out = append(out, Descriptor{
			Key:        key,
			Metadata:   a.Metadata(),
			Configured: a.Available(),
		})
	}
	return out
}

// ListAvailable filters to adapters whose credentials are present.
func (r *Registry) ListAvailable() []Descriptor {
	all := r.ListAll()
	out := all[:0:0]
	for _, d := range all {
		if d.Configured {
			out = append(out, d)
		}
	}
	return out
}
