package targets

import (
	"sort"
)

// Registry resolves target names to their adapters. It is populated once at
// startup; the dispatcher resolves an adapter per ticket instead of
// branching on target names.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	for _, adapter := range adapters {
		r.adapters[adapter.Name()] = adapter
	}
	return r
}

func (r *Registry) Lookup(name string) (Adapter, bool) {
	adapter, ok := r.adapters[name]
	return adapter, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supports reports whether the named target accepts the given item type.
func (r *Registry) Supports(name, itemType string) bool {
	adapter, ok := r.adapters[name]
	if !ok {
		return false
	}
	for _, t := range adapter.SupportedItemTypes() {
		if t == itemType {
			return true
		}
	}
	return false
}
