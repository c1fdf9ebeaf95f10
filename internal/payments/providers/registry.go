package providers

import (
	"fmt"
	"sort"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

// Registry resolves a provider name to its adapter.
type Registry struct {
	adapters map[enums.PaymentProvider]Adapter
}

// NewRegistry indexes the adapters by name. Nil adapters are skipped so
// callers can pass providers that were not configured in this environment.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	reg := &Registry{adapters: make(map[enums.PaymentProvider]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		name := adapter.Name()
		if !name.IsValid() {
			return nil, fmt.Errorf("unsupported provider %q", name)
		}
		if _, exists := reg.adapters[name]; exists {
			return nil, fmt.Errorf("provider %q registered twice", name)
		}
		reg.adapters[name] = adapter
	}
	return reg, nil
}

// Resolve returns the adapter for the provider name.
func (r *Registry) Resolve(name enums.PaymentProvider) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// Names lists the registered providers in a stable order.
func (r *Registry) Names() []enums.PaymentProvider {
	if r == nil {
		return nil
	}
	names := make([]enums.PaymentProvider, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
