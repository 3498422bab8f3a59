package payment

import (
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/payhub/server/internal/module/payment/gateway"
)

// Registry holds the configured gateway adapters. The set is fixed at
// startup; the lock only guards against registration racing an early
// request during boot.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]gateway.Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]gateway.Adapter)}
}

// Register registers an adapter under its name.
func (r *Registry) Register(a gateway.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for the given provider key.
func (r *Registry) Get(name string) (gateway.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return a, nil
}

// List returns all registered provider keys.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.adapters)
}
