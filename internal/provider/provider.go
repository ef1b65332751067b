// Package provider defines the context provider contract and a
// registry the observation collector enumerates each cycle. Providers
// are external collaborators: a failing Get must never abort
// collection, so the registry makes no reliability promises beyond
// enumeration.
package provider

import (
	"context"
	"sync"
)

// Result is one provider's contribution to a cycle: free text, a
// structured payload, or both.
type Result struct {
	Text string
	Data map[string]any
}

// Provider supplies contextual data to the observation collector.
type Provider interface {
	// Name identifies the provider; it keys the relevance table.
	Name() string
	// Private providers are excluded from routine collection unless
	// explicitly always-included (the feed provider).
	Private() bool
	// Get returns the provider's current contribution. Errors are
	// logged and skipped by the collector.
	Get(ctx context.Context) (Result, error)
}

// Registry holds the registered providers in registration order.
// Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	byName    map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Provider)}
}

// Register adds a provider. Registering a second provider with the
// same name replaces the first in lookups but keeps enumeration order.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	r.byName[p.Name()] = p
}

// All returns the registered providers in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
