package azure

import (
	"fmt"
	"sync"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// Registry is the in-process provider registry. Providers are compiled
// in, so registration happens once at startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]engine.Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]engine.Provider),
	}
}

// Register registers a provider under a name.
func (r *Registry) Register(name string, provider engine.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (engine.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("provider %s not registered", name)
	}
	return provider, nil
}

// List returns metadata for every registered provider.
func (r *Registry) List() []engine.ProviderMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metadata := make([]engine.ProviderMetadata, 0, len(r.providers))
	for _, provider := range r.providers {
		metadata = append(metadata, provider.Metadata())
	}
	return metadata
}
