package provider

import (
	"fmt"

	"github.com/forgeops/subsync/domain"
)

// Registry manages all registered Git hosting provider implementations.
type Registry struct {
	providers map[string]Factory
}

// Factory is a constructor function that creates a Provider from a
// credential.
type Factory func(credential domain.Credential) (domain.Provider, error)

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Factory),
	}
}

// Register adds a provider factory under the given name (e.g. "github").
func (r *Registry) Register(name string, factory Factory) {
	r.providers[name] = factory
}

// Get returns a configured provider instance for the given name and
// credential.
func (r *Registry) Get(name string, credential domain.Credential) (domain.Provider, error) {
	factory, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider type %q", domain.ErrConfiguration, name)
	}
	return factory(credential)
}

// Names returns the list of registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
