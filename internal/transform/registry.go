package transform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/assetflow/internal/pipeline"
)

// Factory constructs a transform from task options. Factories validate their
// options so that bad configuration fails before a build starts.
type Factory func(pipeline.Options) (Transform, error)

// Registry maintains known transform factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a transform factory. Returns an error if the ID already exists.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return fmt.Errorf("transform: id is required")
	}
	if factory == nil {
		return fmt.Errorf("transform: factory is required for %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("transform: %s already registered", id)
	}
	r.factories[id] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(id string, factory Factory) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// Resolve constructs a transform by ID.
func (r *Registry) Resolve(id string, opts pipeline.Options) (Transform, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transform: unknown id %s", id)
	}
	tr, err := factory(opts)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, fmt.Errorf("transform: factory for %s returned nil", id)
	}
	return tr, nil
}

// IDs returns a sorted list of registered transform identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
