package geocode

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/couchcryptid/locations/internal/domain"
)

// Factory constructs a provider adapter. It is called every time the
// provider is activated, so it should be cheap and side-effect free.
type Factory func() (domain.Provider, error)

// Registry is the name to factory table consulted by Service.SetProvider.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty provider table.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name. Names are case-insensitive and unique.
func (r *Registry) Register(name string, f Factory) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("register provider: empty name")
	}
	if f == nil {
		return fmt.Errorf("register provider %q: nil factory", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[key]; dup {
		return fmt.Errorf("register provider %q: already registered", key)
	}
	r.factories[key] = f
	return nil
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
