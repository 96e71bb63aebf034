// Package maplist builds the location-aware topic listing: a has-location
// restriction followed by an ordered chain of registered filters.
package maplist

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/couchcryptid/locations/internal/domain"
)

// ErrSealed is returned by Register once the registration phase has ended.
var ErrSealed = errors.New("filter registry is sealed")

// Proximity restricts the listing to a radius around a point.
type Proximity struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	RadiusKm float64 `json:"radius_km"`
}

// ListOptions are threaded unchanged through every filter. Callers resolve
// the scoped category and global settings into it so filters stay pure.
type ListOptions struct {
	CategoryID         int64
	Category           *domain.Category
	FilterClosedGlobal bool
	Near               *Proximity
	Page               int
	PerPage            int
}

// FilterFunc transforms a query. Returning the input unchanged is a no-op.
type FilterFunc func(q domain.TopicQuery, opts ListOptions) (domain.TopicQuery, error)

// Filter is one registered entry.
type Filter struct {
	Name     string
	Priority int
	Fn       FilterFunc
	seq      int
}

// FilterError identifies which filter failed.
type FilterError struct {
	Filter string
	Err    error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("map filter %q: %v", e.Filter, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

// Registry is the append-only, process-wide filter table. Filters run in
// ascending priority; equal priorities keep registration order. After Seal
// the table is frozen and ApplyAll reads it without locking.
type Registry struct {
	mu      sync.Mutex
	filters []Filter
	sealed  atomic.Pointer[[]Filter]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a filter. Names must be unique.
func (r *Registry) Register(name string, priority int, fn FilterFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("register filter: empty name")
	}
	if fn == nil {
		return fmt.Errorf("register filter %q: nil func", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() != nil {
		return fmt.Errorf("register filter %q: %w", name, ErrSealed)
	}
	for _, f := range r.filters {
		if f.Name == name {
			return fmt.Errorf("register filter %q: already registered", name)
		}
	}
	r.filters = append(r.filters, Filter{Name: name, Priority: priority, Fn: fn, seq: len(r.filters)})
	return nil
}

// Seal ends the registration phase. It is safe to call more than once.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() != nil {
		return
	}
	ordered := r.sortedLocked()
	r.sealed.Store(&ordered)
}

// Sealed reports whether registration has ended.
func (r *Registry) Sealed() bool {
	return r.sealed.Load() != nil
}

// Filters returns the filters in application order.
func (r *Registry) Filters() []Filter {
	ordered := r.ordered()
	out := make([]Filter, len(ordered))
	copy(out, ordered)
	return out
}

// ApplyAll folds q through every filter in order. The first failing filter
// aborts the chain with a *FilterError.
func (r *Registry) ApplyAll(q domain.TopicQuery, opts ListOptions) (domain.TopicQuery, error) {
	for _, f := range r.ordered() {
		next, err := f.Fn(q, opts)
		if err != nil {
			return q, &FilterError{Filter: f.Name, Err: err}
		}
		q = next
	}
	return q, nil
}

func (r *Registry) ordered() []Filter {
	if sealed := r.sealed.Load(); sealed != nil {
		return *sealed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

func (r *Registry) sortedLocked() []Filter {
	out := make([]Filter, len(r.filters))
	copy(out, r.filters)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}
