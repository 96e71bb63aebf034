package maplist

import (
	"fmt"

	"github.com/couchcryptid/locations/internal/domain"
)

// Names and priorities of the built-in filters.
const (
	FilterCategory  = "category"
	FilterClosed    = "closed"
	FilterProximity = "proximity"

	PriorityCategory  = 10
	PriorityClosed    = 100
	PriorityProximity = 200
)

// RegisterDefaults adds the built-in filters.
func RegisterDefaults(r *Registry) error {
	if err := r.Register(FilterCategory, PriorityCategory, CategoryFilter); err != nil {
		return err
	}
	if err := r.Register(FilterClosed, PriorityClosed, ClosedFilter); err != nil {
		return err
	}
	return r.Register(FilterProximity, PriorityProximity, ProximityFilter)
}

// CategoryFilter scopes the listing to opts.CategoryID when set.
func CategoryFilter(q domain.TopicQuery, opts ListOptions) (domain.TopicQuery, error) {
	if opts.CategoryID == 0 {
		return q, nil
	}
	return q.Where(domain.InCategory(opts.CategoryID)), nil
}

// ClosedFilter hides closed topics when the global setting or the scoped
// category asks for it. A missing category is not an error.
func ClosedFilter(q domain.TopicQuery, opts ListOptions) (domain.TopicQuery, error) {
	hide := opts.FilterClosedGlobal
	if opts.Category != nil && opts.Category.MapFilterClosed {
		hide = true
	}
	if !hide {
		return q, nil
	}
	return q.Where(domain.Open()), nil
}

// ProximityFilter restricts to topics within opts.Near.RadiusKm.
func ProximityFilter(q domain.TopicQuery, opts ListOptions) (domain.TopicQuery, error) {
	if opts.Near == nil {
		return q, nil
	}
	center := domain.GeoLocation{Lat: opts.Near.Lat, Lon: opts.Near.Lon}
	if err := center.Validate(); err != nil {
		return q, fmt.Errorf("proximity center: %w", err)
	}
	if opts.Near.RadiusKm <= 0 {
		return q, fmt.Errorf("proximity radius must be positive, got %v", opts.Near.RadiusKm)
	}
	return q.Where(domain.WithinRadius(center, opts.Near.RadiusKm)), nil
}
