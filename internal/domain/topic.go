package domain

import (
	"math"
	"time"
)

// Topic is the host's topic projected to the fields the map list needs.
type Topic struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	CategoryID     int64           `json:"category_id"`
	Closed         bool            `json:"closed"`
	BumpedAt       time.Time       `json:"bumped_at"`
	Location       *LocationRecord `json:"location,omitempty"`
	HasGeoLocation bool            `json:"-"`
}

// CategorySettings are the per-category location switches.
type CategorySettings struct {
	LocationEnabled     bool `json:"location_enabled"`
	LocationTopicStatus bool `json:"location_topic_status"`
	MapFilterClosed     bool `json:"location_map_filter_closed"`
}

// Category is the host's category projected to its location settings.
type Category struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Location *LocationRecord `json:"location,omitempty"`
	CategorySettings
}

// Condition is one restriction on a topic listing. SQL uses `?` placeholders
// over the aliases t (topics) and l (topic_locations); Match is the same
// predicate evaluated in memory.
type Condition struct {
	Name  string
	SQL   string
	Args  []any
	Match func(Topic) bool
}

// TopicQuery is an immutable description of a topic listing.
type TopicQuery struct {
	conds  []Condition
	limit  int
	offset int
}

// NewTopicQuery returns a query over every topic.
func NewTopicQuery() TopicQuery {
	return TopicQuery{}
}

// Where returns a copy of q with c appended.
func (q TopicQuery) Where(c Condition) TopicQuery {
	conds := make([]Condition, len(q.conds), len(q.conds)+1)
	copy(conds, q.conds)
	q.conds = append(conds, c)
	return q
}

// None returns a copy of q that matches nothing.
func (q TopicQuery) None() TopicQuery {
	return q.Where(Condition{
		Name:  "none",
		SQL:   "FALSE",
		Match: func(Topic) bool { return false },
	})
}

// Page sets limit and offset. A zero limit means unbounded.
func (q TopicQuery) Page(limit, offset int) TopicQuery {
	q.limit = limit
	q.offset = offset
	return q
}

// Limit returns the page size, 0 when unbounded.
func (q TopicQuery) Limit() int { return q.limit }

// Offset returns the page offset.
func (q TopicQuery) Offset() int { return q.offset }

// Conditions returns a copy of the conditions in order.
func (q TopicQuery) Conditions() []Condition {
	out := make([]Condition, len(q.conds))
	copy(out, q.conds)
	return out
}

// Has reports whether a condition with the given name is present.
func (q TopicQuery) Has(name string) bool {
	for _, c := range q.conds {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Matches evaluates every condition against t.
func (q TopicQuery) Matches(t Topic) bool {
	for _, c := range q.conds {
		if c.Match != nil && !c.Match(t) {
			return false
		}
	}
	return true
}

// ConditionHasGeoLocation is the name of the has-location restriction.
const ConditionHasGeoLocation = "has_geo_location"

// HasGeoLocation restricts to topics whose location carries coordinates.
func HasGeoLocation() Condition {
	return Condition{
		Name: ConditionHasGeoLocation,
		SQL:  "l.has_geo_location = TRUE",
		Match: func(t Topic) bool {
			return t.HasGeoLocation && t.Location != nil && t.Location.GeoLocation != nil
		},
	}
}

// Open restricts to topics that are not closed.
func Open() Condition {
	return Condition{
		Name:  "open",
		SQL:   "t.closed = FALSE",
		Match: func(t Topic) bool { return !t.Closed },
	}
}

// InCategory restricts to topics in the given category.
func InCategory(id int64) Condition {
	return Condition{
		Name:  "category",
		SQL:   "t.category_id = ?",
		Args:  []any{id},
		Match: func(t Topic) bool { return t.CategoryID == id },
	}
}

// EarthRadiusKm is the mean earth radius used for proximity.
const EarthRadiusKm = 6371.0

// WithinRadius restricts to topics whose coordinates lie within radiusKm of
// center, by great-circle distance.
func WithinRadius(center GeoLocation, radiusKm float64) Condition {
	return Condition{
		Name: "proximity",
		SQL: "l.lat IS NOT NULL AND 2 * 6371.0 * asin(LEAST(1, sqrt(" +
			"power(sin(radians(l.lat - ?) / 2), 2) + " +
			"cos(radians(?)) * cos(radians(l.lat)) * power(sin(radians(l.lon - ?) / 2), 2)" +
			"))) <= ?",
		Args: []any{center.Lat, center.Lat, center.Lon, radiusKm},
		Match: func(t Topic) bool {
			if t.Location == nil || t.Location.GeoLocation == nil {
				return false
			}
			return HaversineKm(center, *t.Location.GeoLocation) <= radiusKm
		},
	}
}

// HaversineKm returns the great-circle distance between two points in kilometres.
func HaversineKm(a, b GeoLocation) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
