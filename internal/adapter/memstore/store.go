// Package memstore is an in-memory topic and category store used when no
// database is configured, and as a fake in tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/couchcryptid/locations/internal/domain"
)

// Store keeps topics and categories in maps guarded by a RWMutex.
type Store struct {
	mu         sync.RWMutex
	topics     map[int64]domain.Topic
	categories map[int64]domain.Category
}

// New returns an empty store.
func New() *Store {
	return &Store{
		topics:     make(map[int64]domain.Topic),
		categories: make(map[int64]domain.Category),
	}
}

// UpsertTopic inserts or replaces a topic, keeping any existing location.
func (s *Store) UpsertTopic(_ context.Context, t domain.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.topics[t.ID]; ok && t.Location == nil {
		t.Location = existing.Location
	}
	t.Location = cloneRecord(t.Location)
	t.HasGeoLocation = t.Location != nil && t.Location.HasGeoLocation()
	s.topics[t.ID] = t
	return nil
}

// UpsertCategory inserts or replaces a category, keeping any existing location.
func (s *Store) UpsertCategory(_ context.Context, c domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.categories[c.ID]; ok && c.Location == nil {
		c.Location = existing.Location
	}
	c.Location = cloneRecord(c.Location)
	s.categories[c.ID] = c
	return nil
}

// ListTopics evaluates q against every topic, newest bump first.
func (s *Store) ListTopics(_ context.Context, q domain.TopicQuery) ([]domain.Topic, error) {
	s.mu.RLock()
	var out []domain.Topic
	for _, t := range s.topics {
		if q.Matches(t) {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].BumpedAt.Equal(out[j].BumpedAt) {
			return out[i].BumpedAt.After(out[j].BumpedAt)
		}
		return out[i].ID > out[j].ID
	})

	if q.Offset() >= len(out) {
		return []domain.Topic{}, nil
	}
	out = out[q.Offset():]
	if q.Limit() > 0 && len(out) > q.Limit() {
		out = out[:q.Limit()]
	}
	return out, nil
}

// GetTopic returns a topic or domain.ErrNotFound.
func (s *Store) GetTopic(_ context.Context, id int64) (domain.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[id]
	if !ok {
		return domain.Topic{}, fmt.Errorf("topic %d: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// SaveTopicLocation replaces a topic's location. A nil record clears it.
func (s *Store) SaveTopicLocation(_ context.Context, id int64, rec *domain.LocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return fmt.Errorf("topic %d: %w", id, domain.ErrNotFound)
	}
	t.Location = cloneRecord(rec)
	t.HasGeoLocation = t.Location != nil && t.Location.HasGeoLocation()
	s.topics[id] = t
	return nil
}

// GetCategory returns a category or domain.ErrNotFound.
func (s *Store) GetCategory(_ context.Context, id int64) (domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return domain.Category{}, fmt.Errorf("category %d: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// SaveCategoryLocation replaces a category's location. A nil record clears it.
func (s *Store) SaveCategoryLocation(_ context.Context, id int64, rec *domain.LocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return fmt.Errorf("category %d: %w", id, domain.ErrNotFound)
	}
	c.Location = cloneRecord(rec)
	s.categories[id] = c
	return nil
}

// SaveCategorySettings replaces a category's location settings.
func (s *Store) SaveCategorySettings(_ context.Context, id int64, settings domain.CategorySettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return fmt.Errorf("category %d: %w", id, domain.ErrNotFound)
	}
	c.CategorySettings = settings
	s.categories[id] = c
	return nil
}

func cloneRecord(rec *domain.LocationRecord) *domain.LocationRecord {
	if rec == nil {
		return nil
	}
	out := *rec
	if rec.GeoLocation != nil {
		geo := *rec.GeoLocation
		out.GeoLocation = &geo
	}
	if rec.RawProviderResponse != nil {
		out.RawProviderResponse = append([]byte(nil), rec.RawProviderResponse...)
	}
	return &out
}
