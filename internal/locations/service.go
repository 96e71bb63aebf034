// Package locations owns the lifecycle of the location attached to a topic
// or category: validated whole-record replacement, clearing, and the events
// announcing each revision.
package locations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/locations/internal/domain"
	"github.com/couchcryptid/locations/internal/observability"
)

// Store persists topics and categories with their locations.
type Store interface {
	ListTopics(ctx context.Context, q domain.TopicQuery) ([]domain.Topic, error)
	GetTopic(ctx context.Context, id int64) (domain.Topic, error)
	SaveTopicLocation(ctx context.Context, id int64, rec *domain.LocationRecord) error
	GetCategory(ctx context.Context, id int64) (domain.Category, error)
	SaveCategoryLocation(ctx context.Context, id int64, rec *domain.LocationRecord) error
	SaveCategorySettings(ctx context.Context, id int64, settings domain.CategorySettings) error
}

// Publisher delivers location events to collaborators.
type Publisher interface {
	Publish(ctx context.Context, events ...domain.LocationEvent) error
}

// LogPublisher writes events to the log. It is used when no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, events ...domain.LocationEvent) error {
	for _, e := range events {
		p.Logger.Info("location event",
			"id", e.ID, "type", e.Type, "entity", e.Entity, "entity_id", e.EntityID)
	}
	return nil
}

// Service applies location revisions. Persistence is the source of truth;
// a failed publish is logged and counted but does not fail the revision.
type Service struct {
	store     Store
	publisher Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(store Store, publisher Publisher, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Topic returns a topic with its location.
func (s *Service) Topic(ctx context.Context, id int64) (domain.Topic, error) {
	return s.store.GetTopic(ctx, id)
}

// Category returns a category with its location and settings.
func (s *Service) Category(ctx context.Context, id int64) (domain.Category, error) {
	return s.store.GetCategory(ctx, id)
}

// SetTopicLocation validates rec and replaces the topic's location with it.
// The has-location flag is recomputed by the store.
func (s *Service) SetTopicLocation(ctx context.Context, topicID int64, rec domain.LocationRecord) (domain.LocationRecord, error) {
	normalized, err := domain.NewLocationRecord(rec)
	if err != nil {
		return domain.LocationRecord{}, err
	}
	if err := s.store.SaveTopicLocation(ctx, topicID, &normalized); err != nil {
		return domain.LocationRecord{}, fmt.Errorf("set topic location: %w", err)
	}
	s.revised(ctx, domain.EventLocationSet, domain.EntityTopic, topicID, &normalized)
	return normalized, nil
}

// ClearTopicLocation removes the topic's location and its has-location flag.
func (s *Service) ClearTopicLocation(ctx context.Context, topicID int64) error {
	if err := s.store.SaveTopicLocation(ctx, topicID, nil); err != nil {
		return fmt.Errorf("clear topic location: %w", err)
	}
	s.revised(ctx, domain.EventLocationCleared, domain.EntityTopic, topicID, nil)
	return nil
}

// SetCategoryLocation validates rec and replaces the category's location with it.
func (s *Service) SetCategoryLocation(ctx context.Context, categoryID int64, rec domain.LocationRecord) (domain.LocationRecord, error) {
	normalized, err := domain.NewLocationRecord(rec)
	if err != nil {
		return domain.LocationRecord{}, err
	}
	if err := s.store.SaveCategoryLocation(ctx, categoryID, &normalized); err != nil {
		return domain.LocationRecord{}, fmt.Errorf("set category location: %w", err)
	}
	s.revised(ctx, domain.EventLocationSet, domain.EntityCategory, categoryID, &normalized)
	return normalized, nil
}

// ClearCategoryLocation removes the category's location.
func (s *Service) ClearCategoryLocation(ctx context.Context, categoryID int64) error {
	if err := s.store.SaveCategoryLocation(ctx, categoryID, nil); err != nil {
		return fmt.Errorf("clear category location: %w", err)
	}
	s.revised(ctx, domain.EventLocationCleared, domain.EntityCategory, categoryID, nil)
	return nil
}

// UpdateCategorySettings replaces the category's location switches.
func (s *Service) UpdateCategorySettings(ctx context.Context, categoryID int64, settings domain.CategorySettings) error {
	if err := s.store.SaveCategorySettings(ctx, categoryID, settings); err != nil {
		return fmt.Errorf("update category settings: %w", err)
	}
	s.logger.Info("category location settings updated",
		"category_id", categoryID,
		"location_enabled", settings.LocationEnabled,
		"map_filter_closed", settings.MapFilterClosed,
	)
	return nil
}

// AnnounceReady publishes the one-off ready event.
func (s *Service) AnnounceReady(ctx context.Context) {
	s.publish(ctx, domain.NewLocationEvent(domain.EventLocationsReady, "", 0, nil))
}

func (s *Service) revised(ctx context.Context, eventType, entity string, id int64, rec *domain.LocationRecord) {
	s.metrics.LocationRevisions.WithLabelValues(entity, eventType).Inc()
	s.publish(ctx, domain.NewLocationEvent(eventType, entity, id, rec))
}

func (s *Service) publish(ctx context.Context, event domain.LocationEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.EventPublishErrors.Inc()
		s.logger.Error("publish location event", "type", event.Type, "entity", event.Entity,
			"entity_id", event.EntityID, "error", err)
	}
}
