package domain

import (
	"time"

	"github.com/google/uuid"
)

// Location event types published to collaborators.
const (
	EventLocationSet     = "location.set"
	EventLocationCleared = "location.cleared"
	EventLocationsReady  = "locations.ready"
)

// Owning entity kinds.
const (
	EntityTopic    = "topic"
	EntityCategory = "category"
)

// LocationEvent records a whole-record revision of an entity's location, or
// the one-off ready signal.
type LocationEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Entity     string          `json:"entity,omitempty"`
	EntityID   int64           `json:"entity_id,omitempty"`
	Location   *LocationRecord `json:"location,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewLocationEvent stamps an event with a fresh ID and the package clock.
func NewLocationEvent(eventType, entity string, entityID int64, rec *LocationRecord) LocationEvent {
	return LocationEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Entity:     entity,
		EntityID:   entityID,
		Location:   rec,
		OccurredAt: clock.Now().UTC(),
	}
}
