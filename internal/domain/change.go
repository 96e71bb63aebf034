package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RawEvent is an unprocessed message from the host change topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// HostChange is a topic or category created or edited on the host forum.
// Exactly one of Topic and Category is set, matching Entity.
type HostChange struct {
	Entity   string    `json:"entity"`
	Topic    *Topic    `json:"topic,omitempty"`
	Category *Category `json:"category,omitempty"`
}

// ParseHostChange decodes and validates a change message. A location carried
// in the payload goes through the same validation as a direct revision.
func ParseHostChange(raw RawEvent) (HostChange, error) {
	var change HostChange
	if err := json.Unmarshal(raw.Value, &change); err != nil {
		return HostChange{}, fmt.Errorf("decode host change: %w", err)
	}
	change.Entity = strings.ToLower(strings.TrimSpace(change.Entity))

	switch change.Entity {
	case EntityTopic:
		if change.Topic == nil || change.Topic.ID <= 0 {
			return HostChange{}, errors.New("topic change without a valid topic")
		}
		change.Category = nil
		change.Topic.HasGeoLocation = change.Topic.Location != nil && change.Topic.Location.HasGeoLocation()
	case EntityCategory:
		if change.Category == nil || change.Category.ID <= 0 {
			return HostChange{}, errors.New("category change without a valid category")
		}
		change.Topic = nil
	default:
		return HostChange{}, fmt.Errorf("unknown host change entity %q", change.Entity)
	}
	return change, nil
}
