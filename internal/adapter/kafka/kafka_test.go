package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/locations/internal/config"
	"github.com/couchcryptid/locations/internal/domain"
	"github.com/couchcryptid/locations/internal/observability"
)

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	rec, err := domain.NewLocationRecord(domain.LocationRecord{
		GeoLocation: &domain.GeoLocation{Lat: 35.0, Lon: -97.0},
		CountryCode: "us",
	})
	require.NoError(t, err)
	event := domain.LocationEvent{
		ID:         "evt-1",
		Type:       domain.EventLocationSet,
		Entity:     domain.EntityTopic,
		EntityID:   42,
		Location:   &rec,
		OccurredAt: now,
	}

	msg, err := serializeToMessage(event)
	require.NoError(t, err)

	assert.Equal(t, []byte("topic:42"), msg.Key)
	assert.Contains(t, string(msg.Value), `"type":"location.set"`)
	assert.Contains(t, string(msg.Value), `"schema_version":1`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("location.set"), msg.Headers[0].Value)
	assert.Equal(t, "occurred_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[1].Value)

	var decoded domain.LocationEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.EntityID, decoded.EntityID)
	require.NotNil(t, decoded.Location)
	assert.Equal(t, "US", decoded.Location.CountryCode)
}

func TestSerializeToMessage_ReadyEventKeyedByID(t *testing.T) {
	event := domain.LocationEvent{ID: "ready-1", Type: domain.EventLocationsReady, OccurredAt: time.Now()}

	msg, err := serializeToMessage(event)
	require.NoError(t, err)
	assert.Equal(t, []byte("ready-1"), msg.Key)
	assert.NotContains(t, string(msg.Value), `"location"`)
}

func TestWriter_PublishNothing(t *testing.T) {
	w := NewWriter(&config.Config{KafkaBrokers: []string{"localhost:1"}, KafkaLocationTopic: "t"}, observability.DiscardLogger())
	defer w.Close()
	require.NoError(t, w.Publish(context.Background()))
}

func TestHeaderMap(t *testing.T) {
	assert.Nil(t, headerMap(nil))
	assert.Equal(t, map[string]string{"source": "forum", "entity": "topic"}, headerMap([]kafkago.Header{
		{Key: "source", Value: []byte("forum")},
		{Key: "entity", Value: []byte("topic")},
	}))
}

func TestToRawEvent(t *testing.T) {
	r := NewReader(&config.Config{
		KafkaBrokers:       []string{"localhost:1"},
		KafkaIngestTopic:   "forum-changes",
		KafkaGroupID:       "locations",
		BatchFlushInterval: time.Second,
	}, observability.DiscardLogger())
	defer r.Close()

	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	raw := r.toRawEvent(kafkago.Message{
		Topic: "forum-changes", Partition: 2, Offset: 17, Time: ts,
		Key: []byte("topic:1"), Value: []byte(`{}`),
	})

	assert.Equal(t, "forum-changes", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(17), raw.Offset)
	assert.Equal(t, ts, raw.Timestamp)
	assert.NotNil(t, raw.Commit)
}
