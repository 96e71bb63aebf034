//go:build integration

package integration_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/locations/internal/adapter/postgres"
	"github.com/couchcryptid/locations/internal/domain"
	"github.com/couchcryptid/locations/internal/maplist"
	"github.com/couchcryptid/locations/internal/observability"
)

func openPostgresStore(ctx context.Context, t *testing.T) *postgres.Store {
	t.Helper()
	dsn := startPostgres(ctx, t)
	require.NoError(t, postgres.RunMigrations(dsn))
	require.NoError(t, postgres.RunMigrations(dsn), "migrations are idempotent")

	db, err := postgres.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := postgres.NewStore(db)
	require.NoError(t, store.CheckReadiness(ctx))
	return store
}

func TestPostgresLocationRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	store := openPostgresStore(ctx, t)

	require.NoError(t, store.UpsertCategory(ctx, domain.Category{ID: 1, Name: "Meetups"}))
	require.NoError(t, store.UpsertTopic(ctx, domain.Topic{ID: 10, Title: "Austin", CategoryID: 1, BumpedAt: time.Now().UTC()}))

	rec, err := domain.NewLocationRecord(domain.LocationRecord{
		GeoLocation:         &domain.GeoLocation{Lat: 30.2672, Lon: -97.7431},
		Address:             domain.Address{City: "Austin", State: "Texas"},
		CountryCode:         "us",
		RawProviderResponse: []byte(`{"place_id":123}`),
		ProviderName:        "nominatim",
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveTopicLocation(ctx, 10, &rec))

	topic, err := store.GetTopic(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, topic.Location)
	assert.True(t, topic.HasGeoLocation)
	assert.Empty(t, cmp.Diff(rec.GeoLocation, topic.Location.GeoLocation))
	assert.Equal(t, rec.Address, topic.Location.Address)
	assert.Equal(t, "US", topic.Location.CountryCode)
	assert.JSONEq(t, `{"place_id":123}`, string(topic.Location.RawProviderResponse))

	require.NoError(t, store.SaveTopicLocation(ctx, 10, nil))
	topic, err = store.GetTopic(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, topic.Location)
	assert.False(t, topic.HasGeoLocation)

	err = store.SaveTopicLocation(ctx, 999, &rec)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, store.SaveCategorySettings(ctx, 1, domain.CategorySettings{LocationEnabled: true, MapFilterClosed: true}))
	cat, err := store.GetCategory(ctx, 1)
	require.NoError(t, err)
	assert.True(t, cat.MapFilterClosed)
}

func TestPostgresUpsertRollsBackOnLocationFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	store := openPostgresStore(ctx, t)

	require.NoError(t, store.UpsertCategory(ctx, domain.Category{ID: 5, Name: "Trails"}))
	unencodable := &domain.LocationRecord{GeoLocation: &domain.GeoLocation{Lat: math.NaN(), Lon: 0}}

	err := store.UpsertTopic(ctx, domain.Topic{ID: 50, Title: "Ridge", CategoryID: 5, BumpedAt: time.Now().UTC(), Location: unencodable})
	require.Error(t, err)
	_, err = store.GetTopic(ctx, 50)
	assert.ErrorIs(t, err, domain.ErrNotFound, "topic row is rolled back with its location")

	err = store.UpsertCategory(ctx, domain.Category{ID: 5, Name: "Renamed", Location: unencodable})
	require.Error(t, err)
	cat, err := store.GetCategory(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "Trails", cat.Name)
	assert.Nil(t, cat.Location)
}

func TestPostgresProximityNearAntipode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	store := openPostgresStore(ctx, t)

	require.NoError(t, store.UpsertCategory(ctx, domain.Category{ID: 6, Name: "Far"}))
	require.NoError(t, store.UpsertTopic(ctx, domain.Topic{
		ID: 60, CategoryID: 6, BumpedAt: time.Now().UTC(),
		Location: &domain.LocationRecord{GeoLocation: &domain.GeoLocation{Lat: 0, Lon: 180}, ProviderName: "manual"},
	}))

	topics, err := store.ListTopics(ctx, domain.NewTopicQuery().Where(domain.WithinRadius(domain.GeoLocation{Lat: 0, Lon: 0}, 20100)))
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, int64(60), topics[0].ID)
}

func TestPostgresMapList(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	store := openPostgresStore(ctx, t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertCategory(ctx, domain.Category{
		ID: 2, Name: "Venues", CategorySettings: domain.CategorySettings{MapFilterClosed: true},
	}))
	for _, topic := range []domain.Topic{
		{ID: 1, CategoryID: 2, BumpedAt: now, Location: &domain.LocationRecord{GeoLocation: &domain.GeoLocation{Lat: 30.27, Lon: -97.74}, ProviderName: "manual"}},
		{ID: 2, CategoryID: 2, Closed: true, BumpedAt: now.Add(-time.Hour), Location: &domain.LocationRecord{GeoLocation: &domain.GeoLocation{Lat: 30.28, Lon: -97.75}, ProviderName: "manual"}},
		{ID: 3, CategoryID: 2, BumpedAt: now.Add(-2 * time.Hour), Location: &domain.LocationRecord{Address: domain.Address{City: "Austin"}, ProviderName: "manual"}},
		{ID: 4, CategoryID: 2, BumpedAt: now.Add(-3 * time.Hour), Location: &domain.LocationRecord{GeoLocation: &domain.GeoLocation{Lat: 35.68, Lon: 139.65}, ProviderName: "manual"}},
	} {
		require.NoError(t, store.UpsertTopic(ctx, topic))
	}

	filters := maplist.NewRegistry()
	require.NoError(t, maplist.RegisterDefaults(filters))
	filters.Seal()
	builder := maplist.NewBuilder(filters, store, 30, observability.NewMetricsForTesting(), observability.DiscardLogger())

	ids := func(list maplist.TopicList) []int64 {
		out := make([]int64, 0, len(list.Topics))
		for _, topic := range list.Topics {
			out = append(out, topic.ID)
		}
		return out
	}

	list, err := builder.List(ctx, domain.NewTopicQuery(), maplist.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 4}, ids(list))

	cat, err := store.GetCategory(ctx, 2)
	require.NoError(t, err)
	list, err = builder.List(ctx, domain.NewTopicQuery(), maplist.ListOptions{CategoryID: 2, Category: &cat})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, ids(list))

	list, err = builder.List(ctx, domain.NewTopicQuery(), maplist.ListOptions{
		Near: &maplist.Proximity{Lat: 30.27, Lon: -97.74, RadiusKm: 25},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(list))

	list, err = builder.List(ctx, domain.NewTopicQuery(), maplist.ListOptions{PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(list))
	assert.True(t, list.MoreTopics)
}
