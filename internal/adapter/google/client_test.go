package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/locations/internal/adapter/providerhttp"
	"github.com/couchcryptid/locations/internal/domain"
)

const testKey = "gm-test-key"

const montevideoResult = `{
	"formatted_address": "Av. 18 de Julio 1360, 11200 Montevideo, Uruguay",
	"geometry": {"location": {"lat": -34.9058, "lng": -56.1913}, "location_type": "ROOFTOP"},
	"address_components": [
		{"long_name": "1360", "short_name": "1360", "types": ["street_number"]},
		{"long_name": "Avenida 18 de Julio", "short_name": "Av. 18 de Julio", "types": ["route"]},
		{"long_name": "Montevideo", "short_name": "Montevideo", "types": ["locality", "political"]},
		{"long_name": "Departamento de Montevideo", "short_name": "Departamento de Montevideo", "types": ["administrative_area_level_1", "political"]},
		{"long_name": "Uruguay", "short_name": "UY", "types": ["country", "political"]},
		{"long_name": "11200", "short_name": "11200", "types": ["postal_code"]}
	]
}`

func testGeocoder(baseURL string) *MapsGeocoder {
	return &MapsGeocoder{apiKey: testKey, baseURL: baseURL, http: providerhttp.New(Name, providerhttp.Options{})}
}

func TestMapsGeocoder_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "18 de Julio 1360", q.Get("address"))
		assert.Equal(t, testKey, q.Get("key"))
		assert.Equal(t, "uy", q.Get("region"))
		assert.Equal(t, "es", q.Get("language"))
		_, _ = w.Write([]byte(`{"status":"OK","results":[` + montevideoResult + `]}`))
	}))
	defer srv.Close()

	got, err := testGeocoder(srv.URL).Search(context.Background(), "18 de Julio 1360",
		domain.SearchOptions{Limit: 5, CountryCodes: []string{"UY"}, Language: "es"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	cand := got[0]
	assert.Equal(t, "Av. 18 de Julio 1360, 11200 Montevideo, Uruguay", cand.DisplayName)
	assert.Equal(t, &domain.GeoLocation{Lat: -34.9058, Lon: -56.1913}, cand.GeoLocation)
	assert.Equal(t, domain.Address{
		Street: "1360 Avenida 18 de Julio", City: "Montevideo",
		State: "Departamento de Montevideo", PostalCode: "11200",
	}, cand.Address)
	assert.Equal(t, "UY", cand.CountryCode)
}

func TestMapsGeocoder_ZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	}))
	defer srv.Close()

	g := testGeocoder(srv.URL)
	got, err := g.Search(context.Background(), "nowhere", domain.SearchOptions{Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = g.Reverse(context.Background(), 0, 0)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMapsGeocoder_StatusMapping(t *testing.T) {
	tests := []struct {
		status string
		kind   domain.ErrorKind
	}{
		{"OVER_QUERY_LIMIT", domain.KindRateLimited},
		{"OVER_DAILY_LIMIT", domain.KindRateLimited},
		{"REQUEST_DENIED", domain.KindProviderDown},
		{"UNKNOWN_ERROR", domain.KindProviderDown},
		{"INVALID_REQUEST", domain.KindBadResponse},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"status":"` + tt.status + `","error_message":"details","results":[]}`))
			}))
			defer srv.Close()

			_, err := testGeocoder(srv.URL).Search(context.Background(), "x", domain.SearchOptions{Limit: 1})
			geoErr, ok := domain.AsGeocodeError(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, geoErr.Kind)
			assert.Contains(t, err.Error(), tt.status)
			assert.Contains(t, err.Error(), "details")
		})
	}
}

func TestMapsGeocoder_Reverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "-34.905800,-56.191300", r.URL.Query().Get("latlng"))
		_, _ = w.Write([]byte(`{"status":"OK","results":[` + montevideoResult + `]}`))
	}))
	defer srv.Close()

	cand, err := testGeocoder(srv.URL).Reverse(context.Background(), -34.9058, -56.1913)
	require.NoError(t, err)
	assert.Equal(t, "Montevideo", cand.Address.City)
}

func TestMapsGeocoder_ValidateSelf(t *testing.T) {
	require.Error(t, NewMapsGeocoder("", time.Second).ValidateSelf(context.Background()))
	require.NoError(t, NewMapsGeocoder(testKey, time.Second).ValidateSelf(context.Background()))
}
