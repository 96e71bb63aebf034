// Package providers registers every geocoding adapter with a geocode.Registry.
package providers

import (
	"fmt"

	"github.com/couchcryptid/locations/internal/adapter/google"
	"github.com/couchcryptid/locations/internal/adapter/mapbox"
	"github.com/couchcryptid/locations/internal/adapter/nominatim"
	"github.com/couchcryptid/locations/internal/adapter/opencage"
	"github.com/couchcryptid/locations/internal/config"
	"github.com/couchcryptid/locations/internal/geocode"
)

// NewRegistry returns a registry holding every built-in adapter configured from cfg.
func NewRegistry(cfg *config.Config) (*geocode.Registry, error) {
	reg := geocode.NewRegistry()
	if err := RegisterAll(reg, cfg); err != nil {
		return nil, err
	}
	return reg, nil
}

// RegisterAll adds every built-in adapter to reg.
func RegisterAll(reg *geocode.Registry, cfg *config.Config) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{nominatim.Name, func() error {
			return nominatim.Register(reg, nominatim.Options{
				BaseURL:       cfg.NominatimURL,
				UserAgent:     cfg.NominatimUserAgent,
				Timeout:       cfg.GeocodeTimeout,
				LocationIQKey: cfg.LocationIQKey,
			})
		}},
		{mapbox.Name, func() error { return mapbox.Register(reg, cfg.MapboxToken, cfg.GeocodeTimeout) }},
		{opencage.Name, func() error { return opencage.Register(reg, cfg.OpenCageKey, cfg.GeocodeTimeout) }},
		{google.Name, func() error { return google.Register(reg, cfg.GoogleMapsAPIKey, cfg.GeocodeTimeout) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return fmt.Errorf("register %s: %w", s.name, err)
		}
	}
	return nil
}
