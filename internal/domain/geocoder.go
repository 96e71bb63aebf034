package domain

import (
	"context"
	"encoding/json"
	"slices"
)

// MaxCandidates bounds every search result.
const MaxCandidates = 10

// Candidate is a provider-neutral geocoding match.
type Candidate struct {
	DisplayName string          `json:"display_name"`
	GeoLocation *GeoLocation    `json:"geo_location"`
	Address     Address         `json:"address"`
	CountryCode string          `json:"country_code,omitempty"`
	Provider    string          `json:"provider"`
	Raw         json.RawMessage `json:"-"`
}

// Clone returns a copy that shares no memory with c.
func (c Candidate) Clone() Candidate {
	if c.GeoLocation != nil {
		geo := *c.GeoLocation
		c.GeoLocation = &geo
	}
	if c.Raw != nil {
		c.Raw = slices.Clone(c.Raw)
	}
	return c
}

// Record converts the candidate into a validated LocationRecord.
func (c Candidate) Record() (LocationRecord, error) {
	return NewLocationRecord(LocationRecord{
		GeoLocation:         c.GeoLocation,
		Address:             c.Address,
		CountryCode:         c.CountryCode,
		RawProviderResponse: c.Raw,
		ProviderName:        c.Provider,
	})
}

// SearchOptions narrows a forward search.
type SearchOptions struct {
	Limit        int
	CountryCodes []string // ISO alpha-2 bias, upper case
	Language     string
}

// Provider is one geocoding backend. Implementations own request
// construction, auth, response parsing and error mapping into GeocodeError.
type Provider interface {
	// Name is the key the provider is registered under.
	Name() string

	// Search converts free text into ordered candidates.
	Search(ctx context.Context, query string, opts SearchOptions) ([]Candidate, error)

	// Reverse converts coordinates into the nearest candidate. Returns
	// ErrNotFound when the provider has no match.
	Reverse(ctx context.Context, lat, lon float64) (Candidate, error)

	// ValidateSelf is a cheap liveness probe run before a provider is activated.
	ValidateSelf(ctx context.Context) error
}
