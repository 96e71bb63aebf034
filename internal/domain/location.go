package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const (
	// SchemaVersion is the version written into every persisted location.
	SchemaVersion = 1

	// ProviderManual marks a location entered by hand rather than geocoded.
	ProviderManual = "manual"
)

// GeoLocation is a WGS-84 coordinate pair.
type GeoLocation struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks both coordinates are finite and within range.
func (g GeoLocation) Validate() error {
	if math.IsNaN(g.Lat) || math.IsInf(g.Lat, 0) || g.Lat < -90 || g.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", g.Lat)
	}
	if math.IsNaN(g.Lon) || math.IsInf(g.Lon, 0) || g.Lon < -180 || g.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", g.Lon)
	}
	return nil
}

// Address holds free-text address components. Every field is optional.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// IsZero reports whether no component is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) trimmed() Address {
	return Address{
		Street:     strings.TrimSpace(a.Street),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
	}
}

// LocationRecord is a geocoded or manually entered place bound to one topic
// or category. Records are replaced whole; there is no partial update.
type LocationRecord struct {
	GeoLocation         *GeoLocation
	Address             Address
	CountryCode         string
	RawProviderResponse json.RawMessage
	ProviderName        string
}

// NewLocationRecord normalizes and validates a record. Invalid input is
// rejected with ErrPersistenceRejected and never coerced.
func NewLocationRecord(r LocationRecord) (LocationRecord, error) {
	r.Address = r.Address.trimmed()
	r.CountryCode = strings.ToUpper(strings.TrimSpace(r.CountryCode))
	r.ProviderName = strings.TrimSpace(r.ProviderName)
	if r.ProviderName == "" {
		r.ProviderName = ProviderManual
	}
	if isJSONNull(r.RawProviderResponse) {
		r.RawProviderResponse = nil
	}
	if r.GeoLocation != nil {
		geo := *r.GeoLocation
		r.GeoLocation = &geo
	}
	if err := r.Validate(); err != nil {
		return LocationRecord{}, err
	}
	if len(r.RawProviderResponse) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, r.RawProviderResponse); err != nil {
			return LocationRecord{}, fmt.Errorf("%w: raw_provider_response: %v", ErrPersistenceRejected, err)
		}
		r.RawProviderResponse = buf.Bytes()
	}
	return r, nil
}

// Validate enforces the record invariants.
func (r LocationRecord) Validate() error {
	if r.GeoLocation != nil {
		if err := r.GeoLocation.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistenceRejected, err)
		}
	}
	if r.GeoLocation == nil && r.Address.IsZero() && r.CountryCode == "" {
		return fmt.Errorf("%w: location has neither coordinates nor address", ErrPersistenceRejected)
	}
	if r.CountryCode != "" {
		if _, err := Countries().Resolve(r.CountryCode); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistenceRejected, err)
		}
	}
	if len(r.RawProviderResponse) > 0 {
		trimmed := bytes.TrimSpace(r.RawProviderResponse)
		if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
			return fmt.Errorf("%w: raw_provider_response must be a JSON object", ErrPersistenceRejected)
		}
	}
	return nil
}

// HasGeoLocation is the derived topic flag: true iff coordinates are present.
func (r LocationRecord) HasGeoLocation() bool {
	return r.GeoLocation != nil
}

// persistedLocation is the versioned JSON form attached to a topic or category.
type persistedLocation struct {
	SchemaVersion       int             `json:"schema_version"`
	GeoLocation         *persistedGeo   `json:"geo_location"`
	Address             *Address        `json:"address"`
	CountryCode         *string         `json:"country_code"`
	RawProviderResponse json.RawMessage `json:"raw_provider_response"`
	ProviderName        string          `json:"provider_name"`
}

// persistedGeo keeps a missing coordinate distinguishable from zero.
type persistedGeo struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// MarshalJSON writes the persisted schema.
func (r LocationRecord) MarshalJSON() ([]byte, error) {
	p := persistedLocation{
		SchemaVersion: SchemaVersion,
		ProviderName:  r.ProviderName,
	}
	if r.GeoLocation != nil {
		lat, lon := r.GeoLocation.Lat, r.GeoLocation.Lon
		p.GeoLocation = &persistedGeo{Lat: &lat, Lon: &lon}
	}
	if !r.Address.IsZero() {
		addr := r.Address
		p.Address = &addr
	}
	if r.CountryCode != "" {
		code := r.CountryCode
		p.CountryCode = &code
	}
	if len(r.RawProviderResponse) > 0 {
		p.RawProviderResponse = r.RawProviderResponse
	}
	return json.Marshal(p)
}

// UnmarshalJSON parses the persisted schema and validates the result.
func (r *LocationRecord) UnmarshalJSON(data []byte) error {
	var p persistedLocation
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: decode location: %v", ErrPersistenceRejected, err)
	}
	if p.SchemaVersion == 0 {
		p.SchemaVersion = 1
	}
	if p.SchemaVersion > SchemaVersion {
		return fmt.Errorf("%w: unsupported schema_version %d", ErrPersistenceRejected, p.SchemaVersion)
	}

	rec := LocationRecord{
		RawProviderResponse: p.RawProviderResponse,
		ProviderName:        p.ProviderName,
	}
	if p.GeoLocation != nil {
		if p.GeoLocation.Lat == nil || p.GeoLocation.Lon == nil {
			return fmt.Errorf("%w: geo_location requires both lat and lon", ErrPersistenceRejected)
		}
		rec.GeoLocation = &GeoLocation{Lat: *p.GeoLocation.Lat, Lon: *p.GeoLocation.Lon}
	}
	if p.Address != nil {
		rec.Address = *p.Address
	}
	if p.CountryCode != nil {
		rec.CountryCode = *p.CountryCode
	}

	parsed, err := NewLocationRecord(rec)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseLocationRecord decodes a persisted location. Callers may pass either a
// JSON object or a JSON string containing one.
func ParseLocationRecord(data []byte) (LocationRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return LocationRecord{}, fmt.Errorf("%w: decode location: %v", ErrPersistenceRejected, err)
		}
		data = []byte(inner)
	}
	var rec LocationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return LocationRecord{}, err
	}
	return rec, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
