// Package domain models locations attached to discussion topics and categories.
//
// # Persisted Location
//
// A location is stored as a versioned JSON document next to its owning topic
// or category:
//
//	{ "schema_version": 1,
//	  "geo_location": {"lat": 51.5, "lon": -0.12} | null,
//	  "address": {"street":..,"city":..,"state":..,"postal_code":..} | null,
//	  "country_code": "GB" | null,
//	  "raw_provider_response": {...} | null,
//	  "provider_name": "nominatim" }
//
// Documents without schema_version are read as version 1. A record must carry
// coordinates, an address component or a country code; coordinates must lie within
// [-90,90] x [-180,180]. Violations are rejected with [ErrPersistenceRejected].
//
// # Has-location Flag
//
// Topics carry a derived has_geo_location flag, recomputed on every write:
// true iff the record has coordinates. The map list scopes on it first.
//
// # Provider Errors
//
// Every adapter failure is normalized into [GeocodeError] with one of four
// kinds: Timeout, RateLimited, BadResponse, ProviderDown. Timeout and
// ProviderDown are transient and get one immediate retry.
package domain
