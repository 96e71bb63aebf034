// Package google implements domain.Provider over the Google Maps Geocoding API.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/locations/internal/adapter/providerhttp"
	"github.com/couchcryptid/locations/internal/domain"
	"github.com/couchcryptid/locations/internal/geocode"
)

// Name is the registry key of the Google Maps provider.
const Name = "google"

const defaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

// MapsGeocoder uses the Google Maps Geocoding API.
type MapsGeocoder struct {
	apiKey  string
	baseURL string
	http    *providerhttp.Client
}

// NewMapsGeocoder creates a new Google Maps geocoder.
func NewMapsGeocoder(apiKey string, timeout time.Duration) *MapsGeocoder {
	return &MapsGeocoder{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: providerhttp.New(Name, providerhttp.Options{
			Timeout:       timeout,
			RatePerSecond: 50,
			Burst:         10,
		}),
	}
}

// Register adds the Google factory to reg.
func Register(reg *geocode.Registry, apiKey string, timeout time.Duration) error {
	return reg.Register(Name, func() (domain.Provider, error) {
		return NewMapsGeocoder(apiKey, timeout), nil
	})
}

func (g *MapsGeocoder) Name() string { return Name }

func (g *MapsGeocoder) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.Candidate, error) {
	params := url.Values{}
	params.Set("address", query)
	params.Set("key", g.apiKey)
	// Google takes a single region bias; component filtering would exclude
	// everything outside it.
	if len(opts.CountryCodes) > 0 {
		params.Set("region", strings.ToLower(opts.CountryCodes[0]))
	}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}

	candidates, err := g.doRequest(ctx, params)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return candidates, err
}

func (g *MapsGeocoder) Reverse(ctx context.Context, lat, lon float64) (domain.Candidate, error) {
	params := url.Values{}
	params.Set("latlng", fmt.Sprintf("%.6f,%.6f", lat, lon))
	params.Set("key", g.apiKey)

	candidates, err := g.doRequest(ctx, params)
	if err != nil {
		return domain.Candidate{}, err
	}
	return candidates[0], nil
}

// ValidateSelf fails when no API key is configured.
func (g *MapsGeocoder) ValidateSelf(context.Context) error {
	if g.apiKey == "" {
		return errors.New("GOOGLE_MAPS_API_KEY is not set")
	}
	return nil
}

func (g *MapsGeocoder) doRequest(ctx context.Context, params url.Values) ([]domain.Candidate, error) {
	var gmResp mapsResponse
	if _, err := g.http.GetJSON(ctx, g.baseURL+"?"+params.Encode(), &gmResp); err != nil {
		return nil, err
	}

	switch gmResp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, domain.ErrNotFound
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return nil, g.statusError(domain.KindRateLimited, gmResp)
	case "REQUEST_DENIED", "UNKNOWN_ERROR":
		return nil, g.statusError(domain.KindProviderDown, gmResp)
	default:
		return nil, g.statusError(domain.KindBadResponse, gmResp)
	}

	if len(gmResp.Results) == 0 {
		return nil, domain.ErrNotFound
	}

	out := make([]domain.Candidate, 0, len(gmResp.Results))
	for _, raw := range gmResp.Results {
		var r mapsResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, domain.NewGeocodeError(domain.KindBadResponse, Name, fmt.Errorf("decode result: %w", err))
		}
		out = append(out, r.toCandidate(raw))
	}
	return out, nil
}

func (g *MapsGeocoder) statusError(kind domain.ErrorKind, resp mapsResponse) error {
	cause := fmt.Errorf("google maps status: %s", resp.Status)
	if resp.ErrorMessage != "" {
		cause = fmt.Errorf("google maps status: %s: %s", resp.Status, resp.ErrorMessage)
	}
	return domain.NewGeocodeError(kind, Name, cause)
}

type mapsResponse struct {
	Results      []json.RawMessage `json:"results"`
	Status       string            `json:"status"` // OK, ZERO_RESULTS, etc.
	ErrorMessage string            `json:"error_message"`
}

type mapsResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	FormattedAddress  string `json:"formatted_address"`
	AddressComponents []struct {
		LongName  string   `json:"long_name"`
		ShortName string   `json:"short_name"`
		Types     []string `json:"types"`
	} `json:"address_components"`
}

func (r mapsResult) toCandidate(raw json.RawMessage) domain.Candidate {
	cand := domain.Candidate{
		DisplayName: r.FormattedAddress,
		GeoLocation: &domain.GeoLocation{Lat: r.Geometry.Location.Lat, Lon: r.Geometry.Location.Lng},
		Provider:    Name,
		Raw:         raw,
	}

	var number, route string
	for _, c := range r.AddressComponents {
		switch {
		case slices.Contains(c.Types, "street_number"):
			number = c.LongName
		case slices.Contains(c.Types, "route"):
			route = c.LongName
		case slices.Contains(c.Types, "locality"):
			cand.Address.City = c.LongName
		case slices.Contains(c.Types, "postal_town") && cand.Address.City == "":
			cand.Address.City = c.LongName
		case slices.Contains(c.Types, "administrative_area_level_1"):
			cand.Address.State = c.LongName
		case slices.Contains(c.Types, "postal_code"):
			cand.Address.PostalCode = c.LongName
		case slices.Contains(c.Types, "country"):
			cand.CountryCode = strings.ToUpper(c.ShortName)
		}
	}
	if route != "" {
		cand.Address.Street = strings.TrimSpace(number + " " + route)
	}
	return cand
}
