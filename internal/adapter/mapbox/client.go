package mapbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/locations/internal/adapter/providerhttp"
	"github.com/couchcryptid/locations/internal/domain"
	"github.com/couchcryptid/locations/internal/geocode"
)

// Name is the registry key of the Mapbox provider.
const Name = "mapbox"

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Client implements domain.Provider using the Mapbox Geocoding API.
type Client struct {
	token   string
	baseURL string
	http    *providerhttp.Client
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, timeout time.Duration) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		http: providerhttp.New(Name, providerhttp.Options{
			Timeout:       timeout,
			RatePerSecond: 10,
			Burst:         5,
		}),
	}
}

// Register adds the Mapbox factory to reg.
func Register(reg *geocode.Registry, token string, timeout time.Duration) error {
	return reg.Register(Name, func() (domain.Provider, error) {
		return NewClient(token, timeout), nil
	})
}

func (c *Client) Name() string { return Name }

// Search converts free text to ranked candidates.
func (c *Client) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.Candidate, error) {
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(query))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {strconv.Itoa(opts.Limit)},
	}
	if len(opts.CountryCodes) > 0 {
		params.Set("country", strings.ToLower(strings.Join(opts.CountryCodes, ",")))
	}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}

	return c.doRequest(ctx, u+"?"+params.Encode())
}

// Reverse converts coordinates to the most relevant place.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (domain.Candidate, error) {
	// Mapbox uses lon,lat order.
	coord := fmt.Sprintf("%.6f,%.6f", lon, lat)
	u := fmt.Sprintf("%s/%s.json", c.baseURL, coord)
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
	}

	candidates, err := c.doRequest(ctx, u+"?"+params.Encode())
	if err != nil {
		return domain.Candidate{}, err
	}
	if len(candidates) == 0 {
		return domain.Candidate{}, domain.ErrNotFound
	}
	return candidates[0], nil
}

// ValidateSelf fails when no access token is configured.
func (c *Client) ValidateSelf(context.Context) error {
	if c.token == "" {
		return errors.New("MAPBOX_TOKEN is not set")
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]domain.Candidate, error) {
	var mapboxResp response
	if _, err := c.http.GetJSON(ctx, fullURL, &mapboxResp); err != nil {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(mapboxResp.Features))
	for _, raw := range mapboxResp.Features {
		var f feature
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, domain.NewGeocodeError(domain.KindBadResponse, Name, fmt.Errorf("decode feature: %w", err))
		}
		out = append(out, f.toCandidate(raw))
	}
	return out, nil
}

// Mapbox API response types.

type response struct {
	Features []json.RawMessage `json:"features"`
}

type feature struct {
	ID         string    `json:"id"`
	Center     []float64 `json:"center"` // [lon, lat]
	PlaceName  string    `json:"place_name"`
	Text       string    `json:"text"`
	Address    string    `json:"address"` // house number for address features
	Relevance  float64   `json:"relevance"`
	Properties struct {
		ShortCode string `json:"short_code"`
	} `json:"properties"`
	Context []contextEntry `json:"context"`
}

type contextEntry struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	ShortCode string `json:"short_code"`
}

func (f feature) toCandidate(raw json.RawMessage) domain.Candidate {
	cand := domain.Candidate{
		DisplayName: f.PlaceName,
		Provider:    Name,
		Raw:         raw,
	}
	if len(f.Center) == 2 {
		cand.GeoLocation = &domain.GeoLocation{Lat: f.Center[1], Lon: f.Center[0]}
	}

	// The feature itself is one layer; context carries the enclosing ones.
	layers := append([]contextEntry{{ID: f.ID, Text: f.Text, ShortCode: f.Properties.ShortCode}}, f.Context...)
	for _, l := range layers {
		switch layerType(l.ID) {
		case "address":
			cand.Address.Street = strings.TrimSpace(f.Address + " " + l.Text)
		case "postcode":
			cand.Address.PostalCode = l.Text
		case "place":
			cand.Address.City = l.Text
		case "region":
			cand.Address.State = l.Text
		case "country":
			cand.CountryCode = strings.ToUpper(l.ShortCode)
		}
	}
	return cand
}

// layerType extracts "place" from an id like "place.123".
func layerType(id string) string {
	if i := strings.IndexByte(id, '.'); i > 0 {
		return id[:i]
	}
	return id
}
