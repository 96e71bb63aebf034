// Package nominatim implements domain.Provider over the Nominatim search API
// and the Nominatim-compatible LocationIQ API.
package nominatim

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

const (
	// Name is the registry key of the public Nominatim provider.
	Name = "nominatim"
	// LocationIQName is the registry key of the LocationIQ provider.
	LocationIQName = "locationiq"

	defaultBaseURL    = "https://nominatim.openstreetmap.org"
	locationIQBaseURL = "https://us1.locationiq.com/v1"
)

// Options configures both variants.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	// LocationIQKey enables the locationiq variant.
	LocationIQKey     string
	LocationIQBaseURL string
}

// Client talks to a Nominatim-compatible endpoint.
type Client struct {
	name    string
	baseURL string
	key     string
	agent   string
	http    *providerhttp.Client
}

// NewClient creates a public Nominatim client. The usage policy allows one
// request per second and requires an identifying User-Agent.
func NewClient(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		name:    Name,
		baseURL: strings.TrimRight(base, "/"),
		agent:   opts.UserAgent,
		http: providerhttp.New(Name, providerhttp.Options{
			Timeout:       opts.Timeout,
			UserAgent:     opts.UserAgent,
			RatePerSecond: 1,
			Burst:         1,
		}),
	}
}

// NewLocationIQClient creates a LocationIQ client.
func NewLocationIQClient(opts Options) *Client {
	base := opts.LocationIQBaseURL
	if base == "" {
		base = locationIQBaseURL
	}
	return &Client{
		name:    LocationIQName,
		baseURL: strings.TrimRight(base, "/"),
		key:     opts.LocationIQKey,
		agent:   opts.UserAgent,
		http: providerhttp.New(LocationIQName, providerhttp.Options{
			Timeout:       opts.Timeout,
			UserAgent:     opts.UserAgent,
			RatePerSecond: 2,
			Burst:         2,
		}),
	}
}

// Register adds both variants to reg.
func Register(reg *geocode.Registry, opts Options) error {
	if err := reg.Register(Name, func() (domain.Provider, error) {
		return NewClient(opts), nil
	}); err != nil {
		return err
	}
	return reg.Register(LocationIQName, func() (domain.Provider, error) {
		return NewLocationIQClient(opts), nil
	})
}

func (c *Client) Name() string { return c.name }

// Search runs a free-text forward search.
func (c *Client) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.Candidate, error) {
	params := c.params()
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(opts.Limit))
	if len(opts.CountryCodes) > 0 {
		params.Set("countrycodes", strings.ToLower(strings.Join(opts.CountryCodes, ",")))
	}
	if opts.Language != "" {
		params.Set("accept-language", opts.Language)
	}

	var places []json.RawMessage
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/search?"+params.Encode(), &places); err != nil {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(places))
	for _, raw := range places {
		cand, err := c.parsePlace(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, cand)
	}
	return out, nil
}

// Reverse returns the place nearest to lat/lon.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (domain.Candidate, error) {
	params := c.params()
	params.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))

	var raw json.RawMessage
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/reverse?"+params.Encode(), &raw); err != nil {
		// LocationIQ answers an unmatched reverse lookup with 404.
		if providerhttp.StatusCode(err) == 404 {
			return domain.Candidate{}, domain.ErrNotFound
		}
		return domain.Candidate{}, err
	}

	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Error != "" {
		return domain.Candidate{}, fmt.Errorf("%w: %s", domain.ErrNotFound, probe.Error)
	}
	return c.parsePlace(raw)
}

// ValidateSelf checks the adapter is configured and, for public Nominatim,
// that the service reports itself healthy.
func (c *Client) ValidateSelf(ctx context.Context) error {
	if c.agent == "" {
		return errors.New("nominatim requires a User-Agent")
	}
	if c.name == LocationIQName {
		if c.key == "" {
			return errors.New("LOCATIONIQ_KEY is not set")
		}
		return nil
	}

	var status struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	}
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/status?format=json", &status); err != nil {
		return err
	}
	if status.Status != 0 {
		return domain.NewGeocodeError(domain.KindProviderDown, c.name, fmt.Errorf("status %d: %s", status.Status, status.Message))
	}
	return nil
}

func (c *Client) params() url.Values {
	params := url.Values{
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
	}
	if c.key != "" {
		params.Set("key", c.key)
	}
	return params
}

func (c *Client) parsePlace(raw json.RawMessage) (domain.Candidate, error) {
	var p place
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Candidate{}, domain.NewGeocodeError(domain.KindBadResponse, c.name, fmt.Errorf("decode place: %w", err))
	}

	cand := domain.Candidate{
		DisplayName: p.DisplayName,
		Address:     p.Address.toDomain(),
		CountryCode: strings.ToUpper(p.Address.CountryCode),
		Provider:    c.name,
		Raw:         raw,
	}

	lat, latErr := strconv.ParseFloat(p.Lat, 64)
	lon, lonErr := strconv.ParseFloat(p.Lon, 64)
	if latErr == nil && lonErr == nil {
		cand.GeoLocation = &domain.GeoLocation{Lat: lat, Lon: lon}
	}
	return cand, nil
}

// Nominatim API response types. Coordinates arrive as strings.

type place struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
}

type address struct {
	HouseNumber string `json:"house_number"`
	Road        string `json:"road"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	Hamlet      string `json:"hamlet"`
	State       string `json:"state"`
	Postcode    string `json:"postcode"`
	CountryCode string `json:"country_code"`
}

func (a address) toDomain() domain.Address {
	street := a.Road
	if a.HouseNumber != "" && a.Road != "" {
		street = a.HouseNumber + " " + a.Road
	}
	return domain.Address{
		Street:     street,
		City:       firstNonEmpty(a.City, a.Town, a.Village, a.Hamlet),
		State:      a.State,
		PostalCode: a.Postcode,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
