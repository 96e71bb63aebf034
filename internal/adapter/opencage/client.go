// Package opencage implements domain.Provider over the OpenCage Geocoding API.
package opencage

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

// Name is the registry key of the OpenCage provider.
const Name = "opencage"

const defaultBaseURL = "https://api.opencagedata.com/geocode/v1/json"

// Client implements domain.Provider using OpenCage.
type Client struct {
	key     string
	baseURL string
	http    *providerhttp.Client
}

// NewClient creates an OpenCage client. The free tier allows one request per second.
func NewClient(key string, timeout time.Duration) *Client {
	return &Client{
		key:     key,
		baseURL: defaultBaseURL,
		http: providerhttp.New(Name, providerhttp.Options{
			Timeout:       timeout,
			RatePerSecond: 1,
			Burst:         1,
		}),
	}
}

// Register adds the OpenCage factory to reg.
func Register(reg *geocode.Registry, key string, timeout time.Duration) error {
	return reg.Register(Name, func() (domain.Provider, error) {
		return NewClient(key, timeout), nil
	})
}

func (c *Client) Name() string { return Name }

func (c *Client) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.Candidate, error) {
	params := c.params(query)
	params.Set("limit", strconv.Itoa(opts.Limit))
	if len(opts.CountryCodes) > 0 {
		params.Set("countrycode", strings.ToLower(strings.Join(opts.CountryCodes, ",")))
	}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}
	return c.doRequest(ctx, params)
}

func (c *Client) Reverse(ctx context.Context, lat, lon float64) (domain.Candidate, error) {
	params := c.params(fmt.Sprintf("%.6f+%.6f", lat, lon))
	params.Set("limit", "1")

	candidates, err := c.doRequest(ctx, params)
	if err != nil {
		return domain.Candidate{}, err
	}
	if len(candidates) == 0 {
		return domain.Candidate{}, domain.ErrNotFound
	}
	return candidates[0], nil
}

// ValidateSelf fails when no API key is configured.
func (c *Client) ValidateSelf(context.Context) error {
	if c.key == "" {
		return errors.New("OPENCAGE_KEY is not set")
	}
	return nil
}

func (c *Client) params(q string) url.Values {
	return url.Values{
		"q":              {q},
		"key":            {c.key},
		"no_annotations": {"1"},
	}
}

func (c *Client) doRequest(ctx context.Context, params url.Values) ([]domain.Candidate, error) {
	var resp response
	if _, err := c.http.GetJSON(ctx, c.baseURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Status.Code != 0 && resp.Status.Code != 200 {
		return nil, domain.NewGeocodeError(domain.KindBadResponse, Name,
			fmt.Errorf("status %d: %s", resp.Status.Code, resp.Status.Message))
	}

	out := make([]domain.Candidate, 0, len(resp.Results))
	for _, raw := range resp.Results {
		var r result
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, domain.NewGeocodeError(domain.KindBadResponse, Name, fmt.Errorf("decode result: %w", err))
		}
		out = append(out, r.toCandidate(raw))
	}
	return out, nil
}

// OpenCage API response types.

type response struct {
	Results []json.RawMessage `json:"results"`
	Status  struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
}

type result struct {
	Formatted string `json:"formatted"`
	Geometry  struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"geometry"`
	Components struct {
		HouseNumber string `json:"house_number"`
		Road        string `json:"road"`
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		State       string `json:"state"`
		Postcode    string `json:"postcode"`
		CountryCode string `json:"country_code"`
	} `json:"components"`
}

func (r result) toCandidate(raw json.RawMessage) domain.Candidate {
	comp := r.Components
	street := strings.TrimSpace(comp.HouseNumber + " " + comp.Road)
	if comp.Road == "" {
		street = ""
	}
	city := comp.City
	if city == "" {
		city = comp.Town
	}
	if city == "" {
		city = comp.Village
	}
	return domain.Candidate{
		DisplayName: r.Formatted,
		GeoLocation: &domain.GeoLocation{Lat: r.Geometry.Lat, Lon: r.Geometry.Lng},
		Address: domain.Address{
			Street:     street,
			City:       city,
			State:      comp.State,
			PostalCode: comp.Postcode,
		},
		CountryCode: strings.ToUpper(comp.CountryCode),
		Provider:    Name,
		Raw:         raw,
	}
}
