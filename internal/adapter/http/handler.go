package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/locations/internal/domain"
	"github.com/couchcryptid/locations/internal/geocode"
	"github.com/couchcryptid/locations/internal/maplist"
)

const (
	defaultRadiusKm = 50.0
	maxBodyBytes    = 1 << 20
)

// Geocoder is the geocoding surface the handlers need.
type Geocoder interface {
	Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.Candidate, error)
	Reverse(ctx context.Context, lat, lon float64) (domain.Candidate, error)
	ValidateAddress(ctx context.Context, address string) geocode.Validation
	SetProvider(ctx context.Context, name string) error
	Active() string
	Default() string
	Providers() []string
}

// Locations applies location revisions to topics and categories.
type Locations interface {
	Topic(ctx context.Context, id int64) (domain.Topic, error)
	Category(ctx context.Context, id int64) (domain.Category, error)
	SetTopicLocation(ctx context.Context, id int64, rec domain.LocationRecord) (domain.LocationRecord, error)
	ClearTopicLocation(ctx context.Context, id int64) error
	SetCategoryLocation(ctx context.Context, id int64, rec domain.LocationRecord) (domain.LocationRecord, error)
	ClearCategoryLocation(ctx context.Context, id int64) error
	UpdateCategorySettings(ctx context.Context, id int64, settings domain.CategorySettings) error
}

// MapLister produces the map listing.
type MapLister interface {
	List(ctx context.Context, base domain.TopicQuery, opts maplist.ListOptions) (maplist.TopicList, error)
}

// HandlerDeps groups the collaborators of the location API.
type HandlerDeps struct {
	Geocoder  Geocoder
	Locations Locations
	Map       MapLister
	Countries *domain.CountryRegistry
	// FilterClosedGlobal is the site-wide "hide closed topics on the map" flag.
	FilterClosedGlobal bool
	Logger             *slog.Logger
}

// Handler serves the location API.
type Handler struct {
	deps HandlerDeps
}

// NewHandler returns the location API as a chi router, ready to be mounted.
func NewHandler(deps HandlerDeps) http.Handler {
	h := &Handler{deps: deps}
	r := chi.NewRouter()

	r.Get("/search", h.Search)
	r.Get("/reverse", h.Reverse)
	r.Get("/validate", h.Validate)
	r.Get("/country_codes", h.CountryCodes)

	r.Get("/provider", h.GetProvider)
	r.Put("/provider", h.SetProvider)

	r.Get("/map", h.Map)

	r.Route("/topics/{id}", func(r chi.Router) {
		r.Get("/", h.GetTopic)
		r.Put("/location", h.SetTopicLocation)
		r.Delete("/location", h.ClearTopicLocation)
	})

	r.Route("/categories/{id}", func(r chi.Router) {
		r.Get("/", h.GetCategory)
		r.Put("/location", h.SetCategoryLocation)
		r.Delete("/location", h.ClearCategoryLocation)
		r.Put("/settings", h.UpdateCategorySettings)
	})

	return r
}

// --- geocoding ---

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := domain.SearchOptions{Language: q.Get("language")}
	if raw := q.Get("country_codes"); raw != "" {
		opts.CountryCodes = strings.Split(raw, ",")
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidQuery))
			return
		}
		opts.Limit = limit
	}

	candidates, err := h.deps.Geocoder.Search(r.Context(), q.Get("query"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if candidates == nil {
		candidates = []domain.Candidate{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := parseLatLon(r.URL.Query().Get("lat"), r.URL.Query().Get("lon"))
	if err != nil {
		writeError(w, err)
		return
	}

	candidate, err := h.deps.Geocoder.Reverse(r.Context(), lat, lon)
	if err != nil {
		writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"candidate": candidate})
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, h.deps.Geocoder.ValidateAddress(r.Context(), r.URL.Query().Get("address")))
}

func (h *Handler) CountryCodes(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"countries": h.deps.Countries.All()})
}

type providerStatus struct {
	Provider  string   `json:"provider"`
	Default   string   `json:"default"`
	Available []string `json:"available"`
}

func (h *Handler) providerStatus() providerStatus {
	return providerStatus{
		Provider:  h.deps.Geocoder.Active(),
		Default:   h.deps.Geocoder.Default(),
		Available: h.deps.Geocoder.Providers(),
	}
}

func (h *Handler) GetProvider(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, h.providerStatus())
}

type setProviderRequest struct {
	Name string `json:"name"`
}

func (h *Handler) SetProvider(w http.ResponseWriter, r *http.Request) {
	var req setProviderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidQuery, err))
		return
	}

	if err := h.deps.Geocoder.SetProvider(r.Context(), req.Name); err != nil {
		if errors.Is(err, domain.ErrProviderUnavailable) {
			sharedobs.WriteJSON(w, http.StatusConflict, map[string]string{
				"error":    "ProviderUnavailable",
				"message":  err.Error(),
				"provider": h.deps.Geocoder.Active(),
			})
			return
		}
		writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, h.providerStatus())
}

// --- map list ---

func (h *Handler) Map(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := maplist.ListOptions{FilterClosedGlobal: h.deps.FilterClosedGlobal}

	if raw := q.Get("category_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, fmt.Errorf("%w: invalid category_id", domain.ErrInvalidQuery))
			return
		}
		opts.CategoryID = id
		opts.Category = h.lookupCategory(r.Context(), id)
	}

	if q.Get("lat") != "" || q.Get("lon") != "" {
		lat, lon, err := parseLatLon(q.Get("lat"), q.Get("lon"))
		if err != nil {
			writeError(w, err)
			return
		}
		radius := defaultRadiusKm
		if raw := q.Get("radius_km"); raw != "" {
			radius, err = strconv.ParseFloat(raw, 64)
			if err != nil || radius <= 0 {
				writeError(w, fmt.Errorf("%w: invalid radius_km", domain.ErrInvalidQuery))
				return
			}
		}
		opts.Near = &maplist.Proximity{Lat: lat, Lon: lon, RadiusKm: radius}
	}

	for key, dst := range map[string]*int{"page": &opts.Page, "per_page": &opts.PerPage} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: invalid %s", domain.ErrInvalidQuery, key))
			return
		}
		*dst = n
	}

	list, err := h.deps.Map.List(r.Context(), domain.NewTopicQuery(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, list)
}

// lookupCategory resolves the scoped category for the filters. A missing or
// unreadable category leaves it nil, which every filter treats as a no-op.
func (h *Handler) lookupCategory(ctx context.Context, id int64) *domain.Category {
	cat, err := h.deps.Locations.Category(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.deps.Logger.Warn("map category lookup failed", "category_id", id, "error", err)
		}
		return nil
	}
	return &cat
}

// --- location revisions ---

func (h *Handler) GetTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	topic, err := h.deps.Locations.Topic(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"topic": topic})
}

func (h *Handler) SetTopicLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := decodeLocation(r)
	if err != nil {
		writeError(w, err)
		return
	}
	saved, err := h.deps.Locations.SetTopicLocation(r.Context(), id, rec)
	if err != nil {
		writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"location": saved, "has_geo_location": saved.HasGeoLocation()})
}

func (h *Handler) ClearTopicLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.deps.Locations.ClearTopicLocation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cat, err := h.deps.Locations.Category(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"category": cat})
}

func (h *Handler) SetCategoryLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := decodeLocation(r)
	if err != nil {
		writeError(w, err)
		return
	}
	saved, err := h.deps.Locations.SetCategoryLocation(r.Context(), id, rec)
	if err != nil {
		writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"location": saved})
}

func (h *Handler) ClearCategoryLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.deps.Locations.ClearCategoryLocation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateCategorySettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var settings domain.CategorySettings
	if err := decodeBody(r, &settings); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidQuery, err))
		return
	}
	if err := h.deps.Locations.UpdateCategorySettings(r.Context(), id, settings); err != nil {
		writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

// --- helpers ---

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, fmt.Errorf("%w: invalid id", domain.ErrInvalidQuery))
		return 0, false
	}
	return id, true
}

func parseLatLon(rawLat, rawLon string) (float64, float64, error) {
	lat, latErr := strconv.ParseFloat(rawLat, 64)
	lon, lonErr := strconv.ParseFloat(rawLon, 64)
	if latErr != nil || lonErr != nil {
		return 0, 0, fmt.Errorf("%w: lat and lon must be numbers", domain.ErrInvalidQuery)
	}
	if err := (domain.GeoLocation{Lat: lat, Lon: lon}).Validate(); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", domain.ErrInvalidQuery, err)
	}
	return lat, lon, nil
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// decodeLocation parses a persisted-schema body. Every failure is a
// rejected record.
func decodeLocation(r *http.Request) (domain.LocationRecord, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return domain.LocationRecord{}, fmt.Errorf("%w: read body: %v", domain.ErrPersistenceRejected, err)
	}
	rec, err := domain.ParseLocationRecord(body)
	if err != nil && !errors.Is(err, domain.ErrPersistenceRejected) {
		err = fmt.Errorf("%w: %v", domain.ErrPersistenceRejected, err)
	}
	return rec, err
}

type errorBody struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// writeError maps the error taxonomy onto status codes with a stable kind.
func writeError(w http.ResponseWriter, err error) {
	if geoErr, ok := domain.AsGeocodeError(err); ok {
		sharedobs.WriteJSON(w, http.StatusBadGateway, errorBody{
			Error:    string(geoErr.Kind),
			Message:  geoErr.Error(),
			Provider: geoErr.Provider,
		})
		return
	}

	status, kind := http.StatusInternalServerError, "Internal"
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		status, kind = http.StatusUnprocessableEntity, "InvalidQuery"
	case errors.Is(err, domain.ErrPersistenceRejected):
		status, kind = http.StatusUnprocessableEntity, "PersistenceRejected"
	case errors.Is(err, domain.ErrNotFound):
		status, kind = http.StatusNotFound, "NotFound"
	case errors.Is(err, domain.ErrProviderUnavailable):
		status, kind = http.StatusConflict, "ProviderUnavailable"
	}

	body := errorBody{Error: kind}
	if status != http.StatusInternalServerError {
		body.Message = err.Error()
	}
	sharedobs.WriteJSON(w, status, body)
}
