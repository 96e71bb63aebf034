package geocode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/locations/internal/domain"
	"github.com/couchcryptid/locations/internal/observability"
)

const (
	methodSearch  = "search"
	methodReverse = "reverse"

	defaultTimeout   = 5 * time.Second
	defaultCacheTTL  = 5 * time.Minute
	defaultCacheSize = 1000
)

// Options configures a Service. Zero values select the defaults.
type Options struct {
	DefaultProvider string
	Timeout         time.Duration
	CacheTTL        time.Duration
	CacheSize       int
	Clock           clockwork.Clock
}

// Validation is the advisory result of ValidateAddress.
type Validation struct {
	Valid      bool              `json:"valid"`
	Normalized *domain.Candidate `json:"normalized,omitempty"`
}

// Service exposes search, reverse and validation over the active provider.
// It is safe for concurrent use.
type Service struct {
	registry    *Registry
	defaultName string
	timeout     time.Duration
	clock       clockwork.Clock

	active   atomic.Pointer[domain.Provider]
	searches *ttlCache[[]domain.Candidate]
	reverses *ttlCache[domain.Candidate]

	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService installs the default provider without a self-check so the
// service always has an active provider. It fails only if the default is not
// registered or cannot be constructed.
func NewService(reg *Registry, opts Options, metrics *observability.Metrics, logger *slog.Logger) (*Service, error) {
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = "nominatim"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	s := &Service{
		registry:    reg,
		defaultName: strings.ToLower(opts.DefaultProvider),
		timeout:     opts.Timeout,
		clock:       opts.Clock,
		searches:    newTTLCache[[]domain.Candidate](opts.CacheSize, opts.CacheTTL, opts.Clock),
		reverses:    newTTLCache[domain.Candidate](opts.CacheSize, opts.CacheTTL, opts.Clock),
		metrics:     metrics,
		logger:      logger,
	}
	if err := s.installDefault(); err != nil {
		return nil, err
	}
	return s, nil
}

// Active returns the name of the provider new calls are routed to.
func (s *Service) Active() string {
	return s.provider().Name()
}

// Default returns the name of the fallback provider.
func (s *Service) Default() string {
	return s.defaultName
}

// Providers returns every registered provider name, sorted.
func (s *Service) Providers() []string {
	return s.registry.Names()
}

// SetProvider activates the named provider after its self-check passes. On an
// unknown name or a failed check the default provider is installed instead and
// an error wrapping domain.ErrProviderUnavailable is returned. In-flight calls
// finish against the provider they started with.
func (s *Service) SetProvider(ctx context.Context, name string) error {
	name = strings.ToLower(strings.TrimSpace(name))

	p, err := s.prepare(ctx, name)
	if err == nil {
		s.activate(p)
		s.logger.Info("geocoding provider activated", "provider", p.Name())
		return nil
	}

	s.metrics.ProviderFallbacks.WithLabelValues(name).Inc()
	s.logger.Warn("geocoding provider unavailable, falling back to default",
		"requested", name, "default", s.defaultName, "error", err)
	if derr := s.installDefault(); derr != nil {
		s.logger.Error("default geocoding provider could not be installed", "error", derr)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrProviderUnavailable, name, err)
}

func (s *Service) prepare(ctx context.Context, name string) (domain.Provider, error) {
	factory, ok := s.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	p, err := factory()
	if err != nil {
		return nil, fmt.Errorf("construct provider: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := p.ValidateSelf(ctx); err != nil {
		return nil, fmt.Errorf("self-check: %w", err)
	}
	return p, nil
}

func (s *Service) installDefault() error {
	factory, ok := s.registry.Lookup(s.defaultName)
	if !ok {
		return fmt.Errorf("default provider %q is not registered", s.defaultName)
	}
	p, err := factory()
	if err != nil {
		return fmt.Errorf("construct default provider %q: %w", s.defaultName, err)
	}
	s.activate(p)
	return nil
}

func (s *Service) activate(p domain.Provider) {
	s.active.Store(&p)
	s.metrics.ActiveProvider.Reset()
	s.metrics.ActiveProvider.WithLabelValues(p.Name()).Set(1)
}

func (s *Service) provider() domain.Provider {
	return *s.active.Load()
}

// Search forwards free text to the active provider. Empty or whitespace-only
// queries return domain.ErrInvalidQuery without touching the network.
func (s *Service) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.Candidate, error) {
	query = collapseSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", domain.ErrInvalidQuery)
	}
	opts = normalizeOptions(opts)

	p := s.provider()
	key := searchKey(p.Name(), query, opts)
	if cached, ok := s.searches.get(key); ok {
		s.metrics.GeocodeCache.WithLabelValues(methodSearch, "hit").Inc()
		return cloneCandidates(cached), nil
	}
	s.metrics.GeocodeCache.WithLabelValues(methodSearch, "miss").Inc()

	var out []domain.Candidate
	err := s.call(ctx, p, methodSearch, func(ctx context.Context) error {
		var err error
		out, err = p.Search(ctx, query, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	if len(out) > 0 {
		s.searches.put(key, cloneCandidates(out))
	}
	return out, nil
}

// Reverse resolves coordinates to the nearest candidate. Out-of-range
// coordinates return domain.ErrInvalidQuery before any provider call.
func (s *Service) Reverse(ctx context.Context, lat, lon float64) (domain.Candidate, error) {
	if err := (domain.GeoLocation{Lat: lat, Lon: lon}).Validate(); err != nil {
		return domain.Candidate{}, fmt.Errorf("%w: %v", domain.ErrInvalidQuery, err)
	}

	p := s.provider()
	key := fmt.Sprintf("%s|%s|%.6f,%.6f", p.Name(), methodReverse, lat, lon)
	if cached, ok := s.reverses.get(key); ok {
		s.metrics.GeocodeCache.WithLabelValues(methodReverse, "hit").Inc()
		return cached.Clone(), nil
	}
	s.metrics.GeocodeCache.WithLabelValues(methodReverse, "miss").Inc()

	var out domain.Candidate
	err := s.call(ctx, p, methodReverse, func(ctx context.Context) error {
		var err error
		out, err = p.Reverse(ctx, lat, lon)
		return err
	})
	if err != nil {
		return domain.Candidate{}, err
	}
	s.reverses.put(key, out.Clone())
	return out, nil
}

func cloneCandidates(in []domain.Candidate) []domain.Candidate {
	out := make([]domain.Candidate, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// ValidateAddress reports whether the active provider can resolve address.
// Provider failures degrade to Valid=false and are never returned.
func (s *Service) ValidateAddress(ctx context.Context, address string) Validation {
	candidates, err := s.Search(ctx, address, domain.SearchOptions{Limit: 1})
	if err != nil {
		s.logger.Debug("address validation failed", "error", err)
		return Validation{}
	}
	if len(candidates) == 0 {
		return Validation{}
	}
	best := candidates[0]
	return Validation{Valid: true, Normalized: &best}
}

// call runs fn under the per-call timeout and retries once, immediately, on a
// transient failure.
func (s *Service) call(ctx context.Context, p domain.Provider, method string, fn func(context.Context) error) error {
	err := s.attempt(ctx, p, method, fn)
	if geoErr, ok := domain.AsGeocodeError(err); ok && geoErr.Kind.Transient() && ctx.Err() == nil {
		s.metrics.GeocodeRetries.WithLabelValues(p.Name()).Inc()
		s.logger.Warn("transient geocoding failure, retrying once",
			"provider", p.Name(), "method", method, "kind", geoErr.Kind)
		err = s.attempt(ctx, p, method, fn)
	}

	switch {
	case err == nil:
		s.metrics.GeocodeRequests.WithLabelValues(p.Name(), method, "success").Inc()
	case errors.Is(err, domain.ErrNotFound):
		s.metrics.GeocodeRequests.WithLabelValues(p.Name(), method, "empty").Inc()
	default:
		s.metrics.GeocodeRequests.WithLabelValues(p.Name(), method, "error").Inc()
		s.logger.Warn("geocoding request failed", "provider", p.Name(), "method", method, "error", err)
	}
	return err
}

func (s *Service) attempt(ctx context.Context, p domain.Provider, method string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.clock.Now()
	err := fn(callCtx)
	s.metrics.GeocodeAPIDuration.WithLabelValues(p.Name(), method).Observe(s.clock.Since(start).Seconds())
	if err == nil {
		return nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		if _, ok := domain.AsGeocodeError(err); !ok {
			return domain.NewGeocodeError(domain.KindTimeout, p.Name(), err)
		}
	}
	return domain.NormalizeError(p.Name(), err)
}

func normalizeOptions(opts domain.SearchOptions) domain.SearchOptions {
	if opts.Limit <= 0 || opts.Limit > domain.MaxCandidates {
		opts.Limit = domain.MaxCandidates
	}
	codes := make([]string, 0, len(opts.CountryCodes))
	for _, c := range opts.CountryCodes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" && !slices.Contains(codes, c) {
			codes = append(codes, c)
		}
	}
	slices.Sort(codes)
	opts.CountryCodes = codes
	opts.Language = strings.ToLower(strings.TrimSpace(opts.Language))
	return opts
}

func searchKey(provider, query string, opts domain.SearchOptions) string {
	return fmt.Sprintf("%s|%s|%s|%d|%s|%s", provider, methodSearch,
		strings.ToLower(query), opts.Limit, strings.Join(opts.CountryCodes, ","), opts.Language)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
