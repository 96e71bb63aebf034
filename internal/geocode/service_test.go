package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/locations/internal/domain"
	"github.com/couchcryptid/locations/internal/observability"
)

// --- spy provider ---

type spyProvider struct {
	name string

	mu           sync.Mutex
	searchCalls  int
	reverseCalls int
	lastQuery    string
	lastOpts     domain.SearchOptions

	searchErrs  []error // consumed one per call
	candidates  []domain.Candidate
	reverseErr  error
	validateErr error
	block       bool
}

func newSpy(name string) *spyProvider {
	return &spyProvider{
		name: name,
		candidates: []domain.Candidate{{
			DisplayName: "Austin, Texas, United States",
			GeoLocation: &domain.GeoLocation{Lat: 30.2672, Lon: -97.7431},
			Address:     domain.Address{City: "Austin", State: "Texas"},
			CountryCode: "US",
			Provider:    name,
		}},
	}
}

func (p *spyProvider) Name() string { return p.name }

func (p *spyProvider) Search(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.Candidate, error) {
	p.mu.Lock()
	p.searchCalls++
	p.lastQuery = query
	p.lastOpts = opts
	var err error
	if len(p.searchErrs) > 0 {
		err, p.searchErrs = p.searchErrs[0], p.searchErrs[1:]
	}
	block := p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return p.candidates, nil
}

func (p *spyProvider) Reverse(_ context.Context, _, _ float64) (domain.Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reverseCalls++
	if p.reverseErr != nil {
		return domain.Candidate{}, p.reverseErr
	}
	return p.candidates[0], nil
}

func (p *spyProvider) ValidateSelf(context.Context) error { return p.validateErr }

func (p *spyProvider) calls() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.searchCalls, p.reverseCalls
}

// --- helpers ---

type fixture struct {
	svc       *Service
	def       *spyProvider
	alt       *spyProvider
	clock     *clockwork.FakeClock
	metrics   *observability.Metrics
	factories atomic.Int32
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		def:     newSpy("nominatim"),
		alt:     newSpy("mapbox"),
		clock:   clockwork.NewFakeClock(),
		metrics: observability.NewMetricsForTesting(),
	}
	reg := NewRegistry()
	require.NoError(t, reg.Register("nominatim", func() (domain.Provider, error) {
		f.factories.Add(1)
		return f.def, nil
	}))
	require.NoError(t, reg.Register("mapbox", func() (domain.Provider, error) { return f.alt, nil }))
	require.NoError(t, reg.Register("broken", func() (domain.Provider, error) {
		return nil, errors.New("missing api key")
	}))

	if opts.Clock == nil {
		opts.Clock = f.clock
	}
	svc, err := NewService(reg, opts, f.metrics, observability.DiscardLogger())
	require.NoError(t, err)
	f.svc = svc
	return f
}

// --- provider switching ---

func TestNewService_InstallsDefault(t *testing.T) {
	f := newFixture(t, Options{})
	assert.Equal(t, "nominatim", f.svc.Active())
	assert.Equal(t, "nominatim", f.svc.Default())
	assert.Equal(t, []string{"broken", "mapbox", "nominatim"}, f.svc.Providers())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ActiveProvider.WithLabelValues("nominatim")), 0)
}

func TestNewService_UnknownDefault(t *testing.T) {
	_, err := NewService(NewRegistry(), Options{DefaultProvider: "nominatim"},
		observability.NewMetricsForTesting(), observability.DiscardLogger())
	require.Error(t, err)
}

func TestSetProvider_Success(t *testing.T) {
	f := newFixture(t, Options{})

	require.NoError(t, f.svc.SetProvider(context.Background(), " MapBox "))
	assert.Equal(t, "mapbox", f.svc.Active())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ActiveProvider.WithLabelValues("mapbox")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(f.metrics.ActiveProvider.WithLabelValues("nominatim")), 0)
}

func TestSetProvider_UnknownFallsBackAndSearchStillWorks(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.svc.SetProvider(context.Background(), "mapbox"))

	err := f.svc.SetProvider(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, "nominatim", f.svc.Active())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ProviderFallbacks.WithLabelValues("does-not-exist")), 0)

	got, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	searches, _ := f.def.calls()
	assert.Equal(t, 1, searches)
}

func TestSetProvider_FailedSelfCheckFallsBack(t *testing.T) {
	f := newFixture(t, Options{})
	f.alt.validateErr = errors.New("token rejected")

	err := f.svc.SetProvider(context.Background(), "mapbox")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "token rejected")
	assert.Equal(t, "nominatim", f.svc.Active())
}

func TestSetProvider_FactoryErrorFallsBack(t *testing.T) {
	f := newFixture(t, Options{})

	err := f.svc.SetProvider(context.Background(), "broken")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "missing api key")
	assert.Equal(t, "nominatim", f.svc.Active())
}

func TestSetProvider_InFlightCallKeepsItsProvider(t *testing.T) {
	f := newFixture(t, Options{Timeout: time.Second, Clock: clockwork.NewRealClock()})
	require.NoError(t, f.svc.SetProvider(context.Background(), "mapbox"))

	started := make(chan struct{})
	release := make(chan struct{})
	slow := &gatedProvider{spyProvider: f.alt, started: started, release: release}
	f.svc.activate(slow)

	done := make(chan []domain.Candidate)
	go func() {
		got, _ := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
		done <- got
	}()

	<-started
	require.NoError(t, f.svc.SetProvider(context.Background(), "nominatim"))
	close(release)

	got := <-done
	require.Len(t, got, 1)
	assert.Equal(t, "mapbox", got[0].Provider)
	assert.Equal(t, "nominatim", f.svc.Active())
}

type gatedProvider struct {
	*spyProvider
	started chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Search(ctx context.Context, q string, opts domain.SearchOptions) ([]domain.Candidate, error) {
	close(p.started)
	<-p.release
	return p.spyProvider.Search(ctx, q, opts)
}

// --- search ---

func TestSearch_EmptyQueryNeverCallsProvider(t *testing.T) {
	f := newFixture(t, Options{})

	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := f.svc.Search(context.Background(), q, domain.SearchOptions{})
		require.ErrorIs(t, err, domain.ErrInvalidQuery)
	}
	searches, _ := f.def.calls()
	assert.Equal(t, 0, searches)
}

func TestSearch_NormalizesQueryAndOptions(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.Search(context.Background(), "  221B   Baker\tStreet ", domain.SearchOptions{
		Limit:        50,
		CountryCodes: []string{"gb", " GB", "ie"},
		Language:     "EN",
	})
	require.NoError(t, err)

	assert.Equal(t, "221B Baker Street", f.def.lastQuery)
	assert.Equal(t, domain.MaxCandidates, f.def.lastOpts.Limit)
	assert.Equal(t, []string{"GB", "IE"}, f.def.lastOpts.CountryCodes)
	assert.Equal(t, "en", f.def.lastOpts.Language)
}

func TestSearch_TruncatesToLimit(t *testing.T) {
	f := newFixture(t, Options{})
	many := make([]domain.Candidate, 15)
	for i := range many {
		many[i] = f.def.candidates[0]
	}
	f.def.candidates = many

	got, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = f.svc.Search(context.Background(), "Dallas", domain.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, got, domain.MaxCandidates)
}

func TestSearch_CacheWithinTTL(t *testing.T) {
	f := newFixture(t, Options{CacheTTL: 5 * time.Minute})

	_, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	require.NoError(t, err)
	_, err = f.svc.Search(context.Background(), "  austin ", domain.SearchOptions{})
	require.NoError(t, err)

	searches, _ := f.def.calls()
	assert.Equal(t, 1, searches, "second call within TTL is served from cache")
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.GeocodeCache.WithLabelValues("search", "hit")), 0)

	f.clock.Advance(5*time.Minute + time.Second)
	_, err = f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	require.NoError(t, err)

	searches, _ = f.def.calls()
	assert.Equal(t, 2, searches, "expired entry triggers a new provider call")
}

func TestSearch_CacheIsPerProvider(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	require.NoError(t, err)
	require.NoError(t, f.svc.SetProvider(context.Background(), "mapbox"))
	_, err = f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	require.NoError(t, err)

	defCalls, _ := f.def.calls()
	altCalls, _ := f.alt.calls()
	assert.Equal(t, 1, defCalls)
	assert.Equal(t, 1, altCalls)
}

func TestSearch_ErrorsAreNotCached(t *testing.T) {
	f := newFixture(t, Options{})
	f.def.searchErrs = []error{
		domain.NewGeocodeError(domain.KindRateLimited, "nominatim", nil),
	}

	_, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	require.Error(t, err)
	_, err = f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	require.NoError(t, err)

	searches, _ := f.def.calls()
	assert.Equal(t, 2, searches)
}

func TestSearch_EmptyResultsAreNotCached(t *testing.T) {
	f := newFixture(t, Options{CacheTTL: 5 * time.Minute})
	f.def.candidates = nil

	for range 2 {
		got, err := f.svc.Search(context.Background(), "Atlantis", domain.SearchOptions{})
		require.NoError(t, err)
		assert.Empty(t, got)
	}

	searches, _ := f.def.calls()
	assert.Equal(t, 2, searches, "zero-match searches always reach the provider")
	assert.Zero(t, testutil.ToFloat64(f.metrics.GeocodeCache.WithLabelValues("search", "hit")))
}

func TestSearch_CachedCandidatesAreIsolated(t *testing.T) {
	f := newFixture(t, Options{})
	f.def.candidates[0].Raw = json.RawMessage(`{"place_id":1}`)

	first, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	require.NoError(t, err)
	first[0].GeoLocation.Lat = 0
	first[0].Raw[2] = 'X'
	first[0].DisplayName = "mutated"

	second, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	require.NoError(t, err)
	second[0].GeoLocation.Lon = 0

	third, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	require.NoError(t, err)

	searches, _ := f.def.calls()
	require.Equal(t, 1, searches)
	assert.Equal(t, &domain.GeoLocation{Lat: 30.2672, Lon: -97.7431}, third[0].GeoLocation)
	assert.Equal(t, `{"place_id":1}`, string(third[0].Raw))
	assert.Equal(t, "Austin, Texas, United States", third[0].DisplayName)
}

func TestSearch_RetriesTransientOnce(t *testing.T) {
	f := newFixture(t, Options{})
	f.def.searchErrs = []error{
		domain.NewGeocodeError(domain.KindProviderDown, "nominatim", errors.New("503")),
	}

	got, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	searches, _ := f.def.calls()
	assert.Equal(t, 2, searches)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.GeocodeRetries.WithLabelValues("nominatim")), 0)
}

func TestSearch_PersistentTransientFailureSurfaces(t *testing.T) {
	f := newFixture(t, Options{})
	down := domain.NewGeocodeError(domain.KindProviderDown, "nominatim", errors.New("503"))
	f.def.searchErrs = []error{down, down, down}

	_, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	geoErr, ok := domain.AsGeocodeError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindProviderDown, geoErr.Kind)

	searches, _ := f.def.calls()
	assert.Equal(t, 2, searches, "exactly one retry")
}

func TestSearch_NonTransientNotRetried(t *testing.T) {
	tests := []domain.ErrorKind{domain.KindRateLimited, domain.KindBadResponse}
	for _, kind := range tests {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture(t, Options{})
			f.def.searchErrs = []error{domain.NewGeocodeError(kind, "nominatim", nil)}

			_, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
			geoErr, ok := domain.AsGeocodeError(err)
			require.True(t, ok)
			assert.Equal(t, kind, geoErr.Kind)

			searches, _ := f.def.calls()
			assert.Equal(t, 1, searches)
		})
	}
}

func TestSearch_UnclassifiedErrorIsNormalized(t *testing.T) {
	f := newFixture(t, Options{})
	boom := errors.New("connection refused")
	f.def.searchErrs = []error{boom, boom}

	_, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	geoErr, ok := domain.AsGeocodeError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindProviderDown, geoErr.Kind)
	assert.Equal(t, "nominatim", geoErr.Provider)
	assert.ErrorIs(t, err, boom)
}

func TestSearch_TimeoutBecomesTimeoutError(t *testing.T) {
	f := newFixture(t, Options{Timeout: 20 * time.Millisecond, Clock: clockwork.NewRealClock()})
	f.def.block = true

	_, err := f.svc.Search(context.Background(), "Austin", domain.SearchOptions{})
	geoErr, ok := domain.AsGeocodeError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindTimeout, geoErr.Kind)

	searches, _ := f.def.calls()
	assert.Equal(t, 2, searches, "timeout is transient and retried once")
}

// --- reverse ---

func TestReverse_RangeCheckedBeforeProvider(t *testing.T) {
	f := newFixture(t, Options{})

	for _, c := range [][2]float64{{91, 0}, {-91, 0}, {0, 181}, {0, -180.5}} {
		_, err := f.svc.Reverse(context.Background(), c[0], c[1])
		require.ErrorIs(t, err, domain.ErrInvalidQuery)
	}
	_, reverses := f.def.calls()
	assert.Equal(t, 0, reverses)
}

func TestReverse_CachesResult(t *testing.T) {
	f := newFixture(t, Options{})

	got, err := f.svc.Reverse(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)
	assert.Equal(t, "Austin, Texas, United States", got.DisplayName)

	_, err = f.svc.Reverse(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)

	_, reverses := f.def.calls()
	assert.Equal(t, 1, reverses)
}

func TestReverse_CachedCandidateIsIsolated(t *testing.T) {
	f := newFixture(t, Options{})

	first, err := f.svc.Reverse(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)
	first.GeoLocation.Lat = 0

	second, err := f.svc.Reverse(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)
	assert.InDelta(t, 30.2672, second.GeoLocation.Lat, 1e-9)
}

func TestReverse_NotFoundPassesThrough(t *testing.T) {
	f := newFixture(t, Options{})
	f.def.reverseErr = domain.ErrNotFound

	_, err := f.svc.Reverse(context.Background(), 0, 0)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, reverses := f.def.calls()
	assert.Equal(t, 1, reverses, "not found is not retried")
}

// --- validate ---

func TestValidateAddress(t *testing.T) {
	f := newFixture(t, Options{})

	v := f.svc.ValidateAddress(context.Background(), "Austin TX")
	assert.True(t, v.Valid)
	require.NotNil(t, v.Normalized)
	assert.Equal(t, "US", v.Normalized.CountryCode)
	assert.Equal(t, 1, f.def.lastOpts.Limit)
}

func TestValidateAddress_SoftFailures(t *testing.T) {
	f := newFixture(t, Options{})

	assert.Equal(t, Validation{}, f.svc.ValidateAddress(context.Background(), "  "))

	f.def.searchErrs = []error{domain.NewGeocodeError(domain.KindRateLimited, "nominatim", nil)}
	assert.Equal(t, Validation{}, f.svc.ValidateAddress(context.Background(), "Nowhere"))

	f.def.candidates = nil
	assert.Equal(t, Validation{}, f.svc.ValidateAddress(context.Background(), "Nowhere at all"))
}
