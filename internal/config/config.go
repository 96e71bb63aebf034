package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultProvider is the geocoding provider used when none is configured or
// the configured one fails to activate.
const DefaultProvider = "nominatim"

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Geocoding configuration.
	GeocodingProvider string
	GeocodeTimeout    time.Duration
	GeocodeCacheTTL   time.Duration
	GeocodeCacheSize  int

	// Provider credentials and endpoints.
	NominatimURL       string
	NominatimUserAgent string
	LocationIQKey      string
	MapboxToken        string
	OpenCageKey        string
	GoogleMapsAPIKey   string

	// Map list settings.
	MapFilterClosed bool
	MapPerPage      int

	// Storage. An empty DatabaseURL selects the in-memory store.
	DatabaseURL string

	// Location events. No brokers means events are only logged.
	KafkaBrokers       []string
	KafkaLocationTopic string

	// Host change ingest. Runs only when brokers are configured.
	KafkaIngestTopic   string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	geocodeTimeout, err := parsePositiveDuration("GEOCODE_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	cacheTTL, err := parsePositiveDuration("GEOCODE_CACHE_TTL", "5m")
	if err != nil {
		return nil, err
	}

	cacheSize, err := parsePositiveInt("GEOCODE_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	perPage, err := parsePositiveInt("MAP_PER_PAGE", 30)
	if err != nil {
		return nil, err
	}

	filterClosed, err := parseBool("LOCATION_MAP_FILTER_CLOSED", false)
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	var brokers []string
	if raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); raw != "" {
		brokers = sharedcfg.ParseBrokers(raw)
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		GeocodingProvider: strings.ToLower(sharedcfg.EnvOrDefault("LOCATION_GEOCODING_PROVIDER", DefaultProvider)),
		GeocodeTimeout:    geocodeTimeout,
		GeocodeCacheTTL:   cacheTTL,
		GeocodeCacheSize:  cacheSize,

		NominatimURL:       sharedcfg.EnvOrDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		NominatimUserAgent: sharedcfg.EnvOrDefault("NOMINATIM_USER_AGENT", "locations-service/1.0"),
		LocationIQKey:      os.Getenv("LOCATIONIQ_KEY"),
		MapboxToken:        os.Getenv("MAPBOX_TOKEN"),
		OpenCageKey:        os.Getenv("OPENCAGE_KEY"),
		GoogleMapsAPIKey:   os.Getenv("GOOGLE_MAPS_API_KEY"),

		MapFilterClosed: filterClosed,
		MapPerPage:      perPage,

		DatabaseURL: os.Getenv("DATABASE_URL"),

		KafkaBrokers:       brokers,
		KafkaLocationTopic: sharedcfg.EnvOrDefault("KAFKA_LOCATION_TOPIC", "location-events"),

		KafkaIngestTopic:   sharedcfg.EnvOrDefault("KAFKA_INGEST_TOPIC", "forum-changes"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "locations"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
	}

	if cfg.GeocodingProvider == "" {
		return nil, errors.New("LOCATION_GEOCODING_PROVIDER must not be empty")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaLocationTopic == "" {
		return nil, errors.New("KAFKA_LOCATION_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}
