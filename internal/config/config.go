package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// Months are the CPS basic monthly path segments accepted by the Census API.
var Months = []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Census API access.
	CensusBaseURL   string
	CensusAPIKey    string
	CensusTimeout   time.Duration
	CensusRateLimit float64

	// Opt-in retries after a transient failure, doubling CensusRetryBackoff
	// each time. Zero means a single attempt.
	CensusMaxRetries   int
	CensusRetryBackoff time.Duration

	// Survey selection: years in [FromYear, ToYear) for Month.
	FromYear int
	ToYear   int
	Month    string

	GeoReferencePath string
	CacheDir         string

	// Optional dataset publication.
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaBatchSize int
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory, if present, seeds variables
// that are not already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	var errs *multierror.Error

	censusTimeout, err := parseDuration("CENSUS_TIMEOUT", "30s")
	errs = multierror.Append(errs, err)
	rateLimit, err := parseFloat("CENSUS_RATE_LIMIT", "5")
	errs = multierror.Append(errs, err)
	maxRetries, err := parseInt("CENSUS_MAX_RETRIES", "0")
	errs = multierror.Append(errs, err)
	retryBackoff, err := parseDuration("CENSUS_RETRY_BACKOFF", "1s")
	errs = multierror.Append(errs, err)
	fromYear, err := parseInt("CPS_FROM_YEAR", "2004")
	errs = multierror.Append(errs, err)
	toYear, err := parseInt("CPS_TO_YEAR", "2020")
	errs = multierror.Append(errs, err)
	batchSize, err := parseInt("KAFKA_BATCH_SIZE", "500")
	errs = multierror.Append(errs, err)
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", "false")
	errs = multierror.Append(errs, err)

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		CensusBaseURL:   strings.TrimRight(sharedcfg.EnvOrDefault("CENSUS_BASE_URL", "https://api.census.gov/data"), "/"),
		CensusAPIKey:    os.Getenv("CENSUS_API_KEY"),
		CensusTimeout:   censusTimeout,
		CensusRateLimit: rateLimit,

		CensusMaxRetries:   maxRetries,
		CensusRetryBackoff: retryBackoff,

		FromYear: fromYear,
		ToYear:   toYear,
		Month:    strings.ToLower(sharedcfg.EnvOrDefault("CPS_MONTH", "dec")),

		GeoReferencePath: sharedcfg.EnvOrDefault("GEO_REFERENCE_PATH", "data/2021_Gaz_cbsa_national.txt"),
		CacheDir:         sharedcfg.EnvOrDefault("CACHE_DIR", "data/cache"),

		KafkaEnabled:   kafkaEnabled,
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:     sharedcfg.EnvOrDefault("KAFKA_TOPIC", "cps-immigrant-dataset"),
		KafkaBatchSize: batchSize,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.FromYear >= c.ToYear {
		errs = multierror.Append(errs, fmt.Errorf("CPS_FROM_YEAR (%d) must be before CPS_TO_YEAR (%d)", c.FromYear, c.ToYear))
	}
	if !validMonth(c.Month) {
		errs = multierror.Append(errs, fmt.Errorf("invalid CPS_MONTH %q", c.Month))
	}
	if c.CensusTimeout <= 0 {
		errs = multierror.Append(errs, errors.New("CENSUS_TIMEOUT must be positive"))
	}
	if c.CensusRateLimit <= 0 {
		errs = multierror.Append(errs, errors.New("CENSUS_RATE_LIMIT must be positive"))
	}
	if c.CensusMaxRetries < 0 {
		errs = multierror.Append(errs, errors.New("CENSUS_MAX_RETRIES must not be negative"))
	}
	if c.CensusMaxRetries > 0 && c.CensusRetryBackoff <= 0 {
		errs = multierror.Append(errs, errors.New("CENSUS_RETRY_BACKOFF must be positive"))
	}
	if c.CensusBaseURL == "" {
		errs = multierror.Append(errs, errors.New("CENSUS_BASE_URL is required"))
	}
	if c.GeoReferencePath == "" {
		errs = multierror.Append(errs, errors.New("GEO_REFERENCE_PATH is required"))
	}
	if c.CacheDir == "" {
		errs = multierror.Append(errs, errors.New("CACHE_DIR is required"))
	}
	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			errs = multierror.Append(errs, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true"))
		}
		if c.KafkaTopic == "" {
			errs = multierror.Append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true"))
		}
		if c.KafkaBatchSize < 1 || c.KafkaBatchSize > 10000 {
			errs = multierror.Append(errs, fmt.Errorf("KAFKA_BATCH_SIZE must be between 1 and 10000, got %d", c.KafkaBatchSize))
		}
	}

	return errs.ErrorOrNil()
}

func validMonth(m string) bool {
	for _, v := range Months {
		if v == m {
			return true
		}
	}
	return false
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseInt(key, def string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(sharedcfg.EnvOrDefault(key, def)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseFloat(key, def string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(sharedcfg.EnvOrDefault(key, def)), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func parseBool(key, def string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(sharedcfg.EnvOrDefault(key, def)))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
