// Package config provides configuration loading and management for the
// circulation server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// SourceTypeHTTP is the type for collections synced from a vendor
	// HTTP change-feed endpoint.
	SourceTypeHTTP = "http"

	// SourceTypeFile is the type for collections synced from a local
	// feed file (development and tests).
	SourceTypeFile = "file"
)

// Defaults applied when the corresponding setting is absent.
const (
	DefaultLoanPeriod        = 21 * 24 * time.Hour
	DefaultReservationWindow = 3 * 24 * time.Hour
	DefaultCoverageAttempts  = 3
	DefaultCoverageBatchSize = 100
	DefaultPageLimit         = 50
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Collections are the vendor collections this server synchronizes.
	Collections []CollectionConfig `yaml:"collections"`

	// Circulation holds the global circulation policy; collections may
	// override individual values.
	Circulation CirculationConfig `yaml:"circulation,omitempty"`

	// Retry bounds retries of transient vendor failures.
	Retry *RetryConfig `yaml:"retry,omitempty"`

	// Coverage configures the coverage providers.
	Coverage CoverageConfig `yaml:"coverage,omitempty"`

	// Reaper configures the loan/hold expiration sweep.
	Reaper ReaperConfig `yaml:"reaper,omitempty"`

	// Database is required for Postgres-backed persistence. When absent
	// the server runs with in-memory stores.
	Database *DatabaseConfig `yaml:"database,omitempty"`

	// Metrics configures metric collection.
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// MetricsConfig configures metric collection.
type MetricsConfig struct {
	// Enabled turns on the Prometheus scrape endpoint.
	Enabled bool `yaml:"enabled,omitempty"`
}

// CollectionConfig defines a single vendor collection.
type CollectionConfig struct {
	// Name is the identifier for this collection.
	Name string `yaml:"name"`

	// Type-specific source configurations (only one should be set).
	HTTP *HTTPSourceConfig `yaml:"http,omitempty"`
	File *FileSourceConfig `yaml:"file,omitempty"`

	// Sync is the per-collection sync policy.
	Sync *SyncPolicyConfig `yaml:"sync,omitempty"`

	// Circulation overrides the global circulation policy.
	Circulation *CirculationConfig `yaml:"circulation,omitempty"`
}

// HTTPSourceConfig defines an HTTP change-feed source.
type HTTPSourceConfig struct {
	// Endpoint is the base URL of the vendor feed (without path).
	Endpoint string `yaml:"endpoint"`

	// PageSize is the number of items requested per page.
	PageSize int `yaml:"pageSize,omitempty"`
}

// FileSourceConfig defines a local feed-file source.
type FileSourceConfig struct {
	// Path is the path to the YAML feed file.
	Path string `yaml:"path"`

	// PageSize is the number of items returned per page.
	PageSize int `yaml:"pageSize,omitempty"`
}

// SyncPolicyConfig defines how a collection is synchronized.
type SyncPolicyConfig struct {
	// Schedule is the sync interval (e.g. "15m", "1h").
	Schedule string `yaml:"schedule,omitempty"`

	// PageLimit caps the number of feed pages consumed per run.
	PageLimit int `yaml:"pageLimit,omitempty"`

	// FailFast stops a run at the first failing batch instead of
	// counting per-item failures and continuing.
	FailFast bool `yaml:"failFast,omitempty"`
}

// CirculationConfig holds loan and hold policy values.
type CirculationConfig struct {
	// LoanPeriod is how long a loan lasts (e.g. "504h" for 21 days).
	LoanPeriod string `yaml:"loanPeriod,omitempty"`

	// ReservationWindow is how long a promoted hold stays reserved
	// before it is cancelled (e.g. "72h").
	ReservationWindow string `yaml:"reservationWindow,omitempty"`
}

// RetryConfig bounds retries of transient vendor failures.
type RetryConfig struct {
	MaxAttempts     uint   `yaml:"maxAttempts,omitempty"`
	InitialInterval string `yaml:"initialInterval,omitempty"`
	MaxInterval     string `yaml:"maxInterval,omitempty"`
}

// CoverageConfig configures coverage providers.
type CoverageConfig struct {
	// Types are the coverage types every identifier must reach.
	Types []string `yaml:"types,omitempty"`

	// Endpoint is the base URL of the metadata lookup service that
	// produces coverage. Required when any types are configured.
	Endpoint string `yaml:"endpoint,omitempty"`

	// MaxAttempts bounds transient-failure retries per record.
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// BatchSize bounds the selection size per run.
	BatchSize int `yaml:"batchSize,omitempty"`

	// Schedule is the provider run interval (e.g. "5m").
	Schedule string `yaml:"schedule,omitempty"`
}

// ReaperConfig configures the expiration sweep.
type ReaperConfig struct {
	// Schedule is the sweep interval (e.g. "1m").
	Schedule string `yaml:"schedule,omitempty"`

	// Parallelism caps the number of pools reaped concurrently.
	Parallelism int `yaml:"parallelism,omitempty"`
}

// DatabaseConfig defines the Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslMode,omitempty"`

	// Password lookup, in priority order: file, environment variable,
	// inline value.
	PasswordFile string `yaml:"passwordFile,omitempty"`
	PasswordEnv  string `yaml:"passwordEnv,omitempty"`
	Password     string `yaml:"password,omitempty"`

	MaxConns int `yaml:"maxConns,omitempty"`
}

// GetPassword resolves the database password using the configured
// priority order (file -> env -> inline).
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		data, err := os.ReadFile(d.PasswordFile)
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if d.PasswordEnv != "" {
		value, ok := os.LookupEnv(d.PasswordEnv)
		if !ok {
			return "", fmt.Errorf("password environment variable %s is not set", d.PasswordEnv)
		}
		return value, nil
	}
	return d.Password, nil
}

// LoadConfig loads and validates configuration using the provided options.
func LoadConfig(opts ...Option) (*Config, error) {
	loader := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loader); err != nil {
			return nil, err
		}
	}
	if loader.path == "" {
		return nil, fmt.Errorf("no configuration source provided")
	}

	data, err := os.ReadFile(loader.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate the config
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if len(c.Collections) == 0 {
		return fmt.Errorf("at least one collection must be configured")
	}

	seen := make(map[string]bool)
	for i := range c.Collections {
		coll := &c.Collections[i]
		prefix := fmt.Sprintf("collections[%d]", i)

		if coll.Name == "" {
			return fmt.Errorf("%s: name is required", prefix)
		}
		if seen[coll.Name] {
			return fmt.Errorf("%s: duplicate collection name %q", prefix, coll.Name)
		}
		seen[coll.Name] = true

		if err := validateSourceConfig(coll, prefix); err != nil {
			return err
		}
		if err := validateSyncPolicy(coll.Sync, prefix); err != nil {
			return err
		}
		if err := validateCirculation(coll.Circulation, prefix); err != nil {
			return err
		}
	}

	if err := validateCirculation(&c.Circulation, "circulation"); err != nil {
		return err
	}
	if err := validateRetry(c.Retry); err != nil {
		return err
	}
	if c.Coverage.Schedule != "" {
		if _, err := time.ParseDuration(c.Coverage.Schedule); err != nil {
			return fmt.Errorf("coverage: invalid schedule: %w", err)
		}
	}
	if len(c.Coverage.Types) > 0 && c.Coverage.Endpoint == "" {
		return fmt.Errorf("coverage: endpoint is required when coverage types are configured")
	}
	if c.Reaper.Schedule != "" {
		if _, err := time.ParseDuration(c.Reaper.Schedule); err != nil {
			return fmt.Errorf("reaper: invalid schedule: %w", err)
		}
	}
	return nil
}

func validateSourceConfig(coll *CollectionConfig, prefix string) error {
	count := 0
	if coll.HTTP != nil {
		count++
		if coll.HTTP.Endpoint == "" {
			return fmt.Errorf("%s: http.endpoint is required", prefix)
		}
	}
	if coll.File != nil {
		count++
		if coll.File.Path == "" {
			return fmt.Errorf("%s: file.path is required", prefix)
		}
	}
	if count != 1 {
		return fmt.Errorf("%s: exactly one source type (http or file) must be configured", prefix)
	}
	return nil
}

func validateSyncPolicy(policy *SyncPolicyConfig, prefix string) error {
	if policy == nil {
		return nil
	}
	if policy.Schedule != "" {
		if _, err := time.ParseDuration(policy.Schedule); err != nil {
			return fmt.Errorf("%s: invalid sync schedule: %w", prefix, err)
		}
	}
	if policy.PageLimit < 0 {
		return fmt.Errorf("%s: pageLimit must not be negative", prefix)
	}
	return nil
}

func validateCirculation(circ *CirculationConfig, prefix string) error {
	if circ == nil {
		return nil
	}
	if circ.LoanPeriod != "" {
		d, err := time.ParseDuration(circ.LoanPeriod)
		if err != nil {
			return fmt.Errorf("%s: invalid loanPeriod: %w", prefix, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s: loanPeriod must be positive", prefix)
		}
	}
	if circ.ReservationWindow != "" {
		d, err := time.ParseDuration(circ.ReservationWindow)
		if err != nil {
			return fmt.Errorf("%s: invalid reservationWindow: %w", prefix, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s: reservationWindow must be positive", prefix)
		}
	}
	return nil
}

func validateRetry(retry *RetryConfig) error {
	if retry == nil {
		return nil
	}
	if retry.InitialInterval != "" {
		if _, err := time.ParseDuration(retry.InitialInterval); err != nil {
			return fmt.Errorf("retry: invalid initialInterval: %w", err)
		}
	}
	if retry.MaxInterval != "" {
		if _, err := time.ParseDuration(retry.MaxInterval); err != nil {
			return fmt.Errorf("retry: invalid maxInterval: %w", err)
		}
	}
	return nil
}

// GetType returns the source type of the collection.
func (c *CollectionConfig) GetType() string {
	switch {
	case c.HTTP != nil:
		return SourceTypeHTTP
	case c.File != nil:
		return SourceTypeFile
	default:
		return ""
	}
}

// LoanPeriod returns the effective loan period for the collection,
// falling back to the global policy and then the built-in default.
func (c *CollectionConfig) LoanPeriod(global CirculationConfig) time.Duration {
	if c.Circulation != nil && c.Circulation.LoanPeriod != "" {
		if d, err := time.ParseDuration(c.Circulation.LoanPeriod); err == nil {
			return d
		}
	}
	if global.LoanPeriod != "" {
		if d, err := time.ParseDuration(global.LoanPeriod); err == nil {
			return d
		}
	}
	return DefaultLoanPeriod
}

// ReservationWindow returns the effective reservation window for the
// collection, falling back to the global policy and then the default.
func (c *CollectionConfig) ReservationWindow(global CirculationConfig) time.Duration {
	if c.Circulation != nil && c.Circulation.ReservationWindow != "" {
		if d, err := time.ParseDuration(c.Circulation.ReservationWindow); err == nil {
			return d
		}
	}
	if global.ReservationWindow != "" {
		if d, err := time.ParseDuration(global.ReservationWindow); err == nil {
			return d
		}
	}
	return DefaultReservationWindow
}
